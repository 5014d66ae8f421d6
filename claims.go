// File: claims.go

package charon

// TokenKind distinguishes access from refresh tokens, carried in the "type"
// claim.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// DefaultSessionType is used whenever a caller omits the session type tag,
// both when creating a session and when a presented token's "styp" claim
// is absent.
const DefaultSessionType = "full"

// Payload is the opaque, JSON-like claim set signed into a token and
// returned by TokenFactory.Verify. It mirrors jwt.MapClaims in shape so the
// factory can pass values straight through to golang-jwt, but keeps the
// rest of the package free of a hard dependency on the JWT library's types.
type Payload map[string]any

// Required claim names. iat/nbf/exp are Unix seconds; sub/sid are the
// subject and session IDs; type/styp/jti identify the token kind, session
// namespace and refresh-token generation respectively.
const (
	claimIssuedAt  = "iat"
	claimNotBefore = "nbf"
	claimExpiresAt = "exp"
	claimIssuer    = "iss"
	claimSubject   = "sub"
	claimSessionID = "sid"
	claimType      = "type"
	claimSessType  = "styp"
	claimJTI       = "jti"
)

// Tokens is the pair emitted by the engine on a successful create, refresh,
// or previous-generation retry.
type Tokens struct {
	AccessToken     string
	RefreshToken    string
	AccessTokenExp  int64
	RefreshTokenExp int64
}
