// File: errors.go

package charon

import "errors"

// Token factory failure kinds. Verify never returns anything but one of
// these three for a structurally or cryptographically bad token; claim
// semantics are validated by the pipeline, not the factory.
var (
	ErrMalformedToken    = errors.New("charon: malformed token")
	ErrUnknownSigningKey = errors.New("charon: unknown signing key")
	ErrBadSignature      = errors.New("charon: bad signature")
)

// ErrConflict is returned by SessionStore.Upsert when the caller's
// lock_version does not match the version currently on record. The engine
// treats this as routine and retries as a previous-generation refresh; it
// is never surfaced to the pipeline caller.
var ErrConflict = errors.New("charon: conflict")

// AuthError is one of the stable, user-visible error strings the pipeline
// can attach to a RequestContext. The pipeline stores an AuthError on the
// RequestContext instead of returning a Go error: a halted context is a
// normal outcome, not an exceptional one.
type AuthError string

func (e AuthError) Error() string { return string(e) }

// Stable auth-error strings. claimNotFound builds the "claim X not found"
// family below from whichever required claim is missing.
const (
	ErrNotYetValid    AuthError = "bearer token not yet valid"
	ErrExpired        AuthError = "bearer token expired"
	ErrTypeInvalid    AuthError = "bearer token claim type invalid"
	ErrIdentityClaims AuthError = "bearer token claim sub, sid or styp not found"
	ErrSessionMissing AuthError = "session not found"
	ErrTokenStale     AuthError = "token stale"

	// ErrInvalidToken covers a token that failed TokenFactory.Verify
	// outright: malformed, unknown key, or bad signature. This has to halt
	// the context the same way every other pipeline stage does, so it gets
	// its own stable string alongside the claim-level failures above.
	ErrInvalidToken AuthError = "bearer token invalid"
)

// claimNotFound builds the "bearer token claim X not found" family of
// errors for whichever required claim is missing.
func claimNotFound(claim string) AuthError {
	return AuthError("bearer token claim " + claim + " not found")
}
