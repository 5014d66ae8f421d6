// File: transport.go

package charon

import (
	"net/http"
	"strings"
	"time"
)

// SignatureTransport reassembles an inbound token for verification and
// attaches an outbound token pair to the context. The two implementations
// below, bearer and cookie, are the only transports supported; a session
// records which one it was created with and the engine always attaches
// tokens using that same mode.
type SignatureTransport interface {
	// Reassemble returns the full header.payload.signature token to hand to
	// the TokenFactory, or a non-nil *AuthError if the expected pieces are
	// not present on rc.
	Reassemble(rc *RequestContext) (string, *AuthError)

	// Attach records tokens onto rc in whatever shape this transport uses:
	// bearer mode leaves the full token for the host to return in a
	// response body; cookie mode also queues Set-Cookie values in
	// rc.RespCookies.
	Attach(rc *RequestContext, tokens *Tokens, accessExp, refreshExp time.Time)

	// ClearCookies queues cookie-clearing Set-Cookie values for logout.
	// A no-op in bearer mode.
	ClearCookies(rc *RequestContext)
}

// BearerTransport sends the full three-segment token in the Authorization
// header; no cookie is involved.
type BearerTransport struct{}

func (BearerTransport) Reassemble(rc *RequestContext) (string, *AuthError) {
	token, ok := bearerToken(rc.AuthorizationHeader)
	if !ok {
		return "", authErrPtr(claimNotFound("authorization"))
	}
	return token, nil
}

func (BearerTransport) Attach(rc *RequestContext, tokens *Tokens, _, _ time.Time) {
	rc.Tokens = tokens
}

func (BearerTransport) ClearCookies(*RequestContext) {}

// CookieTransport sends header.payload in Authorization and the signature
// segment in an HTTP-only cookie. AccessCookieName and RefreshCookieName
// are configurable; the cookie written depends on which token kind is
// being attached.
type CookieTransport struct {
	AccessCookieName  string
	RefreshCookieName string
	AccessCookieOpts  CookieOpts
	RefreshCookieOpts CookieOpts
	// ExpectedKind tells Reassemble which cookie to read the signature
	// from: the access pipeline reads the access-signature cookie, the
	// refresh pipeline reads the refresh one.
	ExpectedKind TokenKind
}

func (t CookieTransport) cookieName() string {
	if t.ExpectedKind == RefreshToken {
		return t.RefreshCookieName
	}
	return t.AccessCookieName
}

func (t CookieTransport) Reassemble(rc *RequestContext) (string, *AuthError) {
	headerPayload, ok := bearerToken(rc.AuthorizationHeader)
	if !ok {
		return "", authErrPtr(claimNotFound("authorization"))
	}
	if rc.SignatureCookie == "" {
		return "", authErrPtr(claimNotFound(t.cookieName()))
	}
	return headerPayload + "." + rc.SignatureCookie, nil
}

func (t CookieTransport) Attach(rc *RequestContext, tokens *Tokens, accessExp, refreshExp time.Time) {
	rc.Tokens = tokens

	if accessHP, accessSig, ok := splitToken(tokens.AccessToken); ok {
		rc.BearerToken = accessHP
		rc.setCookie(&http.Cookie{
			Name:     t.AccessCookieName,
			Value:    accessSig,
			HttpOnly: t.AccessCookieOpts.HTTPOnly,
			Secure:   t.AccessCookieOpts.Secure,
			SameSite: t.AccessCookieOpts.SameSite,
			Path:     cookiePath(t.AccessCookieOpts),
			Domain:   t.AccessCookieOpts.Domain,
			Expires:  accessExp,
		})
	}
	if _, refreshSig, ok := splitToken(tokens.RefreshToken); ok {
		rc.setCookie(&http.Cookie{
			Name:     t.RefreshCookieName,
			Value:    refreshSig,
			HttpOnly: t.RefreshCookieOpts.HTTPOnly,
			Secure:   t.RefreshCookieOpts.Secure,
			SameSite: t.RefreshCookieOpts.SameSite,
			Path:     cookiePath(t.RefreshCookieOpts),
			Domain:   t.RefreshCookieOpts.Domain,
			Expires:  refreshExp,
		})
	}
}

func (t CookieTransport) ClearCookies(rc *RequestContext) {
	for _, name := range []string{t.AccessCookieName, t.RefreshCookieName} {
		rc.setCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			HttpOnly: true,
			MaxAge:   -1,
			Path:     "/",
		})
	}
}

func cookiePath(o CookieOpts) string {
	if o.Path == "" {
		return "/"
	}
	return o.Path
}

// bearerToken strips a leading "Bearer " (case-insensitively, the way
// net/http-based middleware conventionally does) from an Authorization
// header value.
func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// splitToken separates a header.payload.signature token into its
// header.payload part and its signature part for cookie transport.
func splitToken(token string) (headerPayload, signature string, ok bool) {
	idx := strings.LastIndex(token, ".")
	if idx < 0 || idx == len(token)-1 {
		return "", "", false
	}
	return token[:idx], token[idx+1:], true
}

func authErrPtr(e AuthError) *AuthError { return &e }
