// File: reqcontext.go

package charon

import "net/http"

// TransportMode selects how a token's signature reaches the server.
type TransportMode string

const (
	TransportBearer TransportMode = "bearer"
	TransportCookie TransportMode = "cookie"
)

// RequestContext is the value bag the Engine and Pipeline read and write.
// How it is populated from an inbound request, and how resp_cookies get
// flushed to an outbound response, is the host framework's concern; charon
// only reads and writes the fields below.
//
// Inbound is filled in by the host before the context reaches the
// pipeline; the rest is filled in by the pipeline and engine as processing
// proceeds.
type RequestContext struct {
	// --- inbound, set by the host adapter before Process/UpsertSession ---

	// AuthorizationHeader is the raw "Authorization" header value, e.g.
	// "Bearer <header.payload>" or "Bearer <header.payload.signature>".
	AuthorizationHeader string

	// SignatureCookie is the value of whichever access/refresh signature
	// cookie applies to the token kind being processed, when Transport is
	// TransportCookie. Left empty in bearer mode.
	SignatureCookie string

	// Transport is which signature transport to expect when reassembling
	// the inbound token. It is not necessarily the same as the transport
	// recorded on an existing Session: a login request has no session yet
	// and must declare which mode the caller wants.
	Transport TransportMode

	// --- populated by the pipeline / engine ---

	UserID             string
	Session            *Session
	Tokens             *Tokens
	BearerTokenPayload Payload
	BearerToken        string

	AuthError *AuthError
	Halted    bool

	// RespCookies accumulates Set-Cookie values the host should write to
	// the outbound response (populated by CookieTransport.Attach and by
	// Logout when clearing cookies).
	RespCookies map[string]*http.Cookie
}

// Fail halts the context with the given auth error: a single human-readable
// error string stored on the context, with the context also marked halted.
func (rc *RequestContext) Fail(err AuthError) {
	rc.AuthError = &err
	rc.Halted = true
}

// setCookie records a cookie to be written to the outbound response.
func (rc *RequestContext) setCookie(c *http.Cookie) {
	if rc.RespCookies == nil {
		rc.RespCookies = make(map[string]*http.Cookie)
	}
	rc.RespCookies[c.Name] = c
}
