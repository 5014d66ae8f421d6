// File: pipeline.go

package charon

import (
	"context"
	"encoding/json"
	"fmt"
)

// Pipeline validates an inbound bearer token and resolves its session.
// Each stage may halt the context by calling rc.Fail; the pipeline never
// returns a Go error for a normal auth failure, only for backend I/O
// problems surfaced by the store.
type Pipeline struct {
	Factory      TokenFactory
	Store        SessionStore
	Transport    SignatureTransport
	ExpectedKind TokenKind
}

// NewPipeline builds a Pipeline for one token kind. Hosts typically keep
// two: one expecting AccessToken for protected routes, one expecting
// RefreshToken for the refresh/logout endpoints.
func NewPipeline(factory TokenFactory, store SessionStore, transport SignatureTransport, expectedKind TokenKind) *Pipeline {
	return &Pipeline{Factory: factory, Store: store, Transport: transport, ExpectedKind: expectedKind}
}

// Process runs the validation stages below against rc in order, halting at
// the first failure. It is safe to call from multiple goroutines.
func (p *Pipeline) Process(ctx context.Context, rc *RequestContext) error {
	// Stage 1: reassemble.
	token, authErr := p.Transport.Reassemble(rc)
	if authErr != nil {
		rc.Fail(*authErr)
		return nil
	}

	// Stage 2: verify signature.
	payload, err := p.Factory.Verify(token)
	if err != nil {
		rc.Fail(ErrInvalidToken)
		return nil
	}
	rc.BearerToken = token
	rc.BearerTokenPayload = payload

	// Stage 3: temporal claims.
	now := nowUnix()
	nbf, ok := claimInt(payload, claimNotBefore)
	if !ok {
		rc.Fail(claimNotFound(claimNotBefore))
		return nil
	}
	if nbf > now {
		rc.Fail(ErrNotYetValid)
		return nil
	}
	exp, ok := claimInt(payload, claimExpiresAt)
	if !ok {
		rc.Fail(claimNotFound(claimExpiresAt))
		return nil
	}
	if exp < now {
		rc.Fail(ErrExpired)
		return nil
	}

	// Stage 4: kind.
	kind, ok := claimStr(payload, claimType)
	if !ok {
		rc.Fail(claimNotFound(claimType))
		return nil
	}
	if TokenKind(kind) != p.ExpectedKind {
		rc.Fail(ErrTypeInvalid)
		return nil
	}

	// Stage 5: identity claims.
	sub, subOK := claimStr(payload, claimSubject)
	sid, sidOK := claimStr(payload, claimSessionID)
	if !subOK || !sidOK {
		rc.Fail(ErrIdentityClaims)
		return nil
	}
	styp, stypOK := claimStr(payload, claimSessType)
	if !stypOK {
		styp = DefaultSessionType
	}

	// Stage 6: load session.
	session, err := p.Store.Get(ctx, sid, sub, styp)
	if err != nil {
		return fmt.Errorf("charon: pipeline: load session: %w", err)
	}
	if session == nil {
		rc.Fail(ErrSessionMissing)
		return nil
	}

	// Stage 7: attach.
	rc.UserID = sub
	rc.Session = session
	return nil
}

// claimStr reads a string-valued claim out of a Payload.
func claimStr(p Payload, key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// claimInt reads a numeric claim (seconds since epoch) out of a Payload.
// golang-jwt decodes numeric claims as float64 via encoding/json, so that
// is the primary case; an int64/int is accepted too for payloads built
// in-process (e.g. by the engine before signing).
func claimInt(p Payload, key string) (int64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
