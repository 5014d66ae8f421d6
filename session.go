// File: session.go

package charon

import "math"

// Infinite is the expires_at sentinel meaning "no absolute end".
const Infinite int64 = math.MaxInt64

// Session is the persistent authentication record. It is identified by the
// triple (UserID, Type, ID); at most one such triple may exist at a time,
// enforced by the store's key layout rather than by this type.
type Session struct {
	ID     string
	UserID string
	Type   string // defaults to DefaultSessionType

	CreatedAt   int64
	RefreshedAt int64

	// ExpiresAt is epoch seconds, or Infinite.
	ExpiresAt int64

	// RefreshExpiresAt is always min(ExpiresAt, RefreshedAt + refresh_token_ttl);
	// the engine recomputes it on every window slide.
	RefreshExpiresAt int64

	// RefreshTokenID is the jti of the current refresh-token generation.
	RefreshTokenID string

	// TokensFreshFrom/PrevTokensFreshFrom delimit the two live generations.
	// PrevTokensFreshFrom of 0 means there is no prior generation yet.
	TokensFreshFrom     int64
	PrevTokensFreshFrom int64

	// LockVersion is the optimistic-concurrency counter; it strictly
	// increases on every successful upsert that actually mutates the record.
	LockVersion uint64

	ExtraPayload map[string]any

	// Transport records which SignatureTransport mode this session was
	// created with; it is fixed at creation time.
	Transport TransportMode
}

// expired reports whether the session's refresh window has lapsed as of
// now; a session in this state must be treated as deleted by readers.
func (s *Session) expired(now int64) bool {
	return s.RefreshExpiresAt < now
}

// sessionType returns s.Type, defaulting to DefaultSessionType for a
// zero-value session the same way the pipeline defaults an absent styp
// claim.
func (s *Session) sessionType() string {
	if s.Type == "" {
		return DefaultSessionType
	}
	return s.Type
}

// isCurrent reports whether a presented refresh token's iat identifies the
// current generation.
func (s *Session) isCurrent(iat int64) bool {
	return iat >= s.TokensFreshFrom
}

// isStale reports whether a presented refresh token predates the grace
// window entirely, i.e. it belongs to neither the current nor the previous
// generation.
func (s *Session) isStale(iat int64) bool {
	return iat < s.PrevTokensFreshFrom
}

// recomputeRefreshExpiry recomputes refresh_expires_at as
// min(expires_at, now + refresh_token_ttl) after a window slide.
func recomputeRefreshExpiry(expiresAt, now int64, refreshTTL int64) int64 {
	candidate := now + refreshTTL
	if expiresAt != Infinite && expiresAt < candidate {
		return expiresAt
	}
	return candidate
}
