// File: store.go

package charon

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// PruneCooldown is the minimum interval between opportunistic prune cycles
// for a given (user_id, type): at most one prune per hour per partition.
const PruneCooldown = time.Hour

// SessionStore is the persistence contract. Implementations key records by
// (user_id, type, session_id), enforce an optimistic-lock protocol on
// Upsert, and maintain the shared per-user expiration bookkeeping that lets
// a user's whole session partition self-destruct once its last session
// lapses.
type SessionStore interface {
	// Get returns the session, or (nil, nil) if absent, expired, or if its
	// at-rest integrity check fails.
	Get(ctx context.Context, sessionID, userID, sessionType string) (*Session, error)

	// Upsert checks the caller's lock version against the one on record,
	// no-ops on an already-expired refresh window, then atomically writes
	// the session blob, expiration score, and lock version, raising the
	// shared TTL to the new maximum. Returns ErrConflict if
	// session.LockVersion-1 does not match the stored lock_version.
	Upsert(ctx context.Context, session *Session) error

	// Delete removes sessionID from all three backing collections
	// atomically and recomputes the shared TTL from the remaining maximum
	// score.
	Delete(ctx context.Context, sessionID, userID, sessionType string) error

	GetAll(ctx context.Context, userID, sessionType string) ([]*Session, error)
	DeleteAll(ctx context.Context, userID, sessionType string) error
}

// storeKeys returns the four backing-collection key names for a given
// (user_id, type) pair: "<prefix>.s.<uid>.<type>" (sessions), ".e."
// (expiration set), ".l." (lock map), ".pl." (prune lock).
func storeKeys(prefix, userID, sessionType string) (sessionsKey, expKey, lockKey, pruneKey string) {
	if sessionType == "" {
		sessionType = DefaultSessionType
	}
	base := userID + "." + sessionType
	return prefix + ".s." + base,
		prefix + ".e." + base,
		prefix + ".l." + base,
		prefix + ".pl." + base
}

// SealSession serializes a session to JSON and prefixes it with an
// HMAC-SHA256 over those bytes, so a store backend that is compromised or
// corrupted at rest cannot inject or silently mutate a session. Exported so
// out-of-package backends (e.g. sqlstore) honor the same at-rest protocol
// as the backends in this package.
func SealSession(key []byte, s *Session) ([]byte, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("charon: store: marshal session: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	sum := mac.Sum(nil)
	return append(sum, body...), nil
}

// OpenSession reverses SealSession, verifying the HMAC prefix and that the
// decoded session's user_id/type match what the caller asked for (this
// guards against key collisions and stale reads). A failure at any step is
// reported via ok=false, never as an error: callers treat a failed
// integrity check exactly like a missing session, but log it.
func OpenSession(key []byte, sealed []byte, expectUserID, expectType string, logger Logger) (s *Session, ok bool) {
	const macLen = sha256.Size
	if len(sealed) < macLen {
		logger.Errorf("charon: store: sealed session too short (%d bytes)", len(sealed))
		return nil, false
	}
	gotMAC, body := sealed[:macLen], sealed[macLen:]

	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	wantMAC := mac.Sum(nil)
	if !hmac.Equal(gotMAC, wantMAC) {
		logger.Errorf("charon: store: session HMAC mismatch for user=%s type=%s", expectUserID, expectType)
		return nil, false
	}

	var sess Session
	if err := json.Unmarshal(body, &sess); err != nil {
		logger.Errorf("charon: store: unmarshal session: %v", err)
		return nil, false
	}

	if sess.UserID != expectUserID || sess.sessionType() != NormalizeType(expectType) {
		logger.Errorf("charon: store: session identity mismatch (got user=%s type=%s, want user=%s type=%s)",
			sess.UserID, sess.Type, expectUserID, expectType)
		return nil, false
	}

	return &sess, true
}

func NormalizeType(t string) string {
	if t == "" {
		return DefaultSessionType
	}
	return t
}
