// File: store_memory.go

package charon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memoryBucket holds the three collections for one (user_id, type) pair,
// mirroring the three Redis structures in store_redis.go so both backends
// honor the exact same protocol.
type memoryBucket struct {
	sessions map[string][]byte // sid -> sealed blob
	expiry   map[string]int64  // sid -> refresh_expires_at
	locks    map[string]uint64 // sid -> lock_version
	prunedAt time.Time
}

// MemorySessionStore is a process-local SessionStore: a mutex-guarded map
// keyed by namespace, suited to development, tests, and single-instance
// deployments. It has no background cleanup goroutine; pruning is invoked
// opportunistically from Upsert instead.
type MemorySessionStore struct {
	mu        sync.Mutex
	buckets   map[string]*memoryBucket
	atRestKey KeyGetter
	logger    Logger
}

// NewMemorySessionStore builds an in-memory SessionStore.
func NewMemorySessionStore(atRestKey KeyGetter, logger Logger) *MemorySessionStore {
	if logger == nil {
		logger = defaultLogger
	}
	return &MemorySessionStore{
		buckets:   make(map[string]*memoryBucket),
		atRestKey: atRestKey,
		logger:    logger,
	}
}

func bucketKey(userID, sessionType string) string {
	return userID + "\x00" + NormalizeType(sessionType)
}

func (s *MemorySessionStore) bucket(userID, sessionType string) *memoryBucket {
	k := bucketKey(userID, sessionType)
	b, ok := s.buckets[k]
	if !ok {
		b = &memoryBucket{
			sessions: make(map[string][]byte),
			expiry:   make(map[string]int64),
			locks:    make(map[string]uint64),
		}
		s.buckets[k] = b
	}
	return b
}

func (s *MemorySessionStore) Get(_ context.Context, sessionID, userID, sessionType string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucketKey(userID, sessionType)]
	if !ok {
		return nil, nil
	}
	blob, ok := b.sessions[sessionID]
	if !ok {
		return nil, nil
	}

	key, err := s.atRestKey()
	if err != nil {
		return nil, fmt.Errorf("charon: store: resolve at-rest key: %w", err)
	}
	sess, ok := OpenSession(key, blob, userID, sessionType, s.logger)
	if !ok || sess.expired(nowUnix()) {
		return nil, nil
	}
	return sess, nil
}

func (s *MemorySessionStore) Upsert(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucket(session.UserID, session.Type)

	if cur, exists := b.locks[session.ID]; exists && cur != session.LockVersion-1 {
		return ErrConflict
	}

	now := nowUnix()
	if session.RefreshExpiresAt < now {
		return nil
	}

	key, err := s.atRestKey()
	if err != nil {
		return fmt.Errorf("charon: store: resolve at-rest key: %w", err)
	}
	blob, err := SealSession(key, session)
	if err != nil {
		return err
	}

	b.sessions[session.ID] = blob
	b.expiry[session.ID] = session.RefreshExpiresAt
	b.locks[session.ID] = session.LockVersion

	s.pruneLocked(b)
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, sessionID, userID, sessionType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucketKey(userID, sessionType)]
	if !ok {
		return nil
	}
	delete(b.sessions, sessionID)
	delete(b.expiry, sessionID)
	delete(b.locks, sessionID)

	if len(b.sessions) == 0 {
		delete(s.buckets, bucketKey(userID, sessionType))
	}
	return nil
}

func (s *MemorySessionStore) GetAll(_ context.Context, userID, sessionType string) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucketKey(userID, sessionType)]
	if !ok {
		return nil, nil
	}

	key, err := s.atRestKey()
	if err != nil {
		return nil, fmt.Errorf("charon: store: resolve at-rest key: %w", err)
	}

	now := nowUnix()
	ids := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, ok := OpenSession(key, b.sessions[id], userID, sessionType, s.logger)
		if !ok || sess.expired(now) {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *MemorySessionStore) DeleteAll(_ context.Context, userID, sessionType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, bucketKey(userID, sessionType))
	return nil
}

// pruneLocked does a cooldown-gated scan of the expiration map for the
// in-memory backend, called with s.mu already held.
func (s *MemorySessionStore) pruneLocked(b *memoryBucket) {
	now := time.Now()
	if now.Sub(b.prunedAt) < PruneCooldown {
		return // skipped: cooldown active
	}
	b.prunedAt = now

	cutoff := now.Unix()
	for id, exp := range b.expiry {
		if exp < cutoff {
			delete(b.sessions, id)
			delete(b.expiry, id)
			delete(b.locks, id)
		}
	}
}
