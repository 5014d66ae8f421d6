// File: store_test.go

package charon

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// storeFactory builds a fresh SessionStore, registering any teardown with
// t.Cleanup, so every store-conformance test below runs against both
// backends unmodified.
type storeFactory func(t *testing.T) SessionStore

func testKey() KeyGetter {
	return func() ([]byte, error) { return []byte("at-rest-test-key-32-bytes-long!!"), nil }
}

func storeFactories(t *testing.T) map[string]storeFactory {
	return map[string]storeFactory{
		"Memory": func(t *testing.T) SessionStore {
			return NewMemorySessionStore(testKey(), nil)
		},
		"Redis": func(t *testing.T) SessionStore {
			mr, err := miniredis.Run()
			require.NoError(t, err)
			t.Cleanup(mr.Close)

			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })

			store, err := NewRedisSessionStore(client, "charontest", testKey(), nil)
			require.NoError(t, err)
			return store
		},
	}
}

func newTestSession(userID, sid string, now int64) *Session {
	return &Session{
		ID:                  sid,
		UserID:              userID,
		Type:                DefaultSessionType,
		CreatedAt:           now,
		RefreshedAt:         now,
		ExpiresAt:           now + 1000,
		RefreshExpiresAt:    now + 500,
		RefreshTokenID:      "rt-1",
		TokensFreshFrom:     now,
		PrevTokensFreshFrom: 0,
		LockVersion:         1,
	}
}

func TestSessionStore_UpsertAndGet(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			now := time.Now().Unix()

			sess := newTestSession("u1", "s1", now)
			require.NoError(t, store.Upsert(ctx, sess))

			got, err := store.Get(ctx, "s1", "u1", DefaultSessionType)
			require.NoError(t, err)
			require.NotNil(t, got)
			require.Equal(t, sess.RefreshTokenID, got.RefreshTokenID)
			require.Equal(t, sess.LockVersion, got.LockVersion)
		})
	}
}

func TestSessionStore_UpsertConflict(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			now := time.Now().Unix()

			sess := newTestSession("u1", "s1", now)
			require.NoError(t, store.Upsert(ctx, sess))

			stale := *sess
			stale.LockVersion = 2
			require.NoError(t, store.Upsert(ctx, &stale))

			// Re-attempting with the same stale predecessor version must
			// now conflict.
			again := *sess
			again.LockVersion = 2
			err := store.Upsert(ctx, &again)
			require.ErrorIs(t, err, ErrConflict)
		})
	}
}

func TestSessionStore_GetReturnsNilAcrossUserMismatch(t *testing.T) {
	// A session created for user A is invisible under a different
	// user_id even with the same session id.
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			now := time.Now().Unix()

			sess := newTestSession("userA", "collide", now)
			require.NoError(t, store.Upsert(ctx, sess))

			got, err := store.Get(ctx, "collide", "userB", DefaultSessionType)
			require.NoError(t, err)
			require.Nil(t, got)
		})
	}
}

func TestSessionStore_DeleteThenGetReturnsNil(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			now := time.Now().Unix()

			sess := newTestSession("u1", "s1", now)
			require.NoError(t, store.Upsert(ctx, sess))
			require.NoError(t, store.Delete(ctx, "s1", "u1", DefaultSessionType))

			got, err := store.Get(ctx, "s1", "u1", DefaultSessionType)
			require.NoError(t, err)
			require.Nil(t, got)
		})
	}
}

func TestSessionStore_ExpiredRefreshWindowIsNoOp(t *testing.T) {
	// An upsert whose refresh_expires_at has already lapsed succeeds
	// without being visible to readers.
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			now := time.Now().Unix()

			sess := newTestSession("u1", "s1", now)
			sess.RefreshExpiresAt = now - 10
			require.NoError(t, store.Upsert(ctx, sess))

			got, err := store.Get(ctx, "s1", "u1", DefaultSessionType)
			require.NoError(t, err)
			require.Nil(t, got)
		})
	}
}

func TestSessionStore_GetAllAndDeleteAll(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			now := time.Now().Unix()

			require.NoError(t, store.Upsert(ctx, newTestSession("u1", "s1", now)))
			require.NoError(t, store.Upsert(ctx, newTestSession("u1", "s2", now)))

			all, err := store.GetAll(ctx, "u1", DefaultSessionType)
			require.NoError(t, err)
			require.Len(t, all, 2)

			require.NoError(t, store.DeleteAll(ctx, "u1", DefaultSessionType))
			all, err = store.GetAll(ctx, "u1", DefaultSessionType)
			require.NoError(t, err)
			require.Empty(t, all)
		})
	}
}

func TestSessionStore_AtRestTamperIsTreatedAsMissing(t *testing.T) {
	// Corrupting the HMAC-sealed blob must read back as absent, not as a
	// decode error.
	ctx := context.Background()
	now := time.Now().Unix()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store, err := NewRedisSessionStore(client, "charontest", testKey(), nil)
	require.NoError(t, err)

	sess := newTestSession("u1", "s1", now)
	require.NoError(t, store.Upsert(ctx, sess))

	sessionsKey, _, _, _ := storeKeys("charontest", "u1", DefaultSessionType)
	require.NoError(t, client.HSet(ctx, sessionsKey, "s1", "garbage-not-a-sealed-session").Err())

	got, err := store.Get(ctx, "s1", "u1", DefaultSessionType)
	require.NoError(t, err)
	require.Nil(t, got)
}

// TestSessionStore_DeleteRecomputesSharedTTL exercises deleteScript's
// recompute path directly: two sessions in the same (user_id, type)
// partition share one TTL on the sessions/expiration/lock keys, raised to
// the later of the two refresh_expires_at values. Deleting the
// later-expiring session must bring that shared TTL back down to the
// remaining session's refresh_expires_at within the same delete call, not
// just eventually via Redis's own passive expiry.
func TestSessionStore_DeleteRecomputesSharedTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Unix()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store, err := NewRedisSessionStore(client, "charontest", testKey(), nil)
	require.NoError(t, err)

	early := newTestSession("u1", "early", now)
	early.RefreshExpiresAt = now + 100
	require.NoError(t, store.Upsert(ctx, early))

	later := newTestSession("u1", "later", now)
	later.RefreshExpiresAt = now + 200
	require.NoError(t, store.Upsert(ctx, later))

	sessionsKey, expKey, lockKey, _ := storeKeys("charontest", "u1", DefaultSessionType)

	ttlBefore := mr.TTL(sessionsKey)
	require.InDelta(t, 200*time.Second, ttlBefore, float64(2*time.Second))
	require.Equal(t, ttlBefore, mr.TTL(expKey))
	require.Equal(t, ttlBefore, mr.TTL(lockKey))

	require.NoError(t, store.Delete(ctx, "later", "u1", DefaultSessionType))

	ttlAfter := mr.TTL(sessionsKey)
	require.InDelta(t, 100*time.Second, ttlAfter, float64(2*time.Second))
	require.Equal(t, ttlAfter, mr.TTL(expKey))
	require.Equal(t, ttlAfter, mr.TTL(lockKey))
	require.Less(t, ttlAfter, ttlBefore)

	got, err := store.Get(ctx, "early", "u1", DefaultSessionType)
	require.NoError(t, err)
	require.NotNil(t, got)
}
