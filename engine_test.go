// File: engine_test.go

package charon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, store SessionStore) (*Engine, *JWTFactory) {
	t.Helper()
	factory := NewJWTFactory(staticKeyGetter("signing-key"))
	cfg := DefaultConfig("charon-test", []byte("signing-key"))
	cfg.AtRestKey = testKey()
	engine, err := NewEngine(cfg, store, factory, nil)
	require.NoError(t, err)
	return engine, factory
}

// seedSession writes a session directly to store with caller-controlled
// generation boundaries, so rotation-state-machine tests don't depend on
// two engine calls landing in different wall-clock seconds.
func seedSession(t *testing.T, ctx context.Context, store SessionStore, prevFresh, curFresh int64, lockVersion uint64) *Session {
	t.Helper()
	now := time.Now().Unix()
	sess := &Session{
		ID:                  "session-1",
		UserID:              "user-1",
		Type:                DefaultSessionType,
		CreatedAt:           now - 10000,
		RefreshedAt:         now - 10000,
		ExpiresAt:           now + 1_000_000,
		RefreshTokenID:      "rt-current",
		TokensFreshFrom:     curFresh,
		PrevTokensFreshFrom: prevFresh,
		LockVersion:         lockVersion,
		Transport:           TransportBearer,
	}
	sess.RefreshExpiresAt = now + 500_000
	require.NoError(t, store.Upsert(ctx, sess))
	return sess
}

func TestEngine_CreateSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(testKey(), nil)
	engine, _ := newTestEngine(t, store)

	rc := &RequestContext{Transport: TransportBearer}
	err := engine.UpsertSession(ctx, rc, UpsertOptions{UserID: "user-1", Type: DefaultSessionType, Transport: TransportBearer})
	require.NoError(t, err)
	require.False(t, rc.Halted)
	require.NotNil(t, rc.Session)
	require.Equal(t, "user-1", rc.Session.UserID)
	require.Equal(t, uint64(1), rc.Session.LockVersion)
	require.NotNil(t, rc.Tokens)
	require.NotEmpty(t, rc.Tokens.AccessToken)
	require.NotEmpty(t, rc.Tokens.RefreshToken)
}

func TestEngine_RotateCurrentGenerationSlidesWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(testKey(), nil)
	engine, _ := newTestEngine(t, store)

	sess := seedSession(t, ctx, store, 100, 200, 5)
	rc := &RequestContext{
		Session:            sess,
		BearerTokenPayload: Payload{claimIssuedAt: sess.TokensFreshFrom},
		Transport:          TransportBearer,
	}

	require.NoError(t, engine.UpsertSession(ctx, rc, UpsertOptions{}))
	require.False(t, rc.Halted)
	require.NotEqual(t, "rt-current", rc.Session.RefreshTokenID)
	require.Equal(t, sess.TokensFreshFrom, rc.Session.PrevTokensFreshFrom)
	require.Equal(t, uint64(6), rc.Session.LockVersion)
}

func TestEngine_RotateWithinGraceWindowReissuesWithoutStoreWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(testKey(), nil)
	engine, _ := newTestEngine(t, store)

	sess := seedSession(t, ctx, store, 100, 200, 5)
	// iat lands inside [prev, cur), the previous, still-valid generation.
	rc := &RequestContext{
		Session:            sess,
		BearerTokenPayload: Payload{claimIssuedAt: int64(150)},
		Transport:          TransportBearer,
	}

	require.NoError(t, engine.UpsertSession(ctx, rc, UpsertOptions{}))
	require.False(t, rc.Halted)
	require.Equal(t, "rt-current", rc.Session.RefreshTokenID)
	require.Equal(t, uint64(5), rc.Session.LockVersion)
	require.NotNil(t, rc.Tokens)

	// The store must be untouched: lock_version on record is still 5.
	stored, err := store.Get(ctx, sess.ID, sess.UserID, sess.Type)
	require.NoError(t, err)
	require.Equal(t, uint64(5), stored.LockVersion)
}

func TestEngine_RotateStaleTokenFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(testKey(), nil)
	engine, _ := newTestEngine(t, store)

	sess := seedSession(t, ctx, store, 100, 200, 5)
	rc := &RequestContext{
		Session:            sess,
		BearerTokenPayload: Payload{claimIssuedAt: int64(50)},
		Transport:          TransportBearer,
	}

	require.NoError(t, engine.UpsertSession(ctx, rc, UpsertOptions{}))
	require.True(t, rc.Halted)
	require.Equal(t, ErrTokenStale, *rc.AuthError)
}

func TestEngine_ConcurrentRotationConflictResolvesAsPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(testKey(), nil)
	engine, _ := newTestEngine(t, store)

	sess := seedSession(t, ctx, store, 100, 200, 5)

	// Two callers hold the same snapshot and both present the current
	// generation's refresh token concurrently.
	rcA := &RequestContext{Session: sess, BearerTokenPayload: Payload{claimIssuedAt: sess.TokensFreshFrom}, Transport: TransportBearer}
	rcB := &RequestContext{Session: sess, BearerTokenPayload: Payload{claimIssuedAt: sess.TokensFreshFrom}, Transport: TransportBearer}

	require.NoError(t, engine.UpsertSession(ctx, rcA, UpsertOptions{}))
	require.False(t, rcA.Halted)

	// rcB's in-hand session is now stale relative to the store, so its
	// Upsert loses the optimistic lock and must fall back to re-reading
	// and reissuing against the generation rcA just wrote, not an error.
	require.NoError(t, engine.UpsertSession(ctx, rcB, UpsertOptions{}))
	require.False(t, rcB.Halted)
	require.Equal(t, rcA.Session.RefreshTokenID, rcB.Session.RefreshTokenID)
	require.Equal(t, rcA.Session.LockVersion, rcB.Session.LockVersion)
}

func TestEngine_Logout(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(testKey(), nil)
	engine, _ := newTestEngine(t, store)

	rc := &RequestContext{Transport: TransportBearer}
	require.NoError(t, engine.UpsertSession(ctx, rc, UpsertOptions{UserID: "user-1", Transport: TransportBearer}))
	sessionID := rc.Session.ID

	require.NoError(t, engine.Logout(ctx, rc))
	require.Nil(t, rc.Session)
	require.Nil(t, rc.Tokens)

	got, err := store.Get(ctx, sessionID, "user-1", DefaultSessionType)
	require.NoError(t, err)
	require.Nil(t, got)
}
