// File: engine.go

package charon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertOptions carries the caller-supplied parameters for UpsertSession.
// When rc.Session is nil these describe a new session (login); when a
// session is already attached to rc (a refresh request that has been
// through a Pipeline first), UserID, Type and ExtraPayload are ignored
// since a rotation carries those forward from the stored session. The
// session's own recorded Transport mode never changes after creation, so
// Transport only matters on create.
type UpsertOptions struct {
	UserID       string
	Type         string
	ExtraPayload map[string]any
	Transport    TransportMode
}

// Engine is the session lifecycle state machine: it creates and rotates
// sessions, enforces the two-generation refresh-token grace window, and
// resolves optimistic-lock conflicts by treating the loser as a
// previous-generation refresh instead of surfacing a failure.
type Engine struct {
	store           SessionStore
	factory         TokenFactory
	cfg             Config
	logger          Logger
	bearerTransport SignatureTransport
	cookieTransport SignatureTransport
}

// NewEngine validates cfg and builds an Engine wired to store and factory.
func NewEngine(cfg Config, store SessionStore, factory TokenFactory, logger Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("charon: engine: store is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("charon: engine: factory is required")
	}
	if logger == nil {
		logger = defaultLogger
	}

	return &Engine{
		store:           store,
		factory:         factory,
		cfg:             cfg,
		logger:          logger,
		bearerTransport: BearerTransport{},
		cookieTransport: CookieTransport{
			AccessCookieName:  cfg.AccessCookieName,
			RefreshCookieName: cfg.RefreshCookieName,
			AccessCookieOpts:  cfg.AccessCookieOpts,
			RefreshCookieOpts: cfg.RefreshCookieOpts,
		},
	}, nil
}

func (e *Engine) transportFor(mode TransportMode) SignatureTransport {
	if mode == TransportCookie {
		return e.cookieTransport
	}
	return e.bearerTransport
}

// UpsertSession creates a session when none is attached to rc, otherwise
// rotates the attached one against the presented refresh token's iat.
func (e *Engine) UpsertSession(ctx context.Context, rc *RequestContext, opts UpsertOptions) error {
	now := time.Now().Unix()

	if rc.Session == nil {
		return e.create(ctx, rc, opts, now)
	}
	return e.rotate(ctx, rc, opts, now)
}

// create starts a fresh session with no prior refresh-token generation: a
// single current generation minted at login, with no previous generation
// to fall back to yet.
func (e *Engine) create(ctx context.Context, rc *RequestContext, opts UpsertOptions, now int64) error {
	sessionType := NormalizeType(opts.Type)
	expiresAt := now + int64(e.cfg.SessionTTL.Seconds())

	session := &Session{
		ID:                  uuid.NewString(),
		UserID:              opts.UserID,
		Type:                sessionType,
		CreatedAt:           now,
		RefreshedAt:         now,
		ExpiresAt:           expiresAt,
		RefreshTokenID:      uuid.NewString(),
		TokensFreshFrom:     now,
		PrevTokensFreshFrom: 0,
		LockVersion:         1,
		ExtraPayload:        opts.ExtraPayload,
		Transport:           opts.Transport,
	}
	session.RefreshExpiresAt = recomputeRefreshExpiry(session.ExpiresAt, now, int64(e.cfg.RefreshTokenTTL.Seconds()))

	if err := e.store.Upsert(ctx, session); err != nil {
		return fmt.Errorf("charon: engine: create session: %w", err)
	}

	return e.mintAndAttach(rc, session, now)
}

// rotate advances a session's refresh-token generation. A token from the
// current generation slides the window forward and bumps the lock
// version; a token still inside the grace window for the previous
// generation reissues a fresh pair against the current generation without
// touching the store, which is what makes retries safe; a token older
// than that is rejected as stale. A lock conflict on the slide (another
// request won the same rotation first) is resolved the same way a
// previous-generation refresh is: re-read the winner's session and
// reissue against it, rather than surfacing a failure to this caller.
func (e *Engine) rotate(ctx context.Context, rc *RequestContext, opts UpsertOptions, now int64) error {
	session := rc.Session

	iat, ok := claimInt(rc.BearerTokenPayload, claimIssuedAt)
	if !ok {
		rc.Fail(claimNotFound(claimIssuedAt))
		return nil
	}

	if session.isStale(iat) {
		rc.Fail(ErrTokenStale)
		return nil
	}

	if !session.isCurrent(iat) {
		// Still within the grace window for the previous generation:
		// reissue against the current one without touching the store.
		// Retry-safe and idempotent by construction.
		return e.mintAndAttach(rc, session, now)
	}

	// The presented token is current; slide the window forward.
	next := *session
	next.PrevTokensFreshFrom = session.TokensFreshFrom
	next.TokensFreshFrom = now
	next.RefreshedAt = now
	next.RefreshTokenID = uuid.NewString()
	next.LockVersion = session.LockVersion + 1
	next.RefreshExpiresAt = recomputeRefreshExpiry(next.ExpiresAt, now, int64(e.cfg.RefreshTokenTTL.Seconds()))

	err := e.store.Upsert(ctx, &next)
	switch {
	case errors.Is(err, ErrConflict):
		// Another rotation already won; re-read and respond exactly as a
		// previous-generation refresh would.
		fresh, getErr := e.store.Get(ctx, session.ID, session.UserID, session.Type)
		if getErr != nil {
			return fmt.Errorf("charon: engine: reload after conflict: %w", getErr)
		}
		if fresh == nil {
			rc.Fail(ErrSessionMissing)
			return nil
		}
		return e.mintAndAttach(rc, fresh, now)
	case err != nil:
		return fmt.Errorf("charon: engine: rotate session: %w", err)
	}

	return e.mintAndAttach(rc, &next, now)
}

// mintAndAttach signs a fresh access/refresh pair for session's current
// generation and attaches both the session and the tokens to rc via
// whichever SignatureTransport the session was created with.
func (e *Engine) mintAndAttach(rc *RequestContext, session *Session, now int64) error {
	tokens, err := e.mintTokens(session, now)
	if err != nil {
		return fmt.Errorf("charon: engine: mint tokens: %w", err)
	}

	rc.Session = session
	rc.UserID = session.UserID
	transport := e.transportFor(session.Transport)
	transport.Attach(rc, tokens, time.Unix(tokens.AccessTokenExp, 0), time.Unix(tokens.RefreshTokenExp, 0))
	return nil
}

// mintTokens signs the refresh token against the session's current
// generation (jti=RefreshTokenID, iat=TokensFreshFrom, not wall-clock
// "now", so that a grace-window reissue carries the same iat the
// original current token had) and signs an access token with a fresh
// iat/exp, with the session's extra claims merged in.
func (e *Engine) mintTokens(session *Session, now int64) (*Tokens, error) {
	styp := session.sessionType()

	refreshPayload := Payload{
		claimSubject:   session.UserID,
		claimSessionID: session.ID,
		claimJTI:       session.RefreshTokenID,
		claimType:      string(RefreshToken),
		claimSessType:  styp,
		claimIssuedAt:  session.TokensFreshFrom,
		claimNotBefore: session.TokensFreshFrom,
		claimExpiresAt: session.RefreshExpiresAt,
		claimIssuer:    e.cfg.TokenIssuer,
	}
	refreshToken, err := e.factory.Sign(refreshPayload)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	accessExp := now + int64(e.cfg.AccessTokenTTL.Seconds())
	if accessExp > session.RefreshExpiresAt {
		accessExp = session.RefreshExpiresAt
	}

	accessPayload := Payload{
		claimSubject:   session.UserID,
		claimSessionID: session.ID,
		claimJTI:       session.RefreshTokenID,
		claimType:      string(AccessToken),
		claimSessType:  styp,
		claimIssuedAt:  now,
		claimNotBefore: now,
		claimExpiresAt: accessExp,
		claimIssuer:    e.cfg.TokenIssuer,
	}
	for k, v := range session.ExtraPayload {
		accessPayload[k] = v
	}

	accessToken, err := e.factory.Sign(accessPayload)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	return &Tokens{
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		AccessTokenExp:  accessExp,
		RefreshTokenExp: session.RefreshExpiresAt,
	}, nil
}

// Logout deletes the session and clears its transport's cookies. A no-op
// if rc carries no session.
func (e *Engine) Logout(ctx context.Context, rc *RequestContext) error {
	if rc.Session == nil {
		return nil
	}

	if err := e.store.Delete(ctx, rc.Session.ID, rc.Session.UserID, rc.Session.Type); err != nil {
		return fmt.Errorf("charon: engine: logout: %w", err)
	}

	e.transportFor(rc.Session.Transport).ClearCookies(rc)
	rc.Session = nil
	rc.Tokens = nil
	return nil
}
