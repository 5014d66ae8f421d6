// File: sqlstore.go

// Package sqlstore implements charon's SessionStore contract over
// PostgreSQL, for hosts that already run Postgres and don't want a Redis
// dependency. It talks to the database directly through sqlx rather than
// through an ORM, matching the rest of this module's style.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/suleymanmyradov/charon"
)

// Schema is the DDL for the single backing table. Hosts run this themselves
// (or their own migration tool) before constructing a Store; charon does not
// manage schema migrations.
const Schema = `
CREATE TABLE IF NOT EXISTS charon_sessions (
	id                     TEXT NOT NULL,
	user_id                TEXT NOT NULL,
	type                   TEXT NOT NULL,
	created_at             BIGINT NOT NULL,
	refreshed_at           BIGINT NOT NULL,
	expires_at             BIGINT NOT NULL,
	refresh_expires_at     BIGINT NOT NULL,
	refresh_token_id       TEXT NOT NULL,
	tokens_fresh_from      BIGINT NOT NULL,
	prev_tokens_fresh_from BIGINT NOT NULL,
	lock_version           BIGINT NOT NULL,
	transport              TEXT NOT NULL DEFAULT '',
	sealed                 BYTEA NOT NULL,
	pruned_at              BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, type, id)
);
CREATE INDEX IF NOT EXISTS charon_sessions_expiry_idx
	ON charon_sessions (user_id, type, refresh_expires_at);
`

// row mirrors one charon_sessions record. Only the columns the store's own
// queries need are unmarshaled into Go fields; the session itself travels
// sealed in the "sealed" column, the same at-rest protocol the Redis and
// in-memory backends use.
type row struct {
	ID          string `db:"id"`
	UserID      string `db:"user_id"`
	Type        string `db:"type"`
	LockVersion uint64 `db:"lock_version"`
	Sealed      []byte `db:"sealed"`
}

// Store implements charon.SessionStore over a single Postgres table via
// sqlx. The optimistic lock is enforced with a conditional UPDATE whose
// RowsAffected distinguishes a win from a conflict, the SQL analogue of the
// Redis backend's Lua lock check.
type Store struct {
	db        *sqlx.DB
	atRestKey charon.KeyGetter
	logger    charon.Logger
}

// New builds a Store. Schema must already exist (see Schema).
func New(db *sqlx.DB, atRestKey charon.KeyGetter, logger charon.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("charon: sqlstore: db cannot be nil")
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Store{db: db, atRestKey: atRestKey, logger: logger}, nil
}

func (s *Store) Get(ctx context.Context, sessionID, userID, sessionType string) (*charon.Session, error) {
	sessionType = charon.NormalizeType(sessionType)

	var r row
	err := s.db.GetContext(ctx, &r, `
		SELECT id, user_id, type, lock_version, sealed
		FROM charon_sessions
		WHERE user_id = $1 AND type = $2 AND id = $3 AND refresh_expires_at >= $4
	`, userID, sessionType, sessionID, nowUnix())
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("charon: sqlstore: get: %w", err)
	}

	key, err := s.atRestKey()
	if err != nil {
		return nil, fmt.Errorf("charon: sqlstore: resolve at-rest key: %w", err)
	}
	sess, ok := charon.OpenSession(key, r.Sealed, userID, sessionType, s.logger)
	if !ok {
		return nil, nil
	}
	return sess, nil
}

// Upsert does a SELECT ... FOR UPDATE on the target row to get a consistent
// view of lock_version, then either inserts (no row yet) or issues a
// conditional UPDATE that re-checks lock_version in its WHERE clause, so a
// losing writer's UPDATE affects zero rows instead of overwriting a newer
// record.
func (s *Store) Upsert(ctx context.Context, session *charon.Session) error {
	now := nowUnix()
	if session.RefreshExpiresAt < now {
		return nil
	}

	key, err := s.atRestKey()
	if err != nil {
		return fmt.Errorf("charon: sqlstore: resolve at-rest key: %w", err)
	}
	sealed, err := charon.SealSession(key, session)
	if err != nil {
		return err
	}

	sessionType := charon.NormalizeType(session.Type)
	expectedPrev := session.LockVersion - 1

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("charon: sqlstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existing uint64
	err = tx.GetContext(ctx, &existing, `
		SELECT lock_version FROM charon_sessions
		WHERE user_id = $1 AND type = $2 AND id = $3
		FOR UPDATE
	`, session.UserID, sessionType, session.ID)

	switch {
	case isNoRows(err):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO charon_sessions
				(id, user_id, type, created_at, refreshed_at, expires_at,
				 refresh_expires_at, refresh_token_id, tokens_fresh_from,
				 prev_tokens_fresh_from, lock_version, transport, sealed)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, session.ID, session.UserID, sessionType, session.CreatedAt, session.RefreshedAt,
			session.ExpiresAt, session.RefreshExpiresAt, session.RefreshTokenID,
			session.TokensFreshFrom, session.PrevTokensFreshFrom, session.LockVersion,
			string(session.Transport), sealed)
		if err != nil {
			return fmt.Errorf("charon: sqlstore: insert: %w", err)
		}
	case err != nil:
		return fmt.Errorf("charon: sqlstore: lock select: %w", err)
	default:
		if existing != expectedPrev {
			return charon.ErrConflict
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE charon_sessions SET
				refreshed_at = $1, expires_at = $2, refresh_expires_at = $3,
				refresh_token_id = $4, tokens_fresh_from = $5,
				prev_tokens_fresh_from = $6, lock_version = $7,
				transport = $8, sealed = $9
			WHERE user_id = $10 AND type = $11 AND id = $12 AND lock_version = $13
		`, session.RefreshedAt, session.ExpiresAt, session.RefreshExpiresAt,
			session.RefreshTokenID, session.TokensFreshFrom, session.PrevTokensFreshFrom,
			session.LockVersion, string(session.Transport), sealed,
			session.UserID, sessionType, session.ID, expectedPrev)
		if err != nil {
			return fmt.Errorf("charon: sqlstore: update: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return charon.ErrConflict
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("charon: sqlstore: commit: %w", err)
	}

	go s.pruneOpportunistic(session.UserID, sessionType)
	return nil
}

func (s *Store) Delete(ctx context.Context, sessionID, userID, sessionType string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM charon_sessions WHERE user_id = $1 AND type = $2 AND id = $3
	`, userID, charon.NormalizeType(sessionType), sessionID)
	if err != nil {
		return fmt.Errorf("charon: sqlstore: delete: %w", err)
	}
	return nil
}

func (s *Store) GetAll(ctx context.Context, userID, sessionType string) ([]*charon.Session, error) {
	sessionType = charon.NormalizeType(sessionType)

	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, type, lock_version, sealed
		FROM charon_sessions
		WHERE user_id = $1 AND type = $2 AND refresh_expires_at >= $3
	`, userID, sessionType, nowUnix())
	if err != nil {
		return nil, fmt.Errorf("charon: sqlstore: get_all: %w", err)
	}

	key, err := s.atRestKey()
	if err != nil {
		return nil, fmt.Errorf("charon: sqlstore: resolve at-rest key: %w", err)
	}

	sessions := make([]*charon.Session, 0, len(rows))
	for _, r := range rows {
		sess, ok := charon.OpenSession(key, r.Sealed, userID, sessionType, s.logger)
		if !ok {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *Store) DeleteAll(ctx context.Context, userID, sessionType string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM charon_sessions WHERE user_id = $1 AND type = $2
	`, userID, charon.NormalizeType(sessionType))
	if err != nil {
		return fmt.Errorf("charon: sqlstore: delete_all: %w", err)
	}
	return nil
}

// pruneOpportunistic prunes expired rows for one (user_id, type) partition,
// gated by a cooldown stored in pruned_at on any one row of that partition,
// standing in for the Redis backend's dedicated prune-lock key.
func (s *Store) pruneOpportunistic(userID, sessionType string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := nowUnix()
	cooldownCutoff := now - int64(charon.PruneCooldown.Seconds())

	res, err := s.db.ExecContext(ctx, `
		UPDATE charon_sessions SET pruned_at = $1
		WHERE user_id = $2 AND type = $3
		  AND pruned_at < $4
	`, now, userID, sessionType, cooldownCutoff)
	if err != nil {
		s.logger.Errorf("charon: sqlstore: prune cooldown check: %v", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return // skipped: cooldown active, or no rows for this partition
	}

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM charon_sessions
		WHERE user_id = $1 AND type = $2 AND refresh_expires_at < $3
	`, userID, sessionType, now); err != nil {
		s.logger.Errorf("charon: sqlstore: prune delete: %v", err)
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nowUnix() int64 { return time.Now().Unix() }

// noopLogger is used when the caller supplies no charon.Logger.
type noopLogger struct{}

func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}
