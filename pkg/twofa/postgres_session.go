package twofa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by a pgx connection, pool or transaction.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresSessionStore implements SessionStore on the
// twofa_verification_session table. Expired rows are treated as missing.
type PostgresSessionStore struct {
	db  DBTX
	ttl time.Duration
}

// NewPostgresSessionStore creates a Postgres-backed session store.
func NewPostgresSessionStore(db DBTX, ttl time.Duration) *PostgresSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &PostgresSessionStore{db: db, ttl: ttl}
}

func (s *PostgresSessionStore) Put(ctx context.Context, key string, sess VerificationSession) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO twofa_verification_session (session_key, target_user_id, created_at, expires_at)
		VALUES ($1, $2, now(), now() + make_interval(secs => $3))
		ON CONFLICT (session_key) DO UPDATE
		SET target_user_id = EXCLUDED.target_user_id,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`, key, sess.TargetUserID, s.ttl.Seconds())
	if err != nil {
		return fmt.Errorf("failed to store verification session: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) Get(ctx context.Context, key string) (VerificationSession, error) {
	var sess VerificationSession
	err := s.db.QueryRow(ctx, `
		SELECT target_user_id FROM twofa_verification_session
		WHERE session_key = $1 AND expires_at > now()
	`, key).Scan(&sess.TargetUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VerificationSession{}, ErrSessionNotFound
		}
		return VerificationSession{}, fmt.Errorf("failed to get verification session: %w", err)
	}
	return sess, nil
}

func (s *PostgresSessionStore) Take(ctx context.Context, key string) (VerificationSession, error) {
	var (
		sess VerificationSession
		live bool
	)
	err := s.db.QueryRow(ctx, `
		DELETE FROM twofa_verification_session
		WHERE session_key = $1
		RETURNING target_user_id, expires_at > now()
	`, key).Scan(&sess.TargetUserID, &live)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VerificationSession{}, ErrSessionNotFound
		}
		return VerificationSession{}, fmt.Errorf("failed to take verification session: %w", err)
	}
	if !live {
		return VerificationSession{}, ErrSessionNotFound
	}
	return sess, nil
}

// DeleteExpired removes sessions past their expiry and reports how many rows
// were removed.
func (s *PostgresSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM twofa_verification_session WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
