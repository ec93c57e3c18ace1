package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresDirectory implements Directory against the users table
type PostgresDirectory struct {
	db DBTX
}

// NewPostgresDirectory creates a new PostgreSQL user directory
func NewPostgresDirectory(db DBTX) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) CreateUser(ctx context.Context, username string) (User, error) {
	query := `
		INSERT INTO users (id, username, twofa_enabled)
		VALUES ($1, $2, false)
		RETURNING id, username, twofa_enabled
	`
	var u User
	err := d.db.QueryRow(ctx, query, uuid.New(), username).Scan(&u.ID, &u.Username, &u.TwoFAEnabled)
	if err != nil {
		slog.Error("Failed to create user", "username", username, "err", err)
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (d *PostgresDirectory) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	query := `SELECT id, username, twofa_enabled FROM users WHERE id = $1`

	var u User
	err := d.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.Username, &u.TwoFAEnabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (d *PostgresDirectory) SetTwoFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := d.db.Exec(ctx, `UPDATE users SET twofa_enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("failed to update twofa_enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	slog.Info("Updated twofa_enabled", "userID", id, "enabled", enabled)
	return nil
}
