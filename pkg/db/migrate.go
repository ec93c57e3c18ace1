package db

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Migrate applies the embedded migrations to the database at dsn. direction
// is DirectionUp or DirectionDown. Being already at the target is not an error.
func Migrate(dsn, direction string) error {
	if dsn == "" {
		return errors.New("database url is empty")
	}
	if direction != DirectionUp && direction != DirectionDown {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	src, err := iofs.New(MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case DirectionUp:
		err = m.Up()
	case DirectionDown:
		err = m.Down()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("No migrations to apply", "direction", direction)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations %s: %w", direction, err)
	}
	slog.Info("Migrations applied", "direction", direction)
	return nil
}
