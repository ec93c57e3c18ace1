package twofa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const deviceColumns = `id, owner_id, kind, added_at, last_used_at, activated_at, deleted_at, base32_secret, last_counter, drift`

// PostgresDeviceRepository implements DeviceRepository using PostgreSQL.
// Per-device serialization uses SELECT ... FOR UPDATE inside a transaction.
type PostgresDeviceRepository struct {
	db *pgxpool.Pool
}

// NewPostgresDeviceRepository creates a new PostgreSQL device repository
func NewPostgresDeviceRepository(db *pgxpool.Pool) (*PostgresDeviceRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	return &PostgresDeviceRepository{db: db}, nil
}

func scanDevice(row pgx.Row) (Device, error) {
	var (
		d           Device
		kind        string
		secret      *string
		lastCounter int64
		drift       int64
	)
	err := row.Scan(
		&d.ID,
		&d.OwnerID,
		&kind,
		&d.AddedAt,
		&d.LastUsedAt,
		&d.ActivatedAt,
		&d.DeletedAt,
		&secret,
		&lastCounter,
		&drift,
	)
	if err != nil {
		return Device{}, err
	}
	d.Kind = DeviceKind(kind)
	if d.Kind == DeviceKindTOTP {
		state := TOTPState{LastCounter: lastCounter, Drift: drift}
		if secret != nil {
			state.Base32Secret = *secret
		}
		d.TOTP = &state
	}
	return d, nil
}

func (r *PostgresDeviceRepository) ActiveDevices(ctx context.Context, ownerID uuid.UUID) ([]Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM twofa_device
		WHERE owner_id = $1 AND deleted_at IS NULL AND activated_at IS NOT NULL
		ORDER BY last_used_at ASC NULLS LAST, added_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active devices: %w", err)
	}
	devices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Device, error) {
		return scanDevice(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan active devices: %w", err)
	}
	return devices, nil
}

func (r *PostgresDeviceRepository) GetActiveDevice(ctx context.Context, ownerID, deviceID uuid.UUID) (Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM twofa_device
		WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL AND activated_at IS NOT NULL
	`
	d, err := scanDevice(r.db.QueryRow(ctx, query, deviceID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, fmt.Errorf("failed to get device: %w", err)
	}
	return d, nil
}

func (r *PostgresDeviceRepository) GetPendingPaperDevice(ctx context.Context, ownerID, deviceID uuid.UUID) (Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM twofa_device
		WHERE id = $1 AND owner_id = $2 AND kind = 'paper' AND deleted_at IS NULL AND activated_at IS NULL
	`
	d, err := scanDevice(r.db.QueryRow(ctx, query, deviceID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, fmt.Errorf("failed to get pending paper device: %w", err)
	}
	return d, nil
}

func (r *PostgresDeviceRepository) CreateTOTPDevice(ctx context.Context, params CreateTOTPDeviceParams) (Device, error) {
	query := `
		INSERT INTO twofa_device (id, owner_id, kind, added_at, activated_at, base32_secret, last_counter, drift)
		VALUES ($1, $2, 'totp', $3, $3, $4, $5, $6)
		RETURNING ` + deviceColumns

	d, err := scanDevice(r.db.QueryRow(ctx, query,
		uuid.New(),
		params.OwnerID,
		params.At.UTC(),
		params.Base32Secret,
		params.LastCounter,
		params.Drift,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Device{}, ErrTOTPDeviceExists
		}
		return Device{}, fmt.Errorf("failed to create totp device: %w", err)
	}
	return d, nil
}

func (r *PostgresDeviceRepository) UpdateDeviceLocked(ctx context.Context, ownerID, deviceID uuid.UUID, fn func(*Device) error) (Device, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Device{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT ` + deviceColumns + `
		FROM twofa_device
		WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL AND activated_at IS NOT NULL
		FOR UPDATE
	`
	d, err := scanDevice(tx.QueryRow(ctx, query, deviceID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, fmt.Errorf("failed to lock device: %w", err)
	}

	if err := fn(&d); err != nil {
		return Device{}, err
	}

	if d.TOTP != nil {
		_, err = tx.Exec(ctx,
			`UPDATE twofa_device SET last_used_at = $2, last_counter = $3, drift = $4 WHERE id = $1`,
			deviceID, d.LastUsedAt, d.TOTP.LastCounter, d.TOTP.Drift)
	} else {
		_, err = tx.Exec(ctx, `UPDATE twofa_device SET last_used_at = $2 WHERE id = $1`, deviceID, d.LastUsedAt)
	}
	if err != nil {
		return Device{}, fmt.Errorf("failed to update device: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Device{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return d, nil
}

func (r *PostgresDeviceRepository) SoftDeleteDevice(ctx context.Context, ownerID, deviceID uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE twofa_device SET deleted_at = $3 WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL`,
		deviceID, ownerID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (r *PostgresDeviceRepository) ConsumePaperCode(ctx context.Context, ownerID, deviceID uuid.UUID, code string, at time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM twofa_device
		WHERE id = $1 AND owner_id = $2 AND kind = 'paper' AND deleted_at IS NULL AND activated_at IS NOT NULL
		FOR UPDATE
	`, deviceID, ownerID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("failed to lock device: %w", err)
	}

	var (
		codeID uuid.UUID
		usedAt *time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT id, used_at FROM twofa_paper_code WHERE device_id = $1 AND code = $2`,
		deviceID, code).Scan(&codeID, &usedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPaperCodeUnknown
		}
		return fmt.Errorf("failed to look up paper code: %w", err)
	}
	if usedAt != nil {
		return ErrPaperCodeUsed
	}

	at = at.UTC()
	if _, err := tx.Exec(ctx, `UPDATE twofa_paper_code SET used_at = $2 WHERE id = $1`, codeID, at); err != nil {
		return fmt.Errorf("failed to mark paper code used: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE twofa_device SET last_used_at = $2 WHERE id = $1`, deviceID, at); err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresDeviceRepository) ReplacePaperDevice(ctx context.Context, ownerID uuid.UUID, codes []string, at time.Time) (Device, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Device{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	at = at.UTC()
	// Paper replacement is serialized per owner, including the first batch
	// when there is no paper row to lock yet.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "twofa_paper:"+ownerID.String()); err != nil {
		return Device{}, fmt.Errorf("failed to lock owner: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE twofa_device SET deleted_at = $2 WHERE owner_id = $1 AND kind = 'paper' AND deleted_at IS NULL`,
		ownerID, at)
	if err != nil {
		return Device{}, fmt.Errorf("failed to retire paper devices: %w", err)
	}

	d, err := scanDevice(tx.QueryRow(ctx, `
		INSERT INTO twofa_device (id, owner_id, kind, added_at)
		VALUES ($1, $2, 'paper', $3)
		RETURNING `+deviceColumns, uuid.New(), ownerID, at))
	if err != nil {
		return Device{}, fmt.Errorf("failed to create paper device: %w", err)
	}

	codeRows := make([][]any, 0, len(codes))
	for i, c := range codes {
		codeRows = append(codeRows, []any{uuid.New(), d.ID, c, i})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"twofa_paper_code"},
		[]string{"id", "device_id", "code", "seq"},
		pgx.CopyFromRows(codeRows),
	)
	if err != nil {
		return Device{}, fmt.Errorf("failed to insert paper codes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Device{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return d, nil
}

func (r *PostgresDeviceRepository) ActivatePaperDevice(ctx context.Context, ownerID, deviceID uuid.UUID, at time.Time) (Device, error) {
	query := `
		UPDATE twofa_device SET activated_at = $3
		WHERE id = $1 AND owner_id = $2 AND kind = 'paper' AND deleted_at IS NULL AND activated_at IS NULL
		RETURNING ` + deviceColumns

	d, err := scanDevice(r.db.QueryRow(ctx, query, deviceID, ownerID, at.UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, fmt.Errorf("failed to activate paper device: %w", err)
	}
	return d, nil
}

func (r *PostgresDeviceRepository) UnusedCodes(ctx context.Context, deviceID uuid.UUID) ([]PaperCode, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, device_id, code, used_at
		FROM twofa_paper_code
		WHERE device_id = $1 AND used_at IS NULL
		ORDER BY seq
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query paper codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PaperCode, error) {
		var c PaperCode
		err := row.Scan(&c.ID, &c.DeviceID, &c.Code, &c.UsedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan paper codes: %w", err)
	}
	return codes, nil
}

func (r *PostgresDeviceRepository) CountUnusedCodes(ctx context.Context, deviceID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM twofa_paper_code WHERE device_id = $1 AND used_at IS NULL`,
		deviceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count paper codes: %w", err)
	}
	return n, nil
}
