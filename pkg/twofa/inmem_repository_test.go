package twofa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortDevices(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(minutes int) *time.Time {
		v := base.Add(time.Duration(minutes) * time.Minute)
		return &v
	}

	neverUsedOld := Device{ID: uuid.New(), AddedAt: base}
	neverUsedNew := Device{ID: uuid.New(), AddedAt: base.Add(time.Hour)}
	usedLate := Device{ID: uuid.New(), AddedAt: base, LastUsedAt: at(30)}
	usedEarly := Device{ID: uuid.New(), AddedAt: base.Add(2 * time.Hour), LastUsedAt: at(10)}

	devices := []Device{neverUsedNew, usedLate, neverUsedOld, usedEarly}
	sortDevices(devices)

	var got []uuid.UUID
	for _, d := range devices {
		got = append(got, d.ID)
	}
	assert.Equal(t, []uuid.UUID{usedEarly.ID, usedLate.ID, neverUsedOld.ID, neverUsedNew.ID}, got)
}

func TestInMemDeviceRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	owner := uuid.New()

	t.Run("CreateTOTPDeviceOncePerOwner", func(t *testing.T) {
		repo := NewInMemDeviceRepository()
		d, err := repo.CreateTOTPDevice(ctx, CreateTOTPDeviceParams{OwnerID: owner, Base32Secret: "GEZDGNBV", LastCounter: 7, At: now})
		require.NoError(t, err)
		assert.True(t, d.IsActive())
		assert.Equal(t, int64(7), d.TOTP.LastCounter)

		_, err = repo.CreateTOTPDevice(ctx, CreateTOTPDeviceParams{OwnerID: owner, Base32Secret: "GEZDGNBV", At: now})
		assert.ErrorIs(t, err, ErrTOTPDeviceExists)

		require.NoError(t, repo.SoftDeleteDevice(ctx, owner, d.ID, now))
		_, err = repo.CreateTOTPDevice(ctx, CreateTOTPDeviceParams{OwnerID: owner, Base32Secret: "GEZDGNBV", At: now})
		assert.NoError(t, err)
	})

	t.Run("SoftDeletedDeviceIsInactive", func(t *testing.T) {
		repo := NewInMemDeviceRepository()
		d, err := repo.CreateTOTPDevice(ctx, CreateTOTPDeviceParams{OwnerID: owner, At: now})
		require.NoError(t, err)

		require.NoError(t, repo.SoftDeleteDevice(ctx, owner, d.ID, now))
		_, err = repo.GetActiveDevice(ctx, owner, d.ID)
		assert.ErrorIs(t, err, ErrDeviceNotFound)
		assert.ErrorIs(t, repo.SoftDeleteDevice(ctx, owner, d.ID, now), ErrDeviceNotFound)

		devices, err := repo.ActiveDevices(ctx, owner)
		require.NoError(t, err)
		assert.Empty(t, devices)
	})

	t.Run("UpdateDeviceLocked", func(t *testing.T) {
		repo := NewInMemDeviceRepository()
		d, err := repo.CreateTOTPDevice(ctx, CreateTOTPDeviceParams{OwnerID: owner, Base32Secret: "GEZDGNBV", At: now})
		require.NoError(t, err)

		_, err = repo.UpdateDeviceLocked(ctx, owner, d.ID, func(d *Device) error {
			d.TOTP.LastCounter = 99
			return errors.New("boom")
		})
		require.Error(t, err)
		stored, err := repo.GetActiveDevice(ctx, owner, d.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stored.TOTP.LastCounter, "failed update is not persisted")

		updated, err := repo.UpdateDeviceLocked(ctx, owner, d.ID, func(d *Device) error {
			d.TOTP.LastCounter = 42
			d.TOTP.Drift = -1
			d.TOTP.Base32Secret = "overwritten"
			d.LastUsedAt = &now
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(42), updated.TOTP.LastCounter)
		assert.Equal(t, int64(-1), updated.TOTP.Drift)
		assert.Equal(t, "GEZDGNBV", updated.TOTP.Base32Secret)

		_, err = repo.UpdateDeviceLocked(ctx, uuid.New(), d.ID, func(*Device) error { return nil })
		assert.ErrorIs(t, err, ErrDeviceNotFound)
	})

	t.Run("PaperLifecycle", func(t *testing.T) {
		repo := NewInMemDeviceRepository()
		first, err := repo.ReplacePaperDevice(ctx, owner, []string{"aaaa1111", "bbbb2222"}, now)
		require.NoError(t, err)
		assert.True(t, first.IsPending())

		err = repo.ConsumePaperCode(ctx, owner, first.ID, "aaaa1111", now)
		assert.ErrorIs(t, err, ErrDeviceNotFound, "pending device cannot be used")

		_, err = repo.GetPendingPaperDevice(ctx, owner, first.ID)
		require.NoError(t, err)
		_, err = repo.ActivatePaperDevice(ctx, owner, first.ID, now)
		require.NoError(t, err)
		_, err = repo.ActivatePaperDevice(ctx, owner, first.ID, now)
		assert.ErrorIs(t, err, ErrDeviceNotFound)

		require.NoError(t, repo.ConsumePaperCode(ctx, owner, first.ID, "aaaa1111", now))
		assert.ErrorIs(t, repo.ConsumePaperCode(ctx, owner, first.ID, "aaaa1111", now), ErrPaperCodeUsed)
		assert.ErrorIs(t, repo.ConsumePaperCode(ctx, owner, first.ID, "cccc3333", now), ErrPaperCodeUnknown)

		n, err := repo.CountUnusedCodes(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		stored, err := repo.GetActiveDevice(ctx, owner, first.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LastUsedAt)

		second, err := repo.ReplacePaperDevice(ctx, owner, []string{"dddd4444"}, now)
		require.NoError(t, err)
		_, err = repo.GetActiveDevice(ctx, owner, first.ID)
		assert.ErrorIs(t, err, ErrDeviceNotFound)

		third, err := repo.ReplacePaperDevice(ctx, owner, []string{"eeee5555"}, now)
		require.NoError(t, err)
		_, err = repo.GetPendingPaperDevice(ctx, owner, second.ID)
		assert.ErrorIs(t, err, ErrDeviceNotFound, "pending batches are retired too")

		codes, err := repo.UnusedCodes(ctx, third.ID)
		require.NoError(t, err)
		require.Len(t, codes, 1)
		assert.Equal(t, "eeee5555", codes[0].Code)
		assert.Equal(t, third.ID, codes[0].DeviceID)
	})

	t.Run("ReturnedDevicesAreCopies", func(t *testing.T) {
		repo := NewInMemDeviceRepository()
		d, err := repo.CreateTOTPDevice(ctx, CreateTOTPDeviceParams{OwnerID: owner, At: now})
		require.NoError(t, err)
		d.TOTP.LastCounter = 500

		stored, err := repo.GetActiveDevice(ctx, owner, d.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stored.TOTP.LastCounter)
	})
}
