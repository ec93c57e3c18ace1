package twofa

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDeviceNotFound is returned when a device does not exist, belongs to
	// another user, or is not in the state the operation requires.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrTOTPDeviceExists is returned when a user already has an active TOTP device.
	ErrTOTPDeviceExists = errors.New("active totp device already exists")
	// ErrPaperCodeUnknown is returned when no code of the device matches.
	ErrPaperCodeUnknown = errors.New("paper code unknown")
	// ErrPaperCodeUsed is returned when the matching code was already consumed.
	ErrPaperCodeUsed = errors.New("paper code already used")
)

// CreateTOTPDeviceParams holds the state of a freshly confirmed TOTP device.
type CreateTOTPDeviceParams struct {
	OwnerID      uuid.UUID
	Base32Secret string
	LastCounter  int64
	Drift        int64
	At           time.Time
}

// DeviceRepository stores devices and paper codes. It is the only place that
// decides whether a device is active: not deleted and activated.
type DeviceRepository interface {
	// ActiveDevices returns the owner's active devices ordered by last use
	// (never used last), then by enrollment time.
	ActiveDevices(ctx context.Context, ownerID uuid.UUID) ([]Device, error)
	GetActiveDevice(ctx context.Context, ownerID, deviceID uuid.UUID) (Device, error)
	// GetPendingPaperDevice returns an owned paper device that is neither
	// deleted nor activated.
	GetPendingPaperDevice(ctx context.Context, ownerID, deviceID uuid.UUID) (Device, error)

	// CreateTOTPDevice inserts an active TOTP device. It fails with
	// ErrTOTPDeviceExists if the owner already has one.
	CreateTOTPDevice(ctx context.Context, params CreateTOTPDeviceParams) (Device, error)
	// UpdateDeviceLocked runs fn on an active device while holding the
	// device's lock and persists LastUsedAt and TOTP state if fn succeeds.
	UpdateDeviceLocked(ctx context.Context, ownerID, deviceID uuid.UUID, fn func(*Device) error) (Device, error)
	SoftDeleteDevice(ctx context.Context, ownerID, deviceID uuid.UUID, at time.Time) error

	// ConsumePaperCode marks code as used on an active paper device and
	// records the device's last use.
	ConsumePaperCode(ctx context.Context, ownerID, deviceID uuid.UUID, code string, at time.Time) error
	// ReplacePaperDevice soft-deletes every live paper device of the owner and
	// creates a new unconfirmed one holding codes, in one step.
	ReplacePaperDevice(ctx context.Context, ownerID uuid.UUID, codes []string, at time.Time) (Device, error)
	ActivatePaperDevice(ctx context.Context, ownerID, deviceID uuid.UUID, at time.Time) (Device, error)
	UnusedCodes(ctx context.Context, deviceID uuid.UUID) ([]PaperCode, error)
	CountUnusedCodes(ctx context.Context, deviceID uuid.UUID) (int, error)
}
