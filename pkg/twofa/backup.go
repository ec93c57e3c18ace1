package twofa

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	errs "github.com/tendant/simple-twofa/pkg/errors"
)

// NewPaperCode returns a backup code of 8 lowercase hex characters.
func NewPaperCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *Service) generateCodes() ([]string, error) {
	codes := make([]string, 0, s.backupCodeCount)
	seen := make(map[string]struct{}, s.backupCodeCount)
	for len(codes) < s.backupCodeCount {
		c, err := s.newCode()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		codes = append(codes, c)
	}
	return codes, nil
}

// ShouldGenerate reports whether a 2FA user is left without usable backup
// codes: no active paper device, or no unused code on any of them.
func (s *Service) ShouldGenerate(ctx context.Context, userID uuid.UUID) (bool, error) {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if !u.TwoFAEnabled {
		return false, nil
	}

	devices, err := s.devices.ActiveDevices(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to list devices: %w", err)
	}
	unused := 0
	havePaper := false
	for _, d := range devices {
		if d.Kind != DeviceKindPaper {
			continue
		}
		havePaper = true
		n, err := s.devices.CountUnusedCodes(ctx, d.ID)
		if err != nil {
			return false, fmt.Errorf("failed to count backup codes: %w", err)
		}
		unused += n
	}
	return !havePaper || unused == 0, nil
}

// GenerateIfNeeded issues a fresh, unconfirmed batch of backup codes when
// ShouldGenerate holds. It returns nil when nothing was generated.
func (s *Service) GenerateIfNeeded(ctx context.Context, userID uuid.UUID) (*Device, error) {
	needed, err := s.ShouldGenerate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !needed {
		return nil, nil
	}
	d, err := s.replacePaperDevice(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Service) replacePaperDevice(ctx context.Context, userID uuid.UUID) (Device, error) {
	codes, err := s.generateCodes()
	if err != nil {
		return Device{}, err
	}
	d, err := s.devices.ReplacePaperDevice(ctx, userID, codes, s.clock())
	if err != nil {
		return Device{}, fmt.Errorf("failed to replace backup codes: %w", err)
	}
	slog.Info("Backup codes generated", "userID", userID, "deviceID", d.ID, "count", len(codes))
	return d, nil
}

// Regenerate replaces the user's backup codes on request. deviceID must name
// an active device whose kind can be regenerated.
func (s *Service) Regenerate(ctx context.Context, userID uuid.UUID, deviceID string) (Device, error) {
	d, err := s.activeDevice(ctx, userID, deviceID)
	if err != nil {
		return Device{}, err
	}
	caps := CapabilitiesFor(d.Kind)
	if !caps.CanRegenerate {
		return Device{}, errs.Policy(fmt.Sprintf("The %q authenticator cannot be regenerated.", caps.Name))
	}
	return s.replacePaperDevice(ctx, userID)
}

// ActivateBackupDevice confirms that the user has saved a pending batch of
// backup codes, making them usable.
func (s *Service) ActivateBackupDevice(ctx context.Context, userID uuid.UUID, deviceID string) (Device, error) {
	id, err := uuid.Parse(deviceID)
	if err != nil {
		return Device{}, errs.NotFound("device")
	}
	d, err := s.devices.ActivatePaperDevice(ctx, userID, id, s.clock())
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return Device{}, errs.NotFound("device")
		}
		return Device{}, fmt.Errorf("failed to activate backup codes: %w", err)
	}
	slog.Info("Backup codes activated", "userID", userID, "deviceID", d.ID)
	return d, nil
}

// PendingBackupCodes lists the codes of an unconfirmed paper device so they
// can be shown to the user once.
func (s *Service) PendingBackupCodes(ctx context.Context, userID uuid.UUID, deviceID string) (Device, []PaperCode, error) {
	id, err := uuid.Parse(deviceID)
	if err != nil {
		return Device{}, nil, errs.NotFound("device")
	}
	d, err := s.devices.GetPendingPaperDevice(ctx, userID, id)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return Device{}, nil, errs.NotFound("device")
		}
		return Device{}, nil, fmt.Errorf("failed to get backup device: %w", err)
	}
	codes, err := s.devices.UnusedCodes(ctx, d.ID)
	if err != nil {
		return Device{}, nil, fmt.Errorf("failed to list backup codes: %w", err)
	}
	return d, codes, nil
}

func (s *Service) activeDevice(ctx context.Context, userID uuid.UUID, deviceID string) (Device, error) {
	id, err := uuid.Parse(deviceID)
	if err != nil {
		return Device{}, errs.NotFound("device")
	}
	d, err := s.devices.GetActiveDevice(ctx, userID, id)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return Device{}, errs.NotFound("device")
		}
		return Device{}, fmt.Errorf("failed to get device: %w", err)
	}
	return d, nil
}
