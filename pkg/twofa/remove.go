package twofa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	errs "github.com/tendant/simple-twofa/pkg/errors"
)

const twoFADisabledNotice = "Since you removed all your authenticators, two-factor authentication has been disabled."

type RemoveResult struct {
	Device        Device
	TwoFADisabled bool
	Notice        string
}

// Remove soft-deletes a device. When no active primary device is left, 2FA is
// switched off for the user.
func (s *Service) Remove(ctx context.Context, userID uuid.UUID, deviceID string) (RemoveResult, error) {
	d, err := s.activeDevice(ctx, userID, deviceID)
	if err != nil {
		return RemoveResult{}, err
	}
	caps := CapabilitiesFor(d.Kind)
	if !caps.CanDelete {
		return RemoveResult{}, errs.Policy(fmt.Sprintf("The %q authenticator cannot be removed.", caps.Name))
	}

	if err := s.devices.SoftDeleteDevice(ctx, userID, d.ID, s.clock()); err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return RemoveResult{}, errs.NotFound("device")
		}
		return RemoveResult{}, fmt.Errorf("failed to remove device: %w", err)
	}
	slog.Info("Device removed", "userID", userID, "deviceID", d.ID, "kind", d.Kind)

	result := RemoveResult{Device: d}
	best, err := s.BestAuthenticator(ctx, userID)
	if err != nil {
		return result, err
	}
	if best == nil {
		if err := s.users.SetTwoFAEnabled(ctx, userID, false); err != nil {
			return result, fmt.Errorf("failed to disable 2fa: %w", err)
		}
		result.TwoFADisabled = true
		result.Notice = twoFADisabledNotice
		slog.Info("Two-factor authentication disabled", "userID", userID)
	}
	return result, nil
}
