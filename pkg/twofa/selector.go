package twofa

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	errs "github.com/tendant/simple-twofa/pkg/errors"
)

// BestAuthenticator returns the user's default primary device: the first
// non-backup device in last-used order. It returns nil when the user has none.
func (s *Service) BestAuthenticator(ctx context.Context, userID uuid.UUID) (*Device, error) {
	devices, err := s.devices.ActiveDevices(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	for _, d := range devices {
		if !d.IsBackup() {
			best := d
			return &best, nil
		}
	}
	return nil, nil
}

// GetVerifyDevice picks the device a verification runs against. An explicit
// deviceID must name an active device of the user; an empty one falls back to
// BestAuthenticator. The second result holds every other active device. A nil
// device means the user has nothing to verify with.
func (s *Service) GetVerifyDevice(ctx context.Context, userID uuid.UUID, deviceID string) (*Device, []Device, error) {
	var selected *Device
	if deviceID != "" {
		id, err := uuid.Parse(deviceID)
		if err != nil {
			return nil, nil, errs.NotFound("device")
		}
		d, err := s.devices.GetActiveDevice(ctx, userID, id)
		if err != nil {
			if errors.Is(err, ErrDeviceNotFound) {
				return nil, nil, errs.NotFound("device")
			}
			return nil, nil, fmt.Errorf("failed to get device: %w", err)
		}
		selected = &d
	} else {
		best, err := s.BestAuthenticator(ctx, userID)
		if err != nil {
			return nil, nil, err
		}
		selected = best
	}

	if selected == nil {
		return nil, []Device{}, nil
	}

	all, err := s.devices.ActiveDevices(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list devices: %w", err)
	}
	others := make([]Device, 0, len(all))
	for _, d := range all {
		if d.ID != selected.ID {
			others = append(others, d)
		}
	}
	return selected, others, nil
}
