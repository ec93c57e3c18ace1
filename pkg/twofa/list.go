package twofa

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// DeviceInfo is a device together with what the user may do with it.
type DeviceInfo struct {
	Device
	Name          string
	ExtraInfo     string
	CanDelete     bool
	CanRegenerate bool
}

type DeviceList struct {
	Devices      []DeviceInfo
	CanSetupTOTP bool
}

// ListDevices returns the user's active devices in last-used order.
func (s *Service) ListDevices(ctx context.Context, userID uuid.UUID) (DeviceList, error) {
	if _, err := s.getUser(ctx, userID); err != nil {
		return DeviceList{}, err
	}
	devices, err := s.devices.ActiveDevices(ctx, userID)
	if err != nil {
		return DeviceList{}, fmt.Errorf("failed to list devices: %w", err)
	}

	list := DeviceList{Devices: make([]DeviceInfo, 0, len(devices)), CanSetupTOTP: true}
	for _, d := range devices {
		caps := CapabilitiesFor(d.Kind)
		info := DeviceInfo{
			Device:        d,
			Name:          caps.Name,
			CanDelete:     caps.CanDelete,
			CanRegenerate: caps.CanRegenerate,
		}
		switch d.Kind {
		case DeviceKindTOTP:
			list.CanSetupTOTP = false
		case DeviceKindPaper:
			n, err := s.devices.CountUnusedCodes(ctx, d.ID)
			if err != nil {
				return DeviceList{}, fmt.Errorf("failed to count backup codes: %w", err)
			}
			info.ExtraInfo = ExtraInfo(d.Kind, n)
		}
		list.Devices = append(list.Devices, info)
	}
	return list, nil
}
