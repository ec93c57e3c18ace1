package api

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/tendant/simple-twofa/pkg/twofa"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type VerifyRequest struct {
	Response string `json:"response"`
}

type ConfirmTOTPRequest struct {
	SetupToken string `json:"setup_token"`
	Response   string `json:"response"`
}

type FormResponse struct {
	Template  string `json:"template"`
	Label     string `json:"label"`
	MinLength int    `json:"min_length"`
	MaxLength int    `json:"max_length"`
	Numeric   bool   `json:"numeric"`
}

type DeviceResponse struct {
	ID            string        `json:"id"`
	Kind          string        `json:"kind"`
	Name          string        `json:"name,omitempty"`
	AddedAt       time.Time     `json:"added_at"`
	LastUsedAt    *time.Time    `json:"last_used_at,omitempty"`
	ExtraInfo     string        `json:"extra_info,omitempty"`
	CanDelete     bool          `json:"can_delete"`
	CanRegenerate bool          `json:"can_regenerate"`
	Form          *FormResponse `json:"form,omitempty"`
}

type ChallengeResponse struct {
	State          string           `json:"state"`
	Device         *DeviceResponse  `json:"device,omitempty"`
	OtherDevices   []DeviceResponse `json:"other_devices,omitempty"`
	AccessToken    string           `json:"access_token,omitempty"`
	BackupDeviceID string           `json:"backup_device_id,omitempty"`
}

type DeviceListResponse struct {
	Devices      []DeviceResponse `json:"devices"`
	CanSetupTOTP bool             `json:"can_setup_totp"`
}

type TOTPSetupResponse struct {
	Secret     string `json:"secret"`
	URI        string `json:"uri"`
	QRCodePNG  string `json:"qr_code_png"`
	SetupToken string `json:"setup_token"`
}

type SetupResultResponse struct {
	Device         DeviceResponse `json:"device"`
	BackupDeviceID string         `json:"backup_device_id,omitempty"`
}

type BackupCodesResponse struct {
	Device DeviceResponse `json:"device"`
	Codes  []string       `json:"codes"`
}

type RemoveResponse struct {
	Device        DeviceResponse `json:"device"`
	TwoFADisabled bool           `json:"twofa_disabled"`
	Notice        string         `json:"notice,omitempty"`
}

type ExpiredSetupResponse struct {
	ErrorResponse
	Setup *TOTPSetupResponse `json:"setup,omitempty"`
}

var copyOption = copier.Option{
	Converters: []copier.TypeConverter{
		{
			SrcType: uuid.UUID{},
			DstType: copier.String,
			Fn: func(src interface{}) (interface{}, error) {
				id, ok := src.(uuid.UUID)
				if !ok {
					return nil, errors.New("src type not matching")
				}
				return id.String(), nil
			},
		},
	},
}

func toDeviceResponse(d twofa.Device) DeviceResponse {
	var resp DeviceResponse
	copier.CopyWithOption(&resp, &d, copyOption)
	resp.ID = d.ID.String()
	resp.Kind = string(d.Kind)

	caps := twofa.CapabilitiesFor(d.Kind)
	resp.Name = caps.Name
	resp.CanDelete = caps.CanDelete
	resp.CanRegenerate = caps.CanRegenerate
	var form FormResponse
	copier.Copy(&form, &caps.Form)
	resp.Form = &form
	return resp
}

func toDeviceInfoResponse(info twofa.DeviceInfo) DeviceResponse {
	resp := toDeviceResponse(info.Device)
	resp.ExtraInfo = info.ExtraInfo
	return resp
}

func toDeviceResponses(devices []twofa.Device) []DeviceResponse {
	resp := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, toDeviceResponse(d))
	}
	return resp
}

func toChallengeResponse(res twofa.ChallengeResult) ChallengeResponse {
	resp := ChallengeResponse{State: string(res.State)}
	if res.Device != nil {
		d := toDeviceResponse(*res.Device)
		resp.Device = &d
	}
	if len(res.OtherDevices) > 0 {
		resp.OtherDevices = toDeviceResponses(res.OtherDevices)
	}
	resp.AccessToken = res.Token.AccessToken
	if res.BackupDevice != nil {
		resp.BackupDeviceID = res.BackupDevice.ID.String()
	}
	return resp
}

func toTOTPSetupResponse(setup twofa.TOTPSetup) TOTPSetupResponse {
	var resp TOTPSetupResponse
	copier.Copy(&resp, &setup)
	return resp
}
