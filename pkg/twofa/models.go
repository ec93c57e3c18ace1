package twofa

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeviceKind identifies the variant of a second-factor device.
type DeviceKind string

const (
	DeviceKindTOTP  DeviceKind = "totp"
	DeviceKindPaper DeviceKind = "paper"
)

// Valid reports whether k is one of the known device kinds.
func (k DeviceKind) Valid() bool {
	return k == DeviceKindTOTP || k == DeviceKindPaper
}

// TOTPState is the persisted verifier state of a TOTP device.
type TOTPState struct {
	Base32Secret string `json:"-"`
	// LastCounter is the largest time step ever accepted for this device.
	LastCounter int64 `json:"-"`
	Drift       int64 `json:"drift"`
}

// Device is a second-factor device owned by a user. TOTP is set only for
// DeviceKindTOTP.
type Device struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	Kind        DeviceKind `json:"kind"`
	AddedAt     time.Time  `json:"added_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	TOTP        *TOTPState `json:"-"`
}

// IsActive reports whether the device is confirmed and not deleted.
func (d Device) IsActive() bool {
	return d.DeletedAt == nil && d.ActivatedAt != nil
}

// IsPending reports whether the device was enrolled but never confirmed.
func (d Device) IsPending() bool {
	return d.DeletedAt == nil && d.ActivatedAt == nil
}

// IsBackup reports whether the device is a recovery device rather than a
// primary authenticator.
func (d Device) IsBackup() bool {
	return d.Kind == DeviceKindPaper
}

func (d Device) clone() Device {
	c := d
	c.LastUsedAt = cloneTime(d.LastUsedAt)
	c.ActivatedAt = cloneTime(d.ActivatedAt)
	c.DeletedAt = cloneTime(d.DeletedAt)
	if d.TOTP != nil {
		state := *d.TOTP
		c.TOTP = &state
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// PaperCode is a single-use recovery code belonging to a paper device.
type PaperCode struct {
	ID       uuid.UUID  `json:"id"`
	DeviceID uuid.UUID  `json:"device_id"`
	Code     string     `json:"code"`
	UsedAt   *time.Time `json:"used_at,omitempty"`
}

// VerifyForm describes the response a device kind expects during verification.
type VerifyForm struct {
	Template  string `json:"template"`
	Label     string `json:"label"`
	MinLength int    `json:"min_length"`
	MaxLength int    `json:"max_length"`
	Numeric   bool   `json:"numeric"`
}

// Capabilities is the per-kind behaviour table.
type Capabilities struct {
	Name          string     `json:"name"`
	CanDelete     bool       `json:"can_delete"`
	CanRegenerate bool       `json:"can_regenerate"`
	Form          VerifyForm `json:"form"`
}

var capabilities = map[DeviceKind]Capabilities{
	DeviceKindTOTP: {
		Name:      "Google Authenticator (TOTP)",
		CanDelete: true,
		Form: VerifyForm{
			Template:  "twofa/verify/totp",
			Label:     "Code",
			MinLength: 6,
			MaxLength: 6,
			Numeric:   true,
		},
	},
	DeviceKindPaper: {
		Name:          "Backup Codes",
		CanRegenerate: true,
		Form: VerifyForm{
			Template:  "twofa/verify/paper",
			Label:     "Backup code",
			MinLength: 8,
			MaxLength: 8,
		},
	},
}

// CapabilitiesFor returns the capability table entry for kind. Unknown kinds
// get the zero value, which permits nothing.
func CapabilitiesFor(kind DeviceKind) Capabilities {
	return capabilities[kind]
}

// ExtraInfo renders the short status line shown next to a device, such as the
// number of remaining backup codes.
func ExtraInfo(kind DeviceKind, unusedCodes int) string {
	switch kind {
	case DeviceKindPaper:
		if unusedCodes == 1 {
			return "1 code remaining"
		}
		return fmt.Sprintf("%d codes remaining", unusedCodes)
	default:
		return ""
	}
}
