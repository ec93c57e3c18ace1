package twofa

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemDeviceRepository implements DeviceRepository using in-memory maps.
// Mutations of a single device are serialized by a per-device mutex; mu guards
// the maps themselves.
type InMemDeviceRepository struct {
	mu      sync.Mutex
	devices map[uuid.UUID]Device
	codes   map[uuid.UUID][]PaperCode
	locks   map[uuid.UUID]*sync.Mutex
}

// NewInMemDeviceRepository creates a new in-memory device repository
func NewInMemDeviceRepository() *InMemDeviceRepository {
	return &InMemDeviceRepository{
		devices: make(map[uuid.UUID]Device),
		codes:   make(map[uuid.UUID][]PaperCode),
		locks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

func (r *InMemDeviceRepository) deviceLock(id uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *InMemDeviceRepository) activeLocked(ownerID, deviceID uuid.UUID) (Device, bool) {
	d, ok := r.devices[deviceID]
	if !ok || d.OwnerID != ownerID || !d.IsActive() {
		return Device{}, false
	}
	return d, true
}

func (r *InMemDeviceRepository) ActiveDevices(ctx context.Context, ownerID uuid.UUID) ([]Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Device
	for _, d := range r.devices {
		if d.OwnerID == ownerID && d.IsActive() {
			out = append(out, d.clone())
		}
	}
	sortDevices(out)
	return out, nil
}

func (r *InMemDeviceRepository) GetActiveDevice(ctx context.Context, ownerID, deviceID uuid.UUID) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.activeLocked(ownerID, deviceID)
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return d.clone(), nil
}

func (r *InMemDeviceRepository) GetPendingPaperDevice(ctx context.Context, ownerID, deviceID uuid.UUID) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok || d.OwnerID != ownerID || d.Kind != DeviceKindPaper || !d.IsPending() {
		return Device{}, ErrDeviceNotFound
	}
	return d.clone(), nil
}

func (r *InMemDeviceRepository) CreateTOTPDevice(ctx context.Context, params CreateTOTPDeviceParams) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.devices {
		if d.OwnerID == params.OwnerID && d.Kind == DeviceKindTOTP && d.IsActive() {
			return Device{}, ErrTOTPDeviceExists
		}
	}

	at := params.At.UTC()
	d := Device{
		ID:          uuid.New(),
		OwnerID:     params.OwnerID,
		Kind:        DeviceKindTOTP,
		AddedAt:     at,
		ActivatedAt: &at,
		TOTP: &TOTPState{
			Base32Secret: params.Base32Secret,
			LastCounter:  params.LastCounter,
			Drift:        params.Drift,
		},
	}
	r.devices[d.ID] = d
	slog.Debug("TOTP device created", "deviceID", d.ID, "ownerID", d.OwnerID)
	return d.clone(), nil
}

func (r *InMemDeviceRepository) UpdateDeviceLocked(ctx context.Context, ownerID, deviceID uuid.UUID, fn func(*Device) error) (Device, error) {
	l := r.deviceLock(deviceID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	current, ok := r.activeLocked(ownerID, deviceID)
	r.mu.Unlock()
	if !ok {
		return Device{}, ErrDeviceNotFound
	}

	working := current.clone()
	if err := fn(&working); err != nil {
		return Device{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.devices[deviceID]
	stored.LastUsedAt = cloneTime(working.LastUsedAt)
	if stored.TOTP != nil && working.TOTP != nil {
		state := *working.TOTP
		state.Base32Secret = stored.TOTP.Base32Secret
		stored.TOTP = &state
	}
	r.devices[deviceID] = stored
	return stored.clone(), nil
}

func (r *InMemDeviceRepository) SoftDeleteDevice(ctx context.Context, ownerID, deviceID uuid.UUID, at time.Time) error {
	l := r.deviceLock(deviceID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok || d.OwnerID != ownerID || d.DeletedAt != nil {
		return ErrDeviceNotFound
	}
	at = at.UTC()
	d.DeletedAt = &at
	r.devices[deviceID] = d
	slog.Debug("Device soft deleted", "deviceID", deviceID, "ownerID", ownerID)
	return nil
}

func (r *InMemDeviceRepository) ConsumePaperCode(ctx context.Context, ownerID, deviceID uuid.UUID, code string, at time.Time) error {
	l := r.deviceLock(deviceID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.activeLocked(ownerID, deviceID)
	if !ok || d.Kind != DeviceKindPaper {
		return ErrDeviceNotFound
	}

	codes := r.codes[deviceID]
	for i := range codes {
		if codes[i].Code != code {
			continue
		}
		if codes[i].UsedAt != nil {
			return ErrPaperCodeUsed
		}
		at = at.UTC()
		codes[i].UsedAt = &at
		d.LastUsedAt = &at
		r.devices[deviceID] = d
		return nil
	}
	return ErrPaperCodeUnknown
}

func (r *InMemDeviceRepository) ReplacePaperDevice(ctx context.Context, ownerID uuid.UUID, codes []string, at time.Time) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	at = at.UTC()
	for id, d := range r.devices {
		if d.OwnerID == ownerID && d.Kind == DeviceKindPaper && d.DeletedAt == nil {
			deletedAt := at
			d.DeletedAt = &deletedAt
			r.devices[id] = d
		}
	}

	d := Device{
		ID:      uuid.New(),
		OwnerID: ownerID,
		Kind:    DeviceKindPaper,
		AddedAt: at,
	}
	batch := make([]PaperCode, 0, len(codes))
	for _, c := range codes {
		batch = append(batch, PaperCode{ID: uuid.New(), DeviceID: d.ID, Code: c})
	}
	r.devices[d.ID] = d
	r.codes[d.ID] = batch
	slog.Debug("Paper device replaced", "deviceID", d.ID, "ownerID", ownerID, "codes", len(batch))
	return d.clone(), nil
}

func (r *InMemDeviceRepository) ActivatePaperDevice(ctx context.Context, ownerID, deviceID uuid.UUID, at time.Time) (Device, error) {
	l := r.deviceLock(deviceID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok || d.OwnerID != ownerID || d.Kind != DeviceKindPaper || !d.IsPending() {
		return Device{}, ErrDeviceNotFound
	}
	at = at.UTC()
	d.ActivatedAt = &at
	r.devices[deviceID] = d
	return d.clone(), nil
}

func (r *InMemDeviceRepository) UnusedCodes(ctx context.Context, deviceID uuid.UUID) ([]PaperCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []PaperCode
	for _, c := range r.codes[deviceID] {
		if c.UsedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *InMemDeviceRepository) CountUnusedCodes(ctx context.Context, deviceID uuid.UUID) (int, error) {
	codes, err := r.UnusedCodes(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	return len(codes), nil
}

// sortDevices orders by last_used_at ascending with nulls last, then
// added_at and id, matching the Postgres query.
func sortDevices(devices []Device) {
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := devices[i], devices[j]
		switch {
		case a.LastUsedAt != nil && b.LastUsedAt == nil:
			return true
		case a.LastUsedAt == nil && b.LastUsedAt != nil:
			return false
		case a.LastUsedAt != nil && !a.LastUsedAt.Equal(*b.LastUsedAt):
			return a.LastUsedAt.Before(*b.LastUsedAt)
		}
		if !a.AddedAt.Equal(b.AddedAt) {
			return a.AddedAt.Before(b.AddedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
}
