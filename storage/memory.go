// Package storage provides the in-process device registry and telemetry
// store. Both are safe for concurrent use from the HTTP layer and the
// gateway ingest path and live for the process lifetime only.
package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/c360/trafficbridge/errors"
	"github.com/c360/trafficbridge/types"
)

// DeviceRegistry holds registered devices keyed by id and EUI. Ids are
// monotonic starting at 1; EUI uniqueness is enforced for the registry's
// lifetime and violating writes are rejected.
type DeviceRegistry struct {
	mu      sync.RWMutex
	byID    map[int]*types.Device
	byEUI   map[string]*types.Device
	ordered []int
	nextID  int
}

// NewDeviceRegistry creates an empty registry
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		byID:   make(map[int]*types.Device),
		byEUI:  make(map[string]*types.Device),
		nextID: 1,
	}
}

// Register assigns the next id and stores the device. Returns ErrDuplicateEUI
// if the external identifier is already registered; existing records are
// left untouched.
func (r *DeviceRegistry) Register(in types.DeviceInput) (types.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEUI[in.DeviceEUI]; exists {
		return types.Device{}, errors.Wrap(errors.ErrDuplicateEUI, "DeviceRegistry", "Register",
			fmt.Sprintf("insert device %s", in.DeviceEUI))
	}

	device := &types.Device{
		ID:          r.nextID,
		DeviceEUI:   in.DeviceEUI,
		Name:        in.Name,
		Description: in.Description,
		Location:    in.Location,
		Type:        in.Type,
		Status:      types.DeviceStatusActive,
		CreatedAt:   time.Now().UTC(),
	}
	r.nextID++

	r.byID[device.ID] = device
	r.byEUI[device.DeviceEUI] = device
	r.ordered = append(r.ordered, device.ID)

	return *device, nil
}

// Get returns the device with the given id
func (r *DeviceRegistry) Get(id int) (types.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.byID[id]
	if !ok {
		return types.Device{}, errors.Wrap(errors.ErrDeviceNotFound, "DeviceRegistry", "Get",
			fmt.Sprintf("lookup id %d", id))
	}
	return *device, nil
}

// GetByEUI returns the device with the given external identifier
func (r *DeviceRegistry) GetByEUI(eui string) (types.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.byEUI[eui]
	if !ok {
		return types.Device{}, errors.Wrap(errors.ErrDeviceNotFound, "DeviceRegistry", "GetByEUI",
			fmt.Sprintf("lookup EUI %s", eui))
	}
	return *device, nil
}

// List returns all devices in insertion order
func (r *DeviceRegistry) List() []types.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]types.Device, 0, len(r.ordered))
	for _, id := range r.ordered {
		devices = append(devices, *r.byID[id])
	}
	return devices
}

// TouchLastSeen updates the device's last-seen timestamp. Unknown ids are
// ignored; the caller has already resolved the device on the ingest path.
func (r *DeviceRegistry) TouchLastSeen(id int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if device, ok := r.byID[id]; ok {
		t := at
		device.LastSeen = &t
	}
}

// TelemetryStore is the append-only telemetry log. Ids are monotonic from 1
// on a counter independent of the device registry. No eviction: retention is
// bounded by process lifetime by design.
type TelemetryStore struct {
	mu       sync.RWMutex
	byDevice map[int][]types.TelemetryRecord
	nextID   int
	count    int

	registry *DeviceRegistry
}

// DefaultHistoryLimit bounds History queries when the caller passes limit <= 0
const DefaultHistoryLimit = 100

// NewTelemetryStore creates an empty store. The registry is used to update
// device last-seen timestamps on append.
func NewTelemetryStore(registry *DeviceRegistry) *TelemetryStore {
	return &TelemetryStore{
		byDevice: make(map[int][]types.TelemetryRecord),
		nextID:   1,
		registry: registry,
	}
}

// Append assigns an id, defaults the capture timestamp to now, and stores the
// record. The caller is responsible for having validated the device
// reference. The owning device's last-seen timestamp is refreshed.
func (s *TelemetryStore) Append(record types.TelemetryRecord) types.TelemetryRecord {
	s.mu.Lock()
	record.ID = s.nextID
	s.nextID++
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	s.byDevice[record.DeviceID] = append(s.byDevice[record.DeviceID], record)
	s.count++
	s.mu.Unlock()

	if s.registry != nil {
		s.registry.TouchLastSeen(record.DeviceID, record.Timestamp)
	}

	return record
}

// History returns up to limit records for the device, most-recent-first.
// limit <= 0 selects DefaultHistoryLimit.
func (s *TelemetryStore) History(deviceID, limit int) []types.TelemetryRecord {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.byDevice[deviceID]
	n := len(records)
	if limit > n {
		limit = n
	}

	out := make([]types.TelemetryRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, records[i])
	}
	return out
}

// Latest returns the most recent record for the device
func (s *TelemetryStore) Latest(deviceID int) (types.TelemetryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.byDevice[deviceID]
	if len(records) == 0 {
		return types.TelemetryRecord{}, errors.Wrap(errors.ErrDeviceNotFound, "TelemetryStore", "Latest",
			fmt.Sprintf("no telemetry for device %d", deviceID))
	}
	return records[len(records)-1], nil
}

// Len returns the total number of stored records
func (s *TelemetryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
