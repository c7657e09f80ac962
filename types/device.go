// Package types defines the core data model for TrafficBridge: devices,
// telemetry records, and the wire envelopes exchanged with the gateway,
// the broker, and browser sessions.
package types

import (
	"fmt"
	"time"

	"github.com/c360/trafficbridge/errors"
)

// DeviceType enumerates the supported sensor classes
type DeviceType string

// Supported device types
const (
	DeviceTypeTraffic       DeviceType = "traffic_sensor"
	DeviceTypeEnvironmental DeviceType = "environmental_sensor"
)

// Valid reports whether the device type is a known value
func (t DeviceType) Valid() bool {
	return t == DeviceTypeTraffic || t == DeviceTypeEnvironmental
}

// DeviceStatusActive is the default status assigned at registration
const DeviceStatusActive = "active"

// GeoPoint is a WGS84 coordinate pair
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks the coordinate ranges
func (g GeoPoint) Validate() error {
	if g.Lat < -90 || g.Lat > 90 {
		return errors.WrapInvalid(errors.ErrInvalidData, "GeoPoint", "Validate",
			fmt.Sprintf("latitude %v out of range [-90,90]", g.Lat))
	}
	if g.Lng < -180 || g.Lng > 180 {
		return errors.WrapInvalid(errors.ErrInvalidData, "GeoPoint", "Validate",
			fmt.Sprintf("longitude %v out of range [-180,180]", g.Lng))
	}
	return nil
}

// Device is a registered sensor. The EUI is globally unique for the lifetime
// of the registry; records are never deleted in this scope.
type Device struct {
	ID          int        `json:"id"`
	DeviceEUI   string     `json:"deviceEUI"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	Location    *GeoPoint  `json:"location"`
	Type        DeviceType `json:"type"`
	Status      string     `json:"status"`
	LastSeen    *time.Time `json:"lastSeen"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// DeviceInput is the registration request body
type DeviceInput struct {
	DeviceEUI   string     `json:"deviceEUI"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	Location    *GeoPoint  `json:"location"`
	Type        DeviceType `json:"type"`
}

// Validate returns the first violated constraint
func (in DeviceInput) Validate() error {
	if in.DeviceEUI == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "DeviceInput", "Validate", "deviceEUI is required")
	}
	if in.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "DeviceInput", "Validate", "name is required")
	}
	if !in.Type.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidData, "DeviceInput", "Validate",
			fmt.Sprintf("unknown device type %q", in.Type))
	}
	if in.Location != nil {
		if err := in.Location.Validate(); err != nil {
			return err
		}
	}
	return nil
}
