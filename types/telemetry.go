package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/trafficbridge/errors"
)

// RoadCondition enumerates reported road surface states
type RoadCondition string

// Known road conditions
const (
	RoadNormal  RoadCondition = "normal"
	RoadWet     RoadCondition = "wet"
	RoadIcy     RoadCondition = "icy"
	RoadUnknown RoadCondition = "unknown"
)

// Valid reports whether the road condition is a known value
func (rc RoadCondition) Valid() bool {
	switch rc {
	case RoadNormal, RoadWet, RoadIcy, RoadUnknown:
		return true
	}
	return false
}

// TelemetryRecord is one ingested sample. Records are immutable once
// created and retained for the process lifetime. Fields the sensor did not
// report are nil.
type TelemetryRecord struct {
	ID            int             `json:"id"`
	DeviceID      int             `json:"deviceId"`
	Timestamp     time.Time       `json:"timestamp"`
	TrafficLevel  *float64        `json:"trafficLevel"`
	VehicleCount  *int            `json:"vehicleCount"`
	AverageSpeed  *float64        `json:"averageSpeed"`
	RoadCondition *RoadCondition  `json:"roadCondition"`
	Temperature   *float64        `json:"temperature"`
	Humidity      *float64        `json:"humidity"`
	BatteryLevel  *float64        `json:"batteryLevel"`
	RSSI          *int            `json:"rssi"`
	RawData       json.RawMessage `json:"rawData"`
}

// HasTrafficData reports whether the record carries congestion or speed
// data. Records without either are never forwarded downstream.
func (r TelemetryRecord) HasTrafficData() bool {
	return r.TrafficLevel != nil || r.AverageSpeed != nil
}

// TelemetryInput is the validated payload for constructing a record, used by
// both the gateway ingest path and the manual HTTP ingestion endpoint.
type TelemetryInput struct {
	TrafficLevel  *float64        `json:"trafficLevel,omitempty"`
	VehicleCount  *int            `json:"vehicleCount,omitempty"`
	AverageSpeed  *float64        `json:"averageSpeed,omitempty"`
	RoadCondition *RoadCondition  `json:"roadCondition,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	Humidity      *float64        `json:"humidity,omitempty"`
	BatteryLevel  *float64        `json:"batteryLevel,omitempty"`
	RSSI          *int            `json:"rssi,omitempty"`
	RawData       json.RawMessage `json:"rawData,omitempty"`
}

// Validate returns the first violated constraint
func (in TelemetryInput) Validate() error {
	if in.TrafficLevel != nil && (*in.TrafficLevel < 0 || *in.TrafficLevel > 1) {
		return errors.WrapInvalid(errors.ErrInvalidData, "TelemetryInput", "Validate",
			fmt.Sprintf("trafficLevel %v out of range [0,1]", *in.TrafficLevel))
	}
	if in.VehicleCount != nil && *in.VehicleCount < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "TelemetryInput", "Validate",
			fmt.Sprintf("vehicleCount %d must be >= 0", *in.VehicleCount))
	}
	if in.AverageSpeed != nil && *in.AverageSpeed < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "TelemetryInput", "Validate",
			fmt.Sprintf("averageSpeed %v must be >= 0", *in.AverageSpeed))
	}
	if in.RoadCondition != nil && !in.RoadCondition.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidData, "TelemetryInput", "Validate",
			fmt.Sprintf("unknown road condition %q", *in.RoadCondition))
	}
	return nil
}

// Record builds an unsaved TelemetryRecord for the given device
func (in TelemetryInput) Record(deviceID int) TelemetryRecord {
	return TelemetryRecord{
		DeviceID:      deviceID,
		TrafficLevel:  in.TrafficLevel,
		VehicleCount:  in.VehicleCount,
		AverageSpeed:  in.AverageSpeed,
		RoadCondition: in.RoadCondition,
		Temperature:   in.Temperature,
		Humidity:      in.Humidity,
		BatteryLevel:  in.BatteryLevel,
		RSSI:          in.RSSI,
		RawData:       in.RawData,
	}
}
