package types

import (
	"encoding/json"

	"github.com/c360/trafficbridge/errors"
)

// GatewayEnvelope is the telemetry message shape delivered by the sensor
// network gateway. The nested data block carries the sensor readings; RSSI
// is reported at the envelope level by the gateway itself.
type GatewayEnvelope struct {
	DeviceEUI string          `json:"deviceEUI"`
	RSSI      *int            `json:"rssi,omitempty"`
	Data      GatewayData     `json:"data"`
	Raw       json.RawMessage `json:"-"`
}

// GatewayData holds the sensor readings inside a gateway envelope
type GatewayData struct {
	TrafficLevel  *float64       `json:"trafficLevel,omitempty"`
	VehicleCount  *int           `json:"vehicleCount,omitempty"`
	AverageSpeed  *float64       `json:"averageSpeed,omitempty"`
	RoadCondition *RoadCondition `json:"roadCondition,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	Humidity      *float64       `json:"humidity,omitempty"`
	BatteryLevel  *float64       `json:"batteryLevel,omitempty"`
}

// ParseGatewayEnvelope decodes and validates a raw gateway frame. Anything
// that does not decode into the closed envelope shape, or is missing the
// device identifier, is a MalformedMessage.
func ParseGatewayEnvelope(raw []byte) (*GatewayEnvelope, error) {
	var env GatewayEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.WrapInvalid(errors.ErrMalformedMessage, "GatewayEnvelope", "Parse", err.Error())
	}
	if env.DeviceEUI == "" {
		return nil, errors.WrapInvalid(errors.ErrMalformedMessage, "GatewayEnvelope", "Parse",
			"missing deviceEUI")
	}
	if err := env.Input().Validate(); err != nil {
		return nil, errors.WrapInvalid(errors.ErrMalformedMessage, "GatewayEnvelope", "Parse", err.Error())
	}
	env.Raw = json.RawMessage(raw)
	return &env, nil
}

// Input converts the envelope's readings into a TelemetryInput. The nested
// data block is preserved verbatim as the record's raw payload.
func (e *GatewayEnvelope) Input() TelemetryInput {
	var raw json.RawMessage
	if data, err := json.Marshal(e.Data); err == nil {
		raw = data
	}
	return TelemetryInput{
		TrafficLevel:  e.Data.TrafficLevel,
		VehicleCount:  e.Data.VehicleCount,
		AverageSpeed:  e.Data.AverageSpeed,
		RoadCondition: e.Data.RoadCondition,
		Temperature:   e.Data.Temperature,
		Humidity:      e.Data.Humidity,
		BatteryLevel:  e.Data.BatteryLevel,
		RSSI:          e.RSSI,
		RawData:       raw,
	}
}

// Socket envelope kinds (server to browser)
const (
	SocketTypeStatus        = "status"
	SocketTypeBrokerMessage = "mqtt_message"
	SocketTypeDeviceUpdate  = "deviceUpdate"
	SocketTypeDeviceStates  = "deviceStates"
)

// SocketTypeSetTime is the operator command kind (browser to server)
const SocketTypeSetTime = "set_time"

// StatusEnvelope reports broker connectivity to browser sessions
type StatusEnvelope struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
}

// NewStatusEnvelope builds a status envelope
func NewStatusEnvelope(connected bool) StatusEnvelope {
	return StatusEnvelope{Type: SocketTypeStatus, Connected: connected}
}

// BrokerMessageEnvelope relays one broker message to browser sessions
type BrokerMessageEnvelope struct {
	Type    string `json:"type"`
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

// NewBrokerMessageEnvelope builds a relayed broker-message envelope
func NewBrokerMessageEnvelope(topic, payload string) BrokerMessageEnvelope {
	return BrokerMessageEnvelope{Type: SocketTypeBrokerMessage, Topic: topic, Payload: payload}
}

// DeviceSnapshot is the per-device state the bridge derives from broker
// traffic and pushes to browser sessions.
type DeviceSnapshot struct {
	DeviceID  string         `json:"deviceId"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]int `json:"data"`
	Status    string         `json:"status"`
}

// DeviceUpdateEnvelope announces a single changed device snapshot
type DeviceUpdateEnvelope struct {
	Type string         `json:"type"`
	Data DeviceSnapshot `json:"data"`
}

// DeviceStatesEnvelope carries the full snapshot set, sent to a session on join
type DeviceStatesEnvelope struct {
	Type string           `json:"type"`
	Data []DeviceSnapshot `json:"data"`
}

// SetTimeCommand is the operator command relayed to the broker
type SetTimeCommand struct {
	Type  string   `json:"type"`
	Color string   `json:"color"`
	Value *float64 `json:"value"`
}

// Valid light colors for set_time commands
const (
	LightGreen = "green"
	LightRed   = "red"
)

// ParseSetTimeCommand decodes and validates an inbound session command
func ParseSetTimeCommand(raw []byte) (*SetTimeCommand, error) {
	var cmd SetTimeCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, errors.WrapInvalid(errors.ErrMalformedMessage, "SetTimeCommand", "Parse", err.Error())
	}
	if cmd.Type != SocketTypeSetTime {
		return nil, errors.WrapInvalid(errors.ErrMalformedMessage, "SetTimeCommand", "Parse",
			"unknown message type "+cmd.Type)
	}
	if cmd.Color != LightGreen && cmd.Color != LightRed {
		return nil, errors.WrapInvalid(errors.ErrMalformedMessage, "SetTimeCommand", "Parse",
			"unknown light color "+cmd.Color)
	}
	if cmd.Value == nil || *cmd.Value < 0 {
		return nil, errors.WrapInvalid(errors.ErrMalformedMessage, "SetTimeCommand", "Parse",
			"value must be a non-negative number")
	}
	return &cmd, nil
}
