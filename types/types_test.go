package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/trafficbridge/errors"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestDeviceInputValidate(t *testing.T) {
	valid := DeviceInput{
		DeviceEUI: "AA11BB22CC33DD44",
		Name:      "North Sensor",
		Location:  &GeoPoint{Lat: 31.73, Lng: -106.44},
		Type:      DeviceTypeTraffic,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*DeviceInput)
	}{
		{"missing EUI", func(in *DeviceInput) { in.DeviceEUI = "" }},
		{"missing name", func(in *DeviceInput) { in.Name = "" }},
		{"unknown type", func(in *DeviceInput) { in.Type = "thermostat" }},
		{"latitude out of range", func(in *DeviceInput) { in.Location = &GeoPoint{Lat: 91, Lng: 0} }},
		{"longitude out of range", func(in *DeviceInput) { in.Location = &GeoPoint{Lat: 0, Lng: -181} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			err := in.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestDeviceInputAllowsNilLocation(t *testing.T) {
	in := DeviceInput{DeviceEUI: "FF00", Name: "Indoor", Type: DeviceTypeEnvironmental}
	assert.NoError(t, in.Validate())
}

func TestTelemetryInputValidate(t *testing.T) {
	require.NoError(t, TelemetryInput{}.Validate())

	bad := RoadCondition("muddy")
	tests := []struct {
		name  string
		input TelemetryInput
	}{
		{"trafficLevel above 1", TelemetryInput{TrafficLevel: floatPtr(1.5)}},
		{"trafficLevel negative", TelemetryInput{TrafficLevel: floatPtr(-0.1)}},
		{"negative vehicleCount", TelemetryInput{VehicleCount: intPtr(-1)}},
		{"negative averageSpeed", TelemetryInput{AverageSpeed: floatPtr(-5)}},
		{"unknown roadCondition", TelemetryInput{RoadCondition: &bad}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestHasTrafficData(t *testing.T) {
	assert.False(t, TelemetryRecord{}.HasTrafficData())
	assert.True(t, TelemetryRecord{TrafficLevel: floatPtr(0.8)}.HasTrafficData())
	assert.True(t, TelemetryRecord{AverageSpeed: floatPtr(45)}.HasTrafficData())
}

func TestParseGatewayEnvelope(t *testing.T) {
	raw := []byte(`{
		"deviceEUI": "AA11BB22CC33DD44",
		"rssi": -87,
		"data": {"trafficLevel": 0.8, "vehicleCount": 12, "roadCondition": "wet"}
	}`)

	env, err := ParseGatewayEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "AA11BB22CC33DD44", env.DeviceEUI)
	require.NotNil(t, env.RSSI)
	assert.Equal(t, -87, *env.RSSI)

	in := env.Input()
	require.NotNil(t, in.TrafficLevel)
	assert.InDelta(t, 0.8, *in.TrafficLevel, 1e-9)
	require.NotNil(t, in.RoadCondition)
	assert.Equal(t, RoadWet, *in.RoadCondition)
	assert.Nil(t, in.AverageSpeed)
	assert.NotEmpty(t, in.RawData)
}

func TestParseGatewayEnvelopeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"not json":          []byte(`{{{`),
		"missing deviceEUI": []byte(`{"data":{"trafficLevel":0.5}}`),
		"invalid reading":   []byte(`{"deviceEUI":"AA","data":{"trafficLevel":7}}`),
		"wrong value types": []byte(`{"deviceEUI":"AA","data":{"vehicleCount":"many"}}`),
		"negative speed":    []byte(`{"deviceEUI":"AA","data":{"averageSpeed":-3}}`),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGatewayEnvelope(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrMalformedMessage))
		})
	}
}

func TestParseSetTimeCommand(t *testing.T) {
	cmd, err := ParseSetTimeCommand([]byte(`{"type":"set_time","color":"green","value":45}`))
	require.NoError(t, err)
	assert.Equal(t, "green", cmd.Color)
	assert.InDelta(t, 45, *cmd.Value, 1e-9)
}

func TestParseSetTimeCommandMalformed(t *testing.T) {
	cases := map[string][]byte{
		"not json":      []byte(`set_time green 45`),
		"wrong type":    []byte(`{"type":"set_color","color":"green","value":45}`),
		"unknown color": []byte(`{"type":"set_time","color":"blue","value":45}`),
		"missing value": []byte(`{"type":"set_time","color":"red"}`),
		"negative":      []byte(`{"type":"set_time","color":"red","value":-1}`),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSetTimeCommand(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrMalformedMessage))
		})
	}
}

func TestSocketEnvelopeShapes(t *testing.T) {
	status, err := json.Marshal(NewStatusEnvelope(true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"status","connected":true}`, string(status))

	msg, err := json.Marshal(NewBrokerMessageEnvelope("managed/device/00000001/info/cars/detect", "7"))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"mqtt_message","topic":"managed/device/00000001/info/cars/detect","payload":"7"}`,
		string(msg))
}
