package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/trafficbridge/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.HTTPPort)
	assert.Equal(t, 5001, cfg.Relay.Port)
	assert.Equal(t, "/ws", cfg.Relay.Path)
	assert.Equal(t, 1, cfg.Relay.ManagedDeviceID)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	assert.False(t, cfg.Gateway.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TRAFFICBRIDGE_HTTP_PORT", "8088")
	t.Setenv("TRAFFICBRIDGE_GATEWAY_ENABLED", "true")
	t.Setenv("TRAFFICBRIDGE_GATEWAY_HOST", "lora.example.net")
	t.Setenv("TRAFFICBRIDGE_GATEWAY_PORT", "8080")
	t.Setenv("TRAFFICBRIDGE_GATEWAY_API_KEY", "secret")
	t.Setenv("TRAFFICBRIDGE_TRAFFIC_API_KEY", "waze-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.HTTPPort)
	assert.True(t, cfg.Gateway.Enabled)
	assert.True(t, cfg.Gateway.Complete())
	assert.Equal(t, "ws://lora.example.net:8080/ws", cfg.Gateway.URL())
	assert.Equal(t, "waze-key", cfg.Traffic.APIKey)
}

func TestGatewayConfigComplete(t *testing.T) {
	assert.False(t, GatewayConfig{}.Complete())
	assert.False(t, GatewayConfig{Host: "h", Port: 8080}.Complete())
	assert.False(t, GatewayConfig{Host: "h", APIKey: "k"}.Complete())
	assert.True(t, GatewayConfig{Host: "h", Port: 8080, APIKey: "k"}.Complete())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"http port out of range", map[string]string{"TRAFFICBRIDGE_HTTP_PORT": "70000"}},
		{"relay path empty", map[string]string{"TRAFFICBRIDGE_RELAY_PATH": ""}},
		{"managed device id zero", map[string]string{"TRAFFICBRIDGE_MANAGED_DEVICE_ID": "0"}},
		{"nats url empty", map[string]string{"TRAFFICBRIDGE_NATS_URL": ""}},
		{"too many retries", map[string]string{"TRAFFICBRIDGE_TRAFFIC_RETRIES": "11"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err) || errors.IsFatal(err))
		})
	}
}
