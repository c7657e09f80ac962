// Package config loads TrafficBridge configuration from the environment.
// All variables use the TRAFFICBRIDGE_ prefix, e.g. TRAFFICBRIDGE_GATEWAY_HOST.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/c360/trafficbridge/errors"
)

// Prefix for all environment variables
const Prefix = "trafficbridge"

// Config is the full service configuration
type Config struct {
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"5000"`
	MetricsPort int    `envconfig:"METRICS_PORT" default:"9090"`
	NATSURL     string `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`

	Relay   RelayConfig
	Gateway GatewayConfig
	Traffic TrafficConfig
}

// RelayConfig configures the browser-facing WebSocket relay
type RelayConfig struct {
	Port            int    `envconfig:"RELAY_PORT" default:"5001"`
	Path            string `envconfig:"RELAY_PATH" default:"/ws"`
	ManagedDeviceID int    `envconfig:"MANAGED_DEVICE_ID" default:"1"`
	SessionQueue    int    `envconfig:"RELAY_SESSION_QUEUE" default:"64"`
}

// GatewayConfig configures the sensor-network gateway integration. The
// integration is a no-op unless Enabled is set and the connection fields are
// complete.
type GatewayConfig struct {
	Enabled bool   `envconfig:"GATEWAY_ENABLED" default:"false"`
	Host    string `envconfig:"GATEWAY_HOST"`
	Port    int    `envconfig:"GATEWAY_PORT"`
	APIKey  string `envconfig:"GATEWAY_API_KEY"`
}

// Complete reports whether every field required to dial the gateway is set
func (g GatewayConfig) Complete() bool {
	return g.Host != "" && g.Port > 0 && g.APIKey != ""
}

// URL returns the gateway WebSocket endpoint
func (g GatewayConfig) URL() string {
	return fmt.Sprintf("ws://%s:%d/ws", g.Host, g.Port)
}

// TrafficConfig configures the external traffic-data consumer
type TrafficConfig struct {
	BaseURL string        `envconfig:"TRAFFIC_BASE_URL" default:"https://api.waze.com/traffic-data"`
	APIKey  string        `envconfig:"TRAFFIC_API_KEY"`
	Timeout time.Duration `envconfig:"TRAFFIC_TIMEOUT" default:"10s"`
	Retries int           `envconfig:"TRAFFIC_RETRIES" default:"2"`
}

// Load reads configuration from the environment and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "process environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate returns the first violated constraint
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("http port %d out of range", c.HTTPPort))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("metrics port %d out of range", c.MetricsPort))
	}
	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("relay port %d out of range", c.Relay.Port))
	}
	if c.Relay.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"relay path cannot be empty")
	}
	if c.Relay.ManagedDeviceID < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("managed device id %d must be >= 1", c.Relay.ManagedDeviceID))
	}
	if c.Relay.SessionQueue < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"relay session queue must be >= 1")
	}
	if c.NATSURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"NATS URL cannot be empty")
	}
	if c.Traffic.Retries < 0 || c.Traffic.Retries > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("traffic retries %d out of range [0,10]", c.Traffic.Retries))
	}
	if c.Traffic.Timeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"traffic timeout must be positive")
	}
	return nil
}
