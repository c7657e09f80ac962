// Package lorawan connects to the sensor-network gateway over WebSocket,
// parses inbound telemetry envelopes, records them, and triggers the
// external traffic publisher.
package lorawan

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/trafficbridge/config"
	"github.com/c360/trafficbridge/errors"
	"github.com/c360/trafficbridge/metric"
	"github.com/c360/trafficbridge/pkg/retry"
	"github.com/c360/trafficbridge/storage"
	"github.com/c360/trafficbridge/types"
)

// Reconnect contract: a fixed delay between attempts and a hard cap, after
// which the client parks in StateFailed until restarted.
const (
	MaxReconnectAttempts = 5
	ReconnectDelay       = 5 * time.Second
)

// ConnectionState tracks where the gateway client is in its connection
// lifecycle.
type ConnectionState int

// Connection lifecycle states. StateFailed is terminal.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

// String returns the string representation of ConnectionState
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Publisher is the downstream consumer of derived traffic alerts
type Publisher interface {
	Publish(ctx context.Context, record *types.TelemetryRecord, location types.GeoPoint) error
}

// gatewayConn is the subset of *websocket.Conn the read loop needs,
// extracted so tests can drive the state machine without a server.
type gatewayConn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

type dialFunc func(ctx context.Context, url string, header http.Header) (gatewayConn, error)

func websocketDial(ctx context.Context, url string, header http.Header) (gatewayConn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Client owns the gateway connection lifecycle and the telemetry ingest
// path. It is constructed once and driven through Initialize/Start/Stop.
type Client struct {
	cfg       config.GatewayConfig
	registry  *storage.DeviceRegistry
	store     *storage.TelemetryStore
	publisher Publisher
	logger    *slog.Logger
	metrics   *clientMetrics

	dial    dialFunc
	backoff retry.Config

	mu      sync.Mutex
	state   ConnectionState
	attempt int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a gateway client. publisher may be nil when the external
// consumer integration is disabled.
func NewClient(cfg config.GatewayConfig, registry *storage.DeviceRegistry,
	store *storage.TelemetryStore, publisher Publisher,
	logger *slog.Logger, metricsRegistry *metric.Registry) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		publisher: publisher,
		logger:    logger,
		metrics:   newClientMetrics(metricsRegistry),
		dial:      websocketDial,
		backoff:   retry.Fixed(MaxReconnectAttempts, ReconnectDelay),
		state:     StateDisconnected,
	}
}

// Initialize validates the client's dependencies
func (c *Client) Initialize() error {
	if c.registry == nil || c.store == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "GatewayClient", "Initialize",
			"registry and store are required")
	}
	return nil
}

// State returns the current connection state
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the current reconnect attempt count
func (c *Client) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

func (c *Client) setState(state ConnectionState, attempt int) {
	c.mu.Lock()
	c.state = state
	c.attempt = attempt
	c.mu.Unlock()
	c.metrics.setState(state)
}

// Start launches the connection loop. If the gateway integration is
// disabled or its configuration is incomplete, the client logs the
// condition once and stays Disconnected; the rest of the service keeps
// running.
func (c *Client) Start(ctx context.Context) error {
	if c.done != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "GatewayClient", "Start", "check state")
	}

	if !c.cfg.Enabled {
		c.logger.Info("gateway integration disabled")
		return nil
	}
	if !c.cfg.Complete() {
		c.logger.Warn("gateway configuration incomplete, integration disabled",
			"host_set", c.cfg.Host != "",
			"port_set", c.cfg.Port > 0,
			"api_key_set", c.cfg.APIKey != "")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.connectLoop(runCtx)
	return nil
}

// Stop cancels the connection loop and waits for it to exit
func (c *Client) Stop(timeout time.Duration) error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done == nil {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "GatewayClient", "Stop",
			"connection loop did not exit")
	}
}

// connectLoop drives the connection state machine: dial, read until the
// connection drops, back off a fixed delay, and give up for good after the
// attempt budget is spent.
func (c *Client) connectLoop(ctx context.Context) {
	defer close(c.done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected, 0)
			return
		}

		c.setState(StateConnecting, attempt)
		conn, err := c.dial(ctx, c.cfg.URL(), http.Header{
			"Authorization": []string{"Bearer " + c.cfg.APIKey},
		})
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateDisconnected, 0)
				return
			}
			c.logger.Error("gateway connection failed", "url", c.cfg.URL(), "error", err)
			if !c.scheduleReconnect(ctx, &attempt) {
				return
			}
			continue
		}

		attempt = 0
		c.setState(StateConnected, 0)
		c.logger.Info("connected to gateway", "url", c.cfg.URL())

		c.readLoop(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			c.setState(StateDisconnected, 0)
			return
		}
		c.logger.Warn("gateway connection lost")
		if !c.scheduleReconnect(ctx, &attempt) {
			return
		}
	}
}

// scheduleReconnect increments the attempt counter and waits out the fixed
// backoff. It returns false when the budget is exhausted (StateFailed) or
// the context was cancelled.
func (c *Client) scheduleReconnect(ctx context.Context, attempt *int) bool {
	*attempt++
	c.metrics.recordReconnect()

	if *attempt > c.backoff.MaxAttempts {
		c.setState(StateFailed, *attempt-1)
		c.logger.Error("gateway reconnect budget exhausted, giving up",
			"attempts", c.backoff.MaxAttempts)
		return false
	}

	c.setState(StateReconnecting, *attempt)
	c.logger.Info("scheduling gateway reconnect",
		"attempt", *attempt,
		"max_attempts", c.backoff.MaxAttempts,
		"delay", c.backoff.InitialDelay)

	timer := time.NewTimer(c.backoff.InitialDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.setState(StateDisconnected, 0)
		return false
	case <-timer.C:
		return true
	}
}

// readLoop consumes gateway frames in arrival order until the connection
// drops or the context is cancelled.
func (c *Client) readLoop(ctx context.Context, conn gatewayConn) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(ctx, message)
	}
}

// handleMessage runs the ingest pipeline for one gateway frame. Malformed
// frames and frames for unknown devices are dropped without touching the
// stores; a downstream publish failure never unwinds the committed append.
func (c *Client) handleMessage(ctx context.Context, raw []byte) {
	env, err := types.ParseGatewayEnvelope(raw)
	if err != nil {
		c.metrics.recordMessage("malformed")
		c.logger.Warn("dropping malformed gateway message", "error", err)
		return
	}

	device, err := c.registry.GetByEUI(env.DeviceEUI)
	if err != nil {
		c.metrics.recordMessage("unknown_device")
		c.logger.Warn("dropping telemetry for unknown device", "device_eui", env.DeviceEUI)
		return
	}

	record := c.store.Append(env.Input().Record(device.ID))
	c.metrics.recordMessage("stored")
	c.logger.Debug("telemetry stored",
		"device_id", device.ID,
		"device_eui", device.DeviceEUI,
		"record_id", record.ID)

	if c.publisher == nil || device.Location == nil || !record.HasTrafficData() {
		return
	}

	// Fire-and-forget: a stalled sink must not delay ingestion of the next
	// gateway frame. The append above is already committed either way.
	location := *device.Location
	go func() {
		if err := c.publisher.Publish(ctx, &record, location); err != nil {
			c.logger.Warn("traffic alert publish failed",
				"device_id", device.ID,
				"error", err)
		}
	}()
}
