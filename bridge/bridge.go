// Package bridge relays broker traffic to browser WebSocket sessions and
// operator commands back to the broker. It owns the browser-facing
// WebSocket endpoint, the session set, and the per-device state snapshots
// derived from broker messages.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/trafficbridge/config"
	"github.com/c360/trafficbridge/errors"
	"github.com/c360/trafficbridge/metric"
	"github.com/c360/trafficbridge/types"
)

// Broker is the subset of the broker client the bridge needs. Satisfied by
// *natsclient.Client.
type Broker interface {
	SubscribeWithSubject(ctx context.Context, subject string, handler func(context.Context, string, []byte)) error
	Publish(ctx context.Context, subject string, data []byte) error
	IsConnected() bool
}

// Bridge fans broker messages out to browser sessions and relays operator
// commands back onto the broker.
type Bridge struct {
	cfg     config.RelayConfig
	broker  Broker
	logger  *slog.Logger
	metrics *bridgeMetrics

	upgrader websocket.Upgrader

	sessions  map[string]*session
	sessionMu sync.RWMutex

	// Latest per-device snapshots derived from broker traffic, keyed by
	// padded device id.
	states  map[string]types.DeviceSnapshot
	stateMu sync.RWMutex

	connected atomic.Bool

	server *http.Server
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a bridge serving the relay endpoint from cfg
func New(cfg config.RelayConfig, broker Broker, logger *slog.Logger, registry *metric.Registry) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:    cfg,
		broker: broker,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
		states:   make(map[string]types.DeviceSnapshot),
		metrics:  newBridgeMetrics(registry),
	}
}

// Initialize validates the bridge dependencies
func (b *Bridge) Initialize() error {
	if b.broker == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "Bridge", "Initialize",
			"broker client is required")
	}
	return nil
}

// Start subscribes to the managed-device wildcard and begins accepting
// browser sessions.
func (b *Bridge) Start(ctx context.Context) error {
	if b.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bridge", "Start", "check state")
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.connected.Store(b.broker.IsConnected())

	subject := ToSubject(InfoWildcard(b.cfg.ManagedDeviceID))
	if err := b.broker.SubscribeWithSubject(runCtx, subject, b.handleBrokerMessage); err != nil {
		cancel()
		return errors.WrapTransient(errors.ErrSubscriptionFailed, "Bridge", "Start",
			fmt.Sprintf("subscribe to %s: %v", subject, err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc(b.cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		b.handleSession(runCtx, w, r)
	})

	b.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", b.cfg.Port),
		Handler: mux,
	}

	go func() {
		b.logger.Info("relay listening", "port", b.cfg.Port, "path", b.cfg.Path)
		if err := b.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			b.logger.Error("relay server failed", "error", err)
		}
	}()

	return nil
}

// Stop closes all sessions and shuts the relay endpoint down
func (b *Bridge) Stop(timeout time.Duration) error {
	if b.cancel != nil {
		b.cancel()
	}

	b.sessionMu.Lock()
	for id, s := range b.sessions {
		s.close()
		delete(b.sessions, id)
	}
	b.sessionMu.Unlock()
	b.metrics.setSessions(0)

	if b.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := b.server.Shutdown(ctx)
	b.server = nil

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
	return err
}

// SessionCount returns the number of currently connected sessions
func (b *Bridge) SessionCount() int {
	b.sessionMu.RLock()
	defer b.sessionMu.RUnlock()
	return len(b.sessions)
}

// HandleBrokerUp broadcasts a connected status to all sessions. Wired to
// the broker client's reconnect callback.
func (b *Bridge) HandleBrokerUp() {
	b.connected.Store(true)
	b.broadcastJSON(types.NewStatusEnvelope(true))
}

// HandleBrokerDown broadcasts a disconnected status to all sessions. Wired
// to the broker client's disconnect callback.
func (b *Bridge) HandleBrokerDown() {
	b.connected.Store(false)
	b.broadcastJSON(types.NewStatusEnvelope(false))
}

// handleSession upgrades one HTTP request into a browser session and runs
// its read loop until disconnect.
func (b *Bridge) handleSession(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("session upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s := newSession(uuid.NewString(), conn, b.cfg.SessionQueue)

	b.sessionMu.Lock()
	b.sessions[s.id] = s
	count := len(b.sessions)
	b.sessionMu.Unlock()
	b.metrics.setSessions(count)
	b.logger.Info("session joined", "session_id", s.id, "sessions", count)

	go s.writeLoop(b.logger)

	// Greet the session with current broker status and the full snapshot
	// set before any broadcast reaches it.
	b.sendJSON(s, types.NewStatusEnvelope(b.connected.Load()))
	b.sendJSON(s, types.DeviceStatesEnvelope{
		Type: types.SocketTypeDeviceStates,
		Data: b.snapshotStates(),
	})

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.readLoop(ctx, s)
	}()
}

// readLoop consumes operator commands from one session until it disconnects
func (b *Bridge) readLoop(ctx context.Context, s *session) {
	defer b.removeSession(s)
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		b.handleCommand(ctx, s, message)
	}
}

func (b *Bridge) removeSession(s *session) {
	s.close()
	b.sessionMu.Lock()
	delete(b.sessions, s.id)
	count := len(b.sessions)
	b.sessionMu.Unlock()
	b.metrics.setSessions(count)
	b.logger.Info("session left", "session_id", s.id, "sessions", count)
}

// handleCommand relays one operator command to the broker. Malformed
// commands are logged and dropped; they never reach the broker.
func (b *Bridge) handleCommand(ctx context.Context, s *session, raw []byte) {
	cmd, err := types.ParseSetTimeCommand(raw)
	if err != nil {
		b.metrics.recordCommand("malformed")
		b.logger.Warn("dropping malformed session command", "session_id", s.id, "error", err)
		return
	}

	topic := SetTimeTopic(b.cfg.ManagedDeviceID, cmd.Color)
	payload := strconv.FormatFloat(*cmd.Value, 'f', -1, 64)
	if err := b.broker.Publish(ctx, ToSubject(topic), []byte(payload)); err != nil {
		b.metrics.recordCommand("publish_failed")
		b.logger.Error("command relay failed", "topic", topic, "error", err)
		return
	}

	b.metrics.recordCommand("relayed")
	b.logger.Debug("command relayed", "topic", topic, "value", payload)
}

// handleBrokerMessage relays one broker message to every session and folds
// it into the per-device state snapshots.
func (b *Bridge) handleBrokerMessage(_ context.Context, subject string, data []byte) {
	topic := ToTopic(subject)
	payload := string(data)
	b.metrics.recordBrokerMessage()

	b.broadcastJSON(types.NewBrokerMessageEnvelope(topic, payload))

	if snapshot, ok := b.applyReading(topic, payload); ok {
		b.broadcastJSON(types.DeviceUpdateEnvelope{
			Type: types.SocketTypeDeviceUpdate,
			Data: snapshot,
		})
	}
}

// applyReading folds one telemetry reading into the device's snapshot.
// Non-numeric payloads and topics outside the info branch are ignored.
func (b *Bridge) applyReading(topic, payload string) (types.DeviceSnapshot, bool) {
	deviceID, suffix, ok := infoSuffix(topic)
	if !ok {
		return types.DeviceSnapshot{}, false
	}
	value, err := strconv.Atoi(payload)
	if err != nil {
		b.logger.Debug("ignoring non-numeric reading", "topic", topic, "payload", payload)
		return types.DeviceSnapshot{}, false
	}

	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	snapshot, exists := b.states[deviceID]
	if !exists {
		snapshot = types.DeviceSnapshot{
			DeviceID: deviceID,
			Data:     make(map[string]int),
			Status:   "online",
		}
	}
	snapshot.Data[suffix] = value
	snapshot.Timestamp = time.Now().UTC().Format(time.RFC3339)
	b.states[deviceID] = snapshot

	return snapshot, true
}

// snapshotStates returns a copy of all device snapshots
func (b *Bridge) snapshotStates() []types.DeviceSnapshot {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()

	out := make([]types.DeviceSnapshot, 0, len(b.states))
	for _, snapshot := range b.states {
		copied := snapshot
		copied.Data = make(map[string]int, len(snapshot.Data))
		for k, v := range snapshot.Data {
			copied.Data[k] = v
		}
		out = append(out, copied)
	}
	return out
}

// broadcastJSON delivers one envelope to every session present at broadcast
// time. Sessions with full queues are skipped; they catch up or die on
// their own.
func (b *Bridge) broadcastJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("broadcast marshal failed", "error", err)
		return
	}

	b.sessionMu.RLock()
	targets := make([]*session, 0, len(b.sessions))
	for _, s := range b.sessions {
		targets = append(targets, s)
	}
	b.sessionMu.RUnlock()

	for _, s := range targets {
		if !s.enqueue(data) {
			b.metrics.recordSkip()
			b.logger.Debug("skipping session for broadcast", "session_id", s.id)
		}
	}
}

func (b *Bridge) sendJSON(s *session, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("session send marshal failed", "error", err)
		return
	}
	if !s.enqueue(data) {
		b.logger.Debug("session queue full on send", "session_id", s.id)
	}
}
