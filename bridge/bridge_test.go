package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/trafficbridge/config"
)

type published struct {
	subject string
	payload string
}

type fakeBroker struct {
	mu        sync.Mutex
	connected bool
	messages  []published
}

func (f *fakeBroker) SubscribeWithSubject(context.Context, string,
	func(context.Context, string, []byte)) error {
	return nil
}

func (f *fakeBroker) Publish(_ context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{subject: subject, payload: string(data)})
	return nil
}

func (f *fakeBroker) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) publishes() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.messages...)
}

func relayConfig() config.RelayConfig {
	return config.RelayConfig{Port: 5001, Path: "/ws", ManagedDeviceID: 1, SessionQueue: 64}
}

// testBridge serves the session endpoint through httptest instead of the
// bridge's own listener.
func testBridge(t *testing.T, broker *fakeBroker) (*Bridge, *httptest.Server) {
	t.Helper()
	b := New(relayConfig(), broker, nil, nil)
	require.NoError(t, b.Initialize())
	b.connected.Store(broker.IsConnected())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.handleSession(context.Background(), w, r)
	}))
	t.Cleanup(server.Close)
	return b, server
}

func dialSession(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(data, &envelope))
	return envelope
}

// consumeGreeting reads the status and deviceStates envelopes every session
// receives on join.
func consumeGreeting(t *testing.T, conn *websocket.Conn) (status, states map[string]any) {
	t.Helper()
	status = readEnvelope(t, conn)
	require.Equal(t, "status", status["type"])
	states = readEnvelope(t, conn)
	require.Equal(t, "deviceStates", states["type"])
	return status, states
}

func waitForSessions(t *testing.T, b *Bridge, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.SessionCount() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session count never reached %d, still %d", want, b.SessionCount())
}

func TestSessionJoinReceivesStatusAndStates(t *testing.T) {
	broker := &fakeBroker{connected: true}
	b, server := testBridge(t, broker)

	// Seed one device snapshot before the session joins.
	b.handleBrokerMessage(context.Background(), "managed.device.00000001.info.cars.detect", []byte("3"))

	conn := dialSession(t, server)
	status, states := consumeGreeting(t, conn)

	assert.Equal(t, true, status["connected"])

	snapshots := states["data"].([]any)
	require.Len(t, snapshots, 1)
	snapshot := snapshots[0].(map[string]any)
	assert.Equal(t, "00000001", snapshot["deviceId"])
	assert.Equal(t, float64(3), snapshot["data"].(map[string]any)["cars/detect"])
}

func TestBroadcastReachesAllSessions(t *testing.T) {
	broker := &fakeBroker{connected: true}
	b, server := testBridge(t, broker)

	first := dialSession(t, server)
	second := dialSession(t, server)
	consumeGreeting(t, first)
	consumeGreeting(t, second)
	waitForSessions(t, b, 2)

	b.handleBrokerMessage(context.Background(),
		"managed.device.00000001.info.time.light.green", []byte("30"))

	for _, conn := range []*websocket.Conn{first, second} {
		relayed := readEnvelope(t, conn)
		assert.Equal(t, "mqtt_message", relayed["type"])
		assert.Equal(t, "managed/device/00000001/info/time/light/green", relayed["topic"])
		assert.Equal(t, "30", relayed["payload"])

		update := readEnvelope(t, conn)
		assert.Equal(t, "deviceUpdate", update["type"])
		data := update["data"].(map[string]any)
		assert.Equal(t, "00000001", data["deviceId"])
		assert.Equal(t, float64(30), data["data"].(map[string]any)["time/light/green"])
	}
}

func TestNonNumericPayloadSkipsDeviceUpdate(t *testing.T) {
	broker := &fakeBroker{connected: true}
	b, server := testBridge(t, broker)

	conn := dialSession(t, server)
	consumeGreeting(t, conn)
	waitForSessions(t, b, 1)

	b.handleBrokerMessage(context.Background(),
		"managed.device.00000001.info.status", []byte("rebooting"))
	b.handleBrokerMessage(context.Background(),
		"managed.device.00000001.info.cars.detect", []byte("5"))

	relayed := readEnvelope(t, conn)
	assert.Equal(t, "mqtt_message", relayed["type"])
	assert.Equal(t, "rebooting", relayed["payload"])

	// The next frame is the second broker message, not a deviceUpdate for
	// the first.
	next := readEnvelope(t, conn)
	assert.Equal(t, "mqtt_message", next["type"])
	assert.Equal(t, "5", next["payload"])
}

func TestSetTimeCommandRelay(t *testing.T) {
	broker := &fakeBroker{connected: true}
	b, server := testBridge(t, broker)

	conn := dialSession(t, server)
	consumeGreeting(t, conn)
	waitForSessions(t, b, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"set_time","color":"green","value":45}`)))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(broker.publishes()) == 0 {
		time.Sleep(time.Millisecond)
	}

	messages := broker.publishes()
	require.Len(t, messages, 1)
	assert.Equal(t, "managed.device.00000001.set.time.light.green", messages[0].subject)
	assert.Equal(t, "45", messages[0].payload)
}

func TestMalformedCommandsNeverReachBroker(t *testing.T) {
	broker := &fakeBroker{connected: true}
	b, server := testBridge(t, broker)

	conn := dialSession(t, server)
	consumeGreeting(t, conn)
	waitForSessions(t, b, 1)

	for _, raw := range []string{
		`not json`,
		`{"type":"set_time","color":"blue","value":45}`,
		`{"type":"set_time","color":"green"}`,
		`{"type":"set_time","color":"green","value":-1}`,
		`{"type":"other","color":"green","value":45}`,
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
	}

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, broker.publishes())
}

func TestBrokerStatusBroadcast(t *testing.T) {
	broker := &fakeBroker{connected: true}
	b, server := testBridge(t, broker)

	conn := dialSession(t, server)
	consumeGreeting(t, conn)
	waitForSessions(t, b, 1)

	b.HandleBrokerDown()
	status := readEnvelope(t, conn)
	assert.Equal(t, "status", status["type"])
	assert.Equal(t, false, status["connected"])

	b.HandleBrokerUp()
	status = readEnvelope(t, conn)
	assert.Equal(t, true, status["connected"])
}

func TestDisconnectedSessionReceivesNoFurtherMessages(t *testing.T) {
	broker := &fakeBroker{connected: true}
	b, server := testBridge(t, broker)

	staying := dialSession(t, server)
	leaving := dialSession(t, server)
	consumeGreeting(t, staying)
	consumeGreeting(t, leaving)
	waitForSessions(t, b, 2)

	require.NoError(t, leaving.Close())
	waitForSessions(t, b, 1)

	b.handleBrokerMessage(context.Background(),
		"managed.device.00000001.info.cars.detect", []byte("7"))

	relayed := readEnvelope(t, staying)
	assert.Equal(t, "mqtt_message", relayed["type"])
}

func TestStopClosesSessions(t *testing.T) {
	broker := &fakeBroker{connected: true}
	b, server := testBridge(t, broker)

	conn := dialSession(t, server)
	consumeGreeting(t, conn)
	waitForSessions(t, b, 1)

	require.NoError(t, b.Stop(time.Second))
	assert.Zero(t, b.SessionCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
