package lorawan

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/trafficbridge/metric"
)

// clientMetrics tracks ingest and connection behavior. All methods tolerate
// a nil receiver so the client works without a metrics registry.
type clientMetrics struct {
	messages   *prometheus.CounterVec
	reconnects prometheus.Counter
	state      prometheus.Gauge
}

func newClientMetrics(registry *metric.Registry) *clientMetrics {
	if registry == nil {
		return nil
	}

	m := &clientMetrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trafficbridge_gateway_messages_total",
			Help: "Gateway messages processed by outcome",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficbridge_gateway_reconnect_attempts_total",
			Help: "Gateway reconnect attempts",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trafficbridge_gateway_connection_state",
			Help: "Gateway connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed)",
		}),
	}

	for name, collector := range map[string]prometheus.Collector{
		"messages_total":           m.messages,
		"reconnect_attempts_total": m.reconnects,
		"connection_state":         m.state,
	} {
		if err := registry.Register("gateway", name, collector); err != nil {
			return nil
		}
	}
	return m
}

func (m *clientMetrics) recordMessage(outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
}

func (m *clientMetrics) recordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *clientMetrics) setState(state ConnectionState) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}
