package bridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/trafficbridge/metric"
)

// bridgeMetrics tracks session and relay activity. All methods tolerate a
// nil receiver so the bridge works without a metrics registry.
type bridgeMetrics struct {
	sessions       prometheus.Gauge
	brokerMessages prometheus.Counter
	skips          prometheus.Counter
	commands       *prometheus.CounterVec
}

func newBridgeMetrics(registry *metric.Registry) *bridgeMetrics {
	if registry == nil {
		return nil
	}

	m := &bridgeMetrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trafficbridge_relay_sessions",
			Help: "Currently connected browser sessions",
		}),
		brokerMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficbridge_relay_broker_messages_total",
			Help: "Broker messages relayed to sessions",
		}),
		skips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficbridge_relay_broadcast_skips_total",
			Help: "Broadcasts skipped because a session queue was full",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trafficbridge_relay_commands_total",
			Help: "Operator commands by outcome",
		}, []string{"outcome"}),
	}

	for name, collector := range map[string]prometheus.Collector{
		"sessions":              m.sessions,
		"broker_messages_total": m.brokerMessages,
		"broadcast_skips_total": m.skips,
		"commands_total":        m.commands,
	} {
		if err := registry.Register("relay", name, collector); err != nil {
			return nil
		}
	}
	return m
}

func (m *bridgeMetrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *bridgeMetrics) recordBrokerMessage() {
	if m == nil {
		return
	}
	m.brokerMessages.Inc()
}

func (m *bridgeMetrics) recordSkip() {
	if m == nil {
		return
	}
	m.skips.Inc()
}

func (m *bridgeMetrics) recordCommand(outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(outcome).Inc()
}
