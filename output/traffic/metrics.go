package traffic

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/trafficbridge/metric"
)

// publisherMetrics tracks publish outcomes. All methods tolerate a nil
// receiver so the publisher works without a metrics registry.
type publisherMetrics struct {
	outcomes *prometheus.CounterVec
}

func newPublisherMetrics(registry *metric.Registry) *publisherMetrics {
	if registry == nil {
		return nil
	}

	m := &publisherMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trafficbridge_publisher_alerts_total",
			Help: "Traffic alert publish attempts by outcome",
		}, []string{"outcome"}),
	}

	if err := registry.Register("publisher", "alerts_total", m.outcomes); err != nil {
		return nil
	}
	return m
}

func (m *publisherMetrics) recordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}
