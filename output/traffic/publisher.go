// Package traffic forwards derived traffic alerts to an external consumer
// over HTTP. Delivery is best-effort: failures are reported to the caller
// for logging and never block or roll back telemetry ingestion.
package traffic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c360/trafficbridge/config"
	"github.com/c360/trafficbridge/errors"
	"github.com/c360/trafficbridge/metric"
	"github.com/c360/trafficbridge/pkg/retry"
	"github.com/c360/trafficbridge/types"
)

// AlertType is the fixed alert category reported to the consumer
const AlertType = "TRAFFIC"

// Alert is the wire payload the external consumer accepts. Location uses
// x/y for longitude/latitude per the consumer's convention.
type Alert struct {
	Location   AlertLocation `json:"location"`
	Type       string        `json:"type"`
	Subtype    string        `json:"subtype"`
	Speed      *float64      `json:"speed,omitempty"`
	Congestion *float64      `json:"congestion,omitempty"`
}

// AlertLocation is a longitude/latitude pair
type AlertLocation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Publisher sends traffic alerts to the configured external sink
type Publisher struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retries int
	logger  *slog.Logger
	metrics *publisherMetrics
}

// NewPublisher creates a publisher from configuration. An empty API key
// disables publishing without error.
func NewPublisher(cfg config.TrafficConfig, logger *slog.Logger, registry *metric.Registry) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		retries: cfg.Retries,
		logger:  logger,
		metrics: newPublisherMetrics(registry),
	}
}

// Enabled reports whether the publisher has a credential to send with
func (p *Publisher) Enabled() bool {
	return p.apiKey != ""
}

// BuildAlert derives the alert payload from a telemetry record and the
// owning device's location. Returns false when the record carries no
// traffic data and no alert should be sent.
func BuildAlert(record *types.TelemetryRecord, location types.GeoPoint) (Alert, bool) {
	if !record.HasTrafficData() {
		return Alert{}, false
	}

	subtype := "UNKNOWN"
	if record.RoadCondition != nil {
		subtype = strings.ToUpper(string(*record.RoadCondition))
	}

	return Alert{
		Location:   AlertLocation{X: location.Lng, Y: location.Lat},
		Type:       AlertType,
		Subtype:    subtype,
		Speed:      record.AverageSpeed,
		Congestion: record.TrafficLevel,
	}, true
}

// Publish sends a traffic alert derived from record to the external sink.
// It returns nil without sending when publishing is disabled or the record
// carries no traffic data.
func (p *Publisher) Publish(ctx context.Context, record *types.TelemetryRecord, location types.GeoPoint) error {
	if !p.Enabled() {
		p.metrics.recordOutcome("disabled")
		return nil
	}

	alert, ok := BuildAlert(record, location)
	if !ok {
		p.metrics.recordOutcome("skipped")
		return nil
	}

	body, err := json.Marshal(alert)
	if err != nil {
		p.metrics.recordOutcome("error")
		return errors.WrapFatal(err, "Publisher", "Publish", "marshal alert")
	}

	cfg := retry.Config{
		MaxAttempts:  p.retries + 1,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}

	err = retry.Do(ctx, cfg, func() error {
		return p.send(ctx, body)
	})
	if err != nil {
		p.metrics.recordOutcome("failure")
		return errors.WrapTransient(err, "Publisher", "Publish", "deliver alert")
	}

	p.metrics.recordOutcome("success")
	p.logger.Debug("traffic alert published",
		"device_id", record.DeviceID,
		"subtype", alert.Subtype)
	return nil
}

func (p *Publisher) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/alerts", bytes.NewReader(body))
	if err != nil {
		return retry.NonRetryable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The consumer rejected the payload; retrying the same body cannot
		// succeed.
		return retry.NonRetryable(fmt.Errorf("sink rejected alert: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
}
