package traffic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/trafficbridge/config"
	"github.com/c360/trafficbridge/types"
)

func floatPtr(v float64) *float64 { return &v }

func testRecord(level, speed *float64, condition *types.RoadCondition) *types.TelemetryRecord {
	return &types.TelemetryRecord{
		ID:            1,
		DeviceID:      1,
		Timestamp:     time.Now(),
		TrafficLevel:  level,
		AverageSpeed:  speed,
		RoadCondition: condition,
	}
}

func newTestPublisher(baseURL string, retries int) *Publisher {
	return NewPublisher(config.TrafficConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
		Retries: retries,
	}, nil, nil)
}

func TestBuildAlert(t *testing.T) {
	wet := types.RoadWet
	record := testRecord(floatPtr(0.8), floatPtr(35), &wet)
	location := types.GeoPoint{Lat: 31.73, Lng: -106.44}

	alert, ok := BuildAlert(record, location)
	require.True(t, ok)

	assert.Equal(t, -106.44, alert.Location.X)
	assert.Equal(t, 31.73, alert.Location.Y)
	assert.Equal(t, "TRAFFIC", alert.Type)
	assert.Equal(t, "WET", alert.Subtype)
	assert.Equal(t, 35.0, *alert.Speed)
	assert.Equal(t, 0.8, *alert.Congestion)
}

func TestBuildAlertDefaultsSubtype(t *testing.T) {
	alert, ok := BuildAlert(testRecord(floatPtr(0.5), nil, nil), types.GeoPoint{})
	require.True(t, ok)
	assert.Equal(t, "UNKNOWN", alert.Subtype)
	assert.Nil(t, alert.Speed)
}

func TestBuildAlertSkipsRecordsWithoutTrafficData(t *testing.T) {
	_, ok := BuildAlert(testRecord(nil, nil, nil), types.GeoPoint{Lat: 1, Lng: 2})
	assert.False(t, ok)
}

func TestPublishSendsAlert(t *testing.T) {
	var received Alert
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/alerts", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPublisher(server.URL, 0)
	err := p.Publish(context.Background(), testRecord(floatPtr(0.8), nil, nil),
		types.GeoPoint{Lat: 31.73, Lng: -106.44})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", auth)
	assert.Equal(t, "TRAFFIC", received.Type)
	assert.Equal(t, -106.44, received.Location.X)
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPublisher(server.URL, 2)
	err := p.Publish(context.Background(), testRecord(floatPtr(0.5), nil, nil), types.GeoPoint{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPublishDoesNotRetryRejection(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	p := newTestPublisher(server.URL, 3)
	err := p.Publish(context.Background(), testRecord(floatPtr(0.5), nil, nil), types.GeoPoint{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPublishReturnsErrorWhenExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := newTestPublisher(server.URL, 1)
	err := p.Publish(context.Background(), testRecord(floatPtr(0.5), nil, nil), types.GeoPoint{})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPublishDisabledWithoutAPIKey(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	p := NewPublisher(config.TrafficConfig{
		BaseURL: server.URL,
		Timeout: time.Second,
	}, nil, nil)
	assert.False(t, p.Enabled())

	err := p.Publish(context.Background(), testRecord(floatPtr(0.5), nil, nil), types.GeoPoint{})
	require.NoError(t, err)
	assert.Zero(t, calls.Load())
}

func TestPublishSkipsRecordsWithoutTrafficData(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	p := newTestPublisher(server.URL, 0)
	err := p.Publish(context.Background(), testRecord(nil, nil, nil), types.GeoPoint{})
	require.NoError(t, err)
	assert.Zero(t, calls.Load())
}
