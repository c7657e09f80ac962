// Package http serves the device and telemetry REST API over the registry
// and store.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/c360/trafficbridge/errors"
	"github.com/c360/trafficbridge/storage"
	"github.com/c360/trafficbridge/types"
)

const maxRequestSize = 1 << 20 // 1 MiB

// getOrGenerateRequestID extracts the request ID header or generates one
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Gateway implements the REST API surface
type Gateway struct {
	port     int
	registry *storage.DeviceRegistry
	store    *storage.TelemetryStore
	logger   *slog.Logger

	// Status probes for /api/status, optional
	brokerConnected func() bool
	gatewayState    func() string

	server    *http.Server
	running   atomic.Bool
	startTime time.Time
}

// NewGateway creates the REST gateway
func NewGateway(port int, registry *storage.DeviceRegistry, store *storage.TelemetryStore,
	logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		port:     port,
		registry: registry,
		store:    store,
		logger:   logger,
	}
}

// WithStatusProbes wires the liveness endpoint's broker and gateway probes
func (g *Gateway) WithStatusProbes(brokerConnected func() bool, gatewayState func() string) *Gateway {
	g.brokerConnected = brokerConnected
	g.gatewayState = gatewayState
	return g
}

// Initialize validates the gateway dependencies
func (g *Gateway) Initialize() error {
	if g.registry == nil || g.store == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "Initialize",
			"registry and store are required")
	}
	return nil
}

// Handler builds the route table
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/devices", g.handleCreateDevice)
	mux.HandleFunc("GET /api/devices", g.handleListDevices)
	mux.HandleFunc("GET /api/devices/{id}", g.handleGetDevice)
	mux.HandleFunc("GET /api/devices/{id}/data", g.handleGetData)
	mux.HandleFunc("POST /api/devices/{id}/data", g.handleIngestData)
	mux.HandleFunc("GET /api/devices/{id}/data/latest", g.handleLatestData)
	mux.HandleFunc("GET /api/status", g.handleStatus)
	return g.withMiddleware(mux)
}

// Start begins serving the API
func (g *Gateway) Start(_ context.Context) error {
	if g.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Gateway", "Start", "check state")
	}
	g.running.Store(true)
	g.startTime = time.Now()

	g.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", g.port),
		Handler: g.Handler(),
	}

	go func() {
		g.logger.Info("api listening", "port", g.port)
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("api server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the API down gracefully
func (g *Gateway) Stop(timeout time.Duration) error {
	if !g.running.Load() {
		return nil
	}
	g.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.server.Shutdown(ctx)
}

// withMiddleware applies request IDs, CORS, and a body size cap
func (g *Gateway) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
		next.ServeHTTP(w, r)

		g.logger.Debug("request handled",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path)
	})
}

func (g *Gateway) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var input types.DeviceInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := input.Validate(); err != nil {
		g.writeError(w, http.StatusBadRequest, errors.Message(err))
		return
	}

	device, err := g.registry.Register(input)
	if err != nil {
		if errors.IsConflict(err) {
			g.writeError(w, http.StatusConflict,
				fmt.Sprintf("device with EUI %s already exists", input.DeviceEUI))
			return
		}
		g.writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	g.logger.Info("device registered", "device_id", device.ID, "device_eui", device.DeviceEUI)
	g.writeJSON(w, http.StatusCreated, device)
}

func (g *Gateway) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, g.registry.List())
}

func (g *Gateway) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := g.deviceID(w, r)
	if !ok {
		return
	}
	device, err := g.registry.Get(id)
	if err != nil {
		g.writeError(w, http.StatusNotFound, fmt.Sprintf("device %d not found", id))
		return
	}
	g.writeJSON(w, http.StatusOK, device)
}

func (g *Gateway) handleGetData(w http.ResponseWriter, r *http.Request) {
	id, ok := g.deviceID(w, r)
	if !ok {
		return
	}
	if _, err := g.registry.Get(id); err != nil {
		g.writeError(w, http.StatusNotFound, fmt.Sprintf("device %d not found", id))
		return
	}

	limit := storage.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			g.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	g.writeJSON(w, http.StatusOK, g.store.History(id, limit))
}

func (g *Gateway) handleIngestData(w http.ResponseWriter, r *http.Request) {
	id, ok := g.deviceID(w, r)
	if !ok {
		return
	}
	if _, err := g.registry.Get(id); err != nil {
		g.writeError(w, http.StatusNotFound, fmt.Sprintf("device %d not found", id))
		return
	}

	var input types.TelemetryInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := input.Validate(); err != nil {
		g.writeError(w, http.StatusBadRequest, errors.Message(err))
		return
	}

	record := g.store.Append(input.Record(id))
	g.writeJSON(w, http.StatusCreated, record)
}

// handleLatestData returns the device's most recent record
func (g *Gateway) handleLatestData(w http.ResponseWriter, r *http.Request) {
	id, ok := g.deviceID(w, r)
	if !ok {
		return
	}
	if _, err := g.registry.Get(id); err != nil {
		g.writeError(w, http.StatusNotFound, fmt.Sprintf("device %d not found", id))
		return
	}

	record, err := g.store.Latest(id)
	if err != nil {
		g.writeError(w, http.StatusNotFound, fmt.Sprintf("no telemetry for device %d", id))
		return
	}
	g.writeJSON(w, http.StatusOK, record)
}

func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"uptime":  time.Since(g.startTime).String(),
		"devices": len(g.registry.List()),
	}
	if g.brokerConnected != nil {
		status["brokerConnected"] = g.brokerConnected()
	}
	if g.gatewayState != nil {
		status["gatewayState"] = g.gatewayState()
	}
	g.writeJSON(w, http.StatusOK, status)
}

func (g *Gateway) deviceID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 1 {
		g.writeError(w, http.StatusBadRequest, "device id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("response encode failed", "error", err)
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":  message,
		"status": statusCode,
	})
}
