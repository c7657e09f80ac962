package metric

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/trafficbridge/errors"
)

// Server exposes the metrics registry over HTTP
type Server struct {
	port     int
	path     string
	registry *Registry
	logger   *slog.Logger

	server *http.Server
	mu     sync.Mutex // protects server
}

// NewServer creates a metrics server with the provided registry
func NewServer(port int, registry *Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		port:     port,
		path:     "/metrics",
		registry: registry,
		logger:   logger,
	}
}

// Initialize validates the server configuration
func (s *Server) Initialize() error {
	if s.registry == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "MetricServer", "Initialize",
			"metrics registry not provided")
	}
	return nil
}

// Start begins serving /metrics. A port of 0 disables the server.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == 0 {
		s.logger.Info("metrics server disabled")
		return nil
	}
	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "MetricServer", "Start", "check state")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Info("metrics server listening", "port", s.port, "path", s.path)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts the metrics server down gracefully
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}
