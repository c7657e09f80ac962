// Package main implements the TrafficBridge entry point: a telemetry relay
// that ingests sensor readings from a LoRaWAN gateway, serves them over a
// REST API, fans broker traffic out to browser sessions, and relays
// operator commands back onto the broker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/trafficbridge/bridge"
	"github.com/c360/trafficbridge/component"
	"github.com/c360/trafficbridge/config"
	gatewayhttp "github.com/c360/trafficbridge/gateway/http"
	"github.com/c360/trafficbridge/input/lorawan"
	"github.com/c360/trafficbridge/metric"
	"github.com/c360/trafficbridge/natsclient"
	"github.com/c360/trafficbridge/output/traffic"
	"github.com/c360/trafficbridge/storage"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "trafficbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)
	slog.Info("Starting TrafficBridge", "version", Version)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	metricsRegistry := metric.NewRegistry()

	// Storage is shared by the ingest path and the REST API.
	registry := storage.NewDeviceRegistry()
	store := storage.NewTelemetryStore(registry)

	// The bridge needs broker callbacks registered before the first
	// connect, so it is built before the client it depends on.
	var relay *bridge.Bridge
	natsClient, err := natsclient.NewClient(cfg.NATSURL,
		natsclient.WithName(appName),
		natsclient.WithLogger(natsclient.SlogAdapter{L: logger.With("component", "nats")}),
		natsclient.WithDisconnectHandler(func(error) {
			if relay != nil {
				relay.HandleBrokerDown()
			}
		}),
		natsclient.WithReconnectHandler(func() {
			if relay != nil {
				relay.HandleBrokerUp()
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("create broker client: %w", err)
	}
	if err := natsClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer func() {
		if err := natsClient.Close(ctx); err != nil {
			logger.Error("broker close failed", "error", err)
		}
	}()

	relay = bridge.New(cfg.Relay, natsClient, logger.With("component", "bridge"), metricsRegistry)

	publisher := traffic.NewPublisher(cfg.Traffic, logger.With("component", "publisher"), metricsRegistry)

	gatewayClient := lorawan.NewClient(cfg.Gateway, registry, store, publisher,
		logger.With("component", "gateway_client"), metricsRegistry)

	api := gatewayhttp.NewGateway(cfg.HTTPPort, registry, store,
		logger.With("component", "api")).
		WithStatusProbes(natsClient.IsConnected, func() string {
			return gatewayClient.State().String()
		})

	metricsServer := metric.NewServer(cfg.MetricsPort, metricsRegistry,
		logger.With("component", "metrics"))

	components := []component.Managed{
		{Name: "metrics", Component: metricsServer},
		{Name: "bridge", Component: relay},
		{Name: "gateway_client", Component: gatewayClient},
		{Name: "api", Component: api},
	}

	return runWithSignalHandling(ctx, components, cliCfg.ShutdownTimeout)
}

// runWithSignalHandling starts components in dependency order, waits for
// SIGINT/SIGTERM, and stops them in reverse.
func runWithSignalHandling(ctx context.Context, components []component.Managed,
	shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	started := make([]component.Managed, 0, len(components))
	for i := range components {
		c := &components[i]
		if err := c.Component.Initialize(); err != nil {
			c.State = component.StateFailed
			c.LastError = err
			stopAll(started, shutdownTimeout)
			return fmt.Errorf("initialize %s: %w", c.Name, err)
		}
		c.State = component.StateInitialized

		if err := c.Component.Start(signalCtx); err != nil {
			c.State = component.StateFailed
			c.LastError = err
			stopAll(started, shutdownTimeout)
			return fmt.Errorf("start %s: %w", c.Name, err)
		}
		c.State = component.StateStarted
		started = append(started, *c)
		slog.Info("component started", "component", c.Name)
	}

	slog.Info("TrafficBridge started")
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	stopAll(started, shutdownTimeout)
	return nil
}

// stopAll stops components in reverse start order
func stopAll(started []component.Managed, timeout time.Duration) {
	for i := len(started) - 1; i >= 0; i-- {
		c := started[i]
		if err := c.Component.Stop(timeout); err != nil {
			slog.Error("component stop failed", "component", c.Name, "error", err)
			continue
		}
		slog.Info("component stopped", "component", c.Name)
	}
}
