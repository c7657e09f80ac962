package natsclient

import (
	"fmt"
	"log/slog"
	"time"
)

// Logger is the minimal logging interface the client needs. It is satisfied
// by SlogAdapter and keeps the package decoupled from any one logging stack.
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
}

// defaultLogger discards all output. Callers that want logging pass
// WithLogger explicitly.
type defaultLogger struct{}

func (l *defaultLogger) Printf(string, ...any) {}
func (l *defaultLogger) Errorf(string, ...any) {}

// SlogAdapter adapts a *slog.Logger to the Logger interface
type SlogAdapter struct {
	L *slog.Logger
}

// Printf logs at info level
func (a SlogAdapter) Printf(format string, v ...any) {
	a.L.Info(fmt.Sprintf(format, v...))
}

// Errorf logs at error level
func (a SlogAdapter) Errorf(format string, v ...any) {
	a.L.Error(fmt.Sprintf(format, v...))
}

// ClientOption configures a Client
type ClientOption func(*Client) error

// WithLogger sets the logger used for connection events
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithName sets the client name reported to the server
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithMaxReconnects sets the maximum number of reconnect attempts.
// Use -1 for unlimited.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		if n < -1 {
			return fmt.Errorf("max reconnects must be >= -1, got %d", n)
		}
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the delay between reconnect attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("reconnect wait must be positive, got %v", d)
		}
		c.reconnectWait = d
		return nil
	}
}

// WithTimeout sets the connection timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout sets the maximum time Close waits for in-flight messages
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("drain timeout must be positive, got %v", d)
		}
		c.drainTimeout = d
		return nil
	}
}

// WithDisconnectHandler registers a callback invoked when the connection is
// lost. The error may be nil for a clean disconnect.
func WithDisconnectHandler(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

// WithReconnectHandler registers a callback invoked when the connection is
// re-established after a loss.
func WithReconnectHandler(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}
