// Package component defines the lifecycle contract shared by all
// TrafficBridge components.
package component

import (
	"context"
	"time"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates the component was created but not initialized
	StateCreated State = iota
	// StateInitialized indicates the component was initialized but not started
	StateInitialized
	// StateStarted indicates the component is running
	StateStarted
	// StateStopped indicates the component was stopped
	StateStopped
	// StateFailed indicates the component failed during a lifecycle operation
	StateFailed
)

// String returns a string representation of the component state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lifecycle defines components that support full lifecycle management:
//   - Initialize() error                 // Setup/validate only, no context
//   - Start(ctx context.Context) error   // Begin work; ctx cancels background activity
//   - Stop(timeout time.Duration) error  // Graceful shutdown bounded by timeout
type Lifecycle interface {
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// Managed tracks a component, its name, and its lifecycle state.
// Used by main to start components in dependency order and stop them in
// reverse.
type Managed struct {
	Name      string
	Component Lifecycle
	State     State
	LastError error
}
