// Package hooks implements the ingest daemon's external-notification
// system (SPEC_FULL.md §5.1): pluggable handlers fired whenever a pipeline
// or target crosses a bus-visible lifecycle event (stream start/stop,
// encoder renegotiation, a caller joining or leaving an SRT listener).
// Grounded on the teacher's internal/rtmp/server/hooks package, with the
// RTMP connection/stream taxonomy swapped for this daemon's pipeline/target
// event space.
package hooks

import "context"

// Hook represents a handler that can be executed when an event occurs.
type Hook interface {
	// Execute runs the hook with the given event.
	Execute(ctx context.Context, event Event) error

	// Type returns the hook type identifier.
	Type() string

	// ID returns a unique identifier for this hook instance.
	ID() string
}

// HookConfig represents the configuration for hooks.
type HookConfig struct {
	// Timeout for hook execution (default: 30s).
	Timeout string `json:"timeout"`

	// Maximum number of concurrent hook executions (default: 10).
	Concurrency int `json:"concurrency"`

	// Whether to enable structured stdio output: "json", "env", or "".
	StdioFormat string `json:"stdio_format"`
}

// DefaultHookConfig returns a configuration with sensible defaults.
func DefaultHookConfig() HookConfig {
	return HookConfig{
		Timeout:     "30s",
		Concurrency: 10,
		StdioFormat: "",
	}
}
