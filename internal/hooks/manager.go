package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// HookManager manages hook registration and execution.
type HookManager struct {
	hooks     map[EventType][]Hook
	stdioHook *StdioHook
	mu        sync.RWMutex
	pool      *executionPool
	logger    *slog.Logger
	config    HookConfig
}

// NewHookManager creates a new hook manager.
func NewHookManager(config HookConfig, logger *slog.Logger) *HookManager {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := time.ParseDuration(config.Timeout); err != nil {
		logger.Warn("invalid hook timeout, using default", "timeout", config.Timeout, "error", err)
	}

	m := &HookManager{
		hooks:  make(map[EventType][]Hook),
		logger: logger.With("component", "hooks"),
		config: config,
		pool:   newExecutionPool(config.Concurrency, logger),
	}

	if config.StdioFormat != "" {
		_ = m.EnableStdioOutput(config.StdioFormat)
	}

	return m
}

// RegisterHook registers a hook for the specified event type.
func (hm *HookManager) RegisterHook(eventType EventType, hook Hook) error {
	if hook == nil {
		return fmt.Errorf("hooks: cannot register nil hook")
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.hooks[eventType] = append(hm.hooks[eventType], hook)
	hm.logger.Info("hook registered", "event_type", eventType, "hook_type", hook.Type(), "hook_id", hook.ID())
	return nil
}

// UnregisterHook removes a hook by ID from the specified event type.
func (hm *HookManager) UnregisterHook(eventType EventType, hookID string) bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	registered := hm.hooks[eventType]
	for i, hook := range registered {
		if hook.ID() == hookID {
			hm.hooks[eventType] = append(registered[:i], registered[i+1:]...)
			hm.logger.Info("hook unregistered", "event_type", eventType, "hook_id", hookID)
			return true
		}
	}
	return false
}

// TriggerEvent executes all registered hooks for the given event. A nil
// receiver is a no-op, so callers that construct a Coordinator without a
// hook manager can call TriggerEvent unconditionally.
func (hm *HookManager) TriggerEvent(ctx context.Context, event Event) {
	if hm == nil {
		return
	}

	hm.mu.RLock()
	registered := make([]Hook, len(hm.hooks[event.Type]))
	copy(registered, hm.hooks[event.Type])
	hm.mu.RUnlock()

	if hm.stdioHook != nil {
		registered = append(registered, hm.stdioHook)
	}
	if len(registered) == 0 {
		return
	}

	hm.logger.Debug("triggering event", "event_type", event.Type, "hook_count", len(registered), "event", event.String())
	for _, hook := range registered {
		hm.pool.execute(ctx, hook, event)
	}
}

// EnableStdioOutput enables structured output to stderr.
func (hm *HookManager) EnableStdioOutput(format string) error {
	if format != "json" && format != "env" {
		return fmt.Errorf("hooks: unsupported stdio format: %s", format)
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.stdioHook = NewStdioHook("stdio", format)
	hm.logger.Info("stdio hook output enabled", "format", format)
	return nil
}

// DisableStdioOutput disables structured output.
func (hm *HookManager) DisableStdioOutput() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.stdioHook = nil
	hm.logger.Info("stdio hook output disabled")
}

// Stats reports registered hook counts and pool occupancy.
func (hm *HookManager) Stats() map[string]interface{} {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	byType := make(map[string]int)
	total := 0
	for eventType, registered := range hm.hooks {
		byType[string(eventType)] = len(registered)
		total += len(registered)
	}

	return map[string]interface{}{
		"event_types":   len(hm.hooks),
		"total_hooks":   total,
		"hooks_by_type": byType,
		"stdio_enabled": hm.stdioHook != nil,
		"pool_size":     hm.pool.size,
		"pool_active":   hm.pool.active,
	}
}

// Close shuts down the hook manager, waiting for pending executions.
func (hm *HookManager) Close() error {
	if hm == nil || hm.pool == nil {
		return nil
	}
	hm.pool.close()
	hm.logger.Info("hook manager closed")
	return nil
}

// executionPool bounds the number of hooks executing concurrently, the
// same fixed-size-channel-as-semaphore pattern the teacher's worker pool
// uses (internal/rtmp/server/hooks.executionPool).
type executionPool struct {
	workers chan struct{}
	size    int
	active  int
	mu      sync.Mutex
	logger  *slog.Logger
}

func newExecutionPool(size int, logger *slog.Logger) *executionPool {
	if size <= 0 {
		size = 10
	}
	return &executionPool{
		workers: make(chan struct{}, size),
		size:    size,
		logger:  logger,
	}
}

func (ep *executionPool) execute(ctx context.Context, hook Hook, event Event) {
	go func() {
		ep.workers <- struct{}{}
		defer func() { <-ep.workers }()

		ep.mu.Lock()
		ep.active++
		ep.mu.Unlock()
		defer func() {
			ep.mu.Lock()
			ep.active--
			ep.mu.Unlock()
		}()

		start := time.Now()
		err := hook.Execute(ctx, event)
		duration := time.Since(start)

		if err != nil {
			ep.logger.Error("hook execution failed", "hook_type", hook.Type(), "hook_id", hook.ID(),
				"event_type", event.Type, "duration_ms", duration.Milliseconds(), "error", err)
			return
		}
		ep.logger.Debug("hook executed", "hook_type", hook.Type(), "hook_id", hook.ID(),
			"event_type", event.Type, "duration_ms", duration.Milliseconds())
	}()
}

func (ep *executionPool) close() {
	for i := 0; i < cap(ep.workers); i++ {
		ep.workers <- struct{}{}
	}
}
