package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// StdioHook writes event data to stderr in either "json" or "env" form,
// grounded on the teacher's internal/rtmp/server/hooks.StdioHook with an
// INGESTD_ prefix replacing the teacher's RTMP_ one.
type StdioHook struct {
	id     string
	format string
	output *os.File
}

// NewStdioHook creates a new stdio hook.
func NewStdioHook(id, format string) *StdioHook {
	return &StdioHook{id: id, format: format, output: os.Stderr}
}

// SetOutput overrides the output destination (default: stderr).
func (h *StdioHook) SetOutput(output *os.File) *StdioHook {
	h.output = output
	return h
}

// Execute outputs the event data in the configured format.
func (h *StdioHook) Execute(ctx context.Context, event Event) error {
	switch h.format {
	case "json":
		return h.outputJSON(event)
	case "env":
		return h.outputEnv(event)
	default:
		return fmt.Errorf("stdio hook %s: unsupported format: %s", h.id, h.format)
	}
}

func (h *StdioHook) Type() string { return "stdio" }
func (h *StdioHook) ID() string   { return h.id }

func (h *StdioHook) outputJSON(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("stdio hook %s: marshal: %w", h.id, err)
	}
	if _, err := fmt.Fprintf(h.output, "INGESTD_EVENT: %s\n", data); err != nil {
		return fmt.Errorf("stdio hook %s: write: %w", h.id, err)
	}
	return nil
}

func (h *StdioHook) outputEnv(event Event) error {
	lines := []string{
		"# ingestd event: " + string(event.Type),
		"INGESTD_EVENT_TYPE=" + string(event.Type),
		fmt.Sprintf("INGESTD_TIMESTAMP=%d", event.Timestamp),
	}
	if event.PipelineID != 0 {
		lines = append(lines, fmt.Sprintf("INGESTD_PIPELINE_ID=%d", event.PipelineID))
	}
	if event.TargetID != 0 {
		lines = append(lines, fmt.Sprintf("INGESTD_TARGET_ID=%d", event.TargetID))
	}
	for key, value := range event.Data {
		lines = append(lines, fmt.Sprintf("INGESTD_%s=%v", strings.ToUpper(key), value))
	}
	lines = append(lines, "")

	for _, line := range lines {
		if _, err := fmt.Fprintln(h.output, line); err != nil {
			return fmt.Errorf("stdio hook %s: write: %w", h.id, err)
		}
	}
	return nil
}
