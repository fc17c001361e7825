package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ShellHook runs an external command when an event fires, grounded on the
// teacher's internal/rtmp/server/hooks.ShellHook.
type ShellHook struct {
	id       string
	command  string
	args     []string
	env      []string
	passJSON bool
	timeout  time.Duration
}

// NewShellHook creates a shell hook that runs scriptPath under /bin/bash.
func NewShellHook(id, scriptPath string, timeout time.Duration) *ShellHook {
	return &ShellHook{id: id, command: "/bin/bash", args: []string{scriptPath}, timeout: timeout}
}

// SetPassJSON enables passing the event as JSON over the command's stdin.
func (h *ShellHook) SetPassJSON(on bool) *ShellHook {
	h.passJSON = on
	return h
}

// SetEnv sets additional environment variables for the command.
func (h *ShellHook) SetEnv(env []string) *ShellHook {
	h.env = env
	return h
}

// Execute runs the command with event data passed as environment variables.
func (h *ShellHook) Execute(ctx context.Context, event Event) error {
	execCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, h.command, h.args...)
	cmd.Env = append(cmd.Env, h.buildEnvironment(event)...)

	if h.passJSON {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("shell hook %s: stdin pipe: %w", h.id, err)
		}
		go func() {
			defer stdin.Close()
			json.NewEncoder(stdin).Encode(event)
		}()
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("shell hook %s: execution failed: %w", h.id, err)
	}
	return nil
}

func (h *ShellHook) Type() string { return "shell" }
func (h *ShellHook) ID() string   { return h.id }

func (h *ShellHook) buildEnvironment(event Event) []string {
	env := append([]string{}, h.env...)
	env = append(env, "INGESTD_EVENT_TYPE="+string(event.Type))
	env = append(env, fmt.Sprintf("INGESTD_TIMESTAMP=%d", event.Timestamp))
	if event.PipelineID != 0 {
		env = append(env, fmt.Sprintf("INGESTD_PIPELINE_ID=%d", event.PipelineID))
	}
	if event.TargetID != 0 {
		env = append(env, fmt.Sprintf("INGESTD_TARGET_ID=%d", event.TargetID))
	}
	for key, value := range event.Data {
		env = append(env, fmt.Sprintf("INGESTD_%s=%v", strings.ToUpper(key), value))
	}
	return env
}
