package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/haloedge/ingestd/internal/framework"
)

func TestEvent(t *testing.T) {
	event := NewEvent(EventStreamStarted).
		WithPipelineID(7).
		WithTargetID(42).
		WithData("bitrate", 2_000_000)

	if event.Type != EventStreamStarted {
		t.Fatalf("expected event type %s, got %s", EventStreamStarted, event.Type)
	}
	if event.PipelineID != 7 {
		t.Fatalf("expected pipeline id 7, got %d", event.PipelineID)
	}
	if event.TargetID != 42 {
		t.Fatalf("expected target id 42, got %d", event.TargetID)
	}
	if event.Data["bitrate"] != 2_000_000 {
		t.Fatalf("expected bitrate data, got %v", event.Data["bitrate"])
	}
	if got, want := event.String(), "stream_started:target=42"; got != want {
		t.Fatalf("expected string %q, got %q", want, got)
	}
}

func TestEventFromMessage(t *testing.T) {
	ev, ok := EventFromMessage(3, framework.Message{Kind: framework.MsgStreamStarted, TargetID: 9})
	if !ok {
		t.Fatalf("expected MsgStreamStarted to map to an event")
	}
	if ev.Type != EventStreamStarted || ev.PipelineID != 3 || ev.TargetID != 9 {
		t.Fatalf("unexpected event: %+v", ev)
	}

	ev, ok = EventFromMessage(3, framework.Message{Kind: framework.MsgNotifyEncoderBitrate, TargetID: 9, Data: map[string]any{"bitrate": 1000}})
	if !ok || ev.Type != EventEncoderBitrateChanged || ev.Data["bitrate"] != 1000 {
		t.Fatalf("unexpected bitrate event: %+v ok=%v", ev, ok)
	}
}

func TestShellHook(t *testing.T) {
	hook := NewShellHook("test-hook", "/bin/true", 10*time.Second)
	if hook.Type() != "shell" {
		t.Fatalf("expected hook type shell, got %s", hook.Type())
	}
	if hook.ID() != "test-hook" {
		t.Fatalf("expected hook id test-hook, got %s", hook.ID())
	}
}

func TestHookManagerRegisterTriggerUnregister(t *testing.T) {
	manager := NewHookManager(DefaultHookConfig(), nil)
	defer manager.Close()

	hook := NewShellHook("test", "/bin/true", 10*time.Second)
	if err := manager.RegisterHook(EventStreamStarted, hook); err != nil {
		t.Fatalf("RegisterHook: %v", err)
	}

	stats := manager.Stats()
	if stats["total_hooks"] != 1 {
		t.Fatalf("expected 1 total hook, got %v", stats["total_hooks"])
	}

	manager.TriggerEvent(context.Background(), *NewEvent(EventStreamStarted))

	if !manager.UnregisterHook(EventStreamStarted, "test") {
		t.Fatalf("expected unregister to succeed")
	}
	stats = manager.Stats()
	if stats["total_hooks"] != 0 {
		t.Fatalf("expected 0 total hooks after unregister, got %v", stats["total_hooks"])
	}
}

func TestHookManagerNilTriggerIsNoop(t *testing.T) {
	var manager *HookManager
	manager.TriggerEvent(context.Background(), *NewEvent(EventStreamStarted))
}

func TestStdioHook(t *testing.T) {
	hook := NewStdioHook("stdio-test", "json")
	if hook.Type() != "stdio" {
		t.Fatalf("expected hook type stdio, got %s", hook.Type())
	}
	if hook.ID() != "stdio-test" {
		t.Fatalf("expected hook id stdio-test, got %s", hook.ID())
	}
	if hook.format != "json" {
		t.Fatalf("expected format json, got %s", hook.format)
	}
}

func TestWebhookHook(t *testing.T) {
	hook := NewWebhookHook("webhook-test", "https://example.invalid/hook", 5*time.Second)
	if hook.Type() != "webhook" {
		t.Fatalf("expected hook type webhook, got %s", hook.Type())
	}
	hook.AddHeader("Authorization", "Bearer token")
	if hook.headers["Authorization"] != "Bearer token" {
		t.Fatalf("expected header to be set, got %q", hook.headers["Authorization"])
	}
}
