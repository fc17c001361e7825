package hooks

import (
	"fmt"
	"time"

	"github.com/haloedge/ingestd/internal/framework"
)

// EventType represents the type of daemon event that occurred.
type EventType string

const (
	// Pipeline/source events.
	EventStateChanged  EventType = "state_changed"
	EventResourceError EventType = "resource_error"

	// Stream lifecycle events (spec.md §4.2 Link/Unlink).
	EventStreamStarted EventType = "stream_started"
	EventStreamStopped EventType = "stream_stopped"

	// Encoder renegotiation events (spec.md §4.3/§4.5).
	EventEncoderBitrateChanged   EventType = "encoder_bitrate_changed"
	EventEncoderQuantizerChanged EventType = "encoder_quantizer_changed"
	EventEncoderRateCtrlChanged  EventType = "encoder_rate_control_changed"

	// SRT listener events.
	EventCallerAdded   EventType = "caller_added"
	EventCallerRemoved EventType = "caller_removed"
	EventSrtModeNoted  EventType = "srt_mode_observed"

	EventError EventType = "error"
)

// Event represents a single daemon event that can trigger hooks.
type Event struct {
	Type       EventType              `json:"type"`
	Timestamp  int64                  `json:"timestamp"`
	PipelineID uint32                 `json:"pipeline_id,omitempty"`
	TargetID   uint32                 `json:"target_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      make(map[string]interface{}),
	}
}

// WithPipelineID sets the owning pipeline id for the event.
func (e *Event) WithPipelineID(id uint32) *Event {
	e.PipelineID = id
	return e
}

// WithTargetID sets the target id for the event.
func (e *Event) WithTargetID(id uint32) *Event {
	e.TargetID = id
	return e
}

// WithData adds data fields to the event.
func (e *Event) WithData(key string, value interface{}) *Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// String returns a human-readable string representation of the event.
func (e *Event) String() string {
	if e.TargetID != 0 {
		return fmt.Sprintf("%s:target=%d", e.Type, e.TargetID)
	}
	if e.PipelineID != 0 {
		return fmt.Sprintf("%s:pipeline=%d", e.Type, e.PipelineID)
	}
	return string(e.Type)
}

// eventTypeForMessage maps a framework.MessageKind onto the hook package's
// EventType taxonomy. Message kinds with no external-notification meaning
// (none currently) would report ok=false.
func eventTypeForMessage(kind framework.MessageKind) (EventType, bool) {
	switch kind {
	case framework.MsgStateChanged:
		return EventStateChanged, true
	case framework.MsgResourceError:
		return EventResourceError, true
	case framework.MsgStreamStarted:
		return EventStreamStarted, true
	case framework.MsgStreamStopped:
		return EventStreamStopped, true
	case framework.MsgNotifyEncoderBitrate:
		return EventEncoderBitrateChanged, true
	case framework.MsgNotifyEncoderQuantizer:
		return EventEncoderQuantizerChanged, true
	case framework.MsgNotifyEncoderRateControl:
		return EventEncoderRateCtrlChanged, true
	case framework.MsgCallerAdded:
		return EventCallerAdded, true
	case framework.MsgCallerRemoved:
		return EventCallerRemoved, true
	case framework.MsgSrtMode:
		return EventSrtModeNoted, true
	case framework.MsgError:
		return EventError, true
	default:
		return "", false
	}
}

// EventFromMessage converts a bus message into a hook Event scoped to
// pipelineID, the OnTargetEvent wiring SPEC_FULL.md §5.1 asks for between
// framework.Bus and the hook manager. ok is false for message kinds this
// package does not externalize.
func EventFromMessage(pipelineID uint32, m framework.Message) (Event, bool) {
	et, ok := eventTypeForMessage(m.Kind)
	if !ok {
		return Event{}, false
	}
	ev := NewEvent(et).WithPipelineID(pipelineID)
	if m.TargetID != 0 {
		ev.WithTargetID(m.TargetID)
	}
	if m.Err != nil {
		ev.WithData("error", m.Err.Error())
	}
	for k, v := range m.Data {
		ev.WithData(k, v)
	}
	return *ev, true
}
