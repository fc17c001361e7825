package framework

import "sync"

// MessageKind enumerates the bus message kinds the domain layer reacts to.
type MessageKind int

const (
	MsgStateChanged MessageKind = iota
	MsgResourceError
	MsgStreamStarted
	MsgStreamStopped
	MsgNotifyEncoderBitrate
	MsgNotifyEncoderQuantizer
	MsgNotifyEncoderRateControl
	MsgCallerAdded
	MsgCallerRemoved
	MsgSrtMode
	MsgError
)

// Message is a single bus event. TargetID is zero for pipeline-scoped events.
type Message struct {
	Kind     MessageKind
	TargetID uint32
	Err      error
	Data     map[string]any
}

// Bus is the message channel a "bus watch" goroutine reads from. Posting
// never blocks the caller for long: the channel is generously buffered
// since probe callbacks and streaming goroutines must not stall on a slow
// watcher (spec.md §5, probe callbacks must not block).
type Bus struct {
	ch chan Message

	mu   sync.Mutex
	hook func(Message)
}

// NewBus creates a bus with room for a burst of in-flight messages.
func NewBus() *Bus {
	return &Bus{ch: make(chan Message, 256)}
}

// SetHook installs a synchronous callback invoked from Post, in addition to
// the buffered channel send, for every posted message (SPEC_FULL.md §5.1
// OnTargetEvent). It runs on the poster's goroutine, so the callback must
// not block; the coordinator forwards it straight into a HookManager's
// pool-backed TriggerEvent, which returns immediately. Pass nil to remove
// a previously installed hook.
func (b *Bus) SetHook(fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = fn
}

// Post enqueues a message, dropping it only if the bus has been closed.
func (b *Bus) Post(m Message) {
	defer func() { recover() }() // swallow send-on-closed-channel during teardown races
	b.mu.Lock()
	hook := b.hook
	b.mu.Unlock()
	if hook != nil {
		hook(m)
	}
	b.ch <- m
}

// Messages exposes the receive side for a bus-watch goroutine.
func (b *Bus) Messages() <-chan Message { return b.ch }

// Close shuts the bus down. Subsequent Post calls are no-ops.
func (b *Bus) Close() { close(b.ch) }
