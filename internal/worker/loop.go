package worker

import (
	"context"
	"errors"
	"io"
)

// Handler processes one control message inside a worker and optionally
// returns an event to report back to the parent.
type Handler func(Msg) (reply Msg, hasReply bool)

// RunLoop is the worker side's single-threaded event loop (spec.md §4.5)
// over the control pipe; it does not read the media bus. A blocking-read
// goroutine decodes control messages into a channel — the idiomatic Go
// substitute for edge-triggered epoll readiness — and this function is
// the single consumer, so handler is never invoked concurrently with
// itself.
func RunLoop(ctx context.Context, controlR io.Reader, eventsW io.Writer, handle Handler) error {
	msgs := make(chan Msg)
	errs := make(chan error, 1)
	go func() {
		for {
			m, err := ReadMsg(controlR)
			if err != nil {
				errs <- err
				return
			}
			msgs <- m
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case m := <-msgs:
			reply, ok := handle(m)
			if !ok {
				if m.Kind == KindTerminate || m.Kind == KindStop {
					return nil
				}
				continue
			}
			if err := WriteMsg(eventsW, reply); err != nil {
				return err
			}
			if m.Kind == KindTerminate || m.Kind == KindStop {
				return nil
			}
		}
	}
}

// ReadEvents drains events from r until EOF or ctx cancellation, invoking
// onEvent for each one. This is the parent-side counterpart to RunLoop,
// run in its own goroutine per worker so the coordinator's event loop
// never blocks on a slow or stalled child.
func ReadEvents(ctx context.Context, r io.Reader, onEvent func(Msg)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		m, err := ReadMsg(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		onEvent(m)
	}
}
