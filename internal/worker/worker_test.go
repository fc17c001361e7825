package worker

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestMsgRoundTrip(t *testing.T) {
	cases := []Msg{
		NewSetResolution(1920, 1080),
		NewSetFps(30),
		NewTerminate(),
		NewStop(),
		NewSetBitrate(2_048_000),
		NewSetBitrateControl(1),
		NewSetQuantizer(23),
		NewSetAdaptorKind(1),
		NewSetAdaptiveStreaming(true),
		NewSrtMode("caller"),
		NewCallerAdded(7, "127.0.0.1:9001"),
		NewCallerRemoved(7, "127.0.0.1:9001"),
		NewNotifyEncoderBitrateChange(1_500_000),
		NewNotifyEncoderQuantizerChange(20),
		NewNotifyEncoderBitrateControlChange(2),
		NewError(1, "transmit failed"),
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	for _, m := range cases {
		if err := WriteMsg(w, m); err != nil {
			t.Fatalf("WriteMsg(%s): %v", m.Kind, err)
		}
		got, err := ReadMsg(r)
		if err != nil {
			t.Fatalf("ReadMsg(%s): %v", m.Kind, err)
		}
		if got.Kind != m.Kind || got.A != m.A || got.B != m.B || got.stringField() != m.stringField() {
			t.Fatalf("round trip mismatch: want %+v got %+v", m, got)
		}
	}
}

func TestRunLoopDispatchesAndRepliesThenStopsOnTerminate(t *testing.T) {
	controlR, controlW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	eventR, eventW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer controlR.Close()
	defer eventR.Close()

	var seen []Kind
	handle := func(m Msg) (Msg, bool) {
		seen = append(seen, m.Kind)
		switch m.Kind {
		case KindSetBitrate:
			return NewNotifyEncoderBitrateChange(int(m.A)), true
		default:
			return Msg{}, false
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- RunLoop(context.Background(), controlR, eventW, handle)
	}()

	if err := WriteMsg(controlW, NewSetBitrate(3_000_000)); err != nil {
		t.Fatalf("WriteMsg: %v", err)
	}
	reply, err := ReadMsg(eventR)
	if err != nil {
		t.Fatalf("ReadMsg reply: %v", err)
	}
	if reply.Kind != KindNotifyEncoderBitrateChange || reply.A != 3_000_000 {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	if err := WriteMsg(controlW, NewTerminate()); err != nil {
		t.Fatalf("WriteMsg terminate: %v", err)
	}
	controlW.Close()
	eventW.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunLoop returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunLoop did not return after Terminate")
	}

	if len(seen) != 2 || seen[0] != KindSetBitrate || seen[1] != KindTerminate {
		t.Fatalf("unexpected dispatch order: %+v", seen)
	}
}

func TestRunLoopReturnsNilOnEOF(t *testing.T) {
	controlR, controlW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	eventR, eventW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer eventR.Close()

	done := make(chan error, 1)
	go func() {
		done <- RunLoop(context.Background(), controlR, eventW, func(Msg) (Msg, bool) { return Msg{}, false })
	}()

	controlW.Close()
	eventW.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error on EOF, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunLoop did not return after EOF")
	}
}
