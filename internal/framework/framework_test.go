package framework

import (
	"sync"
	"testing"
	"time"
)

func TestAcquireReleaseRefCount(t *testing.T) {
	before := RefCount()
	h1 := Acquire()
	h2 := Acquire()
	if got := RefCount(); got != before+2 {
		t.Fatalf("expected refcount %d, got %d", before+2, got)
	}
	h1.Release()
	h1.Release() // idempotent
	if got := RefCount(); got != before+1 {
		t.Fatalf("expected refcount %d, got %d", before+1, got)
	}
	h2.Release()
	if got := RefCount(); got != before {
		t.Fatalf("expected refcount %d, got %d", before, got)
	}
}

func TestTeeRequestReleasePad(t *testing.T) {
	tee := NewTee()
	p1 := tee.RequestPad()
	p2 := tee.RequestPad()
	if tee.PadCount() != 2 {
		t.Fatalf("expected 2 pads, got %d", tee.PadCount())
	}
	tee.ReleasePad(p1)
	if tee.PadCount() != 1 {
		t.Fatalf("expected 1 pad after release, got %d", tee.PadCount())
	}
	tee.ReleasePad(p1) // idempotent
	tee.ReleasePad(p2)
	if tee.PadCount() != 0 {
		t.Fatalf("expected 0 pads, got %d", tee.PadCount())
	}
}

func TestPadBlockingProbeSerializesWithDelivery(t *testing.T) {
	tee := NewTee()
	pad := tee.RequestPad()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				pad.Deliver(1)
			}
		}
	}()

	probeRan := make(chan struct{})
	pad.InstallBlockingProbe(func() {
		close(probeRan)
		time.Sleep(5 * time.Millisecond)
	})
	<-probeRan

	close(stop)
	wg.Wait()

	if pad.BytesDelivered() == 0 {
		t.Fatalf("expected some bytes delivered before/after probe")
	}
}

func TestBusPostAndReceive(t *testing.T) {
	b := NewBus()
	b.Post(Message{Kind: MsgStreamStarted, TargetID: 42})
	msg := <-b.Messages()
	if msg.Kind != MsgStreamStarted || msg.TargetID != 42 {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestBusHookFiresAlongsideChannel(t *testing.T) {
	b := NewBus()
	var got Message
	b.SetHook(func(m Message) { got = m })

	b.Post(Message{Kind: MsgStreamStopped, TargetID: 7})

	if got.Kind != MsgStreamStopped || got.TargetID != 7 {
		t.Fatalf("expected hook to observe posted message, got %+v", got)
	}
	msg := <-b.Messages()
	if msg.Kind != MsgStreamStopped || msg.TargetID != 7 {
		t.Fatalf("expected channel to still receive the message, got %+v", msg)
	}
}

func TestSimpleElementPropertyRoundTrip(t *testing.T) {
	e := NewSimpleElement()
	if err := e.SetState(StatePlaying); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if e.State() != StatePlaying {
		t.Fatalf("expected playing, got %s", e.State())
	}
	if err := e.SetProperty("bitrate", 1500000); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	v, err := e.GetProperty("bitrate")
	if err != nil {
		t.Fatalf("GetProperty: %v", err)
	}
	if v.(int) != 1500000 {
		t.Fatalf("expected 1500000, got %v", v)
	}
	if _, err := e.GetProperty("missing"); err == nil {
		t.Fatalf("expected error for missing property")
	}
}
