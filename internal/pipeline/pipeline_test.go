package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/haloedge/ingestd/internal/adaptor"
	"github.com/haloedge/ingestd/internal/encodermap"
	"github.com/haloedge/ingestd/internal/framework"
	"github.com/haloedge/ingestd/internal/target"
)

func fakeSinkFactory() target.SinkFactory {
	return func(p target.Params, rewrittenURI string) (target.TransportSink, error) {
		return target.NewFakeSink(), nil
	}
}

func testParams(uri string) target.Params {
	return target.Params{
		Kind:           target.KindSRT,
		Codec:          encodermap.Identity{Codec: encodermap.H264, Backend: encodermap.Software},
		ContainerURI:   uri,
		Bitrate:        1_500_000,
		BitrateControl: encodermap.CBR,
		SRTMode:        target.ModeCaller,
		AdaptorKind:    adaptor.KindNull,
	}
}

func newTestPipeline() *Pipeline {
	return Open(1, SourceTestPattern, "", "general", Resolution{Width: 1280, Height: 720}, 30, adaptor.KindNull, fakeSinkFactory())
}

func TestAddTargetReturnsNonZeroIDAndEmitsStreamStarted(t *testing.T) {
	p := newTestPipeline()
	id, err := p.AddTarget(testParams("srt://127.0.0.1:9001?mode=caller"))
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected non-zero target id")
	}
	msg := <-p.Bus.Messages() // srt_mode
	if msg.Kind != framework.MsgSrtMode {
		t.Fatalf("expected srt_mode, got %+v", msg)
	}
	msg = <-p.Bus.Messages()
	if msg.Kind != framework.MsgStreamStarted || msg.TargetID != id {
		t.Fatalf("expected stream-started for %d, got %+v", id, msg)
	}
}

func TestAddTargetIdempotentOnURICollision(t *testing.T) {
	p := newTestPipeline()
	uri := "srt://127.0.0.1:9002?mode=caller"
	id1, err := p.AddTarget(testParams(uri))
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	<-p.Bus.Messages()
	<-p.Bus.Messages()

	id2, err := p.AddTarget(testParams(uri))
	if err != nil {
		t.Fatalf("AddTarget (dup): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected idempotent id, got %d vs %d", id1, id2)
	}
	if p.TargetCount() != 1 {
		t.Fatalf("expected exactly one target, got %d", p.TargetCount())
	}
}

func TestRemoveTargetOnUnknownIDIsNoop(t *testing.T) {
	p := newTestPipeline()
	if err := p.RemoveTarget(999); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}

func TestRemoveTargetEmitsStreamStoppedAndEmptiesMap(t *testing.T) {
	p := newTestPipeline()
	id, err := p.AddTarget(testParams("srt://127.0.0.1:9003?mode=caller"))
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	<-p.Bus.Messages()
	<-p.Bus.Messages()

	if err := p.RemoveTarget(id); err != nil {
		t.Fatalf("RemoveTarget: %v", err)
	}
	msg := <-p.Bus.Messages()
	if msg.Kind != framework.MsgStreamStopped || msg.TargetID != id {
		t.Fatalf("expected stream-stopped for %d, got %+v", id, msg)
	}
	if p.TargetCount() != 0 {
		t.Fatalf("expected empty targets map, got %d", p.TargetCount())
	}
}

func TestChurnOfMultipleTargetsLeavesMapEmpty(t *testing.T) {
	p := newTestPipeline()
	var ids []uint32
	for i := 0; i < 5; i++ {
		id, err := p.AddTarget(testParams(fmt.Sprintf("srt://127.0.0.1:%d?mode=caller", 9100+i)))
		if err != nil {
			t.Fatalf("AddTarget: %v", err)
		}
		<-p.Bus.Messages() // srt_mode
		<-p.Bus.Messages() // stream-started
		ids = append(ids, id)
	}
	for _, id := range ids {
		if err := p.RemoveTarget(id); err != nil {
			t.Fatalf("RemoveTarget: %v", err)
		}
		<-p.Bus.Messages() // stream-stopped
	}
	if p.TargetCount() != 0 {
		t.Fatalf("expected empty map after churn, got %d", p.TargetCount())
	}
}

func TestAddTargetCancelsScheduledStop(t *testing.T) {
	p := newTestPipeline()
	id, err := p.AddTarget(testParams("srt://127.0.0.1:9200?mode=caller"))
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	<-p.Bus.Messages()
	<-p.Bus.Messages()

	if err := p.RemoveTarget(id); err != nil {
		t.Fatalf("RemoveTarget: %v", err)
	}
	<-p.Bus.Messages() // stream-stopped

	// A new target arrives before the idle teardown fires; the source
	// branch must still be usable afterward.
	id2, err := p.AddTarget(testParams("srt://127.0.0.1:9201?mode=caller"))
	if err != nil {
		t.Fatalf("AddTarget after churn: %v", err)
	}
	<-p.Bus.Messages()
	<-p.Bus.Messages()
	if id2 == 0 {
		t.Fatalf("expected non-zero id for re-added target")
	}

	time.Sleep(idleStopDelay + 100*time.Millisecond)
	if p.TargetCount() != 1 {
		t.Fatalf("expected the surviving target to remain attached, got %d", p.TargetCount())
	}
}

func TestBytesSentReturnsZeroForMissingTarget(t *testing.T) {
	p := newTestPipeline()
	if got := p.BytesSent(12345); got != 0 {
		t.Fatalf("expected 0 for missing target, got %d", got)
	}
}

func TestFirstAddTargetFixesResolution(t *testing.T) {
	p := newTestPipeline()
	before := p.Resolution()
	if _, err := p.AddTarget(testParams("srt://127.0.0.1:9300?mode=caller")); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	<-p.Bus.Messages()
	<-p.Bus.Messages()
	if p.Resolution() != before {
		t.Fatalf("expected resolution unchanged by add_target, got %+v", p.Resolution())
	}
}

func TestSetResolutionRejectedBeforeSourceBuilt(t *testing.T) {
	p := newTestPipeline()
	if err := p.SetResolution(Resolution{Width: 640, Height: 480}); err == nil {
		t.Fatalf("expected error setting resolution before source branch exists")
	}
}

func TestSetFramerateRejectedBeforeSourceBuilt(t *testing.T) {
	p := newTestPipeline()
	if err := p.SetFramerate(60); err == nil {
		t.Fatalf("expected error setting framerate before source branch exists")
	}
}

func TestSetFramerateUpdatesFramerateAndCyclesSource(t *testing.T) {
	p := newTestPipeline()
	if _, err := p.AddTarget(testParams("srt://127.0.0.1:9500?mode=caller")); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	<-p.Bus.Messages()
	<-p.Bus.Messages()

	if err := p.SetFramerate(60); err != nil {
		t.Fatalf("SetFramerate: %v", err)
	}
	if p.Framerate() != 60 {
		t.Fatalf("expected framerate 60, got %d", p.Framerate())
	}
	if p.source.State() != framework.StatePlaying {
		t.Fatalf("expected source cycled back to Playing, got %s", p.source.State())
	}
}

func TestArgusSourceNotCycledOnFramerateChange(t *testing.T) {
	p := Open(3, SourceArgus, "0", "general", Resolution{Width: 1920, Height: 1080}, 30, adaptor.KindNull, fakeSinkFactory())
	if _, err := p.AddTarget(testParams("srt://127.0.0.1:9401?mode=caller")); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	<-p.Bus.Messages()
	<-p.Bus.Messages()

	if err := p.SetFramerate(60); err != nil {
		t.Fatalf("SetFramerate: %v", err)
	}
	if p.source.State() != framework.StatePlaying {
		t.Fatalf("expected argus source to remain Playing without a Ready cycle, got %s", p.source.State())
	}
}

func TestV4L2SourceAddTargetSucceedsWithoutRealDevice(t *testing.T) {
	// No real /dev/video* exists in this environment; the capture open is
	// best-effort (SPEC_FULL.md §9) and must not block add_target.
	p := Open(4, SourceV4L2, "/dev/video0", "general", Resolution{Width: 1280, Height: 720}, 30, adaptor.KindNull, fakeSinkFactory())
	id, err := p.AddTarget(testParams("srt://127.0.0.1:9501?mode=caller"))
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	<-p.Bus.Messages()
	<-p.Bus.Messages()
	if id == 0 {
		t.Fatalf("expected non-zero target id")
	}
	if p.TargetCount() != 1 {
		t.Fatalf("expected one target, got %d", p.TargetCount())
	}
}

func TestTargetByIDReturnsAttachedTargetAndNilForUnknown(t *testing.T) {
	p := newTestPipeline()
	id, err := p.AddTarget(testParams("srt://127.0.0.1:9502?mode=caller"))
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	<-p.Bus.Messages()
	<-p.Bus.Messages()

	if got := p.TargetByID(id); got == nil {
		t.Fatalf("expected attached target for id %d", id)
	}
	if got := p.TargetByID(99999); got != nil {
		t.Fatalf("expected nil for unknown target id, got %+v", got)
	}
}

func TestMetricsTracksTargetCountBytesAndLastError(t *testing.T) {
	p := newTestPipeline()

	if m := p.Metrics(); m.TargetCount != 0 || !m.BuiltAt.IsZero() {
		t.Fatalf("expected zero-value metrics before any target, got %+v", m)
	}
	if err := p.SetFramerate(60); err == nil {
		t.Fatalf("expected error before source branch built")
	}
	if m := p.Metrics(); m.LastError == nil {
		t.Fatalf("expected LastError recorded from rejected SetFramerate")
	}

	id, err := p.AddTarget(testParams("srt://127.0.0.1:9600?mode=caller"))
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	<-p.Bus.Messages() // srt_mode
	<-p.Bus.Messages() // stream-started

	m := p.Metrics()
	if m.TargetCount != 1 {
		t.Fatalf("expected TargetCount 1, got %d", m.TargetCount)
	}
	if m.BuiltAt.IsZero() {
		t.Fatalf("expected BuiltAt set once the source branch is built")
	}

	if tgt := p.TargetByID(id); tgt == nil {
		t.Fatalf("expected attached target for id %d", id)
	}
}

func TestArgusSourceNotCycledOnResolutionChange(t *testing.T) {
	p := Open(2, SourceArgus, "0", "general", Resolution{Width: 1920, Height: 1080}, 30, adaptor.KindNull, fakeSinkFactory())
	if _, err := p.AddTarget(testParams("srt://127.0.0.1:9400?mode=caller")); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	<-p.Bus.Messages()
	<-p.Bus.Messages()

	if err := p.SetResolution(Resolution{Width: 1280, Height: 720}); err != nil {
		t.Fatalf("SetResolution: %v", err)
	}
	if p.source.State() != framework.StatePlaying {
		t.Fatalf("expected argus source to remain Playing without a Ready cycle, got %s", p.source.State())
	}
}
