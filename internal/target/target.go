// Package target implements a Target (spec.md §4.2): one outgoing stream
// attached to a Pipeline's tee, carrying its own encoder, transport sink,
// and stream adaptor.
package target

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/haloedge/ingestd/internal/adaptor"
	"github.com/haloedge/ingestd/internal/domainerr"
	"github.com/haloedge/ingestd/internal/encodermap"
	"github.com/haloedge/ingestd/internal/framework"
)

// Kind names the transport family a Target drives.
type Kind int

const (
	KindSRT Kind = iota
	KindRecording
	KindImageCapture
)

// SRTMode is the SRT connection establishment mode.
type SRTMode int

const (
	ModeCaller SRTMode = iota
	ModeListener
	ModeRendezvous
)

func (m SRTMode) String() string {
	switch m {
	case ModeListener:
		return "listener"
	case ModeRendezvous:
		return "rendezvous"
	default:
		return "caller"
	}
}

// State is a Target's lifecycle position (spec.md §4.2).
type State int

const (
	StateCreated State = iota
	StateLinking
	StateStreaming
	StateUnlinking
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateLinking:
		return "linking"
	case StateStreaming:
		return "streaming"
	case StateUnlinking:
		return "unlinking"
	case StateStopped:
		return "stopped"
	default:
		return "created"
	}
}

// Params is the caller-supplied Target descriptor (spec.md §3 Data Model).
type Params struct {
	Kind           Kind
	Codec          encodermap.Identity
	ContainerURI   string // SRT URI or file path
	Username       string
	Passphrase     string
	Pbkeylen       int // 0, 16, 24, or 32
	BufferSize     int // SRT sndbuf override, 0 = unset
	IdrPeriod      int
	Bitrate        int
	BitrateControl encodermap.RateControl
	Quantizer      int
	AdaptiveStreaming bool
	SRTMode        SRTMode
	AdaptorKind    adaptor.Kind
}

// SinkFactory builds the TransportSink for a Target's (possibly rewritten)
// URI. Production code wires srtSink/fileSink; tests inject FakeSink.
type SinkFactory func(p Params, rewrittenURI string) (TransportSink, error)

// Metrics is a point-in-time snapshot of a Target's link health, grounded
// on the teacher's internal/rtmp/relay.DestinationMetrics. Unlike the
// teacher's relay destinations, a Target never auto-reconnects, so there is
// no reconnect counter to carry; dropped-message accounting is likewise
// omitted since SetBitrate/SetQuantizer/SetBitrateControl either apply or
// return an error synchronously; they never silently drop.
type Metrics struct {
	MessagesSent uint64
	BytesSent    uint64
	LastSentTime time.Time
	ConnectTime  time.Time
	LastError    error
}

// Target is one outgoing stream attached to a Pipeline's tee.
type Target struct {
	ID     uint32
	Params Params

	bus     *framework.Bus
	encoder framework.Element
	sink    TransportSink
	adapt   adaptor.Adaptor

	mu      sync.Mutex
	state   State
	metrics Metrics
}

// New runs the Target construction sequence (spec.md §4.2 steps 1-10). On
// any failure it returns a classified domainerr and no Target.
func New(id uint32, p Params, bus *framework.Bus, sinkFactory SinkFactory) (*Target, error) {
	if id == 0 {
		return nil, domainerr.New(domainerr.InvalidArgument, "target.new", fmt.Errorf("target id must be non-zero"))
	}
	if p.Bitrate < 1 {
		return nil, domainerr.New(domainerr.InvalidArgument, "target.new", fmt.Errorf("bitrate must be >= 1"))
	}
	if p.Passphrase != "" && len(p.Passphrase) < 10 {
		return nil, domainerr.New(domainerr.TransmitFailed, "target.new", fmt.Errorf("passphrase shorter than 10 bytes"))
	}

	// Steps 1-3: URI rewriting (codec selection is carried by p.Codec).
	rewritten, err := rewriteURI(p)
	if err != nil {
		return nil, domainerr.New(domainerr.InvalidArgument, "target.rewrite_uri", err)
	}

	// Step 4: parse into an encoder+muxer+sink sub-graph. The encoder is a
	// generic property bag (internal/framework), the sink comes from the
	// factory.
	encoder := framework.NewSimpleElement()
	sink, err := sinkFactory(p, rewritten)
	if err != nil {
		return nil, domainerr.New(domainerr.ResourceUnsupported, "target.build_sink", err)
	}

	t := &Target{
		ID:      id,
		Params:  p,
		bus:     bus,
		encoder: encoder,
		sink:    sink,
		state:   StateCreated,
	}

	// Seed the baseline encoder properties before attempting Ready.
	if err := encodermap.ApplyBitrate(encoder, p.Codec, p.Bitrate); err != nil {
		return nil, domainerr.New(domainerr.ResourceUnsupported, "target.seed_bitrate", err)
	}
	if err := encodermap.ApplyRateControl(encoder, p.Codec, p.BitrateControl); err != nil && !domainerr.Is(err, domainerr.ResourceUnsupported) {
		return nil, domainerr.New(domainerr.ResourceUnsupported, "target.seed_rate_control", err)
	}

	// Step 5+6: bring the sink to Ready; classify bus-level failures.
	if err := sink.Open(context.Background()); err != nil {
		return nil, classifyOpenError(err)
	}

	// Step 7: stream adaptor attached to this sink.
	t.adapt = adaptor.New(p.AdaptorKind, adaptor.Baseline{
		Bitrate:     p.Bitrate,
		Quantizer:   p.Quantizer,
		RateControl: p.BitrateControl,
	})

	// Step 10: observed srt_mode reported back to the coordinator.
	if p.Kind == KindSRT {
		bus.Post(framework.Message{Kind: framework.MsgSrtMode, TargetID: id, Data: map[string]any{"mode": p.SRTMode.String()}})
	}

	return t, nil
}

// classifyOpenError implements the bus sync-handler mapping from spec.md
// §4.2 step 5: "already listening on the same port" becomes AddressInUse,
// everything else becomes TransmitFailed.
func classifyOpenError(err error) error {
	if err == errAddressInUse || strings.Contains(err.Error(), "already listening on the same port") {
		return domainerr.New(domainerr.TransmitAddrInUse, "target.open_sink", err)
	}
	return domainerr.New(domainerr.TransmitFailed, "target.open_sink", err)
}

// rewriteURI implements spec.md §4.2 step 2: splice streamid/sndbuf query
// parameters into an SRT URI. Non-SRT kinds pass the location through
// unchanged.
func rewriteURI(p Params) (string, error) {
	if p.Kind != KindSRT {
		return p.ContainerURI, nil
	}
	if !strings.HasPrefix(p.ContainerURI, "srt://") {
		return "", fmt.Errorf("srt target requires an srt:// uri, got %q", p.ContainerURI)
	}
	u, err := url.Parse(p.ContainerURI)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if p.Username != "" {
		// Canonical form per spec.md §9 Open Question (c): the
		// worker-process streamid convention, not the in-process one.
		streamID := "#!::u=" + p.Username
		if p.BufferSize > 0 {
			streamID += ",h8l_bufsize=" + strconv.Itoa(p.BufferSize)
		}
		q.Set("streamid", streamID)
	}
	if p.BufferSize > 0 {
		q.Set("sndbuf", strconv.Itoa(p.BufferSize))
	}
	if p.SRTMode != ModeCaller {
		q.Set("mode", p.SRTMode.String())
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Link transitions Created -> Linking -> Streaming and posts
// stream-started, mirroring the blocking link-probe callback described in
// spec.md §4.1 (the probe itself lives in the owning pipeline).
func (t *Target) Link() {
	t.mu.Lock()
	t.state = StateLinking
	t.mu.Unlock()

	_ = t.encoder.SetState(framework.StatePlaying)
	t.mu.Lock()
	t.state = StateStreaming
	t.metrics.ConnectTime = time.Now()
	t.mu.Unlock()
	t.bus.Post(framework.Message{Kind: framework.MsgStreamStarted, TargetID: t.ID})
}

// Unlink transitions Streaming -> Unlinking -> Stopped and posts
// stream-stopped exactly once, idempotent on repeated calls.
func (t *Target) Unlink() {
	t.mu.Lock()
	if t.state == StateStopped || t.state == StateUnlinking {
		t.mu.Unlock()
		return
	}
	t.state = StateUnlinking
	t.mu.Unlock()

	_ = t.sink.Close()
	_ = t.encoder.SetState(framework.StateNull)

	t.mu.Lock()
	t.state = StateStopped
	t.mu.Unlock()
	t.bus.Post(framework.Message{Kind: framework.MsgStreamStopped, TargetID: t.ID})
}

func (t *Target) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Target) BytesSent() uint64 { return t.sink.BytesSent() }

// Metrics returns a snapshot of the target's link-health counters
// (SPEC_FULL.md §5.1).
func (t *Target) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.metrics
	m.BytesSent = t.sink.BytesSent()
	return m
}

// recordApply updates the shared message/error counters every
// SetBitrate/SetQuantizer/SetBitrateControl call funnels through.
func (t *Target) recordApply(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.metrics.LastError = err
		return
	}
	t.metrics.MessagesSent++
	t.metrics.LastSentTime = time.Now()
}

// changedFields reports which baseline fields a new value set differs from
// the Target's current Params, the input to encodermap.RequiresStateCycle.
func (t *Target) changedFields(bitrate, quantizer *int, rc *encodermap.RateControl) encodermap.ChangedFields {
	return encodermap.ChangedFields{
		Bitrate:     bitrate != nil && *bitrate != t.Params.Bitrate,
		Quantizer:   quantizer != nil && *quantizer != t.Params.Quantizer,
		RateControl: rc != nil && *rc != t.Params.BitrateControl,
	}
}

// SetBitrate applies a new bitrate through the encoder mapper, cycling the
// encoder's state if required, and notifies the bus.
func (t *Target) SetBitrate(bps int) error {
	changed := t.changedFields(&bps, nil, nil)
	err := encodermap.CycleAndApply(t.encoder, t.Params.Codec, changed, func() error {
		return encodermap.ApplyBitrate(t.encoder, t.Params.Codec, bps)
	})
	if err != nil {
		t.recordApply(err)
		return err
	}
	t.Params.Bitrate = bps
	actual, err := encodermap.BitrateActual(t.encoder, t.Params.Codec)
	if err != nil {
		t.recordApply(err)
		return err
	}
	t.recordApply(nil)
	t.bus.Post(framework.Message{Kind: framework.MsgNotifyEncoderBitrate, TargetID: t.ID, Data: map[string]any{"bitrate": actual}})
	return nil
}

// SetQuantizer applies a new quantizer value, if the backend supports one.
func (t *Target) SetQuantizer(q int) error {
	changed := t.changedFields(nil, &q, nil)
	err := encodermap.CycleAndApply(t.encoder, t.Params.Codec, changed, func() error {
		return encodermap.ApplyQuantizer(t.encoder, t.Params.Codec, q)
	})
	if err != nil {
		t.recordApply(err)
		return err
	}
	t.Params.Quantizer = q
	t.recordApply(nil)
	t.bus.Post(framework.Message{Kind: framework.MsgNotifyEncoderQuantizer, TargetID: t.ID, Data: map[string]any{"quantizer": q}})
	return nil
}

// SetBitrateControl applies a new rate-control mode.
func (t *Target) SetBitrateControl(rc encodermap.RateControl) error {
	changed := t.changedFields(nil, nil, &rc)
	err := encodermap.CycleAndApply(t.encoder, t.Params.Codec, changed, func() error {
		return encodermap.ApplyRateControl(t.encoder, t.Params.Codec, rc)
	})
	if err != nil {
		t.recordApply(err)
		return err
	}
	t.Params.BitrateControl = rc
	t.recordApply(nil)
	t.bus.Post(framework.Message{Kind: framework.MsgNotifyEncoderRateControl, TargetID: t.ID, Data: map[string]any{"rate_control": rc.String()}})
	return nil
}

// SetAdaptiveStreaming toggles whether the stream adaptor may drive the
// encoder; disabling it re-drives the encoder from baseline immediately
// (spec.md §4.3 force_on_encoder=true).
func (t *Target) SetAdaptiveStreaming(on bool) error {
	t.Params.AdaptiveStreaming = on
	if on {
		return nil
	}
	return t.driveFromBaseline()
}

// SetAdaptorKind swaps the stream adaptor implementation, reseeding it from
// the target's current baseline (spec.md §4.5 target-worker control
// message SetAdaptorKind(t)).
func (t *Target) SetAdaptorKind(kind adaptor.Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Params.AdaptorKind = kind
	t.adapt = adaptor.New(kind, adaptor.Baseline{
		Bitrate:     t.Params.Bitrate,
		Quantizer:   t.Params.Quantizer,
		RateControl: t.Params.BitrateControl,
	})
}

func (t *Target) driveFromBaseline() error {
	if err := t.SetBitrate(t.Params.Bitrate); err != nil {
		return err
	}
	if err := t.SetBitrateControl(t.Params.BitrateControl); err != nil {
		return err
	}
	return t.SetQuantizer(t.Params.Quantizer)
}

// SampleStats runs one stats sampling step (spec.md §4.3); nothing in this
// module calls it on a timer. It queries the sink,
// feeds the adaptor, and applies any proposed delta, or re-drives the
// encoder from baseline when adaptive streaming is off or the adaptor
// declines.
func (t *Target) SampleStats() error {
	if !t.Params.AdaptiveStreaming || !t.adapt.Enabled() {
		return t.driveFromBaseline()
	}
	delta := t.adapt.OnStats(t.sink.Stats())
	if delta.Empty() {
		return nil
	}
	if delta.Bitrate != nil {
		if err := t.SetBitrate(*delta.Bitrate); err != nil {
			return err
		}
	}
	if delta.Quantizer != nil {
		if err := t.SetQuantizer(*delta.Quantizer); err != nil {
			return err
		}
	}
	if delta.RateControl != nil {
		if err := t.SetBitrateControl(*delta.RateControl); err != nil {
			return err
		}
	}
	return nil
}

// HashURI computes the stable 32-bit target id from a URI or location
// (spec.md §3 Data Model, Target.id).
func HashURI(uri string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(uri))
	return h.Sum32()
}
