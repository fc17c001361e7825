// Package pipeline implements a Pipeline (spec.md §4.1): one physical
// capture source fanning out, through a tee, into zero or more Targets.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haloedge/ingestd/internal/adaptor"
	"github.com/haloedge/ingestd/internal/domainerr"
	"github.com/haloedge/ingestd/internal/framework"
	"github.com/haloedge/ingestd/internal/target"
	"github.com/haloedge/ingestd/internal/v4l2src"
)

// frameSource is implemented by source elements that can drive the tee
// from real captured frames (currently only v4l2src.Source); the
// test-pattern and argus source kinds use a plain framework.SimpleElement
// and do not satisfy it, so the capture pump is simply skipped for them.
type frameSource interface {
	Frames() <-chan []byte
}

// SourceKind selects the capture source element chain (spec.md §4.1).
type SourceKind int

const (
	SourceV4L2 SourceKind = iota
	SourceTestPattern
	SourceArgus
)

// Resolution is a pipeline-wide frame size, fixed by the first target to
// attach (spec.md §3 Data Model invariant).
type Resolution struct {
	Width  int
	Height int
}

// describe renders the source-description lookup table from spec.md §4.1:
// v4l2-like appends device=<path>, test pattern sets is-live=1, argus-like
// appends sensor-id=<n>.
func (k SourceKind) describe(device string) string {
	switch k {
	case SourceV4L2:
		return fmt.Sprintf("device=%s", device)
	case SourceArgus:
		return fmt.Sprintf("sensor-id=%s", device)
	default:
		return "is-live=1"
	}
}

// idleStopDelay is how long a source branch lingers with zero targets
// before stop() actually runs, giving a racing add_target a chance to
// cancel the teardown (spec.md §4.1).
const idleStopDelay = 2 * time.Second

// Metrics is a point-in-time snapshot of a Pipeline's health, grounded on
// the teacher's internal/rtmp/relay.DestinationMetrics pattern and
// gaeguli_target_get_stats from the original gaeguli source (SPEC_FULL.md
// §5.1): how many targets are attached, cumulative bytes across them, when
// the source branch was last (re)built, and the last resolution/framerate
// change error if any.
type Metrics struct {
	TargetCount int
	BytesSent   uint64
	BuiltAt     time.Time
	LastError   error
}

// Pipeline is one physical capture source and its target fan-out.
type Pipeline struct {
	ID             uint32
	SourceKind     SourceKind
	Device         string
	EncodingFamily string
	ShowOverlay    bool
	AdaptorKind    adaptor.Kind

	Bus *framework.Bus

	mu              sync.Mutex
	resolution      Resolution
	framerate       int
	resolutionFixed bool
	built           bool
	tee             *framework.Tee
	source          framework.Element
	pumpCancel      context.CancelFunc
	targets         map[uint32]*target.Target
	targetPads      map[uint32]*framework.Pad
	pendingRemovals int
	stopTimer       *time.Timer
	sinkFactory     target.SinkFactory
	builtAt         time.Time
	lastError       error
}

// Open is the pure Pipeline constructor: no media objects are built until
// the first add_target (spec.md §4.1 open()).
func Open(id uint32, kind SourceKind, device, encodingFamily string, resolution Resolution, framerate int, adaptorKind adaptor.Kind, sinkFactory target.SinkFactory) *Pipeline {
	return &Pipeline{
		ID:             id,
		SourceKind:     kind,
		Device:         device,
		EncodingFamily: encodingFamily,
		AdaptorKind:    adaptorKind,
		Bus:            framework.NewBus(),
		resolution:     resolution,
		framerate:      framerate,
		targets:        make(map[uint32]*target.Target),
		targetPads:     make(map[uint32]*framework.Pad),
		sinkFactory:    sinkFactory,
	}
}

// buildSourceBranchLocked lazily constructs the source bin, fixing resolution and
// framerate for the pipeline's lifetime (spec.md §4.1). Must be called with
// mu held.
func (p *Pipeline) buildSourceBranchLocked() {
	if p.built {
		return
	}
	if p.SourceKind == SourceV4L2 {
		p.source = v4l2src.New(p.Device)
	} else {
		p.source = framework.NewSimpleElement()
	}
	p.tee = framework.NewTee()
	_ = p.source.SetProperty("width", p.resolution.Width)
	_ = p.source.SetProperty("height", p.resolution.Height)
	_ = p.source.SetProperty("caps", p.SourceKind.describe(p.Device))
	_ = p.source.SetState(framework.StatePlaying)
	p.tee.SetFlowing(true)
	p.resolutionFixed = true
	p.built = true
	p.builtAt = time.Now()
	p.startCapturePumpLocked()
}

// startCapturePumpLocked launches the goroutine that turns a real
// frameSource's captured frames into tee traffic. Source kinds that don't
// implement frameSource (test-pattern, argus) are a no-op here: nothing
// publishes to their tee.
func (p *Pipeline) startCapturePumpLocked() {
	fs, ok := p.source.(frameSource)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.pumpCancel = cancel
	tee := p.tee
	go func() {
		frames := fs.Frames()
		if frames == nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				tee.Publish(len(frame))
			}
		}
	}()
}

// AddTarget atomically attaches an encoder/sink branch (spec.md §4.1
// add_target). The first call fixes resolution/framerate for the
// pipeline's lifetime; a URI whose hash collides with an existing target is
// treated as a no-op success.
func (p *Pipeline) AddTarget(params target.Params) (uint32, error) {
	id := target.HashURI(params.ContainerURI)

	p.mu.Lock()
	if _, exists := p.targets[id]; exists {
		p.mu.Unlock()
		return id, nil
	}
	p.cancelScheduledStopLocked()
	p.buildSourceBranchLocked()
	tee := p.tee
	p.mu.Unlock()

	if params.AdaptorKind == 0 && p.AdaptorKind != 0 {
		params.AdaptorKind = p.AdaptorKind
	}
	tgt, err := target.New(id, params, p.Bus, p.sinkFactory)
	if err != nil {
		return 0, err
	}

	pad := tee.RequestPad()
	pad.InstallBlockingProbe(func() {
		tgt.Link()
	})

	p.mu.Lock()
	p.targets[id] = tgt
	p.targetPads[id] = pad
	p.mu.Unlock()

	return id, nil
}

// RemoveTarget detaches a target (spec.md §4.1 remove_target). Unknown ids
// are a no-op success.
func (p *Pipeline) RemoveTarget(targetID uint32) error {
	p.mu.Lock()
	tgt, ok := p.targets[targetID]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	pad := p.targetPads[targetID]
	delete(p.targets, targetID)
	delete(p.targetPads, targetID)
	p.pendingRemovals++
	tee := p.tee
	p.mu.Unlock()

	pad.InstallBlockingProbe(func() {
		tgt.Unlink()
	})
	tee.ReleasePad(pad)

	p.mu.Lock()
	p.pendingRemovals--
	if len(p.targets) == 0 && p.pendingRemovals == 0 {
		p.scheduleStopLocked()
	}
	p.mu.Unlock()
	return nil
}

// scheduleStopLocked schedules stop() to the idle queue; must be called
// with mu held. Any concurrent AddTarget cancels it first.
func (p *Pipeline) scheduleStopLocked() {
	if p.stopTimer != nil {
		p.stopTimer.Stop()
	}
	p.stopTimer = time.AfterFunc(idleStopDelay, p.Stop)
}

func (p *Pipeline) cancelScheduledStopLocked() {
	if p.stopTimer != nil {
		p.stopTimer.Stop()
		p.stopTimer = nil
	}
}

// Stop sets the source branch state to Null, cancels any scheduled
// self-stop, and drops the source/tee references (spec.md §4.1 stop()).
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelScheduledStopLocked()
	if p.pumpCancel != nil {
		p.pumpCancel()
		p.pumpCancel = nil
	}
	if p.source != nil {
		_ = p.source.SetState(framework.StateNull)
	}
	p.source = nil
	p.tee = nil
	p.built = false
	p.resolutionFixed = false
}

// BytesSent queries the target's transport sink stats; a missing target
// returns 0 (spec.md §4.1 bytes_sent()).
func (p *Pipeline) BytesSent(targetID uint32) uint64 {
	p.mu.Lock()
	tgt, ok := p.targets[targetID]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	return tgt.BytesSent()
}

// TargetByID returns the attached target for targetID, or nil if unknown.
func (p *Pipeline) TargetByID(targetID uint32) *target.Target {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.targets[targetID]
}

// TargetCount reports the number of currently attached targets.
func (p *Pipeline) TargetCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.targets)
}

// Resolution reports the pipeline's fixed (or pending) frame size.
func (p *Pipeline) Resolution() Resolution {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolution
}

// SetResolution rewrites the caps-filter. On non-argus sources this
// requires cycling the source branch through Ready->Playing so the decoder
// rediscovers the format; argus sources must not be cycled (spec.md §4.1
// "Resolution change").
func (p *Pipeline) SetResolution(r Resolution) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.built {
		err := domainerr.New(domainerr.InvalidArgument, "pipeline.set_resolution", fmt.Errorf("source branch not built"))
		p.lastError = err
		return err
	}
	p.resolution = r
	_ = p.source.SetProperty("width", r.Width)
	_ = p.source.SetProperty("height", r.Height)
	_ = p.source.SetProperty("caps", fmt.Sprintf("%s;%dx%d", p.SourceKind.describe(p.Device), r.Width, r.Height))
	if p.SourceKind == SourceArgus {
		return nil
	}
	if err := p.source.SetState(framework.StateReady); err != nil {
		p.lastError = err
		return err
	}
	if err := p.source.SetState(framework.StatePlaying); err != nil {
		p.lastError = err
		return err
	}
	p.restartCapturePumpLocked()
	return nil
}

// SetFramerate rewrites the caps-filter's framerate, cycling the source
// branch the same way SetResolution does (spec.md §4.5 pipeline-worker
// SetFps: "the worker rewrites the caps-filter and, for non-argus sources,
// cycles state Ready->prior").
func (p *Pipeline) SetFramerate(fps int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.built {
		err := domainerr.New(domainerr.InvalidArgument, "pipeline.set_framerate", fmt.Errorf("source branch not built"))
		p.lastError = err
		return err
	}
	p.framerate = fps
	_ = p.source.SetProperty("caps", fmt.Sprintf("%s;fps=%d", p.SourceKind.describe(p.Device), fps))
	if p.SourceKind == SourceArgus {
		return nil
	}
	if err := p.source.SetState(framework.StateReady); err != nil {
		p.lastError = err
		return err
	}
	if err := p.source.SetState(framework.StatePlaying); err != nil {
		p.lastError = err
		return err
	}
	p.restartCapturePumpLocked()
	return nil
}

// restartCapturePumpLocked cancels the current capture pump (if any) and
// starts a fresh one, needed after a Ready->Playing cycle since
// v4l2src.Source opens a new underlying device (and frame channel) on
// every Playing transition.
func (p *Pipeline) restartCapturePumpLocked() {
	if p.pumpCancel != nil {
		p.pumpCancel()
		p.pumpCancel = nil
	}
	p.startCapturePumpLocked()
}

// Framerate reports the pipeline's current framerate.
func (p *Pipeline) Framerate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.framerate
}

// Metrics returns a snapshot of the pipeline's health (SPEC_FULL.md §5.1).
func (p *Pipeline) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	var bytesSent uint64
	for _, tgt := range p.targets {
		bytesSent += tgt.BytesSent()
	}
	return Metrics{
		TargetCount: len(p.targets),
		BytesSent:   bytesSent,
		BuiltAt:     p.builtAt,
		LastError:   p.lastError,
	}
}
