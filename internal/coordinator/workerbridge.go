package coordinator

import (
	"context"
	"log/slog"

	"github.com/haloedge/ingestd/internal/adaptor"
	"github.com/haloedge/ingestd/internal/encodermap"
	"github.com/haloedge/ingestd/internal/pipeline"
	"github.com/haloedge/ingestd/internal/target"
	"github.com/haloedge/ingestd/internal/worker"
)

// pipelineWorker is the parent-side handle to a pipeline's worker-protocol
// loop (spec.md §4.5): control messages cross an os.Pipe pair instead of a
// direct method call, exercising the same fixed-size record framing a real
// subprocess boundary would use.
type pipelineWorker struct {
	pipes *worker.PipePair
}

func startPipelineWorker(p *pipeline.Pipeline, logger *slog.Logger) (*pipelineWorker, error) {
	pipes, err := worker.NewPipePair()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())

	handle := func(m worker.Msg) (worker.Msg, bool) {
		switch m.Kind {
		case worker.KindSetResolution:
			if err := p.SetResolution(pipeline.Resolution{Width: int(m.A), Height: int(m.B)}); err != nil {
				return worker.NewError(1, err.Error()), true
			}
		case worker.KindSetFps:
			if err := p.SetFramerate(int(m.A)); err != nil {
				return worker.NewError(1, err.Error()), true
			}
		case worker.KindTerminate:
			p.Stop()
		}
		return worker.Msg{}, false
	}

	go func() {
		// cancel is only called here, after RunLoop has returned (either by
		// processing KindTerminate or by ctx cancellation), never from
		// terminate() itself: cancelling concurrently with writing the
		// Terminate message would race the RunLoop select against its own
		// pending message delivery and could skip the message entirely.
		_ = worker.RunLoop(ctx, pipes.ControlR, pipes.EventW, handle)
		cancel()
		pipes.CloseWorkerEnds()
	}()
	go func() {
		_ = worker.ReadEvents(ctx, pipes.EventR, func(m worker.Msg) {
			if m.Kind == worker.KindError {
				logger.Warn("pipeline worker reported error", "node_event", m.Kind.String())
			}
		})
	}()

	return &pipelineWorker{pipes: pipes}, nil
}

func (w *pipelineWorker) setResolution(width, height int) error {
	return worker.WriteMsg(w.pipes.ControlW, worker.NewSetResolution(width, height))
}

func (w *pipelineWorker) setFramerate(fps int) error {
	return worker.WriteMsg(w.pipes.ControlW, worker.NewSetFps(fps))
}

// terminate sends KindTerminate and closes the parent's ends of the pipe
// pair. It deliberately does not cancel the worker's context: RunLoop
// already returns as soon as it processes KindTerminate, and cancelling
// here would race that processing.
func (w *pipelineWorker) terminate() {
	_ = worker.WriteMsg(w.pipes.ControlW, worker.NewTerminate())
	w.pipes.CloseParentEnds()
}

// targetWorker is the parent-side handle to a target's worker-protocol
// loop (spec.md §4.5 target-worker control messages).
type targetWorker struct {
	pipes *worker.PipePair
}

func startTargetWorker(t *target.Target, logger *slog.Logger) (*targetWorker, error) {
	pipes, err := worker.NewPipePair()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())

	handle := func(m worker.Msg) (worker.Msg, bool) {
		switch m.Kind {
		case worker.KindSetBitrate:
			if err := t.SetBitrate(int(m.A)); err != nil {
				return worker.NewError(1, err.Error()), true
			}
		case worker.KindSetBitrateControl:
			if err := t.SetBitrateControl(encodermap.RateControl(m.A)); err != nil {
				return worker.NewError(1, err.Error()), true
			}
		case worker.KindSetQuantizer:
			if err := t.SetQuantizer(int(m.A)); err != nil {
				return worker.NewError(1, err.Error()), true
			}
		case worker.KindSetAdaptorKind:
			t.SetAdaptorKind(adaptor.Kind(m.A))
		case worker.KindSetAdaptiveStreaming:
			if err := t.SetAdaptiveStreaming(m.A != 0); err != nil {
				return worker.NewError(1, err.Error()), true
			}
		case worker.KindStop:
			t.Unlink()
		}
		return worker.Msg{}, false
	}

	go func() {
		// See startPipelineWorker: cancel only after RunLoop returns, never
		// from terminate(), so the Stop message is never raced out by ctx
		// cancellation inside RunLoop's select.
		_ = worker.RunLoop(ctx, pipes.ControlR, pipes.EventW, handle)
		cancel()
		pipes.CloseWorkerEnds()
	}()
	go func() {
		_ = worker.ReadEvents(ctx, pipes.EventR, func(m worker.Msg) {
			if m.Kind == worker.KindError {
				logger.Warn("target worker reported error", "target_event", m.Kind.String())
			}
		})
	}()

	return &targetWorker{pipes: pipes}, nil
}

func (w *targetWorker) stop() error {
	return worker.WriteMsg(w.pipes.ControlW, worker.NewStop())
}

// terminate sends KindStop and closes the parent's ends of the pipe pair;
// see startTargetWorker for why it does not cancel the context directly.
func (w *targetWorker) terminate() {
	_ = worker.WriteMsg(w.pipes.ControlW, worker.NewStop())
	w.pipes.CloseParentEnds()
}
