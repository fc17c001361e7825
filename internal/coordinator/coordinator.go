// Package coordinator wires internal/pipeline, internal/target, and
// internal/shmreg together to implement the producerd/consumerd cores
// (spec.md §4.7): the in-process object that both daemon IPC listeners
// dispatch into.
//
// spec.md models producerd and consumerd as two separate OS processes,
// each forking a child per connection, cooperating purely through the
// shm registry and the consumerd->producerd "read the producer's
// pipeline" step. A real fork() is unavailable to a running Go process
// without corrupting the runtime (SPEC_FULL.md §5.4), so this package
// collapses both roles into one shared Coordinator: the shm registry is
// still written and read exactly as spec.md §4.6 describes (a crash-only
// consumer could still recover descriptors from it), but the live
// add_target/start/stop calls route directly to the in-memory Pipeline
// and Target objects rather than through a second IPC hop. cmd/ingestd
// runs both daemon listeners against one Coordinator.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haloedge/ingestd/internal/adaptor"
	"github.com/haloedge/ingestd/internal/domainerr"
	"github.com/haloedge/ingestd/internal/encodermap"
	"github.com/haloedge/ingestd/internal/framework"
	"github.com/haloedge/ingestd/internal/hooks"
	"github.com/haloedge/ingestd/internal/ipc"
	"github.com/haloedge/ingestd/internal/pipeline"
	"github.com/haloedge/ingestd/internal/shmreg"
	"github.com/haloedge/ingestd/internal/target"
	"github.com/haloedge/ingestd/internal/worker"
)

// pipelineEntry pairs a live Pipeline with the shm region publishing its
// descriptor (spec.md §4.6 pipeline_deep_copy).
type pipelineEntry struct {
	p      *pipeline.Pipeline
	region *shmreg.Region
	worker *pipelineWorker
}

// targetEntry pairs a live Target with its shm region, keyed by the same
// (uri_hash, output_node_id) pair spec.md §4.7 uses for CreateSrtTarget's
// region name.
type targetEntry struct {
	t            *target.Target
	region       *shmreg.Region
	worker       *targetWorker
	pipelineNode uint32
	outputNode   uint32
}

// Coordinator owns every Pipeline and Target this host has created and
// satisfies both ipc.ProducerCore and ipc.ConsumerCore.
type Coordinator struct {
	sinkFactory target.SinkFactory
	logger      *slog.Logger
	hooks       *hooks.HookManager

	mu        sync.Mutex
	pipelines map[uint32]*pipelineEntry
	targets   map[uint32]*targetEntry
}

// New builds an empty Coordinator. sinkFactory is threaded through to
// every Target constructed via add_target; production callers pass
// target.DefaultSinkFactory, tests pass a FakeSink-backed factory. A nil
// hookManager disables the external-notification wiring (SPEC_FULL.md
// §5.1) entirely; HookManager.TriggerEvent tolerates a nil receiver, so
// CreatePipeline can wire it unconditionally either way.
func New(sinkFactory target.SinkFactory, logger *slog.Logger, hookManager *hooks.HookManager) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		sinkFactory: sinkFactory,
		logger:      logger.With("component", "coordinator"),
		hooks:       hookManager,
		pipelines:   make(map[uint32]*pipelineEntry),
		targets:     make(map[uint32]*targetEntry),
	}
}

// CreatePipeline implements ipc.ProducerCore (spec.md §4.7 CreatePipeline):
// builds a Pipeline for the given camera node and publishes its descriptor
// into the shm registry. Re-creating an already-known node is a no-op
// success, matching the idempotent add_target/remove_target philosophy
// used elsewhere in this codebase.
func (c *Coordinator) CreatePipeline(nodeID uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pipelines[nodeID]; exists {
		return nil
	}

	p := pipeline.Open(
		nodeID,
		pipeline.SourceV4L2,
		fmt.Sprintf("/dev/video%d", nodeID),
		"h264",
		pipeline.Resolution{Width: 1280, Height: 720},
		30,
		adaptor.KindNull,
		c.sinkFactory,
	)
	p.Bus.SetHook(c.forwardBusEvent(nodeID))

	region, err := shmreg.New(shmreg.PipelineKey(nodeID), shmreg.PipelineDescriptorSize)
	if err != nil {
		return err
	}
	c.writePipelineDescriptorLocked(region, nodeID, p)

	pw, err := startPipelineWorker(p, c.logger)
	if err != nil {
		_ = region.Close(nil)
		return err
	}

	c.pipelines[nodeID] = &pipelineEntry{p: p, region: region, worker: pw}
	c.logger.Info("pipeline created", "node_id", nodeID)
	return nil
}

func (c *Coordinator) writePipelineDescriptorLocked(region *shmreg.Region, nodeID uint32, p *pipeline.Pipeline) {
	res := p.Resolution()
	var device [64]byte
	shmreg.PutString(device[:], fmt.Sprintf("/dev/video%d", nodeID))
	d := shmreg.PipelineDescriptor{
		NodeID:      nodeID,
		SourceKind:  uint32(p.SourceKind),
		Device:      device,
		Width:       uint32(res.Width),
		Height:      uint32(res.Height),
		AdaptorKind: uint32(p.AdaptorKind),
		TargetCount: uint32(p.TargetCount()),
	}
	region.Write(shmreg.EncodePipeline(d))
}

// DestroyPipeline implements ipc.ProducerCore (spec.md §4.7
// DestroyPipeline): stops the source branch, unmaps, and shm_unlinks.
// Unknown node ids are a no-op success.
func (c *Coordinator) DestroyPipeline(nodeID uint32) error {
	c.mu.Lock()
	entry, ok := c.pipelines[nodeID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.pipelines, nodeID)
	c.mu.Unlock()

	entry.worker.terminate()
	if err := entry.region.Close(nil); err != nil {
		return err
	}
	c.logger.Info("pipeline destroyed", "node_id", nodeID)
	return nil
}

// SetPipelineResolution drives a pipeline's worker-protocol control channel
// with a SetResolution message (spec.md §4.5), rather than mutating the
// Pipeline directly.
func (c *Coordinator) SetPipelineResolution(nodeID uint32, width, height int) error {
	pe, ok := c.pipelineByNode(nodeID)
	if !ok {
		return domainerr.New(domainerr.InvalidArgument, "coordinator.set_pipeline_resolution", fmt.Errorf("no pipeline for node %d", nodeID))
	}
	return pe.worker.setResolution(width, height)
}

// SetPipelineFramerate drives a pipeline's worker-protocol control channel
// with a SetFps message (spec.md §4.5).
func (c *Coordinator) SetPipelineFramerate(nodeID uint32, fps int) error {
	pe, ok := c.pipelineByNode(nodeID)
	if !ok {
		return domainerr.New(domainerr.InvalidArgument, "coordinator.set_pipeline_framerate", fmt.Errorf("no pipeline for node %d", nodeID))
	}
	return pe.worker.setFramerate(fps)
}

// CreateSrtTarget implements ipc.ConsumerCore (spec.md §4.7
// CreateSrtTarget): reads the producer's pipeline, invokes add_target, and
// publishes the resulting Target's descriptor keyed by hash(uri) x
// output_node.
func (c *Coordinator) CreateSrtTarget(msg ipc.ConsumerMsg) (uint32, error) {
	return c.createTarget(msg, target.KindSRT, msg.URI)
}

// CreateRecordingTarget implements ipc.ConsumerCore (spec.md §4.7
// CreateRecordingTarget): kind=recording, uri carries the destination
// file location.
func (c *Coordinator) CreateRecordingTarget(msg ipc.ConsumerMsg) (uint32, error) {
	return c.createTarget(msg, target.KindRecording, msg.URI)
}

// CreateImageCaptureTarget implements ipc.ConsumerCore (spec.md §4.7
// CreateImageCaptureTarget): when msg.URI is empty the key is
// hash("image_capture") x output_node per spec.md §4.7; a non-empty
// msg.URI is used instead. The same string is the file path the
// image-capture sink writes to; it is not derived from the output node id.
func (c *Coordinator) CreateImageCaptureTarget(msg ipc.ConsumerMsg) (uint32, error) {
	uri := msg.URI
	if uri == "" {
		uri = "image_capture"
	}
	return c.createTarget(msg, target.KindImageCapture, uri)
}

func (c *Coordinator) createTarget(msg ipc.ConsumerMsg, kind target.Kind, uri string) (uint32, error) {
	c.mu.Lock()
	pe, ok := c.pipelines[msg.InputNodeID]
	c.mu.Unlock()
	if !ok {
		return 0, domainerr.New(domainerr.InvalidArgument, "coordinator.create_target", fmt.Errorf("no pipeline for input node %d", msg.InputNodeID))
	}

	hashID := target.HashURI(uri)
	c.mu.Lock()
	if _, exists := c.targets[hashID]; exists {
		c.mu.Unlock()
		return hashID, nil
	}
	c.mu.Unlock()

	params := target.Params{
		Kind:         kind,
		Codec:        codecIdentity(msg.Codec),
		ContainerURI: uri,
		Username:     msg.Username,
		Bitrate:      int(msg.Bitrate),
	}

	hashID, err := pe.p.AddTarget(params)
	if err != nil {
		return 0, err
	}

	region, err := shmreg.New(shmreg.TargetKey(hashID, msg.OutputNodeID), shmreg.TargetDescriptorSize)
	if err != nil {
		return 0, err
	}

	tgt := pe.p.TargetByID(hashID)
	if tgt == nil {
		return 0, domainerr.New(domainerr.InvalidArgument, "coordinator.create_target", fmt.Errorf("target %d vanished after add_target", hashID))
	}
	tw, err := startTargetWorker(tgt, c.logger)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.writeTargetDescriptorLocked(region, hashID, tgt)
	c.targets[hashID] = &targetEntry{t: tgt, region: region, worker: tw, pipelineNode: msg.InputNodeID, outputNode: msg.OutputNodeID}
	c.mu.Unlock()

	c.logger.Info("target created", "hash_id", hashID, "input_node", msg.InputNodeID, "output_node", msg.OutputNodeID)
	return hashID, nil
}

func (c *Coordinator) writeTargetDescriptorLocked(region *shmreg.Region, hashID uint32, t *target.Target) {
	if t == nil {
		return
	}
	var uri [192]byte
	shmreg.PutString(uri[:], t.Params.ContainerURI)
	d := shmreg.TargetDescriptor{
		TargetID:       hashID,
		Kind:           uint32(t.Params.Kind),
		Codec:          uint32(t.Params.Codec.Codec),
		Backend:        uint32(t.Params.Codec.Backend),
		URI:            uri,
		Bitrate:        uint32(t.Params.Bitrate),
		BitrateControl: uint32(t.Params.BitrateControl),
		Quantizer:      uint32(t.Params.Quantizer),
		State:          uint32(t.State()),
	}
	region.Write(shmreg.EncodeTarget(d))
}

// StartTarget implements ipc.ConsumerCore (spec.md §4.7 StartTarget, Open
// Question (a): gaeguli_start_consumer == Target.Start()). The pipeline's
// blocking pad-probe already calls Target.Link() the moment data flows
// through the tee (internal/pipeline.AddTarget), so StartTarget's role
// here is confirming the target exists and is reachable, not a second
// link.
func (c *Coordinator) StartTarget(hashID, outputNodeID uint32) error {
	c.mu.Lock()
	entry, ok := c.targets[hashID]
	c.mu.Unlock()
	if !ok || entry.outputNode != outputNodeID {
		return domainerr.New(domainerr.InvalidArgument, "coordinator.start_target", fmt.Errorf("unknown target hash %d for output node %d", hashID, outputNodeID))
	}
	c.logger.Info("target started", "hash_id", hashID, "output_node", outputNodeID)
	return nil
}

// DestroyTarget implements ipc.ConsumerCore (spec.md §4.7 DestroyTarget):
// stops the target, unmaps, and unlinks its own shm region, whichever
// create path (srt vs recording/image-capture) produced it. No Pipeline
// region is mapped on any create path, so none is released here.
func (c *Coordinator) DestroyTarget(hashID, outputNodeID uint32) error {
	c.mu.Lock()
	entry, ok := c.targets[hashID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.targets, hashID)
	c.mu.Unlock()

	entry.worker.terminate()
	if pe, ok := c.pipelineByNode(entry.pipelineNode); ok {
		_ = pe.p.RemoveTarget(hashID)
	}
	if err := entry.region.Close(nil); err != nil {
		return err
	}
	c.logger.Info("target destroyed", "hash_id", hashID, "output_node", outputNodeID)
	return nil
}

// SetTargetBitrate drives a target's worker-protocol control channel with
// a SetBitrate message (spec.md §4.5).
func (c *Coordinator) SetTargetBitrate(hashID uint32, bps int) error {
	c.mu.Lock()
	entry, ok := c.targets[hashID]
	c.mu.Unlock()
	if !ok {
		return domainerr.New(domainerr.InvalidArgument, "coordinator.set_target_bitrate", fmt.Errorf("unknown target hash %d", hashID))
	}
	return worker.WriteMsg(entry.worker.pipes.ControlW, worker.NewSetBitrate(bps))
}

// forwardBusEvent builds the framework.Bus hook a pipeline's bus messages
// are forwarded through into the hook manager (SPEC_FULL.md §5.1
// OnTargetEvent). Runs on the poster's goroutine, so it must not block;
// HookManager.TriggerEvent only enqueues work onto its own pool before
// returning.
func (c *Coordinator) forwardBusEvent(nodeID uint32) func(framework.Message) {
	return func(m framework.Message) {
		ev, ok := hooks.EventFromMessage(nodeID, m)
		if !ok {
			return
		}
		c.hooks.TriggerEvent(context.Background(), ev)
	}
}

func (c *Coordinator) pipelineByNode(nodeID uint32) (*pipelineEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pe, ok := c.pipelines[nodeID]
	return pe, ok
}

// codecIdentity maps the wire codec code (1=H264, 2=H265 per spec.md §6)
// onto an encodermap.Identity, defaulting to the software backend since
// the wire record carries no backend selector.
func codecIdentity(wireCodec uint32) encodermap.Identity {
	codec := encodermap.H264
	if wireCodec == 2 {
		codec = encodermap.H265
	}
	return encodermap.Identity{Codec: codec, Backend: encodermap.Software}
}
