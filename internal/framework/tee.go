package framework

import "sync"

// Tee is the fan-out element a Pipeline's source branch ends in. Each
// attached Target owns one request pad; request/release must be exactly
// once per pad (spec.md §5, "Shared resources").
type Tee struct {
	mu      sync.Mutex
	nextID  uint64
	pads    map[uint64]*Pad
	flowing bool
}

// NewTee creates an idle tee (no data flowing until the source is Playing).
func NewTee() *Tee { return &Tee{pads: make(map[uint64]*Pad)} }

// RequestPad allocates a new src pad for an about-to-be-linked target.
func (t *Tee) RequestPad() *Pad {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	p := &Pad{id: t.nextID, tee: t}
	t.pads[p.id] = p
	return p
}

// ReleasePad returns a previously requested pad. It is an error (ignored,
// matching the spec's "fire and observe" teardown philosophy) to release a
// pad twice.
func (t *Tee) ReleasePad(p *Pad) {
	if p == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pads, p.id)
}

// PadCount reports the number of currently attached request pads.
func (t *Tee) PadCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pads)
}

// SetFlowing marks whether buffers are actively being produced upstream of
// the tee (i.e. the source branch is Playing). The flag is only recorded:
// Publish and Deliver do not consult it.
func (t *Tee) SetFlowing(v bool) {
	t.mu.Lock()
	t.flowing = v
	t.mu.Unlock()
}

// Publish delivers n bytes to every currently attached pad, the entry
// point a real capture loop uses to drive the whole fan-out (as opposed to
// Deliver, which targets one pad directly in tests).
func (t *Tee) Publish(n int) {
	for _, p := range t.snapshotPads() {
		p.Deliver(n)
	}
}

func (t *Tee) snapshotPads() []*Pad {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Pad, 0, len(t.pads))
	for _, p := range t.pads {
		out = append(out, p)
	}
	return out
}

// Pad is a single tee request pad. Probe is a blocking rendezvous: the
// framework holds data flow on this pad until the installed probe callback
// returns (spec.md §5, "Suspension points").
type Pad struct {
	id  uint64
	tee *Tee

	flowMu sync.RWMutex // held by data flow (RLock) and by a blocking probe (Lock)
	bytes  uint64
}

// ID returns a stable identifier for logging.
func (p *Pad) ID() uint64 { return p.id }

// Deliver simulates a buffer crossing this pad, incrementing its byte
// counter. It blocks for the duration of any installed blocking probe.
func (p *Pad) Deliver(n int) {
	p.flowMu.RLock()
	defer p.flowMu.RUnlock()
	p.bytes += uint64(n)
}

// BytesDelivered returns the running total of bytes that have crossed this
// pad, the backing counter for Pipeline.bytes_sent style queries.
func (p *Pad) BytesDelivered() uint64 {
	p.flowMu.RLock()
	defer p.flowMu.RUnlock()
	return p.bytes
}

// InstallBlockingProbe runs fn while holding off any concurrent Deliver
// call on this pad, modeling a blocking pad probe. fn must detach itself
// (it runs once) and must not itself call Deliver or it will deadlock —
// exactly the "probe callbacks must do their work and detach" contract in
// spec.md §5.
func (p *Pad) InstallBlockingProbe(fn func()) {
	p.flowMu.Lock()
	defer p.flowMu.Unlock()
	fn()
}
