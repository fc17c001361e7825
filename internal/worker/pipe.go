package worker

import "os"

// PipePair is the parent's end of the 4-pipe setup spec.md §4.5 describes:
// one pipe carries control messages parent->worker, the other carries
// events worker->parent. The worker process receives the opposite ends on
// its argv (spec.md §6, "Worker argv") and closes whichever ends it does
// not own.
type PipePair struct {
	ControlW *os.File // parent writes control messages here
	ControlR *os.File // worker reads control messages here
	EventR   *os.File // parent reads events here
	EventW   *os.File // worker writes events here
}

// NewPipePair allocates both pipes with os.Pipe, the idiomatic substitute
// for the raw pipe(2) pair the spec describes.
func NewPipePair() (*PipePair, error) {
	controlR, controlW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	eventR, eventW, err := os.Pipe()
	if err != nil {
		controlR.Close()
		controlW.Close()
		return nil, err
	}
	return &PipePair{ControlW: controlW, ControlR: controlR, EventR: eventR, EventW: eventW}, nil
}

// CloseWorkerEnds closes the ends the parent does not read/write after
// handing the worker ends off (used once the worker subprocess has
// inherited its file descriptors).
func (p *PipePair) CloseWorkerEnds() {
	p.ControlR.Close()
	p.EventW.Close()
}

// CloseParentEnds closes the ends owned by the parent, used on worker exit.
func (p *PipePair) CloseParentEnds() {
	p.ControlW.Close()
	p.EventR.Close()
}
