// Package v4l2src backs a Pipeline's source branch for source_kind=v4l2
// devices with a real camera capture loop, grounded on the ioctl sequence
// in the pack's go4vl manual-capture example (open device, set pixel
// format, request buffers, stream-on, dequeue) but expressed through
// go4vl's device package instead of hand-rolled ioctls, the idiomatic way
// the library is meant to be driven.
package v4l2src

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"github.com/haloedge/ingestd/internal/framework"
)

// Source is a framework.Element wrapping a go4vl capture device. It embeds
// *framework.SimpleElement for the state/property bookkeeping every
// element in the graph needs, and overrides SetState to actually open and
// stream (or stop and close) the underlying device, the same "thin
// wrapper adds the one behavior that differs" shape as target.fileSink
// wrapping an *os.File.
type Source struct {
	*framework.SimpleElement

	devicePath string

	mu     sync.Mutex
	dev    *device.Device
	cancel context.CancelFunc
}

// New returns a Null-state source bound to devicePath. No device I/O
// happens until SetState(StatePlaying).
func New(devicePath string) *Source {
	return &Source{SimpleElement: framework.NewSimpleElement(), devicePath: devicePath}
}

// SetState opens/starts the device on the Null->Playing transition and
// stops/closes it on any transition back to Null or Ready, mirroring
// Pipeline.SetResolution's Ready->Playing cycling contract: callers that
// rewrite "caps" before cycling through Ready will have their new
// width/height picked up on the next Playing transition.
func (s *Source) SetState(st framework.State) error {
	switch st {
	case framework.StatePlaying:
		if err := s.startLocked(); err != nil {
			return err
		}
	case framework.StateNull, framework.StateReady:
		s.stopLocked()
	}
	return s.SimpleElement.SetState(st)
}

func (s *Source) startLocked() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev != nil {
		return nil
	}

	width, height := 1280, 720
	if v, err := s.GetProperty("width"); err == nil {
		if w, ok := v.(int); ok {
			width = w
		}
	}
	if v, err := s.GetProperty("height"); err == nil {
		if h, ok := v.(int); ok {
			height = h
		}
	}

	dev, err := device.Open(s.devicePath, device.WithPixFormat(v4l2.PixFormat{
		Width:       uint32(width),
		Height:      uint32(height),
		PixelFormat: v4l2.PixelFmtMJPEG,
	}))
	if err != nil {
		return fmt.Errorf("v4l2src: open %s: %w", s.devicePath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := dev.Start(ctx); err != nil {
		cancel()
		_ = dev.Close()
		return fmt.Errorf("v4l2src: start %s: %w", s.devicePath, err)
	}

	s.dev = dev
	s.cancel = cancel
	return nil
}

func (s *Source) stopLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return
	}
	s.cancel()
	_ = s.dev.Close()
	s.dev = nil
	s.cancel = nil
}

// Frames returns the device's raw frame-buffer channel, or nil if the
// device has not reached Playing. A pipeline's capture pump treats a nil
// channel as "nothing to pump" rather than an error, matching the
// best-effort posture environments without a real camera need.
func (s *Source) Frames() <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil
	}
	return s.dev.GetOutput()
}
