package v4l2src

import (
	"testing"

	"github.com/haloedge/ingestd/internal/framework"
)

func TestNewSourceStartsInNullState(t *testing.T) {
	s := New("/dev/video0")
	if s.State() != framework.StateNull {
		t.Fatalf("expected Null, got %s", s.State())
	}
}

func TestFramesIsNilBeforePlaying(t *testing.T) {
	s := New("/dev/video0")
	if s.Frames() != nil {
		t.Fatalf("expected nil frame channel before Playing")
	}
}

func TestSetStatePlayingOnMissingDeviceReturnsError(t *testing.T) {
	// No real /dev/video* device exists in this test environment, so the
	// open must fail cleanly rather than panic, leaving the element in
	// whatever state SimpleElement already tracks.
	s := New("/dev/video-does-not-exist")
	if err := s.SetState(framework.StatePlaying); err == nil {
		t.Fatalf("expected error opening a nonexistent device")
	}
}

func TestSetStateNullWithoutPriorOpenIsNoop(t *testing.T) {
	s := New("/dev/video0")
	if err := s.SetState(framework.StateNull); err != nil {
		t.Fatalf("expected no error stopping an unopened source, got %v", err)
	}
}
