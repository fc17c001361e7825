package domainerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfAndIs(t *testing.T) {
	cause := errors.New("listen: address already in use")
	err := New(TransmitAddrInUse, "target.start", cause)

	if !Is(err, TransmitAddrInUse) {
		t.Fatalf("expected TransmitAddrInUse")
	}
	if Is(err, TransmitFailed) {
		t.Fatalf("unexpected match for TransmitFailed")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected unwrap chain to reach cause")
	}
}

func TestWrappedKindOf(t *testing.T) {
	base := New(ResourceUnsupported, "pipeline.add_target", nil)
	wrapped := fmt.Errorf("add_target: %w", base)

	k, ok := KindOf(wrapped)
	if !ok || k != ResourceUnsupported {
		t.Fatalf("expected to extract ResourceUnsupported from wrapped error, got %v ok=%v", k, ok)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		kind      Kind
		transient bool
	}{
		{TransmitAddrInUse, true},
		{TransmitFailed, true},
		{IpcFailed, true},
		{InvalidArgument, false},
		{ResourceUnsupported, false},
	}
	for _, c := range cases {
		err := New(c.kind, "op", nil)
		if got := IsTransient(err); got != c.transient {
			t.Errorf("IsTransient(%s) = %v, want %v", c.kind, got, c.transient)
		}
	}
}
