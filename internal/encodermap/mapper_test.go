package encodermap

import (
	"testing"

	"github.com/haloedge/ingestd/internal/framework"
)

func TestApplyBitrateKbpsRounding(t *testing.T) {
	e := framework.NewSimpleElement()
	id := Identity{Codec: H264, Backend: Software}

	if err := ApplyBitrate(e, id, 9_999_999); err != nil {
		t.Fatalf("ApplyBitrate: %v", err)
	}
	got, err := BitrateActual(e, id)
	if err != nil {
		t.Fatalf("BitrateActual: %v", err)
	}
	if got != 9_999_000 {
		t.Fatalf("expected 9999000, got %d", got)
	}
}

func TestApplyBitrateOMXKeepsBps(t *testing.T) {
	e := framework.NewSimpleElement()
	id := Identity{Codec: H264, Backend: OMX}

	if err := ApplyBitrate(e, id, 1_500_000); err != nil {
		t.Fatalf("ApplyBitrate: %v", err)
	}
	got, err := BitrateActual(e, id)
	if err != nil {
		t.Fatalf("BitrateActual: %v", err)
	}
	if got != 1_500_000 {
		t.Fatalf("expected 1500000, got %d", got)
	}
}

func TestQuantizerUnsupportedOnOMX(t *testing.T) {
	e := framework.NewSimpleElement()
	id := Identity{Codec: H264, Backend: OMX}
	if err := ApplyQuantizer(e, id, 23); err == nil {
		t.Fatalf("expected error applying quantizer to omx")
	}
}

func TestRateControlRoundTripPerBackend(t *testing.T) {
	cases := []struct {
		id Identity
		rc RateControl
	}{
		{Identity{H264, Software}, CBR},
		{Identity{H264, Software}, VBR},
		{Identity{H264, Software}, CQP},
		{Identity{H265, Software}, CBR},
		{Identity{H265, Software}, VBR},
		{Identity{H264, VAAPI}, CBR},
		{Identity{H264, VAAPI}, VBR},
		{Identity{H264, VAAPI}, CQP},
		{Identity{H264, OMX}, CBR},
		{Identity{H264, OMX}, VBR},
	}
	for _, c := range cases {
		e := framework.NewSimpleElement()
		if c.id.Codec == H265 && c.rc == VBR {
			// x265 VBR decode requires a qp to be present (see decode table).
			if err := e.SetProperty("qp", 24); err != nil {
				t.Fatalf("SetProperty: %v", err)
			}
		}
		if err := ApplyRateControl(e, c.id, c.rc); err != nil {
			t.Fatalf("ApplyRateControl(%s, %s): %v", c.id, c.rc, err)
		}
		got, err := DecodeRateControl(e, c.id)
		if err != nil {
			t.Fatalf("DecodeRateControl(%s, %s): %v", c.id, c.rc, err)
		}
		if got != c.rc {
			t.Fatalf("%s round trip: want %s got %s", c.id, c.rc, got)
		}
	}
}

func TestRequiresStateCycle(t *testing.T) {
	cases := []struct {
		name    string
		id      Identity
		changed ChangedFields
		want    bool
	}{
		{"vaapi bitrate only", Identity{H264, VAAPI}, ChangedFields{Bitrate: true}, true},
		{"omx bitrate only", Identity{H264, OMX}, ChangedFields{Bitrate: true}, false},
		{"x264 bitrate only", Identity{H264, Software}, ChangedFields{Bitrate: true}, false},
		{"x264 quantizer", Identity{H264, Software}, ChangedFields{Quantizer: true}, true},
		{"x264 rate control", Identity{H264, Software}, ChangedFields{RateControl: true}, true},
		{"x265 bitrate only", Identity{H265, Software}, ChangedFields{Bitrate: true}, false},
		{"x265 rate control", Identity{H265, Software}, ChangedFields{RateControl: true}, true},
		{"no change", Identity{H264, Software}, ChangedFields{}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := RequiresStateCycle(c.id, c.changed); got != c.want {
				t.Fatalf("RequiresStateCycle = %v, want %v", got, c.want)
			}
		})
	}
}

func TestCycleAndApplyRestoresPriorState(t *testing.T) {
	e := framework.NewSimpleElement()
	if err := e.SetState(framework.StatePlaying); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	id := Identity{Codec: H264, Backend: VAAPI}

	var sawReady bool
	err := CycleAndApply(e, id, ChangedFields{Bitrate: true}, func() error {
		sawReady = e.State() == framework.StateReady
		return ApplyBitrate(e, id, 2_000_000)
	})
	if err != nil {
		t.Fatalf("CycleAndApply: %v", err)
	}
	if !sawReady {
		t.Fatalf("expected encoder to be in Ready state during property write")
	}
	if e.State() != framework.StatePlaying {
		t.Fatalf("expected state restored to playing, got %s", e.State())
	}
}
