// Package encodermap translates abstract bitrate/quantizer/rate-control
// intents into encoder-specific property writes (spec.md §4.4), and tracks
// which changes require transiting the encoder through Ready before the
// write takes effect. The table is keyed by a tagged Identity variant
// rather than open-ended property-name lookup, per spec.md's Design Notes
// ("Heterogeneous encoder polymorphism").
package encodermap

import (
	"fmt"
	"strings"

	"github.com/haloedge/ingestd/internal/domainerr"
	"github.com/haloedge/ingestd/internal/framework"
)

// Codec identifies the video compression standard.
type Codec int

const (
	H264 Codec = iota
	H265
)

// Backend identifies the encoder implementation family.
type Backend int

const (
	Software Backend = iota
	VAAPI
	OMX
)

// Identity names one row of the parameter-mapper table.
type Identity struct {
	Codec   Codec
	Backend Backend
}

func (id Identity) String() string {
	codec := "264"
	if id.Codec == H265 {
		codec = "265"
	}
	switch id.Backend {
	case VAAPI:
		return "vaapi" + codec
	case OMX:
		return "omx" + codec
	default:
		return "x" + codec
	}
}

// RateControl is the abstract bitrate-control mode.
type RateControl int

const (
	CBR RateControl = iota
	VBR
	CQP
)

func (rc RateControl) String() string {
	switch rc {
	case CBR:
		return "CBR"
	case VBR:
		return "VBR"
	case CQP:
		return "CQP"
	default:
		return "unknown"
	}
}

// ChangedFields marks which baseline fields differ from the encoder's
// current settings, the input to RequiresStateCycle.
type ChangedFields struct {
	Bitrate     bool
	Quantizer   bool
	RateControl bool
}

func (c ChangedFields) any() bool { return c.Bitrate || c.Quantizer || c.RateControl }

// RequiresStateCycle reports whether applying changed must transit the
// encoder through Ready first (spec.md §4.4 table + cycle column).
func RequiresStateCycle(id Identity, changed ChangedFields) bool {
	if !changed.any() {
		return false
	}
	switch id.Backend {
	case VAAPI:
		return true // all VAAPI changes require a cycle
	case OMX:
		return false
	default: // Software (x264/x265)
		if id.Codec == H265 {
			return changed.RateControl
		}
		return changed.Quantizer || changed.RateControl
	}
}

// ApplyBitrate writes the bitrate property for id onto e. bps is bits per
// second; x264/x265/vaapi quantize to kbps (bitrate_actual reflects the
// truncation per spec.md §8 property 5), omx keeps bps.
func ApplyBitrate(e framework.Element, id Identity, bps int) error {
	switch id.Backend {
	case OMX:
		return e.SetProperty("bitrate", bps)
	case VAAPI:
		return e.SetProperty("bitrate", bps/1000)
	default: // Software
		kbps := bps / 1000
		if err := e.SetProperty("bitrate", kbps); err != nil {
			return err
		}
		if id.Codec == H265 {
			if err := rebuildX265OptionStringForCBR(e); err != nil {
				return err
			}
		}
		return nil
	}
}

// BitrateActual reads back the effective bitrate in bps, reversing the
// kbps truncation software/VAAPI encoders apply.
func BitrateActual(e framework.Element, id Identity) (int, error) {
	v, err := e.GetProperty("bitrate")
	if err != nil {
		return 0, err
	}
	kbps, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("encodermap: bitrate property has unexpected type %T", v)
	}
	if id.Backend == OMX {
		return kbps, nil
	}
	return kbps * 1000, nil
}

// ApplyQuantizer writes the quantizer property for id onto e. OMX encoders
// have no quantizer control and this is a no-op returning
// ResourceUnsupported so callers can surface it.
func ApplyQuantizer(e framework.Element, id Identity, q int) error {
	switch id.Backend {
	case OMX:
		return domainerr.New(domainerr.ResourceUnsupported, "encodermap.apply_quantizer", nil)
	case VAAPI:
		return e.SetProperty("init-qp", q)
	default:
		if id.Codec == H265 {
			return e.SetProperty("qp", q)
		}
		return e.SetProperty("quantizer", q)
	}
}

// ApplyRateControl writes the rate-control mode for id onto e, including
// the x265 qp/option-string dance and x264's pass encoding.
func ApplyRateControl(e framework.Element, id Identity, rc RateControl) error {
	switch id.Backend {
	case VAAPI:
		var v int
		switch rc {
		case CBR:
			v = 2
		case VBR:
			v = 4
		case CQP:
			v = 1
		}
		return e.SetProperty("rate-control", v)
	case OMX:
		var v int
		switch rc {
		case CBR:
			v = 2
		case VBR:
			v = 1
		default:
			return domainerr.New(domainerr.ResourceUnsupported, "encodermap.apply_rate_control", nil)
		}
		return e.SetProperty("control-rate", v)
	default:
		if id.Codec == H265 {
			return applyX265RateControl(e, rc)
		}
		var pass int
		switch rc {
		case CBR:
			pass = 0
		case CQP:
			pass = 4
		case VBR:
			pass = 17
		}
		return e.SetProperty("pass", pass)
	}
}

// applyX265RateControl sets only option-string: strict-cbr=1 for CBR,
// strict-cbr=0 for VBR, empty for CQP. DecodeRateControl reads VBR back
// only when a qp property is also set (ApplyQuantizer writes it), and CQP
// otherwise.
func applyX265RateControl(e framework.Element, rc RateControl) error {
	switch rc {
	case CBR:
		return e.SetProperty("option-string", "strict-cbr=1")
	case VBR:
		return e.SetProperty("option-string", "strict-cbr=0")
	case CQP:
		return e.SetProperty("option-string", "")
	}
	return nil
}

func rebuildX265OptionStringForCBR(e framework.Element) error {
	cur, err := e.GetProperty("option-string")
	if err != nil {
		return nil // no option-string set yet, nothing to rebuild
	}
	s, _ := cur.(string)
	if strings.Contains(s, "strict-cbr=1") {
		return e.SetProperty("option-string", "strict-cbr=1")
	}
	return nil
}

// DecodeRateControl reads back the encoder's actual rate-control setting,
// the inverse of ApplyRateControl (spec.md §4.4).
func DecodeRateControl(e framework.Element, id Identity) (RateControl, error) {
	switch id.Backend {
	case VAAPI:
		v, err := e.GetProperty("rate-control")
		if err != nil {
			return 0, err
		}
		switch v.(int) {
		case 2:
			return CBR, nil
		case 4:
			return VBR, nil
		case 1:
			return CQP, nil
		}
		return 0, fmt.Errorf("encodermap: unrecognized vaapi rate-control %v", v)
	case OMX:
		v, err := e.GetProperty("control-rate")
		if err != nil {
			return 0, err
		}
		switch v.(int) {
		case 2:
			return CBR, nil
		case 1:
			return VBR, nil
		}
		return 0, fmt.Errorf("encodermap: unrecognized omx control-rate %v", v)
	default:
		if id.Codec == H265 {
			opt, _ := e.GetProperty("option-string")
			s, _ := opt.(string)
			if strings.Contains(s, "strict-cbr=1") {
				return CBR, nil
			}
			if _, err := e.GetProperty("qp"); err == nil {
				return VBR, nil
			}
			return CQP, nil
		}
		v, err := e.GetProperty("pass")
		if err != nil {
			return 0, err
		}
		switch v.(int) {
		case 0:
			return CBR, nil
		case 4:
			return CQP, nil
		case 17:
			return VBR, nil
		}
		return 0, fmt.Errorf("encodermap: unrecognized x264 pass %v", v)
	}
}

// CycleAndApply runs fn with the encoder forced through Ready first when a
// state cycle is required, restoring the captured prior state afterward.
// Callers install this inside a blocking pad probe on the encoder's
// upstream pad (spec.md §4.4): the probe captures state, forces Ready,
// applies property writes, restores state, and removes itself.
func CycleAndApply(e framework.Element, id Identity, changed ChangedFields, fn func() error) error {
	if !RequiresStateCycle(id, changed) {
		return fn()
	}
	prior := e.State()
	if err := e.SetState(framework.StateReady); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return e.SetState(prior)
}
