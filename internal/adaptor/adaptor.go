// Package adaptor implements the stream adaptor (spec.md §4.3): a
// statistics-driven feedback loop that turns transport-health samples into
// proposed encoder-parameter changes, never exceeding the target's
// declared baseline. Sampling happens once per Target.SampleStats call;
// no timer in this module calls it periodically.
package adaptor

import "github.com/haloedge/ingestd/internal/encodermap"

// Stats is the subset of transport sink statistics the adaptor consumes,
// sampled from the sink's "stats" property on each Target.SampleStats call.
type Stats struct {
	RTTMillis    float64
	LossFraction float64
	BytesSent    uint64
}

// Baseline is the operator-declared {bitrate, quantizer, rate-control}
// triple from which an adaptor may deviate (spec.md Glossary).
type Baseline struct {
	Bitrate     int
	Quantizer   int
	RateControl encodermap.RateControl
}

// Delta carries the subset of {bitrate, quantizer, rate_control} an
// adaptor wants changed. A nil field means "leave unchanged".
type Delta struct {
	Bitrate     *int
	Quantizer   *int
	RateControl *encodermap.RateControl
}

// Empty reports whether the delta proposes no change at all.
func (d Delta) Empty() bool {
	return d.Bitrate == nil && d.Quantizer == nil && d.RateControl == nil
}

// Adaptor is the stream-adaptor interface attached 1:1 to a target's
// transport sink.
type Adaptor interface {
	// OnStats is invoked by Target.SampleStats with the latest sample and
	// returns the parameter changes, if any, to apply.
	OnStats(s Stats) Delta
	// Enabled reports whether this adaptor may propose values at all.
	// A disabled (or Null) adaptor always returns true for Empty() deltas,
	// and the target re-drives the encoder straight from baseline instead.
	Enabled() bool
}

// Null never emits a change; used when adaptive streaming is off
// (spec.md §4.3).
type Null struct{}

func (Null) OnStats(Stats) Delta { return Delta{} }
func (Null) Enabled() bool       { return false }
