package adaptor

const (
	minBitrateBps = 1000

	// Per-sample growth/shrink caps that bound how aggressively the
	// adaptor may move, resolving the Open Question in spec.md's Design
	// Notes: policy must never exceed baseline, never go below 1 kbps,
	// stay monotone-responsive to sustained trends, and converge within 5
	// samples of a stable link.
	shrinkFraction = 0.25
	growFraction   = 0.15

	// A link is "degraded" once RTT or loss crosses these thresholds.
	degradedRTTMillis    = 150
	degradedLossFraction = 0.02
)

// Bandwidth is the concrete adaptive-bitrate policy: it consumes
// link-rate fields from the sink stats and produces smoothed bitrate
// recommendations that track sustained degradation or recovery.
type Bandwidth struct {
	baseline Baseline
	current  int // last recommended bitrate, 0 until first sample

	degradedStreak int
	improvedStreak int
}

// NewBandwidth constructs an adaptor seeded at the target's baseline
// bitrate.
func NewBandwidth(baseline Baseline) *Bandwidth {
	return &Bandwidth{baseline: baseline, current: baseline.Bitrate}
}

func (b *Bandwidth) Enabled() bool { return true }

// OnStats implements Adaptor. It treats a sample as "degraded" when RTT or
// loss crosses the thresholds above and "improved" otherwise, only acting
// once a trend has held for at least two consecutive samples (the
// "monotone-responsive to sustained trends" requirement) so a single noisy
// sample cannot cause a step change.
func (b *Bandwidth) OnStats(s Stats) Delta {
	degraded := s.RTTMillis >= degradedRTTMillis || s.LossFraction >= degradedLossFraction

	if degraded {
		b.degradedStreak++
		b.improvedStreak = 0
	} else {
		b.improvedStreak++
		b.degradedStreak = 0
	}

	next := b.current
	switch {
	case degraded && b.degradedStreak >= 2:
		next = shrink(b.current, shrinkFraction)
	case !degraded && b.improvedStreak >= 2:
		next = grow(b.current, growFraction, b.baseline.Bitrate)
	}

	if next == b.current {
		return Delta{}
	}
	b.current = next
	rate := b.current
	return Delta{Bitrate: &rate}
}

func shrink(cur int, frac float64) int {
	next := cur - int(float64(cur)*frac)
	if next < minBitrateBps {
		return minBitrateBps
	}
	return next
}

func grow(cur int, frac float64, ceiling int) int {
	next := cur + int(float64(cur)*frac)
	if next > ceiling {
		return ceiling
	}
	return next
}
