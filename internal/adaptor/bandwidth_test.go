package adaptor

import "testing"

func TestNullAdaptorNeverProposesChange(t *testing.T) {
	var n Null
	if n.Enabled() {
		t.Fatalf("expected Null adaptor to be disabled")
	}
	d := n.OnStats(Stats{RTTMillis: 500, LossFraction: 0.5})
	if !d.Empty() {
		t.Fatalf("expected empty delta from Null adaptor, got %+v", d)
	}
}

func TestBandwidthIgnoresSingleNoisySample(t *testing.T) {
	b := NewBandwidth(Baseline{Bitrate: 4_000_000})
	d := b.OnStats(Stats{RTTMillis: 200, LossFraction: 0.05})
	if !d.Empty() {
		t.Fatalf("expected no change on first degraded sample, got %+v", d)
	}
}

func TestBandwidthShrinksOnSustainedDegradation(t *testing.T) {
	b := NewBandwidth(Baseline{Bitrate: 4_000_000})
	degraded := Stats{RTTMillis: 200, LossFraction: 0.05}

	b.OnStats(degraded)
	d := b.OnStats(degraded)
	if d.Bitrate == nil {
		t.Fatalf("expected a bitrate change after two sustained degraded samples")
	}
	if *d.Bitrate >= 4_000_000 {
		t.Fatalf("expected bitrate to shrink below baseline, got %d", *d.Bitrate)
	}
}

func TestBandwidthNeverExceedsBaseline(t *testing.T) {
	b := NewBandwidth(Baseline{Bitrate: 1_000_000})
	b.current = 1_000_000
	healthy := Stats{RTTMillis: 10, LossFraction: 0}

	var last *int
	for i := 0; i < 10; i++ {
		d := b.OnStats(healthy)
		if d.Bitrate != nil {
			last = d.Bitrate
		}
	}
	if last != nil && *last > 1_000_000 {
		t.Fatalf("expected bitrate never to exceed baseline, got %d", *last)
	}
	if b.current > 1_000_000 {
		t.Fatalf("expected current never to exceed baseline, got %d", b.current)
	}
}

func TestBandwidthNeverGoesBelowFloor(t *testing.T) {
	b := NewBandwidth(Baseline{Bitrate: 2000})
	degraded := Stats{RTTMillis: 500, LossFraction: 0.5}

	for i := 0; i < 50; i++ {
		b.OnStats(degraded)
	}
	if b.current < minBitrateBps {
		t.Fatalf("expected bitrate never to drop below floor %d, got %d", minBitrateBps, b.current)
	}
}

func TestBandwidthConvergesWithinFiveSamplesOfStableLink(t *testing.T) {
	b := NewBandwidth(Baseline{Bitrate: 4_000_000})
	degraded := Stats{RTTMillis: 200, LossFraction: 0.05}
	b.OnStats(degraded)
	b.OnStats(degraded)
	shrunk := b.current
	if shrunk >= 4_000_000 {
		t.Fatalf("expected degradation to have shrunk bitrate, got %d", shrunk)
	}

	healthy := Stats{RTTMillis: 10, LossFraction: 0}
	for i := 0; i < 5; i++ {
		b.OnStats(healthy)
	}
	if b.current <= shrunk {
		t.Fatalf("expected recovery to grow bitrate back up within 5 stable samples, got %d (was %d)", b.current, shrunk)
	}
}

func TestBandwidthRecoveryResetsOnRenewedDegradation(t *testing.T) {
	b := NewBandwidth(Baseline{Bitrate: 4_000_000})
	degraded := Stats{RTTMillis: 200, LossFraction: 0.05}
	healthy := Stats{RTTMillis: 10, LossFraction: 0}

	b.OnStats(degraded)
	b.OnStats(healthy)
	if b.degradedStreak != 0 {
		t.Fatalf("expected a healthy sample to reset the degraded streak")
	}
	b.OnStats(degraded)
	if b.improvedStreak != 0 {
		t.Fatalf("expected a degraded sample to reset the improved streak")
	}
}
