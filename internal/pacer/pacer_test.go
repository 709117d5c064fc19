package pacer

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestPacer() *Pacer {
	return New(zerolog.Nop(), 60)
}

func feed(p *Pacer, n int, frame time.Duration) {
	for i := 0; i < n; i++ {
		p.samples[p.next] = frame
		p.next = (p.next + 1) % windowSize
		if p.count < windowSize {
			p.count++
		}
		p.rendered++
		p.updateSkipState()
	}
}

func TestFewerThanTenSamplesNeverSkips(t *testing.T) {
	p := newTestPacer()
	feed(p, 9, 100*time.Millisecond) // massively overloaded, but <10 samples
	if p.ShouldSkip() {
		t.Fatal("pacer must never ask to skip with fewer than 10 samples")
	}
}

func TestHysteresisRequiresThreeSamples(t *testing.T) {
	p := newTestPacer()
	feed(p, 15, 1*time.Millisecond) // establish a healthy baseline, >=10 samples

	// load is the window mean over the 16.6ms target: one 1s frame after the
	// 15ms baseline already lifts the mean to ~63ms, well above 0.80.
	overload := 1 * time.Second
	feed(p, 2, overload)
	if p.inSkipMode {
		t.Fatal("must not enter skip mode before 3 consecutive overload samples")
	}
	feed(p, 1, overload)
	if !p.inSkipMode {
		t.Fatal("expected skip mode after 3 consecutive overload samples")
	}
}

func TestHysteresisRecovery(t *testing.T) {
	p := newTestPacer()
	// One 1s frame then 1ms frames: the window mean is above 0.80 of the
	// 16.6ms target at samples 10-12, so skip mode engages on the 12th.
	feed(p, 1, 1*time.Second)
	feed(p, 11, 1*time.Millisecond)
	if !p.inSkipMode {
		t.Fatal("expected skip mode to engage")
	}

	healthy := 1 * time.Millisecond
	// Fill the 60-sample window: while the 1s frame is in it the mean stays
	// above 0.60 (1059ms/60 at the 60th sample).
	feed(p, windowSize-12, healthy)
	// The 61st sample evicts the 1s frame, so each sample from here on is
	// below 0.60.
	feed(p, 2, healthy)
	if !p.inSkipMode {
		t.Fatal("must not leave skip mode before 3 consecutive recovery samples")
	}
	feed(p, 1, healthy)
	if p.inSkipMode {
		t.Fatal("expected skip mode to clear after 3 consecutive recovery samples")
	}
}

func TestShouldSkipAlternatesWhileInSkipMode(t *testing.T) {
	p := newTestPacer()
	feed(p, 15, 1*time.Millisecond)
	feed(p, 3, 1*time.Second)
	if !p.inSkipMode {
		t.Fatal("expected skip mode")
	}

	first := p.ShouldSkip()
	second := p.ShouldSkip()
	if first == second {
		t.Fatal("expected ShouldSkip to alternate while in skip mode")
	}
}

func TestSnapshotCounters(t *testing.T) {
	p := newTestPacer()
	p.BeginFrame()
	p.EndFrame()
	p.RecordSkip()

	snap := p.Snapshot()
	if snap.Rendered != 1 || snap.Skipped != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.SkipPct != 50 {
		t.Fatalf("expected 50%% skip rate, got %v", snap.SkipPct)
	}
}
