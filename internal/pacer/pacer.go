// Package pacer implements the per-surface rolling-window frame-load
// estimator and hysteretic skip decision.
//
// The hysteresis constants (0.80/0.60 thresholds, 3-sample confirmation,
// 60-sample window) are part of the specification, not tuning knobs; they
// are grounded on
// original_source/crates/wayvid-engine/src/frame_timing.rs and must not be
// changed without updating the tests that pin them.
package pacer

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	windowSize        = 60
	overloadThreshold = 0.80
	recoveryThreshold = 0.60
	hysteresisSamples = 3
	minSamplesForSkip = 10
	defaultTargetFPS  = 60
)

// Pacer tracks recent frame durations for one Surface and decides whether
// the next frame should be rendered or skipped.
type Pacer struct {
	log zerolog.Logger

	target time.Duration

	samples    [windowSize]time.Duration
	count      int // number of valid samples, saturates at windowSize
	next       int // ring cursor
	frameStart time.Time

	inSkipMode  bool
	consecutive int // consecutive samples in the *candidate* state
	rendered    uint64
	skipped     uint64
	attempts    uint64

	// suppressWarnings mutes the overload WARN log while a stream source
	// hasn't produced its first frame yet.
	suppressWarnings bool
}

// New creates a Pacer targeting targetFPS (0 or negative defaults to 60Hz,
// or the output's real refresh rate when the caller knows it).
func New(log zerolog.Logger, targetFPS int) *Pacer {
	fps := targetFPS
	if fps <= 0 {
		fps = defaultTargetFPS
	}
	return &Pacer{
		log:    log,
		target: time.Second / time.Duration(fps),
	}
}

// SetSuppressWarnings mutes/unmutes the overload transition log, used while
// a streaming source has not yet delivered its first frame.
func (p *Pacer) SetSuppressWarnings(suppress bool) {
	p.suppressWarnings = suppress
}

// BeginFrame marks the start of a render attempt.
func (p *Pacer) BeginFrame() {
	p.frameStart = time.Now()
}

// EndFrame records the duration of the just-completed frame and updates the
// skip-mode hysteresis state.
func (p *Pacer) EndFrame() {
	d := time.Since(p.frameStart)
	p.samples[p.next] = d
	p.next = (p.next + 1) % windowSize
	if p.count < windowSize {
		p.count++
	}
	p.rendered++
	p.updateSkipState()
}

// RecordSkip accounts for a dropped frame without measuring a duration.
func (p *Pacer) RecordSkip() {
	p.skipped++
}

// ShouldSkip reports whether the renderer should drop the next frame. With
// fewer than minSamplesForSkip samples the pacer never asks to skip.
func (p *Pacer) ShouldSkip() bool {
	p.attempts++
	if p.count < minSamplesForSkip {
		return false
	}
	if !p.inSkipMode {
		return false
	}
	// While in skip mode, alternate: drop every other frame.
	return p.attempts%2 == 0
}

func (p *Pacer) load() float64 {
	if p.count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < p.count; i++ {
		sum += p.samples[i]
	}
	mean := sum / time.Duration(p.count)
	return float64(mean) / float64(p.target)
}

func (p *Pacer) updateSkipState() {
	if p.count < minSamplesForSkip {
		p.consecutive = 0
		return
	}

	l := p.load()
	switch {
	case !p.inSkipMode && l > overloadThreshold:
		p.consecutive++
		if p.consecutive >= hysteresisSamples {
			p.inSkipMode = true
			p.consecutive = 0
			if !p.suppressWarnings {
				p.log.Warn().Float64("load", l).Msg("frame pacer entering skip mode")
			}
		}
	case p.inSkipMode && l < recoveryThreshold:
		p.consecutive++
		if p.consecutive >= hysteresisSamples {
			p.inSkipMode = false
			p.consecutive = 0
			if !p.suppressWarnings {
				p.log.Warn().Float64("load", l).Msg("frame pacer leaving skip mode")
			}
		}
	default:
		p.consecutive = 0
	}
}

// Stats is a read-only snapshot of the pacer's counters, exposed in the
// engine status response.
type Stats struct {
	Rendered   uint64
	Skipped    uint64
	SkipPct    float64
	AvgFrameMS float64
	InSkipMode bool
}

// Snapshot returns the current counters.
func (p *Pacer) Snapshot() Stats {
	total := p.rendered + p.skipped
	var skipPct float64
	if total > 0 {
		skipPct = 100 * float64(p.skipped) / float64(total)
	}

	var avgMS float64
	if p.count > 0 {
		var sum time.Duration
		for i := 0; i < p.count; i++ {
			sum += p.samples[i]
		}
		avgMS = float64(sum/time.Duration(p.count)) / float64(time.Millisecond)
	}

	return Stats{
		Rendered:   p.rendered,
		Skipped:    p.skipped,
		SkipPct:    skipPct,
		AvgFrameMS: avgMS,
		InSkipMode: p.inSkipMode,
	}
}
