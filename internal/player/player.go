package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-gst/go-gst/gst"
	"github.com/rs/zerolog"

	"github.com/wayvid/wayvid/internal/layout"
)

// State is the Player's lifecycle state.
type State int

const (
	Loading State = iota
	Playing
	Paused
	Error
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// HwdecMode is the hardware-decode preference.
type HwdecMode int

const (
	HwdecAuto HwdecMode = iota
	HwdecForce
	HwdecNo
)

// ErrPlayerFaulted is returned by every mutating operation against a Player
// in the ERROR state.
var ErrPlayerFaulted = errors.New("player: operation rejected, player is in error state")

// errPlayerClosed aborts a pending streaming reconnect once the Player has
// been released by its Surface.
var errPlayerClosed = errors.New("player: closed")

// Sink is the minimal surface the Graphics Context presentation context
// exposes to a Player so it can upload a decoded frame into it. It is an
// interface rather than a concrete *gfx.PresentationContext so this
// package doesn't need to import gfx (and can be unit tested without a
// real GPU device).
type Sink interface {
	// SubmitFrame uploads one decoded BGRA frame of size (w,h) and blits
	// src (the normalised source crop rectangle) into dst (the destination
	// rectangle in output pixels), the two halves of the layout.Transform
	// result for the Player's current layout mode and the output's current
	// size.
	SubmitFrame(data []byte, w, h int, src layout.Rect, dst layout.IntRect) error
}

// Config carries the construction-time parameters for a Player.
type Config struct {
	Sink       Sink
	Source     Source
	Layout     layout.Mode
	Volume     float64
	Muted      bool
	Rate       float64
	Hwdec      HwdecMode
	HDRCapable bool
	Log        zerolog.Logger
}

// Player owns one GStreamer pipeline rendering into one Surface's
// presentation context. Per invariant (iii), the Player is owned
// exclusively by its Surface.
type Player struct {
	mu sync.Mutex

	log    zerolog.Logger
	sink   Sink
	hwdec  HwdecMode
	hdrCap bool

	source Source
	layout layout.Mode
	volume float64
	muted  bool
	rate   float64
	state  State

	videoW, videoH int

	// lastFrame holds the most recently decoded frame's raw BGRA bytes, as
	// reported by the pipeline's appsink callback; Render hands it to the
	// Sink on the next tick. A video source that outpaces the render loop
	// simply has this overwritten before it's ever submitted, the same
	// drop-oldest behavior the appsink's own max-buffers=2/drop=true
	// properties apply upstream.
	lastFrame []byte

	pipeline *gst.Pipeline
	cancel   context.CancelFunc

	// currentPlaylistPath tracks which directory-source entry is playing,
	// so watchBus's advancePlaylist knows which file to advance past.
	currentPlaylistPath string

	// lastErr records the cause of an ERROR transition for status reporting.
	lastErr error

	// closed stops a streaming reconnect goroutine from resurrecting a
	// pipeline after the Surface has released this Player.
	closed bool
}

// New constructs a Player bound to cfg.Sink but does not yet open any
// media; callers must call Open.
func New(cfg Config) *Player {
	rate := cfg.Rate
	if rate <= 0 {
		rate = 1
	}
	return &Player{
		log:    cfg.Log,
		sink:   cfg.Sink,
		hwdec:  cfg.Hwdec,
		hdrCap: cfg.HDRCapable,
		source: cfg.Source,
		layout: cfg.Layout,
		volume: cfg.Volume,
		muted:  cfg.Muted,
		rate:   rate,
		state:  Loading,
	}
}

// Open asynchronously begins decoding source, replacing whatever the
// Player was previously playing. It transitions Loading -> Playing on
// success, Loading -> Error on failure. Transport errors arriving later
// on a streaming source do not fault the Player; watchBus reconnects
// them with backoff instead.
func (p *Player) Open(ctx context.Context, source Source) error {
	if err := source.Validate(); err != nil {
		return fmt.Errorf("invalid source: %w", err)
	}

	p.mu.Lock()
	p.teardownPipelineLocked()
	p.source = source
	p.state = Loading
	p.mu.Unlock()

	if err := p.openOnce(source); err != nil {
		p.mu.Lock()
		p.faultLocked(err)
		p.mu.Unlock()
		return err
	}
	return nil
}

// openOnce builds and starts one pipeline for source. It reports failure
// to the caller without deciding policy: Open faults the Player,
// reconnectStreaming retries, advancePlaylist moves on.
func (p *Player) openOnce(source Source) error {
	if source.Kind == SourceDirectory {
		paths, err := enumeratePlaylist(source.Path)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return fmt.Errorf("directory source %q has no playable files", source.Path)
		}
		p.mu.Lock()
		p.currentPlaylistPath = paths[0]
		p.mu.Unlock()
	}

	pipeline, err := buildPipeline(source, p.hwdec, p.onFrame)
	if err != nil {
		return err
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("set pipeline playing: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.pipeline = pipeline
	p.state = Playing
	p.cancel = cancel
	p.applyAudioLocked()
	p.mu.Unlock()

	go p.watchBus(ctx, pipeline, source)
	return nil
}

// reconnectStreaming re-opens a URL/RTSP source after a transport error,
// exponential backoff capped at 30s. The Player stays in PLAYING for the
// whole sequence; the stream simply has no fresh frames until the
// reconnect lands.
func (p *Player) reconnectStreaming(source Source) {
	err := retry.Do(
		func() error {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return retry.Unrecoverable(errPlayerClosed)
			}
			return p.openOnce(source)
		},
		retry.Attempts(0), // unlimited: a wallpaper stream reconnects until replaced
		retry.LastErrorOnly(true),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			p.log.Warn().Uint("attempt", n).Err(err).Msg("reconnecting streaming source")
		}),
	)
	if err != nil && !errors.Is(err, errPlayerClosed) {
		p.mu.Lock()
		p.faultLocked(err)
		p.mu.Unlock()
	}
}

// watchBus monitors the pipeline bus for EOS and error messages, grounded
// on helixml-helix/api/pkg/desktop/gst_pipeline.go's watchBus. End-of-
// stream handling is per source kind: file and image-sequence sources
// loop, a directory playlist advances to its next entry, and network
// sources reconnect with backoff. Only a non-recoverable failure faults
// the Player — media errors never crash the daemon.
func (p *Player) watchBus(ctx context.Context, pipeline *gst.Pipeline, source Source) {
	bus := pipeline.GetPipelineBus()
	if bus == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(gst.ClockTime(200 * time.Millisecond))
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			switch source.Kind {
			case SourceDirectory:
				if err := p.advancePlaylist(source); err != nil {
					p.log.Warn().Err(err).Msg("playlist advance failed")
					p.mu.Lock()
					p.faultLocked(err)
					p.mu.Unlock()
				}
				return

			case SourceFile, SourceImageSeq:
				if err := p.seekToStart(); err != nil {
					p.log.Warn().Err(err).Msg("loop seek failed")
					p.mu.Lock()
					p.faultLocked(err)
					p.mu.Unlock()
					return
				}
				continue

			case SourceURL, SourceRTSP:
				p.log.Warn().Str("url", source.URL).Msg("stream ended, reconnecting")
				p.restartStreaming(source)
				return

			default: // SourcePipe: the writer closed its end, nothing to re-open.
				p.mu.Lock()
				p.faultLocked(fmt.Errorf("pipe source reached end of stream"))
				p.mu.Unlock()
				return
			}

		case gst.MessageError:
			gerr := msg.ParseError()
			var err error
			if gerr != nil {
				err = fmt.Errorf("pipeline error: %s", gerr.Error())
			} else {
				err = fmt.Errorf("pipeline error")
			}
			if source.Kind == SourceURL || source.Kind == SourceRTSP {
				// Transient transport errors on network sources never flip
				// the Player to ERROR.
				p.log.Warn().Err(err).Msg("streaming pipeline error, reconnecting")
				p.restartStreaming(source)
				return
			}
			p.log.Error().Err(err).Msg("gstreamer pipeline fault")
			p.mu.Lock()
			p.faultLocked(err)
			p.mu.Unlock()
			return
		}
	}
}

// seekToStart flushes the current pipeline back to its first frame, the
// loop-on-EOF behavior for file and image-sequence sources.
func (p *Player) seekToStart() error {
	p.mu.Lock()
	pipeline := p.pipeline
	p.mu.Unlock()
	if pipeline == nil {
		return fmt.Errorf("no active pipeline")
	}
	if ok := pipeline.SeekSimple(gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit, 0); !ok {
		return fmt.Errorf("seek to start refused by pipeline")
	}
	return nil
}

// restartStreaming tears down the current pipeline and hands the source to
// reconnectStreaming on its own goroutine, so the (dying) bus watcher never
// blocks on the backoff sleep.
func (p *Player) restartStreaming(source Source) {
	p.mu.Lock()
	p.teardownPipelineLocked()
	p.mu.Unlock()
	go p.reconnectStreaming(source)
}

// advancePlaylist re-opens the Player on the next entry of a directory
// source's playlist once the current file reaches end-of-stream; it wraps
// back to the first entry, matching a looping slideshow rather than
// stopping playback after one pass.
func (p *Player) advancePlaylist(source Source) error {
	paths, err := enumeratePlaylist(source.Path)
	if err != nil || len(paths) == 0 {
		return fmt.Errorf("advance playlist: %w", err)
	}

	p.mu.Lock()
	cur := p.currentPlaylistPath
	p.mu.Unlock()

	next := paths[0]
	for i, path := range paths {
		if path == cur {
			next = paths[(i+1)%len(paths)]
			break
		}
	}

	p.mu.Lock()
	p.currentPlaylistPath = next
	p.mu.Unlock()

	return p.openOnce(Source{Kind: SourceFile, Path: next})
}

// faultLocked transitions to ERROR; caller must hold p.mu.
func (p *Player) faultLocked(err error) {
	p.state = Error
	p.lastErr = err
}

func (p *Player) teardownPipelineLocked() {
	if p.pipeline != nil {
		_ = p.pipeline.SetState(gst.StateNull)
		p.pipeline = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Render computes the layout transform for the current video/output size
// and renders the most recently decoded frame into the current
// presentation context. Per §4.4, this must only be called when the
// context is current; enforcing that is the caller's (the event pump's)
// responsibility.
func (p *Player) Render(outputW, outputH int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Error {
		return ErrPlayerFaulted
	}
	if p.videoW == 0 || p.videoH == 0 || p.lastFrame == nil {
		// No frame has arrived yet (LOADING, or a stalled stream); nothing
		// to render this tick.
		return nil
	}
	if p.sink == nil {
		return nil
	}

	src, dst := layout.Transform(p.layout, p.videoW, p.videoH, outputW, outputH)
	return p.sink.SubmitFrame(p.lastFrame, p.videoW, p.videoH, src, dst)
}

func (p *Player) requireNotFaulted() error {
	if p.state == Error {
		return ErrPlayerFaulted
	}
	return nil
}

// Pause is idempotent.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireNotFaulted(); err != nil {
		return err
	}
	if p.source.Kind == SourceRTSP {
		return fmt.Errorf("rtsp sources are live: pause is not supported")
	}
	if p.pipeline != nil {
		if err := p.pipeline.SetState(gst.StatePaused); err != nil {
			return fmt.Errorf("pause: %w", err)
		}
	}
	p.state = Paused
	return nil
}

// Resume is idempotent.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireNotFaulted(); err != nil {
		return err
	}
	if p.pipeline != nil {
		if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
			return fmt.Errorf("resume: %w", err)
		}
	}
	p.state = Playing
	return nil
}

// Seek is rejected against an already-faulted Player and for
// streaming/live sources.
func (p *Player) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireNotFaulted(); err != nil {
		return err
	}
	if p.source.IsStreaming() {
		return fmt.Errorf("source %s has no seek support", p.source.Kind)
	}
	if p.pipeline == nil {
		return fmt.Errorf("player has no active pipeline")
	}
	ns := int64(seconds * float64(time.Second))
	if ok := p.pipeline.SeekSimple(gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit, ns); !ok {
		return fmt.Errorf("seek to %vs refused by pipeline", seconds)
	}
	return nil
}

// SetRate sets the playback-rate multiplier; r must be positive. A live
// pipeline is re-paced with a rate-carrying flush seek from its current
// position; streaming sources just record the value (live streams cannot
// be re-paced).
func (p *Player) SetRate(r float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireNotFaulted(); err != nil {
		return err
	}
	if r <= 0 {
		return fmt.Errorf("playback rate must be positive, got %v", r)
	}
	p.rate = r
	if p.pipeline != nil && !p.source.IsStreaming() {
		pos, ok := p.pipeline.QueryPosition(gst.FormatTime)
		if !ok {
			pos = 0
		}
		if ok := p.pipeline.Seek(r, gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit,
			gst.SeekTypeSet, pos, gst.SeekTypeNone, 0); !ok {
			return fmt.Errorf("apply playback rate %v", r)
		}
	}
	return nil
}

// SetVolume sets volume in [0,1].
func (p *Player) SetVolume(v float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireNotFaulted(); err != nil {
		return err
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("volume must be in [0,1], got %v", v)
	}
	p.volume = v
	p.applyAudioLocked()
	return nil
}

// SetMute is idempotent.
func (p *Player) SetMute(m bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireNotFaulted(); err != nil {
		return err
	}
	p.muted = m
	p.applyAudioLocked()
	return nil
}

// ToggleMute flips the mute bit and returns the new value.
func (p *Player) ToggleMute() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireNotFaulted(); err != nil {
		return false, err
	}
	p.muted = !p.muted
	p.applyAudioLocked()
	return p.muted, nil
}

// applyAudioLocked pushes the stored volume/mute values onto the
// pipeline's "vol" element, when the active pipeline has an audio branch
// (forced-hwdec and RTSP pipelines are video-only and just keep the stored
// values for a later pipeline that can honor them). Caller holds p.mu.
func (p *Player) applyAudioLocked() {
	if p.pipeline == nil {
		return
	}
	vol, err := p.pipeline.GetElementByName(audioVolumeElement)
	if err != nil || vol == nil {
		return
	}
	_ = vol.SetProperty("volume", p.volume)
	_ = vol.SetProperty("mute", p.muted)
}

// SetLayout changes the scaling mode applied on the next Render.
func (p *Player) SetLayout(mode layout.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireNotFaulted(); err != nil {
		return err
	}
	p.layout = mode
	return nil
}

// AwaitingFirstFrame reports whether a streaming source has not yet
// delivered any decoded frame, the window during which the Frame Pacer
// mutes its skip-transition warnings.
func (p *Player) AwaitingFirstFrame() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source.IsStreaming() && p.lastFrame == nil
}

// OnVideoSize is called by the pipeline's appsink callback once the
// decoder reports the intrinsic video size.
func (p *Player) OnVideoSize(w, h int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.videoW, p.videoH = w, h
}

// onFrame is the pipeline's appsink new-sample callback: it records the
// reported intrinsic size and caches the frame's bytes for the next
// Render call. Called from the GStreamer streaming thread, so it only
// ever takes p.mu briefly and never blocks on a render tick.
func (p *Player) onFrame(data []byte, w, h int) {
	if w > 0 && h > 0 {
		p.OnVideoSize(w, h)
	}
	p.mu.Lock()
	p.lastFrame = data
	p.mu.Unlock()
}

// Snapshot returns the current time, duration and state for status
// reporting.
type Snapshot struct {
	State       State
	CurrentTime float64
	Duration    float64
	Source      Source
	Layout      layout.Mode
	Volume      float64
	Muted       bool
	Rate        float64
	LastError   string
}

func (p *Player) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	var cur, dur float64
	if p.pipeline != nil && !p.source.IsStreaming() {
		if pos, ok := p.pipeline.QueryPosition(gst.FormatTime); ok {
			cur = float64(pos) / float64(time.Second)
		}
		if d, ok := p.pipeline.QueryDuration(gst.FormatTime); ok {
			dur = float64(d) / float64(time.Second)
		}
	}

	var lastErr string
	if p.lastErr != nil {
		lastErr = p.lastErr.Error()
	}

	return Snapshot{
		State:       p.state,
		CurrentTime: cur,
		Duration:    dur,
		Source:      p.source,
		Layout:      p.layout,
		Volume:      p.volume,
		Muted:       p.muted,
		Rate:        p.rate,
		LastError:   lastErr,
	}
}

// Close tears down the pipeline. Per invariant (v), the caller (Surface)
// must release the Player before releasing the presentation context.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.teardownPipelineLocked()
}
