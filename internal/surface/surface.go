// Package surface implements the layer-shell surface lifecycle: one
// Surface per (Output, engine instance), driving the
// zwlr_layer_surface_v1 configure/ack_configure/commit dance and owning
// that surface's Graphics Context presentation context and Player.
//
// The Wayland object wiring (wl_surface/zwlr_layer_surface_v1 creation,
// anchor/exclusive-zone requests) follows the compositor-object pattern
// demonstrated by
// other_examples/5b7155a6_tuxx-fancylock__internal-types.go.go's
// WaylandWindow/WaylandLocker, which drives xdg-shell surfaces the same
// way layer-shell drives these: a *wl.Surface plus a shell-specific role
// object, with a waitForConfigure-style gate before the first commit.
package surface

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wayvid/wayvid/internal/gfx"
	"github.com/wayvid/wayvid/internal/layout"
	"github.com/wayvid/wayvid/internal/player"
)

// State is the Surface lifecycle state.
type State int

const (
	Configuring State = iota
	Ready
	Resizing
	Closed
)

func (s State) String() string {
	switch s {
	case Configuring:
		return "configuring"
	case Ready:
		return "ready"
	case Resizing:
		return "resizing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// LayerSurface is the minimal zwlr_layer_surface_v1 surface a Surface
// drives; kept as an interface so this package is unit-testable without a
// live compositor connection, the same separation player.Sink draws
// between Player and a real GPU sink.
type LayerSurface interface {
	SetAnchor(anchor uint32)
	SetExclusiveZone(zone int32)
	SetSize(w, h uint32)
	AckConfigure(serial uint32)
	Commit()
	Destroy()
}

// AnchorAllEdges is the zwlr_layer_surface_v1 anchor bitmask for
// top|bottom|left|right, which every Surface sets so it fills its output
// regardless of panel/bar reservations elsewhere.
const AnchorAllEdges = 1 | 2 | 4 | 8

// ExclusiveZoneNone is the layer-shell convention for "do not reserve
// space, and do not be pushed around by other surfaces' reservations" —
// the correct value for a background wallpaper layer.
const ExclusiveZoneNone int32 = -1

// OutputBinding is the weak (name, generation) reference a Surface holds
// to its Output: a Surface never holds an *Output pointer, so a stale
// generation (output removed and re-announced) is detected rather than
// dereferencing a dangling handle.
type OutputBinding struct {
	Name       string
	Generation uint64
}

// Surface owns one layer-shell surface, its presentation context, and its
// Player.
type Surface struct {
	log zerolog.Logger

	mu sync.Mutex

	output OutputBinding
	wl     LayerSurface

	state State

	pc     *gfx.PresentationContext
	player *player.Player

	width, height int
	pendingSerial uint32

	// pending holds an Open call's parameters when it arrives before this
	// Surface has a presentation context to bind a Player's video sink to
	// (e.g. a rule resolved for an output the compositor hasn't configured
	// yet); HandleConfigure's first-configure branch applies it once pc
	// exists.
	pending *PendingOpen
}

// PendingOpen carries the construction-time parameters an engine-level
// apply/switch-source command wants a Surface's Player to start with,
// deferred until the Surface leaves CONFIGURING if necessary.
type PendingOpen struct {
	Source     player.Source
	Layout     layout.Mode
	Volume     float64
	Muted      bool
	Rate       float64
	Hwdec      player.HwdecMode
	HDRCapable bool
}

// New creates a Surface in CONFIGURING state bound to output: a rule
// resolved for an output creates the surface, anchors it to all four
// edges with exclusive zone -1, and commits.
func New(log zerolog.Logger, binding OutputBinding, wlSurface LayerSurface) *Surface {
	s := &Surface{
		log:    log,
		output: binding,
		wl:     wlSurface,
		state:  Configuring,
	}
	s.wl.SetAnchor(AnchorAllEdges)
	s.wl.SetExclusiveZone(ExclusiveZoneNone)
	s.wl.Commit()
	return s
}

// State returns the current lifecycle state.
func (s *Surface) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OutputBinding returns the weak output reference this Surface targets.
func (s *Surface) OutputBinding() OutputBinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

// HandleConfigure processes a compositor configure(serial, w, h) event:
// CONFIGURING -> READY on the first configure (building the presentation
// context at (w,h)); READY -> RESIZING on any subsequent configure
// carrying a changed size.
func (s *Surface) HandleConfigure(serial uint32, w, h int, buildPC func(w, h int) (*gfx.PresentationContext, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Configuring:
		pc, err := buildPC(w, h)
		if err != nil {
			return fmt.Errorf("build presentation context: %w", err)
		}
		s.pc = pc
		s.width, s.height = w, h
		s.wl.AckConfigure(serial)
		s.wl.Commit()
		s.state = Ready

		if s.pending != nil {
			cfg := *s.pending
			s.pending = nil
			if err := s.openLocked(context.Background(), cfg); err != nil {
				s.log.Warn().Err(err).Msg("deferred open failed once surface became ready")
			}
		}
		return nil

	case Ready:
		if w == s.width && h == s.height {
			// Re-ack an identical configure; no resize needed.
			s.wl.AckConfigure(serial)
			s.wl.Commit()
			return nil
		}
		s.pendingSerial = serial
		s.width, s.height = w, h
		s.state = Resizing
		return nil

	case Resizing:
		// A new configure arrives before the previous resize committed; the
		// latest geometry wins and we stay in RESIZING — only a completed
		// apply advances state.
		s.pendingSerial = serial
		s.width, s.height = w, h
		return nil

	case Closed:
		return fmt.Errorf("configure received on closed surface")

	default:
		return fmt.Errorf("unknown surface state %v", s.state)
	}
}

// ApplyResize completes a RESIZING transition: resizes the presentation
// context, ack_configures and commits, then returns to READY. The Player
// is not touched here: Render passes it the current size on every call.
func (s *Surface) ApplyResize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Resizing {
		return nil
	}
	if s.pc != nil {
		if err := s.pc.Resize(s.width, s.height); err != nil {
			return fmt.Errorf("resize presentation context: %w", err)
		}
	}
	s.wl.AckConfigure(s.pendingSerial)
	s.wl.Commit()
	s.state = Ready
	return nil
}

// BindPlayer attaches player, replacing any existing one. The previous
// Player (if any) is closed first so at most one Player per Surface ever
// holds a reference to the presentation context.
func (s *Surface) BindPlayer(p *player.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		s.player.Close()
	}
	s.player = p
}

// Player returns the bound Player, if any.
func (s *Surface) Player() *player.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

// Open ensures a Player exists for cfg.Source, constructing one bound to
// this Surface's presentation context if the Surface is already READY, or
// deferring construction until the first configure if it is still
// CONFIGURING. Player.Open builds the pipeline and sets it playing on the
// calling goroutine (a directory source is also listed there); decoding
// then runs on GStreamer's threads, and bus watching, including any
// streaming reconnect backoff, on the Player's own goroutine.
func (s *Surface) Open(ctx context.Context, cfg PendingOpen) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return fmt.Errorf("open: surface is closed")
	}
	if s.pc == nil {
		s.pending = &cfg
		return nil
	}
	return s.openLocked(ctx, cfg)
}

// openLocked constructs a fresh Player bound to pc and opens cfg.Source on
// it; caller must hold s.mu and s.pc must be non-nil.
func (s *Surface) openLocked(ctx context.Context, cfg PendingOpen) error {
	p := player.New(player.Config{
		Sink:       s.pc,
		Source:     cfg.Source,
		Layout:     cfg.Layout,
		Volume:     cfg.Volume,
		Muted:      cfg.Muted,
		Rate:       cfg.Rate,
		Hwdec:      cfg.Hwdec,
		HDRCapable: cfg.HDRCapable,
		Log:        s.log,
	})
	if s.player != nil {
		s.player.Close()
	}
	s.player = p
	return p.Open(ctx, cfg.Source)
}

// Render renders one frame if the Surface is READY and has a bound
// Player; CONFIGURING and RESIZING surfaces never render — a surface must
// not render before its first ack_configure.
func (s *Surface) Render() error {
	s.mu.Lock()
	pc, p, state, w, h := s.pc, s.player, s.state, s.width, s.height
	s.mu.Unlock()

	if state != Ready || pc == nil || p == nil {
		return nil
	}

	if err := pc.MakeCurrent(); err != nil {
		return fmt.Errorf("make current: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			pc.UnbindCurrent()
			panic(r)
		}
	}()

	if err := p.Render(w, h); err != nil {
		pc.UnbindCurrent()
		return fmt.Errorf("player render: %w", err)
	}
	return pc.SwapBuffers()
}

// SetLayout forwards a layout change to the bound Player, a no-op if none
// is bound yet (e.g. still CONFIGURING).
func (s *Surface) SetLayout(mode layout.Mode) error {
	s.mu.Lock()
	p := s.player
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.SetLayout(mode)
}

// Close tears the Surface down in order: Player released before
// presentation context before the compositor surface handle.
func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return
	}

	if s.player != nil {
		s.player.Close()
		s.player = nil
	}
	if s.pc != nil {
		s.pc.Destroy()
		s.pc = nil
	}
	if s.wl != nil {
		s.wl.Destroy()
	}
	s.state = Closed
}
