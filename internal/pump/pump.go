// Package pump implements the Event Pump: the single goroutine that owns
// the Wayland connection, drains the playback engine's command inbox, and
// drives each ready Surface's render-or-skip decision.
//
// It pins itself to one OS thread with runtime.LockOSThread, since Vulkan
// and the GL/EGL-adjacent calls several GStreamer video sinks make are
// thread-affine in practice even though neurlang/wayland's client protocol
// implementation itself is not; mirrored from how a single dedicated
// goroutine owns compositor state through this whole package rather than
// letting IPC workers (internal/ipcserver) touch it, enforcing a
// single-writer rule already relied on by internal/engine.
package pump

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/wayvid/wayvid/internal/engine"
	"github.com/wayvid/wayvid/internal/gfx"
	"github.com/wayvid/wayvid/internal/niri"
	"github.com/wayvid/wayvid/internal/pacer"
	"github.com/wayvid/wayvid/internal/registry"
	"github.com/wayvid/wayvid/internal/surface"
)

// niriEvents is the slice of niri.Client this package depends on, kept as
// an interface so pollNiri's draining logic is unit-testable without a
// live NIRI_SOCKET.
type niriEvents interface {
	TryReadEvent() (niri.Event, bool, error)
	Close() error
}

// drainBatch is the maximum number of queued commands the pump executes per
// iteration before returning to dispatch and render.
const drainBatch = 16

// tickInterval paces the render loop independent of compositor frame
// callbacks: GStreamer decodes frames on its own clock, so the pump simply
// offers each Surface a chance to render every tick and lets
// pacer.Pacer.ShouldSkip decide whether that offer is honored.
const tickInterval = 1 * time.Second / 60

// Pump owns the compositor connection, the Output Registry, and one
// pacer.Pacer per known output.
type Pump struct {
	log zerolog.Logger

	comp   compositor
	reg    *registry.Registry
	niri   niriEvents // nil when NIRI_SOCKET is unset; entirely inert then.
	pacers map[string]*pacer.Pacer

	surfaces map[string]*surface.Surface
	globals  map[string]outputGlobal
}

// New dials the compositor named by WAYLAND_DISPLAY, optionally attaches a
// niri.Client when NIRI_SOCKET is set, and returns a Pump ready for Run. It
// deliberately does not take an *engine.Engine: the engine's SurfaceFactory
// is this very Pump, so the caller constructs the Pump first, passes it to
// engine.New, and only then calls Run with the resulting Engine — avoiding
// a construction cycle between the two.
func New(log zerolog.Logger, reg *registry.Registry) (*Pump, error) {
	comp, err := dial(log)
	if err != nil {
		return nil, err
	}

	p := &Pump{
		log:      log,
		comp:     comp,
		reg:      reg,
		pacers:   make(map[string]*pacer.Pacer),
		surfaces: make(map[string]*surface.Surface),
		globals:  make(map[string]outputGlobal),
	}

	if sock := os.Getenv("NIRI_SOCKET"); sock != "" {
		client, err := niri.Connect(sock)
		if err != nil {
			log.Warn().Err(err).Msg("NIRI_SOCKET set but niri connection failed; continuing without workspace events")
		} else if err := client.Subscribe(); err != nil {
			log.Warn().Err(err).Msg("niri workspace subscribe failed; continuing without workspace events")
			_ = client.Close()
		} else {
			p.niri = client
		}
	}

	return p, nil
}

// CreateSurface implements engine.SurfaceFactory: it is called by the
// engine (running on this same goroutine) when "apply"/"reload" needs a
// Surface for an output that doesn't have one yet.
func (p *Pump) CreateSurface(out registry.Output) (*surface.Surface, error) {
	gen, _ := p.reg.Generation(out.Name)
	global, ok := p.pendingGlobal(out.Name)
	if !ok {
		return nil, fmt.Errorf("create surface: no live wl_output for %q", out.Name)
	}

	wlSurface, handle, err := p.comp.NewLayerSurface(global)
	if err != nil {
		return nil, fmt.Errorf("create layer surface: %w", err)
	}

	binding := surface.OutputBinding{Name: out.Name, Generation: gen}
	surf := surface.New(p.log, binding, handle)

	handle.SetConfigureHandler(func(serial uint32, w, h int) {
		err := surf.HandleConfigure(serial, w, h, func(w, h int) (*gfx.PresentationContext, error) {
			return gfx.NewPresentationContext(p.log, p.comp.Display(), wlSurface, w, h)
		})
		if err != nil {
			p.log.Warn().Err(err).Str("output", out.Name).Msg("configure handling failed")
		}
	})

	p.surfaces[out.Name] = surf
	if _, ok := p.pacers[out.Name]; !ok {
		p.pacers[out.Name] = pacer.New(p.log, 0)
	}
	return surf, nil
}

// pendingGlobal looks up the wl.Output handle a registry.Output's bare name
// doesn't carry, tracked separately in p.globals and populated by
// pollOutputs.
func (p *Pump) pendingGlobal(name string) (outputGlobal, bool) {
	g, ok := p.globals[name]
	return g, ok
}

// Run is the event pump's main loop: pin this goroutine to its OS thread,
// then repeatedly (1) fold in newly (un)announced outputs, (2) dispatch
// queued Wayland events, (3) drain up to drainBatch engine commands, and
// (4) offer each READY surface a render, gated by its Pacer. It returns
// once ctx is canceled or eng's Quit command has closed Done.
func (p *Pump) Run(ctx context.Context, eng *engine.Engine) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer p.comp.Close()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.closeAll()
			return ctx.Err()
		case <-eng.Done():
			p.closeAll()
			return nil
		case <-ticker.C:
		}

		p.pollOutputs()

		if err := p.comp.Dispatch(); err != nil {
			p.log.Warn().Err(err).Msg("wayland dispatch error")
		}

		eng.Drain(drainBatch)

		p.pollNiri()

		for name, surf := range p.surfaces {
			if surf.State() == surface.Closed {
				// The engine closed this surface (stop/reload/quit); reap
				// the pump's bookkeeping for it.
				delete(p.surfaces, name)
				delete(p.pacers, name)
				continue
			}
			if surf.State() == surface.Resizing {
				if err := surf.ApplyResize(); err != nil {
					p.log.Warn().Err(err).Str("output", name).Msg("apply resize failed")
				}
			}
			if surf.State() != surface.Ready {
				continue
			}
			pc := p.pacers[name]
			if pl := surf.Player(); pl != nil {
				pc.SetSuppressWarnings(pl.AwaitingFirstFrame())
			}
			pc.BeginFrame()
			if pc.ShouldSkip() {
				pc.RecordSkip()
				continue
			}
			if err := surf.Render(); err != nil {
				p.log.Warn().Err(err).Str("output", name).Msg("render failed")
			}
			pc.EndFrame()
		}
	}
}

func (p *Pump) pollOutputs() {
	added, removed := p.comp.PollOutputs()
	for _, g := range added {
		p.globals[g.Name] = g
		p.reg.Register(g.Name)
	}
	for _, name := range removed {
		delete(p.globals, name)
		p.reg.Remove(name)
		if surf, ok := p.surfaces[name]; ok {
			surf.Close()
			delete(p.surfaces, name)
			delete(p.pacers, name)
		}
	}

	for _, u := range p.comp.PollUpdates() {
		switch u.Kind {
		case updateGeometry:
			p.reg.UpdateGeometry(u.Name, u.X, u.Y)
		case updateMode:
			p.reg.UpdateMode(u.Name, u.W, u.H)
		case updateScale:
			p.reg.UpdateScale(u.Name, u.Scale)
		case updateDone:
			p.reg.MarkReady(u.Name)
		}
	}
}

// pollNiri drains any pending niri workspace events when a client is
// attached; entirely a no-op otherwise. wayvid does not currently change
// playback behavior in response to workspace switches, so this only keeps
// the connection's read buffer drained and logs at debug level — a hook
// future workspace-aware rules could attach to.
func (p *Pump) pollNiri() {
	if p.niri == nil {
		return
	}
	for {
		ev, ok, err := p.niri.TryReadEvent()
		if err != nil {
			p.log.Warn().Err(err).Msg("niri event stream error; disabling workspace integration")
			_ = p.niri.Close()
			p.niri = nil
			return
		}
		if !ok {
			return
		}
		p.log.Debug().Str("event", ev.Kind).Msg("niri workspace event")
	}
}

func (p *Pump) closeAll() {
	for name, surf := range p.surfaces {
		surf.Close()
		delete(p.surfaces, name)
	}
	if p.niri != nil {
		_ = p.niri.Close()
	}
}
