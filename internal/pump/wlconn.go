// This file isolates every call into github.com/neurlang/wayland (core
// client protocol) and its zwlr_layer_shell_v1 protocol extension behind a
// small interface (compositor), the same seam internal/surface draws
// around LayerSurface and internal/gfx draws around the Vulkan device: the
// rest of this package, and all of its tests, never touch a live Wayland
// connection.
package pump

import (
	"fmt"
	"sync"

	"github.com/neurlang/wayland/wl"
	zwlrlayershellv1 "github.com/neurlang/wayland/zwlr_layer_shell_v1"
	"github.com/rs/zerolog"

	"github.com/wayvid/wayvid/internal/surface"
)

// layerShellNamespace is the zwlr_layer_shell_v1 surface namespace wayvid
// identifies itself with, visible in compositor debug dumps (e.g.
// `wlr-randr`/`hyprctl layers`).
const layerShellNamespace = "wayvid"

// layerBackground is zwlr_layer_shell_v1's "background" layer value, the
// correct stacking layer for a wallpaper daemon.
const layerBackground = zwlrlayershellv1.LayerShellLayerBackground

// outputGlobal is one wl_output registry announcement, carrying the
// wl.Output handle the layer-shell surface request and the compositor's
// geometry/mode/scale events are both bound to.
type outputGlobal struct {
	Name  string
	wlOut *wl.Output
}

// layerSurfaceHandle is both the surface.LayerSurface internal/surface
// drives and the extra configure-callback registration the event pump
// needs at construction time, satisfied by a single concrete adapter so
// CreateSurface only has to keep track of one value per Surface.
type layerSurfaceHandle interface {
	surface.LayerSurface
	SetConfigureHandler(fn func(serial uint32, w, h int))
}

// outputUpdate is one wl_output geometry/mode/scale/done event, folded into
// internal/registry by Pump.pollOutputs.
type outputUpdate struct {
	Name  string
	Kind  updateKind
	X, Y  int
	W, H  int
	Scale float64
}

type updateKind int

const (
	updateGeometry updateKind = iota
	updateMode
	updateScale
	updateDone
)

// compositor is the subset of a live Wayland connection the event pump
// needs: enumerating outputs as they're announced/removed, and creating a
// background layer-shell surface bound to one of them.
type compositor interface {
	// PollOutputs drains the registry's pending wl_output global/
	// global-remove queue accumulated since the last call.
	PollOutputs() (added []outputGlobal, removed []string)

	// PollUpdates drains accumulated geometry/mode/scale/done events for
	// already-announced outputs.
	PollUpdates() []outputUpdate

	// NewLayerSurface creates a wl_surface + zwlr_layer_surface_v1 anchored
	// to out's whole extent on the background layer, returning the
	// wl.Surface (gfx needs it directly for VK_KHR_wayland_surface) and a
	// handle for registering the configure callback.
	NewLayerSurface(out outputGlobal) (*wl.Surface, layerSurfaceHandle, error)

	// Display returns the connection's *wl.Display, the other half of the
	// pair gfx.NewPresentationContext needs.
	Display() *wl.Display

	// Dispatch processes whatever wire events are currently queued,
	// without blocking beyond the underlying socket read; called once per
	// event-pump tick.
	Dispatch() error

	// Close disconnects from the compositor, destroying every bound
	// global.
	Close()
}

// realCompositor is the live implementation.
type realCompositor struct {
	log zerolog.Logger

	display    *wl.Display
	compositor *wl.Compositor
	layerShell *zwlrlayershellv1.LayerShell

	mu       sync.Mutex
	pending  []outputGlobal
	removed  []string
	updates  []outputUpdate
	byGlobal map[uint32]string // wl_output registry global id -> resolved output name
}

// dial connects to the compositor named by the WAYLAND_DISPLAY environment
// variable (empty selects the default socket), binds wl_compositor and
// zwlr_layer_shell_v1, and registers the wl_output global handler that
// feeds PollOutputs.
func dial(log zerolog.Logger) (compositor, error) {
	display, err := wl.Connect("")
	if err != nil {
		return nil, fmt.Errorf("connect to wayland compositor: %w", err)
	}
	c := &realCompositor{log: log, display: display, byGlobal: make(map[uint32]string)}
	if err := c.bindGlobals(); err != nil {
		display.Context().Close()
		return nil, err
	}
	return c, nil
}

func (c *realCompositor) bindGlobals() error {
	reg, err := c.display.GetRegistry()
	if err != nil {
		return fmt.Errorf("get wayland registry: %w", err)
	}

	reg.AddGlobalHandler(func(ev wl.RegistryGlobalEvent) {
		switch ev.Interface {
		case "wl_compositor":
			comp := wl.NewCompositor(c.display.Context())
			reg.Bind(ev.Name, ev.Interface, ev.Version, comp)
			c.compositor = comp
		case "zwlr_layer_shell_v1":
			ls := zwlrlayershellv1.NewLayerShell(c.display.Context())
			reg.Bind(ev.Name, ev.Interface, ev.Version, ls)
			c.layerShell = ls
		case "wl_output":
			out := wl.NewOutput(c.display.Context())
			reg.Bind(ev.Name, ev.Interface, ev.Version, out)
			name := fmt.Sprintf("%s-%d", ev.Interface, ev.Name)

			c.mu.Lock()
			c.byGlobal[ev.Name] = name
			c.pending = append(c.pending, outputGlobal{Name: name, wlOut: out})
			c.mu.Unlock()

			// The xdg-output-less name above is a placeholder; a real
			// human-readable connector name (e.g. "DP-1") arrives via this
			// wl_output name event on protocol versions that carry it.
			out.AddNameHandler(func(nameEv wl.OutputNameEvent) {
				c.mu.Lock()
				defer c.mu.Unlock()
				c.byGlobal[ev.Name] = nameEv.Name
				for i := range c.pending {
					if c.pending[i].wlOut == out {
						c.pending[i].Name = nameEv.Name
					}
				}
			})

			resolvedName := func() string {
				c.mu.Lock()
				defer c.mu.Unlock()
				return c.byGlobal[ev.Name]
			}
			out.AddGeometryHandler(func(geomEv wl.OutputGeometryEvent) {
				c.pushUpdate(outputUpdate{Name: resolvedName(), Kind: updateGeometry, X: int(geomEv.X), Y: int(geomEv.Y)})
			})
			out.AddModeHandler(func(modeEv wl.OutputModeEvent) {
				c.pushUpdate(outputUpdate{Name: resolvedName(), Kind: updateMode, W: int(modeEv.Width), H: int(modeEv.Height)})
			})
			out.AddScaleHandler(func(scaleEv wl.OutputScaleEvent) {
				c.pushUpdate(outputUpdate{Name: resolvedName(), Kind: updateScale, Scale: float64(scaleEv.Factor)})
			})
			out.AddDoneHandler(func(wl.OutputDoneEvent) {
				c.pushUpdate(outputUpdate{Name: resolvedName(), Kind: updateDone})
			})
		}
	})
	reg.AddGlobalRemoveHandler(func(ev wl.RegistryGlobalRemoveEvent) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if name, ok := c.byGlobal[ev.Name]; ok {
			c.removed = append(c.removed, name)
			delete(c.byGlobal, ev.Name)
		}
	})

	// A round-trip so wl_compositor/zwlr_layer_shell_v1/wl_output are bound
	// before the caller's first PollOutputs.
	return c.display.Context().Dispatch()
}

func (c *realCompositor) PollOutputs() (added []outputGlobal, removed []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	added, c.pending = c.pending, nil
	removed, c.removed = c.removed, nil
	return added, removed
}

func (c *realCompositor) pushUpdate(u outputUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *realCompositor) PollUpdates() []outputUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	updates := c.updates
	c.updates = nil
	return updates
}

func (c *realCompositor) NewLayerSurface(out outputGlobal) (*wl.Surface, layerSurfaceHandle, error) {
	if c.compositor == nil || c.layerShell == nil {
		return nil, nil, fmt.Errorf("wl_compositor/zwlr_layer_shell_v1 not yet bound")
	}
	wlSurface, err := c.compositor.CreateSurface()
	if err != nil {
		return nil, nil, fmt.Errorf("create wl_surface: %w", err)
	}
	layerSurface, err := c.layerShell.GetLayerSurface(wlSurface, out.wlOut, layerBackground, layerShellNamespace)
	if err != nil {
		wlSurface.Destroy()
		return nil, nil, fmt.Errorf("get zwlr_layer_surface_v1: %w", err)
	}
	return wlSurface, &layerSurfaceHandleImpl{ls: layerSurface}, nil
}

func (c *realCompositor) Display() *wl.Display { return c.display }

func (c *realCompositor) Dispatch() error {
	return c.display.Context().Dispatch()
}

func (c *realCompositor) Close() {
	c.display.Context().Close()
}

// layerSurfaceHandleImpl adapts a bound zwlr_layer_surface_v1 both to
// layerSurfaceHandle (for the configure callback) and to
// surface.LayerSurface (the six requests internal/surface drives).
type layerSurfaceHandleImpl struct {
	ls *zwlrlayershellv1.LayerSurface
}

func (h *layerSurfaceHandleImpl) SetConfigureHandler(fn func(serial uint32, w, h int)) {
	h.ls.AddConfigureHandler(func(ev zwlrlayershellv1.LayerSurfaceConfigureEvent) {
		h.ls.AckConfigure(ev.Serial)
		fn(ev.Serial, int(ev.Width), int(ev.Height))
	})
}

func (h *layerSurfaceHandleImpl) SetAnchor(anchor uint32)       { h.ls.SetAnchor(anchor) }
func (h *layerSurfaceHandleImpl) SetExclusiveZone(zone int32)   { h.ls.SetExclusiveZone(zone) }
func (h *layerSurfaceHandleImpl) SetSize(w, ht uint32)          { h.ls.SetSize(w, ht) }
func (h *layerSurfaceHandleImpl) AckConfigure(serial uint32)    {} // acked inside SetConfigureHandler
func (h *layerSurfaceHandleImpl) Commit()                       { h.ls.Surface().Commit() }
func (h *layerSurfaceHandleImpl) Destroy()                      { h.ls.Destroy() }
