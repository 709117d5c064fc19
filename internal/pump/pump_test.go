package pump

import (
	"context"
	"testing"
	"time"

	"github.com/neurlang/wayland/wl"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wayvid/wayvid/internal/engine"
	"github.com/wayvid/wayvid/internal/niri"
	"github.com/wayvid/wayvid/internal/pacer"
	"github.com/wayvid/wayvid/internal/player"
	"github.com/wayvid/wayvid/internal/registry"
	"github.com/wayvid/wayvid/internal/surface"
)

// fakeCompositor is a local stand-in for a live Wayland connection, the
// same seam internal/surface draws around LayerSurface and internal/gfx
// draws around the device: nothing in this file touches a real
// compositor.
type fakeCompositor struct {
	added      []outputGlobal
	removed    []string
	updates    []outputUpdate
	dispatched int
	closed     bool
}

func (f *fakeCompositor) PollOutputs() ([]outputGlobal, []string) {
	added, removed := f.added, f.removed
	f.added, f.removed = nil, nil
	return added, removed
}

func (f *fakeCompositor) PollUpdates() []outputUpdate {
	updates := f.updates
	f.updates = nil
	return updates
}

func (f *fakeCompositor) NewLayerSurface(out outputGlobal) (*wl.Surface, layerSurfaceHandle, error) {
	return nil, nil, nil
}

func (f *fakeCompositor) Display() *wl.Display { return nil }

func (f *fakeCompositor) Dispatch() error {
	f.dispatched++
	return nil
}

func (f *fakeCompositor) Close() { f.closed = true }

// fakeNiri is a local stand-in for *niri.Client satisfying niriEvents.
type fakeNiri struct {
	events []niri.Event
	err    error
	closed bool
}

func (f *fakeNiri) TryReadEvent() (niri.Event, bool, error) {
	if f.err != nil {
		return niri.Event{}, false, f.err
	}
	if len(f.events) == 0 {
		return niri.Event{}, false, nil
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev, true, nil
}

func (f *fakeNiri) Close() error {
	f.closed = true
	return nil
}

func newTestPump(t *testing.T) (*Pump, *fakeCompositor, *engine.Engine) {
	t.Helper()
	comp := &fakeCompositor{}
	reg := registry.New()
	p := &Pump{
		log:      zerolog.Nop(),
		comp:     comp,
		reg:      reg,
		pacers:   make(map[string]*pacer.Pacer),
		surfaces: make(map[string]*surface.Surface),
		globals:  make(map[string]outputGlobal),
	}
	eng := engine.New(zerolog.Nop(), reg, nil, p, player.HwdecAuto)
	return p, comp, eng
}

func TestPollOutputsRegistersAddedOutputsAndFoldsUpdatesIntoTheRegistry(t *testing.T) {
	p, comp, _ := newTestPump(t)

	comp.added = []outputGlobal{{Name: "HDMI-A-1"}}
	p.pollOutputs()

	_, ok := p.reg.Get("HDMI-A-1")
	require.True(t, ok)
	_, ok = p.globals["HDMI-A-1"]
	require.True(t, ok)

	comp.updates = []outputUpdate{
		{Name: "HDMI-A-1", Kind: updateGeometry, X: 10, Y: 20},
		{Name: "HDMI-A-1", Kind: updateMode, W: 1920, H: 1080},
		{Name: "HDMI-A-1", Kind: updateScale, Scale: 1.5},
		{Name: "HDMI-A-1", Kind: updateDone},
	}
	p.pollOutputs()

	out, ok := p.reg.Get("HDMI-A-1")
	require.True(t, ok)
	require.True(t, out.Ready)
	require.Equal(t, 10, out.X)
	require.Equal(t, 20, out.Y)
	require.Equal(t, 1920, out.PixelW)
	require.Equal(t, 1080, out.PixelH)
	require.InDelta(t, 1.5, out.Scale, 0.0001)
}

func TestPollOutputsRemovesOutputAndClosesItsSurface(t *testing.T) {
	p, comp, _ := newTestPump(t)

	comp.added = []outputGlobal{{Name: "HDMI-A-1"}}
	p.pollOutputs()

	surf := surface.New(zerolog.Nop(), surface.OutputBinding{Name: "HDMI-A-1"}, &fakeLayerSurfaceHandle{})
	p.surfaces["HDMI-A-1"] = surf
	p.pacers["HDMI-A-1"] = pacer.New(zerolog.Nop(), 0)

	comp.removed = []string{"HDMI-A-1"}
	p.pollOutputs()

	_, ok := p.reg.Get("HDMI-A-1")
	require.False(t, ok)
	_, ok = p.globals["HDMI-A-1"]
	require.False(t, ok)
	_, ok = p.surfaces["HDMI-A-1"]
	require.False(t, ok)
	_, ok = p.pacers["HDMI-A-1"]
	require.False(t, ok)
}

func TestPollNiriIsNoopWhenNoClientIsAttached(t *testing.T) {
	p, _, _ := newTestPump(t)
	require.Nil(t, p.niri)
	p.pollNiri() // must not panic
}

func TestPollNiriDrainsQueuedEventsWithoutDisconnecting(t *testing.T) {
	p, _, _ := newTestPump(t)
	fn := &fakeNiri{events: []niri.Event{{Kind: "WorkspaceActivated"}, {Kind: "WorkspacesChanged"}}}
	p.niri = fn

	p.pollNiri()

	require.False(t, fn.closed)
	require.NotNil(t, p.niri)
	require.Empty(t, fn.events)
}

func TestPollNiriDetachesOnReadError(t *testing.T) {
	p, _, _ := newTestPump(t)
	fn := &fakeNiri{err: context.Canceled}
	p.niri = fn

	p.pollNiri()

	require.True(t, fn.closed)
	require.Nil(t, p.niri)
}

func TestRunReturnsWhenContextIsCanceled(t *testing.T) {
	p, comp, eng := newTestPump(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx, eng)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, comp.closed)
}

func TestRunReturnsWhenEngineIsDone(t *testing.T) {
	p, comp, eng := newTestPump(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = eng.Submit(ctx, engine.Command{Kind: engine.Quit})
	}()

	err := p.Run(ctx, eng)
	require.NoError(t, err)
	require.True(t, comp.closed)
}

// fakeLayerSurfaceHandle is a local stand-in satisfying surface.LayerSurface
// for constructing a surface.Surface without a live compositor.
type fakeLayerSurfaceHandle struct{}

func (f *fakeLayerSurfaceHandle) SetAnchor(uint32)       {}
func (f *fakeLayerSurfaceHandle) SetExclusiveZone(int32) {}
func (f *fakeLayerSurfaceHandle) SetSize(uint32, uint32) {}
func (f *fakeLayerSurfaceHandle) AckConfigure(uint32)    {}
func (f *fakeLayerSurfaceHandle) Commit()                {}
func (f *fakeLayerSurfaceHandle) Destroy()               {}
