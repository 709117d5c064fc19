package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wayvid/wayvid/internal/layout"
	"github.com/wayvid/wayvid/internal/player"
	"github.com/wayvid/wayvid/internal/registry"
	"github.com/wayvid/wayvid/internal/surface"
)

// fakeLayerSurface is a local stand-in for the zwlr_layer_surface_v1
// wrapper surface.Surface drives; it never touches a real compositor, the
// same boundary surface_test.go draws for its own fake.
type fakeLayerSurface struct{}

func (f *fakeLayerSurface) SetAnchor(uint32)        {}
func (f *fakeLayerSurface) SetExclusiveZone(int32)  {}
func (f *fakeLayerSurface) SetSize(uint32, uint32)  {}
func (f *fakeLayerSurface) AckConfigure(uint32)     {}
func (f *fakeLayerSurface) Commit()                 {}
func (f *fakeLayerSurface) Destroy()                {}

// fakeFactory builds real *surface.Surface values against fakeLayerSurface,
// never a live presentation context, so CreateSurface never touches
// Vulkan/Wayland. failNames lets a test simulate create failures for
// specific outputs (e.g. a GPU bring-up error on one monitor).
type fakeFactory struct {
	failNames map[string]bool
	created   []string
}

func (f *fakeFactory) CreateSurface(out registry.Output) (*surface.Surface, error) {
	if f.failNames[out.Name] {
		return nil, fmt.Errorf("simulated create failure for %s", out.Name)
	}
	f.created = append(f.created, out.Name)
	return surface.New(zerolog.Nop(), surface.OutputBinding{Name: out.Name}, &fakeLayerSurface{}), nil
}

func newTestEngine(t *testing.T, outputs ...string) (*Engine, *fakeFactory) {
	t.Helper()
	reg := registry.New()
	for _, name := range outputs {
		reg.Register(name)
		reg.UpdateMode(name, 1920, 1080)
		reg.UpdateGeometry(name, 0, 0)
		reg.UpdateScale(name, 1)
		reg.MarkReady(name)
	}
	factory := &fakeFactory{failNames: map[string]bool{}}
	e := New(zerolog.Nop(), reg, nil, factory, player.HwdecAuto)
	return e, factory
}

func TestApplyCreatesASurfacePerMatchedOutput(t *testing.T) {
	e, factory := newTestEngine(t, "HDMI-A-1", "DP-1")

	res := e.execute(Command{
		Kind:     Apply,
		Selector: Selector{All: true},
		Source:   player.Source{Kind: player.SourceFile, Path: "/tmp/clip.mp4"},
	})

	require.NoError(t, res.Err)
	require.ElementsMatch(t, []string{"HDMI-A-1", "DP-1"}, factory.created)
	require.Len(t, e.surfaces, 2)
}

func TestApplyWithNoMatchingOutputIsAnError(t *testing.T) {
	e, _ := newTestEngine(t, "HDMI-A-1")

	res := e.execute(Command{
		Kind:     Apply,
		Selector: Selector{Target: "DP-*"},
		Source:   player.Source{Kind: player.SourceFile, Path: "/tmp/clip.mp4"},
	})

	require.Error(t, res.Err)
}

func TestApplyAggregatesPartialFailuresWithoutRollback(t *testing.T) {
	e, factory := newTestEngine(t, "HDMI-A-1", "DP-1")
	factory.failNames["DP-1"] = true

	res := e.execute(Command{
		Kind:     Apply,
		Selector: Selector{All: true},
		Source:   player.Source{Kind: player.SourceFile, Path: "/tmp/clip.mp4"},
	})

	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "DP-1")
	// The surface that could be created is still live: no rollback.
	require.Contains(t, e.surfaces, "HDMI-A-1")
	require.NotContains(t, e.surfaces, "DP-1")
}

func TestSetVolumeRejectsUnknownOutput(t *testing.T) {
	e, _ := newTestEngine(t, "HDMI-A-1")

	res := e.execute(Command{Kind: SetVolume, Selector: Selector{Target: "does-not-exist"}, Volume: 0.5})

	require.ErrorIs(t, res.Err, ErrNoSuchOutput)
}

func TestSetVolumeRejectsOutputWithNoActivePlayer(t *testing.T) {
	e, _ := newTestEngine(t, "HDMI-A-1")
	e.surfaces["HDMI-A-1"] = &surfaceEntry{surf: surface.New(zerolog.Nop(), surface.OutputBinding{Name: "HDMI-A-1"}, &fakeLayerSurface{})}

	res := e.execute(Command{Kind: SetVolume, Selector: Selector{Target: "HDMI-A-1"}, Volume: 0.5})

	require.Error(t, res.Err)
}

func bindFakePlayer(s *surface.Surface) {
	s.BindPlayer(player.New(player.Config{
		Sink:   nil,
		Source: player.Source{Kind: player.SourceFile, Path: "/tmp/clip.mp4"},
		Layout: layout.Fill,
		Rate:   1,
	}))
}

func TestPauseResumeForwardToTheBoundPlayer(t *testing.T) {
	e, _ := newTestEngine(t, "HDMI-A-1")
	s := surface.New(zerolog.Nop(), surface.OutputBinding{Name: "HDMI-A-1"}, &fakeLayerSurface{})
	bindFakePlayer(s)
	e.surfaces["HDMI-A-1"] = &surfaceEntry{surf: s}

	res := e.execute(Command{Kind: Pause, Selector: Selector{Target: "HDMI-A-1"}})
	require.NoError(t, res.Err)
	require.Equal(t, player.Paused, s.Player().Snapshot().State)

	res = e.execute(Command{Kind: Resume, Selector: Selector{All: true}})
	require.NoError(t, res.Err)
	require.Equal(t, player.Playing, s.Player().Snapshot().State)
}

func TestPauseAgainstOutputWithNoSurfaceIsANoOp(t *testing.T) {
	e, _ := newTestEngine(t, "HDMI-A-1")
	res := e.execute(Command{Kind: Pause, Selector: Selector{Target: "HDMI-A-1"}})
	require.NoError(t, res.Err)
}

func TestToggleMuteAndSetRateAndSeekForwardToPlayer(t *testing.T) {
	e, _ := newTestEngine(t, "HDMI-A-1")
	s := surface.New(zerolog.Nop(), surface.OutputBinding{Name: "HDMI-A-1"}, &fakeLayerSurface{})
	bindFakePlayer(s)
	e.surfaces["HDMI-A-1"] = &surfaceEntry{surf: s}

	res := e.execute(Command{Kind: ToggleMute, Selector: Selector{Target: "HDMI-A-1"}})
	require.NoError(t, res.Err)
	require.True(t, s.Player().Snapshot().Muted)

	res = e.execute(Command{Kind: SetRate, Selector: Selector{Target: "HDMI-A-1"}, Rate: 1.5})
	require.NoError(t, res.Err)
	require.Equal(t, 1.5, s.Player().Snapshot().Rate)

	res = e.execute(Command{Kind: Seek, Selector: Selector{Target: "HDMI-A-1"}, Seconds: 5})
	require.Error(t, res.Err) // no pipeline bound: "player has no active pipeline"
}

func TestSetLayoutForwardsToSurface(t *testing.T) {
	e, _ := newTestEngine(t, "HDMI-A-1")
	s := surface.New(zerolog.Nop(), surface.OutputBinding{Name: "HDMI-A-1"}, &fakeLayerSurface{})
	bindFakePlayer(s)
	e.surfaces["HDMI-A-1"] = &surfaceEntry{surf: s}

	res := e.execute(Command{Kind: SetLayout, Selector: Selector{Target: "HDMI-A-1"}, Layout: layout.Contain})
	require.NoError(t, res.Err)
	require.Equal(t, layout.Contain, s.Player().Snapshot().Layout)
}

func TestSetLayoutRejectsUnknownOutput(t *testing.T) {
	e, _ := newTestEngine(t, "HDMI-A-1")
	res := e.execute(Command{Kind: SetLayout, Selector: Selector{Target: "does-not-exist"}, Layout: layout.Contain})
	require.ErrorIs(t, res.Err, ErrNoSuchOutput)
}

func TestStopRemovesMatchedSurfaces(t *testing.T) {
	e, _ := newTestEngine(t, "HDMI-A-1", "DP-1")
	e.surfaces["HDMI-A-1"] = &surfaceEntry{surf: surface.New(zerolog.Nop(), surface.OutputBinding{Name: "HDMI-A-1"}, &fakeLayerSurface{})}
	e.surfaces["DP-1"] = &surfaceEntry{surf: surface.New(zerolog.Nop(), surface.OutputBinding{Name: "DP-1"}, &fakeLayerSurface{})}

	res := e.execute(Command{Kind: Stop, Selector: Selector{Target: "HDMI-A-1"}})
	require.NoError(t, res.Err)
	require.NotContains(t, e.surfaces, "HDMI-A-1")
	require.Contains(t, e.surfaces, "DP-1")
}

func TestStatusReportsSnapshotPerSurface(t *testing.T) {
	e, _ := newTestEngine(t, "HDMI-A-1")
	s := surface.New(zerolog.Nop(), surface.OutputBinding{Name: "HDMI-A-1"}, &fakeLayerSurface{})
	bindFakePlayer(s)
	e.surfaces["HDMI-A-1"] = &surfaceEntry{surf: s}

	res := e.execute(Command{Kind: Status})
	require.NoError(t, res.Err)
	require.NotNil(t, res.Status)
	require.Len(t, res.Status.Outputs, 1)
	require.Equal(t, "HDMI-A-1", res.Status.Outputs[0].Name)
	require.Equal(t, 1920, res.Status.Outputs[0].Width)
}

func TestOutputsListsReadyOutputNamesSorted(t *testing.T) {
	e, _ := newTestEngine(t, "HDMI-A-1", "DP-1")
	res := e.execute(Command{Kind: Outputs})
	require.NoError(t, res.Err)
	require.Equal(t, []string{"DP-1", "HDMI-A-1"}, res.Outputs)
}

func TestQuitClosesDoneAndRejectsFurtherCommands(t *testing.T) {
	e, _ := newTestEngine(t, "HDMI-A-1")
	e.surfaces["HDMI-A-1"] = &surfaceEntry{surf: surface.New(zerolog.Nop(), surface.OutputBinding{Name: "HDMI-A-1"}, &fakeLayerSurface{})}

	res := e.execute(Command{Kind: Quit})
	require.NoError(t, res.Err)

	select {
	case <-e.Done():
	default:
		t.Fatal("expected Done channel to be closed after quit")
	}
	require.Empty(t, e.surfaces)

	res = e.execute(Command{Kind: Status})
	require.Error(t, res.Err)
}

func TestSubmitRoundTripsThroughDrain(t *testing.T) {
	e, _ := newTestEngine(t, "HDMI-A-1")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				e.Drain(16)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	res, err := e.Submit(context.Background(), Command{Kind: Outputs})
	require.NoError(t, err)
	require.Equal(t, []string{"HDMI-A-1"}, res.Outputs)
}
