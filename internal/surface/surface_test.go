package surface

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/wayvid/wayvid/internal/gfx"
)

type fakeLayerSurface struct {
	anchor        uint32
	exclusiveZone int32
	commits       int
	acked         []uint32
	destroyed     bool
}

func (f *fakeLayerSurface) SetAnchor(anchor uint32)     { f.anchor = anchor }
func (f *fakeLayerSurface) SetExclusiveZone(z int32)    { f.exclusiveZone = z }
func (f *fakeLayerSurface) SetSize(w, h uint32)         {}
func (f *fakeLayerSurface) AckConfigure(serial uint32)  { f.acked = append(f.acked, serial) }
func (f *fakeLayerSurface) Commit()                     { f.commits++ }
func (f *fakeLayerSurface) Destroy()                    { f.destroyed = true }

func TestNewSurfaceAnchorsAllEdgesAndSetsNoExclusiveZone(t *testing.T) {
	fake := &fakeLayerSurface{}
	s := New(zerolog.Nop(), OutputBinding{Name: "HDMI-A-1"}, fake)

	if fake.anchor != AnchorAllEdges {
		t.Fatalf("expected anchor %d, got %d", AnchorAllEdges, fake.anchor)
	}
	if fake.exclusiveZone != ExclusiveZoneNone {
		t.Fatalf("expected exclusive zone %d, got %d", ExclusiveZoneNone, fake.exclusiveZone)
	}
	if s.State() != Configuring {
		t.Fatalf("expected initial state CONFIGURING, got %v", s.State())
	}
}

func TestFirstConfigureTransitionsToReady(t *testing.T) {
	fake := &fakeLayerSurface{}
	s := New(zerolog.Nop(), OutputBinding{Name: "HDMI-A-1"}, fake)

	called := false
	err := s.HandleConfigure(7, 1920, 1080, func(w, h int) (*gfx.PresentationContext, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected buildPC to be called on first configure")
	}
	if s.State() != Ready {
		t.Fatalf("expected READY after first configure, got %v", s.State())
	}
	if len(fake.acked) != 1 || fake.acked[0] != 7 {
		t.Fatalf("expected ack_configure(7), got %v", fake.acked)
	}
}

func TestResizeGoesThroughResizingBackToReady(t *testing.T) {
	fake := &fakeLayerSurface{}
	s := New(zerolog.Nop(), OutputBinding{Name: "HDMI-A-1"}, fake)
	_ = s.HandleConfigure(1, 1920, 1080, func(w, h int) (*gfx.PresentationContext, error) { return nil, nil })

	if err := s.HandleConfigure(2, 2560, 1440, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State() != Resizing {
		t.Fatalf("expected RESIZING after a size-changing configure, got %v", s.State())
	}

	if err := s.ApplyResize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State() != Ready {
		t.Fatalf("expected READY after resize applied, got %v", s.State())
	}
}

func TestConfiguringSurfaceNeverRenders(t *testing.T) {
	fake := &fakeLayerSurface{}
	s := New(zerolog.Nop(), OutputBinding{Name: "HDMI-A-1"}, fake)
	if err := s.Render(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCloseIsIdempotentAndDestroysWlSurface(t *testing.T) {
	fake := &fakeLayerSurface{}
	s := New(zerolog.Nop(), OutputBinding{Name: "HDMI-A-1"}, fake)
	s.Close()
	s.Close()
	if !fake.destroyed {
		t.Fatal("expected wl surface to be destroyed")
	}
	if s.State() != Closed {
		t.Fatalf("expected CLOSED, got %v", s.State())
	}
}
