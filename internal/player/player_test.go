package player

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wayvid/wayvid/internal/layout"
)

func newIdlePlayer(source Source) *Player {
	return New(Config{
		Source: source,
		Layout: layout.Fill,
		Volume: 1,
		Rate:   1,
		Log:    zerolog.Nop(),
	})
}

func TestMutatingOperationsAreRejectedOnceFaulted(t *testing.T) {
	p := newIdlePlayer(Source{Kind: SourceFile, Path: "/tmp/clip.mp4"})
	p.mu.Lock()
	p.faultLocked(errors.New("decoder exploded"))
	p.mu.Unlock()

	if err := p.Pause(); !errors.Is(err, ErrPlayerFaulted) {
		t.Fatalf("Pause on faulted player: got %v, want ErrPlayerFaulted", err)
	}
	if err := p.Resume(); !errors.Is(err, ErrPlayerFaulted) {
		t.Fatalf("Resume on faulted player: got %v, want ErrPlayerFaulted", err)
	}
	if err := p.SetVolume(0.5); !errors.Is(err, ErrPlayerFaulted) {
		t.Fatalf("SetVolume on faulted player: got %v, want ErrPlayerFaulted", err)
	}
	if _, err := p.ToggleMute(); !errors.Is(err, ErrPlayerFaulted) {
		t.Fatalf("ToggleMute on faulted player: got %v, want ErrPlayerFaulted", err)
	}
	if err := p.SetRate(2); !errors.Is(err, ErrPlayerFaulted) {
		t.Fatalf("SetRate on faulted player: got %v, want ErrPlayerFaulted", err)
	}
	if err := p.SetLayout(layout.Contain); !errors.Is(err, ErrPlayerFaulted) {
		t.Fatalf("SetLayout on faulted player: got %v, want ErrPlayerFaulted", err)
	}
	if err := p.Render(1920, 1080); !errors.Is(err, ErrPlayerFaulted) {
		t.Fatalf("Render on faulted player: got %v, want ErrPlayerFaulted", err)
	}
}

func TestSnapshotReportsLastError(t *testing.T) {
	p := newIdlePlayer(Source{Kind: SourceFile, Path: "/tmp/clip.mp4"})
	p.mu.Lock()
	p.faultLocked(errors.New("decoder exploded"))
	p.mu.Unlock()

	snap := p.Snapshot()
	if snap.State != Error {
		t.Fatalf("state = %v, want Error", snap.State)
	}
	if snap.LastError != "decoder exploded" {
		t.Fatalf("last error = %q", snap.LastError)
	}
}

func TestSetVolumeRejectsOutOfRange(t *testing.T) {
	p := newIdlePlayer(Source{Kind: SourceFile, Path: "/tmp/clip.mp4"})
	if err := p.SetVolume(-0.1); err == nil {
		t.Fatal("expected an error for volume below 0")
	}
	if err := p.SetVolume(1.1); err == nil {
		t.Fatal("expected an error for volume above 1")
	}
	if err := p.SetVolume(0); err != nil {
		t.Fatalf("volume 0 must be valid: %v", err)
	}
	if err := p.SetVolume(1); err != nil {
		t.Fatalf("volume 1 must be valid: %v", err)
	}
}

func TestSetRateRejectsNonPositive(t *testing.T) {
	p := newIdlePlayer(Source{Kind: SourceFile, Path: "/tmp/clip.mp4"})
	if err := p.SetRate(0); err == nil {
		t.Fatal("expected an error for rate 0")
	}
	if err := p.SetRate(-1); err == nil {
		t.Fatal("expected an error for a negative rate")
	}
	if err := p.SetRate(1.25); err != nil {
		t.Fatalf("rate 1.25 must be valid: %v", err)
	}
}

func TestSeekIsRejectedForStreamingSources(t *testing.T) {
	for _, src := range []Source{
		{Kind: SourceURL, URL: "https://example.com/a.mp4"},
		{Kind: SourceRTSP, URL: "rtsp://cam.local/stream"},
		{Kind: SourcePipe},
	} {
		p := newIdlePlayer(src)
		if err := p.Seek(10); err == nil {
			t.Fatalf("expected seek rejection for %v source", src.Kind)
		}
	}
}

func TestPauseIsRejectedForLiveRTSP(t *testing.T) {
	p := newIdlePlayer(Source{Kind: SourceRTSP, URL: "rtsp://cam.local/stream"})
	if err := p.Pause(); err == nil {
		t.Fatal("expected pause rejection for a live rtsp source")
	}
}

func TestAwaitingFirstFrameTracksStreamingSourcesOnly(t *testing.T) {
	streaming := newIdlePlayer(Source{Kind: SourceURL, URL: "https://example.com/a.mp4"})
	if !streaming.AwaitingFirstFrame() {
		t.Fatal("streaming player without a frame must report awaiting")
	}
	streaming.onFrame(make([]byte, 4), 1, 1)
	if streaming.AwaitingFirstFrame() {
		t.Fatal("streaming player with a cached frame must not report awaiting")
	}

	file := newIdlePlayer(Source{Kind: SourceFile, Path: "/tmp/clip.mp4"})
	if file.AwaitingFirstFrame() {
		t.Fatal("non-streaming players never report awaiting")
	}
}

func TestOnFrameRecordsIntrinsicSize(t *testing.T) {
	p := newIdlePlayer(Source{Kind: SourceFile, Path: "/tmp/clip.mp4"})
	p.onFrame(make([]byte, 16), 1920, 1080)
	p.mu.Lock()
	w, h := p.videoW, p.videoH
	p.mu.Unlock()
	if w != 1920 || h != 1080 {
		t.Fatalf("intrinsic size = %dx%d, want 1920x1080", w, h)
	}
}

func TestCloseStopsAPendingReconnect(t *testing.T) {
	p := newIdlePlayer(Source{Kind: SourceURL, URL: "https://example.com/a.mp4"})
	p.Close()
	// A reconnect kicked off around Close must give up without faulting.
	p.reconnectStreaming(Source{Kind: SourceURL, URL: "https://example.com/a.mp4"})
	if p.Snapshot().State == Error {
		t.Fatal("closed player must not transition to Error from an aborted reconnect")
	}
}
