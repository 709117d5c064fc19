package player

import (
	"os"
	"strings"
	"testing"
)

func TestPipelineDescriptionFileUsesDecodebin3ByDefault(t *testing.T) {
	desc, err := pipelineDescription(Source{Kind: SourceFile, Path: "/tmp/clip.mp4"}, HwdecAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(desc, "decodebin3") {
		t.Fatalf("expected decodebin3 in auto-hwdec pipeline, got %q", desc)
	}
	if !strings.Contains(desc, "name=videosink") {
		t.Fatalf("expected a named videosink element, got %q", desc)
	}
}

func TestPipelineDescriptionFileCarriesAnAudioBranchWithNamedVolume(t *testing.T) {
	desc, err := pipelineDescription(Source{Kind: SourceFile, Path: "/tmp/clip.mp4"}, HwdecAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(desc, "volume name=vol") {
		t.Fatalf("expected a named volume element for live volume/mute control, got %q", desc)
	}
	if !strings.Contains(desc, "autoaudiosink") {
		t.Fatalf("expected an audio sink branch, got %q", desc)
	}
}

func TestPipelineDescriptionNoHwdecPinsSoftwareDecoders(t *testing.T) {
	desc, err := pipelineDescription(Source{Kind: SourceFile, Path: "/tmp/clip.mp4"}, HwdecNo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(desc, "force-sw-decoders=true") {
		t.Fatalf("expected software decoders to be pinned, got %q", desc)
	}
}

func TestPipelineDescriptionForceHwdecUsesVaapi(t *testing.T) {
	desc, err := pipelineDescription(Source{Kind: SourceFile, Path: "/tmp/clip.mp4"}, HwdecForce)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(desc, "vaapidecodebin") {
		t.Fatalf("expected vaapidecodebin when hwdec is forced, got %q", desc)
	}
}

func TestPipelineDescriptionRTSPUsesRtspsrc(t *testing.T) {
	desc, err := pipelineDescription(Source{Kind: SourceRTSP, URL: "rtsp://cam.local/stream"}, HwdecAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(desc, "rtspsrc location=") {
		t.Fatalf("expected rtspsrc-driven pipeline, got %q", desc)
	}
}

func TestPipelineDescriptionDirectoryResolvesToFirstEntry(t *testing.T) {
	dir := t.TempDir()
	writeEmptyFile(t, dir+"/b.mp4")
	writeEmptyFile(t, dir+"/a.mp4")

	desc, err := pipelineDescription(Source{Kind: SourceDirectory, Path: dir}, HwdecAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(desc, dir+"/a.mp4") {
		t.Fatalf("expected pipeline to open lexicographically-first entry a.mp4, got %q", desc)
	}
}

func TestPipelineDescriptionDirectoryEmptyErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := pipelineDescription(Source{Kind: SourceDirectory, Path: dir}, HwdecAuto); err == nil {
		t.Fatal("expected an error for an empty directory source")
	}
}

func TestPipelineDescriptionImageSeqDefaultsFPS(t *testing.T) {
	desc, err := pipelineDescription(Source{Kind: SourceImageSeq, Path: "/tmp/frames"}, HwdecAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(desc, "framerate=30/1") {
		t.Fatalf("expected default 30fps, got %q", desc)
	}
}

func writeEmptyFile(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	f.Close()
}
