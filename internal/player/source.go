// Package player implements the per-surface media decoder/renderer: a
// GStreamer pipeline bound to a Vulkan-backed Wayland presentation context.
package player

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
)

// SourceKind discriminates the tagged union of media specifiers. It is
// modeled as a Go sum type (a Kind field plus kind-specific fields) rather
// than by subclassing, grounded on
// original_source/src/core/types.rs's VideoSource enum.
type SourceKind int

const (
	SourceFile SourceKind = iota
	SourceDirectory
	SourceURL
	SourceRTSP
	SourcePipe
	SourceImageSeq
)

func (k SourceKind) String() string {
	switch k {
	case SourceFile:
		return "file"
	case SourceDirectory:
		return "directory"
	case SourceURL:
		return "url"
	case SourceRTSP:
		return "rtsp"
	case SourcePipe:
		return "pipe"
	case SourceImageSeq:
		return "image_sequence"
	default:
		return "unknown"
	}
}

// Source is the media specifier a Rule or a switch-source command carries.
// Exactly one of Path/URL is meaningful, selected by Kind; FPS is only
// meaningful for SourceImageSeq.
type Source struct {
	Kind SourceKind
	Path string // local path for File/Directory/Pipe/ImageSeq (empty Pipe path = stdin)
	URL  string // remote URL for URL/RTSP
	FPS  float64
}

// Validate rejects an obviously malformed source before it's handed to the
// GStreamer pipeline, matching the "Config/usage" error-kind policy (the
// command fails; engine state is unchanged).
func (s Source) Validate() error {
	switch s.Kind {
	case SourceFile, SourceDirectory, SourceImageSeq:
		if s.Path == "" {
			return fmt.Errorf("%s source requires a path", s.Kind)
		}
	case SourcePipe:
		// empty path is valid: it means stdin.
	case SourceURL:
		if s.URL == "" {
			return fmt.Errorf("url source requires a url")
		}
		if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
			return fmt.Errorf("url source must be http(s), got %q", s.URL)
		}
	case SourceRTSP:
		if s.URL == "" {
			return fmt.Errorf("rtsp source requires a url")
		}
		if _, err := base.ParseURL(s.URL); err != nil {
			return fmt.Errorf("invalid rtsp url %q: %w", s.URL, err)
		}
	default:
		return fmt.Errorf("unknown source kind %d", s.Kind)
	}
	if s.Kind == SourceImageSeq && s.FPS <= 0 {
		s.FPS = 30
	}
	return nil
}

// IsStreaming reports whether the source needs the "live" transport
// handling (URL, RTSP, Pipe): no position or duration in snapshots and no
// seek; RTSP additionally rejects pause.
func (s Source) IsStreaming() bool {
	switch s.Kind {
	case SourceURL, SourceRTSP, SourcePipe:
		return true
	default:
		return false
	}
}

// pipelineURI returns the URI string to feed to the GStreamer
// uridecodebin3/urisourcebin element for this source, exhaustively switching
// over Kind per the tagged-union design note.
func (s Source) pipelineURI() (string, error) {
	switch s.Kind {
	case SourceFile:
		abs, err := filepath.Abs(expandTilde(s.Path))
		if err != nil {
			return "", fmt.Errorf("resolve file path: %w", err)
		}
		return "file://" + abs, nil

	case SourceDirectory:
		// Directories are expanded into an ordered playlist by the caller
		// (enumeratePlaylist); pipelineURI is only meaningful per-file.
		return "", fmt.Errorf("directory sources have no single pipeline URI")

	case SourceURL:
		return s.URL, nil

	case SourceRTSP:
		return s.URL, nil

	case SourcePipe:
		if s.Path == "" {
			return "fd://0", nil
		}
		abs, err := filepath.Abs(expandTilde(s.Path))
		if err != nil {
			return "", fmt.Errorf("resolve pipe path: %w", err)
		}
		return "file://" + abs, nil

	case SourceImageSeq:
		abs, err := filepath.Abs(expandTilde(s.Path))
		if err != nil {
			return "", fmt.Errorf("resolve image sequence dir: %w", err)
		}
		return "file://" + abs, nil

	default:
		return "", fmt.Errorf("unknown source kind %d", s.Kind)
	}
}

// enumeratePlaylist lists the files of a SourceDirectory in the stable
// lexicographic, case-sensitive order chosen for directory enumeration
// order. Clients must not assume another order.
func enumeratePlaylist(dir string) ([]string, error) {
	entries, err := os.ReadDir(expandTilde(dir))
	if err != nil {
		return nil, fmt.Errorf("read playlist directory %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	// os.ReadDir already returns entries sorted by filename, which is
	// exactly the lexicographic, case-sensitive order wanted here.
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

func expandTilde(p string) string {
	if p == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return p
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
