// Package rules loads and hot-reloads the user's wallpaper rule set.
// Files are TOML, decoded with github.com/pelletier/go-toml/v2, and
// watched for changes with github.com/fsnotify/fsnotify, the same
// watch/fan-in-loop shape as
// helixml-helix/api/pkg/desktop/claude_jsonl_watcher.go's fsnotify.Watcher
// usage (NewWatcher, Add, a select over Events/Errors/ctx.Done).
package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/wayvid/wayvid/internal/layout"
	"github.com/wayvid/wayvid/internal/player"
)

// Rule is one entry of the user's ordered rule set.
type Rule struct {
	Pattern string   `toml:"pattern"`
	Path    string   `toml:"path,omitempty"`
	URL     string   `toml:"url,omitempty"`
	Kind    string   `toml:"kind"` // file|directory|url|rtsp|pipe|image_sequence
	FPS     float64  `toml:"fps,omitempty"`
	Layout  string   `toml:"layout,omitempty"`
	Volume  *float64 `toml:"volume,omitempty"`
	Muted   *bool    `toml:"muted,omitempty"`
}

// document is the on-disk TOML shape: a bare array of rules under the
// "rule" table-array key, mirroring a config-file style the reload
// command can diff against cleanly.
type document struct {
	Rule []Rule `toml:"rule"`
}

// Source converts a Rule's on-disk fields into a player.Source, the bridge
// between the config layer's string-typed document and the player
// package's typed Kind enum.
func (r Rule) Source() (player.Source, error) {
	var kind player.SourceKind
	switch r.Kind {
	case "file":
		kind = player.SourceFile
	case "directory":
		kind = player.SourceDirectory
	case "url":
		kind = player.SourceURL
	case "rtsp":
		kind = player.SourceRTSP
	case "pipe":
		kind = player.SourcePipe
	case "image_sequence":
		kind = player.SourceImageSeq
	default:
		return player.Source{}, fmt.Errorf("rule %q: unknown kind %q", r.Pattern, r.Kind)
	}
	return player.Source{Kind: kind, Path: r.Path, URL: r.URL, FPS: r.FPS}, nil
}

// LayoutMode parses the Rule's layout string, defaulting to FILL when
// unspecified or unrecognized.
func (r Rule) LayoutMode() layout.Mode {
	if r.Layout == "" {
		return layout.Fill
	}
	mode, ok := layout.ParseMode(r.Layout)
	if !ok {
		return layout.Fill
	}
	return mode
}

// Store holds the currently-loaded rule set and watches its file for
// changes, notifying subscribers so the engine's reload command (and an
// optional auto-reload-on-change policy) can recompute surface coverage.
type Store struct {
	log  zerolog.Logger
	path string

	mu    sync.RWMutex
	rules []Rule

	watcher   *fsnotify.Watcher
	onChanged func()
}

// Load reads and parses path, returning a Store with the initial rule set.
func Load(log zerolog.Logger, path string) (*Store, error) {
	s := &Store{log: log, path: path}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Rules returns a copy of the current rule set.
func (s *Store) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Reload re-reads the rule file from disk. Returns an error (and leaves
// the previous rule set in place) if the file is missing or malformed, so
// a bad edit never drops an already-running wallpaper configuration.
func (s *Store) Reload() error {
	return s.reload()
}

func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read rules file %q: %w", s.path, err)
	}
	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse rules file %q: %w", s.path, err)
	}
	s.mu.Lock()
	s.rules = doc.Rule
	s.mu.Unlock()
	return nil
}

// Watch starts an fsnotify watch on the rule file's directory (files are
// frequently replaced atomically by editors via rename, which only a
// directory watch reliably observes) and invokes onChanged after every
// successful reload triggered by a write/create/rename event touching the
// rule file itself.
func (s *Store) Watch(ctx context.Context, onChanged func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch rules directory %q: %w", dir, err)
	}

	s.watcher = watcher
	s.onChanged = onChanged

	go s.watchLoop(ctx)
	return nil
}

func (s *Store) watchLoop(ctx context.Context) {
	defer s.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				s.log.Warn().Err(err).Msg("rules reload failed, keeping previous rule set")
				continue
			}
			if s.onChanged != nil {
				s.onChanged()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("rules watcher error")
		}
	}
}

// Close stops the file watch, if one was started.
func (s *Store) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
}
