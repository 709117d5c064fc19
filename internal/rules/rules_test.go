package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wayvid/wayvid/internal/layout"
	"github.com/wayvid/wayvid/internal/player"
)

func writeRules(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "wayvid.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write rules file: %v", err)
	}
	return path
}

func TestLoadParsesRuleArray(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir, `
[[rule]]
pattern = "HDMI-*"
kind = "file"
path = "/videos/bg.mp4"
layout = "fill"
`)
	store, err := Load(zerolog.Nop(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rs := store.Rules()
	if len(rs) != 1 || rs[0].Pattern != "HDMI-*" {
		t.Fatalf("unexpected rules: %+v", rs)
	}
}

func TestRuleSourceRejectsUnknownKind(t *testing.T) {
	r := Rule{Pattern: "*", Kind: "smell-o-vision"}
	if _, err := r.Source(); err == nil {
		t.Fatal("expected an error for an unknown source kind")
	}
}

func TestRuleSourceMapsKind(t *testing.T) {
	r := Rule{Pattern: "*", Kind: "rtsp", URL: "rtsp://cam.local/stream"}
	src, err := r.Source()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.Kind != player.SourceRTSP || src.URL != r.URL {
		t.Fatalf("unexpected source: %+v", src)
	}
}

func TestRuleLayoutModeDefaultsToFill(t *testing.T) {
	r := Rule{Pattern: "*", Kind: "file", Path: "/x.mp4"}
	if r.LayoutMode() != layout.Fill {
		t.Fatalf("expected default layout FILL, got %v", r.LayoutMode())
	}
}

func TestReloadKeepsPreviousRulesOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir, `
[[rule]]
pattern = "*"
kind = "file"
path = "/a.mp4"
`)
	store, err := Load(zerolog.Nop(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.WriteFile(path, []byte("not valid toml {{{"), 0o644); err != nil {
		t.Fatalf("rewrite rules file: %v", err)
	}
	if err := store.Reload(); err == nil {
		t.Fatal("expected reload to report the parse error")
	}
	if len(store.Rules()) != 1 {
		t.Fatal("expected previous rule set to survive a failed reload")
	}
}
