// Package probe implements the conflict probe: a best-effort scan for
// other background wallpaper/painter daemons (swww-daemon, hyprpaper,
// swaybg) that would otherwise fight wayvid for the same layer-shell
// surfaces. No example repo or ecosystem library walks /proc for named
// processes — this is exactly the kind of OS-specific bookkeeping the
// standard library already expresses cleanly with os.ReadDir and
// os.ReadFile, so it stays on the standard library (see DESIGN.md).
package probe

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// knownPainters are the background wallpaper daemons wayvid can conflict
// with by competing for the same layer-shell surface.
var knownPainters = []string{"swww-daemon", "hyprpaper", "swaybg"}

// Scan walks /proc for processes whose comm matches a known background
// painter and returns their names, deduplicated. It never returns an error:
// a /proc read failure (e.g. a sandboxed or non-Linux environment) simply
// yields no findings, since this probe is advisory only.
func Scan() []string {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var found []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(entry.Name()); err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "comm"))
		if err != nil {
			continue
		}
		name := strings.TrimSpace(string(comm))
		for _, painter := range knownPainters {
			if name == painter && !seen[name] {
				seen[name] = true
				found = append(found, name)
			}
		}
	}
	return found
}

// WarnIfConflicting logs one warning per conflicting painter found. It
// never aborts startup.
func WarnIfConflicting(log zerolog.Logger) {
	for _, name := range Scan() {
		log.Warn().Str("process", name).Msg("another background painter appears to be running; it may fight wayvid for the same output")
	}
}
