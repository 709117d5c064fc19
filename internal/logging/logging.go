// Package logging sets up the process-wide zerolog logger used by every
// other internal package. wayvid has no logging subsystem of its own to
// design: it configures the ecosystem's structured logger once, at startup,
// and everything else just calls zerolog.Ctx or the package-level logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init configures the default zerolog logger. level is one of
// "trace","debug","info","warn","error" (case-insensitive); an unrecognised
// value falls back to "info". When pretty is true, output goes through
// zerolog.ConsoleWriter (suitable for a terminal); otherwise plain JSON
// lines go to stderr (suitable for a systemd unit or journal).
func Init(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	log := zerolog.New(w).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log
	return log
}
