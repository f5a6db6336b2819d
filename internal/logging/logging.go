// Package logging builds the process logger and adapts it for libraries that
// expect a standard library *log.Logger.
package logging

import (
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"huewatch/internal/config"
)

// New returns the root logger described by cfg. Output goes to w, or to
// stderr when w is nil.
func New(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := w
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "huewatch").Logger()
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// StdLogger adapts l to a *log.Logger tagged with component. Each line
// written through it becomes one zerolog event.
func StdLogger(l zerolog.Logger, component string) *log.Logger {
	return log.New(Component(l, component), "", 0)
}
