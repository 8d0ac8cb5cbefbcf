// Package logging builds the zerolog loggers used across dynrecon.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a timestamped logger writing JSON lines to w.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Console returns a human-readable logger on stderr.
func Console(level zerolog.Level) zerolog.Logger {
	return New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}, level)
}

// ParseLevel maps a level name to a zerolog level. An empty name selects
// debug when verbose is set and info otherwise.
func ParseLevel(name string, verbose bool) (zerolog.Level, error) {
	if strings.TrimSpace(name) == "" {
		if verbose {
			return zerolog.DebugLevel, nil
		}
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(name))
}

// Component returns l with a component field attached.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
