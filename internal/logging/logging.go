// Package logging wraps zerolog the way the rest of the pack's services do:
// a single process-wide logger configured once at bootstrap from the
// logging-level environment variable, then threaded explicitly into every
// component constructor (connectors, destinations, the orchestrator, the
// control plane) rather than used as a global.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w (os.Stdout in production, a
// testing.T-backed writer in tests) at the given level string
// ("debug"|"info"|"warn"|"error"), defaulting to "info" for anything else.
func New(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(parseLevel(level))
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Noop returns a logger that discards everything, for use in tests that
// don't care about log output.
func Noop() zerolog.Logger {
	return zerolog.New(io.Discard)
}
