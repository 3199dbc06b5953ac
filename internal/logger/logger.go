// Package logger builds the process logger. Output goes to stderr so the
// converted stream can go to stdout; a TTY gets the console writer, pipes
// get JSON.
package logger

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// New returns a logger at the given zerolog level name ("debug", "info",
// "warn", "error", ...); an empty or unrecognized name means info.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if isatty.IsTerminal(os.Stderr.Fd()) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}
