// Package logger provides the zerolog constructors shared by the engine
// and the command line tools.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns the JSON logger used by the engine.
func New(serviceName string) zerolog.Logger {
	return newLogger(os.Stdout, serviceName)
}

// NewConsole returns a human-readable logger for interactive tools. It
// writes to stderr so command output stays parseable.
func NewConsole(serviceName string) zerolog.Logger {
	return newLogger(zerolog.ConsoleWriter{Out: os.Stderr}, serviceName)
}

func newLogger(w io.Writer, serviceName string) zerolog.Logger {
	return zerolog.New(w).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}
