// Package logger configures zerolog for the churn binaries.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns the process logger writing to stderr.
func Setup(dev bool) zerolog.Logger {
	return New(os.Stderr, dev)
}

// New returns a logger writing to w. Production output is JSON at info level. Dev output
// is a console writer at debug level with stacks attached to errors.
func New(w io.Writer, dev bool) zerolog.Logger {
	if !dev {
		return zerolog.New(w).Level(zerolog.InfoLevel).With().Timestamp().Caller().Logger()
	}

	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(console).Level(zerolog.DebugLevel).With().Timestamp().Caller().Stack().Logger()
}
