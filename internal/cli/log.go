// Package cli implements the composerbridge command-line interface.
//
// # Commands
//
//   - serve: run the HTTP server publishing packages.json
//   - refresh: bring packages.json up to date once and exit
//   - trigger: request a rebuild on the next refresh
//   - cache: inspect or clear the cache directory
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging. A single
// logger is created here and handed to every component.
package cli

import (
	"io"

	"github.com/charmbracelet/log"
)

// newLogger creates a new logger with timestamp formatting.
// Timestamps are formatted as "HH:MM:SS.ms" (e.g., "14:32:01.45").
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}
