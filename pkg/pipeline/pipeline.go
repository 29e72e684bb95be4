// Package pipeline provides the refresh pipeline that keeps packages.json current.
//
// A [Runner] decides on every call whether the aggregate document needs
// rebuilding and, if so, resolves each project through the per-project cache
// and rewrites the document atomically.
//
// # Rebuild decision
//
// The document is rebuilt when any of these hold, checked in order:
//
//  1. the caller forces it
//  2. the trigger marker (.trigger-reload) was present (it is consumed)
//  3. packages.json does not exist
//  4. no project reports an activity timestamp
//  5. packages.json is older than the most recent project activity
//
// A rebuild is cheap for unchanged projects: their cache records are still
// fresh, so only projects with new activity go back to the API.
//
// # Usage
//
//	runner, err := pipeline.NewRunner(client, pipeline.Options{Dir: "cache"})
//	result, err := runner.Refresh(ctx, false)
//	...
//	err = pipeline.WriteOutput(w, r, runner.OutputPath())
package pipeline

import (
	"time"

	"github.com/matzehuels/composerbridge/pkg/observability"
)

const (
	// OutputFile is the aggregate document inside the cache directory.
	OutputFile = "packages.json"

	// TriggerFile is the marker whose presence forces the next rebuild.
	TriggerFile = ".trigger-reload"

	// DefaultConcurrency is the number of projects resolved in parallel.
	DefaultConcurrency = 4
)

// Reason says why a refresh rebuilt the document.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonForced     Reason = "forced"
	ReasonTrigger    Reason = "trigger"
	ReasonNoOutput   Reason = "no-output"
	ReasonNoActivity Reason = "no-activity"
	ReasonStale      Reason = "stale"
)

// Result describes one refresh.
type Result struct {
	RunID      string
	Rebuilt    bool
	Reason     Reason
	OutputPath string
	ModTime    time.Time // modification time of packages.json after the run
	Stats      observability.RefreshStats
	Duration   time.Duration
}
