package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	errs "github.com/matzehuels/composerbridge/pkg/errors"
)

// Watcher refreshes in the background when the trigger marker appears in
// the cache directory, and optionally on a fixed interval.
type Watcher struct {
	runner   *Runner
	interval time.Duration
	logger   *log.Logger

	// ran is notified after every background refresh (tests).
	ran func(*Result, error)
}

// NewWatcher creates a watcher for r. A non-positive interval disables the
// periodic refresh, leaving only the trigger watch.
func NewWatcher(r *Runner, interval time.Duration) *Watcher {
	return &Watcher{runner: r, interval: interval, logger: r.logger}
}

// Run watches until ctx is done. It returns an error only if the watch
// cannot be set up.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(errs.ErrCodeFilesystem, err, "create file watcher")
	}
	defer fw.Close()
	if err := fw.Add(w.runner.dir); err != nil {
		return errs.Wrap(errs.ErrCodeFilesystem, err, "watch %s", w.runner.dir)
	}

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// a burst of events collapses into one pending refresh
	pending := make(chan bool, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case periodic := <-pending:
				// a trigger already consumed by another refresh needs no second run
				if !periodic && !w.markerPresent() {
					continue
				}
				w.refresh(ctx)
			}
		}
	}()

	w.logger.Info("watching for reload triggers", "dir", w.runner.dir, "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			<-done
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				<-done
				return nil
			}
			if filepath.Base(ev.Name) != TriggerFile || !ev.Has(fsnotify.Create|fsnotify.Write) {
				continue
			}
			w.logger.Debug("trigger marker detected", "op", ev.Op.String())
			schedule(pending, false)
		case err, ok := <-fw.Errors:
			if !ok {
				<-done
				return nil
			}
			w.logger.Warn("file watcher error", "err", err)
		case <-tick:
			schedule(pending, true)
		}
	}
}

func schedule(pending chan<- bool, periodic bool) {
	select {
	case pending <- periodic:
	default:
	}
}

func (w *Watcher) refresh(ctx context.Context) {
	res, err := w.runner.Refresh(ctx, false)
	if err != nil {
		w.logger.Error("background refresh failed", "err", err)
	}
	if w.ran != nil {
		w.ran(res, err)
	}
}

// markerPresent reports whether a trigger is pending.
func (w *Watcher) markerPresent() bool {
	_, err := os.Stat(w.runner.TriggerPath())
	return err == nil
}
