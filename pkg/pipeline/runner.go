package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/composerbridge/pkg/cache"
	"github.com/matzehuels/composerbridge/pkg/composer"
	errs "github.com/matzehuels/composerbridge/pkg/errors"
	"github.com/matzehuels/composerbridge/pkg/integrations/gitlab"
	"github.com/matzehuels/composerbridge/pkg/observability"
)

// Operation names used in [Policies].
const (
	OpConsumeTrigger = "consume-trigger"
	OpProjectKey     = "project-key"
	OpProjectStore   = "project-store"
)

// Policies declares how refresh failures are handled. A project whose path
// cannot be used as a cache key is skipped; any other store failure aborts
// the rebuild and leaves the previous document in place.
var Policies = errs.Policies{
	OpConsumeTrigger: errs.LogAndSkip,
	OpProjectKey:     errs.LogAndSkip,
	OpProjectStore:   errs.Propagate,
}

// Upstream is what the runner needs from GitLab. *gitlab.Client implements it.
type Upstream interface {
	composer.Source
	GetCurrentUser(ctx context.Context) *gitlab.User
	ListProjects(ctx context.Context, user *gitlab.User, opts gitlab.ListOptions) *gitlab.ProjectSet
}

// Options configures a [Runner].
type Options struct {
	Dir         string         // cache root holding packages.json, the trigger marker and project records
	Store       cache.Store    // per-project cache, nil for a ProjectStore at Dir
	URLType     gitlab.URLType // repository URL published as package source
	Concurrency int            // projects resolved in parallel, 0 for DefaultConcurrency
	Logger      *log.Logger
}

// Runner executes refreshes. It holds no state between runs besides the
// coalescing of concurrent calls, so one Runner can be shared by the HTTP
// server, the watcher and the CLI.
type Runner struct {
	upstream    Upstream
	resolver    *composer.Resolver
	store       cache.Store
	dir         string
	concurrency int
	logger      *log.Logger
	group       singleflight.Group
}

// NewRunner creates a runner. The cache directory is created if needed and
// must be writable, otherwise a FILESYSTEM_ERROR is returned.
func NewRunner(up Upstream, opts Options) (*Runner, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.Dir == "" {
		return nil, errs.New(errs.ErrCodeConfig, "cache directory is required")
	}
	if err := cache.EnsureWritable(opts.Dir); err != nil {
		return nil, err
	}

	store := opts.Store
	if store == nil {
		ps, err := cache.NewProjectStore(opts.Dir, logger)
		if err != nil {
			return nil, err
		}
		store = ps
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Runner{
		upstream:    up,
		resolver:    composer.NewResolver(up, opts.URLType, logger),
		store:       store,
		dir:         opts.Dir,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// OutputPath returns the location of packages.json.
func (r *Runner) OutputPath() string { return filepath.Join(r.dir, OutputFile) }

// TriggerPath returns the location of the trigger marker.
func (r *Runner) TriggerPath() string { return filepath.Join(r.dir, TriggerFile) }

// Trigger requests a rebuild on the next refresh.
func (r *Runner) Trigger() error { return Trigger(r.dir) }

// Trigger writes the trigger marker into the cache directory dir.
func Trigger(dir string) error {
	if err := cache.WriteFileAtomic(filepath.Join(dir, TriggerFile), []byte("1"), 0o644, time.Time{}); err != nil {
		return errs.Wrap(errs.ErrCodeFilesystem, err, "write trigger marker")
	}
	return nil
}

// Refresh brings packages.json up to date and reports what it did.
// Concurrent calls with the same force flag share one run and its result.
//
// On error the previous document, if any, is left untouched.
func (r *Runner) Refresh(ctx context.Context, force bool) (*Result, error) {
	v, err, _ := r.group.Do(strconv.FormatBool(force), func() (any, error) {
		return r.refresh(ctx, force)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (r *Runner) refresh(ctx context.Context, force bool) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.NewString(), OutputPath: r.OutputPath()}
	logger := r.logger.With("run", res.RunID[:8])

	user := r.upstream.GetCurrentUser(ctx)
	projects := r.upstream.ListProjects(ctx, user, gitlab.ListOptions{OrderBy: "last_activity_at", Sort: "desc"})
	res.Stats.Projects = projects.Len()

	triggered := r.consumeTrigger(logger)
	res.Reason = r.rebuildReason(force, triggered, projects)

	hooks := observability.Refresh()
	if res.Reason == ReasonNone {
		hooks.OnRefreshSkipped(ctx)
		if info, err := os.Stat(res.OutputPath); err == nil {
			res.ModTime = info.ModTime()
		}
		res.Duration = time.Since(start)
		logger.Debug("packages.json is up to date", "projects", res.Stats.Projects)
		return res, nil
	}

	logger.Info("rebuilding packages.json", "reason", res.Reason, "projects", res.Stats.Projects)
	hooks.OnRefreshStart(ctx, res.RunID, string(res.Reason))

	err := r.rebuild(ctx, projects, res)
	res.Duration = time.Since(start)
	hooks.OnRefreshComplete(ctx, res.RunID, res.Stats, res.Duration, err)
	if err != nil {
		logger.Error("rebuild failed", "err", err)
		return nil, err
	}

	res.Rebuilt = true
	logger.Info("wrote packages.json",
		"packages", res.Stats.Packages,
		"versions", res.Stats.Versions,
		"duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

// consumeTrigger removes the marker and reports whether it was there.
func (r *Runner) consumeTrigger(logger *log.Logger) bool {
	err := os.Remove(r.TriggerPath())
	switch {
	case err == nil:
		return true
	case os.IsNotExist(err):
		return false
	}
	// marker exists but cannot be removed: honour it anyway
	_ = Policies.Apply(logger, OpConsumeTrigger, errs.Wrap(errs.ErrCodeFilesystem, err, "remove trigger marker"))
	_, statErr := os.Stat(r.TriggerPath())
	return statErr == nil
}

func (r *Runner) rebuildReason(force, triggered bool, projects *gitlab.ProjectSet) Reason {
	if force {
		return ReasonForced
	}
	if triggered {
		return ReasonTrigger
	}
	info, err := os.Stat(r.OutputPath())
	if err != nil {
		return ReasonNoOutput
	}
	latest, ok := projects.LastActivity()
	if !ok {
		return ReasonNoActivity
	}
	if info.ModTime().Unix() < latest.Unix() {
		return ReasonStale
	}
	return ReasonNone
}

func (r *Runner) rebuild(ctx context.Context, projects *gitlab.ProjectSet, res *Result) error {
	list := projects.Projects()
	results := make([]composer.Versions, len(list))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, p := range list {
		g.Go(func() error {
			versions, err := r.store.LoadOrRefresh(gctx, p.PathWithNamespace, p.LastActivityAt,
				func(ctx context.Context) (composer.Versions, error) {
					return r.resolver.ResolveProjectVersions(ctx, p)
				})
			if err != nil {
				op := OpProjectStore
				if errs.Is(err, errs.ErrCodeInvalidPath) {
					op = OpProjectKey
				}
				return Policies.Apply(r.logger, op, err, "project", p.PathWithNamespace)
			}
			results[i] = versions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("resolve projects: %w", err)
	}

	packages := composer.Packages{}
	for i, p := range list {
		if len(results[i]) == 0 {
			continue
		}
		packages[p.PathWithNamespace] = results[i]
		res.Stats.Versions += len(results[i])
	}
	res.Stats.Packages = len(packages)

	data, err := encodeDocument(composer.NewDocument(packages))
	if err != nil {
		return errs.Wrap(errs.ErrCodeInternal, err, "encode %s", OutputFile)
	}
	if err := cache.WriteFileAtomic(res.OutputPath, data, 0o644, time.Time{}); err != nil {
		return errs.Wrap(errs.ErrCodeFilesystem, err, "write %s", OutputFile)
	}
	if info, err := os.Stat(res.OutputPath); err == nil {
		res.ModTime = info.ModTime()
	}
	return nil
}

// encodeDocument renders the document compactly without HTML escaping.
func encodeDocument(doc composer.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
