package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/composerbridge/pkg/composer"
	errs "github.com/matzehuels/composerbridge/pkg/errors"
	"github.com/matzehuels/composerbridge/pkg/observability"
)

// Resolver produces a project's versions on a cache miss. A nil map means
// the project publishes nothing. A non-nil error means the result is
// incomplete and must not be cached.
type Resolver func(ctx context.Context) (composer.Versions, error)

// Store hands out per-project versions, resolving them when needed.
type Store interface {
	// LoadOrRefresh returns the versions cached under key if they are at
	// least as recent as activity, and otherwise calls resolve.
	LoadOrRefresh(ctx context.Context, key string, activity time.Time, resolve Resolver) (composer.Versions, error)
}

// record is the on-disk form of a cache entry. A nil Versions records that
// the project had no valid manifest at LastActivityAt.
type record struct {
	LastActivityAt time.Time         `json:"last_activity_at"`
	Versions       composer.Versions `json:"versions"`
}

// ProjectStore caches versions as one JSON file per project under a root
// directory, at <root>/<namespace>/<project>.json.
//
// Freshness compares the activity recorded in the file with the project's
// current activity at one-second resolution. Older files without the
// recorded timestamp (a bare version map, or an empty file meaning "no
// manifest") fall back to the file's modification time, which is always
// pinned to the activity timestamp on write.
type ProjectStore struct {
	dir    string
	logger *log.Logger
}

// NewProjectStore opens a store rooted at dir. The directory is created if
// needed and must be writable; otherwise a FILESYSTEM_ERROR is returned.
func NewProjectStore(dir string, logger *log.Logger) (*ProjectStore, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := EnsureWritable(dir); err != nil {
		return nil, err
	}
	return &ProjectStore{dir: dir, logger: logger}, nil
}

// EnsureWritable creates dir if needed and checks that files can be created in it.
func EnsureWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.ErrCodeFilesystem, err, "cache directory %s cannot be created", dir)
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return errs.Wrap(errs.ErrCodeFilesystem, err, "cache directory %s is not writable", dir)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

// Dir returns the root directory.
func (s *ProjectStore) Dir() string { return s.dir }

// Path returns the cache file for key after validating it.
func (s *ProjectStore) Path(key string) (string, error) {
	if err := errs.ValidatePath(key); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, filepath.FromSlash(key)+".json"), nil
}

// LoadOrRefresh implements [Store].
//
// A fresh record is returned as is, including a fresh "no manifest" record
// which yields nil. A stale, missing or unreadable record triggers resolve.
// A successful resolve is written back, even when empty, so an unchanged
// project is not queried again. A failed resolve returns its partial result
// and error without touching the file.
func (s *ProjectStore) LoadOrRefresh(ctx context.Context, key string, activity time.Time, resolve Resolver) (composer.Versions, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}

	hooks := observability.Cache()
	if rec, ok := s.read(path); ok && rec.LastActivityAt.Unix() >= activity.Unix() {
		hooks.OnCacheHit(ctx, key)
		return rec.Versions, nil
	}
	hooks.OnCacheMiss(ctx, key)

	versions, err := resolve(ctx)
	if err != nil {
		return versions, err
	}

	data, err := json.Marshal(record{LastActivityAt: activity.UTC(), Versions: versions})
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeInternal, err, "encode cache record for %s", key)
	}
	if err := WriteFileAtomic(path, data, 0o644, activity); err != nil {
		return nil, errs.Wrap(errs.ErrCodeFilesystem, err, "write cache record for %s", key)
	}
	hooks.OnCacheSet(ctx, key, len(data))
	return versions, nil
}

// read loads the record at path. It reports false when the file is missing
// or cannot be decoded.
func (s *ProjectStore) read(path string) (record, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return record{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Debug("unreadable cache record", "path", path, "err", err)
		return record{}, false
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return record{LastActivityAt: info.ModTime()}, true
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		s.logger.Debug("corrupt cache record", "path", path, "err", err)
		return record{}, false
	}
	if _, ok := fields["last_activity_at"]; ok {
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Debug("corrupt cache record", "path", path, "err", err)
			return record{}, false
		}
		return rec, true
	}

	// bare version map
	var versions composer.Versions
	if err := json.Unmarshal(data, &versions); err != nil {
		s.logger.Debug("corrupt cache record", "path", path, "err", err)
		return record{}, false
	}
	if len(versions) == 0 {
		versions = nil
	}
	return record{LastActivityAt: info.ModTime(), Versions: versions}, true
}

// Clear removes everything under the root directory but keeps the directory.
func (s *ProjectStore) Clear() error {
	return ClearDir(s.dir)
}

// ClearDir removes the contents of dir. A missing dir is not an error.
func ClearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.ErrCodeFilesystem, err, "read %s", dir)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return errs.Wrap(errs.ErrCodeFilesystem, err, "remove %s", e.Name())
		}
	}
	return nil
}

// Keys lists the project keys currently cached, in lexical order.
func (s *ProjectStore) Keys() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(strings.TrimSuffix(rel, ".json"))
		if !strings.Contains(key, "/") {
			// top-level files such as packages.json are not project records
			return nil
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}
	return keys, nil
}

var _ Store = (*ProjectStore)(nil)
