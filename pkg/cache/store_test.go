package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/composerbridge/pkg/composer"
	errs "github.com/matzehuels/composerbridge/pkg/errors"
)

var activity = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *ProjectStore {
	t.Helper()
	s, err := NewProjectStore(t.TempDir(), log.New(io.Discard))
	if err != nil {
		t.Fatalf("NewProjectStore() error: %v", err)
	}
	return s
}

func versions(t *testing.T, version string) composer.Versions {
	t.Helper()
	m, err := composer.ParseManifest([]byte(`{"name":"acme/widgets","version":"` + version + `"}`))
	if err != nil {
		t.Fatal(err)
	}
	return composer.Versions{version: m}
}

type countingResolver struct {
	calls int
	out   composer.Versions
	err   error
}

func (c *countingResolver) resolve(context.Context) (composer.Versions, error) {
	c.calls++
	return c.out, c.err
}

func TestLoadOrRefreshMissThenHit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	r := &countingResolver{out: versions(t, "1.0.0")}

	got, err := s.LoadOrRefresh(ctx, "acme/widgets", activity, r.resolve)
	if err != nil {
		t.Fatalf("LoadOrRefresh() error: %v", err)
	}
	if len(got) != 1 || r.calls != 1 {
		t.Fatalf("first call: versions = %d, calls = %d, want 1, 1", len(got), r.calls)
	}

	path, _ := s.Path("acme/widgets")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("cache file missing: %v", err)
	}
	if info.ModTime().Unix() != activity.Unix() {
		t.Errorf("mtime = %v, want %v", info.ModTime(), activity)
	}

	got, err = s.LoadOrRefresh(ctx, "acme/widgets", activity, r.resolve)
	if err != nil {
		t.Fatalf("LoadOrRefresh() error: %v", err)
	}
	if r.calls != 1 {
		t.Errorf("calls = %d, want 1 (served from cache)", r.calls)
	}
	if _, ok := got["1.0.0"]; !ok {
		t.Errorf("cached versions = %v, want 1.0.0", got)
	}
}

func TestLoadOrRefreshFreshness(t *testing.T) {
	tests := []struct {
		name      string
		recorded  time.Time
		current   time.Time
		wantCalls int
	}{
		{"same instant is fresh", activity, activity, 0},
		{"sub-second newer is fresh", activity, activity.Add(500 * time.Millisecond), 0},
		{"one second older is stale", activity.Add(-time.Second), activity, 1},
		{"newer record is fresh", activity.Add(time.Hour), activity, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			seed := &countingResolver{out: versions(t, "1.0.0")}
			if _, err := s.LoadOrRefresh(ctx, "acme/widgets", tt.recorded, seed.resolve); err != nil {
				t.Fatal(err)
			}

			r := &countingResolver{out: versions(t, "2.0.0")}
			if _, err := s.LoadOrRefresh(ctx, "acme/widgets", tt.current, r.resolve); err != nil {
				t.Fatal(err)
			}
			if r.calls != tt.wantCalls {
				t.Errorf("resolver calls = %d, want %d", r.calls, tt.wantCalls)
			}
		})
	}
}

func TestLoadOrRefreshEmptyResultIsCached(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	r := &countingResolver{}

	for i := 0; i < 3; i++ {
		got, err := s.LoadOrRefresh(ctx, "acme/empty", activity, r.resolve)
		if err != nil || got != nil {
			t.Fatalf("LoadOrRefresh() = %v, %v, want nil, nil", got, err)
		}
	}
	if r.calls != 1 {
		t.Errorf("calls = %d, want 1", r.calls)
	}

	// activity advances: query again
	if _, err := s.LoadOrRefresh(ctx, "acme/empty", activity.Add(time.Minute), r.resolve); err != nil {
		t.Fatal(err)
	}
	if r.calls != 2 {
		t.Errorf("calls = %d, want 2 after activity advanced", r.calls)
	}
}

func TestLoadOrRefreshResolverErrorNotCached(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	partial := versions(t, "1.0.0")
	r := &countingResolver{out: partial, err: context.Canceled}

	got, err := s.LoadOrRefresh(ctx, "acme/widgets", activity, r.resolve)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(got) != 1 {
		t.Errorf("partial versions = %d, want 1", len(got))
	}

	path, _ := s.Path("acme/widgets")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("cache file written after resolver error: %v", err)
	}
}

func writeLegacy(t *testing.T, s *ProjectStore, key, content string, mtime time.Time) {
	t.Helper()
	path, _ := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestLoadOrRefreshLegacyFiles(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		mtime     time.Time
		wantCalls int
		wantLen   int
	}{
		{"empty sentinel fresh", "", activity, 0, 0},
		{"empty sentinel stale", "", activity.Add(-time.Second), 1, 1},
		{"bare map fresh", `{"1.0.0":{"name":"acme/widgets"}}`, activity, 0, 1},
		{"bare map stale", `{"1.0.0":{"name":"acme/widgets"}}`, activity.Add(-time.Second), 1, 1},
		{"corrupt is stale", `{"1.0.0":`, activity.Add(time.Hour), 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			writeLegacy(t, s, "acme/widgets", tt.content, tt.mtime)

			r := &countingResolver{out: versions(t, "9.9.9")}
			got, err := s.LoadOrRefresh(context.Background(), "acme/widgets", activity, r.resolve)
			if err != nil {
				t.Fatal(err)
			}
			if r.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", r.calls, tt.wantCalls)
			}
			if len(got) != tt.wantLen {
				t.Errorf("versions = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestRecordFormat(t *testing.T) {
	s := newStore(t)
	r := &countingResolver{}
	if _, err := s.LoadOrRefresh(context.Background(), "acme/empty", activity, r.resolve); err != nil {
		t.Fatal(err)
	}

	path, _ := s.Path("acme/empty")
	data, _ := os.ReadFile(path)
	var rec map[string]json.RawMessage
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if string(rec["versions"]) != "null" {
		t.Errorf("versions = %s, want null", rec["versions"])
	}
	if string(rec["last_activity_at"]) != `"2024-05-01T12:00:00Z"` {
		t.Errorf("last_activity_at = %s", rec["last_activity_at"])
	}
}

func TestLoadOrRefreshInvalidKey(t *testing.T) {
	s := newStore(t)
	r := &countingResolver{}
	_, err := s.LoadOrRefresh(context.Background(), "../escape", activity, r.resolve)
	if !errs.Is(err, errs.ErrCodeInvalidPath) {
		t.Errorf("error = %v, want INVALID_PATH", err)
	}
	if r.calls != 0 {
		t.Errorf("calls = %d, want 0", r.calls)
	}
}

func TestNewProjectStoreUnwritable(t *testing.T) {
	if runtime.GOOS == "windows" || os.Getuid() == 0 {
		t.Skip("permission checks do not apply")
	}
	parent := t.TempDir()
	if err := os.Chmod(parent, 0o555); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(parent, 0o755)

	_, err := NewProjectStore(filepath.Join(parent, "cache"), nil)
	if !errs.Is(err, errs.ErrCodeFilesystem) {
		t.Errorf("NewProjectStore() error = %v, want FILESYSTEM_ERROR", err)
	}
}

func TestLoadOrRefreshUnwritableProjectDir(t *testing.T) {
	s := newStore(t)
	// a file where the namespace directory should be
	if err := os.WriteFile(filepath.Join(s.Dir(), "acme"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	r := &countingResolver{out: versions(t, "1.0.0")}
	_, err := s.LoadOrRefresh(context.Background(), "acme/widgets", activity, r.resolve)
	if !errs.Is(err, errs.ErrCodeFilesystem) {
		t.Errorf("error = %v, want FILESYSTEM_ERROR", err)
	}
}

func TestClearAndKeys(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	r := &countingResolver{out: versions(t, "1.0.0")}
	for _, key := range []string{"acme/widgets", "acme/tools/cli"} {
		if _, err := s.LoadOrRefresh(ctx, key, activity, r.resolve); err != nil {
			t.Fatal(err)
		}
	}
	_ = os.WriteFile(filepath.Join(s.Dir(), "packages.json"), []byte(`{}`), 0o644)

	keys, err := s.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "acme/tools/cli" || keys[1] != "acme/widgets" {
		t.Errorf("Keys() = %v", keys)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 0 {
		t.Errorf("Clear() left %d entries", len(entries))
	}
	if err := ClearDir(filepath.Join(s.Dir(), "missing")); err != nil {
		t.Errorf("ClearDir(missing) = %v, want nil", err)
	}
}

func TestNullStore(t *testing.T) {
	r := &countingResolver{out: versions(t, "1.0.0")}
	var s Store = NullStore{}
	for i := 0; i < 2; i++ {
		if _, err := s.LoadOrRefresh(context.Background(), "acme/widgets", activity, r.resolve); err != nil {
			t.Fatal(err)
		}
	}
	if r.calls != 2 {
		t.Errorf("calls = %d, want 2", r.calls)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	if err := WriteFileAtomic(path, []byte("one"), 0o644, activity); err != nil {
		t.Fatalf("WriteFileAtomic() error: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o644, time.Time{}); err != nil {
		t.Fatalf("WriteFileAtomic() error: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "two" {
		t.Errorf("content = %q, want two", data)
	}
	info, _ := os.Stat(path)
	if info.ModTime().Unix() == activity.Unix() {
		t.Error("zero mtime should leave the write time in place")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1 (temp files cleaned up)", len(entries))
	}
}
