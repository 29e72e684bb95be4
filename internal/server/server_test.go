package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/composerbridge/pkg/integrations/gitlab"
	"github.com/matzehuels/composerbridge/pkg/integrations/gitlab/gitlabtest"
	"github.com/matzehuels/composerbridge/pkg/pipeline"
)

const token = "reload-secret"

var quiet = log.New(io.Discard)

type fakeRefresher struct {
	mu        sync.Mutex
	output    string
	err       error
	forced    []bool
	triggered int
	ctxErr    error
}

func (f *fakeRefresher) Refresh(ctx context.Context, force bool) (*pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, force)
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{Rebuilt: force}, nil
}

func (f *fakeRefresher) Trigger() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered++
	return nil
}

func (f *fakeRefresher) OutputPath() string { return f.output }

func newFake(t *testing.T, doc string) *fakeRefresher {
	t.Helper()
	path := filepath.Join(t.TempDir(), pipeline.OutputFile)
	if doc != "" {
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return &fakeRefresher{output: path}
}

func do(h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPackagesRoutes(t *testing.T) {
	fake := newFake(t, `{"packages":{}}`)
	h := New(fake, Options{ReloadToken: token, Logger: quiet}).Handler()

	for _, path := range []string{"/", "/packages.json"} {
		rec := do(h, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
		if rec.Body.String() != `{"packages":{}}` {
			t.Errorf("GET %s body = %q", path, rec.Body.String())
		}
	}
	for _, f := range fake.forced {
		if f {
			t.Error("refresh forced without token")
		}
	}
}

func TestPackagesTokenForcesRebuild(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header http.Header
		want   bool
	}{
		{"header", "/", http.Header{TokenHeader: {token}}, true},
		{"query", "/packages.json?" + TokenParam + "=" + token, nil, true},
		{"wrong token", "/", http.Header{TokenHeader: {"nope"}}, false},
		{"no token", "/", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFake(t, `{"packages":{}}`)
			do(New(fake, Options{ReloadToken: token, Logger: quiet}).Handler(), http.MethodGet, tt.target, tt.header)
			if len(fake.forced) != 1 || fake.forced[0] != tt.want {
				t.Errorf("forced = %v, want [%v]", fake.forced, tt.want)
			}
		})
	}
}

func TestPackagesRefreshDetachedFromRequest(t *testing.T) {
	fake := newFake(t, `{"packages":{}}`)
	h := New(fake, Options{Logger: quiet}).Handler()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if fake.ctxErr != nil {
		t.Errorf("refresh context error = %v, want nil", fake.ctxErr)
	}
}

func TestPackagesRefreshErrorServesPrevious(t *testing.T) {
	fake := newFake(t, `{"packages":{"a/b":{}}}`)
	fake.err = errors.New("disk full")

	rec := do(New(fake, Options{Logger: quiet}).Handler(), http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != `{"packages":{"a/b":{}}}` {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestPackagesRefreshErrorWithoutOutput(t *testing.T) {
	fake := newFake(t, "")
	fake.err = errors.New("disk full")

	rec := do(New(fake, Options{Logger: quiet}).Handler(), http.MethodGet, "/", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %q", rec.Body.String())
	}
	if body["error"] != "disk full" {
		t.Errorf("error = %q, want disk full", body["error"])
	}
}

func TestTriggerReload(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		header     http.Header
		wantStatus int
		wantBody   string
	}{
		{"get header", http.MethodGet, "/trigger-reload", http.Header{TokenHeader: {token}}, http.StatusOK, "OK"},
		{"post query", http.MethodPost, "/trigger-reload?" + TokenParam + "=" + token, nil, http.StatusOK, "OK"},
		{"missing", http.MethodGet, "/trigger-reload", nil, http.StatusForbidden, "ERROR: Invalid request"},
		{"wrong", http.MethodPost, "/trigger-reload", http.Header{TokenHeader: {token + "x"}}, http.StatusForbidden, "ERROR: Invalid request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFake(t, "")
			rec := do(New(fake, Options{ReloadToken: token, Logger: quiet}).Handler(), tt.method, tt.target, tt.header)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
				t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
			}
			wantTriggered := 0
			if tt.wantStatus == http.StatusOK {
				wantTriggered = 1
			}
			if fake.triggered != wantTriggered {
				t.Errorf("triggered = %d, want %d", fake.triggered, wantTriggered)
			}
		})
	}
}

func TestEmptyTokenNeverAuthorizes(t *testing.T) {
	fake := newFake(t, "")
	rec := do(New(fake, Options{Logger: quiet}).Handler(), http.MethodGet, "/trigger-reload?"+TokenParam+"=", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("metric 1"))
	})
	h := New(newFake(t, ""), Options{Metrics: metrics, Logger: quiet}).Handler()

	if rec := do(h, http.MethodGet, "/healthz", nil); rec.Body.String() != "OK" {
		t.Errorf("/healthz body = %q, want OK", rec.Body.String())
	}
	if rec := do(h, http.MethodGet, "/metrics", nil); rec.Body.String() != "metric 1" {
		t.Errorf("/metrics body = %q", rec.Body.String())
	}

	h = New(newFake(t, ""), Options{Logger: quiet}).Handler()
	if rec := do(h, http.MethodGet, "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Errorf("/metrics without collector status = %d, want 404", rec.Code)
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf)
	h := New(newFake(t, ""), Options{Logger: logger}).Handler()

	do(h, http.MethodGet, "/trigger-reload", nil)
	if out := buf.String(); !strings.Contains(out, "status=403") || !strings.Contains(out, "request_id=") {
		t.Errorf("log output = %q", out)
	}
}

func TestEndToEnd(t *testing.T) {
	srv := gitlabtest.NewServer(t)
	srv.AddProject(gitlabtest.Project{ID: 1, Path: "acme/lib", LastActivityAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	srv.AddTag(1, "v1.2.0", "abc123")
	srv.AddFile(1, "abc123", "composer.json", `{"name":"acme/lib"}`)

	client := gitlab.NewClient(gitlab.Options{BaseURL: srv.APIURL(), APIKey: gitlabtest.Token, Logger: quiet})
	runner, err := pipeline.NewRunner(client, pipeline.Options{Dir: t.TempDir(), Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(New(runner, Options{ReloadToken: token, Logger: quiet}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/packages.json")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `"v1.2.0":{"name":"acme/lib","version":"v1.2.0"`) {
		t.Errorf("body = %s", body)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/packages.json", nil)
	req.Header.Set("If-Modified-Since", resp.Header.Get("Last-Modified"))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("conditional GET status = %d, want 304", resp.StatusCode)
	}
}
