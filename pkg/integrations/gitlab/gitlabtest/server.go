// Package gitlabtest provides an in-memory GitLab API server for tests.
package gitlabtest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Token is the API key the server accepts.
const Token = "test-token"

// Project is the fixture form of a project.
type Project struct {
	ID             int64
	Path           string // path_with_namespace
	DefaultBranch  string
	LastActivityAt time.Time
}

type ref struct {
	name, commit string
}

// Server is a fake GitLab API rooted at /api/v4.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	admin     bool
	userFails bool
	projects  []Project
	branches  map[int64][]ref
	tags      map[int64][]ref
	files     map[string]string // "id\x00ref\x00path" -> content
	failPages map[int]bool
	raw       []json.RawMessage

	requests atomic.Int64
	paths    []string
}

// NewServer starts a fake server and closes it when the test ends.
func NewServer(t testing.TB) *Server {
	s := &Server{
		branches:  map[int64][]ref{},
		tags:      map[int64][]ref{},
		files:     map[string]string{},
		failPages: map[int]bool{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// APIURL returns the API base URL to configure clients with.
func (s *Server) APIURL() string { return s.URL + "/api/v4" }

// SetAdmin makes the current user an administrator.
func (s *Server) SetAdmin(admin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admin = admin
}

// FailUser makes GET /user return 500.
func (s *Server) FailUser() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userFails = true
}

// AddProject registers a project. Projects are listed in registration order.
func (s *Server) AddProject(p Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.DefaultBranch == "" {
		p.DefaultBranch = "main"
	}
	s.projects = append(s.projects, p)
}

// AddRawProject appends an arbitrary record to the project listing.
func (s *Server) AddRawProject(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append(s.raw, json.RawMessage(raw))
}

// Touch moves a project's last activity.
func (s *Server) Touch(id int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.projects {
		if s.projects[i].ID == id {
			s.projects[i].LastActivityAt = at
		}
	}
}

// AddBranch registers a branch at commit.
func (s *Server) AddBranch(id int64, name, commit string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branches[id] = append(s.branches[id], ref{name, commit})
}

// AddTag registers a tag at commit.
func (s *Server) AddTag(id int64, name, commit string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[id] = append(s.tags[id], ref{name, commit})
}

// AddFile registers file content at ref (a commit id or branch name).
func (s *Server) AddFile(id int64, ref, path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileKey(id, ref, path)] = content
}

// FailPage makes the given project listing page return 500.
func (s *Server) FailPage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPages[page] = true
}

// Requests returns the number of requests served.
func (s *Server) Requests() int64 { return s.requests.Load() }

// Paths returns the escaped request paths in arrival order.
func (s *Server) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func fileKey(id int64, ref, path string) string {
	return fmt.Sprintf("%d\x00%s\x00%s", id, ref, path)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.EscapedPath())
	s.mu.Unlock()

	if r.URL.Query().Get("private_token") != Token {
		http.Error(w, `{"message":"401 Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v4")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case path == "/user":
		s.serveUser(w)
	case path == "/projects":
		s.serveProjects(w, r.URL.Query())
	case len(parts) == 4 && parts[2] == "repository" && parts[3] == "branches":
		s.serveRefs(w, r.URL.Query(), parts[1], s.branches)
	case len(parts) == 4 && parts[2] == "repository" && parts[3] == "tags":
		s.serveRefs(w, r.URL.Query(), parts[1], s.tags)
	case len(parts) >= 5 && parts[2] == "repository" && parts[3] == "files":
		s.serveFile(w, r, parts[1])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveUser(w http.ResponseWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userFails {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"id": 1, "username": "bridge", "name": "Bridge", "state": "active", "is_admin": s.admin})
}

func (s *Server) serveProjects(w http.ResponseWriter, q url.Values) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if page < 1 || perPage < 1 {
		http.Error(w, "bad paging", http.StatusBadRequest)
		return
	}
	if s.failPages[page] {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	var all []json.RawMessage
	for _, p := range s.projects {
		b, _ := json.Marshal(projectRecord(s.URL, p))
		all = append(all, b)
	}
	all = append(all, s.raw...)

	start := min((page-1)*perPage, len(all))
	end := min(start+perPage, len(all))
	writeJSON(w, append([]json.RawMessage{}, all[start:end]...))
}

func projectRecord(base string, p Project) map[string]any {
	name := p.Path[strings.LastIndex(p.Path, "/")+1:]
	return map[string]any{
		"id":                  p.ID,
		"default_branch":      p.DefaultBranch,
		"ssh_url_to_repo":     "git@gitlab.test:" + p.Path + ".git",
		"http_url_to_repo":    base + "/" + p.Path + ".git",
		"web_url":             base + "/" + p.Path,
		"name":                name,
		"path":                name,
		"path_with_namespace": p.Path,
		"last_activity_at":    p.LastActivityAt.UTC().Format(time.RFC3339Nano),
	}
}

func (s *Server) serveRefs(w http.ResponseWriter, q url.Values, idStr string, refs map[int64][]ref) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, _ := strconv.ParseInt(idStr, 10, 64)
	page, _ := strconv.Atoi(q.Get("page"))
	if page > 1 {
		writeJSON(w, []any{})
		return
	}
	out := []map[string]any{}
	for _, r := range refs[id] {
		out = append(out, map[string]any{"name": r.name, "commit": map[string]any{"id": r.commit}})
	}
	writeJSON(w, out)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, idStr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, _ := strconv.ParseInt(idStr, 10, 64)
	escaped := strings.TrimPrefix(r.URL.EscapedPath(), fmt.Sprintf("/api/v4/projects/%s/repository/files/", idStr))
	filePath, err := url.PathUnescape(escaped)
	if err != nil {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	content, ok := s.files[fileKey(id, r.URL.Query().Get("ref"), filePath)]
	if !ok {
		http.Error(w, `{"message":"404 File Not Found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"file_path": filePath,
		"encoding":  "base64",
		"content":   base64.StdEncoding.EncodeToString([]byte(content)),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
