// Package server exposes packages.json over HTTP.
//
// Routes:
//
//	GET  /, /packages.json   refresh if needed, then serve the document
//	GET|POST /trigger-reload request a rebuild on the next refresh
//	GET  /healthz            liveness
//	GET  /metrics            Prometheus scrape endpoint (when configured)
//
// A valid reload token, sent as the X-Gitlab-Token header or the gitlab_token
// query parameter, forces a rebuild on the document routes and is required
// by /trigger-reload.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	errs "github.com/matzehuels/composerbridge/pkg/errors"
	"github.com/matzehuels/composerbridge/pkg/pipeline"
)

// Token transport.
const (
	TokenHeader = "X-Gitlab-Token"
	TokenParam  = "gitlab_token"
)

const shutdownTimeout = 10 * time.Second

// Refresher is what the server needs from the pipeline. *pipeline.Runner
// implements it.
type Refresher interface {
	Refresh(ctx context.Context, force bool) (*pipeline.Result, error)
	Trigger() error
	OutputPath() string
}

// Options configures a [Server].
type Options struct {
	Addr        string
	ReloadToken string       // empty disables forced rebuilds and triggers
	Metrics     http.Handler // served at /metrics when non-nil
	Logger      *log.Logger
}

// Server is the HTTP front end.
type Server struct {
	refresher Refresher
	token     string
	addr      string
	logger    *log.Logger
	router    chi.Router
}

// New creates a server and sets up its routes.
func New(r Refresher, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		refresher: r,
		token:     opts.ReloadToken,
		addr:      opts.Addr,
		logger:    logger,
		router:    chi.NewRouter(),
	}

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(requestLogger(logger))

	s.router.Get("/", s.handlePackages)
	s.router.Get("/packages.json", s.handlePackages)
	s.router.Get("/trigger-reload", s.handleTrigger)
	s.router.Post("/trigger-reload", s.handleTrigger)
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "OK")
	})
	if opts.Metrics != nil {
		s.router.Handle("/metrics", opts.Metrics)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Run listens on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handlePackages(w http.ResponseWriter, r *http.Request) {
	force := s.authorized(r)

	// a client hanging up must not abort a rebuild other requests share
	_, refreshErr := s.refresher.Refresh(context.WithoutCancel(r.Context()), force)
	if refreshErr != nil {
		s.logger.Error("refresh failed, serving previous document", "err", refreshErr)
	}

	if err := pipeline.WriteOutput(w, r, s.refresher.OutputPath()); err != nil {
		if refreshErr != nil {
			err = refreshErr
		}
		s.logger.Error("no document to serve", "err", err)
		writeJSONError(w, http.StatusInternalServerError, errs.UserMessage(err))
	}
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeText(w, http.StatusForbidden, "ERROR: Invalid request")
		return
	}
	if err := s.refresher.Trigger(); err != nil {
		s.logger.Error("write trigger marker", "err", err)
		writeText(w, http.StatusInternalServerError, "ERROR: "+err.Error())
		return
	}
	s.logger.Info("reload triggered", "remote", r.RemoteAddr)
	writeText(w, http.StatusOK, "OK")
}

// authorized reports whether r carries the reload token.
func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return false
	}
	got := r.Header.Get(TokenHeader)
	if got == "" {
		got = r.URL.Query().Get(TokenParam)
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
