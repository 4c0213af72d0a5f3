// Package server exposes the runner over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/michaelbrown/crucible/internal/execution"
	"github.com/michaelbrown/crucible/internal/history"
	"github.com/michaelbrown/crucible/internal/report"
)

// Executor runs one request. *runner.Runner satisfies it.
type Executor interface {
	Run(ctx context.Context, req execution.Request) (report.Result, error)
}

// Options tunes a Server.
type Options struct {
	// MaxParallel bounds concurrently executing runs. Values below 1 mean 1.
	MaxParallel int
	Logger      *slog.Logger
}

// Server is the HTTP front end for the runner.
type Server struct {
	exec   Executor
	store  history.Store
	logger *slog.Logger
	slots  chan struct{}
	active *ActiveRuns
	router chi.Router
	http   *http.Server
}

// New creates a Server. store may be nil, in which case the history routes
// answer 501.
func New(exec Executor, store history.Store, opts Options) *Server {
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		exec:   exec,
		store:  store,
		logger: opts.Logger,
		slots:  make(chan struct{}, opts.MaxParallel),
		active: NewActiveRuns(),
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		// upgrade requests must not get a JSON content type
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(jsonContentType)

			r.Post("/run", s.handleRun)

			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{id}", s.handleGetRun)
			r.Delete("/runs/{id}", s.handleDeleteRun)
		})
	})
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// acquire takes an execution slot, waiting until one frees up or ctx ends.
func (s *Server) acquire(ctx context.Context) (release func(), err error) {
	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("server starting", slog.String("addr", "http://localhost"+addr))
	return s.http.ListenAndServe()
}

// Shutdown cancels in-flight runs and stops the listener. Runs still remove
// their projects before their handlers return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server", slog.Int("active_runs", s.active.Len()))
	s.active.CloseAll()

	if s.http == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
