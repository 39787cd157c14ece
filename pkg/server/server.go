// Package server exposes scans, resolution and upgrades over HTTP.
//
// Routes:
//
//	GET  /healthz            build information
//	POST /api/v1/scans       {"package", "range"} -> scan report
//	POST /api/v1/resolve     {"lockfile", "package", "path"} -> resolved dependency
//	POST /api/v1/upgrades    {"lockfile", "package", "version"} -> lockfile edit
//
// Errors are JSON objects {"error": {"code", "message"}} with a status code
// derived from the error code.
package server

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/lockcheck/pkg/lockfile"
	"github.com/matzehuels/lockcheck/pkg/scan"
	"github.com/matzehuels/lockcheck/pkg/upgrade"
	"github.com/matzehuels/lockcheck/pkg/workspace"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Scanner runs dependency scans.
type Scanner interface {
	Scan(ctx context.Context, name, versionRange string) (*scan.Report, error)
}

// Planner plans lockfile upgrades.
type Planner interface {
	PlanUpgrade(ctx context.Context, pkg scan.PackageJSONPackage, dep lockfile.Dependency) (*upgrade.Edit, error)
}

// Options configures a [Server].
type Options struct {
	Scanner   Scanner
	Fetcher   workspace.Fetcher
	Planner   Planner
	Traversal lockfile.Traversal
	Logger    *log.Logger
}

// Server is the HTTP API.
type Server struct {
	scanner   Scanner
	fetcher   workspace.Fetcher
	planner   Planner
	traversal lockfile.Traversal
	logger    *log.Logger
	router    chi.Router
}

// New creates a server. A nil Planner disables the upgrade route.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	s := &Server{
		scanner:   opts.Scanner,
		fetcher:   opts.Fetcher,
		planner:   opts.Planner,
		traversal: opts.Traversal,
		logger:    opts.Logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scans", s.handleScan)
		r.Post("/resolve", s.handleResolve)
		if s.planner != nil {
			r.Post("/upgrades", s.handleUpgrade)
		}
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
