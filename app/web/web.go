// Package web implements the HTTP API for job applications
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"
	"github.com/rs/cors"

	"github.com/umputun/jobtrack/app/store"
)

// Server represents the web server
type Server struct {
	store      store.Store
	repeater   Repeater
	staticDir  string // directory with front-end files, empty to disable
	version    string
	writeLimit float64          // mutating requests per second per client ip, 0 to disable
	now        func() time.Time // clock for ids and timestamps
	writeMu    sync.Mutex       // serializes load-modify-save cycles
	metrics    *metrics
}

// Repeater retries a function, used for saving the collection
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Config holds server configuration
type Config struct {
	Store      store.Store
	Repeater   Repeater // optional, single attempt if nil
	StaticDir  string
	Version    string
	WriteLimit float64
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("web server initialization failed: store is required")
	}
	return &Server{
		store:      cfg.Store,
		repeater:   cfg.Repeater,
		staticDir:  cfg.StaticDir,
		version:    cfg.Version,
		writeLimit: cfg.WriteLimit,
		now:        time.Now,
		metrics:    newMetrics(),
	}, nil
}

// Run starts the web server and blocks until ctx is done
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s, store %s", address, s.store)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware - applied to all routes
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("jobtrack", "umputun", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(64*1024), // 64KB max request size
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
		s.metrics.middleware,
	)

	router.Handle("GET /metrics", s.metrics.handler())

	router.Mount("/api").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)

		api.HandleFunc("GET /jobs", s.handleListJobs)
		api.HandleFunc("GET /jobs/{id}", s.handleGetJob)
		api.HandleFunc("GET /stats/countries", s.handleCountryStats)
		api.HandleFunc("GET /schema/job", s.handleJobSchema)

		limited := api.With(s.writeLimiter())
		limited.HandleFunc("POST /jobs", s.handleCreateJob)
		limited.HandleFunc("PUT /jobs/{id}", s.handleUpdateJob)
		limited.HandleFunc("DELETE /jobs/{id}", s.handleDeleteJob)
	})

	if s.staticDir != "" {
		router.HandleFiles("/", http.Dir(s.staticDir))
	}

	// cors wraps the router so preflight requests are answered for any path
	return cors.AllowAll().Handler(router)
}

// writeLimiter makes per-ip rate limiting middleware for mutating endpoints
func (s *Server) writeLimiter() func(http.Handler) http.Handler {
	if s.writeLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	lmt := tollbooth.NewLimiter(s.writeLimit, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"}) // real ip already set by rest.RealIP
	lmt.SetMessageContentType("application/json")
	lmt.SetMessage(`{"error":"Too many requests"}`)
	return tollbooth.HTTPMiddleware(lmt)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, rest.JSON{"error": message})
}
