// Package web implements the http server exposing the job registry
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"
	"github.com/rs/cors"

	"github.com/umputun/jobboard/app/registry"
	"github.com/umputun/jobboard/app/sysinfo"
)

const defaultSizeLimit = 1024 * 1024

// Server represents the web server
type Server struct {
	registry  Registry
	listener  JobListener
	hostStats StatsProvider
	version   string
	rateLimit float64 // POST /jobs requests per second per client, 0 disables
	sizeLimit int64   // max request body size
	startedAt time.Time
	schemas   map[string]any // json schemas of api documents, built once
}

// Registry defines job storage operations used by the server
type Registry interface {
	Add(job registry.Job) (registry.Job, error)
	List() []registry.Job
	Len() int
}

// JobListener is notified after a job is added. Implementations must not block.
type JobListener interface {
	OnJobAdded(job registry.Job)
}

// StatsProvider returns host metrics for the status endpoint
type StatsProvider interface {
	Collect() sysinfo.Stats
}

// Config holds server configuration
type Config struct {
	Registry  Registry      // required
	Listener  JobListener   // optional, notified on each added job
	HostStats StatsProvider // optional, host section of status response
	Version   string
	RateLimit float64 // POST /jobs requests per second per client, 0 disables
	SizeLimit int64   // max request body size, defaults to 1MB
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("web server initialization failed: registry is required")
	}

	sizeLimit := cfg.SizeLimit
	if sizeLimit <= 0 {
		sizeLimit = defaultSizeLimit
	}

	return &Server{
		registry:  cfg.Registry,
		listener:  cfg.Listener,
		hostStats: cfg.HostStats,
		version:   cfg.Version,
		rateLimit: cfg.RateLimit,
		sizeLimit: sizeLimit,
		startedAt: time.Now(),
		schemas:   apiSchemas(),
	}, nil
}

// Run starts the web server and blocks until ctx is canceled and all in-flight requests are done
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	// ListenAndServe returns as soon as shutdown starts, in-flight handlers may still run
	<-shutdownDone
	return nil
}

// handler returns the http.Handler with cors applied to all routes, including preflight requests
func (s *Server) handler() http.Handler {
	return cors.AllowAll().Handler(s.routes())
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("jobboard", "umputun", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(s.sizeLimit),
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	router.HandleFunc("GET /jobs", s.handleListJobs)
	if s.rateLimit > 0 {
		router.With(tollbooth.HTTPMiddleware(s.addLimiter())).HandleFunc("POST /jobs", s.handleAddJob)
	} else {
		router.HandleFunc("POST /jobs", s.handleAddJob)
	}

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)
		api.HandleFunc("GET /status", s.handleStatus)
		api.HandleFunc("GET /schema", s.handleSchema)
	})

	return router
}

// addLimiter makes per-client rate limiter for job inserts
func (s *Server) addLimiter() *limiter.Limiter {
	lmt := tollbooth.NewLimiter(s.rateLimit, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"}) // RemoteAddr already set by rest.RealIP
	lmt.SetMessage(`{"error":"rate limit exceeded"}`)
	lmt.SetMessageContentType("application/json")
	return lmt
}
