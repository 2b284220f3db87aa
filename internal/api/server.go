// Package api provides the HTTP REST and SSE surface of the NebulaForge
// generation service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/nebulaforge/nebulaforge/internal/archive"
	"github.com/nebulaforge/nebulaforge/internal/core"
	"github.com/nebulaforge/nebulaforge/internal/logging"
	"github.com/nebulaforge/nebulaforge/internal/provider"
	"github.com/nebulaforge/nebulaforge/internal/ratelimit"
	"github.com/nebulaforge/nebulaforge/internal/workflow"
)

// Server exposes run management and generation over HTTP.
type Server struct {
	router chi.Router

	store     core.RunStore
	caller    workflow.Caller
	archiver  core.Archiver
	artifacts *archive.FSStore
	limiter   *ratelimit.Limiter
	logger    *logging.Logger

	webOrigin string

	// Settings that hot-reload picks up; new runs see the latest
	// values, in-flight runs keep the ones they started with.
	mu        sync.RWMutex
	chains    provider.Chains
	swarmMode bool
	maxIter   int
}

// Config assembles a server.
type Config struct {
	Store         core.RunStore
	Caller        workflow.Caller
	Chains        provider.Chains
	Archiver      core.Archiver
	Artifacts     *archive.FSStore
	Limiter       *ratelimit.Limiter
	Logger        *logging.Logger
	WebOrigin     string
	SwarmMode     bool
	MaxIterations int
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultRPM)
	}

	s := &Server{
		store:     cfg.Store,
		caller:    cfg.Caller,
		chains:    cfg.Chains,
		archiver:  cfg.Archiver,
		artifacts: cfg.Artifacts,
		limiter:   limiter,
		logger:    logger,
		webOrigin: cfg.WebOrigin,
		swarmMode: cfg.SwarmMode,
		maxIter:   cfg.MaxIterations,
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ApplySettings swaps the model chains, swarm mode and iteration cap
// used for new runs. Called by the config hot-reload path.
func (s *Server) ApplySettings(chains provider.Chains, swarmMode bool, maxIterations int) {
	s.mu.Lock()
	s.chains = chains
	s.swarmMode = swarmMode
	s.maxIter = maxIterations
	s.mu.Unlock()
	s.logger.Info("generation settings updated",
		"swarm_mode", swarmMode, "max_iterations", maxIterations)
}

// settings returns the current chains, swarm mode and iteration cap.
func (s *Server) settings() (provider.Chains, bool, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chains, s.swarmMode, s.maxIter
}

// setupRouter configures the Chi router with all routes and middleware.
// No global timeout middleware: the generate endpoint streams SSE for
// the lifetime of a run, which can exceed any sane request deadline.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{s.webOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)

			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Delete("/", s.handleDeleteRun)
				r.Get("/files", s.handleGetRunFiles)
				r.Put("/files", s.handleUpdateRunFiles)
				r.Get("/artifact", s.handleGetArtifact)
			})
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps a domain error onto an HTTP status and a
// structured error body carrying the domain code.
func respondDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch core.GetCategory(err) {
	case core.ErrCatValidation:
		status = http.StatusBadRequest
	case core.ErrCatNotFound:
		status = http.StatusNotFound
	case core.ErrCatRateLimit:
		status = http.StatusTooManyRequests
	case core.ErrCatProvider, core.ErrCatGeneration:
		status = http.StatusBadGateway
	}

	body := map[string]string{"error": err.Error()}
	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		body["error"] = domErr.Message
		body["code"] = domErr.Code
	}
	respondJSON(w, status, body)
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe starts the HTTP server with graceful shutdown tied to
// the context.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
