// Package server provides the HTTP surface of assistd: the authenticated
// chat endpoint, tool introspection and the lifecycle event stream.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/assistd/assistd/internal/auth"
	"github.com/assistd/assistd/internal/chat"
	"github.com/assistd/assistd/internal/event"
	"github.com/assistd/assistd/internal/logging"
	"github.com/assistd/assistd/internal/tool"
)

// Config holds server configuration.
type Config struct {
	Addr           string
	RequestTimeout time.Duration
	CORSOrigins    []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:           ":8080",
		RequestTimeout: 60 * time.Second,
		CORSOrigins:    []string{"http://localhost:3000"},
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   0, // no write timeout: responses stream
	}
}

// Server is the HTTP server.
type Server struct {
	config       *Config
	router       *chi.Mux
	httpSrv      *http.Server
	verifier     auth.Verifier
	orchestrator *chat.Orchestrator
	toolReg      *tool.Registry
	bus          *event.Bus
}

// New creates a Server with its dependencies injected.
func New(cfg *Config, verifier auth.Verifier, orchestrator *chat.Orchestrator, toolReg *tool.Registry, bus *event.Bus) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config:       cfg,
		router:       chi.NewRouter(),
		verifier:     verifier,
		orchestrator: orchestrator,
		toolReg:      toolReg,
		bus:          bus,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// requestLogger logs each request through the zerolog wrapper.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Info().
			Str("requestID", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Start runs the server until it fails or is shut down.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
