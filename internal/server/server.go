// Package server provides the REST API server for the access policy
// engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/access-engine/go-core/internal/engine"
	"github.com/access-engine/go-core/internal/server/middleware"
)

// Server is the REST API server
type Server struct {
	engine         *engine.Engine
	router         *mux.Router
	httpServer     *http.Server
	logger         *zap.Logger
	config         Config
	startTime      time.Time
	authenticator  *middleware.Authenticator
	metricsHandler http.Handler
}

// Config configures the REST API server
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableCORS   bool
	EnableAuth   bool
	JWTSecret    string
	JWTIssuer    string
	Version      string
}

// DefaultConfig returns default REST server configuration
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
		EnableAuth:   false,
		Version:      "1.0.0",
	}
}

// Option adds optional collaborators to the server.
type Option func(*Server)

// WithMetricsHandler mounts a /metrics endpoint.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// New creates a new REST API server
func New(cfg Config, eng *engine.Engine, logger *zap.Logger, opts ...Option) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EnableAuth && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required when auth is enabled")
	}

	s := &Server{
		engine:    eng,
		router:    mux.NewRouter(),
		logger:    logger,
		config:    cfg,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.EnableAuth {
		s.authenticator = middleware.NewAuthenticator([]byte(cfg.JWTSecret), cfg.JWTIssuer, logger)
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s, nil
}

// registerRoutes registers all REST API routes
func (s *Server) registerRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}

	// Health and status endpoints (no auth required)
	s.router.HandleFunc("/health", s.healthCheckHandler).Methods("GET")
	s.router.HandleFunc("/v1/status", s.statusHandler).Methods("GET")
	if s.metricsHandler != nil {
		s.router.Handle("/metrics", s.metricsHandler).Methods("GET")
	}

	// Decision read is open to any caller holding network access.
	s.router.HandleFunc("/v1/decisions/check", s.decisionCheckHandler).Methods("POST")

	// Mutating routes carry bearer auth when enabled.
	mutating := s.router.PathPrefix("/v1").Subrouter()
	if s.config.EnableAuth && s.authenticator != nil {
		mutating.Use(func(next http.Handler) http.Handler {
			return s.authenticator.HTTPMiddleware(next)
		})
	}

	mutating.HandleFunc("/decisions", s.decisionSetHandler).Methods("PUT")
	mutating.HandleFunc("/lifecycle/users/{id:[0-9]+}", s.userAddedHandler).Methods("POST")
	mutating.HandleFunc("/lifecycle/users/{id:[0-9]+}", s.userRemovedHandler).Methods("DELETE")
	mutating.HandleFunc("/lifecycle/packages", s.packageAddedHandler).Methods("POST")
	mutating.HandleFunc("/lifecycle/packages/{name}", s.packageRemovedHandler).Methods("DELETE")
}

// Start starts the REST API server
func (s *Server) Start() error {
	s.logger.Info("starting REST API server",
		zap.Int("port", s.config.Port),
		zap.Bool("auth_enabled", s.config.EnableAuth),
		zap.Bool("cors_enabled", s.config.EnableCORS),
	)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the REST API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down REST API server")
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for tests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// recoveryMiddleware recovers from panics. Scheme registry misses and
// write-mode contract violations surface here as 500s while the panic
// itself is logged loudly.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				WriteError(w, http.StatusInternalServerError, "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// healthCheckHandler handles health check requests
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]interface{}{
		"engine": "ok",
	}
	if s.engine.GetCacheStats() != nil {
		checks["cache"] = "ok"
	}

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    checks,
	})
}

// statusHandler handles service status requests
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	state := s.engine.State()

	response := StatusResponse{
		Version:      s.config.Version,
		Uptime:       time.Since(s.startTime).String(),
		CacheEnabled: s.engine.GetCacheStats() != nil,
		ActiveUsers:  len(state.SystemState.UserIds),
		Packages:     len(state.SystemState.PackageStates),
		Timestamp:    time.Now(),
	}

	if stats := s.engine.GetCacheStats(); stats != nil {
		response.CacheStats = map[string]interface{}{
			"hits":    stats.Hits,
			"misses":  stats.Misses,
			"size":    stats.Size,
			"hitRate": stats.HitRate,
		}
	}

	WriteJSON(w, http.StatusOK, response)
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
