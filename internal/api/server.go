// Package api provides the HTTP API of the catalog emulator: documents with
// live streams, accounts and tokens, and binary assets.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/heybooks/heybooks-sync/internal/assets"
	"github.com/heybooks/heybooks-sync/internal/auth"
	"github.com/heybooks/heybooks-sync/internal/docstore"
)

// Pinger reports whether a backing database is reachable.
type Pinger interface {
	Ping() error
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Docs     docstore.Backend
	Auth     *auth.Service
	Accounts *auth.AccountStore
	Files    *assets.FileStore
	// DocsHealth is optional; without it the document store is reported healthy.
	DocsHealth Pinger
	// AuthRate is the sustained auth requests per minute allowed per client IP.
	AuthRate int
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	docs       docstore.Backend
	auth       *auth.Service
	accounts   *auth.AccountStore
	files      *assets.FileStore
	docsHealth Pinger

	router          *chi.Mux
	api             huma.API
	logger          *slog.Logger
	authRateLimiter *RateLimiter
	uploadLimiter   *RateLimiter
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	authRate := deps.AuthRate
	if authRate <= 0 {
		authRate = 20
	}

	s := &Server{
		docs:            deps.Docs,
		auth:            deps.Auth,
		accounts:        deps.Accounts,
		files:           deps.Files,
		docsHealth:      deps.DocsHealth,
		router:          chi.NewRouter(),
		logger:          logger,
		authRateLimiter: NewRateLimiter(authRate, time.Minute, authRate),
		uploadLimiter:   NewRateLimiter(60, time.Minute, 30),
	}

	s.setupMiddleware()

	humaConfig := huma.DefaultConfig("HeyBooks Catalog Emulator", "1.0.0")
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "PASETO",
		},
	}
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.registerHealthRoutes()
	s.registerAuthRoutes()
	s.registerDocRoutes()
	s.registerAssetRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background limiter cleanup.
func (s *Server) Close() {
	s.authRateLimiter.Stop()
	s.uploadLimiter.Stop()
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-None-Match"},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	s.router.Use(s.requestLogger)
	s.router.Use(authMiddleware(s.auth))
}

// requestLogger logs one line per request through slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
