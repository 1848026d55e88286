// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

/*
Package api wires together the HTTP router, middleware chain, and all
domain handlers into a runnable [http.Server].

Architecture:

  - This package is the topmost Presentation layer boundary.
  - It acts as the central composition root for the HTTP transport framework (chi router).
  - Only this package and cmd/api are allowed to import net/http server primitives.
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fablio/fablio/internal/auth"
	"github.com/fablio/fablio/internal/book"
	"github.com/fablio/fablio/internal/cache"
	"github.com/fablio/fablio/internal/canary"
	"github.com/fablio/fablio/internal/description"
	"github.com/fablio/fablio/internal/flags"
	"github.com/fablio/fablio/internal/imagegen"
	"github.com/fablio/fablio/internal/parsing"
	"github.com/fablio/fablio/internal/platform/config"
	"github.com/fablio/fablio/internal/platform/constants"
	"github.com/fablio/fablio/internal/platform/middleware"
	"github.com/fablio/fablio/internal/progress"
)

// # Server Definitions

// Server wraps the chi router and the [http.Server].
//
// It is constructed once in main.go with all dependencies injected.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	log        *slog.Logger
}

// # Handler Registry

// Handlers groups all domain-specific HTTP handler sets.
//
// # Usage
//
// New domains add a field here — no other change to server.go is required
// beyond mounting the routes.
type Handlers struct {
	// Liveness is the /health handler — always returns 200 if process is alive.
	Liveness http.HandlerFunc

	// Readiness is the /ready handler — returns 200 when all deps are healthy.
	Readiness http.HandlerFunc

	// Auth handles registration, login, token refresh, logout, and /me.
	Auth *auth.Handler

	// Book handles uploads, the cached library, chapters, and covers.
	Book *book.Handler

	// Progress handles reading positions and sessions.
	Progress *progress.Handler

	// Parsing handles parse-job submission, cancellation, and status.
	Parsing *parsing.Handler

	// Description serves extracted visual descriptions per chapter.
	Description *description.Handler

	// Image handles illustration generation and listing.
	Image *imagegen.Handler

	// Flags is the admin feature-flag registry surface.
	Flags *flags.Handler

	// Canary is the admin rollout-controller surface.
	Canary *canary.Handler

	// CacheAdmin exposes cache statistics to operators.
	CacheAdmin *cache.Handler
}

// # Server Initialization

// NewServer constructs the chi router with the full middleware chain and
// registers all route groups.
func NewServer(
	lifecycle context.Context,
	cfg *config.Config,
	log *slog.Logger,
	verifier middleware.TokenVerifier,
	blacklist middleware.TokenBlacklist,
	h Handlers,
) *Server {
	r := chi.NewRouter()

	// # Middleware Chain
	// Global middleware applied in order of execution.
	r.Use(middleware.RequestID())
	r.Use(middleware.StructuredLogger(log))
	r.Use(chimw.Timeout(constants.GlobalRequestTimeout))
	r.Use(chimw.Throttle(cfg.WorkerMaxRequests))
	r.Use(middleware.RateLimit(lifecycle, cfg.RateLimitRPS, cfg.RateLimitBurst))
	r.Use(middleware.PanicRecovery(log))
	r.Use(middleware.Authenticate(verifier, blacklist))
	r.Use(middleware.CORS(cfg))
	r.Use(chimw.CleanPath)

	// # Infrastructure Endpoints
	// Unauthenticated health probes for container orchestration.
	r.Get("/health", h.Liveness)
	r.Get("/ready", h.Readiness)

	// # Application API
	// Domain-specific route groups mounted under versioned prefix.
	r.Route("/api/v1", func(api chi.Router) {
		api.Mount("/auth", h.Auth.Routes())

		// The book subtree is shared: library, parsing, progress,
		// descriptions, and images all hang off /books/{bookID}.
		api.Route("/books", func(books chi.Router) {
			books.Use(middleware.RequireAuth)
			h.Book.Register(books)
			h.Parsing.Register(books)
			h.Progress.Register(books)
			h.Description.Register(books)
			h.Image.Register(books)
		})

		api.Route("/descriptions", func(descriptions chi.Router) {
			descriptions.Use(middleware.RequireAuth)
			h.Image.RegisterDescriptions(descriptions)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(middleware.RequireAuth)
			admin.Use(middleware.RequireAdmin)
			admin.Mount("/feature-flags", h.Flags.Routes())
			admin.Mount("/canary", h.Canary.Routes())
			admin.Mount("/cache", h.CacheAdmin.Routes())
		})
	})

	return &Server{
		router: r,
		log:    log,
		httpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           r,
			ReadTimeout:       constants.DefaultReadTimeout,
			WriteTimeout:      time.Duration(cfg.WorkerTimeoutSeconds) * time.Second,
			IdleTimeout:       constants.DefaultIdleTimeout,
			ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
		},
	}
}

// # Server Lifecycle

// ListenAndServe starts the HTTP server.
//
// It blocks until the server is closed or an error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("server starting", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	context, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(context)
}
