// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package cache

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fablio/fablio/internal/platform/respond"
)

// Handler exposes the cache observability endpoint.
//
// All routes are mounted behind [middleware.RequireAdmin] by the server.
type Handler struct {
	cache *Cache
}

// NewHandler constructs a new cache [Handler].
func NewHandler(cache *Cache) *Handler {
	return &Handler{cache: cache}
}

// Routes returns the admin cache routes.
//
// # Endpoints
//   - GET /stats : Availability flag plus hit/miss/error counters.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Get("/stats", handler.stats)
	return router
}

// stats handles GET /api/v1/admin/cache/stats.
func (handler *Handler) stats(writer http.ResponseWriter, request *http.Request) {
	respond.OK(writer, handler.cache.Stats(request.Context()))
}
