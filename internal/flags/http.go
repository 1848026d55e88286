// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package flags

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fablio/fablio/internal/platform/request"
	"github.com/fablio/fablio/internal/platform/respond"
	"github.com/fablio/fablio/internal/platform/validate"
)

// Handler implements the admin HTTP endpoints for the flag registry.
//
// All routes are mounted behind [middleware.RequireAdmin] by the server.
type Handler struct {
	service *Service
}

// NewHandler constructs a new [Handler] with its service dependency.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the admin flag routes.
//
// # Endpoints
//   - GET  /            : List all flags.
//   - PUT  /{name}      : Set one flag.
//   - POST /bulk        : Apply many flags; per-flag result map.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/", handler.list)
	router.Put("/{name}", handler.set)
	router.Post("/bulk", handler.bulk)

	return router
}

// list handles GET /api/v1/admin/feature-flags.
func (handler *Handler) list(writer http.ResponseWriter, request *http.Request) {
	all, err := handler.service.List(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, all)
}

// setFlagRequest is the JSON payload for a single flag update.
type setFlagRequest struct {
	Enabled bool `json:"enabled"`
}

// set handles PUT /api/v1/admin/feature-flags/{name}.
func (handler *Handler) set(writer http.ResponseWriter, request *http.Request) {
	name := chi.URLParam(request, "name")
	if name == "" {
		respond.Error(writer, request, validate.RequiredError("name", "is required"))
		return
	}

	var input setFlagRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	flag, err := handler.service.SetFlag(request.Context(), name, input.Enabled)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, flag)
}

// bulk handles POST /api/v1/admin/feature-flags/bulk.
//
// The response maps each flag name to whether its update succeeded; a partial
// failure is a 200 with false entries, not an error.
func (handler *Handler) bulk(writer http.ResponseWriter, request *http.Request) {
	var updates map[string]bool
	if err := requestutil.DecodeJSON(request, &updates); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if len(updates) == 0 {
		respond.Error(writer, request, validate.RequiredError("flags", "at least one flag is required"))
		return
	}

	respond.OK(writer, handler.service.BulkUpdate(request.Context(), updates))
}
