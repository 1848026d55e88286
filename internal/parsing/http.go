// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package parsing

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fablio/fablio/internal/platform/middleware"
	"github.com/fablio/fablio/internal/platform/respond"
	"github.com/fablio/fablio/internal/platform/sec"
)

// Handler implements the HTTP layer for the parsing queue.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler constructs a new parsing [Handler].
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// Register mounts the parse-job endpoints onto the shared /books router.
//
// # Endpoints
//   - POST   /{bookID}/process        : Submit (idempotent for live jobs).
//   - DELETE /{bookID}/process        : Cancel a queued or processing job.
//   - GET    /{bookID}/parsing-status : Derived status view.
func (handler *Handler) Register(router chi.Router) {
	router.Post("/{bookID}/process", handler.submit)
	router.Delete("/{bookID}/process", handler.cancel)
	router.Get("/{bookID}/parsing-status", handler.status)
}

// submit handles POST /api/v1/books/{bookID}/process.
//
// Returns 202 Accepted with the resulting view: processing when admitted
// immediately, queued with placement otherwise. Resubmitting a live job
// returns its current view with an already_queued/already_processing
// condition instead of an error.
func (handler *Handler) submit(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	view, err := handler.coordinator.Submit(
		request.Context(),
		claims.UserID,
		chi.URLParam(request, "bookID"),
		sec.ParseTier(claims.Tier),
	)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.JSON(writer, http.StatusAccepted, respond.SuccessEnvelope{Data: view})
}

// cancel handles DELETE /api/v1/books/{bookID}/process.
func (handler *Handler) cancel(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	err := handler.coordinator.Cancel(request.Context(), claims.UserID, chi.URLParam(request, "bookID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// status handles GET /api/v1/books/{bookID}/parsing-status.
func (handler *Handler) status(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	view, err := handler.coordinator.GetStatus(request.Context(), claims.UserID, chi.URLParam(request, "bookID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, view)
}
