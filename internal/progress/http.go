// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package progress

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fablio/fablio/internal/platform/middleware"
	"github.com/fablio/fablio/internal/platform/request"
	"github.com/fablio/fablio/internal/platform/respond"
)

// Handler implements the HTTP layer for reading progress and sessions.
type Handler struct {
	service *Service
}

// NewHandler constructs a new progress [Handler] with its service dependency.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the progress endpoints onto the shared /books router,
// alongside the library routes.
//
// # Endpoints
//   - GET  /{bookID}/progress       : Cached reading position.
//   - POST /{bookID}/progress       : Position report upsert.
//   - POST /{bookID}/sessions/start : Open a reading sitting.
//   - POST /{bookID}/sessions/end   : Close the active sitting.
func (handler *Handler) Register(router chi.Router) {
	router.Get("/{bookID}/progress", handler.get)
	router.Post("/{bookID}/progress", handler.update)
	router.Post("/{bookID}/sessions/start", handler.startSession)
	router.Post("/{bookID}/sessions/end", handler.endSession)
}

// get handles GET /api/v1/books/{bookID}/progress.
func (handler *Handler) get(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	found, err := handler.service.Get(request.Context(), claims.UserID, chi.URLParam(request, "bookID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, found)
}

// update handles POST /api/v1/books/{bookID}/progress.
func (handler *Handler) update(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	var input UpdateInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	updated, err := handler.service.Update(request.Context(), claims.UserID, chi.URLParam(request, "bookID"), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, updated)
}

// sessionRequest carries the opaque position token for session boundaries.
type sessionRequest struct {
	Position string `json:"position"`
}

// startSession handles POST /api/v1/books/{bookID}/sessions/start.
func (handler *Handler) startSession(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	var body sessionRequest
	_ = requestutil.DecodeJSON(request, &body) // position is optional

	session, err := handler.service.StartSession(request.Context(), claims.UserID, chi.URLParam(request, "bookID"), body.Position)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, session)
}

// endSession handles POST /api/v1/books/{bookID}/sessions/end.
func (handler *Handler) endSession(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	var body sessionRequest
	_ = requestutil.DecodeJSON(request, &body)

	session, err := handler.service.EndSession(request.Context(), claims.UserID, chi.URLParam(request, "bookID"), body.Position)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, session)
}
