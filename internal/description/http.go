// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package description

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fablio/fablio/internal/platform/middleware"
	"github.com/fablio/fablio/internal/platform/respond"
	"github.com/fablio/fablio/internal/platform/validate"
)

// Handler implements the HTTP layer for stored descriptions.
type Handler struct {
	service *Service
}

// NewHandler constructs a new description [Handler].
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the description read endpoint onto the shared /books
// router.
func (handler *Handler) Register(router chi.Router) {
	router.Get("/{bookID}/chapters/{number}/descriptions", handler.listForChapter)
}

// listForChapter handles GET /api/v1/books/{bookID}/chapters/{number}/descriptions.
func (handler *Handler) listForChapter(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	number, err := strconv.Atoi(chi.URLParam(request, "number"))
	if err != nil {
		respond.Error(writer, request, validate.RequiredError("number", "must be an integer"))
		return
	}

	descriptions, err := handler.service.ListForChapter(
		request.Context(), claims.UserID, chi.URLParam(request, "bookID"), number)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]any{
		"items": descriptions,
		"total": len(descriptions),
	})
}
