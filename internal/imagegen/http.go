// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package imagegen

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fablio/fablio/internal/platform/middleware"
	"github.com/fablio/fablio/internal/platform/request"
	"github.com/fablio/fablio/internal/platform/respond"
)

// Handler implements the HTTP layer for illustration generation.
type Handler struct {
	service *Service
}

// NewHandler constructs a new imagegen [Handler].
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the book-scoped image endpoints onto the shared /books
// router.
func (handler *Handler) Register(router chi.Router) {
	router.Post("/{bookID}/images/batch", handler.generateBatch)
	router.Get("/{bookID}/images", handler.listForBook)
}

// RegisterDescriptions mounts the single-generation endpoint onto the
// /descriptions router.
func (handler *Handler) RegisterDescriptions(router chi.Router) {
	router.Post("/{descriptionID}/image", handler.generate)
}

// generate handles POST /api/v1/descriptions/{descriptionID}/image.
func (handler *Handler) generate(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	image, err := handler.service.Generate(request.Context(), claims.UserID, chi.URLParam(request, "descriptionID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, image)
}

// batchRequest bounds a batch run; count defaults server-side when omitted.
type batchRequest struct {
	Count int `json:"count"`
}

// generateBatch handles POST /api/v1/books/{bookID}/images/batch.
func (handler *Handler) generateBatch(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	body := batchRequest{Count: 5}
	_ = requestutil.DecodeJSON(request, &body) // empty body keeps defaults

	result, err := handler.service.GenerateBatch(request.Context(), claims.UserID, chi.URLParam(request, "bookID"), body.Count)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, result)
}

// listForBook handles GET /api/v1/books/{bookID}/images.
func (handler *Handler) listForBook(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	images, err := handler.service.ListForBook(request.Context(), claims.UserID, chi.URLParam(request, "bookID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]any{
		"items": images,
		"total": len(images),
	})
}
