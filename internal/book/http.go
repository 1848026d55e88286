// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

// HTTP delivery layer for the library domain.
//
// # Architecture
//
// Handlers translate between the multipart/JSON web layer and the domain
// [Service]. Every route requires an authenticated user; the owner scope of
// each call is the caller's identity, never a request parameter.
package book

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fablio/fablio/internal/platform/middleware"
	"github.com/fablio/fablio/internal/platform/respond"
	"github.com/fablio/fablio/internal/platform/validate"
	"github.com/fablio/fablio/pkg/pagination"
)

// Handler implements the HTTP layer for library management and reading.
type Handler struct {
	service *Service
}

// NewHandler constructs a new library [Handler] with its service dependency.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the library endpoints onto the shared /books router. The
// parsing, progress, and image domains mount their own routes under the same
// subtree, so this takes the router instead of returning one.
//
// # Endpoints
//   - POST   /upload                      : Multipart book ingestion.
//   - GET    /                            : Cached, sorted library page.
//   - GET    /{bookID}                    : Cached book detail.
//   - DELETE /{bookID}                    : Cascade delete.
//   - GET    /{bookID}/chapters           : Cached table of contents.
//   - GET    /{bookID}/chapters/{number}  : Cached chapter content.
//   - GET    /{bookID}/cover              : Cover image stream.
func (handler *Handler) Register(router chi.Router) {
	router.Post("/upload", handler.upload)
	router.Get("/", handler.list)
	router.Get("/{bookID}", handler.get)
	router.Delete("/{bookID}", handler.delete)
	router.Get("/{bookID}/chapters", handler.listChapters)
	router.Get("/{bookID}/chapters/{number}", handler.getChapter)
	router.Get("/{bookID}/cover", handler.cover)
}

// upload handles POST /api/v1/books/upload.
//
// # Request (multipart/form-data)
//   - file  : the EPUB or FB2 file (required)
//   - genre : optional genre tag; defaults to "other"
//
// # Returns
//   - HTTP 201 Created with the parsed book.
//   - HTTP 400 with unsupported_format, file_too_large, empty_file, or
//     corrupted depending on what was wrong with the upload.
func (handler *Handler) upload(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	file, header, err := request.FormFile("file")
	if err != nil {
		respond.Error(writer, request, validate.RequiredError("file", "is required"))
		return
	}
	defer file.Close()

	uploaded, err := handler.service.Upload(request.Context(), claims.UserID, UploadInput{
		FileName: header.Filename,
		Size:     header.Size,
		Genre:    request.FormValue("genre"),
		File:     file,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, uploaded)
}

// list handles GET /api/v1/books?skip=N&limit=M&sort=K.
func (handler *Handler) list(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())
	query := request.URL.Query()

	options := ListOptions{
		Skip:  parseNonNegative(query.Get("skip"), 0),
		Limit: parseNonNegative(query.Get("limit"), 50),
		Sort:  query.Get("sort"),
	}
	if options.Limit > pagination.MaxLimit {
		options.Limit = pagination.MaxLimit
	}

	items, total, err := handler.service.List(request.Context(), claims.UserID, options)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]any{
		"items": items,
		"total": total,
		"skip":  options.Skip,
		"limit": options.Limit,
	})
}

// get handles GET /api/v1/books/{bookID}.
func (handler *Handler) get(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	found, err := handler.service.Get(request.Context(), claims.UserID, chi.URLParam(request, "bookID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, found)
}

// delete handles DELETE /api/v1/books/{bookID}.
func (handler *Handler) delete(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	if err := handler.service.Delete(request.Context(), claims.UserID, chi.URLParam(request, "bookID")); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// listChapters handles GET /api/v1/books/{bookID}/chapters.
func (handler *Handler) listChapters(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	entries, err := handler.service.GetTOC(request.Context(), claims.UserID, chi.URLParam(request, "bookID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, entries)
}

// getChapter handles GET /api/v1/books/{bookID}/chapters/{number}.
func (handler *Handler) getChapter(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	number, err := strconv.Atoi(chi.URLParam(request, "number"))
	if err != nil {
		respond.Error(writer, request, validate.RequiredError("number", "must be an integer"))
		return
	}

	chapter, err := handler.service.GetChapter(request.Context(), claims.UserID, chi.URLParam(request, "bookID"), number)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, chapter)
}

// cover handles GET /api/v1/books/{bookID}/cover, streaming the JPEG.
func (handler *Handler) cover(writer http.ResponseWriter, request *http.Request) {
	claims := middleware.GetUser(request.Context())

	file, err := handler.service.OpenCover(request.Context(), claims.UserID, chi.URLParam(request, "bookID"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	defer file.Close()

	writer.Header().Set("Content-Type", "image/jpeg")
	writer.Header().Set("Cache-Control", "private, max-age=86400")
	_, _ = io.Copy(writer, file)
}

// parseNonNegative parses a query integer, falling back on bad or negative
// input.
func parseNonNegative(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
