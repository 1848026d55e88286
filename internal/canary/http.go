// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package canary

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fablio/fablio/internal/platform/middleware"
	"github.com/fablio/fablio/internal/platform/request"
	"github.com/fablio/fablio/internal/platform/respond"
	"github.com/fablio/fablio/internal/platform/validate"
	"github.com/fablio/fablio/pkg/convert"
)

// Handler implements the admin HTTP endpoints for the rollout controller.
//
// All routes are mounted behind [middleware.RequireAdmin] by the server.
type Handler struct {
	controller *Controller
}

// NewHandler constructs a new [Handler] with its controller dependency.
func NewHandler(controller *Controller) *Handler {
	return &Handler{controller: controller}
}

// Routes returns the admin canary routes.
//
// # Endpoints
//   - POST /advance  : Move to the next stage.
//   - POST /rollback : Move to an explicit stage.
//   - GET  /status   : Current stage, flag state, optional metrics.
//   - GET  /history  : Audit log, most-recent-first.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/advance", handler.advance)
	router.Post("/rollback", handler.rollback)
	router.Get("/status", handler.status)
	router.Get("/history", handler.history)

	return router
}

// transitionRequest is the JSON payload for advance and rollback.
type transitionRequest struct {
	TargetStage *int   `json:"target_stage,omitempty"` // rollback only
	Notes       string `json:"notes"`
}

// advance handles POST /api/v1/admin/canary/advance.
func (handler *Handler) advance(writer http.ResponseWriter, request *http.Request) {
	var input transitionRequest
	// The body is optional; an empty advance carries no notes.
	_ = requestutil.DecodeJSON(request, &input)

	record, err := handler.controller.Advance(request.Context(), operatorID(request), input.Notes)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, record)
}

// rollback handles POST /api/v1/admin/canary/rollback.
func (handler *Handler) rollback(writer http.ResponseWriter, request *http.Request) {
	var input transitionRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if input.TargetStage == nil {
		respond.Error(writer, request, validate.RequiredError("target_stage", "is required"))
		return
	}

	record, err := handler.controller.Rollback(
		request.Context(),
		Stage(*input.TargetStage),
		operatorID(request),
		input.Notes,
	)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, record)
}

// status handles GET /api/v1/admin/canary/status.
func (handler *Handler) status(writer http.ResponseWriter, request *http.Request) {
	respond.OK(writer, handler.controller.Report(request.Context()))
}

// history handles GET /api/v1/admin/canary/history?limit=N.
func (handler *Handler) history(writer http.ResponseWriter, request *http.Request) {
	limit := convert.ToIntD(request.URL.Query().Get("limit"), 50)
	if limit <= 0 {
		limit = 50
	}

	records, err := handler.controller.History(request.Context(), limit)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, records)
}

// operatorID resolves the acting admin for the audit trail.
func operatorID(request *http.Request) string {
	if claims := middleware.GetUser(request.Context()); claims != nil {
		return claims.Email
	}
	return "unknown"
}
