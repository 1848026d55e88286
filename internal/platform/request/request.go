// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

// Package requestutil decodes HTTP request bodies into typed inputs.
//
// Every JSON endpoint funnels through [DecodeJSON] so malformed bodies
// surface the same validation error regardless of handler.
package requestutil

import (
	"encoding/json"
	"net/http"

	"github.com/fablio/fablio/internal/platform/validate"
)

// DecodeJSON decodes the request body into target. A body that is not valid
// JSON for the target yields [validate.ErrInvalidJSON]; handlers for
// optional-body endpoints ignore the error and keep their zero-value input.
func DecodeJSON(request *http.Request, target any) error {
	if err := json.NewDecoder(request.Body).Decode(target); err != nil {
		return validate.ErrInvalidJSON
	}
	return nil
}
