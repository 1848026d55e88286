// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

/*
Package providers holds the adapters for Google's generative models: the
Gemini description extractor, the Imagen illustration generator, and the
Gemini prompt translator.

# Contract

Adapters are stateless translators between domain types and the model API.
They hold no authoritative data: every failure surfaces as an [apperr]
instance from a small taxonomy (unavailable, timeout, retries exhausted) and
the caller decides what it means for the pipeline. Transient upstream
failures (429, 5xx, deadline) are retried with exponential backoff before
giving up; anything else fails fast.
*/
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/fablio/fablio/internal/platform/apperr"
)

// Settings carries the model configuration shared by the adapters.
type Settings struct {
	TextModel  string
	ImageModel string

	MaxChunkChars   int
	ChunkOverlapPct int
	MaxConcurrent   int64
	RetryAttempts   uint

	CallTimeout  time.Duration
	ImageTimeout time.Duration

	AspectRatio string
	SafetyLevel string
}

// NewClient constructs the shared genai client from an API key.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("providers: Gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("providers: failed to create genai client: %w", err)
	}
	return client, nil
}

// isTransient reports whether an upstream failure is worth retrying:
// rate limiting, server-side errors, and deadline expiry.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return false
}

// classify maps an exhausted or failed upstream call onto the adapter error
// taxonomy. The prefix is "extractor" or "generator".
func classify(prefix string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.UpstreamTimeout("The "+prefix+" did not answer in time").
			WithCode(prefix + "_timeout").WithCause(err)
	case isTransient(err):
		return apperr.Upstream("The "+prefix+" kept failing after retries").
			WithCode(prefix + "_retries_exhausted").WithCause(err)
	default:
		return apperr.Upstream("The " + prefix + " rejected the request").
			WithCode(prefix + "_unavailable").WithCause(err)
	}
}
