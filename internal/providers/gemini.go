// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/semaphore"
	"google.golang.org/genai"

	"github.com/fablio/fablio/internal/description"
)

// # System Instructions
//
// Both variants demand a bare JSON array so the response parses without
// prose stripping. The v2 instruction is the canary-gated rewrite: it walks
// the text twice (identify, then score) which measurably reduces hallucinated
// passages on long chapters.

const extractorSystemV1 = `You are a literary analysis engine. Find passages in the
given chapter text that describe something visual: a place, a person, or a mood
or atmosphere. Respond with a JSON array only, no prose. Each element:
{"type": "location"|"character"|"atmosphere", "content": "<the descriptive passage>",
"context": "<one sentence of surrounding context>", "confidence_score": 0.0-1.0,
"priority_score": 0-100, "position_in_chapter": <approximate character offset>,
"word_count": <words in content>, "entities_mentioned": ["<names>"]}.
Return [] when nothing qualifies.`

const extractorSystemV2 = `You are a literary analysis engine. Work in two passes over
the given chapter text. Pass one: list every candidate passage that paints a concrete
visual picture of a place, a person, or an atmosphere; ignore dialogue, action, and
abstract narration. Pass two: for each candidate, verify the passage is present
verbatim in the text, then score it. Respond with a JSON array only, no prose. Each
element: {"type": "location"|"character"|"atmosphere", "content": "<the descriptive
passage>", "context": "<one sentence of surrounding context>",
"confidence_score": 0.0-1.0, "priority_score": 0-100,
"position_in_chapter": <approximate character offset>, "word_count": <words in
content>, "entities_mentioned": ["<names>"]}.
Return [] when nothing qualifies.`

// textInvoker is the seam between the adapter logic and the genai transport.
type textInvoker interface {
	invoke(ctx context.Context, system, prompt string, jsonOutput bool) (string, error)
}

// genaiText is the production invoker over the shared client.
type genaiText struct {
	client *genai.Client
	model  string
}

func (g *genaiText) invoke(ctx context.Context, system, prompt string, jsonOutput bool) (string, error) {
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if jsonOutput {
		config.ResponseMIMEType = "application/json"
	}

	response, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return "", err
	}
	return response.Text(), nil
}

// GeminiExtractor implements the description extractor over Gemini.
type GeminiExtractor struct {
	invoker  textInvoker
	settings Settings
	limiter  *semaphore.Weighted
	logger   *slog.Logger
}

// NewExtractor constructs the extractor over the shared genai client. The
// concurrency limiter spans all in-flight extraction calls of the process.
func NewExtractor(client *genai.Client, settings Settings, logger *slog.Logger) *GeminiExtractor {
	return &GeminiExtractor{
		invoker:  &genaiText{client: client, model: settings.TextModel},
		settings: settings,
		limiter:  semaphore.NewWeighted(max(settings.MaxConcurrent, 1)),
		logger:   logger,
	}
}

/*
Extract finds visual passages in chapter text.

Oversized text is chunked along natural boundaries with overlap, each chunk
extracted separately, and the merged results deduped — a passage that
straddles a chunk boundary appears in both chunks and survives once.
*/
func (extractor *GeminiExtractor) Extract(ctx context.Context, text string, useV2 bool) ([]description.Candidate, error) {
	system := extractorSystemV1
	if useV2 {
		system = extractorSystemV2
	}

	chunks := SplitText(text, extractor.settings.MaxChunkChars, extractor.settings.ChunkOverlapPct)

	merged := []description.Candidate{}
	seen := map[string]struct{}{}
	for index, chunk := range chunks {
		raw, err := extractor.call(ctx, system, chunk)
		if err != nil {
			return nil, err
		}

		candidates, err := parseCandidates(raw)
		if err != nil {
			extractor.logger.Warn("extractor_chunk_unparseable",
				slog.Int("chunk", index),
				slog.Any("error", err),
			)
			continue
		}

		for _, candidate := range candidates {
			key := description.DedupKey(candidate.Content)
			if _, duplicate := seen[key]; duplicate {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, candidate)
		}
	}

	return merged, nil
}

// call runs one model invocation under the concurrency limiter with the
// retry envelope. Each attempt gets a fresh per-call deadline.
func (extractor *GeminiExtractor) call(ctx context.Context, system, prompt string) (string, error) {
	if err := extractor.limiter.Acquire(ctx, 1); err != nil {
		return "", classify("extractor", err)
	}
	defer extractor.limiter.Release(1)

	raw, err := retry.DoWithData(
		func() (string, error) {
			callCtx, cancel := context.WithTimeout(ctx, extractor.settings.CallTimeout)
			defer cancel()
			return extractor.invoker.invoke(callCtx, system, prompt, true)
		},
		retry.RetryIf(isTransient),
		retry.Attempts(extractor.settings.RetryAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", classify("extractor", err)
	}
	return raw, nil
}

// parseCandidates decodes the model's JSON array, tolerating markdown fences
// some model revisions insist on.
func parseCandidates(raw string) ([]description.Candidate, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if trimmed == "" {
		return nil, nil
	}

	var candidates []description.Candidate
	if err := json.Unmarshal([]byte(trimmed), &candidates); err != nil {
		return nil, fmt.Errorf("extractor response is not a candidate array: %w", err)
	}
	return candidates, nil
}
