// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

/*
Package flags implements the feature flag registry.

The persistent store is the source of truth. A per-process in-memory cache
sits in front of it and is invalidated on every successful mutation, so a
reader in the same process observes its own writes. When neither cache nor
store can answer, resolution falls back to an environment variable and
finally to the caller-provided default.

# Resolution Order

 1. In-process cache.
 2. Persistent store (upon hit, populate cache and return).
 3. Environment value (truthy: true|1|yes|on, falsy: false|0|no|off,
    case-insensitive; anything else falls through). Env answers are never
    cached, so a later DB insert immediately dominates.
 4. Caller default.
*/
package flags

import "time"

// Category groups flags by the subsystem they gate.
type Category string

const (
	CategoryPipeline Category = "pipeline" // Parsing and generation pipeline toggles.
	CategoryUI       Category = "ui"       // Client-facing presentation toggles.
	CategoryOps      Category = "ops"      // Operational kill switches.
)

// Flag is a named boolean toggle persisted in the database of record.
type Flag struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Enabled      bool      `json:"enabled"`
	Category     Category  `json:"category"`
	Description  string    `json:"description"`
	DefaultValue bool      `json:"default_value"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Flag names wired into the core. Callers reference these constants rather
// than repeating the strings.
const (
	// FlagUseNewNLPArchitecture gates the v2 description pipeline; the canary
	// controller consults it before any cohort math.
	FlagUseNewNLPArchitecture = "USE_NEW_NLP_ARCHITECTURE"

	// FlagImageGenerationEnabled is the kill switch for Imagen calls.
	FlagImageGenerationEnabled = "IMAGE_GENERATION_ENABLED"

	// FlagParsingEnabled is the kill switch for new parsing submissions.
	FlagParsingEnabled = "PARSING_ENABLED"

	// FlagNewReaderUI gates the redesigned reader client.
	FlagNewReaderUI = "NEW_READER_UI"
)

// DefaultFlags is the known set seeded by [Service.Initialize]. Each entry is
// inserted only when no row with that name exists yet.
var DefaultFlags = []Flag{
	{
		Name:         FlagUseNewNLPArchitecture,
		Enabled:      false,
		Category:     CategoryPipeline,
		Description:  "Route description extraction through the v2 pipeline for canary cohorts",
		DefaultValue: false,
	},
	{
		Name:         FlagImageGenerationEnabled,
		Enabled:      true,
		Category:     CategoryPipeline,
		Description:  "Allow Imagen illustration generation",
		DefaultValue: true,
	},
	{
		Name:         FlagParsingEnabled,
		Enabled:      true,
		Category:     CategoryPipeline,
		Description:  "Accept new book parsing submissions",
		DefaultValue: true,
	},
	{
		Name:         FlagNewReaderUI,
		Enabled:      false,
		Category:     CategoryUI,
		Description:  "Serve the redesigned reader interface",
		DefaultValue: false,
	},
}
