// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

/*
Package constants provides centralized, immutable values for the entire platform.

It defines default timeouts, rate limits, cache TTL classes, and cross-cutting
keys that are shared between different layers of the system.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the HTTP server.
  - Rate Limiting: Burst capacities and IP tracking TTLs.
  - Security: JWT issuers and cookie configuration.
  - Cache Taxonomy: TTL classes and Redis key prefixes.
  - Parsing: queue priorities and lease bounds.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the business logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "fablio-api"
	AppVersion = "0.1.0-dev"
)

// # Server Timing

const (
	// DefaultReadTimeout is the maximum duration for reading the entire request.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes of the response.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultIdleTimeout is the maximum amount of time to wait for the next request.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultReadHeaderTimeout is the amount of time allowed to read request headers.
	DefaultReadHeaderTimeout = 2 * time.Second

	// GlobalRequestTimeout is the deadline for the entire request lifecycle.
	GlobalRequestTimeout = 30 * time.Second

	// ShutdownTimeout is how long we wait for in-flight requests to complete during shutdown.
	ShutdownTimeout = 30 * time.Second
)

// # Rate Limiting

const (
	// DefaultRateLimitRPS is the requests per second allowed per IP.
	DefaultRateLimitRPS = 100.0

	// DefaultRateLimitBurst is the maximum burst allowed for the rate limiter.
	DefaultRateLimitBurst = 150

	// RateLimitCleanupInterval is how often old IP entries are removed from memory.
	RateLimitCleanupInterval = 1 * time.Minute

	// RateLimitClientTTL is how long a client must be idle before its entry is deleted.
	RateLimitClientTTL = 3 * time.Minute
)

// # Authentication

const (
	// AuthIssuer is the standard 'iss' claim in JWTs.
	AuthIssuer = "fablio.app"

	// AccessTokenTTL bounds the lifetime of access tokens.
	AccessTokenTTL = 15 * time.Minute

	// RefreshTokenTTL bounds the lifetime of refresh tokens.
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// # HTTP Headers

const (
	HeaderXRequestID    = "X-Request-ID"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderOrigin        = "Origin"
	HeaderAuthorization = "Authorization"
)

// # JSON Field Identifiers

const (
	FieldData    = "data"
	FieldMeta    = "meta"
	FieldError   = "error"
	FieldCode    = "code"
	FieldDetails = "details"
	FieldMessage = "message"
	FieldStatus  = "status"
	FieldApp     = "app"
	FieldVersion = "version"
	FieldChecks  = "checks"
)

// # Cache TTL Classes
//
// Book lists use a deliberately short TTL because parsing status changes
// rapidly while a book is being processed.

const (
	TTLBookMetadata     = 1 * time.Hour
	TTLBookChapters     = 1 * time.Hour
	TTLBookList         = 10 * time.Second
	TTLChapterContent   = 1 * time.Hour
	TTLUserProgress     = 5 * time.Minute
	TTLBookDescriptions = 1 * time.Hour
	TTLBookTOC          = 1 * time.Hour
)

// # Redis Prefixes (Cache Taxonomy)

const (
	RedisPrefixBlacklist = "auth:blacklist:"
	RedisPrefixParseLock = "lock:parse:"
)

// # Parsing Queue

const (
	// PriorityFree, PriorityPremium and PriorityUltimate order the parsing
	// queue by subscription tier. Larger wins.
	PriorityFree     = 1
	PriorityPremium  = 5
	PriorityUltimate = 10

	// AverageParseSeconds feeds the estimated-wait hint returned to queued
	// submitters. It is a heuristic, not a promise.
	AverageParseSeconds = 90

	// ReaperInterval is how often the coordinator checks processing jobs for
	// expired leases.
	ReaperInterval = 1 * time.Minute
)

// # Reading Metrics

const (
	// WordsPerPage converts chapter word counts into page estimates.
	WordsPerPage = 300

	// WordsPerMinute converts word counts into estimated reading minutes.
	WordsPerMinute = 200
)

// # External Adapters

const (
	// LLMCallTimeout bounds one extractor or translator model call. Image
	// generation has its own configurable bound (IMAGEN_TIMEOUT_SECONDS).
	LLMCallTimeout = 30 * time.Second
)

// # Image Generation

const (
	// PromptMaxChars caps generated image prompts (~480 tokens).
	PromptMaxChars = 1800

	// LocationFingerprintMaxChars bounds the opaque reader position string.
	LocationFingerprintMaxChars = 500
)
