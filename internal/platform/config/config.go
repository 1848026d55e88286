// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (DB, Redis, adapters) via constructors.
  - Zero Hidden State: No global variables are used to store config.
  - Fail Fast: Unknown enum values and placeholder credentials are rejected at
    load time, never at first use.

This ensures the application is Twelve-Factor compliant by storing config in the env.
*/
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// Config holds all runtime configuration for the Fablio API server.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Request worker budget. WorkerCount bounds batch image-generation
	// concurrency, WorkerTimeoutSeconds is the HTTP write budget, and
	// WorkerMaxRequests caps concurrent in-flight requests.
	WorkerCount          int `env:"WORKER_COUNT"        envDefault:"4"`
	WorkerTimeoutSeconds int `env:"WORKER_TIMEOUT"      envDefault:"120"`
	WorkerMaxRequests    int `env:"WORKER_MAX_REQUESTS" envDefault:"1000"`

	// Relational Database (PostgreSQL)
	DatabaseURL        string `env:"DATABASE_URL,required"`
	DBPoolSize         int    `env:"DB_POOL_SIZE"    envDefault:"25"`
	DBMaxOverflow      int    `env:"DB_MAX_OVERFLOW" envDefault:"10"`
	DBPoolRecycleSecs  int    `env:"DB_POOL_RECYCLE" envDefault:"1800"`
	DBPoolTimeoutSecs  int    `env:"DB_POOL_TIMEOUT" envDefault:"30"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Cache (Redis)
	CacheURL            string `env:"CACHE_URL,required"`
	CacheMaxConnections int    `env:"CACHE_MAX_CONNECTIONS" envDefault:"50"`
	CacheDefaultTTLSecs int    `env:"CACHE_DEFAULT_TTL"     envDefault:"3600"`

	// Cryptographic keys for identity signing
	JWTPrivKeyPath string `env:"JWT_PRIVATE_KEY_PATH,required"`
	JWTPubKeyPath  string `env:"JWT_PUBLIC_KEY_PATH,required"`

	// TokenBlacklistFailClosed flips the blacklist availability trade-off:
	// when true, an unreachable blacklist store rejects tokens instead of
	// accepting them.
	TokenBlacklistFailClosed bool `env:"TOKEN_BLACKLIST_FAIL_CLOSED" envDefault:"false"`

	// Parsing queue
	ParserMaxConcurrent int `env:"PARSER_MAX_CONCURRENT" envDefault:"3"`
	ParserLeaseSeconds  int `env:"PARSER_LEASE_SECONDS"  envDefault:"1800"`
	ParserRetryAttempts int `env:"PARSER_RETRY_ATTEMPTS" envDefault:"3"`

	// Gemini description extraction
	GeminiAPIKey       string  `env:"GEMINI_API_KEY"`
	LLMModelID         string  `env:"LLM_MODEL_ID"          envDefault:"gemini-2.0-flash"`
	LLMMaxChunkChars   int     `env:"LLM_MAX_CHUNK_CHARS"   envDefault:"8000"`
	LLMChunkOverlapPct int     `env:"LLM_CHUNK_OVERLAP_PCT" envDefault:"10"`
	LLMMinConfidence   float64 `env:"LLM_MIN_CONFIDENCE"    envDefault:"0.4"`
	LLMMaxConcurrent   int     `env:"LLM_MAX_CONCURRENT"    envDefault:"8"`

	// Imagen image generation
	ImagenModel          string `env:"IMAGEN_MODEL"           envDefault:"imagen-3.0-generate-002"`
	ImagenAspectRatio    string `env:"IMAGEN_ASPECT_RATIO"    envDefault:"1:1"`
	ImagenSafetyLevel    string `env:"IMAGEN_SAFETY_LEVEL"    envDefault:"block_medium_and_above"`
	ImagenTimeoutSeconds int    `env:"IMAGEN_TIMEOUT_SECONDS" envDefault:"60"`

	// Canary rollout
	CanaryDefaultStage int `env:"CANARY_DEFAULT_STAGE" envDefault:"0"`

	// Upload handling and filesystem layout
	UploadMaxBytes int64  `env:"UPLOAD_MAX_BYTES" envDefault:"52428800"`
	StorageRoot    string `env:"STORAGE_ROOT"     envDefault:"storage"`

	// Rate limiting
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS"   envDefault:"100"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"150"`

	// Cross-Origin Resource Sharing
	ExtraOrigins string `env:"EXTRA_ORIGINS"`
}

// placeholderCredentials are values that indicate a copy-pasted template env.
// The bootstrap refuses to start with any of these outside development.
var placeholderCredentials = []string{
	"changeme",
	"placeholder",
	"your-api-key",
	"xxx",
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct and validates
// cross-field rules.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate enforces enum membership and credential hygiene.
func (c *Config) validate() error {
	switch c.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("config: unknown ENVIRONMENT %q", c.Environment)
	}

	if c.CanaryDefaultStage < 0 || c.CanaryDefaultStage > 4 {
		return fmt.Errorf("config: CANARY_DEFAULT_STAGE must be in [0,4], got %d", c.CanaryDefaultStage)
	}

	if c.LLMChunkOverlapPct < 0 || c.LLMChunkOverlapPct > 50 {
		return fmt.Errorf("config: LLM_CHUNK_OVERLAP_PCT must be in [0,50], got %d", c.LLMChunkOverlapPct)
	}

	if c.IsDevelopment() {
		return nil
	}

	// Outside development every credential must be real. A missing Gemini key
	// disables the pipeline loudly at startup rather than quietly at runtime.
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("config: GEMINI_API_KEY is required in %s", c.Environment)
	}
	for name, value := range map[string]string{
		"DATABASE_URL":   c.DatabaseURL,
		"CACHE_URL":      c.CacheURL,
		"GEMINI_API_KEY": c.GeminiAPIKey,
	} {
		lowered := strings.ToLower(value)
		for _, placeholder := range placeholderCredentials {
			if strings.Contains(lowered, placeholder) {
				return fmt.Errorf("config: %s contains placeholder credential %q", name, placeholder)
			}
		}
	}

	return nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// AllowedOrigins returns the extra CORS origins configured via EXTRA_ORIGINS
// (comma-separated).
func (c *Config) AllowedOrigins() []string {
	if c.ExtraOrigins == "" {
		return nil
	}
	parts := strings.Split(c.ExtraOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
