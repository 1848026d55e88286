// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package flags

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fablio/fablio/pkg/uuidv7"
)

// Service resolves and mutates feature flags.
//
// # Consistency
//
// The in-memory cache is per-process and eventually consistent across
// processes: a flag flipped on one instance reaches the others on their next
// cache miss. Callers tolerate this small drift by contract.
type Service struct {
	repository Repository
	logger     *slog.Logger

	// lookupEnv is swappable for tests; defaults to os.LookupEnv.
	lookupEnv func(string) (string, bool)

	mu    sync.RWMutex
	cache map[string]bool
}

// NewService constructs the registry with its persistent store.
func NewService(repository Repository, logger *slog.Logger) *Service {
	return &Service{
		repository: repository,
		logger:     logger,
		lookupEnv:  os.LookupEnv,
		cache:      make(map[string]bool),
	}
}

// WithEnvLookup overrides the environment source. Intended for tests.
func (service *Service) WithEnvLookup(lookup func(string) (string, bool)) *Service {
	service.lookupEnv = lookup
	return service
}

// Initialize seeds the known default flags, inserting only those that do not
// exist yet. It is idempotent and safe to run on every startup.
func (service *Service) Initialize(ctx context.Context) error {
	for _, def := range DefaultFlags {
		flag := def
		flag.ID = uuidv7.New()

		inserted, err := service.repository.InsertIfAbsent(ctx, &flag)
		if err != nil {
			return fmt.Errorf("flags_initialize_failed: %w", err)
		}
		if inserted {
			service.logger.Info("feature_flag_seeded",
				slog.String("name", flag.Name),
				slog.Bool("enabled", flag.Enabled),
			)
		}
	}
	return nil
}

// IsEnabled resolves a flag following the documented order: cache, store,
// environment, caller default. Read paths never fail: store errors degrade
// to the environment and then the default.
func (service *Service) IsEnabled(ctx context.Context, name string, fallback bool) bool {
	// 1. In-process cache.
	service.mu.RLock()
	cached, ok := service.cache[name]
	service.mu.RUnlock()
	if ok {
		return cached
	}

	// 2. Persistent store. A DB hit always dominates the environment.
	flag, err := service.repository.FindByName(ctx, name)
	if err == nil {
		service.mu.Lock()
		service.cache[name] = flag.Enabled
		service.mu.Unlock()
		return flag.Enabled
	}

	// 3. Environment fallback. Never cached: a later DB insert must win
	// immediately, and env values cannot be invalidated.
	if raw, found := service.lookupEnv(name); found {
		if value, ok := parseBoolToken(raw); ok {
			return value
		}
	}

	// 4. Caller default.
	return fallback
}

// parseBoolToken interprets the enumerated truthy/falsy tokens. Unknown
// tokens report !ok so resolution falls through to the default.
func parseBoolToken(raw string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// Get returns the full persisted flag row.
func (service *Service) Get(ctx context.Context, name string) (*Flag, error) {
	return service.repository.FindByName(ctx, name)
}

// List returns every persisted flag.
func (service *Service) List(ctx context.Context) ([]Flag, error) {
	return service.repository.List(ctx)
}

// SetFlag writes the flag to the store of record and invalidates the cache
// entry, giving read-your-writes within the process. Mutation failures
// propagate to the caller.
func (service *Service) SetFlag(ctx context.Context, name string, enabled bool) (*Flag, error) {
	flag, err := service.repository.FindByName(ctx, name)
	if err != nil {
		// Setting an unknown flag creates it in the ops category.
		flag = &Flag{
			ID:           uuidv7.New(),
			Name:         name,
			Category:     CategoryOps,
			DefaultValue: false,
		}
	}
	flag.Enabled = enabled

	if err := service.repository.Upsert(ctx, flag); err != nil {
		return nil, fmt.Errorf("flags_set_failed: %w", err)
	}

	service.mu.Lock()
	delete(service.cache, name)
	service.mu.Unlock()

	service.logger.Info("feature_flag_updated",
		slog.String("name", name),
		slog.Bool("enabled", enabled),
	)
	return flag, nil
}

// BulkUpdate applies each flag independently and reports per-flag success.
// The cache is cleared once at the end, so a concurrent reader may observe
// intermediate states only until that final clear propagates.
func (service *Service) BulkUpdate(ctx context.Context, updates map[string]bool) map[string]bool {
	results := make(map[string]bool, len(updates))

	for name, enabled := range updates {
		flag, err := service.repository.FindByName(ctx, name)
		if err != nil {
			flag = &Flag{
				ID:           uuidv7.New(),
				Name:         name,
				Category:     CategoryOps,
				DefaultValue: false,
			}
		}
		flag.Enabled = enabled

		if err := service.repository.Upsert(ctx, flag); err != nil {
			service.logger.Warn("feature_flag_bulk_item_failed",
				slog.String("name", name),
				slog.Any("error", err),
			)
			results[name] = false
			continue
		}
		results[name] = true
	}

	service.mu.Lock()
	service.cache = make(map[string]bool)
	service.mu.Unlock()

	return results
}

// InvalidateCache drops the whole in-process cache. The canary controller
// calls this on stage changes so cohort decisions recompute against fresh
// flag state.
func (service *Service) InvalidateCache() {
	service.mu.Lock()
	service.cache = make(map[string]bool)
	service.mu.Unlock()
}
