// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package canary

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fablio/fablio/internal/flags"
	"github.com/fablio/fablio/internal/platform/apperr"
)

// FlagSource is the slice of the feature-flag registry the controller needs.
type FlagSource interface {
	IsEnabled(ctx context.Context, name string, fallback bool) bool
}

// MetricsSource optionally supplies pipeline quality metrics for the status
// endpoint. Nil is a valid value (no metrics section in status output).
type MetricsSource interface {
	Snapshot(ctx context.Context) map[string]any
}

// Controller assigns users to pipeline cohorts and walks the stage ladder.
//
// # Per-process caches
//
// Both the current stage and cohort decisions are memoized per process and
// cleared on every stage change. Across processes they are eventually
// consistent, which callers tolerate by contract.
type Controller struct {
	repository Repository
	flagSource FlagSource
	metrics    MetricsSource
	logger     *slog.Logger

	mu      sync.RWMutex
	current StageRecord
	cohorts map[string]bool
}

// NewController loads (or seeds) the current stage and returns the controller.
//
// On a fresh install the history is empty; defaultStage seeds the first audit
// record so the current stage is always readable.
func NewController(
	ctx context.Context,
	repository Repository,
	flagSource FlagSource,
	metrics MetricsSource,
	defaultStage Stage,
	logger *slog.Logger,
) (*Controller, error) {
	controller := &Controller{
		repository: repository,
		flagSource: flagSource,
		metrics:    metrics,
		logger:     logger,
		cohorts:    make(map[string]bool),
	}

	latest, err := repository.Latest(ctx)
	if err != nil {
		if apperr.As(err) == nil {
			return nil, fmt.Errorf("canary_load_stage_failed: %w", err)
		}

		// Empty history: seed the configured default stage.
		seeded := &StageRecord{
			Stage:          defaultStage,
			RolloutPercent: defaultStage.Percent(),
			UpdatedBy:      "system",
			Notes:          "initial stage seeded at startup",
		}
		if err := repository.Append(ctx, seeded); err != nil {
			return nil, fmt.Errorf("canary_seed_stage_failed: %w", err)
		}
		latest = seeded
	}

	controller.current = *latest
	logger.Info("canary_controller_ready",
		slog.Int("stage", int(latest.Stage)),
		slog.Int("rollout_percent", latest.RolloutPercent),
	)

	return controller, nil
}

// HashBucket maps a user ID to a stable bucket in [0,100).
//
// The first 8 bytes of SHA-256(userID), read big-endian, modulo 100. Pure:
// no randomness, no time dependency, so cohort membership is stable across
// calls and processes.
func HashBucket(userID string) int {
	digest := sha256.Sum256([]byte(userID))
	return int(binary.BigEndian.Uint64(digest[:8]) % 100)
}

// UseV2 reports whether the user is in the v2 pipeline cohort.
//
// The feature flag dominates: when USE_NEW_NLP_ARCHITECTURE is off, every
// user resolves to legacy regardless of stage. Decisions are memoized per
// process until the next stage change.
func (controller *Controller) UseV2(ctx context.Context, userID string) bool {
	if !controller.flagSource.IsEnabled(ctx, flags.FlagUseNewNLPArchitecture, false) {
		return false
	}

	controller.mu.RLock()
	decision, cached := controller.cohorts[userID]
	percent := controller.current.RolloutPercent
	controller.mu.RUnlock()
	if cached {
		return decision
	}

	decision = HashBucket(userID) < percent

	controller.mu.Lock()
	controller.cohorts[userID] = decision
	controller.mu.Unlock()

	return decision
}

// CurrentStage returns the in-memory view of the latest committed record.
func (controller *Controller) CurrentStage() StageRecord {
	controller.mu.RLock()
	defer controller.mu.RUnlock()
	return controller.current
}

// Advance moves the rollout to the next stage.
//
// It is an error at stage 4: there is nothing beyond 100%.
func (controller *Controller) Advance(ctx context.Context, updatedBy, notes string) (*StageRecord, error) {
	controller.mu.RLock()
	current := controller.current.Stage
	controller.mu.RUnlock()

	if current >= StageFull {
		return nil, apperr.Conflict("Rollout is already at 100%").WithCode("canary_at_final_stage")
	}

	return controller.transition(ctx, current+1, updatedBy, notes)
}

// Rollback moves the rollout to the target stage.
//
// Any stage in [0,4] is accepted, including targets above the current stage:
// that is logged as a warning but not rejected, so an operator can repair a
// mis-recorded state without fighting the controller.
func (controller *Controller) Rollback(ctx context.Context, target Stage, updatedBy, notes string) (*StageRecord, error) {
	if !target.Valid() {
		return nil, apperr.ValidationError("Stage must be between 0 and 4").WithCode("invalid_field")
	}

	controller.mu.RLock()
	current := controller.current.Stage
	controller.mu.RUnlock()

	if target > current {
		controller.logger.Warn("canary_rollback_above_current",
			slog.Int("current", int(current)),
			slog.Int("target", int(target)),
			slog.String("updated_by", updatedBy),
		)
	}

	return controller.transition(ctx, target, updatedBy, notes)
}

// transition appends the audit record and resets the per-process caches.
func (controller *Controller) transition(ctx context.Context, next Stage, updatedBy, notes string) (*StageRecord, error) {
	record := &StageRecord{
		Stage:          next,
		RolloutPercent: next.Percent(),
		UpdatedBy:      updatedBy,
		Notes:          notes,
	}

	if err := controller.repository.Append(ctx, record); err != nil {
		return nil, fmt.Errorf("canary_transition_failed: %w", err)
	}

	// The cohort cache must be dropped on every stage change so the next
	// UseV2 call recomputes against the new percentage.
	controller.mu.Lock()
	controller.current = *record
	controller.cohorts = make(map[string]bool)
	controller.mu.Unlock()

	controller.logger.Info("canary_stage_changed",
		slog.Int("stage", int(record.Stage)),
		slog.Int("rollout_percent", record.RolloutPercent),
		slog.String("updated_by", updatedBy),
	)

	return record, nil
}

// History returns the audit log most-recent-first.
func (controller *Controller) History(ctx context.Context, limit int) ([]StageRecord, error) {
	return controller.repository.History(ctx, limit)
}

// Report assembles the operator status snapshot.
func (controller *Controller) Report(ctx context.Context) Status {
	current := controller.CurrentStage()

	status := Status{
		Stage:          current.Stage,
		RolloutPercent: current.RolloutPercent,
		FlagEnabled:    controller.flagSource.IsEnabled(ctx, flags.FlagUseNewNLPArchitecture, false),
		UpdatedAt:      current.UpdatedAt,
		UpdatedBy:      current.UpdatedBy,
	}

	if controller.metrics != nil {
		status.Metrics = controller.metrics.Snapshot(ctx)
	}

	return status
}
