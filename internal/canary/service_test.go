// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package canary_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablio/fablio/internal/canary"
	"github.com/fablio/fablio/internal/platform/apperr"
)

// ── Fakes ───────────────────────────────────────────────────────────────────

type fakeRepository struct {
	mu      sync.Mutex
	records []canary.StageRecord
	nextID  int64
}

func (repo *fakeRepository) Append(_ context.Context, record *canary.StageRecord) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.nextID++
	record.ID = repo.nextID
	repo.records = append(repo.records, *record)
	return nil
}

func (repo *fakeRepository) Latest(_ context.Context) (*canary.StageRecord, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.records) == 0 {
		return nil, apperr.NotFound("Canary stage history")
	}
	latest := repo.records[len(repo.records)-1]
	return &latest, nil
}

func (repo *fakeRepository) History(_ context.Context, limit int) ([]canary.StageRecord, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	var result []canary.StageRecord
	for i := len(repo.records) - 1; i >= 0; i-- {
		result = append(result, repo.records[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

type fakeFlags struct {
	enabled bool
}

func (flags *fakeFlags) IsEnabled(context.Context, string, bool) bool {
	return flags.enabled
}

func newController(t *testing.T, stage canary.Stage, flagOn bool) (*canary.Controller, *fakeRepository) {
	t.Helper()
	repo := &fakeRepository{}
	controller, err := canary.NewController(
		context.Background(),
		repo,
		&fakeFlags{enabled: flagOn},
		nil,
		stage,
		slog.New(slog.DiscardHandler),
	)
	require.NoError(t, err)
	return controller, repo
}

// ── Bucket hashing ──────────────────────────────────────────────────────────

func TestHashBucket_DeterministicAndInRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		userID := fmt.Sprintf("user-%d", i)
		first := canary.HashBucket(userID)
		second := canary.HashBucket(userID)

		assert.Equal(t, first, second, "bucket must be stable for %s", userID)
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 100)
	}
}

func TestHashBucket_HitRateNearFivePercent(t *testing.T) {
	const population = 10_000

	hits := 0
	for i := 0; i < population; i++ {
		if canary.HashBucket(fmt.Sprintf("user-%d", i)) < 5 {
			hits++
		}
	}

	rate := float64(hits) / population
	assert.InDelta(t, 0.05, rate, 0.01, "5%% stage should capture roughly 5%% of users, got %.2f%%", rate*100)
}

func TestUseV2_CohortGrowsMonotonically(t *testing.T) {
	ctx := context.Background()
	controller, _ := newController(t, canary.StageCanary, true)

	inAtFive := make(map[string]bool)
	for i := 0; i < 2000; i++ {
		userID := fmt.Sprintf("user-%d", i)
		inAtFive[userID] = controller.UseV2(ctx, userID)
	}

	_, err := controller.Advance(ctx, "admin@fablio.app", "widen to 25%")
	require.NoError(t, err)

	// Every user in at 5% must still be in at 25%.
	for userID, wasIn := range inAtFive {
		if wasIn {
			assert.True(t, controller.UseV2(ctx, userID), "%s dropped out of cohort on advance", userID)
		}
	}
}

// ── Cohort gating ───────────────────────────────────────────────────────────

func TestUseV2_FlagDominatesStage(t *testing.T) {
	ctx := context.Background()
	controller, _ := newController(t, canary.StageFull, false)

	for i := 0; i < 100; i++ {
		assert.False(t, controller.UseV2(ctx, fmt.Sprintf("user-%d", i)),
			"disabled flag must force legacy even at 100%%")
	}
}

func TestUseV2_CohortCacheClearedOnTransition(t *testing.T) {
	ctx := context.Background()
	controller, _ := newController(t, canary.StageFull, true)

	const userID = "user-cache-reset"
	require.True(t, controller.UseV2(ctx, userID), "everyone is in at 100%%")

	_, err := controller.Rollback(ctx, canary.StageOff, "admin@fablio.app", "incident rollback")
	require.NoError(t, err)

	assert.False(t, controller.UseV2(ctx, userID),
		"memoized decision must be recomputed after a stage change")
}

// ── Stage walk ──────────────────────────────────────────────────────────────

func TestAdvance_WalksTheLadderAndStopsAtFull(t *testing.T) {
	ctx := context.Background()
	controller, _ := newController(t, canary.StageOff, true)

	expectedPercents := []int{5, 25, 50, 100}
	for _, percent := range expectedPercents {
		record, err := controller.Advance(ctx, "admin@fablio.app", "")
		require.NoError(t, err)
		assert.Equal(t, percent, record.RolloutPercent)
	}

	_, err := controller.Advance(ctx, "admin@fablio.app", "")
	require.Error(t, err)
	appErr := apperr.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "canary_at_final_stage", appErr.Code)
}

func TestRollback_RejectsOutOfRangeStages(t *testing.T) {
	ctx := context.Background()
	controller, _ := newController(t, canary.StageHalf, true)

	for _, target := range []canary.Stage{-1, 5, 42} {
		_, err := controller.Rollback(ctx, target, "admin@fablio.app", "")
		require.Error(t, err, "stage %d must be rejected", target)
		appErr := apperr.As(err)
		require.NotNil(t, appErr)
		assert.Equal(t, "invalid_field", appErr.Code)
	}

	// Current stage is untouched by rejected rollbacks.
	assert.Equal(t, canary.StageHalf, controller.CurrentStage().Stage)
}

func TestRollback_AllowsTargetAboveCurrent(t *testing.T) {
	ctx := context.Background()
	controller, _ := newController(t, canary.StageCanary, true)

	record, err := controller.Rollback(ctx, canary.StageHalf, "admin@fablio.app", "repair recorded state")
	require.NoError(t, err)
	assert.Equal(t, canary.StageHalf, record.Stage)
	assert.Equal(t, 50, record.RolloutPercent)
}

// ── History and seeding ─────────────────────────────────────────────────────

func TestHistory_MostRecentFirst(t *testing.T) {
	ctx := context.Background()
	controller, _ := newController(t, canary.StageOff, true)

	_, err := controller.Advance(ctx, "admin@fablio.app", "start canary")
	require.NoError(t, err)
	_, err = controller.Advance(ctx, "admin@fablio.app", "widen")
	require.NoError(t, err)
	_, err = controller.Rollback(ctx, canary.StageOff, "admin@fablio.app", "regression found")
	require.NoError(t, err)

	records, err := controller.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 4) // seed + 2 advances + 1 rollback

	assert.Equal(t, canary.StageOff, records[0].Stage)
	assert.Equal(t, "regression found", records[0].Notes)
	assert.Equal(t, canary.StageQuarter, records[1].Stage)
	assert.Equal(t, canary.StageCanary, records[2].Stage)
	assert.Equal(t, "system", records[3].UpdatedBy)

	limited, err := controller.History(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestNewController_SeedsEmptyHistory(t *testing.T) {
	controller, repo := newController(t, canary.StageCanary, true)

	require.Len(t, repo.records, 1)
	assert.Equal(t, canary.StageCanary, repo.records[0].Stage)
	assert.Equal(t, "system", repo.records[0].UpdatedBy)
	assert.Equal(t, canary.StageCanary, controller.CurrentStage().Stage)
	assert.Equal(t, 5, controller.CurrentStage().RolloutPercent)
}

func TestNewController_ResumesFromLatestRecord(t *testing.T) {
	repo := &fakeRepository{}
	require.NoError(t, repo.Append(context.Background(), &canary.StageRecord{
		Stage:          canary.StageHalf,
		RolloutPercent: 50,
		UpdatedBy:      "admin@fablio.app",
	}))

	controller, err := canary.NewController(
		context.Background(),
		repo,
		&fakeFlags{enabled: true},
		nil,
		canary.StageOff,
		slog.New(slog.DiscardHandler),
	)
	require.NoError(t, err)

	assert.Equal(t, canary.StageHalf, controller.CurrentStage().Stage)
	assert.Len(t, repo.records, 1, "existing history must not be re-seeded")
}

func TestReport_IncludesFlagState(t *testing.T) {
	controller, _ := newController(t, canary.StageQuarter, true)

	status := controller.Report(context.Background())
	assert.Equal(t, canary.StageQuarter, status.Stage)
	assert.Equal(t, 25, status.RolloutPercent)
	assert.True(t, status.FlagEnabled)
	assert.Nil(t, status.Metrics)
}
