// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

/*
Package canary implements the gradual rollout controller for the v2
description pipeline.

Each user is assigned deterministically to the legacy or v2 cohort by bucket
hashing: the first 8 bytes of SHA-256(userID) modulo 100 yield a stable
bucket in [0,100), and a user is in the v2 cohort when their bucket falls
below the current rollout percentage. Because buckets are stable, every stage
advance strictly grows the cohort (5% ⊂ 25% ⊂ 50% ⊂ 100%) and no user ever
flaps between pipelines without a stage change.

The USE_NEW_NLP_ARCHITECTURE feature flag gates the whole mechanism: when
disabled, every user resolves to legacy regardless of stage. Admins can
therefore park the rollout at stage 4 and still revert instantly by flipping
the flag.

Every stage transition appends an immutable audit record; the current stage
is the most recent record.
*/
package canary

import "time"

// Stage is one of the five enumerated rollout steps.
type Stage int

// The enumerated stage walk. Only these percentages exist; requests for
// intermediate values are rejected.
const (
	StageOff     Stage = 0 // 0%
	StageCanary  Stage = 1 // 5%
	StageQuarter Stage = 2 // 25%
	StageHalf    Stage = 3 // 50%
	StageFull    Stage = 4 // 100%
)

// stagePercents maps each stage to its rollout percentage.
var stagePercents = [...]int{0, 5, 25, 50, 100}

// Percent returns the rollout percentage for the stage.
func (s Stage) Percent() int {
	if !s.Valid() {
		return 0
	}
	return stagePercents[s]
}

// Valid reports whether the stage is in the enumerated set.
func (s Stage) Valid() bool {
	return s >= StageOff && s <= StageFull
}

// StageRecord is one immutable audit entry of the rollout history.
//
// IDs are assigned by a monotonic sequence, so ordering by ID equals
// ordering by commit time and readers of "current stage" always observe the
// latest committed record.
type StageRecord struct {
	ID             int64     `json:"id"`
	Stage          Stage     `json:"stage"`
	RolloutPercent int       `json:"rollout_percent"`
	UpdatedAt      time.Time `json:"updated_at"`
	UpdatedBy      string    `json:"updated_by"`
	Notes          string    `json:"notes"`
}

// Status is the operator-facing snapshot of the rollout.
type Status struct {
	Stage          Stage          `json:"stage"`
	RolloutPercent int            `json:"rollout_percent"`
	FlagEnabled    bool           `json:"flag_enabled"`
	UpdatedAt      time.Time      `json:"updated_at"`
	UpdatedBy      string         `json:"updated_by"`
	Metrics        map[string]any `json:"metrics,omitempty"`
}
