// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package sec

import "github.com/fablio/fablio/internal/platform/constants"

// # Subscription Tiers

// SubscriptionTier represents the paid plan attached to an account. It drives
// parsing-queue priority and future feature gating.
type SubscriptionTier string

const (
	// Default plan for standard registered users
	TierFree SubscriptionTier = "free"

	// Paid plan with elevated parsing priority
	TierPremium SubscriptionTier = "premium"

	// Top plan with the highest parsing priority
	TierUltimate SubscriptionTier = "ultimate"
)

// ParseTier normalizes a stored tier string, defaulting unknown values to free.
func ParseTier(raw string) SubscriptionTier {
	switch SubscriptionTier(raw) {
	case TierPremium:
		return TierPremium
	case TierUltimate:
		return TierUltimate
	default:
		return TierFree
	}
}

// # Queue Priority

// QueuePriority maps a tier to its parsing-queue priority. Larger wins.
func (t SubscriptionTier) QueuePriority() int {
	switch t {
	case TierUltimate:
		return constants.PriorityUltimate
	case TierPremium:
		return constants.PriorityPremium
	default:
		return constants.PriorityFree
	}
}
