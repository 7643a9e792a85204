// Package quota holds the pure decision functions gating generation
// calls: per-operation token costs, affordability checks and the daily
// reset rule. Nothing in here performs I/O.
package quota

import (
	"math"
	"time"

	"github.com/adrifthq/adrift/internal/storage"
)

// Operation names an action with a fixed token cost.
type Operation string

const (
	OpAntiCheat        Operation = "ANTI_CHEAT"
	OpStoryResponse    Operation = "STORY_RESPONSE"
	OpQuickActions     Operation = "QUICK_ACTIONS"
	OpPromptGeneration Operation = "PROMPT_GENERATION"
	OpInitialPrompt    Operation = "INITIAL_PROMPT"
)

// MinimumRequired is the global floor: no operation runs with fewer
// remaining tokens than this, regardless of its own cost.
const MinimumRequired = 100

var costs = map[Operation]int{
	OpAntiCheat:        150,
	OpStoryResponse:    250,
	OpQuickActions:     100,
	OpPromptGeneration: 150,
	OpInitialPrompt:    200,
}

// Cost returns the fixed token cost of an operation, or zero for an
// unknown operation.
func Cost(op Operation) int {
	return costs[op]
}

// IsAffordable reports whether the remaining allowance covers the
// operation's cost, subject to the MinimumRequired floor.
func IsAffordable(usage storage.UsageRecord, op Operation) bool {
	required := Cost(op)
	if required < MinimumRequired {
		required = MinimumRequired
	}
	return usage.Limit-usage.Used >= required
}

// ShouldReset reports whether a record's allowance is due for renewal.
// Two conditions are checked and either one triggers: more than 24 hours
// elapsed since lastReset, or the UTC calendar day rolled over. Near
// midnight the two can disagree; the disjunction is the defined
// behavior.
func ShouldReset(lastReset, now time.Time) bool {
	if now.Sub(lastReset) > 24*time.Hour {
		return true
	}
	return lastReset.UTC().Day() != now.UTC().Day()
}

// SanitizeTokens coerces a raw token count to a usable non-negative
// integer. Non-finite and negative inputs become zero.
func SanitizeTokens(tokens float64) int {
	if math.IsNaN(tokens) || math.IsInf(tokens, 0) || tokens < 0 {
		return 0
	}
	return int(math.Floor(tokens))
}
