// Package difficulty derives generation parameters from a rolling model
// of player performance. One Manager instance lives for the application
// session and is passed to consumers explicitly.
package difficulty

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/adrifthq/adrift/internal/storage"
	"github.com/rs/zerolog"
)

const slotState = "game-difficulty-state"

// emaWeight is the weight given to each new sample; the remainder is
// retained from the running value.
const emaWeight = 0.3

// referenceActionMS normalizes action latency: at or beyond this, the
// time score bottoms out.
const referenceActionMS = 30000

// PerformanceMetrics is the rolling model of how the player is doing.
type PerformanceMetrics struct {
	SuccessRate          float64 `json:"successRate"`
	AverageTimePerAction float64 `json:"averageTimePerAction"`
	RiskTaken            float64 `json:"riskTaken"`
}

func neutralMetrics() PerformanceMetrics {
	return PerformanceMetrics{SuccessRate: 0.5, AverageTimePerAction: 0, RiskTaken: 0.5}
}

// State is the persisted controller state.
type State struct {
	Current            Level              `json:"current"`
	PreviousChoices    []string           `json:"previousChoices"`
	AdaptiveScore      float64            `json:"adaptiveScore"`
	PerformanceMetrics PerformanceMetrics `json:"performanceMetrics"`
}

// Outcome describes one recorded player action. Only present fields
// update the model.
type Outcome struct {
	Success      *bool
	ActionTimeMS *float64
	RiskLevel    *float64
}

// Manager owns the difficulty state for a session and persists it in
// the difficulty slot.
type Manager struct {
	slots  storage.SlotStore
	logger zerolog.Logger

	mu    sync.Mutex
	state State
}

// NewManager loads persisted state, falling back to adaptive defaults
// when the slot is missing or corrupt.
func NewManager(ctx context.Context, slots storage.SlotStore, logger zerolog.Logger) *Manager {
	m := &Manager{
		slots:  slots,
		logger: logger.With().Str("component", "difficulty").Logger(),
		state: State{
			Current:            LevelAdaptive,
			AdaptiveScore:      0,
			PerformanceMetrics: neutralMetrics(),
		},
	}

	stored, err := slots.Get(ctx, slotState)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Error().Err(err).Msg("Failed to load difficulty state")
		}
		return m
	}

	var state State
	if err := json.Unmarshal([]byte(stored), &state); err != nil {
		m.logger.Warn().Err(err).Msg("Corrupt difficulty state, using defaults")
		return m
	}
	state.Current = ParseLevel(string(state.Current))
	m.state = state
	return m
}

// Level returns the currently selected difficulty level.
func (m *Manager) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Current
}

// Metrics returns a copy of the current performance model.
func (m *Manager) Metrics() PerformanceMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.PerformanceMetrics
}

// AdaptiveScore returns the composite difficulty score. It is only
// meaningful while the level is adaptive.
func (m *Manager) AdaptiveScore() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AdaptiveScore
}

// SetLevel switches the difficulty level and discards the accumulated
// adaptation history: metrics return to neutral defaults and the choice
// history is cleared.
func (m *Manager) SetLevel(ctx context.Context, level Level) {
	m.mu.Lock()
	m.state.Current = level
	m.state.AdaptiveScore = 0
	m.state.PreviousChoices = nil
	m.state.PerformanceMetrics = neutralMetrics()
	m.mu.Unlock()
	m.persist(ctx)
}

// RecordChoice appends a player choice to the session history.
func (m *Manager) RecordChoice(ctx context.Context, choice string) {
	m.mu.Lock()
	m.state.PreviousChoices = append(m.state.PreviousChoices, choice)
	m.mu.Unlock()
	m.persist(ctx)
}

// Config returns the generation parameters for the current level. Fixed
// levels return their static table entry; adaptive interpolates
// narrative complexity, quick-action timeout and risk level from the
// performance model.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := baseConfig(m.state.Current)
	if m.state.Current != LevelAdaptive {
		return cfg
	}

	perf := m.state.PerformanceMetrics
	cfg.Narrative.Complexity = lerp(0.3, 0.9, perf.SuccessRate)

	timeScore := clamp01(1 - perf.AverageTimePerAction/referenceActionMS)
	cfg.QuickActions.TimeoutMS = lerp(30000, 15000, timeScore)

	cfg.QuickActions.RiskLevel = lerp(0.2, 0.8, perf.RiskTaken)

	return cfg
}

// RecordOutcome folds one action outcome into the performance model via
// an exponential moving average and recomputes the adaptive score.
func (m *Manager) RecordOutcome(ctx context.Context, outcome Outcome) {
	m.mu.Lock()
	perf := &m.state.PerformanceMetrics

	if outcome.Success != nil {
		sample := 0.0
		if *outcome.Success {
			sample = 1.0
		}
		perf.SuccessRate = perf.SuccessRate*(1-emaWeight) + sample*emaWeight
	}
	if outcome.ActionTimeMS != nil {
		perf.AverageTimePerAction = perf.AverageTimePerAction*(1-emaWeight) + *outcome.ActionTimeMS*emaWeight
	}
	if outcome.RiskLevel != nil {
		perf.RiskTaken = perf.RiskTaken*(1-emaWeight) + *outcome.RiskLevel*emaWeight
	}

	if m.state.Current == LevelAdaptive {
		m.state.AdaptiveScore = perf.SuccessRate*0.5 +
			perf.RiskTaken*0.3 +
			clamp01(1-perf.AverageTimePerAction/referenceActionMS)*0.2
	}
	m.mu.Unlock()
	m.persist(ctx)
}

func (m *Manager) persist(ctx context.Context) {
	m.mu.Lock()
	data, err := json.Marshal(m.state)
	m.mu.Unlock()
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to marshal difficulty state")
		return
	}
	if err := m.slots.Put(ctx, slotState, string(data)); err != nil {
		m.logger.Error().Err(err).Msg("Failed to persist difficulty state")
	}
}

// lerp interpolates between a and b, clamping t to [0,1] first.
func lerp(a, b, t float64) float64 {
	return a + (b-a)*clamp01(t)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
