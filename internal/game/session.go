// Package game runs a token-metered interactive fiction session: prompt
// generation, story turns, quick action suggestions and input validation,
// all gated on the daily token quota.
package game

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/adrifthq/adrift/internal/difficulty"
	"github.com/adrifthq/adrift/internal/gateway"
	"github.com/adrifthq/adrift/internal/metrics"
	"github.com/adrifthq/adrift/internal/quota"
)

const (
	victoryPhrase = "You have successfully completed your quest"
	defeatPhrase  = "You have ultimately failed in your quest"

	// defaultPrompt keeps the game playable when prompt generation is
	// unavailable or unaffordable.
	defaultPrompt = "A merchant in an ancient bazaar must break a mysterious curse."

	fallbackText  = "Something went wrong. Please try again."
	rejectedText  = "Your action seems to conflict with the natural flow of the story. What would you like to try instead?"
	exhaustedText = "You don't have enough energy to continue. Please wait for your daily energy to reset."
)

// Status is the session outcome after a story turn.
type Status string

const (
	StatusPlaying Status = "playing"
	StatusWon     Status = "won"
	StatusLost    Status = "lost"
)

// Turn is the result of one story exchange.
type Turn struct {
	Text   string
	Status Status
}

// Metering is what the session needs from the usage service.
type Metering interface {
	Affordable(op quota.Operation) bool
	Debit(ctx context.Context, m quota.TokenMetrics) bool
}

// Generator is what the session needs from the gateway client.
type Generator interface {
	Generate(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// Session drives one playthrough. It is safe for concurrent use, though
// the terminal client calls it from a single goroutine.
type Session struct {
	gen        Generator
	meter      Metering
	difficulty *difficulty.Manager
	logger     zerolog.Logger

	mu              sync.Mutex
	context         string
	lastNarrative   string
	cachedActions   []string
	anticheatActive bool
}

// NewSession wires a session over the given collaborators. Anti-cheat
// validation starts enabled.
func NewSession(gen Generator, meter Metering, diff *difficulty.Manager, logger zerolog.Logger) *Session {
	return &Session{
		gen:             gen,
		meter:           meter,
		difficulty:      diff,
		logger:          logger.With().Str("component", "game").Logger(),
		anticheatActive: true,
	}
}

// SetAntiCheat toggles input validation.
func (s *Session) SetAntiCheat(enabled bool) {
	s.mu.Lock()
	s.anticheatActive = enabled
	s.mu.Unlock()
}

// GeneratePrompt asks for a fresh scenario prompt. Failures and
// unaffordable calls fall back to the default prompt so a game can
// always start.
func (s *Session) GeneratePrompt(ctx context.Context) string {
	if !s.meter.Affordable(quota.OpPromptGeneration) {
		metrics.QuotaBlocked.WithLabelValues(string(quota.OpPromptGeneration)).Inc()
		s.logger.Warn().Msg("Insufficient tokens for prompt generation")
		return defaultPrompt
	}

	cfg := s.difficulty.Config()
	level := s.difficulty.Level()
	resp, err := s.gen.Generate(ctx, gateway.Request{
		Messages: []gateway.Message{{
			Role:    "system",
			Content: fmt.Sprintf("%s\n\nDifficulty Level: %s%s", promptTemplate, titleCase(string(level)), cfg.Instructions),
		}},
		Parameters: &cfg.Parameters,
		MaxTokens:  150,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Prompt generation failed, using default")
		return defaultPrompt
	}

	s.meter.Debit(ctx, resp.Metrics)
	if strings.TrimSpace(resp.Text) == "" {
		return defaultPrompt
	}
	return resp.Text
}

// Respond runs one story turn: affordability checks, input validation,
// then the narrative call. The returned turn always carries displayable
// text.
func (s *Session) Respond(ctx context.Context, input string) Turn {
	for _, op := range []quota.Operation{quota.OpAntiCheat, quota.OpStoryResponse} {
		if !s.meter.Affordable(op) {
			metrics.QuotaBlocked.WithLabelValues(string(op)).Inc()
			return Turn{Text: exhaustedText, Status: StatusPlaying}
		}
	}

	if !s.ValidateInput(ctx, input) {
		return Turn{Text: rejectedText, Status: StatusPlaying}
	}

	s.difficulty.RecordChoice(ctx, input)

	cfg := s.difficulty.Config()
	level := s.difficulty.Level()
	msgs := []gateway.Message{{
		Role:    "system",
		Content: fmt.Sprintf("%s\n\nDifficulty Level: %s%s", systemPrompt, titleCase(string(level)), cfg.Instructions),
	}}
	if prior := s.priorContext(); prior != "" {
		msgs = append(msgs, gateway.Message{Role: "assistant", Content: prior})
	}
	msgs = append(msgs, gateway.Message{Role: "user", Content: input})

	resp, err := s.gen.Generate(ctx, gateway.Request{
		Messages:   msgs,
		Parameters: &cfg.Parameters,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Story generation failed")
		return Turn{Text: fallbackText, Status: StatusPlaying}
	}

	s.meter.Debit(ctx, resp.Metrics)

	text := resp.Text
	if strings.TrimSpace(text) == "" {
		text = fallbackText
	}
	s.setContext(text)

	status := StatusPlaying
	switch {
	case strings.Contains(text, victoryPhrase):
		status = StatusWon
	case strings.Contains(text, defeatPhrase):
		status = StatusLost
	}
	return Turn{Text: text, Status: status}
}

// ValidateInput asks the gateway to judge whether the input is
// legitimate gameplay. It fails open: any transport or parse failure
// admits the input, and only an explicit negative verdict rejects it.
func (s *Session) ValidateInput(ctx context.Context, input string) bool {
	if strings.TrimSpace(input) == "" {
		return false
	}
	s.mu.Lock()
	active := s.anticheatActive
	s.mu.Unlock()
	if !active {
		return true
	}

	resp, err := s.gen.Generate(ctx, gateway.Request{
		Messages: []gateway.Message{
			{Role: "system", Content: anticheatPrompt},
			{Role: "user", Content: "Analyze this input: " + input},
		},
		Temperature:    0.3,
		MaxTokens:      150,
		ResponseFormat: "json_object",
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Input validation unavailable, admitting input")
		return true
	}

	s.meter.Debit(ctx, resp.Metrics)

	var verdict struct {
		IsValid *bool   `json:"isValid"`
		Reason  *string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &verdict); err != nil || verdict.IsValid == nil {
		s.logger.Warn().Str("content", resp.Text).Msg("Unparseable validation verdict, admitting input")
		return true
	}
	if !*verdict.IsValid && verdict.Reason != nil {
		s.logger.Info().Str("reason", *verdict.Reason).Msg("Input rejected")
	}
	return *verdict.IsValid
}

// QuickActions suggests 1-3 short next actions for the current
// narrative. Results are cached per narrative context; any failure or
// an unaffordable call returns no suggestions.
func (s *Session) QuickActions(ctx context.Context, narrative string) []string {
	if strings.TrimSpace(narrative) == "" {
		return nil
	}

	s.mu.Lock()
	if narrative == s.lastNarrative && len(s.cachedActions) > 0 {
		cached := s.cachedActions
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	if !s.meter.Affordable(quota.OpQuickActions) {
		metrics.QuotaBlocked.WithLabelValues(string(quota.OpQuickActions)).Inc()
		s.logger.Warn().Msg("Insufficient tokens for quick actions")
		return nil
	}

	cfg := s.difficulty.Config()
	prompt := quickActionsPrompt(promptConfig{
		Level:       string(s.difficulty.Level()),
		Complexity:  cfg.Narrative.Complexity,
		RiskLevel:   cfg.QuickActions.RiskLevel,
		ActionCount: cfg.QuickActions.Count,
	})

	resp, err := s.gen.Generate(ctx, gateway.Request{
		Messages: []gateway.Message{
			{Role: "system", Content: prompt},
			{Role: "user", Content: fmt.Sprintf("Current narrative: %s\n\nRespond with JSON containing contextually appropriate actions (1-3) in the format: { \"Actions\": [\"Action1\", \"Action2\", \"Action3\"] }", narrative)},
		},
		Temperature:    0.7,
		MaxTokens:      100,
		ResponseFormat: "json_object",
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Quick action generation failed")
		return nil
	}

	s.meter.Debit(ctx, resp.Metrics)

	var parsed struct {
		Actions []string `json:"Actions"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil || len(parsed.Actions) == 0 {
		s.logger.Warn().Str("content", resp.Text).Msg("Unparseable quick actions response")
		return nil
	}

	actions := make([]string, 0, len(parsed.Actions))
	for _, a := range parsed.Actions {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, titleCase(a))
		}
	}

	s.mu.Lock()
	s.lastNarrative = narrative
	s.cachedActions = actions
	s.mu.Unlock()
	return actions
}

// ClearQuickActionsCache drops the cached suggestions, forcing the next
// call to hit the gateway.
func (s *Session) ClearQuickActionsCache() {
	s.mu.Lock()
	s.lastNarrative = ""
	s.cachedActions = nil
	s.mu.Unlock()
}

// RecordOutcome forwards a turn's result to the difficulty controller.
func (s *Session) RecordOutcome(ctx context.Context, outcome difficulty.Outcome) {
	s.difficulty.RecordOutcome(ctx, outcome)
}

func (s *Session) priorContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context
}

func (s *Session) setContext(text string) {
	s.mu.Lock()
	s.context = text
	s.mu.Unlock()
}

// titleCase upper-cases the first rune only, leaving the rest intact.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
