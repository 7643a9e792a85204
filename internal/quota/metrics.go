package quota

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidMetrics is returned when a metrics payload matches none of
// the accepted shapes.
var ErrInvalidMetrics = errors.New("quota: invalid token metrics")

// TokenMetrics describes the cost of one generation call.
type TokenMetrics struct {
	TotalTokens      int
	PromptTokens     int
	CompletionTokens int
	Timestamp        time.Time
}

// The wire shapes metrics arrive in. Upstream services disagree on the
// name of the total field, so each known convention gets its own decode
// step, tried in a fixed priority order.
type openAIShape struct {
	TotalTokens      *float64 `json:"total_tokens"`
	PromptTokens     float64  `json:"prompt_tokens"`
	CompletionTokens float64  `json:"completion_tokens"`
}

type internalShape struct {
	TotalTokens      *float64 `json:"totalTokens"`
	PromptTokens     float64  `json:"promptTokens"`
	CompletionTokens float64  `json:"completionTokens"`
}

type legacyShape struct {
	Total *float64 `json:"total"`
}

type metricsDecoder func(raw []byte) (TokenMetrics, bool)

var metricsDecoders = []metricsDecoder{decodeOpenAI, decodeInternal, decodeLegacy}

// ParseMetrics decodes a metrics payload in any of the three accepted
// field-name conventions: OpenAI total_tokens, internal totalTokens, or
// legacy total. First matching shape wins. Values are sanitized; the
// timestamp defaults to now.
func ParseMetrics(raw []byte, now time.Time) (TokenMetrics, error) {
	for _, decode := range metricsDecoders {
		if m, ok := decode(raw); ok {
			m.Timestamp = now
			return m, nil
		}
	}
	return TokenMetrics{}, ErrInvalidMetrics
}

func decodeOpenAI(raw []byte) (TokenMetrics, bool) {
	var shape openAIShape
	if err := json.Unmarshal(raw, &shape); err != nil || shape.TotalTokens == nil {
		return TokenMetrics{}, false
	}
	return TokenMetrics{
		TotalTokens:      SanitizeTokens(*shape.TotalTokens),
		PromptTokens:     SanitizeTokens(shape.PromptTokens),
		CompletionTokens: SanitizeTokens(shape.CompletionTokens),
	}, true
}

func decodeInternal(raw []byte) (TokenMetrics, bool) {
	var shape internalShape
	if err := json.Unmarshal(raw, &shape); err != nil || shape.TotalTokens == nil {
		return TokenMetrics{}, false
	}
	return TokenMetrics{
		TotalTokens:      SanitizeTokens(*shape.TotalTokens),
		PromptTokens:     SanitizeTokens(shape.PromptTokens),
		CompletionTokens: SanitizeTokens(shape.CompletionTokens),
	}, true
}

func decodeLegacy(raw []byte) (TokenMetrics, bool) {
	var shape legacyShape
	if err := json.Unmarshal(raw, &shape); err != nil || shape.Total == nil {
		return TokenMetrics{}, false
	}
	return TokenMetrics{TotalTokens: SanitizeTokens(*shape.Total)}, true
}

// Sanitize returns a copy of m with every count coerced through
// SanitizeTokens and a timestamp filled in when missing.
func (m TokenMetrics) Sanitize(now time.Time) TokenMetrics {
	out := TokenMetrics{
		TotalTokens:      SanitizeTokens(float64(m.TotalTokens)),
		PromptTokens:     SanitizeTokens(float64(m.PromptTokens)),
		CompletionTokens: SanitizeTokens(float64(m.CompletionTokens)),
		Timestamp:        m.Timestamp,
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = now
	}
	return out
}
