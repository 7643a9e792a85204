package difficulty

import "strings"

// Level selects a difficulty profile.
type Level string

const (
	LevelAdaptive    Level = "adaptive"
	LevelEasy        Level = "easy"
	LevelNormal      Level = "normal"
	LevelChallenging Level = "challenging"
)

// ParseLevel maps a string to a Level, defaulting to adaptive. Matching
// is case-insensitive.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(s)) {
	case LevelEasy, LevelNormal, LevelChallenging, LevelAdaptive:
		return Level(strings.ToLower(s))
	default:
		return LevelAdaptive
	}
}

// Parameters are the sampling knobs forwarded to the generation
// gateway.
type Parameters struct {
	Temperature      float64 `json:"temperature"`
	PresencePenalty  float64 `json:"presence_penalty"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	MaxTokens        int     `json:"max_tokens"`
}

// Narrative tunes the prose the gateway is asked for.
type Narrative struct {
	Complexity          float64 `json:"complexity"`
	DetailLevel         float64 `json:"detailLevel"`
	ChoiceCount         int     `json:"choiceCount"`
	HintFrequency       float64 `json:"hintFrequency"`
	ConsequenceSeverity float64 `json:"consequenceSeverity"`
}

// QuickActions tunes the timed action prompts offered to the player.
type QuickActions struct {
	Count      int     `json:"count"`
	Complexity float64 `json:"complexity"`
	RiskLevel  float64 `json:"riskLevel"`
	TimeoutMS  float64 `json:"timeout"`
}

// Config is the full set of generation-time parameters for one level.
type Config struct {
	Instructions string       `json:"instructions"`
	Parameters   Parameters   `json:"parameters"`
	Narrative    Narrative    `json:"narrative"`
	QuickActions QuickActions `json:"quickActions"`
}

var levelConfigs = map[Level]Config{
	LevelEasy: {
		Instructions: `- Provide clear paths forward
- Offer explicit hints
- Forgive some mistakes`,
		Parameters:   Parameters{Temperature: 0.6, PresencePenalty: 0.3, FrequencyPenalty: 0.3, MaxTokens: 250},
		Narrative:    Narrative{Complexity: 0.3, DetailLevel: 0.5, ChoiceCount: 2, HintFrequency: 0.8, ConsequenceSeverity: 0.3},
		QuickActions: QuickActions{Count: 2, Complexity: 0.3, RiskLevel: 0.2, TimeoutMS: 30000},
	},
	LevelNormal: {
		Instructions: `- Balance challenges with guidance
- Mix explicit and subtle hints
- Moderate consequences for mistakes`,
		Parameters:   Parameters{Temperature: 0.7, PresencePenalty: 0.4, FrequencyPenalty: 0.4, MaxTokens: 250},
		Narrative:    Narrative{Complexity: 0.6, DetailLevel: 0.7, ChoiceCount: 3, HintFrequency: 0.5, ConsequenceSeverity: 0.6},
		QuickActions: QuickActions{Count: 3, Complexity: 0.6, RiskLevel: 0.5, TimeoutMS: 20000},
	},
	LevelChallenging: {
		Instructions: `- Present complex challenges
- Offer subtle hints and clues
- Punish mistakes`,
		Parameters:   Parameters{Temperature: 0.8, PresencePenalty: 0.5, FrequencyPenalty: 0.5, MaxTokens: 250},
		Narrative:    Narrative{Complexity: 0.9, DetailLevel: 0.9, ChoiceCount: 4, HintFrequency: 0.2, ConsequenceSeverity: 0.9},
		QuickActions: QuickActions{Count: 4, Complexity: 0.9, RiskLevel: 0.8, TimeoutMS: 15000},
	},
	LevelAdaptive: {
		Instructions: `- Scale difficulty based on player choices
- Adjust hint clarity dynamically
- Increase challenges progressively
- Adapt victory requirements to player performance`,
		Parameters:   Parameters{Temperature: 0.7, PresencePenalty: 0.4, FrequencyPenalty: 0.4, MaxTokens: 250},
		Narrative:    Narrative{Complexity: 0.5, DetailLevel: 0.6, ChoiceCount: 3, HintFrequency: 0.5, ConsequenceSeverity: 0.5},
		QuickActions: QuickActions{Count: 3, Complexity: 0.5, RiskLevel: 0.5, TimeoutMS: 20000},
	},
}

// baseConfig returns the static table entry for a level.
func baseConfig(level Level) Config {
	cfg, ok := levelConfigs[level]
	if !ok {
		return levelConfigs[LevelAdaptive]
	}
	return cfg
}
