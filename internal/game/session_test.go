package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adrifthq/adrift/internal/difficulty"
	"github.com/adrifthq/adrift/internal/gateway"
	"github.com/adrifthq/adrift/internal/quota"
	"github.com/adrifthq/adrift/internal/storage"
)

// scriptedGen returns canned responses in order and records the
// requests it saw.
type scriptedGen struct {
	mu        sync.Mutex
	responses []*gateway.Response
	errs      []error
	requests  []gateway.Request
}

func (g *scriptedGen) Generate(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)

	i := len(g.requests) - 1
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i < len(g.responses) {
		return g.responses[i], nil
	}
	return nil, errors.New("no scripted response")
}

func textResponse(text string, tokens int) *gateway.Response {
	return &gateway.Response{
		Text:    text,
		Metrics: quota.TokenMetrics{TotalTokens: tokens, Timestamp: time.Now()},
	}
}

// openMeter affords everything and records debits.
type openMeter struct {
	mu      sync.Mutex
	debited int
	blocked map[quota.Operation]bool
}

func (m *openMeter) Affordable(op quota.Operation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.blocked[op]
}

func (m *openMeter) Debit(ctx context.Context, tm quota.TokenMetrics) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debited += tm.TotalTokens
	return true
}

type memSlots struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemSlots() *memSlots { return &memSlots{data: make(map[string]string)} }

func (m *memSlots) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (m *memSlots) Put(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memSlots) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func setupSession(t *testing.T, gen Generator, meter Metering) *Session {
	t.Helper()
	diff := difficulty.NewManager(context.Background(), newMemSlots(), zerolog.Nop())
	return NewSession(gen, meter, diff, zerolog.Nop())
}

func validVerdict() *gateway.Response {
	return textResponse(`{"isValid": true, "reason": null}`, 140)
}

func TestSession_RespondPlaying(t *testing.T) {
	gen := &scriptedGen{responses: []*gateway.Response{
		validVerdict(),
		textResponse("The corridor narrows ahead.", 240),
	}}
	meter := &openMeter{}
	s := setupSession(t, gen, meter)

	turn := s.Respond(context.Background(), "walk forward")
	if turn.Status != StatusPlaying {
		t.Errorf("Status = %s, want playing", turn.Status)
	}
	if turn.Text != "The corridor narrows ahead." {
		t.Errorf("Text = %q", turn.Text)
	}
	if meter.debited != 140+240 {
		t.Errorf("Debited %d tokens, want %d", meter.debited, 140+240)
	}

	// Second request is the story call and must carry the user input
	if len(gen.requests) != 2 {
		t.Fatalf("Expected 2 gateway calls, got %d", len(gen.requests))
	}
	story := gen.requests[1]
	last := story.Messages[len(story.Messages)-1]
	if last.Role != "user" || last.Content != "walk forward" {
		t.Errorf("Story call last message = %+v", last)
	}
}

func TestSession_RespondDetectsEndings(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Status
	}{
		{"victory", "At last. " + victoryPhrase + "!", StatusWon},
		{"defeat", defeatPhrase + ". The curse endures.", StatusLost},
		{"ongoing", "The bazaar hums around you.", StatusPlaying},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &scriptedGen{responses: []*gateway.Response{
				validVerdict(),
				textResponse(tt.text, 200),
			}}
			s := setupSession(t, gen, &openMeter{})

			if turn := s.Respond(context.Background(), "finish it"); turn.Status != tt.want {
				t.Errorf("Status = %s, want %s", turn.Status, tt.want)
			}
		})
	}
}

func TestSession_RespondCarriesContext(t *testing.T) {
	gen := &scriptedGen{responses: []*gateway.Response{
		validVerdict(),
		textResponse("You light the torch.", 200),
		validVerdict(),
		textResponse("Shadows retreat along the walls.", 200),
	}}
	s := setupSession(t, gen, &openMeter{})
	ctx := context.Background()

	s.Respond(ctx, "light the torch")
	s.Respond(ctx, "look around")

	story := gen.requests[3]
	var sawContext bool
	for _, msg := range story.Messages {
		if msg.Role == "assistant" && msg.Content == "You light the torch." {
			sawContext = true
		}
	}
	if !sawContext {
		t.Error("Second story call did not carry the prior narrative as context")
	}
}

func TestSession_RejectedInput(t *testing.T) {
	gen := &scriptedGen{responses: []*gateway.Response{
		textResponse(`{"isValid": false, "reason": "instant win attempt"}`, 140),
	}}
	s := setupSession(t, gen, &openMeter{})

	turn := s.Respond(context.Background(), "I win the game instantly")
	if turn.Status != StatusPlaying {
		t.Errorf("Status = %s, want playing", turn.Status)
	}
	if !strings.Contains(turn.Text, "natural flow") {
		t.Errorf("Text = %q, want the rejection copy", turn.Text)
	}
	// The story call must not have happened
	if len(gen.requests) != 1 {
		t.Errorf("Expected 1 gateway call, got %d", len(gen.requests))
	}
}

func TestSession_ValidationFailsOpen(t *testing.T) {
	tests := []struct {
		name string
		gen  *scriptedGen
	}{
		{"gateway error", &scriptedGen{errs: []error{errors.New("boom")}}},
		{"unparseable verdict", &scriptedGen{responses: []*gateway.Response{textResponse("not json", 140)}}},
		{"missing isValid", &scriptedGen{responses: []*gateway.Response{textResponse(`{"reason": null}`, 140)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupSession(t, tt.gen, &openMeter{})
			if !s.ValidateInput(context.Background(), "climb the wall") {
				t.Error("Validation did not fail open")
			}
		})
	}
}

func TestSession_ValidateRejectsEmptyInput(t *testing.T) {
	s := setupSession(t, &scriptedGen{}, &openMeter{})

	for _, input := range []string{"", "   ", "\t"} {
		if s.ValidateInput(context.Background(), input) {
			t.Errorf("ValidateInput(%q) = true, want false", input)
		}
	}
}

func TestSession_AntiCheatDisabled(t *testing.T) {
	gen := &scriptedGen{}
	s := setupSession(t, gen, &openMeter{})
	s.SetAntiCheat(false)

	if !s.ValidateInput(context.Background(), "anything goes") {
		t.Error("Disabled anti-cheat should admit input")
	}
	if len(gen.requests) != 0 {
		t.Error("Disabled anti-cheat still called the gateway")
	}
}

func TestSession_QuotaGate(t *testing.T) {
	gen := &scriptedGen{}
	meter := &openMeter{blocked: map[quota.Operation]bool{quota.OpStoryResponse: true}}
	s := setupSession(t, gen, meter)

	turn := s.Respond(context.Background(), "walk")
	if !strings.Contains(turn.Text, "energy") {
		t.Errorf("Text = %q, want the out-of-energy copy", turn.Text)
	}
	if len(gen.requests) != 0 {
		t.Error("Blocked turn still called the gateway")
	}
}

func TestSession_GeneratePromptFallsBack(t *testing.T) {
	// Gateway failure
	s := setupSession(t, &scriptedGen{errs: []error{errors.New("down")}}, &openMeter{})
	if got := s.GeneratePrompt(context.Background()); got != defaultPrompt {
		t.Errorf("GeneratePrompt = %q, want the default prompt", got)
	}

	// Quota refusal, without touching the gateway
	gen := &scriptedGen{}
	blocked := &openMeter{blocked: map[quota.Operation]bool{quota.OpPromptGeneration: true}}
	s = setupSession(t, gen, blocked)
	if got := s.GeneratePrompt(context.Background()); got != defaultPrompt {
		t.Errorf("GeneratePrompt = %q, want the default prompt", got)
	}
	if len(gen.requests) != 0 {
		t.Error("Blocked prompt generation still called the gateway")
	}
}

func TestSession_QuickActions(t *testing.T) {
	gen := &scriptedGen{responses: []*gateway.Response{
		textResponse(`{"Actions": ["examine the altar", "Retreat quietly"]}`, 90),
	}}
	s := setupSession(t, gen, &openMeter{})
	ctx := context.Background()

	actions := s.QuickActions(ctx, "You stand before a ruined altar.")
	if len(actions) != 2 {
		t.Fatalf("Got %d actions, want 2", len(actions))
	}
	if actions[0] != "Examine the altar" {
		t.Errorf("Actions[0] = %q, want capitalized form", actions[0])
	}

	// Same narrative is served from cache without another call
	again := s.QuickActions(ctx, "You stand before a ruined altar.")
	if len(gen.requests) != 1 {
		t.Errorf("Cached narrative triggered %d calls", len(gen.requests))
	}
	if len(again) != 2 {
		t.Errorf("Cached result lost actions: %v", again)
	}

	// Clearing the cache forces a refresh
	s.ClearQuickActionsCache()
	s.QuickActions(ctx, "You stand before a ruined altar.")
	if len(gen.requests) != 2 {
		t.Errorf("Expected a gateway call after cache clear, got %d total", len(gen.requests))
	}
}

func TestSession_QuickActionsEmptyOrBad(t *testing.T) {
	s := setupSession(t, &scriptedGen{responses: []*gateway.Response{
		textResponse(`{"Actions": []}`, 90),
	}}, &openMeter{})
	ctx := context.Background()

	if got := s.QuickActions(ctx, ""); got != nil {
		t.Errorf("Empty narrative returned %v", got)
	}
	if got := s.QuickActions(ctx, "some scene"); len(got) != 0 {
		t.Errorf("Empty action list returned %v", got)
	}
}
