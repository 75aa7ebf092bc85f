package sim

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"mailweave/internal/domain"
	"mailweave/internal/rng"
	"mailweave/internal/router"
)

// scriptedClient serves canned text, optionally failing every call.
type scriptedClient struct {
	text  string
	fail  bool
	calls int
}

func (c *scriptedClient) Complete(ctx context.Context, req router.Request) (router.Response, error) {
	c.calls++
	if c.fail {
		return router.Response{}, errors.New("provider down")
	}
	return router.Response{Text: c.text, PromptTokens: 20, CompletionTokens: 30}, nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newTestRouter builds a two-tier router with scripted clients and the
// world's characters bound to the premium tier.
func newTestRouter(t *testing.T, w *domain.WorldState, premium, economy *scriptedClient) *router.Router {
	t.Helper()
	rt, err := router.New([]router.ProviderConfig{
		{ID: "premium", CostPerMillion: 15, MaxRetries: 1},
		{ID: "economy", CostPerMillion: 1, MaxRetries: 1},
	}, []string{"premium", "economy"}, quietLogger())
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	if err := rt.RegisterClient("premium", premium); err != nil {
		t.Fatalf("register premium: %v", err)
	}
	if err := rt.RegisterClient("economy", economy); err != nil {
		t.Fatalf("register economy: %v", err)
	}
	for i := range w.Characters {
		c := &w.Characters[i]
		if err := rt.BindVoice(c.ID, router.Voice{Provider: "premium", System: "write as " + c.Name}); err != nil {
			t.Fatalf("bind voice %s: %v", c.ID, err)
		}
	}
	return rt
}

func newTestEngine(t *testing.T, w *domain.WorldState, rt *router.Router, seed int64) *Engine {
	t.Helper()
	return NewEngine(rt, Config{
		TargetEmails: 100,
		Timeout:      30 * time.Second,
		TickDuration: 4 * time.Hour,
		TickDelay:    0,
		Rand:         rng.New(seed),
		Logger:       quietLogger(),
	})
}

func testWorld() *domain.WorldState {
	return &domain.WorldState{
		SimTime: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Config: domain.WorldConfig{
			TargetEmails:           20,
			SpamRatio:              0,
			NewsletterCadenceTicks: 5,
			TensionDensity:         0.4,
		},
		Characters: []domain.Character{
			{
				ID: "alice", Name: "Alice Hart", Address: "alice@mailweave.test",
				Archetype: domain.ArchetypeProtagonist,
				Voice: domain.VoiceBinding{Provider: "premium", Persona: domain.PersonaProfile{
					Tone: "warm", Vocabulary: []string{"momentum", "groundwork"}, SignOff: "Warmly",
				}},
				Goals: []domain.Goal{{ID: "g-alice", Description: "the archive funding proposal", Priority: domain.GoalPriorityImmediate}},
			},
			{
				ID: "bob", Name: "Bob Quill", Address: "bob@mailweave.test",
				Archetype: domain.ArchetypeSkeptic,
				Voice: domain.VoiceBinding{Provider: "premium", Persona: domain.PersonaProfile{
					Tone: "dry", Quirks: []string{"quotes page numbers"}, SignOff: "Regards",
				}},
			},
		},
		Relationships: []domain.Relationship{
			{From: "alice", To: "bob", Kind: "colleague", Strength: 0.9},
		},
		Tensions: []domain.Tension{
			{ID: "t-archive", Description: "dispute over the archive digitization budget",
				Participants: []string{"alice", "bob"}, Intensity: 0.3, Status: domain.TensionStatusBuilding},
		},
		Documents: []domain.Document{
			{ID: "d1", Title: "The Paper Trail", Thesis: "archives decay faster than institutions admit",
				Claims:   []string{"budgets lag preservation needs"},
				Concepts: []string{"preservation debt", "institutional memory"},
				Themes:   []string{"archives"}},
		},
	}
}

// withPromo adds a newsletter curator and a spammer to the fixture.
func withPromo(w *domain.WorldState) *domain.WorldState {
	w.Characters = append(w.Characters,
		domain.Character{
			ID: "carol", Name: "Carol Inkwell", Address: "carol@mailweave.test",
			Archetype: domain.ArchetypeNewsletterCurator,
			Voice:     domain.VoiceBinding{Provider: "economy"},
		},
		domain.Character{
			ID: "sid", Name: "Sid Blast", Address: "sid@mailweave.test",
			Archetype: domain.ArchetypeSpammer,
			Voice:     domain.VoiceBinding{Provider: "economy"},
		},
	)
	return w
}
