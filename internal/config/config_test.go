package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mailweave/internal/domain"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const sampleConfig = `
fallback_chain = ["premium", "economy"]

[simulation]
target_emails = 25
timeout_ms = 120000
tick_duration_hours = 4
events_per_tick = 3
spam_ratio = 0.1
newsletter_cadence_ticks = 5
tension_density = 0.5
seed = 7

[providers.premium]
endpoint = "https://api.example.com/v1/chat/completions"
model = "deluxe-1"
api_key_env = "PREMIUM_API_KEY"
base_delay_ms = 500
max_retries = 3
cost_per_million = 15.0

[providers.economy]
endpoint = "https://api.example.com/v1/chat/completions"
model = "thrift-1"
api_key_env = "ECONOMY_API_KEY"
cost_per_million = 0.6
`

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, "config.toml", sampleConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Simulation.TargetEmails != 25 {
		t.Fatalf("target_emails got=%d want=25", cfg.Simulation.TargetEmails)
	}
	if got := cfg.Providers["premium"].CostPerMillion; got != 15.0 {
		t.Fatalf("premium cost got=%v want=15.0", got)
	}
	if cfg.Providers["economy"].APIKeyEnv != "ECONOMY_API_KEY" {
		t.Fatalf("economy api_key_env got=%q", cfg.Providers["economy"].APIKeyEnv)
	}
	if len(cfg.FallbackChain) != 2 || cfg.FallbackChain[0] != "premium" {
		t.Fatalf("fallback_chain got=%v", cfg.FallbackChain)
	}
	if cfg.Path != path {
		t.Fatalf("path got=%q want=%q", cfg.Path, path)
	}
}

func TestLoadConfigAnalysisDefaultsToChainTail(t *testing.T) {
	path := writeFile(t, "config.toml", sampleConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AnalysisProvider != "economy" {
		t.Fatalf("analysis_provider got=%q want=economy", cfg.AnalysisProvider)
	}
}

func TestLoadConfigRejectsUnknownChainEntry(t *testing.T) {
	path := writeFile(t, "config.toml", `
fallback_chain = ["premium", "missing"]

[providers.premium]
endpoint = "https://api.example.com"
model = "deluxe-1"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown chain provider")
	} else if !strings.Contains(err.Error(), "missing") {
		t.Fatalf("error should name the provider, got: %v", err)
	}
}

func TestLoadConfigRejectsBadSpamRatio(t *testing.T) {
	path := writeFile(t, "config.toml", `
fallback_chain = ["premium"]

[simulation]
spam_ratio = 1.5

[providers.premium]
endpoint = "https://api.example.com"
model = "deluxe-1"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for spam_ratio outside [0,1]")
	}
}

const sampleSeed = `
start_time: "2024-03-01T09:00:00Z"
characters:
  - id: alice
    name: Alice Hart
    address: alice@archive.example
    archetype: protagonist
    provider: premium
    mood: determined
    persona:
      tone: earnest
      vocabulary: [momentum, groundwork]
      sign_off: Warmly
    goals:
      - description: the archive funding proposal
        priority: immediate
  - id: bob
    name: Bob Linden
    address: bob@archive.example
    archetype: skeptic
    provider: economy
documents:
  - title: The Paper Trail
    thesis: institutions forget faster than they archive
    claims:
      - digitization budgets shrink every cycle
    concepts: [preservation debt]
    themes: [archives]
tensions:
  - description: dispute over the archive digitization budget
    participants: [alice, bob]
    intensity: 0.3
relationships:
  - from: alice
    to: bob
    kind: colleague
    strength: 0.9
facts:
  - statement: the scanner contract lapses in June
    source: The Paper Trail
    known_by: [alice]
`

func TestLoadSeed(t *testing.T) {
	path := writeFile(t, "seed.yaml", sampleSeed)

	w, err := LoadSeed(path, domain.WorldConfig{TargetEmails: 40})
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if len(w.Characters) != 2 {
		t.Fatalf("characters got=%d want=2", len(w.Characters))
	}
	alice := w.CharacterByID("alice")
	if alice == nil {
		t.Fatal("alice missing from world")
	}
	if alice.Archetype != domain.ArchetypeProtagonist {
		t.Fatalf("alice archetype got=%q", alice.Archetype)
	}
	if alice.Voice.Provider != "premium" || alice.Voice.Persona.SignOff != "Warmly" {
		t.Fatalf("alice voice got=%+v", alice.Voice)
	}
	if len(alice.Goals) != 1 || alice.Goals[0].Priority != domain.GoalPriorityImmediate {
		t.Fatalf("alice goals got=%+v", alice.Goals)
	}
	if alice.Goals[0].ID == "" {
		t.Fatal("goal should receive a generated id")
	}
	want := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	if !w.SimTime.Equal(want) {
		t.Fatalf("sim time got=%v want=%v", w.SimTime, want)
	}
	if len(w.Tensions) != 1 || w.Tensions[0].Status != domain.TensionStatusBuilding {
		t.Fatalf("tensions got=%+v", w.Tensions)
	}
	if len(w.Relationships) != 1 || w.Relationships[0].Strength != 0.9 {
		t.Fatalf("relationships got=%+v", w.Relationships)
	}
	if len(w.Facts) != 1 || w.Facts[0].ID == "" {
		t.Fatalf("facts got=%+v", w.Facts)
	}
}

func TestLoadSeedRejectsSingleCharacter(t *testing.T) {
	path := writeFile(t, "seed.yaml", `
characters:
  - id: solo
    name: Solo
`)

	if _, err := LoadSeed(path, domain.WorldConfig{}); err == nil {
		t.Fatal("expected error for one-character seed")
	}
}

func TestLoadSeedRejectsUnknownTensionParticipant(t *testing.T) {
	path := writeFile(t, "seed.yaml", `
characters:
  - id: alice
    name: Alice
  - id: bob
    name: Bob
tensions:
  - description: phantom dispute
    participants: [alice, ghost]
`)

	if _, err := LoadSeed(path, domain.WorldConfig{}); err == nil {
		t.Fatal("expected error for unknown tension participant")
	}
}

func TestLoadSeedSynthesizesTensionsFromDensity(t *testing.T) {
	path := writeFile(t, "seed.yaml", `
characters:
  - id: alice
    name: Alice
    archetype: protagonist
  - id: bob
    name: Bob
    archetype: skeptic
  - id: carol
    name: Carol
    archetype: enthusiast
  - id: sid
    name: Sid
    archetype: spammer
documents:
  - title: The Paper Trail
    claims:
      - digitization budgets shrink every cycle
      - microfilm outlasts every cloud vendor
`)

	w, err := LoadSeed(path, domain.WorldConfig{TensionDensity: 0.7})
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	// Three conversational characters at 0.7 density yields two tensions.
	if len(w.Tensions) != 2 {
		t.Fatalf("synthesized tensions got=%d want=2", len(w.Tensions))
	}
	for _, tn := range w.Tensions {
		if tn.Status != domain.TensionStatusBuilding || len(tn.Participants) != 2 {
			t.Fatalf("tension got=%+v", tn)
		}
		for _, p := range tn.Participants {
			if p == "sid" {
				t.Fatal("spammer drafted into a tension")
			}
		}
	}
}
