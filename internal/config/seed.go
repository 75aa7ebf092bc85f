package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"mailweave/internal/domain"
)

// seedFile is the on-disk shape of a world seed: the output of the
// ingestion and character-generation stages, written by hand or by an
// upstream tool.
type seedFile struct {
	StartTime     string             `yaml:"start_time"`
	Characters    []seedCharacter    `yaml:"characters"`
	Documents     []seedDocument     `yaml:"documents"`
	Tensions      []seedTension      `yaml:"tensions"`
	Relationships []seedRelationship `yaml:"relationships"`
	Facts         []seedFact         `yaml:"facts"`
}

type seedCharacter struct {
	ID        string     `yaml:"id"`
	Name      string     `yaml:"name"`
	Address   string     `yaml:"address"`
	Archetype string     `yaml:"archetype"`
	Provider  string     `yaml:"provider"`
	Mood      string     `yaml:"mood"`
	Frequency float64    `yaml:"frequency"`
	Persona   seedVoice  `yaml:"persona"`
	Goals     []seedGoal `yaml:"goals"`
}

type seedVoice struct {
	Tone       string   `yaml:"tone"`
	Vocabulary []string `yaml:"vocabulary"`
	Quirks     []string `yaml:"quirks"`
	SignOff    string   `yaml:"sign_off"`
}

type seedGoal struct {
	Description string `yaml:"description"`
	Priority    string `yaml:"priority"`
}

type seedDocument struct {
	Title    string   `yaml:"title"`
	Thesis   string   `yaml:"thesis"`
	Claims   []string `yaml:"claims"`
	Concepts []string `yaml:"concepts"`
	Themes   []string `yaml:"themes"`
}

type seedTension struct {
	Description  string   `yaml:"description"`
	Participants []string `yaml:"participants"`
	Intensity    float64  `yaml:"intensity"`
}

type seedRelationship struct {
	From     string  `yaml:"from"`
	To       string  `yaml:"to"`
	Kind     string  `yaml:"kind"`
	Strength float64 `yaml:"strength"`
}

type seedFact struct {
	Statement string   `yaml:"statement"`
	Source    string   `yaml:"source"`
	KnownBy   []string `yaml:"known_by"`
}

// LoadSeed reads a YAML world seed and assembles the initial WorldState
// the simulation starts from.
func LoadSeed(path string, worldCfg domain.WorldConfig) (*domain.WorldState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return buildWorld(seed, worldCfg)
}

func buildWorld(seed seedFile, worldCfg domain.WorldConfig) (*domain.WorldState, error) {
	if len(seed.Characters) < 2 {
		return nil, fmt.Errorf("seed needs at least two characters, has %d", len(seed.Characters))
	}

	w := &domain.WorldState{Config: worldCfg}

	w.SimTime = time.Now().UTC().Truncate(time.Hour)
	if seed.StartTime != "" {
		parsed, err := time.Parse(time.RFC3339, seed.StartTime)
		if err != nil {
			return nil, fmt.Errorf("parse start_time: %w", err)
		}
		w.SimTime = parsed
	}

	ids := make(map[string]bool, len(seed.Characters))
	for _, sc := range seed.Characters {
		if sc.ID == "" || sc.Name == "" {
			return nil, fmt.Errorf("character missing id or name: %+v", sc)
		}
		if ids[sc.ID] {
			return nil, fmt.Errorf("duplicate character id %q", sc.ID)
		}
		ids[sc.ID] = true
		c := domain.Character{
			ID:        sc.ID,
			Name:      sc.Name,
			Address:   sc.Address,
			Archetype: domain.Archetype(sc.Archetype),
			Mood:      sc.Mood,
			Frequency: sc.Frequency,
			Voice: domain.VoiceBinding{
				Provider: sc.Provider,
				Persona: domain.PersonaProfile{
					Tone:       sc.Persona.Tone,
					Vocabulary: sc.Persona.Vocabulary,
					Quirks:     sc.Persona.Quirks,
					SignOff:    sc.Persona.SignOff,
				},
			},
		}
		for _, g := range sc.Goals {
			c.Goals = append(c.Goals, domain.Goal{
				ID:          uuid.NewString(),
				Description: g.Description,
				Priority:    domain.GoalPriority(g.Priority),
			})
		}
		w.Characters = append(w.Characters, c)
	}

	for _, sd := range seed.Documents {
		w.Documents = append(w.Documents, domain.Document{
			ID:       uuid.NewString(),
			Title:    sd.Title,
			Thesis:   sd.Thesis,
			Claims:   sd.Claims,
			Concepts: sd.Concepts,
			Themes:   sd.Themes,
		})
	}

	for _, st := range seed.Tensions {
		if len(st.Participants) < 2 {
			return nil, fmt.Errorf("tension %q needs at least two participants", st.Description)
		}
		for _, p := range st.Participants {
			if !ids[p] {
				return nil, fmt.Errorf("tension %q references unknown character %q", st.Description, p)
			}
		}
		intensity := st.Intensity
		if intensity <= 0 {
			intensity = 0.3
		}
		w.Tensions = append(w.Tensions, domain.Tension{
			ID:           uuid.NewString(),
			Description:  st.Description,
			Participants: st.Participants,
			Intensity:    intensity,
			Status:       domain.TensionStatusBuilding,
		})
	}

	for _, sr := range seed.Relationships {
		if !ids[sr.From] || !ids[sr.To] {
			return nil, fmt.Errorf("relationship %s->%s references unknown character", sr.From, sr.To)
		}
		w.Relationships = append(w.Relationships, domain.Relationship(sr))
	}

	for _, sf := range seed.Facts {
		w.Facts = append(w.Facts, domain.Fact{
			ID:        uuid.NewString(),
			Statement: sf.Statement,
			Source:    sf.Source,
			KnownBy:   sf.KnownBy,
		})
	}

	// With no tensions listed, the density setting decides how many to
	// synthesize from document claims so the simulation has pressure.
	if len(w.Tensions) == 0 && len(w.Documents) > 0 {
		w.Tensions = synthesizeTensions(w)
	}
	return w, nil
}

// synthesizeTensions pairs conversational characters over document
// claims until the configured density is met.
func synthesizeTensions(w *domain.WorldState) []domain.Tension {
	var pool []string
	for _, c := range w.Characters {
		switch c.Archetype {
		case domain.ArchetypeSpammer, domain.ArchetypeNewsletterCurator:
		default:
			pool = append(pool, c.ID)
		}
	}
	if len(pool) < 2 {
		return nil
	}
	target := int(w.Config.TensionDensity * float64(len(pool)))
	if target < 1 {
		target = 1
	}
	var claims []string
	for _, d := range w.Documents {
		claims = append(claims, d.Claims...)
	}
	if len(claims) == 0 {
		return nil
	}
	var out []domain.Tension
	for i := 0; i < target; i++ {
		a := pool[i%len(pool)]
		b := pool[(i+1)%len(pool)]
		if a == b {
			break
		}
		out = append(out, domain.Tension{
			ID:           uuid.NewString(),
			Description:  "disagreement over whether " + claims[i%len(claims)],
			Participants: []string{a, b},
			Intensity:    0.3,
			Status:       domain.TensionStatusBuilding,
		})
	}
	return out
}
