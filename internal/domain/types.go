package domain

import (
	"strings"
	"time"
)

type Archetype string

const (
	ArchetypeProtagonist       Archetype = "protagonist"
	ArchetypeAntagonist        Archetype = "antagonist"
	ArchetypeSkeptic           Archetype = "skeptic"
	ArchetypeEnthusiast        Archetype = "enthusiast"
	ArchetypeNewsletterCurator Archetype = "newsletter_curator"
	ArchetypeSpammer           Archetype = "spammer"
)

type TensionStatus string

const (
	TensionStatusBuilding  TensionStatus = "building"
	TensionStatusActive    TensionStatus = "active"
	TensionStatusClimax    TensionStatus = "climax"
	TensionStatusResolving TensionStatus = "resolving"
	TensionStatusResolved  TensionStatus = "resolved"
)

type GoalPriority string

const (
	GoalPriorityImmediate GoalPriority = "immediate"
	GoalPriorityShortTerm GoalPriority = "short_term"
	GoalPriorityLongTerm  GoalPriority = "long_term"
)

type GoalStage string

const (
	GoalStageInitial    GoalStage = "initial"
	GoalStageInProgress GoalStage = "in_progress"
	GoalStageAdvanced   GoalStage = "advanced"
)

type OriginType string

const (
	OriginCommunication OriginType = "communication"
	OriginSpam          OriginType = "spam"
	OriginNewsletter    OriginType = "newsletter"
	OriginExternal      OriginType = "external"
)

type EventType string

const (
	EventTensionDiscussion EventType = "tension_discussion"
	EventTensionResponse   EventType = "tension_response"
	EventGoalPursuit       EventType = "goal_pursuit"
	EventNewsletter        EventType = "newsletter"
	EventSpam              EventType = "spam"
)

// IsCommunication reports whether the event produces regular
// back-and-forth mail as opposed to promotional mail.
func (t EventType) IsCommunication() bool {
	switch t {
	case EventTensionDiscussion, EventTensionResponse, EventGoalPursuit:
		return true
	}
	return false
}

type Folder string

const (
	FolderInbox       Folder = "inbox"
	FolderSpam        Folder = "spam"
	FolderNewsletters Folder = "newsletters"
)

// PersonaProfile is the writing identity half of a voice binding.
type PersonaProfile struct {
	Tone       string   `json:"tone"`
	Vocabulary []string `json:"vocabulary"`
	Quirks     []string `json:"quirks"`
	SignOff    string   `json:"signOff"`
}

// VoiceBinding associates a character with a generation provider and
// the persona the provider should write as.
type VoiceBinding struct {
	Provider string         `json:"provider"`
	Persona  PersonaProfile `json:"persona"`
}

type Goal struct {
	ID              string       `json:"id"`
	Description     string       `json:"description"`
	Priority        GoalPriority `json:"priority"`
	EmailsSent      int          `json:"emailsSent"`
	ApproachHistory []string     `json:"approachHistory"`
}

// Stage derives goal progression from how many emails have advanced it.
func (g Goal) Stage() GoalStage {
	switch {
	case g.EmailsSent == 0:
		return GoalStageInitial
	case g.EmailsSent < 3:
		return GoalStageInProgress
	default:
		return GoalStageAdvanced
	}
}

type Character struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Address   string       `json:"address"`
	Archetype Archetype    `json:"archetype"`
	Voice     VoiceBinding `json:"voice"`
	Goals     []Goal       `json:"goals"`
	Knowledge []string     `json:"knowledge"`
	Mood      string       `json:"mood"`
	Frequency float64      `json:"frequency"`
}

// Knows reports whether the character has already absorbed the item.
func (c *Character) Knows(item string) bool {
	for _, k := range c.Knowledge {
		if k == item {
			return true
		}
	}
	return false
}

type Relationship struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Kind     string  `json:"kind"`
	Strength float64 `json:"strength"`
}

type Tension struct {
	ID           string        `json:"id"`
	Description  string        `json:"description"`
	Participants []string      `json:"participants"`
	Intensity    float64       `json:"intensity"`
	Status       TensionStatus `json:"status"`
	ClimaxTicks  int           `json:"climaxTicks"`
}

type Fact struct {
	ID        string   `json:"id"`
	Statement string   `json:"statement"`
	Source    string   `json:"source"`
	KnownBy   []string `json:"knownBy"`
}

type Document struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Thesis   string   `json:"thesis"`
	Claims   []string `json:"claims"`
	Concepts []string `json:"concepts"`
	Themes   []string `json:"themes"`
}

type Thread struct {
	ID              string     `json:"id"`
	Subject         string     `json:"subject"`
	Participants    []string   `json:"participants"`
	EmailIDs        []string   `json:"emailIds"`
	OriginType      OriginType `json:"originType"`
	RelatedTensions []string   `json:"relatedTensions"`
	CreatedTick     int        `json:"createdTick"`
}

// HasParticipant reports whether the character takes part in the thread.
func (t *Thread) HasParticipant(characterID string) bool {
	for _, p := range t.Participants {
		if p == characterID {
			return true
		}
	}
	return false
}

// AddParticipant records a participant if not already present.
func (t *Thread) AddParticipant(characterID string) {
	if !t.HasParticipant(characterID) {
		t.Participants = append(t.Participants, characterID)
	}
}

// Provenance records how an email came to exist.
type Provenance struct {
	CharacterID string    `json:"characterId"`
	Provider    string    `json:"provider"`
	EventType   EventType `json:"eventType"`
	Tick        int       `json:"tick"`
	Fallback    bool      `json:"fallback"`
}

// Email is immutable once created.
type Email struct {
	ID          string     `json:"id"`
	ThreadID    string     `json:"threadId"`
	From        string     `json:"from"`
	To          []string   `json:"to"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	SentAt      time.Time  `json:"sentAt"`
	GeneratedAt time.Time  `json:"generatedAt"`
	InReplyTo   string     `json:"inReplyTo"`
	References  []string   `json:"references"`
	Folder      Folder     `json:"folder"`
	Provenance  Provenance `json:"provenance"`
}

type Event struct {
	ID           string    `json:"id"`
	Tick         int       `json:"tick"`
	Type         EventType `json:"type"`
	Description  string    `json:"description"`
	Participants []string  `json:"participants"`
	EmailID      string    `json:"emailId"`
}

// PlannedEvent is tick-scoped: produced by the planner and consumed by
// the generator within the same tick. Never persisted.
type PlannedEvent struct {
	Type        EventType
	Description string
	Sender      string
	Recipients  []string
	TensionIDs  []string
	GoalID      string
	// ThreadID, when set, pins the event to an existing conversation.
	ThreadID string
}

// ThreadAnalysis is the structured output of the low-cost semantic pass
// over a conversation.
type ThreadAnalysis struct {
	Topics             []string          `json:"topics"`
	Stances            map[string]string `json:"stances"`
	OpenQuestions      []string          `json:"openQuestions"`
	SuggestedDirection string            `json:"suggestedDirection"`
}

type WorldConfig struct {
	TargetEmails           int     `json:"targetEmails"`
	SpamRatio              float64 `json:"spamRatio"`
	NewsletterCadenceTicks int     `json:"newsletterCadenceTicks"`
	TensionDensity         float64 `json:"tensionDensity"`
}

// WorldState is the simulation's single mutable aggregate. The tick loop
// owns it exclusively: fields may be mutated in place within a tick, but
// tick boundaries always hand the next tick a fresh clone.
type WorldState struct {
	Tick               int            `json:"tick"`
	SimTime            time.Time      `json:"simTime"`
	Config             WorldConfig    `json:"config"`
	Characters         []Character    `json:"characters"`
	Relationships      []Relationship `json:"relationships"`
	Tensions           []Tension      `json:"tensions"`
	Facts              []Fact         `json:"facts"`
	Documents          []Document     `json:"documents"`
	Threads            []Thread       `json:"threads"`
	Events             []Event        `json:"events"`
	Emails             []Email        `json:"emails"`
	LastNewsletterTick int            `json:"lastNewsletterTick"`
}

// CharacterByID returns a pointer into the world's character slice, or
// nil when the id is unknown.
func (w *WorldState) CharacterByID(id string) *Character {
	for i := range w.Characters {
		if w.Characters[i].ID == id {
			return &w.Characters[i]
		}
	}
	return nil
}

// TensionByID returns a pointer into the world's tension slice, or nil.
func (w *WorldState) TensionByID(id string) *Tension {
	for i := range w.Tensions {
		if w.Tensions[i].ID == id {
			return &w.Tensions[i]
		}
	}
	return nil
}

// ThreadByID returns a pointer into the world's thread slice, or nil.
func (w *WorldState) ThreadByID(id string) *Thread {
	for i := range w.Threads {
		if w.Threads[i].ID == id {
			return &w.Threads[i]
		}
	}
	return nil
}

// EmailByID returns a pointer into the world's email slice, or nil.
func (w *WorldState) EmailByID(id string) *Email {
	for i := range w.Emails {
		if w.Emails[i].ID == id {
			return &w.Emails[i]
		}
	}
	return nil
}

// CharactersByArchetype returns the ids of all characters with the given
// archetype, in declaration order.
func (w *WorldState) CharactersByArchetype(a Archetype) []string {
	var ids []string
	for i := range w.Characters {
		if w.Characters[i].Archetype == a {
			ids = append(ids, w.Characters[i].ID)
		}
	}
	return ids
}

// LastThreadEmail returns the most recent email of the thread, or nil
// for an empty thread.
func (w *WorldState) LastThreadEmail(t *Thread) *Email {
	for i := len(t.EmailIDs) - 1; i >= 0; i-- {
		if e := w.EmailByID(t.EmailIDs[i]); e != nil {
			return e
		}
	}
	return nil
}

// Clone deep-copies the world so the next tick starts from an
// independent aggregate.
func (w *WorldState) Clone() *WorldState {
	out := &WorldState{
		Tick:               w.Tick,
		SimTime:            w.SimTime,
		Config:             w.Config,
		Characters:         make([]Character, len(w.Characters)),
		Relationships:      append([]Relationship(nil), w.Relationships...),
		Tensions:           make([]Tension, len(w.Tensions)),
		Facts:              make([]Fact, len(w.Facts)),
		Documents:          make([]Document, len(w.Documents)),
		Threads:            make([]Thread, len(w.Threads)),
		Events:             append([]Event(nil), w.Events...),
		Emails:             make([]Email, len(w.Emails)),
		LastNewsletterTick: w.LastNewsletterTick,
	}
	for i := range w.Characters {
		c := w.Characters[i]
		goals := make([]Goal, len(c.Goals))
		for j, g := range c.Goals {
			g.ApproachHistory = append([]string(nil), g.ApproachHistory...)
			goals[j] = g
		}
		c.Goals = goals
		c.Knowledge = append([]string(nil), c.Knowledge...)
		c.Voice.Persona.Vocabulary = append([]string(nil), c.Voice.Persona.Vocabulary...)
		c.Voice.Persona.Quirks = append([]string(nil), c.Voice.Persona.Quirks...)
		out.Characters[i] = c
	}
	for i := range w.Tensions {
		t := w.Tensions[i]
		t.Participants = append([]string(nil), t.Participants...)
		out.Tensions[i] = t
	}
	for i := range w.Facts {
		f := w.Facts[i]
		f.KnownBy = append([]string(nil), f.KnownBy...)
		out.Facts[i] = f
	}
	for i := range w.Documents {
		d := w.Documents[i]
		d.Claims = append([]string(nil), d.Claims...)
		d.Concepts = append([]string(nil), d.Concepts...)
		d.Themes = append([]string(nil), d.Themes...)
		out.Documents[i] = d
	}
	for i := range w.Threads {
		t := w.Threads[i]
		t.Participants = append([]string(nil), t.Participants...)
		t.EmailIDs = append([]string(nil), t.EmailIDs...)
		t.RelatedTensions = append([]string(nil), t.RelatedTensions...)
		out.Threads[i] = t
	}
	for i := range w.Emails {
		e := w.Emails[i]
		e.To = append([]string(nil), e.To...)
		e.References = append([]string(nil), e.References...)
		out.Emails[i] = e
	}
	return out
}

// StopReason records why a simulation run ended.
type StopReason string

const (
	StopTargetReached StopReason = "target_reached"
	StopTimeout       StopReason = "timeout"
	StopCanceled      StopReason = "canceled"
)

type TickMetrics struct {
	EventsPlanned    int           `json:"eventsPlanned"`
	EmailsGenerated  int           `json:"emailsGenerated"`
	TensionsResolved int           `json:"tensionsResolved"`
	FallbackEmails   int           `json:"fallbackEmails"`
	Duration         time.Duration `json:"duration"`
	Cost             float64       `json:"cost"`
}

// TickResult is the per-tick report handed to the progress callback and
// returned from a run.
type TickResult struct {
	Tick         int         `json:"tick"`
	WindowStart  time.Time   `json:"windowStart"`
	WindowEnd    time.Time   `json:"windowEnd"`
	Events       []Event     `json:"events"`
	NewEmails    []Email     `json:"newEmails"`
	StateChanges []string    `json:"stateChanges"`
	Metrics      TickMetrics `json:"metrics"`
}

// DescriptionKeywords lowercases and splits a tension description into
// the keywords used to match thread subjects against it. Words shorter
// than four letters carry no signal and are dropped.
func DescriptionKeywords(description string) []string {
	fields := strings.Fields(strings.ToLower(description))
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) >= 4 {
			out = append(out, f)
		}
	}
	return out
}
