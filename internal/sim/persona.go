package sim

import (
	"fmt"
	"strings"

	"mailweave/internal/domain"
	"mailweave/internal/rng"
)

// promptInput gathers everything a strategy needs to write one email.
type promptInput struct {
	Sender     *domain.Character
	Recipients []*domain.Character
	Thread     *domain.Thread
	Event      domain.PlannedEvent
	World      *domain.WorldState
	History    []*domain.Email
	PointsMade []string
	Questions  []string
	Analysis   *domain.ThreadAnalysis
	Rand       *rng.Source
}

// personaStrategy gives each archetype its own prompt shape and its own
// deterministic fallback prose for when generation fails.
type personaStrategy interface {
	BuildPrompt(in promptInput) string
	FallbackBody(in promptInput) string
}

var personaStrategies = map[domain.Archetype]personaStrategy{
	domain.ArchetypeProtagonist:       conversationalist{angle: "Push the discussion forward constructively."},
	domain.ArchetypeAntagonist:        conversationalist{angle: "Challenge the other side; concede nothing easily."},
	domain.ArchetypeSkeptic:           conversationalist{angle: "Question assumptions and ask for evidence."},
	domain.ArchetypeEnthusiast:        conversationalist{angle: "Be energized and supportive, occasionally too much."},
	domain.ArchetypeNewsletterCurator: newsletterCurator{},
	domain.ArchetypeSpammer:           spammer{},
}

func strategyFor(a domain.Archetype) personaStrategy {
	if s, ok := personaStrategies[a]; ok {
		return s
	}
	return conversationalist{}
}

type conversationalist struct {
	angle string
}

func (s conversationalist) BuildPrompt(in promptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s writing an email in character.\n", in.Sender.Name)
	p := in.Sender.Voice.Persona
	fmt.Fprintf(&b, "Voice: tone %s", p.Tone)
	if len(p.Vocabulary) > 0 {
		fmt.Fprintf(&b, "; favored words: %s", strings.Join(p.Vocabulary, ", "))
	}
	if len(p.Quirks) > 0 {
		fmt.Fprintf(&b, "; quirks: %s", strings.Join(p.Quirks, "; "))
	}
	b.WriteString(".\n")
	if in.Sender.Mood != "" {
		fmt.Fprintf(&b, "Current mood: %s.\n", in.Sender.Mood)
	}
	if s.angle != "" {
		fmt.Fprintf(&b, "Disposition: %s\n", s.angle)
	}

	writeDocumentGrounding(&b, in.World)

	fmt.Fprintf(&b, "\nSituation: %s\n", in.Event.Description)
	if len(in.Recipients) > 0 {
		names := make([]string, len(in.Recipients))
		for i, r := range in.Recipients {
			names[i] = r.Name
		}
		fmt.Fprintf(&b, "You are writing to: %s.\n", strings.Join(names, ", "))
	}

	if len(in.History) > 0 {
		b.WriteString("\nRecent messages in this thread:\n")
		for _, email := range in.History {
			name := email.From
			if c := in.World.CharacterByID(email.From); c != nil {
				name = c.Name
			}
			fmt.Fprintf(&b, "- %s wrote: %s\n", name, truncate(email.Body, 400))
		}
	}
	if len(in.PointsMade) > 0 {
		b.WriteString("\nYou already made these points; do not repeat them:\n")
		for _, pt := range in.PointsMade {
			fmt.Fprintf(&b, "- %s\n", pt)
		}
	}
	if len(in.Questions) > 0 {
		b.WriteString("\nQuestions others asked that you have not answered; address at least one:\n")
		for _, q := range in.Questions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	if in.Analysis != nil {
		if len(in.Analysis.Topics) > 0 {
			fmt.Fprintf(&b, "\nTopics already covered: %s.\n", strings.Join(in.Analysis.Topics, ", "))
		}
		if in.Analysis.SuggestedDirection != "" {
			fmt.Fprintf(&b, "A natural direction for the conversation: %s\n", in.Analysis.SuggestedDirection)
		}
	}

	b.WriteString("\nWrite only the email body, 80-180 words, no subject line, no headers.")
	if p.SignOff != "" {
		fmt.Fprintf(&b, " Sign off with %q.", p.SignOff)
	}
	return b.String()
}

func (s conversationalist) FallbackBody(in promptInput) string {
	p := in.Sender.Voice.Persona
	var b strings.Builder
	fmt.Fprintf(&b, "Hi,\n\nI wanted to write about %s.", strings.TrimSpace(in.Event.Description))
	if concept, ok := pickConcept(in); ok {
		fmt.Fprintf(&b, " It keeps coming back to %s for me, and I don't think we can ignore that.", concept)
	}
	if len(p.Vocabulary) > 0 {
		fmt.Fprintf(&b, " Call it %s if you like, but it matters.", rng.Pick(in.Rand, p.Vocabulary))
	}
	if len(in.Questions) > 0 {
		fmt.Fprintf(&b, "\n\nYou asked: %s I owe you a proper answer, and I'll get to it.", in.Questions[0])
	}
	if len(p.Quirks) > 0 {
		fmt.Fprintf(&b, "\n\n(%s)", rng.Pick(in.Rand, p.Quirks))
	}
	signOff := p.SignOff
	if signOff == "" {
		signOff = "Best"
	}
	fmt.Fprintf(&b, "\n\n%s,\n%s", signOff, in.Sender.Name)
	return b.String()
}

type newsletterCurator struct{}

func (newsletterCurator) BuildPrompt(in promptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, curator of a community newsletter.\n", in.Sender.Name)
	writeDocumentGrounding(&b, in.World)
	b.WriteString("\nRecent happenings to cover:\n")
	events := recentEvents(in.World, 5)
	if len(events) == 0 {
		b.WriteString("- A quiet week in the community.\n")
	}
	for _, ev := range events {
		fmt.Fprintf(&b, "- %s\n", ev.Description)
	}
	b.WriteString("\nWrite the newsletter body: a short intro, two or three items, a sign-off. No subject line.")
	return b.String()
}

func (newsletterCurator) FallbackBody(in promptInput) string {
	var b strings.Builder
	b.WriteString("Hello readers,\n\nHere's what has been happening this week:\n")
	events := recentEvents(in.World, 3)
	if len(events) == 0 {
		b.WriteString("- A quiet stretch, which is its own kind of news.\n")
	}
	for _, ev := range events {
		fmt.Fprintf(&b, "- %s\n", titleCase(ev.Description))
	}
	if len(in.World.Documents) > 0 {
		fmt.Fprintf(&b, "\nRecommended reading: %q.\n", in.World.Documents[0].Title)
	}
	fmt.Fprintf(&b, "\nUntil next week,\n%s", in.Sender.Name)
	return b.String()
}

type spammer struct{}

func (spammer) BuildPrompt(in promptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a relentless email marketer.\n", in.Sender.Name)
	if concept, ok := pickConcept(in); ok {
		fmt.Fprintf(&b, "Work in a vague reference to %q to seem relevant.\n", concept)
	}
	b.WriteString("Write a short, pushy promotional email with an unsubscribe line nobody believes. No subject line.")
	return b.String()
}

func (spammer) FallbackBody(in promptInput) string {
	offer := rng.Pick(in.Rand, []string{
		"an exclusive opportunity",
		"a limited-time deal",
		"a breakthrough system",
		"a once-in-a-lifetime offer",
	})
	var b strings.Builder
	fmt.Fprintf(&b, "Dear valued reader,\n\nWe have %s waiting just for YOU.", offer)
	if concept, ok := pickConcept(in); ok {
		fmt.Fprintf(&b, " Experts in %s agree: those who act today win.", concept)
	}
	b.WriteString(" Slots are filling FAST, so don't wait.\n\nClick now. You won't regret it.\n\nTo unsubscribe, reply STOP (results not guaranteed).")
	return b.String()
}

// writeDocumentGrounding merges thesis, claims, and concepts across all
// uploaded documents, not just the first.
func writeDocumentGrounding(b *strings.Builder, w *domain.WorldState) {
	if len(w.Documents) == 0 {
		return
	}
	b.WriteString("\nThe community's shared source material:\n")
	for _, d := range w.Documents {
		fmt.Fprintf(b, "- %q: %s\n", d.Title, d.Thesis)
		for _, claim := range d.Claims {
			fmt.Fprintf(b, "  claim: %s\n", claim)
		}
	}
	var concepts []string
	for _, d := range w.Documents {
		concepts = append(concepts, d.Concepts...)
	}
	if len(concepts) > 0 {
		fmt.Fprintf(b, "Key concepts: %s.\n", strings.Join(concepts, ", "))
	}
}

func pickConcept(in promptInput) (string, bool) {
	var concepts []string
	for _, d := range in.World.Documents {
		concepts = append(concepts, d.Concepts...)
	}
	if len(concepts) == 0 {
		return "", false
	}
	return rng.Pick(in.Rand, concepts), true
}

func recentEvents(w *domain.WorldState, n int) []domain.Event {
	if len(w.Events) <= n {
		return w.Events
	}
	return w.Events[len(w.Events)-n:]
}
