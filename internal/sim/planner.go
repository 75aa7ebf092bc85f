package sim

import (
	"fmt"

	"mailweave/internal/domain"
	"mailweave/internal/rng"
)

const (
	defaultEventsPerTick = 3
	// skipIfAwaitingProbability avoids monologues: a character whose
	// last thread message is still unanswered usually holds off.
	skipIfAwaitingProbability = 0.70
	defaultNewsletterCadence  = 5
)

// planEvents decides what happens this tick, in fixed priority order:
// tension-driven first, then goal-driven, then newsletter, then spam.
// The per-tick budget caps only the goal-driven additions; tension- and
// archetype-driven events ride along outside it.
func (e *Engine) planEvents(w *domain.WorldState) []domain.PlannedEvent {
	var events []domain.PlannedEvent

	if ev, ok := e.planTensionEvent(w); ok {
		events = append(events, ev)
	}

	budget := e.cfg.EventsPerTick
	goals := 0
	for i := range w.Characters {
		if goals >= budget {
			break
		}
		if ev, ok := e.planGoalEvent(w, &w.Characters[i]); ok {
			events = append(events, ev)
			goals++
		}
	}

	if ev, ok := e.planNewsletterEvent(w); ok {
		events = append(events, ev)
	}
	if ev, ok := e.planSpamEvent(w); ok {
		events = append(events, ev)
	}
	return events
}

// planTensionEvent selects at most one building/active tension. A
// tension with no ongoing conversation spawns a fresh discussion; one
// with an active thread instead nudges a participant who has not yet
// replied to the most recent message, so a single tension never runs
// parallel disconnected conversations.
func (e *Engine) planTensionEvent(w *domain.WorldState) (domain.PlannedEvent, bool) {
	for i := range w.Tensions {
		t := &w.Tensions[i]
		if t.Status != domain.TensionStatusBuilding && t.Status != domain.TensionStatusActive {
			continue
		}
		if len(t.Participants) < 2 {
			continue
		}
		th := tensionThread(w, t)
		if th == nil {
			sender := rng.Pick(e.rand, t.Participants)
			recipients := othersOf(t.Participants, sender)
			return domain.PlannedEvent{
				Type:        domain.EventTensionDiscussion,
				Description: "raising the conflict over " + t.Description,
				Sender:      sender,
				Recipients:  recipients,
				TensionIDs:  []string{t.ID},
			}, true
		}
		last := w.LastThreadEmail(th)
		if last == nil {
			continue
		}
		var pending []string
		for _, p := range t.Participants {
			if p != last.From {
				pending = append(pending, p)
			}
		}
		if len(pending) == 0 {
			continue
		}
		sender := rng.Pick(e.rand, pending)
		return domain.PlannedEvent{
			Type:        domain.EventTensionResponse,
			Description: "responding in the conversation about " + t.Description,
			Sender:      sender,
			Recipients:  []string{last.From},
			TensionIDs:  []string{t.ID},
			ThreadID:    th.ID,
		}, true
	}
	return domain.PlannedEvent{}, false
}

func (e *Engine) planGoalEvent(w *domain.WorldState, c *domain.Character) (domain.PlannedEvent, bool) {
	switch c.Archetype {
	case domain.ArchetypeSpammer, domain.ArchetypeNewsletterCurator:
		return domain.PlannedEvent{}, false
	}
	gi := immediateGoal(c)
	if gi < 0 {
		return domain.PlannedEvent{}, false
	}
	goal := c.Goals[gi]
	if goal.Stage() == domain.GoalStageAdvanced && goal.EmailsSent >= maxAdvancedGoalEmails {
		// Pushed far enough; the goal waits for an external response.
		return domain.PlannedEvent{}, false
	}
	if e.awaitingReply(w, c.ID) && e.rand.Chance(skipIfAwaitingProbability) {
		return domain.PlannedEvent{}, false
	}
	recipient, ok := e.resolveRecipient(w, c)
	if !ok {
		return domain.PlannedEvent{}, false
	}
	return domain.PlannedEvent{
		Type:        domain.EventGoalPursuit,
		Description: goalEventDescription(c, goal),
		Sender:      c.ID,
		Recipients:  []string{recipient},
		GoalID:      goal.ID,
	}, true
}

func (e *Engine) planNewsletterEvent(w *domain.WorldState) (domain.PlannedEvent, bool) {
	curators := w.CharactersByArchetype(domain.ArchetypeNewsletterCurator)
	if len(curators) == 0 {
		return domain.PlannedEvent{}, false
	}
	cadence := w.Config.NewsletterCadenceTicks
	if cadence <= 0 {
		cadence = defaultNewsletterCadence
	}
	if w.Tick-w.LastNewsletterTick < cadence {
		return domain.PlannedEvent{}, false
	}
	sender := curators[0]
	var recipients []string
	for i := range w.Characters {
		c := &w.Characters[i]
		if c.ID == sender || c.Archetype == domain.ArchetypeSpammer {
			continue
		}
		recipients = append(recipients, c.ID)
	}
	if len(recipients) == 0 {
		return domain.PlannedEvent{}, false
	}
	return domain.PlannedEvent{
		Type:        domain.EventNewsletter,
		Description: fmt.Sprintf("newsletter issue for tick %d", w.Tick),
		Sender:      sender,
		Recipients:  recipients,
	}, true
}

func (e *Engine) planSpamEvent(w *domain.WorldState) (domain.PlannedEvent, bool) {
	spammers := w.CharactersByArchetype(domain.ArchetypeSpammer)
	if len(spammers) == 0 {
		return domain.PlannedEvent{}, false
	}
	if !e.rand.Chance(w.Config.SpamRatio) {
		return domain.PlannedEvent{}, false
	}
	sender := spammers[0]
	// A spammer is never on the receiving end of spam.
	var recipients []string
	for i := range w.Characters {
		c := &w.Characters[i]
		if c.Archetype == domain.ArchetypeSpammer {
			continue
		}
		recipients = append(recipients, c.ID)
	}
	if len(recipients) == 0 {
		return domain.PlannedEvent{}, false
	}
	return domain.PlannedEvent{
		Type:        domain.EventSpam,
		Description: "promotional blast",
		Sender:      sender,
		Recipients:  recipients,
	}, true
}

// awaitingReply reports whether the character's most recent message in
// some conversation thread is still unanswered.
func (e *Engine) awaitingReply(w *domain.WorldState, characterID string) bool {
	for i := range w.Threads {
		th := &w.Threads[i]
		if th.OriginType != domain.OriginCommunication || len(th.EmailIDs) == 0 {
			continue
		}
		last := w.LastThreadEmail(th)
		if last != nil && last.From == characterID {
			return true
		}
	}
	return false
}

// resolveRecipient picks the strongest relationship counterpart, then
// falls back to any other conversational character. Returns false when
// nobody can receive the mail.
func (e *Engine) resolveRecipient(w *domain.WorldState, c *domain.Character) (string, bool) {
	best := ""
	bestStrength := -1.0
	for _, rel := range w.Relationships {
		other := ""
		switch c.ID {
		case rel.From:
			other = rel.To
		case rel.To:
			other = rel.From
		default:
			continue
		}
		oc := w.CharacterByID(other)
		if oc == nil || oc.Archetype == domain.ArchetypeSpammer {
			continue
		}
		if rel.Strength > bestStrength {
			best, bestStrength = other, rel.Strength
		}
	}
	if best != "" {
		return best, true
	}
	var candidates []string
	for i := range w.Characters {
		o := &w.Characters[i]
		if o.ID == c.ID {
			continue
		}
		switch o.Archetype {
		case domain.ArchetypeSpammer, domain.ArchetypeNewsletterCurator:
			continue
		}
		candidates = append(candidates, o.ID)
	}
	if len(candidates) == 0 {
		return "", false
	}
	return rng.Pick(e.rand, candidates), true
}

func othersOf(ids []string, exclude string) []string {
	var out []string
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
