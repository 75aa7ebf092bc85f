package sim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mailweave/internal/domain"
	"mailweave/internal/rng"
)

var ErrThreadNotFound = errors.New("thread not found")

const (
	// threadJoinProbability keeps conversational topology varied: even a
	// matching thread is joined only 60% of the time.
	threadJoinProbability = 0.60
	// maxThreadJoinMessages caps how long a thread keeps accepting new
	// events; at 7 messages it is closed to joins.
	maxThreadJoinMessages = 7
	minParticipantOverlap = 2
	minKeywordHits        = 2
	maxSubjectLen         = 48
)

var spamSubjects = []string{
	"You won't BELIEVE this one weird trick",
	"URGENT: Your account needs attention",
	"Exclusive offer expires at midnight",
	"Congratulations! You've been selected",
	"Double your results in just 7 days",
}

var genericSubjects = []string{
	"Quick question",
	"Catching up",
	"Thoughts on recent developments",
	"Following up",
	"Something worth discussing",
}

// resolveThread decides whether the event joins an existing
// conversation or starts a new one. An explicit thread id that no
// longer resolves is a data inconsistency; the caller skips the event.
func (e *Engine) resolveThread(w *domain.WorldState, ev domain.PlannedEvent) (*domain.Thread, error) {
	if ev.ThreadID != "" {
		th := w.ThreadByID(ev.ThreadID)
		if th == nil {
			return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, ev.ThreadID)
		}
		return th, nil
	}
	// Promotional mail always opens a fresh thread.
	if !ev.Type.IsCommunication() {
		return e.createThread(w, ev), nil
	}
	candidates := append([]string{ev.Sender}, ev.Recipients...)
	for i := range w.Threads {
		th := &w.Threads[i]
		if !joinEligible(w, th, ev.Sender, candidates) {
			continue
		}
		if e.rand.Chance(threadJoinProbability) {
			return th, nil
		}
		// 40% chance to start fresh even on a match.
		break
	}
	return e.createThread(w, ev), nil
}

// joinEligible applies the continuity rules: length cap, participant
// overlap, origin-type isolation, and balanced participation.
func joinEligible(w *domain.WorldState, th *domain.Thread, sender string, candidates []string) bool {
	if len(th.EmailIDs) >= maxThreadJoinMessages {
		return false
	}
	if th.OriginType == domain.OriginSpam || th.OriginType == domain.OriginNewsletter {
		return false
	}
	if participantOverlap(th, candidates) < minParticipantOverlap {
		return false
	}
	return balancedParticipation(w, th, sender)
}

func participantOverlap(th *domain.Thread, candidates []string) int {
	n := 0
	for _, c := range candidates {
		if th.HasParticipant(c) {
			n++
		}
	}
	return n
}

// balancedParticipation rejects a prospective sender who wrote the last
// two messages, or who has sent two or more messages beyond what others
// have sent back.
func balancedParticipation(w *domain.WorldState, th *domain.Thread, sender string) bool {
	n := len(th.EmailIDs)
	if n >= 2 {
		a := w.EmailByID(th.EmailIDs[n-1])
		b := w.EmailByID(th.EmailIDs[n-2])
		if a != nil && b != nil && a.From == sender && b.From == sender {
			return false
		}
	}
	sent, received := 0, 0
	for _, id := range th.EmailIDs {
		email := w.EmailByID(id)
		if email == nil {
			continue
		}
		if email.From == sender {
			sent++
		} else {
			received++
		}
	}
	return sent-received < 2
}

func (e *Engine) createThread(w *domain.WorldState, ev domain.PlannedEvent) *domain.Thread {
	th := domain.Thread{
		ID:              uuid.NewString(),
		Subject:         e.threadSubject(w, ev),
		OriginType:      originFor(ev.Type),
		RelatedTensions: append([]string(nil), ev.TensionIDs...),
		CreatedTick:     w.Tick,
	}
	th.AddParticipant(ev.Sender)
	for _, r := range ev.Recipients {
		th.AddParticipant(r)
	}
	w.Threads = append(w.Threads, th)
	return &w.Threads[len(w.Threads)-1]
}

func originFor(t domain.EventType) domain.OriginType {
	switch t {
	case domain.EventSpam:
		return domain.OriginSpam
	case domain.EventNewsletter:
		return domain.OriginNewsletter
	default:
		return domain.OriginCommunication
	}
}

func (e *Engine) threadSubject(w *domain.WorldState, ev domain.PlannedEvent) string {
	switch ev.Type {
	case domain.EventNewsletter:
		theme := "Community"
		if len(w.Documents) > 0 && len(w.Documents[0].Themes) > 0 {
			theme = titleCase(w.Documents[0].Themes[0])
		}
		issue := 1
		for i := range w.Threads {
			if w.Threads[i].OriginType == domain.OriginNewsletter {
				issue++
			}
		}
		return fmt.Sprintf("Weekly %s Digest #%d", theme, issue)
	case domain.EventSpam:
		return rng.Pick(e.rand, spamSubjects)
	}
	if len(ev.TensionIDs) > 0 {
		if t := w.TensionByID(ev.TensionIDs[0]); t != nil {
			return "Re: " + truncate(t.Description, maxSubjectLen)
		}
	}
	return rng.Pick(e.rand, genericSubjects)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// tensionThread finds the ongoing conversation about a tension. Threads
// created for a tension carry the link explicitly; older or external
// threads fall back to keyword matching between subject and
// description, requiring at least two keyword hits.
func tensionThread(w *domain.WorldState, t *domain.Tension) *domain.Thread {
	for i := range w.Threads {
		th := &w.Threads[i]
		if len(th.EmailIDs) == 0 {
			continue
		}
		for _, id := range th.RelatedTensions {
			if id == t.ID {
				return th
			}
		}
	}
	for i := range w.Threads {
		th := &w.Threads[i]
		if len(th.EmailIDs) == 0 || th.OriginType != domain.OriginCommunication {
			continue
		}
		if subjectKeywordHits(th.Subject, t.Description) >= minKeywordHits {
			return th
		}
	}
	return nil
}

// subjectKeywordHits counts how many description keywords appear in the
// subject. The heuristic can over- and under-match; the explicit
// RelatedTensions link is always consulted first.
func subjectKeywordHits(subject, description string) int {
	lower := strings.ToLower(subject)
	hits := 0
	for _, kw := range domain.DescriptionKeywords(description) {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return hits
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max]) + "..."
}
