package sim

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailweave/internal/domain"
	"mailweave/internal/router"
)

// historyWindow is how many trailing thread messages ground the prompt.
const historyWindow = 4

// generateEmail turns a planned event into an email. Generation
// failures fall back to deterministic templated prose; the only reasons
// to return ok=false are data inconsistencies (unknown sender, no
// resolvable recipient).
func (e *Engine) generateEmail(ctx context.Context, w *domain.WorldState, ev domain.PlannedEvent, th *domain.Thread, sendAt time.Time) (domain.Email, bool) {
	sender := w.CharacterByID(ev.Sender)
	if sender == nil {
		e.logger.Printf("sim skipping event: unknown sender id=%s", ev.Sender)
		return domain.Email{}, false
	}
	var recipients []*domain.Character
	for _, id := range ev.Recipients {
		if c := w.CharacterByID(id); c != nil {
			recipients = append(recipients, c)
		}
	}
	if ev.Type.IsCommunication() && len(recipients) == 0 {
		e.logger.Printf("sim dropping event: no resolvable recipient sender=%s", ev.Sender)
		return domain.Email{}, false
	}

	in := promptInput{
		Sender:     sender,
		Recipients: recipients,
		Thread:     th,
		Event:      ev,
		World:      w,
		Rand:       e.rand,
	}
	if ev.Type.IsCommunication() {
		in.History = threadHistory(w, th, historyWindow)
		in.PointsMade = pointsMadeBy(w, th, sender.ID)
		in.Questions = unansweredQuestions(w, th, sender.ID)
		if a, ok := e.threadAnalysis(ctx, w, th); ok {
			in.Analysis = &a
		}
	}

	strategy := strategyFor(sender.Archetype)
	prompt := strategy.BuildPrompt(in)

	provider := "fallback"
	if v, ok := e.router.VoiceFor(sender.ID); ok {
		provider = v.Provider
	}
	fallback := false
	body, err := e.router.GenerateAsCharacter(ctx, sender.ID, prompt, router.Options{
		MaxTokens:   600,
		Temperature: 0.8,
	})
	if err != nil {
		// A tick must never fail because generation failed.
		e.logger.Printf("sim generation fallback sender=%s err=%v", sender.ID, err)
		body = strategy.FallbackBody(in)
		fallback = true
	}

	subject := th.Subject
	inReplyTo := ""
	if last := w.LastThreadEmail(th); last != nil {
		inReplyTo = last.ID
		if !strings.HasPrefix(subject, "Re: ") {
			subject = "Re: " + subject
		}
		if !sendAt.After(last.SentAt) {
			sendAt = last.SentAt.Add(time.Minute)
		}
	}

	to := make([]string, len(recipients))
	for i, r := range recipients {
		to[i] = r.ID
	}
	return domain.Email{
		ID:          uuid.NewString(),
		ThreadID:    th.ID,
		From:        sender.ID,
		To:          to,
		Subject:     subject,
		Body:        body,
		SentAt:      sendAt,
		GeneratedAt: time.Now().UTC(),
		InReplyTo:   inReplyTo,
		References:  append([]string(nil), th.EmailIDs...),
		Folder:      folderFor(ev.Type),
		Provenance: domain.Provenance{
			CharacterID: sender.ID,
			Provider:    provider,
			EventType:   ev.Type,
			Tick:        w.Tick,
			Fallback:    fallback,
		},
	}, true
}

func folderFor(t domain.EventType) domain.Folder {
	switch t {
	case domain.EventSpam:
		return domain.FolderSpam
	case domain.EventNewsletter:
		return domain.FolderNewsletters
	default:
		return domain.FolderInbox
	}
}

// threadHistory returns the last n emails of the thread, oldest first.
func threadHistory(w *domain.WorldState, th *domain.Thread, n int) []*domain.Email {
	start := len(th.EmailIDs) - n
	if start < 0 {
		start = 0
	}
	var out []*domain.Email
	for _, id := range th.EmailIDs[start:] {
		if email := w.EmailByID(id); email != nil {
			out = append(out, email)
		}
	}
	return out
}

// pointsMadeBy collects the opening point of each message the sender
// already posted to the thread, so the prompt can forbid repetition.
func pointsMadeBy(w *domain.WorldState, th *domain.Thread, senderID string) []string {
	var points []string
	for _, id := range th.EmailIDs {
		email := w.EmailByID(id)
		if email == nil || email.From != senderID {
			continue
		}
		if p := firstSentence(email.Body); p != "" {
			points = append(points, p)
		}
	}
	return points
}

// unansweredQuestions extracts questions posed by others after the
// sender's last message in the thread.
func unansweredQuestions(w *domain.WorldState, th *domain.Thread, senderID string) []string {
	lastSelf := -1
	for i, id := range th.EmailIDs {
		if email := w.EmailByID(id); email != nil && email.From == senderID {
			lastSelf = i
		}
	}
	var questions []string
	for i, id := range th.EmailIDs {
		if i <= lastSelf {
			continue
		}
		email := w.EmailByID(id)
		if email == nil || email.From == senderID {
			continue
		}
		questions = append(questions, questionsIn(email.Body)...)
	}
	return questions
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			return strings.TrimSpace(text[:i+1])
		}
	}
	return truncate(text, 120)
}

func questionsIn(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		switch r {
		case '.', '!', '\n':
			start = i + 1
		case '?':
			q := strings.TrimSpace(text[start : i+1])
			if len(q) > 3 {
				out = append(out, q)
			}
			start = i + 1
		}
	}
	return out
}
