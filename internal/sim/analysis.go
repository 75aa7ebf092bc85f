package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"mailweave/internal/domain"
	"mailweave/internal/router"
)

// analysisHistoryWindow bounds how much of the thread the low-cost
// semantic pass sees.
const analysisHistoryWindow = 5

// AnalysisCache memoizes the semantic thread analysis per thread,
// invalidated whenever the thread grows. It is owned by one simulation
// run; Clear is called at run start so nothing leaks across runs.
type AnalysisCache struct {
	mu      sync.Mutex
	entries map[string]analysisEntry
}

type analysisEntry struct {
	analysis   domain.ThreadAnalysis
	emailCount int
}

func NewAnalysisCache() *AnalysisCache {
	return &AnalysisCache{entries: make(map[string]analysisEntry)}
}

// Get returns the cached analysis only if it was computed at the
// thread's current email count.
func (c *AnalysisCache) Get(threadID string, emailCount int) (domain.ThreadAnalysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[threadID]
	if !ok || entry.emailCount != emailCount {
		return domain.ThreadAnalysis{}, false
	}
	return entry.analysis, true
}

func (c *AnalysisCache) Put(threadID string, emailCount int, a domain.ThreadAnalysis) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[threadID] = analysisEntry{analysis: a, emailCount: emailCount}
}

func (c *AnalysisCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]analysisEntry)
}

// threadAnalysis fetches or computes the semantic summary of a
// conversation. Any failure degrades to "no analysis" so email
// generation is never blocked on it.
func (e *Engine) threadAnalysis(ctx context.Context, w *domain.WorldState, th *domain.Thread) (domain.ThreadAnalysis, bool) {
	if e.cfg.AnalysisProvider == "" || len(th.EmailIDs) < 2 {
		return domain.ThreadAnalysis{}, false
	}
	if a, ok := e.analysis.Get(th.ID, len(th.EmailIDs)); ok {
		return a, true
	}
	prompt := buildAnalysisPrompt(w, th)
	a, err := router.GenerateStructured[domain.ThreadAnalysis](ctx, e.router, e.cfg.AnalysisProvider, prompt, router.Options{
		MaxTokens: 400,
	})
	if err != nil {
		e.logger.Printf("sim thread analysis degraded thread=%s err=%v", th.ID, err)
		return domain.ThreadAnalysis{}, false
	}
	e.analysis.Put(th.ID, len(th.EmailIDs), a)
	return a, true
}

func buildAnalysisPrompt(w *domain.WorldState, th *domain.Thread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this email conversation titled %q.\n\n", th.Subject)
	start := len(th.EmailIDs) - analysisHistoryWindow
	if start < 0 {
		start = 0
	}
	for _, id := range th.EmailIDs[start:] {
		email := w.EmailByID(id)
		if email == nil {
			continue
		}
		name := email.From
		if c := w.CharacterByID(email.From); c != nil {
			name = c.Name
		}
		fmt.Fprintf(&b, "From %s:\n%s\n\n", name, truncate(email.Body, 600))
	}
	b.WriteString(`Respond with JSON only, no markdown fences, in this shape:
{"topics":["..."],"stances":{"participant name":"their stance"},"openQuestions":["..."],"suggestedDirection":"..."}`)
	return b.String()
}
