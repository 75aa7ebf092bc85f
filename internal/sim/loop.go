// Package sim is the tick-driven narrative engine: each tick it plans
// events from tensions and goals, resolves them onto conversation
// threads, generates the resulting emails through the provider router,
// and folds the changes back into the world state.
package sim

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"mailweave/internal/domain"
	"mailweave/internal/rng"
	"mailweave/internal/router"
)

const (
	defaultTargetEmails = 40
	defaultTimeout      = 10 * time.Minute
	defaultTickDuration = 4 * time.Hour
)

// Config tunes one simulation run.
type Config struct {
	TargetEmails int
	// Timeout is the wall-clock budget, checked once per tick; a tick
	// already in progress runs to completion.
	Timeout      time.Duration
	TickDuration time.Duration
	// EventsPerTick caps goal-driven events only; tension- and
	// archetype-driven events ride outside the budget.
	EventsPerTick int
	// TickDelay is a short real-time pause between ticks to stay under
	// provider rate limits. Not a correctness requirement.
	TickDelay time.Duration
	// AnalysisProvider serves the low-cost structured thread analysis,
	// typically the cheapest tier in the chain.
	AnalysisProvider string
	Seed             int64
	Rand             *rng.Source
	Logger           *log.Logger
	// OnTick is invoked synchronously after each tick. It may be nil.
	OnTick func(domain.TickResult)
}

func (c Config) withDefaults() Config {
	if c.TargetEmails <= 0 {
		c.TargetEmails = defaultTargetEmails
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.TickDuration <= 0 {
		c.TickDuration = defaultTickDuration
	}
	if c.EventsPerTick <= 0 {
		c.EventsPerTick = defaultEventsPerTick
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Rand == nil {
		seed := c.Seed
		if seed == 0 {
			s, err := rng.NewSeed()
			if err == nil {
				seed = s
			}
		}
		c.Rand = rng.New(seed)
	}
	return c
}

// Engine holds the per-run state of one simulation.
type Engine struct {
	cfg      Config
	router   *router.Router
	rand     *rng.Source
	analysis *AnalysisCache
	logger   *log.Logger
}

// RunResult is the outcome of a full simulation run.
type RunResult struct {
	World  *domain.WorldState
	Ticks  []domain.TickResult
	Reason domain.StopReason
}

// NewEngine wires an engine for one run. The analysis cache is owned by
// the engine and cleared when Run starts, so independent runs never
// share state.
func NewEngine(rt *router.Router, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		router:   rt,
		rand:     cfg.Rand,
		analysis: NewAnalysisCache(),
		logger:   cfg.Logger,
	}
}

// Run executes the tick loop over a clone of the initial world until
// the email target is reached or the wall-clock budget elapses. The
// simulation degrades rather than fails: Run returns an error only for
// a nil world.
func Run(ctx context.Context, initial *domain.WorldState, rt *router.Router, cfg Config) (RunResult, error) {
	return NewEngine(rt, cfg).Run(ctx, initial)
}

func (e *Engine) Run(ctx context.Context, initial *domain.WorldState) (RunResult, error) {
	if initial == nil {
		return RunResult{}, fmt.Errorf("nil initial world")
	}
	e.analysis.Clear()

	world := initial.Clone()
	start := time.Now()
	var results []domain.TickResult
	reason := domain.StopTargetReached

	for {
		if len(world.Emails) >= e.cfg.TargetEmails {
			reason = domain.StopTargetReached
			break
		}
		if time.Since(start) >= e.cfg.Timeout {
			reason = domain.StopTimeout
			break
		}
		if ctx.Err() != nil {
			reason = domain.StopCanceled
			break
		}

		next := world.Clone()
		result := e.tick(ctx, next)
		results = append(results, result)
		if e.cfg.OnTick != nil {
			e.cfg.OnTick(result)
		}
		world = next

		if e.cfg.TickDelay > 0 {
			timer := time.NewTimer(e.cfg.TickDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}

	e.logger.Printf("sim run finished reason=%s ticks=%d emails=%d cost=%.4f",
		reason, len(results), len(world.Emails), e.router.CumulativeUsage().TotalCost)
	return RunResult{World: world, Ticks: results, Reason: reason}, nil
}

// tick advances the world by one step: plan, realize, update.
func (e *Engine) tick(ctx context.Context, w *domain.WorldState) domain.TickResult {
	tickStart := time.Now()
	costBefore := e.router.CumulativeUsage().TotalCost

	w.Tick++
	windowStart := w.SimTime
	windowEnd := windowStart.Add(e.cfg.TickDuration)

	planned := e.planEvents(w)

	var changes []string
	var newEmails []domain.Email
	var tickEvents []domain.Event
	// A tension only advances when its event produced an email, so a
	// dropped event leaves the tension on the decay path.
	selected := make(map[string]bool)
	fallbacks := 0

	for _, ev := range planned {
		email, rec, ok := e.realizeEvent(ctx, w, ev, windowStart, windowEnd, &changes)
		if !ok {
			continue
		}
		for _, id := range ev.TensionIDs {
			selected[id] = true
		}
		newEmails = append(newEmails, email)
		tickEvents = append(tickEvents, rec)
		if email.Provenance.Fallback {
			fallbacks++
		}
	}

	resolvedCount := updateTensions(w, selected, &changes)
	w.SimTime = windowEnd

	result := domain.TickResult{
		Tick:         w.Tick,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		Events:       tickEvents,
		NewEmails:    newEmails,
		StateChanges: changes,
		Metrics: domain.TickMetrics{
			EventsPlanned:    len(planned),
			EmailsGenerated:  len(newEmails),
			TensionsResolved: resolvedCount,
			FallbackEmails:   fallbacks,
			Duration:         time.Since(tickStart),
			Cost:             e.router.CumulativeUsage().TotalCost - costBefore,
		},
	}
	return result
}

// realizeEvent resolves the thread, generates the email, and applies
// the event's side effects to the world. A skipped event returns
// ok=false and is never fatal.
func (e *Engine) realizeEvent(ctx context.Context, w *domain.WorldState, ev domain.PlannedEvent, windowStart, windowEnd time.Time, changes *[]string) (domain.Email, domain.Event, bool) {
	th, err := e.resolveThread(w, ev)
	if err != nil {
		e.logger.Printf("sim skipping event type=%s err=%v", ev.Type, err)
		return domain.Email{}, domain.Event{}, false
	}

	sendAt := e.sendTimeWithin(windowStart, windowEnd)
	email, ok := e.generateEmail(ctx, w, ev, th, sendAt)
	if !ok {
		return domain.Email{}, domain.Event{}, false
	}

	w.Emails = append(w.Emails, email)
	th.EmailIDs = append(th.EmailIDs, email.ID)
	th.AddParticipant(email.From)
	for _, r := range email.To {
		th.AddParticipant(r)
	}

	if ev.Type == domain.EventNewsletter {
		w.LastNewsletterTick = w.Tick
	}
	if ev.GoalID != "" {
		if sender := w.CharacterByID(ev.Sender); sender != nil {
			if progressGoal(sender, ev.GoalID, goalPhraseOf(sender, ev.GoalID)) {
				*changes = append(*changes, fmt.Sprintf("goal %s progressed by %s", ev.GoalID, sender.ID))
			}
		}
	}
	e.propagateKnowledge(w, ev, changes)

	rec := domain.Event{
		ID:           uuid.NewString(),
		Tick:         w.Tick,
		Type:         ev.Type,
		Description:  ev.Description,
		Participants: append([]string{ev.Sender}, ev.Recipients...),
		EmailID:      email.ID,
	}
	w.Events = append(w.Events, rec)
	return email, rec, true
}

// sendTimeWithin places the email uniformly inside the tick's simulated
// window, which yields natural-looking gaps without sub-tick
// scheduling.
func (e *Engine) sendTimeWithin(start, end time.Time) time.Time {
	window := end.Sub(start)
	if window <= 0 {
		return start
	}
	return start.Add(time.Duration(e.rand.Float64() * float64(window)))
}

// propagateKnowledge has recipients absorb what the email touches on.
func (e *Engine) propagateKnowledge(w *domain.WorldState, ev domain.PlannedEvent, changes *[]string) {
	if !ev.Type.IsCommunication() {
		return
	}
	for _, id := range ev.Recipients {
		c := w.CharacterByID(id)
		if c == nil {
			continue
		}
		for _, tid := range ev.TensionIDs {
			t := w.TensionByID(tid)
			if t == nil || c.Knows(t.Description) {
				continue
			}
			c.Knowledge = append(c.Knowledge, t.Description)
			*changes = append(*changes, fmt.Sprintf("character %s learned about %s", c.ID, tid))
		}
		if ev.GoalID != "" && !c.Knows(ev.Description) {
			c.Knowledge = append(c.Knowledge, ev.Description)
		}
	}
}

func goalPhraseOf(c *domain.Character, goalID string) string {
	for i := range c.Goals {
		if c.Goals[i].ID == goalID {
			return goalPhrase(c.Goals[i])
		}
	}
	return ""
}
