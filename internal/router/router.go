// Package router fans prompt/response calls out to one of several
// text-generation providers, with per-call retry on rate limits, a
// static fallback chain between providers, voice bindings for
// characters, and running cost accounting.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrChainExhausted  = errors.New("all providers in fallback chain failed")
	ErrNoVoiceBinding  = errors.New("character has no voice binding")
)

const (
	defaultBaseDelay  = 500 * time.Millisecond
	defaultMaxRetries = 3
)

// ProviderConfig describes one configured provider tier.
type ProviderConfig struct {
	ID string
	// BaseDelay seeds the exponential backoff on rate limits.
	BaseDelay  time.Duration
	MaxRetries int
	// CostPerMillion is the blended per-million-token rate used for
	// operational cost reporting.
	CostPerMillion float64
}

func (p ProviderConfig) withDefaults() ProviderConfig {
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaultMaxRetries
	}
	return p
}

// Options tune a single generation call.
type Options struct {
	System      string
	MaxTokens   int
	Temperature float64
}

// Voice is a character's binding to a provider plus the persona the
// provider writes as, rendered to a system prompt.
type Voice struct {
	Provider string
	System   string
}

// CallRecord is the per-call accounting entry. Failed calls are logged
// with zero cost.
type CallRecord struct {
	Provider         string
	PromptTokens     int
	CompletionTokens int
	EstimatedCost    float64
	Duration         time.Duration
	Err              string
}

// ProviderUsage aggregates records for one provider.
type ProviderUsage struct {
	Calls       int
	Failures    int
	TotalTokens int
	TotalCost   float64
}

// Usage is the cumulative accounting across all providers.
type Usage struct {
	Calls       int
	TotalTokens int
	TotalCost   float64
	ByProvider  map[string]ProviderUsage
}

// Router owns one Client per configured provider and the static
// fallback chain between them.
type Router struct {
	providers map[string]ProviderConfig
	clients   map[string]Client
	chain     []string
	logger    *log.Logger

	// sleep is swappable in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	voices  map[string]Voice
	records []CallRecord
	usage   Usage
}

// New builds a router over the given providers. chain lists provider
// ids in fallback order (most preferred first); every chain entry must
// have a registered config.
func New(providers []ProviderConfig, chain []string, logger *log.Logger) (*Router, error) {
	if logger == nil {
		logger = log.Default()
	}
	byID := make(map[string]ProviderConfig, len(providers))
	for _, p := range providers {
		if p.ID == "" {
			return nil, fmt.Errorf("provider with empty id")
		}
		byID[p.ID] = p.withDefaults()
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("empty fallback chain")
	}
	for _, id := range chain {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("fallback chain references %w: %s", ErrUnknownProvider, id)
		}
	}
	return &Router{
		providers: byID,
		clients:   make(map[string]Client),
		chain:     append([]string(nil), chain...),
		logger:    logger,
		sleep:     sleepCtx,
		voices:    make(map[string]Voice),
		usage:     Usage{ByProvider: make(map[string]ProviderUsage)},
	}, nil
}

// RegisterClient attaches the client serving one provider id.
func (r *Router) RegisterClient(providerID string, c Client) error {
	if _, ok := r.providers[providerID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	r.clients[providerID] = c
	return nil
}

// BindVoice associates a character with a provider and persona.
func (r *Router) BindVoice(characterID string, v Voice) error {
	if _, ok := r.providers[v.Provider]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, v.Provider)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voices[characterID] = v
	return nil
}

// VoiceFor returns the binding for a character, if any.
func (r *Router) VoiceFor(characterID string) (Voice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.voices[characterID]
	return v, ok
}

// Generate runs a prompt against the preferred provider, retrying rate
// limits with exponential backoff and walking the fallback chain on any
// other failure. Exhausting the chain returns the last error wrapped in
// ErrChainExhausted.
func (r *Router) Generate(ctx context.Context, providerID, prompt string, opts Options) (string, error) {
	order := r.attemptOrder(providerID)
	if len(order) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	var lastErr error
	for _, id := range order {
		text, err := r.generateWithRetries(ctx, id, prompt, opts)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.logger.Printf("router provider failed provider=%s err=%v", id, err)
	}
	return "", fmt.Errorf("%w: %v", ErrChainExhausted, lastErr)
}

// GenerateAsCharacter routes the call through the character's voice
// binding, prepending its persona as the system prompt.
func (r *Router) GenerateAsCharacter(ctx context.Context, characterID, prompt string, opts Options) (string, error) {
	v, ok := r.VoiceFor(characterID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoVoiceBinding, characterID)
	}
	if opts.System == "" {
		opts.System = v.System
	}
	return r.Generate(ctx, v.Provider, prompt, opts)
}

// CumulativeUsage returns a snapshot of the running totals.
func (r *Router) CumulativeUsage() Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Usage{
		Calls:       r.usage.Calls,
		TotalTokens: r.usage.TotalTokens,
		TotalCost:   r.usage.TotalCost,
		ByProvider:  make(map[string]ProviderUsage, len(r.usage.ByProvider)),
	}
	for k, v := range r.usage.ByProvider {
		out.ByProvider[k] = v
	}
	return out
}

// CallRecords returns a copy of the per-call log.
func (r *Router) CallRecords() []CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CallRecord(nil), r.records...)
}

// Reset clears the per-run accounting state. Call between independent
// simulation runs; voice bindings survive a reset.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	r.usage = Usage{ByProvider: make(map[string]ProviderUsage)}
}

// attemptOrder returns the preferred provider followed by the remaining
// chain entries in chain order.
func (r *Router) attemptOrder(providerID string) []string {
	if _, ok := r.providers[providerID]; !ok {
		return nil
	}
	order := []string{providerID}
	for _, id := range r.chain {
		if id != providerID {
			order = append(order, id)
		}
	}
	return order
}

func (r *Router) generateWithRetries(ctx context.Context, providerID, prompt string, opts Options) (string, error) {
	cfg := r.providers[providerID]
	client, ok := r.clients[providerID]
	if !ok {
		return "", fmt.Errorf("no client registered for provider %s", providerID)
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		start := time.Now()
		resp, err := client.Complete(ctx, Request{
			System:      opts.System,
			Prompt:      prompt,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		})
		r.record(providerID, cfg, resp, time.Since(start), err)
		if err == nil {
			return resp.Text, nil
		}
		lastErr = err
		if !IsRateLimit(err) {
			break
		}
		if attempt == cfg.MaxRetries {
			break
		}
		wait := cfg.BaseDelay * (1 << attempt)
		r.logger.Printf("router rate limited provider=%s attempt=%d wait=%s", providerID, attempt+1, wait)
		if err := r.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

// record logs one call, successful or not, into the running totals.
// Accounting is a pure side effect with no influence on control flow.
func (r *Router) record(providerID string, cfg ProviderConfig, resp Response, d time.Duration, callErr error) {
	rec := CallRecord{
		Provider: providerID,
		Duration: d,
	}
	if callErr != nil {
		rec.Err = callErr.Error()
	} else {
		tokens := resp.PromptTokens + resp.CompletionTokens
		rec.PromptTokens = resp.PromptTokens
		rec.CompletionTokens = resp.CompletionTokens
		rec.EstimatedCost = float64(tokens) / 1_000_000 * cfg.CostPerMillion
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	r.usage.Calls++
	r.usage.TotalTokens += rec.PromptTokens + rec.CompletionTokens
	r.usage.TotalCost += rec.EstimatedCost
	pu := r.usage.ByProvider[providerID]
	pu.Calls++
	if callErr != nil {
		pu.Failures++
	}
	pu.TotalTokens += rec.PromptTokens + rec.CompletionTokens
	pu.TotalCost += rec.EstimatedCost
	r.usage.ByProvider[providerID] = pu
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
