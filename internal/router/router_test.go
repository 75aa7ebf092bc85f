package router

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"net/http"
	"testing"
	"time"
)

type fakeClient struct {
	responses []Response
	errs      []error
	calls     int
}

func (f *fakeClient) Complete(ctx context.Context, req Request) (Response, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	} else if len(f.errs) > 0 {
		err = f.errs[len(f.errs)-1]
	}
	if err != nil {
		return Response{}, err
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	if len(f.responses) > 0 {
		return f.responses[len(f.responses)-1], nil
	}
	return Response{Text: "ok", PromptTokens: 10, CompletionTokens: 5}, nil
}

func newTestRouter(t *testing.T, providers []ProviderConfig, chain []string) *Router {
	t.Helper()
	r, err := New(providers, chain, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return r
}

func twoTierRouter(t *testing.T) (*Router, *fakeClient, *fakeClient) {
	t.Helper()
	r := newTestRouter(t, []ProviderConfig{
		{ID: "premium", CostPerMillion: 15, MaxRetries: 1},
		{ID: "economy", CostPerMillion: 1, MaxRetries: 1},
	}, []string{"premium", "economy"})
	premium := &fakeClient{}
	economy := &fakeClient{}
	if err := r.RegisterClient("premium", premium); err != nil {
		t.Fatalf("register premium: %v", err)
	}
	if err := r.RegisterClient("economy", economy); err != nil {
		t.Fatalf("register economy: %v", err)
	}
	return r, premium, economy
}

func TestFallbackChainServesEveryCall(t *testing.T) {
	r, premium, economy := twoTierRouter(t)
	premium.errs = []error{errors.New("unauthorized")}
	economy.responses = []Response{{Text: "served", PromptTokens: 8, CompletionTokens: 4}}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		text, err := r.Generate(ctx, "premium", "hello", Options{})
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if text != "served" {
			t.Fatalf("call %d: text=%q want=%q", i, text, "served")
		}
	}

	usage := r.CumulativeUsage()
	eco := usage.ByProvider["economy"]
	if eco.Calls != 3 || eco.Failures != 0 {
		t.Fatalf("economy usage=%+v want 3 calls 0 failures", eco)
	}
	prem := usage.ByProvider["premium"]
	if prem.Failures != prem.Calls {
		t.Fatalf("premium usage=%+v want all calls failed", prem)
	}
	if prem.TotalCost != 0 {
		t.Fatalf("failed calls must cost zero, got %v", prem.TotalCost)
	}
}

func TestChainExhaustionSurfacesError(t *testing.T) {
	r, premium, economy := twoTierRouter(t)
	premium.errs = []error{errors.New("boom")}
	economy.errs = []error{errors.New("also boom")}

	_, err := r.Generate(context.Background(), "premium", "hello", Options{})
	if !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("err=%v want ErrChainExhausted", err)
	}
}

func TestRateLimitRetriesWithBackoff(t *testing.T) {
	r := newTestRouter(t, []ProviderConfig{
		{ID: "premium", BaseDelay: 100 * time.Millisecond, MaxRetries: 3},
	}, []string{"premium"})
	var waits []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	client := &fakeClient{
		errs: []error{
			&HTTPError{StatusCode: http.StatusTooManyRequests},
			&HTTPError{StatusCode: http.StatusTooManyRequests},
			nil,
		},
		responses: []Response{{}, {}, {Text: "eventually", PromptTokens: 1, CompletionTokens: 1}},
	}
	if err := r.RegisterClient("premium", client); err != nil {
		t.Fatalf("register: %v", err)
	}

	text, err := r.Generate(context.Background(), "premium", "hi", Options{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "eventually" {
		t.Fatalf("text=%q want=%q", text, "eventually")
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("waits=%v want=%v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("wait[%d]=%v want=%v", i, waits[i], want[i])
		}
	}
}

func TestNonRateLimitErrorDoesNotRetrySameProvider(t *testing.T) {
	r, premium, economy := twoTierRouter(t)
	premium.errs = []error{&HTTPError{StatusCode: http.StatusUnauthorized}}
	economy.responses = []Response{{Text: "ok", PromptTokens: 1, CompletionTokens: 1}}

	if _, err := r.Generate(context.Background(), "premium", "hi", Options{}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if premium.calls != 1 {
		t.Fatalf("premium calls=%d want=1", premium.calls)
	}
}

func TestCumulativeCostMatchesCallRecords(t *testing.T) {
	r, premium, economy := twoTierRouter(t)
	premium.errs = []error{errors.New("down")}
	economy.responses = []Response{{Text: "a", PromptTokens: 500_000, CompletionTokens: 500_000}}

	for i := 0; i < 4; i++ {
		if _, err := r.Generate(context.Background(), "premium", "x", Options{}); err != nil {
			t.Fatalf("generate: %v", err)
		}
	}

	var sum float64
	for _, rec := range r.CallRecords() {
		sum += rec.EstimatedCost
	}
	usage := r.CumulativeUsage()
	if math.Abs(usage.TotalCost-sum) > 1e-9 {
		t.Fatalf("totalCost=%v want=%v", usage.TotalCost, sum)
	}
	// 1M tokens at $1/M per successful economy call.
	if math.Abs(usage.TotalCost-4.0) > 1e-9 {
		t.Fatalf("totalCost=%v want=4.0", usage.TotalCost)
	}
}

func TestResetClearsAccountingButKeepsVoices(t *testing.T) {
	r, _, economy := twoTierRouter(t)
	economy.responses = []Response{{Text: "ok", PromptTokens: 1, CompletionTokens: 1}}
	if err := r.BindVoice("char-1", Voice{Provider: "economy", System: "be brief"}); err != nil {
		t.Fatalf("bind voice: %v", err)
	}
	if _, err := r.GenerateAsCharacter(context.Background(), "char-1", "hi", Options{}); err != nil {
		t.Fatalf("generate as character: %v", err)
	}

	r.Reset()
	usage := r.CumulativeUsage()
	if usage.Calls != 0 || usage.TotalCost != 0 {
		t.Fatalf("usage after reset=%+v want zero", usage)
	}
	if _, ok := r.VoiceFor("char-1"); !ok {
		t.Fatalf("voice binding lost on reset")
	}
}

func TestGenerateAsCharacterUnboundFails(t *testing.T) {
	r, _, _ := twoTierRouter(t)
	_, err := r.GenerateAsCharacter(context.Background(), "ghost", "hi", Options{})
	if !errors.Is(err, ErrNoVoiceBinding) {
		t.Fatalf("err=%v want ErrNoVoiceBinding", err)
	}
}

func TestGenerateStructuredStripsFences(t *testing.T) {
	r := newTestRouter(t, []ProviderConfig{{ID: "economy"}}, []string{"economy"})
	client := &fakeClient{responses: []Response{{
		Text:             "```json\n{\"topics\":[\"funding\"]}\n```",
		PromptTokens:     1,
		CompletionTokens: 1,
	}}}
	if err := r.RegisterClient("economy", client); err != nil {
		t.Fatalf("register: %v", err)
	}

	type analysis struct {
		Topics []string `json:"topics"`
	}
	got, err := GenerateStructured[analysis](context.Background(), r, "economy", "analyze", Options{})
	if err != nil {
		t.Fatalf("structured: %v", err)
	}
	if len(got.Topics) != 1 || got.Topics[0] != "funding" {
		t.Fatalf("topics=%v want=[funding]", got.Topics)
	}
}

func TestGenerateStructuredSurfacesParseError(t *testing.T) {
	r := newTestRouter(t, []ProviderConfig{{ID: "economy"}}, []string{"economy"})
	client := &fakeClient{responses: []Response{{Text: "not json", PromptTokens: 1, CompletionTokens: 1}}}
	if err := r.RegisterClient("economy", client); err != nil {
		t.Fatalf("register: %v", err)
	}

	type analysis struct{}
	if _, err := GenerateStructured[analysis](context.Background(), r, "economy", "analyze", Options{}); err == nil {
		t.Fatalf("expected parse error, got nil")
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n[1,2]\n```", "[1,2]"},
		{"  ```json\n{}\n```  ", "{}"},
	}
	for _, c := range cases {
		if got := StripCodeFence(c.in); got != c.want {
			t.Fatalf("StripCodeFence(%q)=%q want=%q", c.in, got, c.want)
		}
	}
}

func TestIsRateLimit(t *testing.T) {
	if !IsRateLimit(&HTTPError{StatusCode: 429}) {
		t.Fatalf("429 must be a rate limit")
	}
	if !IsRateLimit(errors.New("provider rate limit exceeded")) {
		t.Fatalf("message-based detection failed")
	}
	if IsRateLimit(&HTTPError{StatusCode: 500}) {
		t.Fatalf("500 is not a rate limit")
	}
	if IsRateLimit(nil) {
		t.Fatalf("nil is not a rate limit")
	}
}
