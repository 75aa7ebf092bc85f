package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"mailweave/internal/config"
	"mailweave/internal/domain"
	"mailweave/internal/export"
	"mailweave/internal/progress"
	"mailweave/internal/router"
	"mailweave/internal/sim"
	sqlitestore "mailweave/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.mailweave/config.toml)")
	seedPath := flag.String("seed", "", "path to the world seed yaml (required)")
	dbPathFlag := flag.String("db", "", "sqlite database path override")
	outFlag := flag.String("out", "", "mailbox export directory override")
	targetFlag := flag.Int("target", 0, "target email count override")
	timeoutFlag := flag.Int("timeout-ms", 0, "wall-clock budget override in milliseconds")
	flag.Parse()

	if strings.TrimSpace(*seedPath) == "" {
		log.Fatal("a -seed file is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbPath := filepath.Clean(firstNonEmpty(*dbPathFlag, "data/mailweave.db"))
	outDir := filepath.Clean(firstNonEmpty(*outFlag, "out"))

	world, err := config.LoadSeed(*seedPath, domain.WorldConfig{
		TargetEmails:           intOrDefault(*targetFlag, cfg.Simulation.TargetEmails),
		SpamRatio:              cfg.Simulation.SpamRatio,
		NewsletterCadenceTicks: cfg.Simulation.NewsletterCadenceTicks,
		TensionDensity:         cfg.Simulation.TensionDensity,
	})
	if err != nil {
		log.Fatalf("load seed: %v", err)
	}

	rt, err := buildRouter(cfg, world)
	if err != nil {
		log.Fatalf("build router: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("create db directory: %v", err)
	}
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate sqlite: %v", err)
	}

	bus := progress.New(256)
	var watchers sync.WaitGroup

	printer := bus.Subscribe("printer")
	watchers.Add(1)
	go func() {
		defer watchers.Done()
		for tr := range printer {
			log.Printf(
				"tick %d emails=%d (+%d) fallback=%d resolved=%d cost=$%.4f",
				tr.Tick,
				len(tr.NewEmails), tr.Metrics.EmailsGenerated,
				tr.Metrics.FallbackEmails, tr.Metrics.TensionsResolved,
				tr.Metrics.Cost,
			)
		}
	}()

	persister := bus.Subscribe("persister")
	watchers.Add(1)
	go func() {
		defer watchers.Done()
		for tr := range persister {
			if err := store.SaveTick(context.Background(), tr); err != nil {
				log.Printf("persist tick %d: %v", tr.Tick, err)
			}
		}
	}()

	simCfg := sim.Config{
		TargetEmails:     world.Config.TargetEmails,
		Timeout:          durationMS(intOrDefault(*timeoutFlag, cfg.Simulation.TimeoutMS), 10*time.Minute),
		TickDuration:     time.Duration(intOrDefault(cfg.Simulation.TickDurationHours, 4)) * time.Hour,
		TickDelay:        durationMS(cfg.Simulation.TickDelayMS, 0),
		EventsPerTick:    cfg.Simulation.EventsPerTick,
		AnalysisProvider: cfg.AnalysisProvider,
		Seed:             cfg.Simulation.Seed,
		OnTick: func(tr domain.TickResult) {
			_ = bus.Publish(tr)
		},
	}

	log.Printf(
		"mailweave started seed=%s characters=%d tensions=%d target=%d chain=%s",
		*seedPath, len(world.Characters), len(world.Tensions),
		simCfg.TargetEmails, strings.Join(cfg.FallbackChain, ">"),
	)

	res, err := sim.Run(ctx, world, rt, simCfg)
	bus.Close()
	watchers.Wait()
	if err != nil {
		log.Fatalf("simulation failed: %v", err)
	}

	usage := rt.CumulativeUsage()
	if err := store.SaveWorld(context.Background(), res.World, res.Reason, usage.TotalCost); err != nil {
		log.Fatalf("persist world: %v", err)
	}

	gateway, err := export.NewGateway(outDir)
	if err != nil {
		log.Fatalf("create export gateway: %v", err)
	}
	if err := gateway.WriteMailbox(res.World); err != nil {
		log.Fatalf("export mailbox: %v", err)
	}

	log.Printf(
		"run finished reason=%s ticks=%d emails=%d threads=%d db=%s out=%s",
		res.Reason, res.World.Tick, len(res.World.Emails), len(res.World.Threads), dbPath, outDir,
	)
	printUsage(usage)
}

func buildRouter(cfg config.Config, world *domain.WorldState) (*router.Router, error) {
	providers := make([]router.ProviderConfig, 0, len(cfg.Providers))
	for id, p := range cfg.Providers {
		providers = append(providers, router.ProviderConfig{
			ID:             id,
			BaseDelay:      durationMS(p.BaseDelayMS, 0),
			MaxRetries:     p.MaxRetries,
			CostPerMillion: p.CostPerMillion,
		})
	}

	rt, err := router.New(providers, cfg.FallbackChain, log.Default())
	if err != nil {
		return nil, err
	}

	for id, p := range cfg.Providers {
		apiKey := ""
		if p.APIKeyEnv != "" {
			apiKey = os.Getenv(p.APIKeyEnv)
			if apiKey == "" {
				log.Printf("warning: %s is empty, provider %s will send unauthenticated requests", p.APIKeyEnv, id)
			}
		}
		client, err := router.NewHTTPClient(router.HTTPClientConfig{
			Endpoint: p.Endpoint,
			Model:    p.Model,
			APIKey:   apiKey,
			Timeout:  durationMS(p.TimeoutMS, 60*time.Second),
		})
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}
		if err := rt.RegisterClient(id, client); err != nil {
			return nil, err
		}
	}

	for _, c := range world.Characters {
		provider := c.Voice.Provider
		if provider == "" {
			provider = cfg.FallbackChain[0]
		}
		if err := rt.BindVoice(c.ID, router.Voice{
			Provider: provider,
			System:   systemPrompt(c),
		}); err != nil {
			return nil, fmt.Errorf("bind voice for %s: %w", c.ID, err)
		}
	}
	return rt, nil
}

// systemPrompt renders a character's persona as the standing
// instruction every generation call for that character carries.
func systemPrompt(c domain.Character) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You write emails in character as %s.", c.Name)
	if c.Voice.Persona.Tone != "" {
		fmt.Fprintf(&b, " Your tone is %s.", c.Voice.Persona.Tone)
	}
	if len(c.Voice.Persona.Vocabulary) > 0 {
		fmt.Fprintf(&b, " You favor words like %s.", strings.Join(c.Voice.Persona.Vocabulary, ", "))
	}
	if len(c.Voice.Persona.Quirks) > 0 {
		fmt.Fprintf(&b, " Writing quirks: %s.", strings.Join(c.Voice.Persona.Quirks, "; "))
	}
	if c.Voice.Persona.SignOff != "" {
		fmt.Fprintf(&b, " You sign off with %q.", c.Voice.Persona.SignOff)
	}
	b.WriteString(" Write only the email body, no headers.")
	return b.String()
}

func printUsage(u router.Usage) {
	names := make([]string, 0, len(u.ByProvider))
	for name := range u.ByProvider {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := u.ByProvider[name]
		log.Printf(
			"provider %s calls=%d failures=%d tokens=%d cost=$%.4f",
			name, p.Calls, p.Failures, p.TotalTokens, p.TotalCost,
		)
	}
	log.Printf("total calls=%d tokens=%d cost=$%.4f", u.Calls, u.TotalTokens, u.TotalCost)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func durationMS(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func intOrDefault(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
