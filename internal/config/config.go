package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Simulation SimulationConfig          `toml:"simulation"`
	Providers  map[string]ProviderConfig `toml:"providers"`
	// FallbackChain lists provider names most-preferred first.
	FallbackChain []string `toml:"fallback_chain"`
	// AnalysisProvider serves structured thread-analysis calls; usually
	// the cheapest tier. Defaults to the chain's last entry.
	AnalysisProvider string `toml:"analysis_provider"`
	Path             string `toml:"-"`
}

type SimulationConfig struct {
	TargetEmails           int     `toml:"target_emails"`
	TimeoutMS              int     `toml:"timeout_ms"`
	TickDurationHours      int     `toml:"tick_duration_hours"`
	TickDelayMS            int     `toml:"tick_delay_ms"`
	EventsPerTick          int     `toml:"events_per_tick"`
	SpamRatio              float64 `toml:"spam_ratio"`
	NewsletterCadenceTicks int     `toml:"newsletter_cadence_ticks"`
	TensionDensity         float64 `toml:"tension_density"`
	Seed                   int64   `toml:"seed"`
}

type ProviderConfig struct {
	Endpoint string `toml:"endpoint"`
	Model    string `toml:"model"`
	// APIKeyEnv names the environment variable holding the key, so
	// config files stay free of secrets.
	APIKeyEnv      string  `toml:"api_key_env"`
	BaseDelayMS    int     `toml:"base_delay_ms"`
	MaxRetries     int     `toml:"max_retries"`
	CostPerMillion float64 `toml:"cost_per_million"`
	TimeoutMS      int     `toml:"timeout_ms"`
}

func Load(path string) (Config, error) {
	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath()
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	raw, err := os.ReadFile(resolved)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(raw), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	cfg.Path = resolved
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if cfg.AnalysisProvider == "" && len(cfg.FallbackChain) > 0 {
		cfg.AnalysisProvider = cfg.FallbackChain[len(cfg.FallbackChain)-1]
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config defines no providers")
	}
	if len(c.FallbackChain) == 0 {
		return fmt.Errorf("config defines no fallback_chain")
	}
	for _, name := range c.FallbackChain {
		if _, ok := c.Providers[name]; !ok {
			return fmt.Errorf("fallback_chain references unknown provider %q", name)
		}
	}
	if c.AnalysisProvider != "" {
		if _, ok := c.Providers[c.AnalysisProvider]; !ok {
			return fmt.Errorf("analysis_provider references unknown provider %q", c.AnalysisProvider)
		}
	}
	if c.Simulation.SpamRatio < 0 || c.Simulation.SpamRatio > 1 {
		return fmt.Errorf("spam_ratio %v outside [0,1]", c.Simulation.SpamRatio)
	}
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailweave/config.toml"
	}
	return filepath.Join(home, ".mailweave", "config.toml")
}
