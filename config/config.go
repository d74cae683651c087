// Package config loads the gateway's provider/model/routing configuration
// from YAML, layers environment variable overrides on top, and keeps the
// result available as an immutable, atomically-swapped Snapshot so readers
// never observe a half-applied reload.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix recognized for environment-variable overrides,
// e.g. PLEXUS_SERVER_PORT overrides server.port.
const EnvPrefix = "PLEXUS_"

// Snapshot is the full, validated configuration tree for one loaded
// revision. Snapshots are never mutated after Load returns one; a reload
// produces a brand new Snapshot and swaps it in atomically.
type Snapshot struct {
	Server    ServerConfig              `koanf:"server"`
	Providers map[string]ProviderConfig `koanf:"providers"`
	Aliases   map[string]AliasConfig    `koanf:"aliases"`
	Cooldown  CooldownConfig            `koanf:"cooldown"`
	Pricing   map[string]ModelPricing   `koanf:"pricing"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownGrace   time.Duration `koanf:"shutdown_grace"`
	Debug           bool          `koanf:"debug"`
	LogDir          string        `koanf:"log_dir"`
	LogRetentionDay int           `koanf:"log_retention_days"`
}

// ProviderConfig is one upstream credential-bearing backend: an API key
// account, or an OAuth-backed account pool, for a given dialect.
type ProviderConfig struct {
	ID                string                 `koanf:"id"`
	Dialect           string                 `koanf:"dialect"` // chat | messages | gemini | responses: this provider's native wire dialect
	SupportedDialects []string               `koanf:"supported_dialects"` // dialects the provider's api_base_url can speak; defaults to [Dialect]
	BaseURL           string                 `koanf:"base_url"`
	APIKey            string                 `koanf:"api_key"`
	OAuthAccounts     []OAuthAccount         `koanf:"oauth_accounts"`
	Models            map[string]ModelConfig `koanf:"models"`
	Headers           map[string]string      `koanf:"headers"`
}

// ModelConfig is one model a provider serves, keyed by its canonical slug.
type ModelConfig struct {
	AccessVia []string `koanf:"access_via"` // dialects allowed for this model; empty = all of the provider's supported_dialects
}

// OAuthAccount is one pooled OAuth-authenticated credential belonging to a
// provider.
type OAuthAccount struct {
	Email        string `koanf:"email"`
	ClientID     string `koanf:"client_id"`
	RefreshToken string `koanf:"refresh_token"`
}

// AliasConfig maps a public model name to a list of provider targets; the
// router drops cooled-down targets, optionally reorders by api_match, and
// lets the Selector pick one target per request.
type AliasConfig struct {
	Targets  []string `koanf:"targets"`  // "<provider_id>/<upstream_model>"
	Selector string   `koanf:"selector"` // random | in_order | cost | latency | usage | performance
	Priority string   `koanf:"priority"` // "" (selector order) | "api_match"
}

// CooldownConfig parametrizes the exponential backoff applied to a
// provider (or provider+account) after upstream failures.
type CooldownConfig struct {
	BaseFor429   time.Duration `koanf:"base_for_429"`
	BaseFor5XX   time.Duration `koanf:"base_for_5xx"`
	BaseForAuth  time.Duration `koanf:"base_for_auth"`
	MaxCap       time.Duration `koanf:"max_cap"`
}

// ModelPricing holds the per-token pricing ratios for one model, keyed by
// the upstream model slug.
type ModelPricing struct {
	Ratio               float64          `koanf:"ratio"`
	CompletionRatio      float64          `koanf:"completion_ratio"`
	CacheReadRatio       float64          `koanf:"cache_read_ratio"`
	CacheCreationRatio   float64          `koanf:"cache_creation_ratio"`
	Tiers                []PricingTier    `koanf:"tiers"`
	DiscountMultiplier   float64          `koanf:"discount_multiplier"`
	OpenRouterSlug       string           `koanf:"openrouter_slug"`
}

// PricingTier applies a different ratio to requests whose input token
// count is below UpToTokens (exclusive; 0 means unbounded), e.g. Gemini's
// >200k-token pricing step.
type PricingTier struct {
	UpToTokens int     `koanf:"up_to_tokens"`
	Ratio      float64 `koanf:"ratio"`
}

// Load reads path, layers PLEXUS_-prefixed environment overrides on top,
// validates the result, and returns the first Snapshot.
func Load(path string) (*Snapshot, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "load config file %q", path)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env overrides")
	}

	var snap Snapshot
	if err := k.Unmarshal("", &snap); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	expandSecrets(&snap)
	applyDefaults(&snap)

	if err := validate(&snap); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}

	return &snap, nil
}

// expandSecrets resolves ${ENV_VAR} placeholders in provider credentials,
// so YAML checked into version control never carries a live secret.
func expandSecrets(s *Snapshot) {
	expand := func(v string) string {
		if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
			return os.Getenv(v[2 : len(v)-1])
		}
		return v
	}

	for id, p := range s.Providers {
		p.APIKey = expand(p.APIKey)
		for i, acc := range p.OAuthAccounts {
			acc.RefreshToken = expand(acc.RefreshToken)
			p.OAuthAccounts[i] = acc
		}
		s.Providers[id] = p
	}
}

func applyDefaults(s *Snapshot) {
	if s.Server.Port == 0 {
		s.Server.Port = 8080
	}
	if s.Server.ShutdownGrace == 0 {
		s.Server.ShutdownGrace = 30 * time.Second
	}
	if s.Cooldown.BaseFor429 == 0 {
		s.Cooldown.BaseFor429 = 60 * time.Second
	}
	if s.Cooldown.BaseFor5XX == 0 {
		s.Cooldown.BaseFor5XX = 30 * time.Second
	}
	if s.Cooldown.BaseForAuth == 0 {
		s.Cooldown.BaseForAuth = 60 * time.Second
	}
	if s.Cooldown.MaxCap == 0 {
		s.Cooldown.MaxCap = 30 * time.Minute
	}
	for id, p := range s.Providers {
		changed := false
		if p.ID == "" {
			p.ID = id
			changed = true
		}
		if len(p.SupportedDialects) == 0 && p.Dialect != "" {
			p.SupportedDialects = []string{p.Dialect}
			changed = true
		}
		if changed {
			s.Providers[id] = p
		}
	}
}

func validate(s *Snapshot) error {
	for id, p := range s.Providers {
		switch p.Dialect {
		case "chat", "messages", "gemini", "responses":
		default:
			return errors.Errorf("provider %q: unknown dialect %q", id, p.Dialect)
		}
		for _, d := range p.SupportedDialects {
			switch d {
			case "chat", "messages", "gemini", "responses":
			default:
				return errors.Errorf("provider %q: unknown supported_dialects entry %q", id, d)
			}
		}
		if p.BaseURL == "" {
			return errors.Errorf("provider %q: base_url is required", id)
		}
		if p.APIKey == "" && len(p.OAuthAccounts) == 0 {
			return errors.Errorf("provider %q: needs api_key or oauth_accounts", id)
		}
	}
	for name, a := range s.Aliases {
		if len(a.Targets) == 0 {
			return errors.Errorf("alias %q: targets must not be empty", name)
		}
	}
	return nil
}
