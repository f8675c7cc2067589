package llm

import (
	"fmt"
	"strings"
	"time"

	"coursebot/internal/domain"
	"coursebot/internal/retry"
)

// defaultCooldownDuration is the time a rate-limited key stays in cooldown.
const defaultCooldownDuration = 60 * time.Second

// DefaultAPIKeyEnv is read when a model config names no key variable.
const DefaultAPIKeyEnv = "ANTHROPIC_API_KEY"

// EnvGetter looks up an environment variable; os.Getenv in production.
type EnvGetter func(name string) string

// NewProvider returns the ModelGateway described by cfg, wrapped with retry
// logic when retryCfg asks for retries. Provider is "anthropic" or "local";
// empty defaults to "local".
func NewProvider(cfg domain.ModelConfig, getenv EnvGetter, retryCfg *domain.RetryConfig) (domain.ModelGateway, error) {
	base, err := newBaseProvider(cfg, getenv)
	if err != nil {
		return nil, err
	}
	return wrapWithRetry(base, retryCfg), nil
}

func newBaseProvider(cfg domain.ModelConfig, getenv EnvGetter) (domain.ModelGateway, error) {
	switch cfg.Provider {
	case "", "local":
		return NewLocalProvider(""), nil
	case "anthropic":
		timeout := time.Duration(cfg.TimeoutSecs) * time.Second
		return resolveKeyedProvider("anthropic", cfg.APIKeyEnv, getenv, func(key string) domain.ModelGateway {
			return NewAnthropicProvider(key, cfg.Name, cfg.MaxTokens, timeout)
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q (use: anthropic, local)", cfg.Provider)
	}
}

// splitKeys splits a raw key list by commas, trims whitespace, and filters empty entries.
func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

// newKeyPoolFunc is the KeyPool constructor. Package-level var for test injection.
var newKeyPoolFunc = NewKeyPool

// resolveKeyedProvider reads the key variable and returns a single gateway for
// one key or a KeyPoolProvider for several.
func resolveKeyedProvider(providerName, envName string, getenv EnvGetter, makeProvider func(key string) domain.ModelGateway) (domain.ModelGateway, error) {
	if envName == "" {
		envName = DefaultAPIKeyEnv
	}
	keys := splitKeys(getenv(envName))
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s provider: API key not set (export %s=<key>)", providerName, envName)
	}
	if len(keys) == 1 {
		return makeProvider(keys[0]), nil
	}
	pool, err := newKeyPoolFunc(keys, defaultCooldownDuration)
	if err != nil {
		return nil, fmt.Errorf("%s key pool: %w", providerName, err)
	}
	providers := make([]domain.ModelGateway, len(keys))
	for i, k := range keys {
		providers[i] = makeProvider(k)
	}
	return NewKeyPoolProvider(pool, providers)
}

// NewFallbackProviders creates gateways for each fallback entry, inheriting
// token and timeout limits from primary. Entries that fail to build are
// skipped and reported in the returned error slice.
func NewFallbackProviders(primary domain.ModelConfig, getenv EnvGetter, retryCfg *domain.RetryConfig) ([]domain.ModelGateway, []error) {
	var providers []domain.ModelGateway
	var errs []error
	for _, fb := range primary.Fallbacks {
		cfg := domain.ModelConfig{
			Provider:    fb.Provider,
			Name:        fb.Name,
			APIKeyEnv:   fb.APIKeyEnv,
			MaxTokens:   primary.MaxTokens,
			TimeoutSecs: primary.TimeoutSecs,
		}
		p, err := NewProvider(cfg, getenv, retryCfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("fallback %s/%s: %w", fb.Provider, fb.Name, err))
			continue
		}
		providers = append(providers, p)
	}
	return providers, errs
}

// wrapWithRetry decorates a gateway with retry logic when config is supplied.
func wrapWithRetry(gateway domain.ModelGateway, rc *domain.RetryConfig) domain.ModelGateway {
	if rc == nil || rc.MaxRetries <= 0 {
		return gateway
	}
	cfg := retry.Config{
		MaxRetries:     rc.MaxRetries,
		InitialBackoff: time.Duration(rc.InitialBackoff) * time.Millisecond,
		MaxBackoff:     time.Duration(rc.MaxBackoff) * time.Millisecond,
		Multiplier:     float64(rc.Multiplier),
	}
	if cfg.Validate() != nil {
		cfg = retry.DefaultConfig()
		cfg.MaxRetries = rc.MaxRetries
	}
	return retry.NewRetryableGateway(gateway, cfg)
}
