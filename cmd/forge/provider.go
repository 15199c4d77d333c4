package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgerun/core/internal/config"
	"github.com/forgerun/core/internal/core"
	"github.com/forgerun/core/internal/provider/anthropic"
	"github.com/forgerun/core/internal/provider/bedrock"
	"github.com/forgerun/core/internal/provider/failover"
	"github.com/forgerun/core/internal/provider/gemini"
	"github.com/forgerun/core/internal/provider/openai"
)

// buildProvider constructs a single core.Provider by its config key,
// grounded on internal/gateway/runtime.go's buildProvider switch pattern.
func buildProvider(ctx context.Context, providerID string, cfg config.ProviderConfig) (core.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(providerID)) {
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic api key is required")
		}
		return anthropic.New(anthropic.Config{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
		})
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai api key is required")
		}
		return openai.New(openai.Config{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.DefaultModel,
		})
	case "gemini", "google":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini api key is required")
		}
		return gemini.New(ctx, gemini.Config{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.DefaultModel,
		})
	case "bedrock":
		if cfg.Region == "" {
			return nil, fmt.Errorf("bedrock region is required")
		}
		return bedrock.New(ctx, bedrock.Config{
			Region:       cfg.Region,
			DefaultModel: cfg.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unsupported provider %q", providerID)
	}
}

// buildConfiguredProvider builds the default provider, wrapping it (and
// any FallbackChain entries) behind failover.New when a fallback chain is
// configured.
func buildConfiguredProvider(ctx context.Context, cfg config.ProvidersConfig) (core.Provider, error) {
	defaultID := strings.TrimSpace(cfg.DefaultProvider)
	if defaultID == "" {
		return nil, fmt.Errorf("providers.default_provider is required")
	}
	defaultCfg, ok := cfg.Providers[defaultID]
	if !ok {
		return nil, fmt.Errorf("no provider config for default provider %q", defaultID)
	}
	primary, err := buildProvider(ctx, defaultID, defaultCfg)
	if err != nil {
		return nil, fmt.Errorf("build provider %q: %w", defaultID, err)
	}
	if len(cfg.FallbackChain) == 0 {
		return primary, nil
	}

	providers := []core.Provider{primary}
	for _, id := range cfg.FallbackChain {
		providerCfg, ok := cfg.Providers[id]
		if !ok {
			return nil, fmt.Errorf("no provider config for fallback provider %q", id)
		}
		provider, err := buildProvider(ctx, id, providerCfg)
		if err != nil {
			return nil, fmt.Errorf("build fallback provider %q: %w", id, err)
		}
		providers = append(providers, provider)
	}

	return failover.New(failover.Config{
		MaxRetries:              cfg.Failover.MaxRetries,
		RetryBackoff:            cfg.Failover.RetryBackoff,
		MaxRetryBackoff:         cfg.Failover.MaxRetryBackoff,
		FailoverOnRateLimit:     cfg.Failover.FailoverOnRateLimit,
		FailoverOnServerError:   cfg.Failover.FailoverOnServerError,
		CircuitBreakerThreshold: cfg.Failover.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   cfg.Failover.CircuitBreakerTimeout,
	}, providers...)
}
