package config

import "time"

// ProvidersConfig configures the LLM providers available to the Engine
// Facade and the order the failover.Orchestrator tries them in.
type ProvidersConfig struct {
	DefaultProvider string                    `yaml:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers"`

	// FallbackChain specifies provider IDs to try if the default provider
	// fails, tried in order until one succeeds.
	// Example: ["openai", "bedrock"] - try OpenAI first, then Bedrock.
	FallbackChain []string `yaml:"fallback_chain"`

	// Failover configures the per-provider circuit breaker and retry
	// behavior of internal/provider/failover.Orchestrator.
	Failover FailoverConfig `yaml:"failover"`
}

// ProviderConfig configures one concrete core.Provider adapter.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`

	// Region is consulted by internal/provider/bedrock for AWS SDK config.
	Region string `yaml:"region"`

	// OAuth configures credential refresh for providers that issue
	// short-lived access tokens instead of static API keys.
	OAuth *ProviderOAuthConfig `yaml:"oauth"`
}

// ProviderOAuthConfig configures golang.org/x/oauth2-based credential
// refresh for a provider.
type ProviderOAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

// FailoverConfig mirrors internal/provider/failover.Config.
type FailoverConfig struct {
	MaxRetries              int           `yaml:"max_retries"`
	RetryBackoff            time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff         time.Duration `yaml:"max_retry_backoff"`
	FailoverOnRateLimit      bool          `yaml:"failover_on_rate_limit"`
	FailoverOnServerError    bool          `yaml:"failover_on_server_error"`
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `yaml:"circuit_breaker_timeout"`
}
