package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the Forge Engine Facade binary.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Engine        EngineConfig        `yaml:"engine"`
	Session       SessionConfig       `yaml:"session"`
	Tools         ToolsConfig         `yaml:"tools"`
	Cron          CronConfig          `yaml:"cron"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Load reads, expands, and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyAuthDefaults(&cfg.Auth)
	applyProvidersDefaults(&cfg.Providers)
	applyEngineDefaults(&cfg.Engine)
	applySessionDefaults(&cfg.Session)
	applyToolsDefaults(&cfg.Tools)
	applyLoggingDefaults(&cfg.Logging)
	applyObservabilityDefaults(&cfg.Observability)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.GRPCPort == 0 {
		cfg.GRPCPort = 50051
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
}

func applyProvidersDefaults(cfg *ProvidersConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
	if cfg.Failover.MaxRetries == 0 {
		cfg.Failover.MaxRetries = 3
	}
	if cfg.Failover.RetryBackoff == 0 {
		cfg.Failover.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Failover.MaxRetryBackoff == 0 {
		cfg.Failover.MaxRetryBackoff = 30 * time.Second
	}
	if cfg.Failover.CircuitBreakerThreshold == 0 {
		cfg.Failover.CircuitBreakerThreshold = 5
	}
	if cfg.Failover.CircuitBreakerTimeout == 0 {
		cfg.Failover.CircuitBreakerTimeout = 30 * time.Second
	}
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.DispatchStrategy == "" {
		cfg.DispatchStrategy = "capability_match"
	}
	if cfg.DefaultSchedulingMode == "" {
		cfg.DefaultSchedulingMode = "sequential"
	}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = 4
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = 2
	}
	if cfg.Breaker.OpenTimeout == 0 {
		cfg.Breaker.OpenTimeout = 30 * time.Second
	}
	if cfg.Breaker.HalfOpenMaxProbes == 0 {
		cfg.Breaker.HalfOpenMaxProbes = 1
	}
	if cfg.Swarm.UnhealthyThreshold == 0 {
		cfg.Swarm.UnhealthyThreshold = 3
	}
	if cfg.Swarm.HealthCheckInterval == 0 {
		cfg.Swarm.HealthCheckInterval = 30 * time.Second
	}
	if cfg.Swarm.StaleAfter == 0 {
		cfg.Swarm.StaleAfter = 2 * time.Minute
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 10 * time.Minute
	}
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = 50
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Execution.MaxIterations == 0 {
		cfg.Execution.MaxIterations = 25
	}
	if cfg.Execution.Parallelism == 0 {
		cfg.Execution.Parallelism = 1
	}
	if cfg.Execution.MaxAttempts == 0 {
		cfg.Execution.MaxAttempts = 3
	}
	if cfg.Execution.RetryBackoff == 0 {
		cfg.Execution.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Execution.Permission.Profile == "" {
		cfg.Execution.Permission.Profile = "coding"
	}
	if cfg.Execution.Permission.DefaultDecision == "" {
		cfg.Execution.Permission.DefaultDecision = "prompt"
	}
	if cfg.Execution.Permission.RequestTTL == 0 {
		cfg.Execution.Permission.RequestTTL = 5 * time.Minute
	}
	if cfg.Jobs.Retention == 0 {
		cfg.Jobs.Retention = 24 * time.Hour
	}
	if cfg.Jobs.PruneInterval == 0 {
		cfg.Jobs.PruneInterval = time.Hour
	}
	if cfg.Browser.Backend == "" {
		cfg.Browser.Backend = "chromedp"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyObservabilityDefaults(cfg *ObservabilityConfig) {
	if cfg.Events.QueueCapacity == 0 {
		cfg.Events.QueueCapacity = 256
	}
	if cfg.Events.ReplayLogSize == 0 {
		cfg.Events.ReplayLogSize = 1000
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("FORGE_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("FORGE_GRPC_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.GRPCPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("FORGE_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("FORGE_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("DATABASE_URL")); value != "" {
		cfg.Database.URL = value
	}
	if value := strings.TrimSpace(os.Getenv("JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("FORGE_JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("FORGE_TOKEN_EXPIRY")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			cfg.Auth.TokenExpiry = parsed
		}
	}
}

// ConfigValidationError aggregates every config validation failure so an
// operator sees the whole list at once instead of fixing issues one at a time.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Database.Driver != "" && !validDatabaseDriver(cfg.Database.Driver) {
		issues = append(issues, "database.driver must be \"postgres\" or \"sqlite\"")
	}

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.Providers.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.Providers.Providers[defaultProvider]; !ok {
			if _, ok := cfg.Providers.Providers[cfg.Providers.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("providers.providers missing entry for default_provider %q", cfg.Providers.DefaultProvider))
			}
		}
	}
	for _, id := range cfg.Providers.FallbackChain {
		if _, ok := cfg.Providers.Providers[id]; !ok {
			issues = append(issues, fmt.Sprintf("providers.fallback_chain references unknown provider %q", id))
		}
	}

	seenKeys := map[string]struct{}{}
	for i, entry := range cfg.Auth.APIKeys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be set", i))
			continue
		}
		if _, ok := seenKeys[key]; ok {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be unique", i))
		} else {
			seenKeys[key] = struct{}{}
		}
	}

	if jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret); jwtSecret != "" {
		if len(jwtSecret) < 32 {
			issues = append(issues, "auth.jwt_secret must be at least 32 characters for security")
		}
	}

	if !validSchedulingMode(cfg.Engine.DefaultSchedulingMode) {
		issues = append(issues, "engine.default_scheduling_mode must be \"sequential\", \"parallel\", \"dag\", or \"priority\"")
	}
	if cfg.Engine.MaxParallel < 0 {
		issues = append(issues, "engine.max_parallel must be >= 0")
	}
	if cfg.Engine.Breaker.FailureThreshold < 0 {
		issues = append(issues, "engine.circuit_breaker.failure_threshold must be >= 0")
	}
	if cfg.Engine.Swarm.UnhealthyThreshold < 0 {
		issues = append(issues, "engine.swarm.unhealthy_threshold must be >= 0")
	}

	if cfg.Session.MaxTurns < 0 {
		issues = append(issues, "session.max_turns must be >= 0")
	}
	if cfg.Session.Store.Backend != "" && !validDatabaseDriver(cfg.Session.Store.Backend) {
		issues = append(issues, "session.store.backend must be \"postgres\" or \"sqlite\"")
	}

	if cfg.Tools.Execution.MaxIterations < 0 {
		issues = append(issues, "tools.execution.max_iterations must be >= 0")
	}
	if cfg.Tools.Execution.Parallelism < 0 {
		issues = append(issues, "tools.execution.parallelism must be >= 0")
	}
	if cfg.Tools.Execution.MaxAttempts < 0 {
		issues = append(issues, "tools.execution.max_attempts must be >= 0")
	}
	if profile := strings.ToLower(strings.TrimSpace(cfg.Tools.Execution.Permission.Profile)); profile != "" {
		switch profile {
		case "coding", "readonly", "full", "minimal":
		default:
			issues = append(issues, "tools.execution.permission.profile must be \"coding\", \"readonly\", \"full\", or \"minimal\"")
		}
	}
	if decision := strings.ToLower(strings.TrimSpace(cfg.Tools.Execution.Permission.DefaultDecision)); decision != "" {
		switch decision {
		case "granted", "denied", "prompt":
		default:
			issues = append(issues, "tools.execution.permission.default_decision must be \"granted\", \"denied\", or \"prompt\"")
		}
	}
	if cfg.Tools.Browser.Backend != "" {
		switch cfg.Tools.Browser.Backend {
		case "chromedp", "playwright":
		default:
			issues = append(issues, "tools.browser.backend must be \"chromedp\" or \"playwright\"")
		}
	}

	if cfg.Cron.Enabled {
		for i, job := range cfg.Cron.Jobs {
			if strings.TrimSpace(job.ID) == "" {
				issues = append(issues, fmt.Sprintf("cron.jobs[%d].id is required", i))
			}
			if strings.TrimSpace(job.Schedule.Cron) == "" && job.Schedule.Every == 0 && strings.TrimSpace(job.Schedule.At) == "" {
				issues = append(issues, fmt.Sprintf("cron.jobs[%d].schedule is required", i))
			}
			switch strings.ToLower(strings.TrimSpace(job.Type)) {
			case "webhook":
				if job.Webhook == nil || strings.TrimSpace(job.Webhook.URL) == "" {
					issues = append(issues, fmt.Sprintf("cron.jobs[%d].webhook.url is required for webhook jobs", i))
				}
			case "plan":
				if job.Plan == nil || strings.TrimSpace(job.Plan.WorkerID) == "" {
					issues = append(issues, fmt.Sprintf("cron.jobs[%d].plan.worker_id is required for plan jobs", i))
				}
			default:
				issues = append(issues, fmt.Sprintf("cron.jobs[%d].type must be \"plan\" or \"webhook\"", i))
			}
		}
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}

	return nil
}

func validDatabaseDriver(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "sqlite":
		return true
	default:
		return false
	}
}

func validSchedulingMode(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "sequential", "parallel", "dag", "priority":
		return true
	default:
		return false
	}
}
