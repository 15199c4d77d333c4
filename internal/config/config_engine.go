package config

import "time"

// EngineConfig configures the Engine Facade's orchestration defaults:
// dispatch strategy, scheduling mode, and the per-worker circuit breaker
// and swarm health-tracking policies.
type EngineConfig struct {
	// DispatchStrategy selects a swarm.Strategy: "round_robin",
	// "least_loaded", "capability_match", or "adaptive".
	DispatchStrategy string `yaml:"dispatch_strategy"`

	// DefaultSchedulingMode selects the core.SchedulingMode a plan uses
	// when the caller doesn't specify one: "sequential", "parallel",
	// "dag", or "priority".
	DefaultSchedulingMode string `yaml:"default_scheduling_mode"`

	// MaxParallel bounds concurrent step execution within one plan.
	MaxParallel int `yaml:"max_parallel"`

	// PlanTimeout bounds total plan execution time. Zero disables it.
	PlanTimeout time.Duration `yaml:"plan_timeout"`

	// RollbackOnFailure triggers LIFO rollback actions when a plan fails.
	RollbackOnFailure bool `yaml:"rollback_on_failure"`

	Breaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Swarm   SwarmConfig          `yaml:"swarm"`
}

// CircuitBreakerConfig mirrors internal/circuitbreaker.Config.
type CircuitBreakerConfig struct {
	FailureThreshold  int           `yaml:"failure_threshold"`
	SuccessThreshold  int           `yaml:"success_threshold"`
	OpenTimeout       time.Duration `yaml:"open_timeout"`
	HalfOpenMaxProbes int           `yaml:"half_open_max_probes"`
}

// SwarmConfig mirrors internal/swarm.Config: the Worker Pool's health
// tracking policy, backed by a github.com/robfig/cron/v3 background
// probe scheduler at HealthCheckInterval.
type SwarmConfig struct {
	UnhealthyThreshold  int           `yaml:"unhealthy_threshold"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	StaleAfter          time.Duration `yaml:"stale_after"`
}
