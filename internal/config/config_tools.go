package config

import "time"

// ToolsConfig configures the Tool Registry and its example handlers.
type ToolsConfig struct {
	Sandbox   SandboxConfig       `yaml:"sandbox"`
	Browser   BrowserConfig       `yaml:"browser"`
	Execution ToolExecutionConfig `yaml:"execution"`
	Jobs      ToolJobsConfig      `yaml:"jobs"`
}

// ToolExecutionConfig controls runtime tool execution behavior and the
// Permission Arbiter's default policy.
type ToolExecutionConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	Parallelism   int           `yaml:"parallelism"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	MaxToolCalls  int           `yaml:"max_tool_calls"`

	Permission PermissionConfig `yaml:"permission"`
}

// PermissionConfig feeds permission.PlanPolicy and the Arbiter's default
// decision for tools that match no explicit rule.
type PermissionConfig struct {
	// Profile is a pre-configured tool access level.
	// Valid profiles: "coding", "readonly", "full", "minimal".
	Profile string `yaml:"profile"`

	// Allowlist contains tools that are always granted without a prompt.
	// Supports patterns like "read_*", "*" (all).
	Allowlist []string `yaml:"allowlist"`

	// Denylist contains tools that are always denied.
	Denylist []string `yaml:"denylist"`

	// AutoApprove makes every step in a plan auto-approved, bypassing the
	// Prompt decision entirely. Mirrors core.PlanConfig.AutoApprove.
	AutoApprove bool `yaml:"auto_approve"`

	// DefaultDecision when no rule matches: "granted", "denied", or "prompt".
	DefaultDecision string `yaml:"default_decision"`

	// RequestTTL is how long a Prompt decision remains valid before it
	// must be re-requested.
	RequestTTL time.Duration `yaml:"request_ttl"`
}

// SandboxConfig controls the firecracker-backed shell execution tool
// handler (internal/tool/sandbox), an example out-of-core ToolDefinition.
type SandboxConfig struct {
	Enabled        bool           `yaml:"enabled"`
	Backend        string         `yaml:"backend"`
	PoolSize       int            `yaml:"pool_size"`
	MaxPoolSize    int            `yaml:"max_pool_size"`
	Timeout        time.Duration  `yaml:"timeout"`
	NetworkEnabled bool           `yaml:"network_enabled"`
	Limits         ResourceLimits `yaml:"limits"`
}

// ResourceLimits bounds sandboxed tool execution resources.
type ResourceLimits struct {
	MaxCPU    int    `yaml:"max_cpu"`
	MaxMemory string `yaml:"max_memory"`
}

// BrowserConfig controls the web fetch/browse example tool handler.
// Backend selects between the two registered implementations
// (internal/tool/browser): "chromedp" or "playwright".
type BrowserConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Backend  string `yaml:"backend"`
	Headless bool   `yaml:"headless"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ToolJobsConfig controls async tool job persistence.
type ToolJobsConfig struct {
	// Retention is how long to keep completed jobs. Default: 24h.
	Retention time.Duration `yaml:"retention"`
	// PruneInterval is how often to prune old jobs. Default: 1h.
	PruneInterval time.Duration `yaml:"prune_interval"`
}
