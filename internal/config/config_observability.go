package config

// LoggingConfig controls the slog-based structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures metrics, tracing, and the in-process
// event bus.
type ObservabilityConfig struct {
	Metrics MetricsConfig  `yaml:"metrics"`
	Tracing TracingConfig  `yaml:"tracing"`
	Events  EventBusConfig `yaml:"events"`
}

// MetricsConfig controls the prometheus.Registry-backed metrics recorder.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// EventBusConfig controls the bounded, non-blocking internal event bus
// that fans out plan/step/worker lifecycle events to subscribers, and
// the bounded replay log kept alongside it.
type EventBusConfig struct {
	// QueueCapacity bounds each subscriber's channel; publishes drop and
	// increment a counter rather than block when a subscriber falls behind.
	QueueCapacity int `yaml:"queue_capacity"`

	// ReplayLogSize bounds how many recent events the EventLog retains
	// for late subscribers to catch up against.
	ReplayLogSize int `yaml:"replay_log_size"`
}
