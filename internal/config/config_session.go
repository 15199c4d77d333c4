package config

import "time"

// SessionConfig configures conversation-loop session lifecycle and the
// backing Session store.
type SessionConfig struct {
	// DefaultTimeout bounds how long a single conversation turn may run.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// MaxTurns caps the number of turns in a single run before the
	// conversation loop forces completion.
	MaxTurns int `yaml:"max_turns"`

	Store SessionStoreConfig `yaml:"store"`
}

// SessionStoreConfig selects and configures the Session/audit-log store.
type SessionStoreConfig struct {
	// Backend selects the store implementation: "postgres" or "sqlite".
	Backend string `yaml:"backend"`

	// DSN is the connection string. For sqlite this is a file path;
	// for postgres a libpq-style connection string.
	DSN string `yaml:"dsn"`
}
