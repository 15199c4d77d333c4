package config

import "time"

// AuthConfig configures bearer-token auth on the Engine Facade's HTTP/gRPC
// surface (session creation, snapshot retrieval, streaming).
type AuthConfig struct {
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig is one statically configured API key, for callers that
// authenticate without going through the JWT issuance flow.
type APIKeyConfig struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Name   string `yaml:"name"`
}
