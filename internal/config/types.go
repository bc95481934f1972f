// Package config resolves, parses, validates, and defaults reelnote configuration.
package config

// Config is the fully materialized runtime configuration used by reelnote.
type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig
	Session   SessionConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig controls the WebSocket gateway listener.
type ServerConfig struct {
	Listen         string
	Path           string
	AllowedOrigins []string
	IdleTimeoutMS  int
}

// GRPCConfig controls the service-to-service session API.
type GRPCConfig struct {
	Enable bool
	Listen string
}

// SessionConfig holds voice session actor tunables.
type SessionConfig struct {
	CooldownMS            int
	ReconcileGapThreshold int
	QueueSize             int
	MaxRestarts           int
	RestartWindowMS       int
}

// AuthConfig controls bearer token verification for gateway connections.
type AuthConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// RateLimitConfig bounds how often one device may join.
type RateLimitConfig struct {
	JoinsPerMinute int
	Burst          int
}

// LogConfig controls runtime log verbosity.
type LogConfig struct {
	Level string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
