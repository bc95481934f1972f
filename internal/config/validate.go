package config

import (
	"fmt"
	"strings"
)

const minSecretLength = 32

var logLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Server.Listen) == "" {
		return nil, fmt.Errorf("server.listen must not be empty")
	}
	if !strings.HasPrefix(strings.TrimSpace(cfg.Server.Path), "/") {
		return nil, fmt.Errorf("server.path must start with '/'")
	}
	if cfg.Server.IdleTimeoutMS < 0 {
		return nil, fmt.Errorf("server.idle_timeout_ms must be >= 0")
	}
	if cfg.GRPC.Enable && strings.TrimSpace(cfg.GRPC.Listen) == "" {
		return nil, fmt.Errorf("grpc.listen must not be empty when grpc.enable=true")
	}
	if cfg.Session.CooldownMS <= 0 {
		return nil, fmt.Errorf("session.cooldown_ms must be > 0")
	}
	if cfg.Session.ReconcileGapThreshold <= 0 {
		return nil, fmt.Errorf("session.reconcile_gap_threshold must be > 0")
	}
	if cfg.Session.QueueSize <= 0 {
		return nil, fmt.Errorf("session.queue_size must be > 0")
	}
	if cfg.Session.MaxRestarts < 0 {
		return nil, fmt.Errorf("session.max_restarts must be >= 0")
	}
	if cfg.Session.RestartWindowMS <= 0 {
		return nil, fmt.Errorf("session.restart_window_ms must be > 0")
	}
	if cfg.RateLimit.JoinsPerMinute <= 0 {
		return nil, fmt.Errorf("ratelimit.joins_per_minute must be > 0")
	}
	if cfg.RateLimit.Burst <= 0 {
		return nil, fmt.Errorf("ratelimit.burst must be > 0")
	}
	if _, ok := logLevels[cfg.Log.Level]; !ok {
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	switch secret := strings.TrimSpace(cfg.Auth.Secret); {
	case secret == "":
		warnings = append(warnings, Warning{Message: "auth.secret is empty; gateway connections will be rejected"})
	case len(secret) < minSecretLength:
		warnings = append(warnings, Warning{Message: fmt.Sprintf("auth.secret is shorter than %d bytes", minSecretLength)})
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		warnings = append(warnings, Warning{Message: "server.allowed_origins is empty; only same-origin browser connections are accepted"})
	}

	return warnings, nil
}
