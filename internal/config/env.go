package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides holds REELNOTE_* values; nil pointers mean unset.
type envOverrides struct {
	ServerListen   *string  `env:"REELNOTE_SERVER_LISTEN"`
	ServerPath     *string  `env:"REELNOTE_SERVER_PATH"`
	AllowedOrigins []string `env:"REELNOTE_ALLOWED_ORIGINS" envSeparator:","`
	GRPCEnable     *bool    `env:"REELNOTE_GRPC_ENABLE"`
	GRPCListen     *string  `env:"REELNOTE_GRPC_LISTEN"`
	CooldownMS     *int     `env:"REELNOTE_SESSION_COOLDOWN_MS"`
	AuthSecret     *string  `env:"REELNOTE_AUTH_SECRET"`
	AuthIssuer     *string  `env:"REELNOTE_AUTH_ISSUER"`
	AuthAudience   *string  `env:"REELNOTE_AUTH_AUDIENCE"`
	LogLevel       *string  `env:"REELNOTE_LOG_LEVEL"`
}

// ApplyEnv overlays REELNOTE_* variables from environ onto cfg. A nil
// environ reads the process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var raw envOverrides
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&raw, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString(&cfg.Server.Listen, raw.ServerListen)
	setString(&cfg.Server.Path, raw.ServerPath)
	if len(raw.AllowedOrigins) > 0 {
		cfg.Server.AllowedOrigins = trimAll(raw.AllowedOrigins)
	}
	if raw.GRPCEnable != nil {
		cfg.GRPC.Enable = *raw.GRPCEnable
	}
	setString(&cfg.GRPC.Listen, raw.GRPCListen)
	setInt(&cfg.Session.CooldownMS, raw.CooldownMS)
	setString(&cfg.Auth.Secret, raw.AuthSecret)
	setString(&cfg.Auth.Issuer, raw.AuthIssuer)
	setString(&cfg.Auth.Audience, raw.AuthAudience)
	if raw.LogLevel != nil {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(*raw.LogLevel))
	}
	return nil
}
