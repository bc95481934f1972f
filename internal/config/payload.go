package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// filePayload is the on-disk shape shared by the JSONC and TOML formats.
// Pointer fields distinguish "unset" from zero values.
type filePayload struct {
	Server    *fileServer    `json:"server" toml:"server"`
	GRPC      *fileGRPC      `json:"grpc" toml:"grpc"`
	Session   *fileSession   `json:"session" toml:"session"`
	Auth      *fileAuth      `json:"auth" toml:"auth"`
	RateLimit *fileRateLimit `json:"ratelimit" toml:"ratelimit"`
	Log       *fileLog       `json:"log" toml:"log"`
}

type fileServer struct {
	Listen         *string     `json:"listen" toml:"listen"`
	Path           *string     `json:"path" toml:"path"`
	AllowedOrigins *stringList `json:"allowed_origins" toml:"allowed_origins"`
	IdleTimeoutMS  *int        `json:"idle_timeout_ms" toml:"idle_timeout_ms"`
}

type fileGRPC struct {
	Enable *bool   `json:"enable" toml:"enable"`
	Listen *string `json:"listen" toml:"listen"`
}

type fileSession struct {
	CooldownMS            *int `json:"cooldown_ms" toml:"cooldown_ms"`
	ReconcileGapThreshold *int `json:"reconcile_gap_threshold" toml:"reconcile_gap_threshold"`
	QueueSize             *int `json:"queue_size" toml:"queue_size"`
	MaxRestarts           *int `json:"max_restarts" toml:"max_restarts"`
	RestartWindowMS       *int `json:"restart_window_ms" toml:"restart_window_ms"`
}

type fileAuth struct {
	Secret   *string `json:"secret" toml:"secret"`
	Issuer   *string `json:"issuer" toml:"issuer"`
	Audience *string `json:"audience" toml:"audience"`
}

type fileRateLimit struct {
	JoinsPerMinute *int `json:"joins_per_minute" toml:"joins_per_minute"`
	Burst          *int `json:"burst" toml:"burst"`
}

type fileLog struct {
	Level *string `json:"level" toml:"level"`
}

// stringList accepts either an array of strings or one comma-delimited string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = trimAll(list)
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = trimAll(strings.Split(single, ","))
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

// UnmarshalTOML implements toml.Unmarshaler.
func (l *stringList) UnmarshalTOML(value any) error {
	switch v := value.(type) {
	case string:
		*l = trimAll(strings.Split(v, ","))
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected string array or comma-delimited string")
			}
			out = append(out, s)
		}
		*l = trimAll(out)
		return nil
	default:
		return fmt.Errorf("expected string array or comma-delimited string")
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (p filePayload) applyTo(cfg *Config) []Warning {
	warnings := make([]Warning, 0)

	if p.Server != nil {
		setString(&cfg.Server.Listen, p.Server.Listen)
		setString(&cfg.Server.Path, p.Server.Path)
		if p.Server.AllowedOrigins != nil {
			cfg.Server.AllowedOrigins = []string(*p.Server.AllowedOrigins)
		}
		setInt(&cfg.Server.IdleTimeoutMS, p.Server.IdleTimeoutMS)
	}

	if p.GRPC != nil {
		if p.GRPC.Enable != nil {
			cfg.GRPC.Enable = *p.GRPC.Enable
		}
		setString(&cfg.GRPC.Listen, p.GRPC.Listen)
	}

	if p.Session != nil {
		setInt(&cfg.Session.CooldownMS, p.Session.CooldownMS)
		setInt(&cfg.Session.ReconcileGapThreshold, p.Session.ReconcileGapThreshold)
		setInt(&cfg.Session.QueueSize, p.Session.QueueSize)
		setInt(&cfg.Session.MaxRestarts, p.Session.MaxRestarts)
		setInt(&cfg.Session.RestartWindowMS, p.Session.RestartWindowMS)
	}

	if p.Auth != nil {
		if p.Auth.Secret != nil {
			cfg.Auth.Secret = *p.Auth.Secret
			warnings = append(warnings, Warning{Message: "auth.secret is set in the config file; prefer REELNOTE_AUTH_SECRET"})
		}
		setString(&cfg.Auth.Issuer, p.Auth.Issuer)
		setString(&cfg.Auth.Audience, p.Auth.Audience)
	}

	if p.RateLimit != nil {
		setInt(&cfg.RateLimit.JoinsPerMinute, p.RateLimit.JoinsPerMinute)
		setInt(&cfg.RateLimit.Burst, p.RateLimit.Burst)
	}

	if p.Log != nil && p.Log.Level != nil {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(*p.Log.Level))
	}

	return warnings
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
