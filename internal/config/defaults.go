package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:        "127.0.0.1:4000",
			Path:          "/socket/voice",
			IdleTimeoutMS: 30000,
		},
		GRPC: GRPCConfig{
			Enable: false,
			Listen: "127.0.0.1:4001",
		},
		Session: SessionConfig{
			CooldownMS:            1500,
			ReconcileGapThreshold: 100,
			QueueSize:             64,
			MaxRestarts:           3,
			RestartWindowMS:       5000,
		},
		Auth: AuthConfig{
			Issuer:   "reelnote",
			Audience: "reelnote-voice",
		},
		RateLimit: RateLimitConfig{
			JoinsPerMinute: 30,
			Burst:          5,
		},
		Log: LogConfig{Level: "info"},
	}
}
