package config

import "time"

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "roomvoice",
			Version:     "0.1.0",
			Environment: "dev",
		},

		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    60,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"http://localhost:5173"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
			},
		},

		Room: RoomConfig{
			MinParticipants:    2,
			MaxParticipants:    10,
			DefaultMaxCapacity: 6,
			IdleSweepInterval:  time.Minute,
			IdleTimeout:        15 * time.Minute,
			RoomIDLength:       10,
		},

		Presence: PresenceConfig{
			DebounceWindow:                    100 * time.Millisecond,
			AudioLevelEpsilon:                 0.05,
			HeartbeatInterval:                 30 * time.Second,
			IdleAfterMissedBeats:              3,
			ActiveSpeakerMinBroadcastInterval: 200 * time.Millisecond,
		},

		TurnQueue: TurnQueueConfig{
			MaxQueueSize:          20,
			DefaultTimeout:        30 * time.Second,
			PriorityTimeout:       60 * time.Second,
			PriorityBonus:         100,
			MinTurnInterval:       500 * time.Millisecond,
			MaxProcessingAttempts: 3,
			AutoAdvance:           true,
		},

		AI: AIConfig{
			Provider:           "mock",
			Endpoint:           "wss://api.openai.com/v1/realtime",
			APIKeyEnvVar:       "ROOMVOICE_PROVIDER_API_KEY",
			ConnectTimeout:     10 * time.Second,
			LockDuringResponse: true,
			OutboundAudioQueue: 64,
		},

		Interrupt: InterruptConfig{
			Enabled:                true,
			OwnerOnly:              false,
			ModeratorsCanInterrupt: true,
			Cooldown:               2 * time.Second,
			MaxInterruptsPerMinute: 10,
			LogAllEvents:           true,
		},

		Audio: AudioConfig{
			TargetSampleRate:   24000,
			EnergyThreshold:    0.02,
			SpeechThreshold:    0.5,
			PrefixPaddingMs:    300,
			SilenceDurationMs:  500,
			TargetOutputLevel:  0.7,
			MaxGain:            3.0,
			NoiseGateThreshold: 0.01,
		},

		Summarizer: SummarizerConfig{
			EntryThreshold: 30,
			TimeThreshold:  10 * time.Minute,
			TickerInterval: 30 * time.Second,
			LLMModel:       "gpt-4o-mini",
			LLMCallTimeout: 30 * time.Second,
			APIKeyEnvVar:   "OPENAI_API_KEY",
		},

		Personality: PersonalityConfig{
			DefaultPersonality:       "facilitator",
			DefaultVoice:             "alloy",
			DefaultTemperature:       0.8,
			MaxCustomInstructionsLen: 4000,
			MaxAdditionalContextLen:  1000,
		},

		Search: SearchConfig{
			Enabled:      true,
			Endpoint:     "https://api.search.example.com/v1/search",
			APIKeyEnvVar: "ROOMVOICE_SEARCH_API_KEY",
			Timeout:      10 * time.Second,
			MaxRetries:   3,
			BackoffBase:  time.Second,
			BackoffCap:   10 * time.Second,
			TopNResults:  5,
		},

		Security: SecurityConfig{
			JWTSecret:        generateDefaultJWTSecret(),
			JWTAccessExpiry:  15 * time.Minute,
			JWTRefreshExpiry: 30 * 24 * time.Hour,
		},

		Logging: LoggingConfig{
			Level:        "info",
			Format:       "json",
			OutputPath:   "stdout",
			ErrorPath:    "stderr",
			EnableCaller: false,
			EnableStack:  true,
		},

		Tracing: TracingConfig{
			Enabled:      false,
			OTLPEndpoint: "",
		},

		Cache: CacheConfig{
			LRU: LRUConfig{
				Enabled:    true,
				MaxEntries: 10000,
				TTL:        5 * time.Minute,
			},
			Redis: RedisConfig{
				Enabled:         false,
				Host:            "localhost",
				Port:            6379,
				Password:        "",
				DB:              0,
				DialTimeout:     5 * time.Second,
				WriteTimeout:    3 * time.Second,
				ExportKeyPrefix: "roomvoice:export:",
			},
		},
	}
}

// generateDefaultJWTSecret returns a development-only JWT secret.
// WARNING: In production this MUST be overridden via ROOMVOICE_JWT_SECRET.
func generateDefaultJWTSecret() string {
	return "dev-secret-change-me-in-production-min-32-chars-required"
}
