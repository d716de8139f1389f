package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Config represents the complete application configuration.
type Config struct {
	App         AppConfig         `json:"app"`
	Server      ServerConfig      `json:"server"`
	Room        RoomConfig        `json:"room"`
	Presence    PresenceConfig    `json:"presence"`
	TurnQueue   TurnQueueConfig   `json:"turn_queue"`
	AI          AIConfig          `json:"ai"`
	Interrupt   InterruptConfig   `json:"interrupt"`
	Audio       AudioConfig       `json:"audio"`
	Summarizer  SummarizerConfig  `json:"summarizer"`
	Personality PersonalityConfig `json:"personality"`
	Search      SearchConfig      `json:"search"`
	Security    SecurityConfig    `json:"security"`
	Logging     LoggingConfig     `json:"logging"`
	Cache       CacheConfig       `json:"cache"`
	Tracing     TracingConfig     `json:"tracing"`
}

// AppConfig contains general application settings.
type AppConfig struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Environment string `json:"environment"` // dev, staging, production
}

// ServerConfig contains HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	CORS            CORSConfig    `json:"cors"`
	RateLimitRPS    int           `json:"rate_limit_rps"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	Enabled        bool     `json:"enabled"`
	AllowedOrigins []string `json:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers"`
}

// RoomConfig governs room lifecycle (C1).
type RoomConfig struct {
	MinParticipants    int           `json:"min_participants"`
	MaxParticipants    int           `json:"max_participants"`
	DefaultMaxCapacity int           `json:"default_max_capacity"`
	IdleSweepInterval  time.Duration `json:"idle_sweep_interval"`
	IdleTimeout        time.Duration `json:"idle_timeout"`
	RoomIDLength       int           `json:"room_id_length"`
}

// PresenceConfig governs the presence tracker (C3).
type PresenceConfig struct {
	DebounceWindow          time.Duration `json:"debounce_window"`
	AudioLevelEpsilon       float64       `json:"audio_level_epsilon"`
	HeartbeatInterval       time.Duration `json:"heartbeat_interval"`
	IdleAfterMissedBeats    int           `json:"idle_after_missed_beats"`
	ActiveSpeakerMinBroadcastInterval time.Duration `json:"active_speaker_min_broadcast_interval"`
}

// TurnQueueConfig governs the turn queue processor (C4).
type TurnQueueConfig struct {
	MaxQueueSize          int           `json:"max_queue_size"`
	DefaultTimeout        time.Duration `json:"default_timeout"`
	PriorityTimeout       time.Duration `json:"priority_timeout"`
	PriorityBonus         int           `json:"priority_bonus"`
	MinTurnInterval       time.Duration `json:"min_turn_interval"`
	MaxProcessingAttempts int           `json:"max_processing_attempts"`
	AutoAdvance           bool          `json:"auto_advance"`
}

// AIConfig selects and configures the provider adapter (C5/C6).
type AIConfig struct {
	Provider           string        `json:"provider"` // "realtime" | "mock"
	Endpoint           string        `json:"endpoint"`  // realtime websocket endpoint; unused by "mock"
	APIKeyEnvVar       string        `json:"api_key_env_var"`
	ConnectTimeout     time.Duration `json:"connect_timeout"`
	LockDuringResponse bool          `json:"lock_during_response"`
	OutboundAudioQueue int           `json:"outbound_audio_queue"`
}

// InterruptConfig governs the interrupt handler (C7).
type InterruptConfig struct {
	Enabled                bool          `json:"enabled"`
	OwnerOnly              bool          `json:"owner_only"`
	ModeratorsCanInterrupt bool          `json:"moderators_can_interrupt"`
	Cooldown               time.Duration `json:"cooldown"`
	MaxInterruptsPerMinute int           `json:"max_interrupts_per_minute"`
	LogAllEvents           bool          `json:"log_all_events"`
}

// AudioConfig governs the mixed-audio input pipeline (C8).
type AudioConfig struct {
	TargetSampleRate  int     `json:"target_sample_rate"`
	EnergyThreshold   float64 `json:"energy_threshold"`
	SpeechThreshold   float64 `json:"speech_threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	TargetOutputLevel float64 `json:"target_output_level"`
	MaxGain           float64 `json:"max_gain"`
	NoiseGateThreshold float64 `json:"noise_gate_threshold"`
}

// SummarizerConfig governs the summarization service (C10).
type SummarizerConfig struct {
	EntryThreshold  int           `json:"entry_threshold"`
	TimeThreshold   time.Duration `json:"time_threshold"`
	TickerInterval  time.Duration `json:"ticker_interval"`
	LLMModel        string        `json:"llm_model"`
	LLMCallTimeout  time.Duration `json:"llm_call_timeout"`
	APIKeyEnvVar    string        `json:"api_key_env_var"`
}

// PersonalityConfig governs default personality/voice/temperature (C11).
type PersonalityConfig struct {
	DefaultPersonality string  `json:"default_personality"`
	DefaultVoice       string  `json:"default_voice"`
	DefaultTemperature float64 `json:"default_temperature"`
	MaxCustomInstructionsLen int `json:"max_custom_instructions_len"`
	MaxAdditionalContextLen  int `json:"max_additional_context_len"`
}

// SearchConfig governs the search function-call bridge (C12).
type SearchConfig struct {
	Enabled      bool          `json:"enabled"`
	Endpoint     string        `json:"endpoint"`
	APIKeyEnvVar string        `json:"api_key_env_var"`
	Timeout      time.Duration `json:"timeout"`
	MaxRetries   int           `json:"max_retries"`
	BackoffBase  time.Duration `json:"backoff_base"`
	BackoffCap   time.Duration `json:"backoff_cap"`
	TopNResults  int           `json:"top_n_results"`
}

// SecurityConfig contains auth settings.
type SecurityConfig struct {
	JWTSecret        string        `json:"jwt_secret"`
	JWTAccessExpiry  time.Duration `json:"jwt_access_expiry"`
	JWTRefreshExpiry time.Duration `json:"jwt_refresh_expiry"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"`
	OutputPath   string `json:"output_path"`
	ErrorPath    string `json:"error_path"`
	EnableCaller bool   `json:"enable_caller"`
	EnableStack  bool   `json:"enable_stack"`
}

// TracingConfig governs the OpenTelemetry tracer.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	OTLPEndpoint string `json:"otlp_endpoint"`
}

// CacheConfig contains cache and export-sink settings.
type CacheConfig struct {
	LRU   LRUConfig   `json:"lru"`
	Redis RedisConfig `json:"redis"`
}

// LRUConfig governs the in-process pagination/search-result cache.
type LRUConfig struct {
	Enabled    bool          `json:"enabled"`
	MaxEntries int           `json:"max_entries"`
	TTL        time.Duration `json:"ttl"`
}

// RedisConfig governs the optional room-export sink. Non-goals exclude
// durable persistence across restart, so this is purely a write-side
// export hook, never a source of truth read back by the engine.
type RedisConfig struct {
	Enabled      bool          `json:"enabled"`
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	ExportKeyPrefix string     `json:"export_key_prefix"`
}

// Load loads configuration from file and environment variables.
// Priority: env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if err := cfg.Save(configPath); err != nil {
					return nil, fmt.Errorf("failed to create default config: %w", err)
				}
			} else {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("ROOMVOICE_ENV"); v != "" {
		c.App.Environment = v
	}
	if v := os.Getenv("ROOMVOICE_SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("ROOMVOICE_JWT_SECRET"); v != "" {
		c.Security.JWTSecret = v
	}
	if v := os.Getenv("ROOMVOICE_AI_PROVIDER"); v != "" {
		c.AI.Provider = v
	}
	if v := os.Getenv("ROOMVOICE_SEARCH_ENDPOINT"); v != "" {
		c.Search.Endpoint = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Cache.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Cache.Redis.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Tracing.Enabled = true
		c.Tracing.OTLPEndpoint = v
	}
}

// Save saves configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return errors.New("app name cannot be empty")
	}
	if c.App.Environment != "dev" && c.App.Environment != "staging" && c.App.Environment != "production" {
		return fmt.Errorf("invalid environment: %s (must be dev, staging, or production)", c.App.Environment)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Room.MaxParticipants < c.Room.MinParticipants {
		return fmt.Errorf("room.max_participants (%d) below room.min_participants (%d)", c.Room.MaxParticipants, c.Room.MinParticipants)
	}
	if c.Room.MaxParticipants < 2 || c.Room.MaxParticipants > 10 {
		return fmt.Errorf("room.max_participants must be within [2,10], got %d", c.Room.MaxParticipants)
	}

	if c.Audio.TargetSampleRate <= 0 {
		return fmt.Errorf("invalid audio.target_sample_rate: %d", c.Audio.TargetSampleRate)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.App.Environment == "production" && len(c.Security.JWTSecret) < 32 {
		return errors.New("JWT secret must be at least 32 characters in production")
	}

	if c.Personality.DefaultTemperature < 0 || c.Personality.DefaultTemperature > 2 {
		return fmt.Errorf("personality.default_temperature must be within [0,2], got %f", c.Personality.DefaultTemperature)
	}

	return nil
}

// GetLogLevel returns the zerolog level based on configuration.
func (c *Config) GetLogLevel() zerolog.Level {
	switch c.Logging.Level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "dev"
}

// GetRedisDSN returns the Redis connection string for the export sink.
func (c *Config) GetRedisDSN() string {
	return fmt.Sprintf("%s:%d", c.Cache.Redis.Host, c.Cache.Redis.Port)
}
