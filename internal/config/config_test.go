package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "roomvoice", cfg.App.Name)
	assert.Equal(t, "dev", cfg.App.Environment)
	assert.True(t, cfg.Audio.TargetSampleRate > 0)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid default config",
			setup:   func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid environment",
			setup: func(c *Config) {
				c.App.Environment = "invalid"
			},
			wantErr: true,
			errMsg:  "invalid environment",
		},
		{
			name: "empty app name",
			setup: func(c *Config) {
				c.App.Name = ""
			},
			wantErr: true,
			errMsg:  "app name cannot be empty",
		},
		{
			name: "invalid port",
			setup: func(c *Config) {
				c.Server.Port = 99999
			},
			wantErr: true,
			errMsg:  "invalid server port",
		},
		{
			name: "max participants out of range",
			setup: func(c *Config) {
				c.Room.MaxParticipants = 20
			},
			wantErr: true,
			errMsg:  "room.max_participants must be within",
		},
		{
			name: "invalid sample rate",
			setup: func(c *Config) {
				c.Audio.TargetSampleRate = -1
			},
			wantErr: true,
			errMsg:  "invalid audio.target_sample_rate",
		},
		{
			name: "invalid log level",
			setup: func(c *Config) {
				c.Logging.Level = "invalid"
			},
			wantErr: true,
			errMsg:  "invalid log level",
		},
		{
			name: "short JWT secret in production",
			setup: func(c *Config) {
				c.App.Environment = "production"
				c.Security.JWTSecret = "short"
			},
			wantErr: true,
			errMsg:  "JWT secret must be at least 32 characters",
		},
		{
			name: "temperature out of range",
			setup: func(c *Config) {
				c.Personality.DefaultTemperature = 3
			},
			wantErr: true,
			errMsg:  "personality.default_temperature must be within",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.setup(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	cfg := Default()
	cfg.App.Environment = "production"
	cfg.Server.Port = 9090
	cfg.Logging.Level = "debug"
	cfg.Security.JWTSecret = "a-production-grade-secret-at-least-32-chars-long"

	err := cfg.Save(configPath)
	require.NoError(t, err)

	loaded, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "production", loaded.App.Environment)
	assert.Equal(t, 9090, loaded.Server.Port)
	assert.Equal(t, "debug", loaded.Logging.Level)
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("ROOMVOICE_ENV", "staging")
	os.Setenv("ROOMVOICE_SERVER_HOST", "192.168.1.100")
	os.Setenv("LOG_LEVEL", "warn")
	defer func() {
		os.Unsetenv("ROOMVOICE_ENV")
		os.Unsetenv("ROOMVOICE_SERVER_HOST")
		os.Unsetenv("LOG_LEVEL")
	}()

	cfg := Default()
	cfg.loadFromEnv()

	assert.Equal(t, "staging", cfg.App.Environment)
	assert.Equal(t, "192.168.1.100", cfg.Server.Host)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	original := Default()
	original.TurnQueue.MaxQueueSize = 50
	original.Room.MaxParticipants = 8

	err := original.Save(configPath)
	require.NoError(t, err)

	_, err = os.Stat(configPath)
	require.NoError(t, err)

	loaded, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 50, loaded.TurnQueue.MaxQueueSize)
	assert.Equal(t, 8, loaded.Room.MaxParticipants)
}

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected string
	}{
		{"debug", "debug"},
		{"info", "info"},
		{"warn", "warn"},
		{"error", "error"},
		{"fatal", "fatal"},
		{"invalid", "info"},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := Default()
			cfg.Logging.Level = tt.level
			level := cfg.GetLogLevel()
			assert.Equal(t, tt.expected, level.String())
		})
	}
}

func TestIsProduction(t *testing.T) {
	cfg := Default()

	cfg.App.Environment = "production"
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())

	cfg.App.Environment = "dev"
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.IsDevelopment())
}

func TestGetRedisDSN(t *testing.T) {
	cfg := Default()
	cfg.Cache.Redis.Host = "localhost"
	cfg.Cache.Redis.Port = 6379

	dsn := cfg.GetRedisDSN()
	assert.Equal(t, "localhost:6379", dsn)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 24000, cfg.Audio.TargetSampleRate)
	assert.Equal(t, 3.0, cfg.Audio.MaxGain)
	assert.Equal(t, 300, cfg.Audio.PrefixPaddingMs)

	assert.Equal(t, 15*time.Minute, cfg.Security.JWTAccessExpiry)
	assert.Equal(t, 30*24*time.Hour, cfg.Security.JWTRefreshExpiry)

	assert.Equal(t, 30*time.Second, cfg.TurnQueue.DefaultTimeout)
	assert.Equal(t, 60*time.Second, cfg.TurnQueue.PriorityTimeout)
	assert.Equal(t, 100, cfg.TurnQueue.PriorityBonus)
	assert.Equal(t, 20, cfg.TurnQueue.MaxQueueSize)

	assert.True(t, cfg.Cache.LRU.Enabled)
	assert.Equal(t, 10000, cfg.Cache.LRU.MaxEntries)
	assert.Equal(t, 5*time.Minute, cfg.Cache.LRU.TTL)
}

func TestLoadNonExistentFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nonexistent.json")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	_, err = os.Stat(configPath)
	require.NoError(t, err)
}
