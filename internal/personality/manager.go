// Package personality implements the Personality Manager (C11): per-room
// AI system-instruction, voice, and temperature configuration.
package personality

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/roomvoice/server/internal/roomerr"
)

// Preset is a built-in personality's canned instructions and suggested
// voice/temperature.
type Preset string

const (
	PresetFacilitator Preset = "facilitator"
	PresetAssistant   Preset = "assistant"
	PresetExpert      Preset = "expert"
	PresetBrainstorm  Preset = "brainstorm"
	PresetCustom      Preset = "custom"
)

var presetInstructions = map[Preset]string{
	PresetFacilitator: "You are a calm meeting facilitator. Keep the discussion on track, summarize decisions, and invite quieter participants to speak.",
	PresetAssistant:   "You are a helpful, concise voice assistant. Answer questions directly and ask for clarification when needed.",
	PresetExpert:      "You are a subject-matter expert. Give precise, well-reasoned answers and cite relevant considerations.",
	PresetBrainstorm:  "You are a creative brainstorming partner. Generate diverse ideas, build on participants' suggestions, and avoid shutting down ideas early.",
}

var presetVoice = map[Preset]string{
	PresetFacilitator: "alloy",
	PresetAssistant:   "alloy",
	PresetExpert:      "onyx",
	PresetBrainstorm:  "shimmer",
}

var presetTemperature = map[Preset]float64{
	PresetFacilitator: 0.6,
	PresetAssistant:   0.5,
	PresetExpert:      0.3,
	PresetBrainstorm:  1.1,
}

func validPreset(p Preset) bool {
	switch p {
	case PresetFacilitator, PresetAssistant, PresetExpert, PresetBrainstorm, PresetCustom:
		return true
	}
	return false
}

// roomConfig holds the validated per-room personality state.
type roomConfig struct {
	Personality        Preset  `validate:"required"`
	CustomInstructions string  `validate:"max=4000"`
	Voice              string
	VoiceOverride      bool
	Temperature        float64 `validate:"gte=0,lte=2"`
	TemperatureSet     bool
	AdditionalContext  string `validate:"max=1000"`
	ParticipantContext string
}

// Config bundles the defaults read from internal/config.PersonalityConfig.
type Config struct {
	DefaultPersonality       Preset
	DefaultVoice             string
	DefaultTemperature       float64
	MaxCustomInstructionsLen int
	MaxAdditionalContextLen  int
}

// Manager implements the Personality Manager (C11).
type Manager struct {
	mu       sync.RWMutex
	rooms    map[string]*roomConfig
	cfg      Config
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewManager constructs a Manager with the given process-wide defaults.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	return &Manager{
		rooms:    make(map[string]*roomConfig),
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger.With().Str("component", "personality_manager").Logger(),
	}
}

func (m *Manager) configFor(roomID string) *roomConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.rooms[roomID]
	if !ok {
		rc = &roomConfig{
			Personality: m.cfg.DefaultPersonality,
			Voice:       m.cfg.DefaultVoice,
			Temperature: m.cfg.DefaultTemperature,
		}
		m.rooms[roomID] = rc
	}
	return rc
}

// SetPersonality validates and sets a room's personality preset. When
// personality is "custom", customInstructions must be non-empty and at most
// 4000 characters, the bound set by roomConfig's validate tag;
// MaxCustomInstructionsLen is not consulted here.
func (m *Manager) SetPersonality(roomID string, preset Preset, customInstructions string) error {
	if !validPreset(preset) {
		return roomerr.InvalidInput(fmt.Sprintf("unknown personality %q", preset))
	}
	if preset == PresetCustom && strings.TrimSpace(customInstructions) == "" {
		return roomerr.InvalidInput("customInstructions required when personality is custom")
	}

	rc := m.configFor(roomID)
	m.mu.Lock()
	defer m.mu.Unlock()

	candidate := *rc
	candidate.Personality = preset
	candidate.CustomInstructions = customInstructions
	if err := m.validate.Struct(&candidate); err != nil {
		return roomerr.InvalidInput(err.Error())
	}

	*rc = candidate
	return nil
}

// SetTemperature validates and sets a room's explicit temperature override.
func (m *Manager) SetTemperature(roomID string, temperature float64) error {
	rc := m.configFor(roomID)
	m.mu.Lock()
	defer m.mu.Unlock()

	candidate := *rc
	candidate.Temperature = temperature
	if err := m.validate.Struct(&candidate); err != nil {
		return roomerr.InvalidInput("temperature must be within [0, 2]")
	}
	candidate.TemperatureSet = true
	*rc = candidate
	return nil
}

// SetVoice sets an explicit voice override for the room.
func (m *Manager) SetVoice(roomID, voice string) error {
	if strings.TrimSpace(voice) == "" {
		return roomerr.InvalidInput("voice cannot be empty")
	}
	rc := m.configFor(roomID)
	m.mu.Lock()
	defer m.mu.Unlock()
	rc.Voice = voice
	rc.VoiceOverride = true
	return nil
}

// SetAdditionalContext validates and sets free-form context appended to
// every generated instruction set.
func (m *Manager) SetAdditionalContext(roomID, context string) error {
	rc := m.configFor(roomID)
	m.mu.Lock()
	defer m.mu.Unlock()

	candidate := *rc
	candidate.AdditionalContext = context
	if err := m.validate.Struct(&candidate); err != nil {
		return roomerr.InvalidInput(fmt.Sprintf("additionalContext must be at most %d characters", m.cfg.MaxAdditionalContextLen))
	}
	*rc = candidate
	return nil
}

// SetParticipantContext sets the system-maintained roster context (current
// participant names/roles), refreshed on join/leave.
func (m *Manager) SetParticipantContext(roomID, context string) {
	rc := m.configFor(roomID)
	m.mu.Lock()
	defer m.mu.Unlock()
	rc.ParticipantContext = context
}

// GenerateInstructions composes the full system instruction set for a
// room's current configuration: base preset or custom instructions, then
// participantContext and additionalContext each in their own block.
func (m *Manager) GenerateInstructions(roomID string) string {
	rc := m.configFor(roomID)
	m.mu.RLock()
	defer m.mu.RUnlock()

	base := rc.CustomInstructions
	if rc.Personality != PresetCustom {
		base = presetInstructions[rc.Personality]
	}

	var blocks []string
	if base != "" {
		blocks = append(blocks, base)
	}
	if rc.ParticipantContext != "" {
		blocks = append(blocks, rc.ParticipantContext)
	}
	if rc.AdditionalContext != "" {
		blocks = append(blocks, rc.AdditionalContext)
	}
	return strings.Join(blocks, "\n\n")
}

// VoiceSettings returns the effective voice and temperature for a room:
// explicit override, else the preset's suggestion, else the process
// default.
func (m *Manager) VoiceSettings(roomID string) (voice string, temperature float64) {
	rc := m.configFor(roomID)
	m.mu.RLock()
	defer m.mu.RUnlock()

	voice = rc.Voice
	if !rc.VoiceOverride {
		if v, ok := presetVoice[rc.Personality]; ok {
			voice = v
		}
	}

	temperature = rc.Temperature
	if !rc.TemperatureSet {
		if tmp, ok := presetTemperature[rc.Personality]; ok {
			temperature = tmp
		}
	}
	return voice, temperature
}
