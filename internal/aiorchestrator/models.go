// Package aiorchestrator implements the AI Orchestrator (C5): one provider
// session per room, the RoomAIState machine, and the bounded outbound-audio
// path that broadcasts provider audio to every peer in receive order.
package aiorchestrator

import (
	"github.com/roomvoice/server/internal/transcript"
)

// State is one value of the RoomAIState machine.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
	StateLocked     State = "locked"
)

// RoomAIState is the externally-broadcast snapshot of a room's AI session.
type RoomAIState struct {
	RoomID            string `json:"roomId"`
	State             State  `json:"state"`
	ActiveSpeakerID   string `json:"activeSpeakerId,omitempty"`
	ActiveSpeakerName string `json:"activeSpeakerName,omitempty"`
	IsSessionHealthy  bool   `json:"isSessionHealthy"`
	LastError         string `json:"lastError,omitempty"`
}

// Config bundles the tunables read from internal/config.AIConfig.
type Config struct {
	// LockDuringResponse, when true, reports "locked" in place of
	// "processing"/"speaking" for the duration of a provider response
	// stream, so other turn requests see the room as unavailable without
	// the internal processing/speaking distinction leaking out.
	LockDuringResponse bool

	// OutboundAudioBuffer bounds the per-room outbound audio channel.
	// Frames are dropped oldest-first on overflow.
	OutboundAudioBuffer int

	SampleRateHz int
}

func (c Config) outboundBuffer() int {
	if c.OutboundAudioBuffer <= 0 {
		return 64
	}
	return c.OutboundAudioBuffer
}

func (c Config) sampleRate() int {
	if c.SampleRateHz <= 0 {
		return 24000
	}
	return c.SampleRateHz
}

// Broadcaster is implemented by the Signaling Hub; the orchestrator never
// touches a connection directly.
type Broadcaster interface {
	BroadcastAIState(roomID string, state RoomAIState)
	BroadcastAIAudio(roomID string, pcmBase64 string)
}

// TurnNotifiee is the subset of turnqueue.Processor the orchestrator drives.
type TurnNotifiee interface {
	OnResponseDone(roomID string)
	ReportProcessingFailure(roomID string) bool
}

// TranscriptAppender is the subset of transcript.Store the orchestrator
// writes ai_response entries through.
type TranscriptAppender interface {
	Append(entry transcript.Entry)
}

// PersonalityProvider resolves per-room voice/instructions from
// internal/personality without a direct dependency on that package's full
// surface.
type PersonalityProvider interface {
	VoiceSettings(roomID string) (voice string, temperature float64)
	GenerateInstructions(roomID string) string
}
