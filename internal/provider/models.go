// Package provider defines the capability interface every concrete
// voice-AI backend adapter satisfies (C6), plus a mock adapter for tests
// and local development and a websocket-backed realtime adapter.
package provider

import "context"

// ToolDefinition is a function-call tool offered to the model for the
// lifetime of a session.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// SessionConfig is the initial configuration for a new provider session.
type SessionConfig struct {
	Voice        string
	Temperature  float64
	Instructions string
	Tools        []ToolDefinition
	SampleRateHz int
}

// Callbacks are invoked by an adapter on events surfaced by the underlying
// provider connection. Realtime runs them on its own receive goroutine;
// Mock runs them synchronously on the goroutine that called it.
// Implementations must not block.
type Callbacks struct {
	OnStateChange     func(state string)
	OnAudioData       func(pcmBase64 string)
	OnTranscriptDelta func(role, text string)
	OnResponseDone    func()
	OnFunctionCall    func(name, callID string, argsJSON map[string]any)
	OnError           func(kind, msg string)
}

// OpenSessionResult is returned by CreateSession.
type OpenSessionResult struct {
	Connected bool
}

// Capability describes static properties of an adapter's underlying model.
type Capability struct {
	SupportedSampleRates []int
	AutoTranscribesInput bool
	SupportsInBandSearch bool
}

// Adapter is the capability interface every concrete voice-AI backend
// implements, exactly the method set spec.md §4.6 enumerates.
type Adapter interface {
	CreateSession(ctx context.Context, roomID string, cfg SessionConfig, cb Callbacks) (OpenSessionResult, error)
	CloseSession(roomID string)
	IsSessionConnected(roomID string) bool

	// SendAudio never blocks more than ~50ms; it drops the chunk on backpressure.
	SendAudio(roomID string, pcmBase64 string)
	CommitAudio(roomID string)
	TriggerResponse(roomID string)
	CancelResponse(roomID string) bool

	RegisterTools(roomID string, tools []ToolDefinition)
	SendFunctionOutput(roomID, callID string, result map[string]any)
	InjectContext(roomID, text string)
	SetActiveSpeaker(roomID, peerID, name string)

	GetVoice(personality string) string
	GetTemperature(personality string) float64

	Capabilities() Capability
}
