package aiorchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roomvoice/server/internal/observability"
	"github.com/roomvoice/server/internal/provider"
	"github.com/roomvoice/server/internal/roomerr"
	"github.com/roomvoice/server/internal/transcript"
)

// FunctionCallHandler is invoked when the provider emits a function call.
// The orchestrator pauses its outbound audio path until the handler's
// eventual call to SendFunctionOutput resumes it.
type FunctionCallHandler func(roomID, name, callID string, args map[string]any)

type roomSession struct {
	mu sync.Mutex

	state             State
	activeSpeakerID   string
	activeSpeakerName string
	isSessionHealthy  bool
	lastError         string
	sessionOpen       bool
	responseStartedAt time.Time
	responseText      strings.Builder
	userText          strings.Builder

	audioOut chan string

	pauseMu  sync.Mutex
	paused   bool
	resumeCh chan struct{}
}

func newRoomSession(bufferSize int) *roomSession {
	return &roomSession{
		state:    StateIdle,
		audioOut: make(chan string, bufferSize),
	}
}

// effectiveState reports "locked" in place of processing/speaking when
// lockDuringResponse is configured, without disturbing the internal
// transition logic that still distinguishes the two.
func (s *roomSession) effectiveState(lockDuringResponse bool) State {
	if lockDuringResponse && (s.state == StateProcessing || s.state == StateSpeaking) {
		return StateLocked
	}
	return s.state
}

func (s *roomSession) pause() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if !s.paused {
		s.paused = true
		s.resumeCh = make(chan struct{})
	}
}

func (s *roomSession) resume() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if s.paused {
		s.paused = false
		close(s.resumeCh)
	}
}

func (s *roomSession) waitIfPaused() {
	for {
		s.pauseMu.Lock()
		if !s.paused {
			s.pauseMu.Unlock()
			return
		}
		ch := s.resumeCh
		s.pauseMu.Unlock()
		<-ch
	}
}

// Orchestrator implements the AI Orchestrator (C5): one provider session
// per room, driving RoomAIState through its transition table and relaying
// provider audio to every peer in receive order via a bounded,
// drop-oldest outbound channel.
type Orchestrator struct {
	adapter        provider.Adapter
	broadcaster    Broadcaster
	turnQueue      TurnNotifiee
	transcripts    TranscriptAppender
	personality    PersonalityProvider
	cfg            Config
	logger         zerolog.Logger
	metrics        *observability.Metrics
	onFunctionCall FunctionCallHandler

	mu       sync.RWMutex
	sessions map[string]*roomSession
}

// New constructs an Orchestrator. onFunctionCall may be nil if the room
// never registers function-call tools.
func New(adapter provider.Adapter, broadcaster Broadcaster, turnQueue TurnNotifiee, transcripts TranscriptAppender, personality PersonalityProvider, cfg Config, logger zerolog.Logger, metrics *observability.Metrics, onFunctionCall FunctionCallHandler) *Orchestrator {
	return &Orchestrator{
		adapter:        adapter,
		broadcaster:    broadcaster,
		turnQueue:      turnQueue,
		transcripts:    transcripts,
		personality:    personality,
		cfg:            cfg,
		logger:         logger.With().Str("component", "ai_orchestrator").Logger(),
		metrics:        metrics,
		onFunctionCall: onFunctionCall,
		sessions:       make(map[string]*roomSession),
	}
}

// HealthStatus reports an aggregate error if any open room session has
// gone unhealthy (the adapter reported a failure and no later "connected"
// state change has cleared it). Returns nil when there are no open sessions or all
// open sessions are healthy.
func (o *Orchestrator) HealthStatus() error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for roomID, s := range o.sessions {
		s.mu.Lock()
		open, healthy, lastErr := s.sessionOpen, s.isSessionHealthy, s.lastError
		s.mu.Unlock()
		if open && !healthy {
			if lastErr == "" {
				lastErr = "unknown error"
			}
			return roomerr.ProviderError(fmt.Errorf("room %s: %s", roomID, lastErr))
		}
	}
	return nil
}

func (o *Orchestrator) sessionFor(roomID string) *roomSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[roomID]
	if !ok {
		s = newRoomSession(o.cfg.outboundBuffer())
		o.sessions[roomID] = s
		go o.drainAudio(roomID, s)
	}
	return s
}

func (o *Orchestrator) drainAudio(roomID string, s *roomSession) {
	for frame := range s.audioOut {
		s.waitIfPaused()
		if o.broadcaster != nil {
			o.broadcaster.BroadcastAIAudio(roomID, frame)
		}
	}
}

func (o *Orchestrator) broadcastState(roomID string, s *roomSession) {
	if o.broadcaster == nil {
		return
	}
	o.broadcaster.BroadcastAIState(roomID, RoomAIState{
		RoomID:            roomID,
		State:             s.effectiveState(o.cfg.LockDuringResponse),
		ActiveSpeakerID:   s.activeSpeakerID,
		ActiveSpeakerName: s.activeSpeakerName,
		IsSessionHealthy:  s.isSessionHealthy,
		LastError:         s.lastError,
	})
}

func (o *Orchestrator) transition(roomID string, s *roomSession, to State) {
	from := s.state
	s.state = to
	if o.metrics != nil {
		o.metrics.AIStateTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
	o.broadcastState(roomID, s)
}

// ensureSession opens a provider session for the room if one is not
// already connected, resolving voice/temperature/instructions from the
// personality provider. It deliberately does not hold s.mu while calling
// the adapter: CreateSession may invoke Callbacks synchronously (the Mock
// adapter does), and those callbacks themselves acquire s.mu.
func (o *Orchestrator) ensureSession(ctx context.Context, roomID string, s *roomSession) error {
	s.mu.Lock()
	alreadyOpen := s.sessionOpen && o.adapter.IsSessionConnected(roomID)
	s.mu.Unlock()
	if alreadyOpen {
		return nil
	}

	voice, temperature := "", 0.0
	instructions := ""
	if o.personality != nil {
		voice, temperature = o.personality.VoiceSettings(roomID)
		instructions = o.personality.GenerateInstructions(roomID)
	}

	cb := provider.Callbacks{
		OnStateChange:     func(state string) { o.handleStateChange(roomID, s, state) },
		OnAudioData:       func(pcm string) { o.handleAudioData(roomID, s, pcm) },
		OnTranscriptDelta: func(role, text string) { o.handleTranscriptDelta(s, role, text) },
		OnResponseDone:    func() { o.handleResponseDone(roomID, s) },
		OnFunctionCall:    func(name, callID string, args map[string]any) { o.handleFunctionCall(roomID, s, name, callID, args) },
		OnError:           func(kind, msg string) { o.handleError(roomID, s, kind, msg) },
	}

	result, err := o.adapter.CreateSession(ctx, roomID, provider.SessionConfig{
		Voice:        voice,
		Temperature:  temperature,
		Instructions: instructions,
		SampleRateHz: o.cfg.sampleRate(),
	}, cb)
	if err != nil {
		return roomerr.Wrap(roomerr.CodeProviderError, "failed to open provider session", err)
	}

	s.mu.Lock()
	s.sessionOpen = result.Connected
	s.isSessionHealthy = result.Connected
	s.mu.Unlock()
	if o.metrics != nil && result.Connected {
		o.metrics.AIActiveSessions.WithLabelValues().Inc()
	}
	return nil
}

// HandleTurnGranted implements the "turn granted" transition: idle ->
// listening, broadcasting ai:state and opening the provider session if
// absent.
func (o *Orchestrator) HandleTurnGranted(ctx context.Context, roomID, peerID, peerName string) error {
	s := o.sessionFor(roomID)

	if err := o.ensureSession(ctx, roomID, s); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeSpeakerID = peerID
	s.activeSpeakerName = peerName
	o.transition(roomID, s, StateListening)
	return nil
}

// ForwardAudio implements the "audio_data inbound" transition (a no-op
// transition: listening -> listening). Audio arriving outside the
// listening state is dropped; VAD gating (C8) happens upstream of this
// call.
func (o *Orchestrator) ForwardAudio(roomID, pcmBase64 string) {
	s := o.sessionFor(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateListening {
		return
	}
	o.adapter.SendAudio(roomID, pcmBase64)
}

// EndTurn implements "ptt_end": listening -> processing, sending the
// commit and triggering a response from the provider. Any user speech
// transcribed by the provider during this turn is flushed as a `ptt`
// TranscriptEntry before the commit.
func (o *Orchestrator) EndTurn(roomID string) {
	s := o.sessionFor(roomID)
	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		return
	}
	userText := s.userText.String()
	s.userText.Reset()
	speakerID := s.activeSpeakerID
	speakerName := s.activeSpeakerName
	o.transition(roomID, s, StateProcessing)
	s.mu.Unlock()

	if userText != "" && o.transcripts != nil {
		o.transcripts.Append(transcript.Entry{
			ID:        uuid.NewString(),
			RoomID:    roomID,
			Timestamp: time.Now(),
			Speaker:   speakerName,
			SpeakerID: speakerID,
			Content:   userText,
			Type:      transcript.EntryPTT,
		})
	}

	o.adapter.CommitAudio(roomID)
	o.adapter.TriggerResponse(roomID)
}

func (o *Orchestrator) handleStateChange(roomID string, s *roomSession, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state == "connected" {
		wasUnhealthy := !s.isSessionHealthy
		s.isSessionHealthy = true
		s.lastError = ""
		if wasUnhealthy {
			o.transition(roomID, s, StateIdle)
		}
	}
}

// handleAudioData implements "provider audio delta": processing/speaking
// -> speaking, appending the frame to the bounded outbound channel in
// receive order (dropping the oldest queued frame on overflow).
func (o *Orchestrator) handleAudioData(roomID string, s *roomSession, pcmBase64 string) {
	s.mu.Lock()
	if s.state == StateProcessing || s.state == StateSpeaking {
		if s.responseStartedAt.IsZero() {
			s.responseStartedAt = time.Now()
		}
		if s.state != StateSpeaking {
			o.transition(roomID, s, StateSpeaking)
		}
	}
	s.mu.Unlock()

	select {
	case s.audioOut <- pcmBase64:
	default:
		select {
		case <-s.audioOut:
		default:
		}
		select {
		case s.audioOut <- pcmBase64:
		default:
		}
		if o.metrics != nil {
			o.metrics.AIAudioFramesDropped.WithLabelValues(roomID).Inc()
		}
	}
}

func (o *Orchestrator) handleTranscriptDelta(s *roomSession, role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch role {
	case "assistant":
		s.responseText.WriteString(text)
	case "user":
		s.userText.WriteString(text)
	}
}

// handleResponseDone implements "provider response.done": speaking ->
// idle, appending the accumulated ai_response TranscriptEntry and
// notifying the Turn Queue Processor.
func (o *Orchestrator) handleResponseDone(roomID string, s *roomSession) {
	s.mu.Lock()
	text := s.responseText.String()
	s.responseText.Reset()
	started := s.responseStartedAt
	s.responseStartedAt = time.Time{}
	activeSpeaker := s.activeSpeakerID
	o.transition(roomID, s, StateIdle)
	s.activeSpeakerID = ""
	s.activeSpeakerName = ""
	s.mu.Unlock()

	if text != "" && o.transcripts != nil {
		o.transcripts.Append(transcript.Entry{
			ID:        uuid.NewString(),
			RoomID:    roomID,
			Timestamp: time.Now(),
			Speaker:   "AI",
			SpeakerID: activeSpeaker,
			Content:   text,
			Type:      transcript.EntryAIResponse,
		})
	}

	if o.metrics != nil && !started.IsZero() {
		o.metrics.AIResponseDuration.WithLabelValues(roomID).Observe(float64(time.Since(started).Milliseconds()))
	}

	if o.turnQueue != nil {
		o.turnQueue.OnResponseDone(roomID)
	}
}

// handleFunctionCall implements the function-call pause: outbound audio
// for this room stops broadcasting until SendFunctionOutput is delivered,
// matching the ordering guarantee that ai:audio frames never interleave
// with in-flight tool execution.
func (o *Orchestrator) handleFunctionCall(roomID string, s *roomSession, name, callID string, args map[string]any) {
	s.pause()
	if o.onFunctionCall != nil {
		o.onFunctionCall(roomID, name, callID, args)
	}
}

// SendFunctionOutput delivers a tool result back to the provider and
// resumes the room's outbound audio path.
func (o *Orchestrator) SendFunctionOutput(roomID, callID string, result map[string]any) {
	s := o.sessionFor(roomID)
	o.adapter.SendFunctionOutput(roomID, callID, result)
	s.resume()
}

// handleError implements "provider error": any -> idle, marking the
// session unhealthy and surfacing lastError.
func (o *Orchestrator) handleError(roomID string, s *roomSession, kind, msg string) {
	s.mu.Lock()
	s.isSessionHealthy = false
	s.lastError = msg
	o.transition(roomID, s, StateIdle)
	s.mu.Unlock()

	o.logger.Warn().Str("room_id", roomID).Str("kind", kind).Str("error", msg).Msg("provider session error")
	if o.metrics != nil {
		o.metrics.AISessionErrors.WithLabelValues(kind).Inc()
	}
}

// CancelCurrentResponse implements the onSendCancel callback shape
// internal/interrupt.Handler.ProcessInterrupt expects: it cancels the
// provider's in-flight response and, on success, drives the "interrupt
// accepted" transition to idle.
func (o *Orchestrator) CancelCurrentResponse(roomID string) (bool, error) {
	success := o.adapter.CancelResponse(roomID)
	if !success {
		return false, nil
	}

	s := o.sessionFor(roomID)
	s.mu.Lock()
	s.responseText.Reset()
	s.responseStartedAt = time.Time{}
	o.transition(roomID, s, StateIdle)
	s.activeSpeakerID = ""
	s.activeSpeakerName = ""
	s.mu.Unlock()
	s.resume()

	return true, nil
}

// CloseRoom tears down the provider session and outbound audio goroutine
// for roomID. Called when a room closes.
func (o *Orchestrator) CloseRoom(roomID string) {
	o.mu.Lock()
	s, ok := o.sessions[roomID]
	delete(o.sessions, roomID)
	o.mu.Unlock()
	if !ok {
		return
	}

	o.adapter.CloseSession(roomID)
	s.resume()
	close(s.audioOut)
	if o.metrics != nil && s.sessionOpen {
		o.metrics.AIActiveSessions.WithLabelValues().Dec()
	}
}

// State returns a snapshot of the room's current AI state.
func (o *Orchestrator) State(roomID string) RoomAIState {
	s := o.sessionFor(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return RoomAIState{
		RoomID:            roomID,
		State:             s.effectiveState(o.cfg.LockDuringResponse),
		ActiveSpeakerID:   s.activeSpeakerID,
		ActiveSpeakerName: s.activeSpeakerName,
		IsSessionHealthy:  s.isSessionHealthy,
		LastError:         s.lastError,
	}
}
