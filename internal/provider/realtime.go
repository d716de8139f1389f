package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/roomvoice/server/internal/observability"
)

const (
	rtWriteWait      = 10 * time.Second
	rtPongWait       = 30 * time.Second
	rtPingPeriod     = 15 * time.Second
	rtSendBufferSize = 64
)

// clientEvent is an outbound message sent to the provider over the
// websocket connection.
type clientEvent struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// serverEvent is an inbound message received from the provider.
type serverEvent struct {
	Type      string          `json:"type"`
	State     string          `json:"state,omitempty"`
	Audio     string          `json:"audio,omitempty"`
	Role      string          `json:"role,omitempty"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	ErrorMsg  string          `json:"error_msg,omitempty"`
}

// rtSession is one room's open connection to the realtime provider.
type rtSession struct {
	conn      *websocket.Conn
	send      chan clientEvent
	cb        Callbacks
	closeOnce sync.Once
	done      chan struct{}
}

func (s *rtSession) enqueue(ev clientEvent) {
	select {
	case s.send <- ev:
	default:
		// Backpressure: drop rather than block the caller's audio thread.
	}
}

func (s *rtSession) writePump(logger zerolog.Logger) {
	ticker := time.NewTicker(rtPingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(rtWriteWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(ev); err != nil {
				logger.Debug().Err(err).Msg("provider write failed")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(rtWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *rtSession) readPump(logger zerolog.Logger) {
	defer s.closeLocal()

	s.conn.SetReadLimit(1 << 20)
	_ = s.conn.SetReadDeadline(time.Now().Add(rtPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(rtPongWait))
	})

	for {
		var ev serverEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if s.cb.OnError != nil {
					s.cb.OnError("connection", err.Error())
				}
			}
			return
		}
		s.dispatch(ev)
	}
}

func (s *rtSession) dispatch(ev serverEvent) {
	switch ev.Type {
	case "state":
		if s.cb.OnStateChange != nil {
			s.cb.OnStateChange(ev.State)
		}
	case "audio":
		if s.cb.OnAudioData != nil {
			s.cb.OnAudioData(ev.Audio)
		}
	case "transcript_delta":
		if s.cb.OnTranscriptDelta != nil {
			s.cb.OnTranscriptDelta(ev.Role, ev.Text)
		}
	case "response_done":
		if s.cb.OnResponseDone != nil {
			s.cb.OnResponseDone()
		}
	case "function_call":
		if s.cb.OnFunctionCall != nil {
			var args map[string]any
			_ = json.Unmarshal(ev.Args, &args)
			s.cb.OnFunctionCall(ev.Name, ev.CallID, args)
		}
	case "error":
		if s.cb.OnError != nil {
			s.cb.OnError(ev.ErrorKind, ev.ErrorMsg)
		}
	}
}

func (s *rtSession) closeLocal() {
	s.closeOnce.Do(func() {
		close(s.done)
		close(s.send)
	})
}

// Realtime is an Adapter backed by a websocket connection per room to a
// low-latency bidirectional voice endpoint.
type Realtime struct {
	mu       sync.Mutex
	sessions map[string]*rtSession
	endpoint string
	apiKey   string
	voices   map[string]string
	temps    map[string]float64
	cap      Capability
	logger   zerolog.Logger
	dialer   *websocket.Dialer
}

// RealtimeConfig configures a Realtime adapter.
type RealtimeConfig struct {
	Endpoint string
	APIKey   string
	Voices   map[string]string
	Temps    map[string]float64
	Cap      Capability
}

// NewRealtime constructs a Realtime adapter; sessions are dialed lazily on
// CreateSession.
func NewRealtime(cfg RealtimeConfig, logger zerolog.Logger) *Realtime {
	return &Realtime{
		sessions: make(map[string]*rtSession),
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		voices:   cfg.Voices,
		temps:    cfg.Temps,
		cap:      cfg.Cap,
		logger:   logger.With().Str("component", "provider_realtime").Logger(),
		dialer:   websocket.DefaultDialer,
	}
}

func (r *Realtime) CreateSession(ctx context.Context, roomID string, cfg SessionConfig, cb Callbacks) (OpenSessionResult, error) {
	ctx, span := observability.StartSpan(ctx, "provider.CreateSession", observability.Attrs{
		"room_id": roomID,
		"voice":   cfg.Voice,
	})
	defer span.End()

	header := http.Header{}
	if r.apiKey != "" {
		header.Set("Authorization", "Bearer "+r.apiKey)
	}

	conn, _, err := r.dialer.DialContext(ctx, r.endpoint, header)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(observability.StatusError, err.Error())
		return OpenSessionResult{}, fmt.Errorf("provider: dial: %w", err)
	}

	sess := &rtSession{
		conn: conn,
		send: make(chan clientEvent, rtSendBufferSize),
		cb:   cb,
		done: make(chan struct{}),
	}

	r.mu.Lock()
	r.sessions[roomID] = sess
	r.mu.Unlock()

	go sess.writePump(r.logger)
	go sess.readPump(r.logger)

	sess.enqueue(clientEvent{Type: "session.update", Payload: map[string]any{
		"voice":        cfg.Voice,
		"temperature":  cfg.Temperature,
		"instructions": cfg.Instructions,
		"tools":        cfg.Tools,
	}})

	return OpenSessionResult{Connected: true}, nil
}

func (r *Realtime) session(roomID string) (*rtSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[roomID]
	return s, ok
}

func (r *Realtime) CloseSession(roomID string) {
	r.mu.Lock()
	sess, ok := r.sessions[roomID]
	delete(r.sessions, roomID)
	r.mu.Unlock()
	if ok {
		sess.closeLocal()
	}
}

func (r *Realtime) IsSessionConnected(roomID string) bool {
	_, ok := r.session(roomID)
	return ok
}

func (r *Realtime) SendAudio(roomID, pcmBase64 string) {
	if s, ok := r.session(roomID); ok {
		s.enqueue(clientEvent{Type: "input_audio.append", Payload: map[string]any{"audio": pcmBase64}})
	}
}

func (r *Realtime) CommitAudio(roomID string) {
	if s, ok := r.session(roomID); ok {
		s.enqueue(clientEvent{Type: "input_audio.commit"})
	}
}

func (r *Realtime) TriggerResponse(roomID string) {
	if s, ok := r.session(roomID); ok {
		s.enqueue(clientEvent{Type: "response.create"})
	}
}

func (r *Realtime) CancelResponse(roomID string) bool {
	s, ok := r.session(roomID)
	if !ok {
		return false
	}
	s.enqueue(clientEvent{Type: "response.cancel"})
	return true
}

func (r *Realtime) RegisterTools(roomID string, tools []ToolDefinition) {
	if s, ok := r.session(roomID); ok {
		s.enqueue(clientEvent{Type: "session.update", Payload: map[string]any{"tools": tools}})
	}
}

func (r *Realtime) SendFunctionOutput(roomID, callID string, result map[string]any) {
	if s, ok := r.session(roomID); ok {
		s.enqueue(clientEvent{Type: "function_call.output", Payload: map[string]any{"call_id": callID, "output": result}})
	}
}

func (r *Realtime) InjectContext(roomID, text string) {
	if s, ok := r.session(roomID); ok {
		s.enqueue(clientEvent{Type: "context.inject", Payload: map[string]any{"text": text}})
	}
}

func (r *Realtime) SetActiveSpeaker(roomID, peerID, name string) {
	if s, ok := r.session(roomID); ok {
		s.enqueue(clientEvent{Type: "active_speaker.set", Payload: map[string]any{"peer_id": peerID, "name": name}})
	}
}

func (r *Realtime) GetVoice(personality string) string {
	if v, ok := r.voices[personality]; ok {
		return v
	}
	return "alloy"
}

func (r *Realtime) GetTemperature(personality string) float64 {
	if t, ok := r.temps[personality]; ok {
		return clampTemperature(t)
	}
	return 0.8
}

func (r *Realtime) Capabilities() Capability { return r.cap }

var _ Adapter = (*Realtime)(nil)
