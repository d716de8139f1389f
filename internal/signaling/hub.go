package signaling

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/roomvoice/server/internal/aiorchestrator"
	"github.com/roomvoice/server/internal/audiopipeline"
	"github.com/roomvoice/server/internal/auth"
	"github.com/roomvoice/server/internal/interrupt"
	"github.com/roomvoice/server/internal/observability"
	"github.com/roomvoice/server/internal/personality"
	"github.com/roomvoice/server/internal/presence"
	"github.com/roomvoice/server/internal/room"
	"github.com/roomvoice/server/internal/roomerr"
	"github.com/roomvoice/server/internal/searchbridge"
	"github.com/roomvoice/server/internal/security"
	"github.com/roomvoice/server/internal/summarizer"
	"github.com/roomvoice/server/internal/transcript"
	"github.com/roomvoice/server/internal/turnqueue"
	"github.com/roomvoice/server/pkg/wireproto"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// displayNameSanitizer removes null bytes, collapses whitespace and
// HTML-escapes every displayName before it's stored or broadcast to other
// peers.
var displayNameSanitizer = security.NewSanitizer()

// Hub implements the Signaling Hub (C2). It holds no room or AI state of
// its own; every inbound event is validated here and handed to the
// component that owns the corresponding piece of state, and every
// component's fan-out comes back through Hub's Broadcaster/Notifier
// implementations in broadcast.go.
type Hub struct {
	cfg         Config
	rooms       *room.Store
	presence    *presence.Tracker
	turns       *turnqueue.Processor
	ai          *aiorchestrator.Orchestrator
	interrupts  *interrupt.Handler
	transcripts *transcript.Store
	summaries   *summarizer.Service
	search      *searchbridge.Bridge
	personas    *personality.Manager
	jwt         *auth.JWTManager
	audioCfg    audiopipeline.Config
	logger      zerolog.Logger
	metrics     *observability.Metrics

	mu     sync.RWMutex
	peers  map[string]map[string]*peerConn    // roomID -> peerID -> conn
	audios map[string]*audiopipeline.Pipeline // roomID -> mixed-audio pipeline
}

// Deps bundles every component the Hub dispatches events to.
type Deps struct {
	Rooms       *room.Store
	Presence    *presence.Tracker
	Turns       *turnqueue.Processor
	AI          *aiorchestrator.Orchestrator
	Interrupts  *interrupt.Handler
	Transcripts *transcript.Store
	Summaries   *summarizer.Service
	Search      *searchbridge.Bridge
	Personas    *personality.Manager
	JWT         *auth.JWTManager
	AudioCfg    audiopipeline.Config
}

// NewHub constructs a Hub with every dependency already built. Use this
// form in tests, where fakes have no circular reference back to the Hub.
func NewHub(deps Deps, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Hub {
	h := NewEmpty(cfg, logger, metrics)
	h.Wire(deps)
	return h
}

// NewEmpty constructs a Hub with no dependencies wired yet. The Turn Queue
// Processor and AI Orchestrator each take the Hub itself as a callback
// target (turnqueue.Notifier, aiorchestrator.FunctionCallHandler) and so
// must be constructed after the Hub pointer exists but before its Deps are
// known; cmd/roomserver builds them against this empty Hub and then calls
// Wire once every component is constructed.
func NewEmpty(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger.With().Str("component", "signaling_hub").Logger(),
		metrics: metrics,
		peers:   make(map[string]map[string]*peerConn),
		audios:  make(map[string]*audiopipeline.Pipeline),
	}
}

// Wire attaches deps to an empty Hub. Must be called exactly once, after
// every circularly-dependent component (turnqueue.Processor,
// aiorchestrator.Orchestrator, summarizer.Service) has been constructed
// against this Hub.
func (h *Hub) Wire(deps Deps) {
	h.rooms = deps.Rooms
	h.presence = deps.Presence
	h.turns = deps.Turns
	h.ai = deps.AI
	h.interrupts = deps.Interrupts
	h.transcripts = deps.Transcripts
	h.summaries = deps.Summaries
	h.search = deps.Search
	h.personas = deps.Personas
	h.jwt = deps.JWT
	h.audioCfg = deps.AudioCfg
}

// Handler returns the HTTP handler for the /ws upgrade. The bearer token
// is accepted either as an Authorization header or a "token" query
// parameter, since browser WebSocket clients cannot set custom headers.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.authenticate(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error().Err(err).Msg("websocket upgrade failed")
			return
		}
		if h.metrics != nil {
			h.metrics.SignalingConnections.WithLabelValues().Inc()
		}
		h.handleConnection(conn, userID)
		if h.metrics != nil {
			h.metrics.SignalingConnections.WithLabelValues().Dec()
		}
	}
}

func (h *Hub) authenticate(r *http.Request) (string, error) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		header := r.Header.Get("Authorization")
		tok = strings.TrimPrefix(header, "Bearer ")
	}
	if tok == "" {
		return "", roomerr.Unauthorized("missing bearer token")
	}
	claims, err := h.jwt.ValidateToken(tok)
	if err != nil {
		return "", roomerr.Wrap(roomerr.CodeUnauthorized, "invalid token", err)
	}
	return claims.UserID, nil
}

// handleConnection owns one socket end to end: the read loop, dispatch,
// and cleanup on disconnect. A connection joins at most one room; a
// second room:join on the same socket is rejected.
func (h *Hub) handleConnection(conn *websocket.Conn, userID string) {
	defer conn.Close()

	conn.SetReadLimit(h.cfg.maxMessageSize())
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.pongWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.pongWait()))
	})

	var pc *peerConn

	defer func() {
		if pc != nil {
			h.leaveRoom(pc)
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug().Msg("client disconnected")
			} else {
				h.logger.Warn().Err(err).Msg("signaling read error")
			}
			return
		}

		env, err := wireproto.Decode(msg)
		if err != nil {
			h.logger.Warn().Err(err).Msg("invalid envelope")
			continue
		}
		if h.metrics != nil {
			h.metrics.SignalingMessagesTotal.WithLabelValues(string(env.Event), "in").Inc()
		}

		h.dispatch(conn, userID, &pc, env)
	}
}

// dispatch routes one decoded envelope. *pc tracks the connection's
// membership across the whole read loop; room:join sets it, room:leave
// and a dropped-on-backpressure send clear it back to nil.
func (h *Hub) dispatch(conn *websocket.Conn, userID string, pcRef **peerConn, env *wireproto.Envelope) {
	pc := *pcRef
	if pc != nil && h.peerByID(pc.roomID, pc.peerID) != pc {
		// send() already dropped this peer on backpressure.
		pc = nil
		*pcRef = nil
	}
	switch env.Event {
	case wireproto.EventRoomJoin:
		if pc != nil {
			h.sendError(pc, string(roomerr.CodeInvalidInput), "connection has already joined a room")
			return
		}
		*pcRef = h.handleRoomJoin(conn, userID, env)
	case wireproto.EventRoomLeave:
		if pc != nil {
			h.leaveRoom(pc)
			*pcRef = nil
		}
	case wireproto.EventDisplayNameUpdate:
		h.handleDisplayNameUpdate(pc, env)
	case wireproto.EventPresenceUpdate:
		h.handlePresenceUpdate(pc, env)
	case wireproto.EventPresenceHeartbeat:
		h.handlePresenceHeartbeat(pc)
	case wireproto.EventSignalOffer, wireproto.EventSignalAnswer, wireproto.EventSignalICE:
		h.handleSignalRelay(pc, env)
	case wireproto.EventAIPTTStart:
		h.handleAIPTTStart(pc)
	case wireproto.EventAIPTTEnd:
		h.handleAIPTTEnd(pc)
	case wireproto.EventAIAudioData:
		h.handleAIAudioData(pc, env)
	case wireproto.EventAIInterrupt:
		h.handleAIInterrupt(pc)
	case wireproto.EventTranscriptRequestHistory:
		h.handleTranscriptRequestHistory(pc, env)
	case wireproto.EventSearchClear:
		// No component tracks "stale search" state to clear; the event
		// exists on both sides of the wire so a client can round-trip
		// its own clear as a no-op acknowledgement.
	default:
		h.logger.Debug().Str("event", string(env.Event)).Msg("unhandled signaling event")
	}
}

func (h *Hub) handleRoomJoin(conn *websocket.Conn, userID string, env *wireproto.Envelope) *peerConn {
	var payload wireproto.RoomJoinPayload
	if err := env.DecodePayload(&payload); err != nil {
		h.sendErrorRaw(conn, roomerr.CodeInvalidInput, "invalid room:join payload", "")
		return nil
	}

	name := displayNameSanitizer.SanitizeMessage(payload.DisplayName)
	if len(name) < 1 || len(name) > 40 {
		h.sendErrorRaw(conn, roomerr.CodeInvalidName, "displayName must be 1-40 characters", payload.RoomID)
		return nil
	}

	r, ok := h.rooms.Get(payload.RoomID)
	if !ok {
		h.sendErrorRaw(conn, roomerr.CodeRoomNotFound, "room not found", payload.RoomID)
		return nil
	}
	snap := r.Snapshot()
	if snap.Status == room.StatusClosed {
		h.sendErrorRaw(conn, roomerr.CodeRoomClosed, "room is closed", payload.RoomID)
		return nil
	}
	if len(snap.Participants) >= snap.MaxParticipants {
		h.sendErrorRaw(conn, roomerr.CodeRoomFull, "room is full", payload.RoomID)
		return nil
	}

	role := room.RoleParticipant
	if snap.OwnerID == userID {
		role = room.RoleOwner
	}

	peerID := uuid.NewString()
	peer := &room.Peer{
		ID:          peerID,
		DisplayName: name,
		AvatarURL:   payload.AvatarURL,
		Role:        role,
		RoomID:      payload.RoomID,
		JoinedAt:    time.Now(),
		Presence: room.Presence{
			ConnectionState: "connected",
			LastActiveAt:    time.Now(),
			LastHeartbeatAt: time.Now(),
		},
	}
	if err := h.rooms.AddParticipant(payload.RoomID, peer); err != nil {
		code := roomerr.CodeRoomFull
		if re, ok := err.(*roomerr.Error); ok {
			code = re.Code
		}
		h.sendErrorRaw(conn, code, err.Error(), payload.RoomID)
		return nil
	}

	pc := newPeerConn(conn, userID, payload.RoomID, peerID, h.cfg.sendBuffer())
	pc.startWritePump(h.cfg, h.logger, h.metrics)
	h.addPeer(pc)

	h.sendJoined(pc, r)
	h.broadcastPeerJoined(pc.roomID, pc.peerID, *peer)
	h.sendTranscriptHistory(pc, payload.RoomID, "", h.cfg.historyLimit(), true)

	return pc
}

func (h *Hub) leaveRoom(pc *peerConn) {
	h.removePeer(pc)
	_ = h.rooms.RemoveParticipant(pc.roomID, pc.peerID)
	h.presence.RemovePeer(pc.roomID, pc.peerID)
	h.turns.CancelAllForPeer(pc.roomID, pc.peerID)
	h.broadcastPeerLeft(pc.roomID, pc.peerID)
	pc.close()
}

func (h *Hub) handleDisplayNameUpdate(pc *peerConn, env *wireproto.Envelope) {
	if pc == nil {
		return
	}
	var payload wireproto.DisplayNameUpdatePayload
	if err := env.DecodePayload(&payload); err != nil {
		return
	}
	name := displayNameSanitizer.SanitizeMessage(payload.Name)
	if len(name) < 1 || len(name) > 40 {
		h.sendError(pc, string(roomerr.CodeInvalidName), "displayName must be 1-40 characters")
		return
	}
	var updated room.Peer
	err := h.rooms.MutatePeer(pc.roomID, pc.peerID, func(p *room.Peer) {
		p.DisplayName = name
		updated = *p
	})
	if err != nil {
		return
	}
	h.broadcastPeerUpdated(pc.roomID, updated)
}

func (h *Hub) handlePresenceUpdate(pc *peerConn, env *wireproto.Envelope) {
	if pc == nil {
		return
	}
	var payload wireproto.PresenceUpdatePayload
	if err := env.DecodePayload(&payload); err != nil {
		return
	}
	h.presence.Update(pc.roomID, pc.peerID, presence.PartialUpdate{
		IsMuted:        payload.IsMuted,
		IsSpeaking:     payload.IsSpeaking,
		IsAddressingAI: payload.IsAddressingAI,
		AudioLevel:     payload.AudioLevel,
	})
}

func (h *Hub) handlePresenceHeartbeat(pc *peerConn) {
	if pc == nil {
		return
	}
	h.presence.Heartbeat(pc.roomID, pc.peerID)
}

func (h *Hub) handleSignalRelay(pc *peerConn, env *wireproto.Envelope) {
	if pc == nil {
		return
	}
	var payload wireproto.SignalPayload
	if err := env.DecodePayload(&payload); err != nil {
		return
	}
	target := h.peerByID(pc.roomID, payload.TargetPeerID)
	if target == nil {
		return
	}
	payload.TargetPeerID = pc.peerID // the recipient learns who sent it
	relay, err := wireproto.NewEnvelope(env.Event, payload)
	if err != nil {
		return
	}
	_ = target.enqueue(h.cfg, relay)
}

func (h *Hub) handleAIPTTStart(pc *peerConn) {
	if pc == nil {
		return
	}
	peer, ok := h.peerRecord(pc.roomID, pc.peerID)
	if !ok {
		return
	}
	h.turns.Enqueue(pc.roomID, pc.peerID, peer.DisplayName, string(peer.Role), 0)
}

func (h *Hub) handleAIPTTEnd(pc *peerConn) {
	if pc == nil {
		return
	}
	h.ai.EndTurn(pc.roomID)
}

func (h *Hub) handleAIAudioData(pc *peerConn, env *wireproto.Envelope) {
	if pc == nil {
		return
	}
	var payload wireproto.AIAudioDataPayload
	if err := env.DecodePayload(&payload); err != nil {
		return
	}
	samples, err := decodeAudioPCM16(payload.Audio)
	if err != nil {
		return
	}
	h.pipelineFor(pc.roomID).Ingest(pc.peerID, samples)
}

func (h *Hub) handleAIInterrupt(pc *peerConn) {
	if pc == nil {
		return
	}
	peer, ok := h.peerRecord(pc.roomID, pc.peerID)
	if !ok {
		return
	}
	req, err := h.interrupts.RequestInterrupt(pc.roomID, pc.peerID, string(peer.Role))
	if err != nil {
		h.sendError(pc, string(roomerr.CodeRateLimited), err.Error())
		return
	}
	state := h.ai.State(pc.roomID)
	_ = h.interrupts.ProcessInterrupt(req.ID, string(state.State), 0,
		func(roomID string) (bool, error) { return h.ai.CancelCurrentResponse(roomID) },
		nil,
		func() {
			h.turns.EndTurn(pc.roomID, true)
			h.turns.ProcessNext(pc.roomID)
		},
	)
}

func (h *Hub) handleTranscriptRequestHistory(pc *peerConn, env *wireproto.Envelope) {
	if pc == nil {
		return
	}
	var payload wireproto.TranscriptRequestHistoryPayload
	if err := env.DecodePayload(&payload); err != nil {
		return
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = h.cfg.historyLimit()
	}
	h.sendTranscriptHistory(pc, pc.roomID, payload.BeforeID, limit, payload.IncludeSummaries)
}

func (h *Hub) peerRecord(roomID, peerID string) (room.Peer, bool) {
	r, ok := h.rooms.Get(roomID)
	if !ok {
		return room.Peer{}, false
	}
	return r.Peer(peerID)
}

// ensureRoomAudioDestroyed drops a room's mixed-audio pipeline once the
// room itself is closed, so VAD state never outlives the room.
func (h *Hub) ensureRoomAudioDestroyed(roomID string) {
	h.mu.Lock()
	delete(h.audios, roomID)
	h.mu.Unlock()
}

func (h *Hub) pipelineFor(roomID string) *audiopipeline.Pipeline {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.audios[roomID]; ok {
		return p
	}
	p := audiopipeline.New(h.audioCfg, audiopipeline.Callbacks{
		OnAudioChunk: func(peerID string, samples []int16) {
			h.ai.ForwardAudio(roomID, encodeAudioPCM16(samples))
		},
	}, h.logger)
	h.audios[roomID] = p
	return p
}
