package signaling

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomvoice/server/internal/aiorchestrator"
	"github.com/roomvoice/server/internal/room"
	"github.com/roomvoice/server/internal/roomerr"
	"github.com/roomvoice/server/internal/searchbridge"
	"github.com/roomvoice/server/internal/summarizer"
	"github.com/roomvoice/server/internal/transcript"
	"github.com/roomvoice/server/internal/turnqueue"
	"github.com/roomvoice/server/pkg/wireproto"
)

// --- connection registry ----------------------------------------------

func (h *Hub) addPeer(pc *peerConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.peers[pc.roomID]
	if !ok {
		conns = make(map[string]*peerConn)
		h.peers[pc.roomID] = conns
	}
	conns[pc.peerID] = pc
}

func (h *Hub) removePeer(pc *peerConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.peers[pc.roomID]; ok {
		delete(conns, pc.peerID)
		if len(conns) == 0 {
			delete(h.peers, pc.roomID)
		}
	}
}

func (h *Hub) peerByID(roomID, peerID string) *peerConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peers[roomID][peerID]
}

func (h *Hub) roomPeers(roomID string) []*peerConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := h.peers[roomID]
	out := make([]*peerConn, 0, len(conns))
	for _, pc := range conns {
		out = append(out, pc)
	}
	return out
}

// --- low-level send helpers --------------------------------------------

func (h *Hub) send(pc *peerConn, event wireproto.Event, payload interface{}) {
	env, err := wireproto.NewEnvelope(event, payload)
	if err != nil {
		h.logger.Warn().Err(err).Str("event", string(event)).Msg("failed to encode outbound payload")
		return
	}
	if err := pc.enqueue(h.cfg, env); err != nil {
		h.logger.Debug().Err(err).Str("peer_id", pc.peerID).Msg("dropping peer on backpressure")
		if h.metrics != nil {
			h.metrics.SignalingDroppedPeers.WithLabelValues(pc.roomID).Inc()
		}
		h.leaveRoom(pc)
		return
	}
	if h.metrics != nil {
		h.metrics.SignalingMessagesTotal.WithLabelValues(string(event), "out").Inc()
	}
}

func (h *Hub) broadcast(roomID string, exclude string, event wireproto.Event, payload interface{}) {
	for _, pc := range h.roomPeers(roomID) {
		if pc.peerID == exclude {
			continue
		}
		h.send(pc, event, payload)
	}
}

// sendErrorRaw replies with room:error directly on a socket that has not
// yet joined a room (no peerConn, no write pump) — used only for
// room:join admission failures.
func (h *Hub) sendErrorRaw(conn *websocket.Conn, code roomerr.Code, message, roomID string) {
	env, err := wireproto.NewEnvelope(wireproto.EventRoomError, wireproto.RoomErrorPayload{
		Code:    string(code),
		Message: message,
		RoomID:  roomID,
	})
	if err != nil {
		return
	}
	data, err := wireproto.Encode(env)
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.writeWait()))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

// --- join / membership broadcasts --------------------------------------

func toPeerEntry(p room.Peer) wireproto.PeerEntry {
	return wireproto.PeerEntry{
		PeerID:      p.ID,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		Role:        string(p.Role),
	}
}

func toSnapshotPayload(s room.Snapshot) wireproto.RoomSnapshotPayload {
	peers := make([]wireproto.PeerEntry, len(s.Participants))
	for i, p := range s.Participants {
		peers[i] = toPeerEntry(p)
	}
	return wireproto.RoomSnapshotPayload{
		ID:              s.ID,
		Name:            s.Name,
		Description:     s.Description,
		MaxParticipants: s.MaxParticipants,
		Status:          string(s.Status),
		OwnerID:         s.OwnerID,
		AIPersonality:   s.AIPersonality,
		CreatedAt:       s.CreatedAt.UnixMilli(),
		LastActivityAt:  s.LastActivityAt.UnixMilli(),
		Participants:    peers,
	}
}

func (h *Hub) sendJoined(pc *peerConn, r *room.Room) {
	h.send(pc, wireproto.EventRoomJoined, wireproto.RoomJoinedPayload{
		Room:       toSnapshotPayload(r.Snapshot()),
		SelfPeerID: pc.peerID,
	})
}

func (h *Hub) broadcastPeerJoined(roomID, selfID string, peer room.Peer) {
	h.broadcast(roomID, selfID, wireproto.EventPeerJoined, wireproto.PeerJoinedPayload{Peer: toPeerEntry(peer)})
}

func (h *Hub) broadcastPeerLeft(roomID, peerID string) {
	h.broadcast(roomID, "", wireproto.EventPeerLeft, wireproto.PeerLeftPayload{PeerID: peerID})
}

func (h *Hub) broadcastPeerUpdated(roomID string, peer room.Peer) {
	h.broadcast(roomID, "", wireproto.EventPeerUpdated, wireproto.PeerUpdatedPayload{Peer: toPeerEntry(peer)})
}

// BroadcastRoomUpdated is called by the REST layer after a room settings
// or personality change; the Hub is the only component holding live
// connections so it is the natural fan-out point even for HTTP-originated
// mutations.
func (h *Hub) BroadcastRoomUpdated(roomID string) {
	r, ok := h.rooms.Get(roomID)
	if !ok {
		return
	}
	h.broadcast(roomID, "", wireproto.EventRoomUpdated, wireproto.RoomUpdatedPayload{Room: toSnapshotPayload(r.Snapshot())})
}

// BroadcastRoomClosed is called once the room's TTL sweep or an explicit
// close marks it closed.
func (h *Hub) BroadcastRoomClosed(roomID, reason string) {
	h.broadcast(roomID, "", wireproto.EventRoomClosed, wireproto.RoomClosedPayload{Reason: reason})
	h.ensureRoomAudioDestroyed(roomID)
}

func (h *Hub) sendError(pc *peerConn, code, message string) {
	h.send(pc, wireproto.EventRoomError, wireproto.RoomErrorPayload{Code: code, Message: message, RoomID: pc.roomID})
}

// --- presence.Broadcaster ----------------------------------------------

func (h *Hub) BroadcastPresence(roomID string, peer room.Peer) {
	h.broadcast(roomID, "", wireproto.EventPresenceSync, wireproto.PresenceBroadcastPayload{
		PeerID:          peer.ID,
		ConnectionState: peer.Presence.ConnectionState,
		IsMuted:         peer.Presence.IsMuted,
		IsSpeaking:      peer.Presence.IsSpeaking,
		IsAddressingAI:  peer.Presence.IsAddressingAI,
		AudioLevel:      peer.Presence.AudioLevel,
		IsIdle:          peer.Presence.IsIdle,
	})
	h.broadcast(roomID, "", wireproto.EventAudioLevels, wireproto.AudioLevelsPayload{
		Levels: map[string]float64{peer.ID: peer.Presence.AudioLevel},
	})
}

func (h *Hub) BroadcastPeerLeft(roomID, peerID string) {
	h.broadcastPeerLeft(roomID, peerID)
}

func (h *Hub) BroadcastActiveSpeaker(roomID string, peerID string) {
	h.broadcast(roomID, "", wireproto.EventPresenceUpdate, wireproto.PresenceBroadcastPayload{
		PeerID:     peerID,
		IsSpeaking: peerID != "",
	})
}

// --- turnqueue.Notifier --------------------------------------------------

func (h *Hub) OnTurnGranted(req turnqueue.TurnRequest) {
	if err := h.ai.HandleTurnGranted(context.Background(), req.RoomID, req.PeerID, req.PeerDisplayName); err != nil {
		h.logger.Warn().Err(err).Str("room_id", req.RoomID).Msg("failed to open AI session for granted turn")
	}
}

// OnPositionChanged, OnTurnExpired and OnTurnRejected have no dedicated
// wire event in the protocol; queue depth is implicit (only the head of
// the queue is ever granted), so these are log-only.
func (h *Hub) OnPositionChanged(req turnqueue.TurnRequest) {
	h.logger.Debug().Str("room_id", req.RoomID).Str("peer_id", req.PeerID).Int("position", req.Position).Msg("turn position changed")
}

func (h *Hub) OnTurnExpired(req turnqueue.TurnRequest) {
	h.logger.Debug().Str("room_id", req.RoomID).Str("peer_id", req.PeerID).Msg("turn request expired")
}

func (h *Hub) OnTurnRejected(req turnqueue.TurnRequest, reason string) {
	if pc := h.peerByID(req.RoomID, req.PeerID); pc != nil {
		h.sendError(pc, string(roomerr.CodeRateLimited), reason)
	}
}

// --- aiorchestrator.Broadcaster ------------------------------------------

func (h *Hub) BroadcastAIState(roomID string, state aiorchestrator.RoomAIState) {
	h.broadcast(roomID, "", wireproto.EventAIState, wireproto.AIStatePayload{
		State:             string(state.State),
		ActiveSpeakerID:   state.ActiveSpeakerID,
		ActiveSpeakerName: state.ActiveSpeakerName,
		IsSessionHealthy:  state.IsSessionHealthy,
		LastError:         state.LastError,
	})
}

func (h *Hub) BroadcastAIAudio(roomID string, pcmBase64 string) {
	h.broadcast(roomID, "", wireproto.EventAIAudio, wireproto.AIAudioPayload{RoomID: roomID, Audio: pcmBase64})
}

// --- summarizer.Broadcaster ----------------------------------------------

func (h *Hub) BroadcastSummary(roomID string, summary transcript.Summary) {
	h.broadcast(roomID, "", wireproto.EventTranscriptSummary, toSummaryPayload(summary))
}

func toSummaryPayload(s transcript.Summary) wireproto.TranscriptSummaryPayload {
	return wireproto.TranscriptSummaryPayload{
		ID:                s.ID,
		RoomID:            s.RoomID,
		Timestamp:         s.Timestamp.UnixMilli(),
		Content:           s.Content,
		BulletPoints:      s.BulletPoints,
		EntriesSummarized: s.EntriesSummarized,
		TokenCount:        s.TokenCount,
		CoverageStart:     s.CoverageStart.UnixMilli(),
		CoverageEnd:       s.CoverageEnd.UnixMilli(),
	}
}

func toEntryPayload(e transcript.Entry) wireproto.TranscriptEntryPayload {
	return wireproto.TranscriptEntryPayload{
		ID:        e.ID,
		RoomID:    e.RoomID,
		Timestamp: e.Timestamp.UnixMilli(),
		Speaker:   e.Speaker,
		SpeakerID: e.SpeakerID,
		Content:   e.Content,
		Type:      string(e.Type),
	}
}

// EntrySink adapts transcript.Store into aiorchestrator.TranscriptAppender,
// additionally fanning out every appended entry to the room
// (transcript:entry) and to the summarizer's entry counter, since those
// three things happen together on every write and no other component is
// positioned to do all three without a second lookup.
type EntrySink struct {
	store     *transcript.Store
	hub       *Hub
	summaries *summarizer.Service
}

func NewEntrySink(store *transcript.Store, hub *Hub, summaries *summarizer.Service) *EntrySink {
	return &EntrySink{store: store, hub: hub, summaries: summaries}
}

func (s *EntrySink) Append(entry transcript.Entry) {
	s.store.Append(entry)
	s.hub.broadcast(entry.RoomID, "", wireproto.EventTranscriptEntry, toEntryPayload(entry))
	if s.summaries != nil {
		s.summaries.NoteEntryAppended(entry.RoomID)
	}
}

func (h *Hub) sendTranscriptHistory(pc *peerConn, roomID, beforeID string, limit int, includeSummaries bool) {
	page := h.transcripts.GetEntries(roomID, limit, 0, beforeID)
	entries := make([]wireproto.TranscriptEntryPayload, len(page.Entries))
	for i, e := range page.Entries {
		entries[i] = toEntryPayload(e)
	}
	var summaries []wireproto.TranscriptSummaryPayload
	if includeSummaries {
		for _, s := range h.transcripts.GetSummaries(roomID) {
			summaries = append(summaries, toSummaryPayload(s))
		}
	}
	h.send(pc, wireproto.EventTranscriptHistory, wireproto.TranscriptHistoryPayload{
		Entries:   entries,
		Summaries: summaries,
		HasMore:   page.HasMore,
	})
}

// --- search function-call bridge -----------------------------------------

// OnFunctionCall is registered with the Orchestrator as its
// FunctionCallHandler. It dispatches the call to the search bridge and,
// once the bridge's OutputSink fires, both feeds the result back to the
// provider and broadcasts the matching search:* wire event to the room.
func (h *Hub) OnFunctionCall(roomID, name, callID string, args map[string]any) {
	h.broadcast(roomID, "", wireproto.EventSearchStarted, wireproto.SearchResultsPayload{CallID: callID})
	h.search.Dispatch(searchbridge.Call{RoomID: roomID, CallID: callID, Name: name, Args: args}, h.onSearchResult)
}

func (h *Hub) onSearchResult(roomID, callID string, result map[string]any) {
	h.ai.SendFunctionOutput(roomID, callID, result)

	if errMsg, ok := result["error"].(string); ok {
		h.broadcast(roomID, "", wireproto.EventSearchError, wireproto.ErrorPayload{Message: errMsg})
		return
	}
	if summary, ok := result["summary"].(string); ok {
		h.broadcast(roomID, "", wireproto.EventVideoSummary, wireproto.VideoSummaryPayload{CallID: callID, Summary: summary})
		return
	}
	var results []string
	if raw, ok := result["results"].([]map[string]any); ok {
		for _, r := range raw {
			title, _ := r["title"].(string)
			link, _ := r["url"].(string)
			results = append(results, title+" — "+link)
		}
	}
	h.broadcast(roomID, "", wireproto.EventSearchResults, wireproto.SearchResultsPayload{CallID: callID, Results: results})
}

// --- audio codec helpers --------------------------------------------------

func decodeAudioPCM16(b64 string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return samples, nil
}

func encodeAudioPCM16(samples []int16) string {
	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}
	return base64.StdEncoding.EncodeToString(raw)
}
