package signaling

import (
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomvoice/server/internal/aiorchestrator"
	"github.com/roomvoice/server/internal/auth"
	"github.com/roomvoice/server/internal/audiopipeline"
	"github.com/roomvoice/server/internal/interrupt"
	"github.com/roomvoice/server/internal/observability"
	"github.com/roomvoice/server/internal/personality"
	"github.com/roomvoice/server/internal/presence"
	"github.com/roomvoice/server/internal/provider"
	"github.com/roomvoice/server/internal/room"
	"github.com/roomvoice/server/internal/searchbridge"
	"github.com/roomvoice/server/internal/summarizer"
	"github.com/roomvoice/server/internal/transcript"
	"github.com/roomvoice/server/internal/turnqueue"
	"github.com/roomvoice/server/pkg/wireproto"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel)
}

// testHarness wires a full Hub the way cmd/roomserver does, resolving the
// Hub/turnqueue/orchestrator circular dependency via NewEmpty+Wire.
type testHarness struct {
	hub    *Hub
	rooms  *room.Store
	jwt    *auth.JWTManager
	server *httptest.Server
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := testLogger()
	metrics := observability.NewMetrics()

	rooms := room.NewStore(8, 2, 16, logger, metrics)
	jwt, err := auth.NewJWTManager(strings.Repeat("x", 32))
	require.NoError(t, err)

	hub := NewEmpty(Config{}, logger, metrics)

	pres := presence.NewTracker(rooms, hub, presence.Config{}, logger, metrics)
	turns := turnqueue.NewProcessor(hub, turnqueue.Config{}, logger, metrics)
	transcripts := transcript.NewStore(100, logger, metrics)
	summaries := summarizer.New(transcripts, hub, nil, summarizer.Config{}, logger, metrics)
	entrySink := NewEntrySink(transcripts, hub, summaries)
	personas := personality.NewManager(personality.Config{}, logger)
	mockAdapter := provider.NewMock(nil, nil, provider.Capability{})
	ai := aiorchestrator.New(mockAdapter, hub, turns, entrySink, personas, aiorchestrator.Config{}, logger, metrics, hub.OnFunctionCall)
	interrupts := interrupt.NewHandler(interrupt.Config{}, rooms, logger, metrics)
	search := searchbridge.New(searchbridge.Config{}, nil, 0, logger, metrics)

	hub.Wire(Deps{
		Rooms:       rooms,
		Presence:    pres,
		Turns:       turns,
		AI:          ai,
		Interrupts:  interrupts,
		Transcripts: transcripts,
		Summaries:   summaries,
		Search:      search,
		Personas:    personas,
		JWT:         jwt,
		AudioCfg:    audiopipeline.Config{TargetSampleRateHz: 24000},
	})

	server := httptest.NewServer(hub.Handler())
	t.Cleanup(server.Close)

	return &testHarness{hub: hub, rooms: rooms, jwt: jwt, server: server}
}

func (h *testHarness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http")
}

func (h *testHarness) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	pair, err := h.jwt.GenerateTokenPair(userID)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL()+"?token="+pair.AccessToken, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) *wireproto.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := wireproto.Decode(data)
	require.NoError(t, err)
	return env
}

func readEnvelopeUntil(t *testing.T, conn *websocket.Conn, event wireproto.Event, timeout time.Duration) *wireproto.Envelope {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, conn, time.Until(deadline))
		if env.Event == event {
			return env
		}
	}
	t.Fatalf("timed out waiting for event %q", event)
	return nil
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, event wireproto.Event, payload interface{}) {
	t.Helper()
	env, err := wireproto.NewEnvelope(event, payload)
	require.NoError(t, err)
	data, err := wireproto.Encode(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID, displayName string) wireproto.RoomJoinedPayload {
	t.Helper()
	sendEnvelope(t, conn, wireproto.EventRoomJoin, wireproto.RoomJoinPayload{
		RoomID:      roomID,
		DisplayName: displayName,
	})
	env := readEnvelopeUntil(t, conn, wireproto.EventRoomJoined, 2*time.Second)
	var payload wireproto.RoomJoinedPayload
	require.NoError(t, env.DecodePayload(&payload))
	return payload
}

func TestHubRoomJoinAdmitsAndReplaysHistory(t *testing.T) {
	h := newTestHarness(t)
	r, err := h.rooms.Create(room.CreateRequest{Name: "design review", OwnerID: "owner-1", MaxParticipants: 8})
	require.NoError(t, err)

	conn := h.dial(t, "owner-1")
	joined := joinRoom(t, conn, r.Snapshot().ID, "Owner")

	assert.Equal(t, r.Snapshot().ID, joined.Room.ID)
	assert.NotEmpty(t, joined.SelfPeerID)
	assert.Len(t, joined.Room.Participants, 1)
	assert.Equal(t, string(room.RoleOwner), joined.Room.Participants[0].Role)

	history := readEnvelopeUntil(t, conn, wireproto.EventTranscriptHistory, 2*time.Second)
	var payload wireproto.TranscriptHistoryPayload
	require.NoError(t, history.DecodePayload(&payload))
	assert.Empty(t, payload.Entries)
	assert.False(t, payload.HasMore)
}

func TestHubRoomJoinRejectsInvalidName(t *testing.T) {
	h := newTestHarness(t)
	r, err := h.rooms.Create(room.CreateRequest{Name: "standup", OwnerID: "owner-1", MaxParticipants: 8})
	require.NoError(t, err)

	conn := h.dial(t, "user-1")
	sendEnvelope(t, conn, wireproto.EventRoomJoin, wireproto.RoomJoinPayload{
		RoomID:      r.Snapshot().ID,
		DisplayName: "   ",
	})

	env := readEnvelopeUntil(t, conn, wireproto.EventRoomError, 2*time.Second)
	var payload wireproto.RoomErrorPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Equal(t, "INVALID_NAME", payload.Code)
}

func TestHubRoomJoinRejectsUnknownRoom(t *testing.T) {
	h := newTestHarness(t)
	conn := h.dial(t, "user-1")

	sendEnvelope(t, conn, wireproto.EventRoomJoin, wireproto.RoomJoinPayload{
		RoomID:      "does-not-exist",
		DisplayName: "Nobody",
	})

	env := readEnvelopeUntil(t, conn, wireproto.EventRoomError, 2*time.Second)
	var payload wireproto.RoomErrorPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Equal(t, "ROOM_NOT_FOUND", payload.Code)
}

func TestHubRoomJoinRejectsFullRoom(t *testing.T) {
	h := newTestHarness(t)
	r, err := h.rooms.Create(room.CreateRequest{Name: "tiny", OwnerID: "owner-1", MaxParticipants: 2})
	require.NoError(t, err)
	roomID := r.Snapshot().ID

	joinRoom(t, h.dial(t, "owner-1"), roomID, "Owner")
	joinRoom(t, h.dial(t, "user-2"), roomID, "Guest")

	conn := h.dial(t, "user-3")
	sendEnvelope(t, conn, wireproto.EventRoomJoin, wireproto.RoomJoinPayload{
		RoomID:      roomID,
		DisplayName: "Late",
	})
	env := readEnvelopeUntil(t, conn, wireproto.EventRoomError, 2*time.Second)
	var payload wireproto.RoomErrorPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Equal(t, "ROOM_FULL", payload.Code)
}

func TestHubBroadcastsPeerJoinedToExistingPeers(t *testing.T) {
	h := newTestHarness(t)
	r, err := h.rooms.Create(room.CreateRequest{Name: "broadcast", OwnerID: "owner-1", MaxParticipants: 8})
	require.NoError(t, err)
	roomID := r.Snapshot().ID

	ownerConn := h.dial(t, "owner-1")
	joinRoom(t, ownerConn, roomID, "Owner")
	// drain the owner's own transcript:history push before waiting on the next join.
	readEnvelopeUntil(t, ownerConn, wireproto.EventTranscriptHistory, 2*time.Second)

	guestConn := h.dial(t, "user-2")
	joinRoom(t, guestConn, roomID, "Guest")

	env := readEnvelopeUntil(t, ownerConn, wireproto.EventPeerJoined, 2*time.Second)
	var payload wireproto.PeerJoinedPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Equal(t, "Guest", payload.Peer.DisplayName)
}

func TestHubSignalRelayRewritesSenderAndTargetsOnlyOnePeer(t *testing.T) {
	h := newTestHarness(t)
	r, err := h.rooms.Create(room.CreateRequest{Name: "webrtc", OwnerID: "owner-1", MaxParticipants: 8})
	require.NoError(t, err)
	roomID := r.Snapshot().ID

	ownerConn := h.dial(t, "owner-1")
	joined := joinRoom(t, ownerConn, roomID, "Owner")
	readEnvelopeUntil(t, ownerConn, wireproto.EventTranscriptHistory, 2*time.Second)

	guestConn := h.dial(t, "user-2")
	guestJoined := joinRoom(t, guestConn, roomID, "Guest")
	readEnvelopeUntil(t, guestConn, wireproto.EventTranscriptHistory, 2*time.Second)
	readEnvelopeUntil(t, ownerConn, wireproto.EventPeerJoined, 2*time.Second)

	sendEnvelope(t, guestConn, wireproto.EventSignalOffer, wireproto.SignalPayload{
		TargetPeerID: joined.SelfPeerID,
		SDP:          "v=0...",
	})

	env := readEnvelopeUntil(t, ownerConn, wireproto.EventSignalOffer, 2*time.Second)
	var payload wireproto.SignalPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Equal(t, guestJoined.SelfPeerID, payload.TargetPeerID)
	assert.Equal(t, "v=0...", payload.SDP)
}

func TestHubPeerLeaveBroadcastsPeerLeft(t *testing.T) {
	h := newTestHarness(t)
	r, err := h.rooms.Create(room.CreateRequest{Name: "leaving", OwnerID: "owner-1", MaxParticipants: 8})
	require.NoError(t, err)
	roomID := r.Snapshot().ID

	ownerConn := h.dial(t, "owner-1")
	joinRoom(t, ownerConn, roomID, "Owner")
	readEnvelopeUntil(t, ownerConn, wireproto.EventTranscriptHistory, 2*time.Second)

	guestConn := h.dial(t, "user-2")
	joinRoom(t, guestConn, roomID, "Guest")
	readEnvelopeUntil(t, ownerConn, wireproto.EventPeerJoined, 2*time.Second)

	require.NoError(t, guestConn.Close())

	env := readEnvelopeUntil(t, ownerConn, wireproto.EventPeerLeft, 2*time.Second)
	var payload wireproto.PeerLeftPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.NotEmpty(t, payload.PeerID)

	assert.Eventually(t, func() bool {
		return r.Snapshot().Participants != nil && len(r.Snapshot().Participants) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHubUnauthenticatedUpgradeIsRejected(t *testing.T) {
	h := newTestHarness(t)
	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestDecodeEncodeAudioPCM16RoundTrips(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}
	encoded := encodeAudioPCM16(samples)
	decoded, err := decodeAudioPCM16(encoded)
	require.NoError(t, err)
	assert.Equal(t, samples, decoded)
}

func TestDecodeAudioPCM16RejectsInvalidBase64(t *testing.T) {
	_, err := decodeAudioPCM16("not-base64!!")
	assert.Error(t, err)
}
