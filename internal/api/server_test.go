package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomvoice/server/internal/auth"
	"github.com/roomvoice/server/internal/config"
	"github.com/roomvoice/server/internal/observability"
	"github.com/roomvoice/server/internal/personality"
	"github.com/roomvoice/server/internal/room"
	"github.com/roomvoice/server/internal/transcript"
)

func testServerCfg() config.ServerConfig {
	return config.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		RateLimitRPS: 1000,
		CORS:         config.CORSConfig{Enabled: false},
	}
}

// testHarness wires a Server against real room/transcript/personality
// components, the same constructors cmd/roomserver uses, with no hub or
// health checker (neither the REST surface nor its tests exercise /ws).
type testHarness struct {
	server      *Server
	router      http.Handler
	rooms       *room.Store
	transcripts *transcript.Store
	jwt         *auth.JWTManager
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := observability.NewNopLogger()
	metrics := observability.NewMetrics()

	rooms := room.NewStore(8, 2, 16, logger, metrics)
	transcripts := transcript.NewStore(500, logger, metrics)
	personas := personality.NewManager(personality.Config{}, logger)
	jwtManager, err := auth.NewJWTManager(strings.Repeat("x", 32))
	require.NoError(t, err)

	s := New(testServerCfg(), rooms, transcripts, personas, nil, jwtManager, nil, metrics, logger)
	return &testHarness{server: s, router: s.Handler(), rooms: rooms, transcripts: transcripts, jwt: jwtManager}
}

func (h *testHarness) token(t *testing.T, userID string) string {
	t.Helper()
	pair, err := h.jwt.GenerateTokenPair(userID)
	require.NoError(t, err)
	return pair.AccessToken
}

func (h *testHarness) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = strings.NewReader(string(b))
	} else {
		reqBody = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateRoom_Succeeds(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "user-1")

	rec := h.do(t, http.MethodPost, "/rooms", tok, createRoomRequest{Name: "standup", MaxParticipants: 4})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp roomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "standup", resp.Room.Name)
	assert.Equal(t, room.StatusWaiting, resp.Room.Status)
	assert.NotEmpty(t, resp.Room.ID)
}

func TestCreateRoom_RejectsEmptyName(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "user-1")

	rec := h.do(t, http.MethodPost, "/rooms", tok, createRoomRequest{Name: "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
}

func TestCreateRoom_RejectsWithoutAuth(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodPost, "/rooms", "", createRoomRequest{Name: "standup"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateRoom_AppliesPersonalityAndVoice(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "user-1")

	rec := h.do(t, http.MethodPost, "/rooms", tok, createRoomRequest{
		Name:          "interview prep",
		AIPersonality: "expert",
		VoiceSettings: room.VoiceSettings{Voice: "onyx", Temperature: 0.2},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp roomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	voice, temp := h.server.personas.VoiceSettings(resp.Room.ID)
	assert.Equal(t, "onyx", voice)
	assert.Equal(t, 0.2, temp)
}

func TestListRooms_FiltersByStatus(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "user-1")

	h.do(t, http.MethodPost, "/rooms", tok, createRoomRequest{Name: "a"})
	waitingRoom := h.do(t, http.MethodPost, "/rooms", tok, createRoomRequest{Name: "b"})
	var created roomResponse
	require.NoError(t, json.Unmarshal(waitingRoom.Body.Bytes(), &created))
	require.NoError(t, h.rooms.UpdateStatus(created.Room.ID, room.StatusActive))

	rec := h.do(t, http.MethodGet, "/rooms?status=active", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summaries []room.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, created.Room.ID, summaries[0].ID)
}

func TestListRooms_EmptyReturnsEmptyArrayNotNull(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "user-1")

	rec := h.do(t, http.MethodGet, "/rooms?status=full", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetRoom_ReturnsFullState(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "user-1")

	created, err := h.rooms.Create(room.CreateRequest{Name: "standup", OwnerID: "user-1"})
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/rooms/"+created.ID, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp roomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, created.ID, resp.Room.ID)
}

func TestGetRoom_UnknownIDReturns404(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "user-1")

	rec := h.do(t, http.MethodGet, "/rooms/doesnotexist", tok, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ROOM_NOT_FOUND", resp.Error.Code)
}

func TestGetTranscript_JSONFormat(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "user-1")

	created, err := h.rooms.Create(room.CreateRequest{Name: "standup", OwnerID: "user-1"})
	require.NoError(t, err)
	h.transcripts.Append(transcript.Entry{ID: "e1", RoomID: created.ID, Speaker: "alice", Content: "hello", Type: transcript.EntryPTT})

	rec := h.do(t, http.MethodGet, "/rooms/"+created.ID+"/transcript", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "hello")
}

func TestGetTranscript_TextFormatWithDownload(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "user-1")

	created, err := h.rooms.Create(room.CreateRequest{Name: "standup", OwnerID: "user-1"})
	require.NoError(t, err)
	h.transcripts.Append(transcript.Entry{ID: "e1", RoomID: created.ID, Speaker: "alice", Content: "hello", Type: transcript.EntryPTT})

	rec := h.do(t, http.MethodGet, "/rooms/"+created.ID+"/transcript?format=txt&download=true", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Body.String(), "alice: hello")
}

func TestGetTranscript_RejectsUnknownFormat(t *testing.T) {
	h := newTestHarness(t)
	tok := h.token(t, "user-1")

	created, err := h.rooms.Create(room.CreateRequest{Name: "standup", OwnerID: "user-1"})
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/rooms/"+created.ID+"/transcript?format=xml", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth_OKWithoutHealthChecker(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health/ready", "", nil).Code)
}

func TestAuthMiddleware_RejectsMalformedHeader(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	req.Header.Set("Authorization", "not-a-bearer-token")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_RejectsForgedToken(t *testing.T) {
	h := newTestHarness(t)

	otherJWT, err := auth.NewJWTManager(strings.Repeat("y", 32))
	require.NoError(t, err)
	pair, err := otherJWT.GenerateTokenPair("attacker")
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/rooms", pair.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
