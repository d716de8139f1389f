package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel)
}

// fakeProviderServer accepts websocket connections and hands each upgraded
// connection to the test over the returned channel, so the test can read
// client events and push server events on demand.
func fakeProviderServer(t *testing.T) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- conn
	}))
	t.Cleanup(srv.Close)
	return srv, connCh
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRealtime_CreateSession_SendsSessionUpdate(t *testing.T) {
	srv, connCh := fakeProviderServer(t)

	r := NewRealtime(RealtimeConfig{Endpoint: wsURL(srv)}, testLogger())
	res, err := r.CreateSession(context.Background(), "room1", SessionConfig{Voice: "nova"}, Callbacks{})
	require.NoError(t, err)
	assert.True(t, res.Connected)
	assert.True(t, r.IsSessionConnected("room1"))

	conn := <-connCh
	var ev clientEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "session.update", ev.Type)
	assert.Equal(t, "nova", ev.Payload["voice"])
}

func TestRealtime_Dispatch_InvokesCallbacks(t *testing.T) {
	srv, connCh := fakeProviderServer(t)

	var mu sync.Mutex
	var gotState string
	var gotAudio string
	done := make(chan struct{})

	cb := Callbacks{
		OnStateChange: func(s string) { mu.Lock(); gotState = s; mu.Unlock() },
		OnAudioData:   func(a string) { mu.Lock(); gotAudio = a; mu.Unlock() },
		OnResponseDone: func() {
			close(done)
		},
	}

	r := NewRealtime(RealtimeConfig{Endpoint: wsURL(srv)}, testLogger())
	_, err := r.CreateSession(context.Background(), "room1", SessionConfig{}, cb)
	require.NoError(t, err)

	conn := <-connCh
	// Drain the session.update the adapter sends on connect.
	var discard clientEvent
	require.NoError(t, conn.ReadJSON(&discard))

	require.NoError(t, conn.WriteJSON(serverEvent{Type: "state", State: "listening"}))
	require.NoError(t, conn.WriteJSON(serverEvent{Type: "audio", Audio: "abc123"}))
	require.NoError(t, conn.WriteJSON(serverEvent{Type: "response_done"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response_done callback")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "listening", gotState)
	assert.Equal(t, "abc123", gotAudio)
}

func TestRealtime_CloseSession_DisconnectsAndIsIdempotent(t *testing.T) {
	srv, connCh := fakeProviderServer(t)

	r := NewRealtime(RealtimeConfig{Endpoint: wsURL(srv)}, testLogger())
	_, err := r.CreateSession(context.Background(), "room1", SessionConfig{}, Callbacks{})
	require.NoError(t, err)
	<-connCh

	r.CloseSession("room1")
	assert.False(t, r.IsSessionConnected("room1"))
	r.CloseSession("room1") // idempotent
}

func TestRealtime_GetVoiceAndTemperature_Defaults(t *testing.T) {
	r := NewRealtime(RealtimeConfig{
		Voices: map[string]string{"expert": "onyx"},
		Temps:  map[string]float64{"expert": 0.3},
	}, testLogger())

	assert.Equal(t, "onyx", r.GetVoice("expert"))
	assert.Equal(t, "alloy", r.GetVoice("unknown"))
	assert.Equal(t, 0.3, r.GetTemperature("expert"))
	assert.Equal(t, 0.8, r.GetTemperature("unknown"))
}
