package searchbridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomvoice/server/internal/observability"
)

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:    endpoint,
		APIKey:      "test-key",
		Timeout:     2 * time.Second,
		MaxRetries:  3,
		BackoffBase: 5 * time.Millisecond,
		BackoffCap:  20 * time.Millisecond,
		TopNResults: 2,
	}
}

type collector struct {
	mu     sync.Mutex
	calls  []map[string]any
	roomID string
	callID string
}

func (c *collector) sink(roomID, callID string, result map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
	c.callID = callID
	c.calls = append(c.calls, result)
}

func (c *collector) wait(t *testing.T) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.calls) > 0 {
			result := c.calls[0]
			c.mu.Unlock()
			return result
		}
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for dispatch result")
	return nil
}

func TestDispatch_WebSearch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "cats", r.URL.Query().Get("q"))
		json.NewEncoder(w).Encode(searchResponse{Results: []SearchResult{
			{Title: "A", URL: "http://a", Snippet: "a"},
			{Title: "B", URL: "http://b", Snippet: "b"},
			{Title: "C", URL: "http://c", Snippet: "c"},
		}})
	}))
	defer server.Close()

	b := New(testConfig(server.URL), nil, 0, zerolog.Nop(), nil)
	c := &collector{}
	b.Dispatch(Call{RoomID: "room1", CallID: "call1", Name: toolWebSearch, Args: map[string]any{"query": "cats"}}, c.sink)

	result := c.wait(t)
	results, ok := result["results"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, results, 2) // truncated to TopNResults
	assert.Equal(t, "room1", c.roomID)
	assert.Equal(t, "call1", c.callID)
}

func TestDispatch_UnknownTool_ReturnsError(t *testing.T) {
	b := New(testConfig("http://unused"), nil, 0, zerolog.Nop(), nil)
	c := &collector{}
	b.Dispatch(Call{RoomID: "room1", CallID: "call1", Name: "wizardSpell"}, c.sink)

	result := c.wait(t)
	assert.Contains(t, result["error"], "unregistered tool")
}

func TestDispatch_RetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(searchResponse{Results: []SearchResult{{Title: "A", URL: "http://a"}}})
	}))
	defer server.Close()

	b := New(testConfig(server.URL), nil, 0, zerolog.Nop(), nil)
	c := &collector{}
	b.Dispatch(Call{RoomID: "room1", CallID: "call1", Name: toolWebSearch, Args: map[string]any{"query": "x"}}, c.sink)

	result := c.wait(t)
	_, isError := result["error"]
	assert.False(t, isError)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestDispatch_DoesNotRetryOn4xx(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	b := New(testConfig(server.URL), nil, 0, zerolog.Nop(), nil)
	c := &collector{}
	b.Dispatch(Call{RoomID: "room1", CallID: "call1", Name: toolWebSearch, Args: map[string]any{"query": "x"}}, c.sink)

	result := c.wait(t)
	assert.Contains(t, result["error"], "status 400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestDispatch_TimesOutAfterExhaustingDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Timeout = 30 * time.Millisecond
	cfg.BackoffBase = 20 * time.Millisecond
	cfg.BackoffCap = 20 * time.Millisecond

	b := New(cfg, nil, 0, zerolog.Nop(), nil)
	c := &collector{}
	b.Dispatch(Call{RoomID: "room1", CallID: "call1", Name: toolWebSearch, Args: map[string]any{"query": "x"}}, c.sink)

	result := c.wait(t)
	assert.Equal(t, "tool_timeout", result["error"])
}

func TestDispatch_WebSearch_RejectsEmptyQuery(t *testing.T) {
	b := New(testConfig("http://unused"), nil, 0, zerolog.Nop(), nil)
	c := &collector{}
	b.Dispatch(Call{RoomID: "room1", CallID: "call1", Name: toolWebSearch, Args: map[string]any{}}, c.sink)

	result := c.wait(t)
	assert.Contains(t, result["error"], "non-empty query")
}

func TestDispatch_VideoSummary_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "http://video", r.URL.Query().Get("video_url"))
		json.NewEncoder(w).Encode(videoSummaryResponse{Summary: "a talk about cats", URL: "http://video"})
	}))
	defer server.Close()

	b := New(testConfig(server.URL), nil, 0, zerolog.Nop(), nil)
	c := &collector{}
	b.Dispatch(Call{RoomID: "room1", CallID: "call1", Name: toolVideoSummary, Args: map[string]any{"url": "http://video"}}, c.sink)

	result := c.wait(t)
	assert.Equal(t, "a talk about cats", result["summary"])
}

func TestNew_UsesMetrics(t *testing.T) {
	m := observability.NewMetrics()
	b := New(testConfig("http://unused"), nil, 0, zerolog.Nop(), m)
	require.NotNil(t, b)
}
