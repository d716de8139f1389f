package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roomvoice/server/internal/observability"
	"github.com/roomvoice/server/internal/room"
)

// TestMain verifies the idle-sweep goroutine NewTracker spawns is always
// stopped. Every test below calls tracker.Stop() via defer; a missing one
// would otherwise leak a ticker goroutine per test run.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBroadcaster struct {
	mu            sync.Mutex
	presence      []room.Peer
	left          []string
	activeSpeaker []string
}

func (f *fakeBroadcaster) BroadcastPresence(roomID string, peer room.Peer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, peer)
}

func (f *fakeBroadcaster) BroadcastPeerLeft(roomID, peerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, peerID)
}

func (f *fakeBroadcaster) BroadcastActiveSpeaker(roomID, peerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeSpeaker = append(f.activeSpeaker, peerID)
}

func (f *fakeBroadcaster) presenceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.presence)
}

func testConfig() Config {
	return Config{
		DebounceWindow:                    50 * time.Millisecond,
		AudioLevelEpsilon:                 0.05,
		HeartbeatInterval:                 100 * time.Millisecond,
		IdleAfterMissedBeats:              3,
		ActiveSpeakerMinBroadcastInterval: 0,
	}
}

func setupRoom(t *testing.T) (*room.Store, string) {
	t.Helper()
	store := room.NewStore(10, 2, 10, observability.NewNopLogger(), nil)
	r, err := store.Create(room.CreateRequest{Name: "test"})
	require.NoError(t, err)
	require.NoError(t, store.AddParticipant(r.ID, &room.Peer{ID: "p1", DisplayName: "Alice"}))
	require.NoError(t, store.AddParticipant(r.ID, &room.Peer{ID: "p2", DisplayName: "Bob"}))
	return store, r.ID
}

func boolPtr(b bool) *bool       { return &b }
func floatPtr(f float64) *float64 { return &f }

func TestUpdate_DebouncesBurstIntoOneBroadcast(t *testing.T) {
	store, roomID := setupRoom(t)
	b := &fakeBroadcaster{}
	tracker := NewTracker(store, b, testConfig(), observability.NewNopLogger(), nil)
	defer tracker.Stop()

	for i := 0; i < 50; i++ {
		level := 0.5 + float64(i)*0.001
		tracker.Update(roomID, "p1", PartialUpdate{AudioLevel: floatPtr(level)})
	}

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, b.presenceCount())
}

func TestUpdate_UnknownPeerDroppedSilently(t *testing.T) {
	store, roomID := setupRoom(t)
	b := &fakeBroadcaster{}
	tracker := NewTracker(store, b, testConfig(), observability.NewNopLogger(), nil)
	defer tracker.Stop()

	tracker.Update(roomID, "ghost", PartialUpdate{IsMuted: boolPtr(true)})
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, b.presenceCount())
}

func TestUpdate_SuppressesUnchangedStateWithinEpsilon(t *testing.T) {
	store, roomID := setupRoom(t)
	b := &fakeBroadcaster{}
	tracker := NewTracker(store, b, testConfig(), observability.NewNopLogger(), nil)
	defer tracker.Stop()

	tracker.Update(roomID, "p1", PartialUpdate{AudioLevel: floatPtr(0.5)})
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, b.presenceCount())

	// Within epsilon of the last broadcast value: must not produce a second broadcast.
	tracker.Update(roomID, "p1", PartialUpdate{AudioLevel: floatPtr(0.52)})
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, b.presenceCount())

	// Beyond epsilon: must broadcast.
	tracker.Update(roomID, "p1", PartialUpdate{AudioLevel: floatPtr(0.9)})
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, b.presenceCount())
}

func TestUpdate_ClampsAudioLevel(t *testing.T) {
	store, roomID := setupRoom(t)
	b := &fakeBroadcaster{}
	tracker := NewTracker(store, b, testConfig(), observability.NewNopLogger(), nil)
	defer tracker.Stop()

	tracker.Update(roomID, "p1", PartialUpdate{AudioLevel: floatPtr(5.0)})
	time.Sleep(100 * time.Millisecond)

	r, _ := store.Get(roomID)
	peer, _ := r.Peer("p1")
	assert.Equal(t, 1.0, peer.Presence.AudioLevel)
}

func TestActiveSpeaker_HighestLevelWins(t *testing.T) {
	store, roomID := setupRoom(t)
	tracker := NewTracker(store, &fakeBroadcaster{}, testConfig(), observability.NewNopLogger(), nil)
	defer tracker.Stop()

	require.NoError(t, store.MutatePeer(roomID, "p1", func(p *room.Peer) {
		p.Presence.IsSpeaking = true
		p.Presence.AudioLevel = 0.3
	}))
	require.NoError(t, store.MutatePeer(roomID, "p2", func(p *room.Peer) {
		p.Presence.IsSpeaking = true
		p.Presence.AudioLevel = 0.8
	}))

	assert.Equal(t, "p2", tracker.ActiveSpeaker(roomID))
}

func TestActiveSpeaker_NoneSpeakingReturnsEmpty(t *testing.T) {
	store, roomID := setupRoom(t)
	tracker := NewTracker(store, &fakeBroadcaster{}, testConfig(), observability.NewNopLogger(), nil)
	defer tracker.Stop()

	assert.Equal(t, "", tracker.ActiveSpeaker(roomID))
}

func TestActiveSpeaker_TieBreaksByMostRecentActivity(t *testing.T) {
	store, roomID := setupRoom(t)
	tracker := NewTracker(store, &fakeBroadcaster{}, testConfig(), observability.NewNopLogger(), nil)
	defer tracker.Stop()

	require.NoError(t, store.MutatePeer(roomID, "p1", func(p *room.Peer) {
		p.Presence.IsSpeaking = true
		p.Presence.AudioLevel = 0.5
		p.Presence.LastActiveAt = time.Now().Add(-time.Second)
	}))
	require.NoError(t, store.MutatePeer(roomID, "p2", func(p *room.Peer) {
		p.Presence.IsSpeaking = true
		p.Presence.AudioLevel = 0.5
		p.Presence.LastActiveAt = time.Now()
	}))

	assert.Equal(t, "p2", tracker.ActiveSpeaker(roomID))
}

func TestHeartbeat_DoesNotBroadcast(t *testing.T) {
	store, roomID := setupRoom(t)
	b := &fakeBroadcaster{}
	tracker := NewTracker(store, b, testConfig(), observability.NewNopLogger(), nil)
	defer tracker.Stop()

	tracker.Heartbeat(roomID, "p1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, b.presenceCount())

	r, _ := store.Get(roomID)
	peer, _ := r.Peer("p1")
	assert.False(t, peer.Presence.LastActiveAt.IsZero())
}

func TestIdleSweep_MarksIdleAfterMissedHeartbeats(t *testing.T) {
	store, roomID := setupRoom(t)
	cfg := testConfig()
	cfg.HeartbeatInterval = 30 * time.Millisecond
	cfg.IdleAfterMissedBeats = 2
	tracker := NewTracker(store, &fakeBroadcaster{}, cfg, observability.NewNopLogger(), nil)
	defer tracker.Stop()

	tracker.Heartbeat(roomID, "p1")
	time.Sleep(150 * time.Millisecond)

	r, _ := store.Get(roomID)
	peer, _ := r.Peer("p1")
	assert.True(t, peer.Presence.IsIdle)
}

func TestRemovePeer_ClearsPendingAndBroadcastsLeft(t *testing.T) {
	store, roomID := setupRoom(t)
	b := &fakeBroadcaster{}
	tracker := NewTracker(store, b, testConfig(), observability.NewNopLogger(), nil)
	defer tracker.Stop()

	tracker.RemovePeer(roomID, "p1")
	assert.Equal(t, []string{"p1"}, b.left)
}
