// Package presence maintains per-peer presence (mute/speaking/addressing-AI/
// audio level) for every room, debouncing incoming updates and deriving the
// active speaker. Liveness is tracked via heartbeat instead of a TTL map —
// absence of heartbeats marks a peer idle, it does not remove them.
package presence

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomvoice/server/internal/observability"
	"github.com/roomvoice/server/internal/room"
)

// PartialUpdate carries only the fields a client chose to send; nil means
// "leave unchanged".
type PartialUpdate struct {
	IsMuted        *bool
	IsSpeaking     *bool
	IsAddressingAI *bool
	AudioLevel     *float64
}

// Broadcaster is implemented by the Signaling Hub. Tracker never touches a
// connection directly.
type Broadcaster interface {
	BroadcastPresence(roomID string, peer room.Peer)
	BroadcastPeerLeft(roomID, peerID string)
	BroadcastActiveSpeaker(roomID string, peerID string)
}

type pendingUpdate struct {
	mu     sync.Mutex
	merged PartialUpdate
	timer  *time.Timer
}

// Config bundles the tunables read from internal/config.PresenceConfig.
type Config struct {
	DebounceWindow                    time.Duration
	AudioLevelEpsilon                 float64
	HeartbeatInterval                 time.Duration
	IdleAfterMissedBeats              int
	ActiveSpeakerMinBroadcastInterval time.Duration
}

// Tracker implements the Presence Tracker (C3).
type Tracker struct {
	store       *room.Store
	broadcaster Broadcaster
	logger      zerolog.Logger
	metrics     *observability.Metrics
	cfg         Config

	mu       sync.Mutex
	pending  map[string]*pendingUpdate // "roomID/peerID" -> pending merge
	lastSent map[string]room.Presence  // "roomID/peerID" -> last broadcast presence

	speakerMu     sync.Mutex
	lastSpeaker   map[string]string    // roomID -> peerID, "" for none
	lastSpeakerAt map[string]time.Time // roomID -> last broadcast time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTracker constructs a Tracker bound to store and wires broadcaster for
// fan-out. It starts a background sweep goroutine that marks peers idle
// after IdleAfterMissedBeats missed heartbeats.
func NewTracker(store *room.Store, broadcaster Broadcaster, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Tracker {
	t := &Tracker{
		store:         store,
		broadcaster:   broadcaster,
		logger:        logger.With().Str("component", "presence_tracker").Logger(),
		metrics:       metrics,
		cfg:           cfg,
		pending:       make(map[string]*pendingUpdate),
		lastSent:      make(map[string]room.Presence),
		lastSpeaker:   make(map[string]string),
		lastSpeakerAt: make(map[string]time.Time),
		stop:          make(chan struct{}),
	}
	go t.idleSweepLoop()
	return t
}

// Stop terminates the background idle-sweep goroutine. Safe to call more
// than once.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func peerKey(roomID, peerID string) string { return roomID + "/" + peerID }

// Update coalesces a presence delta for peerID over the debounce window and
// broadcasts the merged state once the window closes, unless the merged
// state is unchanged from the last broadcast. Unknown peerId is dropped
// silently, per the tracker's failure semantics.
func (t *Tracker) Update(roomID, peerID string, delta PartialUpdate) {
	r, ok := t.store.Get(roomID)
	if !ok {
		return
	}
	if _, ok := r.Peer(peerID); !ok {
		return
	}

	key := peerKey(roomID, peerID)

	t.mu.Lock()
	p, exists := t.pending[key]
	if !exists {
		p = &pendingUpdate{}
		t.pending[key] = p
	}
	t.mu.Unlock()

	p.mu.Lock()
	mergeInto(&p.merged, delta)
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(t.cfg.DebounceWindow, func() { t.flush(roomID, peerID) })
	p.mu.Unlock()
}

func mergeInto(dst *PartialUpdate, src PartialUpdate) {
	if src.IsMuted != nil {
		dst.IsMuted = src.IsMuted
	}
	if src.IsSpeaking != nil {
		dst.IsSpeaking = src.IsSpeaking
	}
	if src.IsAddressingAI != nil {
		dst.IsAddressingAI = src.IsAddressingAI
	}
	if src.AudioLevel != nil {
		dst.AudioLevel = src.AudioLevel
	}
}

func (t *Tracker) flush(roomID, peerID string) {
	key := peerKey(roomID, peerID)

	t.mu.Lock()
	p, exists := t.pending[key]
	t.mu.Unlock()
	if !exists {
		return
	}

	p.mu.Lock()
	merged := p.merged
	p.merged = PartialUpdate{}
	p.mu.Unlock()

	err := t.store.MutatePeer(roomID, peerID, func(peer *room.Peer) {
		if merged.IsMuted != nil {
			peer.Presence.IsMuted = *merged.IsMuted
		}
		if merged.IsSpeaking != nil {
			peer.Presence.IsSpeaking = *merged.IsSpeaking
		}
		if merged.IsAddressingAI != nil {
			peer.Presence.IsAddressingAI = *merged.IsAddressingAI
		}
		if merged.AudioLevel != nil {
			peer.Presence.AudioLevel = clamp01(*merged.AudioLevel)
		}
		peer.Presence.LastActiveAt = time.Now()
		peer.Presence.IsIdle = false
	})
	if err != nil {
		return
	}

	r, ok := t.store.Get(roomID)
	if !ok {
		return
	}
	peer, ok := r.Peer(peerID)
	if !ok {
		return
	}

	t.mu.Lock()
	last, hadLast := t.lastSent[key]
	changed := !hadLast || presenceChanged(last, peer.Presence, t.cfg.AudioLevelEpsilon)
	if changed {
		t.lastSent[key] = peer.Presence
	}
	t.mu.Unlock()

	if t.metrics != nil {
		if changed {
			t.metrics.PresenceBroadcastsTotal.WithLabelValues(roomID).Inc()
		} else {
			t.metrics.PresenceBroadcastsSuppressed.WithLabelValues(roomID).Inc()
		}
	}
	if changed && t.broadcaster != nil {
		t.broadcaster.BroadcastPresence(roomID, peer)
	}

	t.recomputeActiveSpeaker(roomID)
}

func presenceChanged(a, b room.Presence, epsilon float64) bool {
	if a.IsMuted != b.IsMuted || a.IsSpeaking != b.IsSpeaking || a.IsAddressingAI != b.IsAddressingAI || a.IsIdle != b.IsIdle {
		return true
	}
	return math.Abs(a.AudioLevel-b.AudioLevel) > epsilon
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Heartbeat refreshes lastActiveAt without broadcasting.
func (t *Tracker) Heartbeat(roomID, peerID string) {
	_ = t.store.MutatePeer(roomID, peerID, func(p *room.Peer) {
		now := time.Now()
		p.Presence.LastActiveAt = now
		p.Presence.LastHeartbeatAt = now
		p.Presence.IsIdle = false
	})
}

// SyncSnapshot returns the current presence of every peer in the room.
func (t *Tracker) SyncSnapshot(roomID string) []room.Peer {
	r, ok := t.store.Get(roomID)
	if !ok {
		return nil
	}
	return r.Snapshot().Participants
}

// ActiveSpeaker returns the peerId speaking loudest in the room, or "" if no
// peer is currently marked speaking.
func (t *Tracker) ActiveSpeaker(roomID string) string {
	r, ok := t.store.Get(roomID)
	if !ok {
		return ""
	}
	peers := r.Snapshot().Participants

	var winner *room.Peer
	for i := range peers {
		p := &peers[i]
		if !p.Presence.IsSpeaking {
			continue
		}
		if winner == nil {
			winner = p
			continue
		}
		if p.Presence.AudioLevel > winner.Presence.AudioLevel {
			winner = p
		} else if p.Presence.AudioLevel == winner.Presence.AudioLevel && p.Presence.LastActiveAt.After(winner.Presence.LastActiveAt) {
			winner = p
		}
	}
	if winner == nil {
		return ""
	}
	return winner.ID
}

func (t *Tracker) recomputeActiveSpeaker(roomID string) {
	current := t.ActiveSpeaker(roomID)

	t.speakerMu.Lock()
	prev, had := t.lastSpeaker[roomID]
	lastAt := t.lastSpeakerAt[roomID]
	now := time.Now()
	if had && prev == current {
		t.speakerMu.Unlock()
		return
	}
	if now.Sub(lastAt) < t.cfg.ActiveSpeakerMinBroadcastInterval {
		t.speakerMu.Unlock()
		return
	}
	t.lastSpeaker[roomID] = current
	t.lastSpeakerAt[roomID] = now
	t.speakerMu.Unlock()

	if t.broadcaster != nil {
		t.broadcaster.BroadcastActiveSpeaker(roomID, current)
	}
}

// RemovePeer drops all debounce/broadcast bookkeeping for a disconnected
// peer and notifies the broadcaster. Called by the Signaling Hub after the
// Room Store has removed the peer.
func (t *Tracker) RemovePeer(roomID, peerID string) {
	key := peerKey(roomID, peerID)
	t.mu.Lock()
	if p, ok := t.pending[key]; ok && p.timer != nil {
		p.timer.Stop()
	}
	delete(t.pending, key)
	delete(t.lastSent, key)
	t.mu.Unlock()

	if t.broadcaster != nil {
		t.broadcaster.BroadcastPeerLeft(roomID, peerID)
	}
	t.recomputeActiveSpeaker(roomID)
}

func (t *Tracker) idleSweepLoop() {
	interval := t.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweepIdlePeers()
		case <-t.stop:
			return
		}
	}
}

func (t *Tracker) sweepIdlePeers() {
	missed := t.cfg.IdleAfterMissedBeats
	if missed <= 0 {
		missed = 3
	}
	cutoff := time.Now().Add(-time.Duration(missed) * t.cfg.HeartbeatInterval)

	for _, summary := range t.store.List(room.Filter{}) {
		r, ok := t.store.Get(summary.ID)
		if !ok {
			continue
		}
		for _, peer := range r.Snapshot().Participants {
			if peer.Presence.IsIdle {
				continue
			}
			if peer.Presence.LastHeartbeatAt.IsZero() || peer.Presence.LastHeartbeatAt.Before(cutoff) {
				_ = t.store.MutatePeer(summary.ID, peer.ID, func(p *room.Peer) {
					p.Presence.IsIdle = true
				})
			}
		}
	}
}
