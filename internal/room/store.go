package room

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomvoice/server/internal/observability"
	"github.com/roomvoice/server/internal/roomerr"
	"github.com/roomvoice/server/internal/security"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// textSanitizer removes null bytes, collapses whitespace and HTML-escapes
// free-text room fields (name, description) before they're stored or ever
// echoed back to another participant.
var textSanitizer = security.NewSanitizer()

// Store is the authoritative, process-wide map of rooms. Every mutating
// method acquires the target room's own lock; the store's mu only guards
// the map itself (insert/delete/lookup), never room contents.
type Store struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	idLen   int
	minSize int
	maxSize int
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewStore constructs an empty Room Store.
func NewStore(idLen, minParticipants, maxParticipants int, logger zerolog.Logger, metrics *observability.Metrics) *Store {
	return &Store{
		rooms:   make(map[string]*Room),
		idLen:   idLen,
		minSize: minParticipants,
		maxSize: maxParticipants,
		logger:  logger.With().Str("component", "room_store").Logger(),
		metrics: metrics,
	}
}

// generateID returns a random idLen-character id drawn from idAlphabet.
func generateID(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, v := range b {
		out[i] = idAlphabet[int(v)%len(idAlphabet)]
	}
	return string(out), nil
}

// Create allocates a new Room in status "waiting" with a collision-checked
// id. The owner is NOT added as a participant here — that happens on the
// owner's own room:join, same as any other peer.
func (s *Store) Create(req CreateRequest) (*Room, error) {
	name := textSanitizer.SanitizeMessage(req.Name)
	if name == "" {
		return nil, roomerr.InvalidInput("room name cannot be empty")
	}
	if len(name) > 200 {
		return nil, roomerr.InvalidInput("room name cannot exceed 200 characters")
	}
	description := textSanitizer.SanitizeMessage(req.Description)

	maxParticipants := req.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = 6
	}
	if maxParticipants < s.minSize || maxParticipants > s.maxSize {
		return nil, roomerr.InvalidInput("maxParticipants out of range")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	for {
		candidate, err := generateID(s.idLen)
		if err != nil {
			return nil, roomerr.Wrap(roomerr.CodeInvalidInput, "failed to generate room id", err)
		}
		if _, exists := s.rooms[candidate]; !exists {
			id = candidate
			break
		}
	}

	now := time.Now()
	r := &Room{
		ID:              id,
		Name:            name,
		Description:     description,
		MaxParticipants: maxParticipants,
		Status:          StatusWaiting,
		OwnerID:         req.OwnerID,
		AIPersonality:   req.AIPersonality,
		VoiceSettings:   req.VoiceSettings,
		CreatedAt:       now,
		LastActivityAt:  now,
	}
	s.rooms[id] = r

	if s.metrics != nil {
		s.metrics.RoomsCreated.WithLabelValues().Inc()
		s.metrics.RoomsActive.WithLabelValues(string(StatusWaiting)).Inc()
	}
	s.logger.Info().Str("room_id", id).Str("name", name).Msg("room created")
	return r, nil
}

// Get returns the room for id, if it exists.
func (s *Store) Get(id string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	return r, ok
}

// Exists reports whether id names a room, regardless of status.
func (s *Store) Exists(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// List returns privacy-stripped summaries, optionally filtered by status.
func (s *Store) List(filter Filter) []Summary {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	out := make([]Summary, 0, len(rooms))
	for _, r := range rooms {
		r.mu.RLock()
		sum := r.summary()
		status := r.Status
		r.mu.RUnlock()
		if filter.Status != "" && status != filter.Status {
			continue
		}
		out = append(out, sum)
	}
	return out
}

// UpdateStatus forces a room's status. Closed is terminal: once closed, no
// further transition is accepted.
func (s *Store) UpdateStatus(id string, status Status) error {
	r, ok := s.Get(id)
	if !ok {
		return roomerr.RoomNotFound(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Status == StatusClosed {
		return roomerr.RoomClosed(id)
	}
	prev := r.Status
	r.Status = status
	r.LastActivityAt = time.Now()
	if s.metrics != nil && prev != status {
		s.metrics.RoomsActive.WithLabelValues(string(prev)).Dec()
		s.metrics.RoomsActive.WithLabelValues(string(status)).Inc()
	}
	return nil
}

// AddParticipant appends peer to the room, enforcing capacity and the
// waiting→active→full transitions. Rejects with ROOM_FULL or ROOM_CLOSED.
func (s *Store) AddParticipant(id string, peer *Peer) error {
	r, ok := s.Get(id)
	if !ok {
		return roomerr.RoomNotFound(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.Status {
	case StatusClosed:
		return roomerr.RoomClosed(id)
	case StatusFull:
		return roomerr.RoomFull(id)
	}
	if len(r.participants) >= r.MaxParticipants {
		return roomerr.RoomFull(id)
	}

	peer.RoomID = id
	r.participants = append(r.participants, peer)
	r.LastActivityAt = time.Now()

	prevStatus := r.Status
	if r.Status == StatusWaiting {
		r.Status = StatusActive
	}
	if len(r.participants) == r.MaxParticipants {
		r.Status = StatusFull
	}

	if s.metrics != nil {
		if prevStatus != r.Status {
			s.metrics.RoomsActive.WithLabelValues(string(prevStatus)).Dec()
			s.metrics.RoomsActive.WithLabelValues(string(r.Status)).Inc()
		}
		s.metrics.RoomParticipants.WithLabelValues(id).Set(float64(len(r.participants)))
	}
	return nil
}

// RemoveParticipant removes peerId from the room. Idempotent: removing an
// unknown peer is not an error. Transitions full→active at the boundary.
func (s *Store) RemoveParticipant(id, peerID string) error {
	r, ok := s.Get(id)
	if !ok {
		return roomerr.RoomNotFound(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, p := range r.participants {
		if p.ID == peerID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}

	r.participants = append(r.participants[:idx], r.participants[idx+1:]...)
	r.LastActivityAt = time.Now()

	prevStatus := r.Status
	if r.Status == StatusFull {
		r.Status = StatusActive
	}

	if s.metrics != nil {
		if prevStatus != r.Status {
			s.metrics.RoomsActive.WithLabelValues(string(prevStatus)).Dec()
			s.metrics.RoomsActive.WithLabelValues(string(r.Status)).Inc()
		}
		s.metrics.RoomParticipants.WithLabelValues(id).Set(float64(len(r.participants)))
	}
	return nil
}

// MutatePeer runs fn against the live Peer record for peerID under the
// room's write lock, for in-place updates (presence, speaking state) that
// don't change room membership.
func (s *Store) MutatePeer(id, peerID string, fn func(*Peer)) error {
	r, ok := s.Get(id)
	if !ok {
		return roomerr.RoomNotFound(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants {
		if p.ID == peerID {
			fn(p)
			return nil
		}
	}
	return roomerr.NotInRoom(peerID)
}

// Close transitions a room to closed, its terminal state. Idempotent.
func (s *Store) Close(id string, reason string) error {
	r, ok := s.Get(id)
	if !ok {
		return roomerr.RoomNotFound(id)
	}

	r.mu.Lock()
	if r.Status == StatusClosed {
		r.mu.Unlock()
		return nil
	}
	prev := r.Status
	r.Status = StatusClosed
	r.participants = nil
	r.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RoomsActive.WithLabelValues(string(prev)).Dec()
		s.metrics.RoomsActive.WithLabelValues(string(StatusClosed)).Inc()
		s.metrics.RoomClosed.WithLabelValues(reason).Inc()
	}
	s.logger.Info().Str("room_id", id).Str("reason", reason).Msg("room closed")
	return nil
}

// SweepIdle closes every non-closed room whose LastActivityAt is older than
// idleTimeout and that currently has zero participants, returning the ids
// it closed.
func (s *Store) SweepIdle(idleTimeout time.Duration) []string {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	cutoff := time.Now().Add(-idleTimeout)
	var closed []string
	for _, r := range rooms {
		r.mu.RLock()
		idle := r.Status != StatusClosed && len(r.participants) == 0 && r.LastActivityAt.Before(cutoff)
		id := r.ID
		r.mu.RUnlock()
		if idle {
			_ = s.Close(id, "idle_sweep")
			closed = append(closed, id)
		}
	}
	return closed
}
