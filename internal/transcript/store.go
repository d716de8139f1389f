package transcript

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomvoice/server/internal/observability"
)

// roomBuffer is a fixed-capacity ring of Entries for one room, plus its
// summaries and eviction bookkeeping.
type roomBuffer struct {
	mu            sync.Mutex
	buf           []*Entry
	head          int
	count         int
	capacity      int
	lastEvictedAt time.Time
	summaries     []*Summary
}

func newRoomBuffer(capacity int) *roomBuffer {
	return &roomBuffer{buf: make([]*Entry, capacity), capacity: capacity}
}

// Store is the process-wide Context Manager: one roomBuffer per room.
type Store struct {
	mu       sync.RWMutex
	rooms    map[string]*roomBuffer
	capacity int
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewStore constructs a Store; capacity is maxEntriesPerRoom (default
// 10000).
func NewStore(capacity int, logger zerolog.Logger, metrics *observability.Metrics) *Store {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Store{
		rooms:    make(map[string]*roomBuffer),
		capacity: capacity,
		logger:   logger.With().Str("component", "transcript_store").Logger(),
		metrics:  metrics,
	}
}

func (s *Store) bufferFor(roomID string) *roomBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	rb, ok := s.rooms[roomID]
	if !ok {
		rb = newRoomBuffer(s.capacity)
		s.rooms[roomID] = rb
	}
	return rb
}

// Append adds entry to the room's ring, evicting the oldest entry if the
// buffer is at capacity. O(1) amortized, serialized per room.
func (s *Store) Append(entry Entry) {
	rb := s.bufferFor(entry.RoomID)
	rb.mu.Lock()
	defer rb.mu.Unlock()

	e := entry
	if rb.count == rb.capacity {
		evicted := rb.buf[rb.head]
		rb.lastEvictedAt = evicted.Timestamp
		rb.head = (rb.head + 1) % rb.capacity
		rb.count--
		if s.metrics != nil {
			s.metrics.TranscriptEvictions.WithLabelValues(entry.RoomID).Inc()
		}
	}
	idx := (rb.head + rb.count) % rb.capacity
	rb.buf[idx] = &e
	rb.count++

	if s.metrics != nil {
		s.metrics.TranscriptEntriesTotal.WithLabelValues(entry.RoomID, string(entry.Type)).Inc()
	}
}

// chronological returns the room's currently-held entries oldest-first.
// Caller must hold rb.mu.
func (rb *roomBuffer) chronological() []Entry {
	out := make([]Entry, rb.count)
	for i := 0; i < rb.count; i++ {
		out[i] = *rb.buf[(rb.head+i)%rb.capacity]
	}
	return out
}

// GetEntries returns entries newest-first. If beforeID is non-empty, only
// entries strictly older than that entry are considered.
func (s *Store) GetEntries(roomID string, limit, offset int, beforeID string) Page {
	rb := s.bufferFor(roomID)
	rb.mu.Lock()
	chron := rb.chronological()
	rb.mu.Unlock()

	// Reverse to newest-first.
	newestFirst := make([]Entry, len(chron))
	for i, e := range chron {
		newestFirst[len(chron)-1-i] = e
	}

	if beforeID != "" {
		cutoff := -1
		for i, e := range newestFirst {
			if e.ID == beforeID {
				cutoff = i
				break
			}
		}
		if cutoff >= 0 {
			newestFirst = newestFirst[cutoff+1:]
		}
	}

	total := len(newestFirst)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	windowed := newestFirst[offset:]

	hasMore := false
	if limit > 0 && len(windowed) > limit {
		windowed = windowed[:limit]
		hasMore = true
	}

	return Page{Entries: windowed, HasMore: hasMore, Total: total}
}

// LastEvictedAt returns the timestamp of the most recently evicted entry
// for roomID, used as the next summary's coverageStart when the oldest
// live entry has already rolled off the ring.
func (s *Store) LastEvictedAt(roomID string) (time.Time, bool) {
	rb := s.bufferFor(roomID)
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.lastEvictedAt.IsZero() {
		return time.Time{}, false
	}
	return rb.lastEvictedAt, true
}

// AppendSummary records a TranscriptSummary for the room. Summaries are
// append-only and never rewrite history.
func (s *Store) AppendSummary(summary Summary) {
	rb := s.bufferFor(summary.RoomID)
	rb.mu.Lock()
	rb.summaries = append(rb.summaries, &summary)
	rb.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SummariesGenerated.WithLabelValues(summary.RoomID).Inc()
	}
}

// GetSummaries returns every summary recorded for roomID, oldest first.
func (s *Store) GetSummaries(roomID string) []Summary {
	rb := s.bufferFor(roomID)
	rb.mu.Lock()
	defer rb.mu.Unlock()
	out := make([]Summary, len(rb.summaries))
	for i, sm := range rb.summaries {
		out[i] = *sm
	}
	return out
}

// EntryCount returns the number of entries currently held for roomID.
func (s *Store) EntryCount(roomID string) int {
	rb := s.bufferFor(roomID)
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// NewestEntryAt returns the timestamp of the most recent entry in the
// room, if any.
func (s *Store) NewestEntryAt(roomID string) (time.Time, bool) {
	rb := s.bufferFor(roomID)
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.count == 0 {
		return time.Time{}, false
	}
	idx := (rb.head + rb.count - 1) % rb.capacity
	return rb.buf[idx].Timestamp, true
}
