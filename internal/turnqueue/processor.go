package turnqueue

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roomvoice/server/internal/observability"
)

// Config bundles the tunables read from internal/config.TurnQueueConfig.
type Config struct {
	MaxQueueSize          int
	DefaultTimeout        time.Duration
	PriorityTimeout       time.Duration
	PriorityBonus         int
	MinTurnInterval       time.Duration
	MaxProcessingAttempts int
	AutoAdvance           bool
}

type roomQueue struct {
	mu               sync.Mutex
	queued           []*TurnRequest
	active           *TurnRequest
	processing       bool
	lastCompletionAt time.Time
	deferredTimer    *time.Timer
}

// Processor implements the Turn Queue Processor (C4). Each room's queue is
// independent; the outer mu only guards map membership.
type Processor struct {
	mu       sync.RWMutex
	rooms    map[string]*roomQueue // roomID -> queue
	notifier Notifier
	cfg      Config
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewProcessor constructs a Processor. notifier may be nil in tests.
func NewProcessor(notifier Notifier, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{
		rooms:    make(map[string]*roomQueue),
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "turn_queue").Logger(),
		metrics:  metrics,
	}
}

func (p *Processor) queueFor(roomID string) *roomQueue {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.rooms[roomID]
	if !ok {
		q = &roomQueue{}
		p.rooms[roomID] = q
	}
	return q
}

// Enqueue inserts a TurnRequest in priority order (FIFO within equal
// priority: insert before the first entry with a strictly lower priority).
// Returns nil when the room's queue is already at MaxQueueSize.
func (p *Processor) Enqueue(roomID, peerID, displayName, role string, basePriority int) *TurnRequest {
	q := p.queueFor(roomID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queued) >= p.cfg.MaxQueueSize {
		return nil
	}

	priority := basePriority
	timeout := p.cfg.DefaultTimeout
	if role == "owner" || role == "moderator" {
		priority += p.cfg.PriorityBonus
		timeout = p.cfg.PriorityTimeout
	}

	now := time.Now()
	req := &TurnRequest{
		ID:              uuid.New().String(),
		PeerID:          peerID,
		PeerDisplayName: displayName,
		RoomID:          roomID,
		Role:            role,
		Priority:        priority,
		CreatedAt:       now,
		ExpiresAt:       now.Add(timeout),
	}

	insertAt := len(q.queued)
	for i, existing := range q.queued {
		if existing.Priority < priority {
			insertAt = i
			break
		}
	}
	q.queued = append(q.queued, nil)
	copy(q.queued[insertAt+1:], q.queued[insertAt:])
	q.queued[insertAt] = req

	p.renumberLocked(q)
	p.notifyPositionsLocked(q)

	if p.metrics != nil {
		p.metrics.TurnQueueDepth.WithLabelValues(roomID).Set(float64(len(q.queued)))
	}
	return req
}

// renumberLocked assigns 1-based positions to queued entries. Caller holds
// q.mu.
func (p *Processor) renumberLocked(q *roomQueue) {
	for i, r := range q.queued {
		r.Position = i + 1
	}
}

func (p *Processor) notifyPositionsLocked(q *roomQueue) {
	if p.notifier == nil {
		return
	}
	for _, r := range q.queued {
		p.notifier.OnPositionChanged(*r)
	}
}

// Cancel removes a queued (not yet active) request. No-op if not found.
func (p *Processor) Cancel(roomID, requestID string) {
	q := p.queueFor(roomID)
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, r := range q.queued {
		if r.ID == requestID {
			q.queued = append(q.queued[:i], q.queued[i+1:]...)
			p.renumberLocked(q)
			p.notifyPositionsLocked(q)
			if p.metrics != nil {
				p.metrics.TurnQueueDepth.WithLabelValues(roomID).Set(float64(len(q.queued)))
			}
			return
		}
	}
}

// CancelAllForPeer removes every queued request belonging to peerID.
func (p *Processor) CancelAllForPeer(roomID, peerID string) {
	q := p.queueFor(roomID)
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.queued[:0]
	for _, r := range q.queued {
		if r.PeerID != peerID {
			kept = append(kept, r)
		}
	}
	q.queued = kept
	p.renumberLocked(q)
	p.notifyPositionsLocked(q)
	if p.metrics != nil {
		p.metrics.TurnQueueDepth.WithLabelValues(roomID).Set(float64(len(q.queued)))
	}
}

// BumpToFront moves requestID to the front of the queue, ahead of any
// priority ordering (used for explicit moderator override).
func (p *Processor) BumpToFront(roomID, requestID string) {
	q := p.queueFor(roomID)
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, r := range q.queued {
		if r.ID == requestID {
			q.queued = append(q.queued[:i], q.queued[i+1:]...)
			q.queued = append([]*TurnRequest{r}, q.queued...)
			p.renumberLocked(q)
			p.notifyPositionsLocked(q)
			return
		}
	}
}

// ProcessNext attempts to grant the queue head the active turn. No-op if a
// turn is already active or processing, or if MinTurnInterval hasn't
// elapsed since the last completion (a deferred retry is scheduled in that
// case). Expired heads are discarded; heads that exceed
// MaxProcessingAttempts are rejected.
func (p *Processor) ProcessNext(roomID string) {
	q := p.queueFor(roomID)
	q.mu.Lock()

	if q.processing || q.active != nil {
		q.mu.Unlock()
		return
	}

	if since := time.Since(q.lastCompletionAt); !q.lastCompletionAt.IsZero() && since < p.cfg.MinTurnInterval {
		remaining := p.cfg.MinTurnInterval - since
		if q.deferredTimer != nil {
			q.deferredTimer.Stop()
		}
		q.deferredTimer = time.AfterFunc(remaining, func() { p.ProcessNext(roomID) })
		q.mu.Unlock()
		return
	}

	now := time.Now()
	for len(q.queued) > 0 {
		head := q.queued[0]

		if now.After(head.ExpiresAt) {
			q.queued = q.queued[1:]
			p.renumberLocked(q)
			if p.metrics != nil {
				p.metrics.TurnQueueExpiredTotal.WithLabelValues(roomID).Inc()
			}
			if p.notifier != nil {
				p.notifier.OnTurnExpired(*head)
			}
			continue
		}

		q.queued = q.queued[1:]
		head.Position = 0
		q.active = head
		q.processing = true
		p.renumberLocked(q)
		if p.metrics != nil {
			p.metrics.TurnQueueGrantedTotal.WithLabelValues(roomID).Inc()
			p.metrics.TurnQueueDepth.WithLabelValues(roomID).Set(float64(len(q.queued)))
		}
		granted := *head
		q.mu.Unlock()
		if p.notifier != nil {
			p.notifier.OnTurnGranted(granted)
		}
		return
	}
	q.mu.Unlock()
}

// ReportProcessingFailure is called by the AI Orchestrator when it could
// not actually start a granted turn (e.g. the provider session failed to
// open). The request is retried, up to MaxProcessingAttempts, by
// re-queuing it at the front; beyond that it is rejected. Returns true if
// the request was rejected outright.
func (p *Processor) ReportProcessingFailure(roomID string) bool {
	q := p.queueFor(roomID)
	q.mu.Lock()

	req := q.active
	if req == nil {
		q.mu.Unlock()
		return false
	}
	q.active = nil
	q.processing = false
	req.attempts++

	if req.attempts > p.cfg.MaxProcessingAttempts {
		q.lastCompletionAt = time.Now()
		q.mu.Unlock()
		if p.metrics != nil {
			p.metrics.TurnQueueRejectedTotal.WithLabelValues(roomID).Inc()
		}
		if p.notifier != nil {
			p.notifier.OnTurnRejected(*req, "Max processing attempts")
		}
		return true
	}

	req.Position = 1
	q.queued = append([]*TurnRequest{req}, q.queued...)
	p.renumberLocked(q)
	snapshot := make([]TurnRequest, len(q.queued))
	for i, r := range q.queued {
		snapshot[i] = *r
	}
	q.mu.Unlock()

	if p.notifier != nil {
		for _, r := range snapshot {
			p.notifier.OnPositionChanged(r)
		}
	}
	return false
}

// EndTurn clears the active turn, whether it completed normally or was
// interrupted. wasInterrupted does not change what it does.
func (p *Processor) EndTurn(roomID string, wasInterrupted bool) {
	q := p.queueFor(roomID)
	q.mu.Lock()
	q.active = nil
	q.processing = false
	q.lastCompletionAt = time.Now()
	q.mu.Unlock()
}

// OnResponseDone ends the current turn and, if AutoAdvance is enabled,
// immediately attempts to grant the next queued request.
func (p *Processor) OnResponseDone(roomID string) {
	p.EndTurn(roomID, false)
	if p.cfg.AutoAdvance {
		p.ProcessNext(roomID)
	}
}

// ActiveTurn returns the currently granted request for roomID, if any.
func (p *Processor) ActiveTurn(roomID string) (TurnRequest, bool) {
	q := p.queueFor(roomID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil {
		return TurnRequest{}, false
	}
	return *q.active, true
}

// Depth returns the number of queued (non-active) requests for roomID.
func (p *Processor) Depth(roomID string) int {
	q := p.queueFor(roomID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued)
}
