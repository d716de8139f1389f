// Package interrupt implements the Interrupt Handler (C7): urgent-override
// requests that cancel the AI's current response out of turn.
package interrupt

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/roomvoice/server/internal/observability"
	"github.com/roomvoice/server/internal/roomerr"
)

const maxHistory = 100
const trimmedHistory = 50

// RoomChecker is the small capability interface the handler needs from the
// room store: existence only, never the whole Store.
type RoomChecker interface {
	Exists(roomID string) bool
}

type roomState struct {
	mu              sync.Mutex
	lastInterruptAt time.Time
	windowStart     time.Time
	countInWindow   int
	breaker         *gobreaker.CircuitBreaker[bool]
}

// Handler implements CanInterrupt/RequestInterrupt/ProcessInterrupt.
type Handler struct {
	mu       sync.Mutex
	cfg      Config
	rooms    RoomChecker
	logger   zerolog.Logger
	metrics  *observability.Metrics
	states   map[string]*roomState
	requests map[string]*Request
	history  []Event
	// limiter guards against RequestInterrupt being hammered at the transport
	// layer, independent of the per-room business quota enforced below.
	limiter *rate.Limiter
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, rooms RoomChecker, logger zerolog.Logger, metrics *observability.Metrics) *Handler {
	return &Handler{
		cfg:      cfg,
		rooms:    rooms,
		logger:   logger.With().Str("component", "interrupt_handler").Logger(),
		metrics:  metrics,
		states:   make(map[string]*roomState),
		requests: make(map[string]*Request),
		limiter:  rate.NewLimiter(rate.Limit(50), 100),
	}
}

func (h *Handler) stateFor(roomID string) *roomState {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.states[roomID]
	if !ok {
		s = &roomState{breaker: newBreaker(roomID)}
		h.states[roomID] = s
	}
	return s
}

func newBreaker(roomID string) *gobreaker.CircuitBreaker[bool] {
	return gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
		Name:        "interrupt-cancel-" + roomID,
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// rolePermitted implements the Interrupt Handler's role policy: owner is
// always permitted; moderator is permitted only when ModeratorsCanInterrupt
// is set; plain participants are never authorized to use urgent override.
// OwnerOnly overrides ModeratorsCanInterrupt and restricts to owner alone.
func (h *Handler) rolePermitted(role string) bool {
	if role == "owner" {
		return true
	}
	if h.cfg.OwnerOnly {
		return false
	}
	return role == "moderator" && h.cfg.ModeratorsCanInterrupt
}

// CanInterrupt evaluates the ordered rule set, short-circuiting on first
// failure, and returns allowed plus a machine-readable reason on denial.
func (h *Handler) CanInterrupt(roomID, peerID, role string) (bool, string) {
	if !h.rooms.Exists(roomID) {
		return false, "ROOM_NOT_FOUND"
	}
	if !h.cfg.Enabled {
		return false, "INTERRUPTS_DISABLED"
	}
	if !h.rolePermitted(role) {
		return false, "ROLE_NOT_PERMITTED"
	}

	s := h.stateFor(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if !s.lastInterruptAt.IsZero() && now.Sub(s.lastInterruptAt) < h.cfg.cooldown() {
		return false, "COOLDOWN_ACTIVE"
	}

	h.resetWindowLocked(s, now)
	if s.countInWindow >= h.cfg.maxPerMinute() {
		return false, "RATE_LIMITED"
	}

	return true, ""
}

// resetWindowLocked resets the per-minute counter when a full minute has
// elapsed since the window last started. Caller holds s.mu.
func (h *Handler) resetWindowLocked(s *roomState, now time.Time) {
	if s.windowStart.IsZero() || now.Sub(s.windowStart) >= time.Minute {
		s.windowStart = now
		s.countInWindow = 0
	}
}

// RequestInterrupt validates via CanInterrupt and records a pending request.
func (h *Handler) RequestInterrupt(roomID, peerID, role string) (*Request, error) {
	if !h.limiter.Allow() {
		return nil, roomerr.RateLimited("interrupt subsystem is under load")
	}
	allowed, reason := h.CanInterrupt(roomID, peerID, role)
	if !allowed {
		return nil, roomerr.New(roomerr.CodeRateLimited, reason)
	}

	req := &Request{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		PeerID:    peerID,
		Role:      role,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	h.requests[req.ID] = req
	h.mu.Unlock()

	h.appendEvent(Event{Kind: "requested", RequestID: req.ID, RoomID: roomID, PeerID: peerID, At: req.CreatedAt})
	if h.metrics != nil {
		h.metrics.InterruptsRequested.WithLabelValues(roomID).Inc()
	}
	return req, nil
}

// ProcessInterrupt cancels the AI's current response via onSendCancel. Any
// error from onSendCancel is caught here and reported as a rejected event;
// it never propagates to the caller.
func (h *Handler) ProcessInterrupt(requestID string, aiState string, responseDuration time.Duration, onSendCancel func(roomID string) (bool, error), onClearResponse, onUnlock func()) error {
	h.mu.Lock()
	req, ok := h.requests[requestID]
	h.mu.Unlock()
	if !ok {
		return roomerr.InvalidInput(fmt.Sprintf("unknown interrupt request %q", requestID))
	}

	s := h.stateFor(req.RoomID)

	success, err := s.breaker.Execute(func() (bool, error) {
		return onSendCancel(req.RoomID)
	})

	now := time.Now()
	if err != nil {
		req.Status = StatusRejected
		req.Reason = err.Error()
		h.appendEvent(Event{Kind: "rejected", RequestID: requestID, RoomID: req.RoomID, PeerID: req.PeerID, Reason: err.Error(), At: now})
		h.logger.Warn().Err(err).Str("room_id", req.RoomID).Msg("onSendCancel failed")
		if h.metrics != nil {
			h.metrics.InterruptsRejected.WithLabelValues(req.RoomID, "cancel_error").Inc()
		}
		return nil
	}

	if !success {
		req.Status = StatusRejected
		req.Reason = "cancel failed"
		h.appendEvent(Event{Kind: "rejected", RequestID: requestID, RoomID: req.RoomID, PeerID: req.PeerID, Reason: "cancel failed", At: now})
		if h.metrics != nil {
			h.metrics.InterruptsRejected.WithLabelValues(req.RoomID, "cancel_failed").Inc()
		}
		return nil
	}

	if onClearResponse != nil {
		onClearResponse()
	}
	if onUnlock != nil {
		onUnlock()
	}

	req.Status = StatusSucceeded
	h.appendEvent(Event{Kind: "processed", RequestID: requestID, RoomID: req.RoomID, PeerID: req.PeerID, At: now})

	s.mu.Lock()
	s.lastInterruptAt = now
	h.resetWindowLocked(s, now)
	s.countInWindow++
	s.mu.Unlock()

	if h.metrics != nil {
		h.metrics.InterruptLatency.WithLabelValues(req.RoomID).Observe(float64(time.Since(req.CreatedAt).Milliseconds()))
	}
	return nil
}

// CancelRequest marks a still-pending request cancelled without processing.
func (h *Handler) CancelRequest(requestID string) {
	h.mu.Lock()
	req, ok := h.requests[requestID]
	h.mu.Unlock()
	if !ok || req.Status != StatusPending {
		return
	}
	req.Status = StatusCancelled
	h.appendEvent(Event{Kind: "cancelled", RequestID: requestID, RoomID: req.RoomID, PeerID: req.PeerID, At: time.Now()})
}

func (h *Handler) appendEvent(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, ev)
	if len(h.history) > maxHistory {
		h.history = append([]Event(nil), h.history[len(h.history)-trimmedHistory:]...)
	}
	if h.cfg.LogAllEvents {
		h.logger.Info().Str("kind", ev.Kind).Str("request_id", ev.RequestID).Str("room_id", ev.RoomID).Msg("interrupt event")
	}
}

// History returns a copy of the in-memory interrupt event log.
func (h *Handler) History() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.history))
	copy(out, h.history)
	return out
}
