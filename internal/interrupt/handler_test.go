package interrupt

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomvoice/server/internal/observability"
)

type fakeRooms struct{ known map[string]bool }

func (f fakeRooms) Exists(roomID string) bool { return f.known[roomID] }

func testCfg() Config {
	return Config{
		Enabled:                true,
		ModeratorsCanInterrupt: true,
		InterruptCooldownMs:    10,
		MaxInterruptsPerMinute: 2,
	}
}

func TestCanInterrupt_RejectsUnknownRoom(t *testing.T) {
	h := NewHandler(testCfg(), fakeRooms{known: map[string]bool{}}, observability.NewNopLogger(), nil)
	allowed, reason := h.CanInterrupt("room1", "p1", "owner")
	assert.False(t, allowed)
	assert.Equal(t, "ROOM_NOT_FOUND", reason)
}

func TestCanInterrupt_RejectsWhenDisabled(t *testing.T) {
	cfg := testCfg()
	cfg.Enabled = false
	h := NewHandler(cfg, fakeRooms{known: map[string]bool{"room1": true}}, observability.NewNopLogger(), nil)
	allowed, reason := h.CanInterrupt("room1", "p1", "owner")
	assert.False(t, allowed)
	assert.Equal(t, "INTERRUPTS_DISABLED", reason)
}

func TestCanInterrupt_ParticipantNeverPermitted(t *testing.T) {
	h := NewHandler(testCfg(), fakeRooms{known: map[string]bool{"room1": true}}, observability.NewNopLogger(), nil)
	allowed, reason := h.CanInterrupt("room1", "p1", "participant")
	assert.False(t, allowed)
	assert.Equal(t, "ROLE_NOT_PERMITTED", reason)
}

func TestCanInterrupt_ModeratorRequiresFlag(t *testing.T) {
	cfg := testCfg()
	cfg.ModeratorsCanInterrupt = false
	h := NewHandler(cfg, fakeRooms{known: map[string]bool{"room1": true}}, observability.NewNopLogger(), nil)
	allowed, _ := h.CanInterrupt("room1", "p1", "moderator")
	assert.False(t, allowed)
}

func TestCanInterrupt_OwnerOnlyOverridesModerators(t *testing.T) {
	cfg := testCfg()
	cfg.OwnerOnly = true
	h := NewHandler(cfg, fakeRooms{known: map[string]bool{"room1": true}}, observability.NewNopLogger(), nil)
	allowed, _ := h.CanInterrupt("room1", "p1", "moderator")
	assert.False(t, allowed)
	allowed, _ = h.CanInterrupt("room1", "p1", "owner")
	assert.True(t, allowed)
}

func TestRequestThenProcessInterrupt_SucceedsAndUpdatesState(t *testing.T) {
	h := NewHandler(testCfg(), fakeRooms{known: map[string]bool{"room1": true}}, observability.NewNopLogger(), nil)
	req, err := h.RequestInterrupt("room1", "p1", "owner")
	require.NoError(t, err)

	var cleared, unlocked bool
	err = h.ProcessInterrupt(req.ID, "speaking", 500*time.Millisecond,
		func(string) (bool, error) { return true, nil },
		func() { cleared = true },
		func() { unlocked = true },
	)
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.True(t, unlocked)

	history := h.History()
	require.Len(t, history, 2)
	assert.Equal(t, "requested", history[0].Kind)
	assert.Equal(t, "processed", history[1].Kind)
}

func TestProcessInterrupt_CancelErrorNeverPropagates(t *testing.T) {
	h := NewHandler(testCfg(), fakeRooms{known: map[string]bool{"room1": true}}, observability.NewNopLogger(), nil)
	req, err := h.RequestInterrupt("room1", "p1", "owner")
	require.NoError(t, err)

	err = h.ProcessInterrupt(req.ID, "speaking", 0,
		func(string) (bool, error) { return false, errors.New("provider wedged") },
		nil, nil,
	)
	require.NoError(t, err)

	history := h.History()
	assert.Equal(t, "rejected", history[len(history)-1].Kind)
}

func TestProcessInterrupt_FalseSuccessIsRejected(t *testing.T) {
	h := NewHandler(testCfg(), fakeRooms{known: map[string]bool{"room1": true}}, observability.NewNopLogger(), nil)
	req, err := h.RequestInterrupt("room1", "p1", "owner")
	require.NoError(t, err)

	err = h.ProcessInterrupt(req.ID, "speaking", 0, func(string) (bool, error) { return false, nil }, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "rejected", h.History()[len(h.History())-1].Kind)
}

func TestCanInterrupt_CooldownBlocksImmediateRetry(t *testing.T) {
	cfg := testCfg()
	cfg.InterruptCooldownMs = 10_000
	h := NewHandler(cfg, fakeRooms{known: map[string]bool{"room1": true}}, observability.NewNopLogger(), nil)

	req, err := h.RequestInterrupt("room1", "p1", "owner")
	require.NoError(t, err)
	err = h.ProcessInterrupt(req.ID, "speaking", 0, func(string) (bool, error) { return true, nil }, nil, nil)
	require.NoError(t, err)

	allowed, reason := h.CanInterrupt("room1", "p1", "owner")
	assert.False(t, allowed)
	assert.Equal(t, "COOLDOWN_ACTIVE", reason)
}

func TestCanInterrupt_RateLimitedAfterMaxPerMinute(t *testing.T) {
	cfg := testCfg()
	cfg.InterruptCooldownMs = 1
	cfg.MaxInterruptsPerMinute = 2
	h := NewHandler(cfg, fakeRooms{known: map[string]bool{"room1": true}}, observability.NewNopLogger(), nil)

	for i := 0; i < 2; i++ {
		req, err := h.RequestInterrupt("room1", "p1", "owner")
		require.NoError(t, err)
		err = h.ProcessInterrupt(req.ID, "speaking", 0, func(string) (bool, error) { return true, nil }, nil, nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	allowed, reason := h.CanInterrupt("room1", "p1", "owner")
	assert.False(t, allowed)
	assert.Equal(t, "RATE_LIMITED", reason)
}

func TestHistory_TrimsToLast50WhenOver100(t *testing.T) {
	h := NewHandler(testCfg(), fakeRooms{known: map[string]bool{"room1": true}}, observability.NewNopLogger(), nil)
	for i := 0; i < 101; i++ {
		h.appendEvent(Event{Kind: "requested", RequestID: "r", RoomID: "room1", At: time.Now()})
	}
	assert.Len(t, h.History(), 50)
}
