package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomvoice/server/internal/observability"
	"github.com/roomvoice/server/internal/roomerr"
)

func newTestStore() *Store {
	return NewStore(10, 2, 10, observability.NewNopLogger(), nil)
}

func TestCreate(t *testing.T) {
	s := newTestStore()

	r, err := s.Create(CreateRequest{Name: "Standup", OwnerID: "u1"})
	require.NoError(t, err)
	assert.Len(t, r.ID, 10)
	assert.Equal(t, StatusWaiting, r.Status)
	assert.Equal(t, 6, r.MaxParticipants)
}

func TestCreate_EmptyName(t *testing.T) {
	s := newTestStore()
	_, err := s.Create(CreateRequest{Name: "   "})
	require.Error(t, err)
	var rerr *roomerr.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, roomerr.CodeInvalidInput, rerr.Code)
}

func TestCreate_MaxParticipantsOutOfRange(t *testing.T) {
	s := newTestStore()
	_, err := s.Create(CreateRequest{Name: "x", MaxParticipants: 20})
	require.Error(t, err)
}

func TestCreate_IdsAreUnique(t *testing.T) {
	s := newTestStore()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		r, err := s.Create(CreateRequest{Name: "room"})
		require.NoError(t, err)
		assert.False(t, seen[r.ID], "id %s generated twice", r.ID)
		seen[r.ID] = true
	}
}

func TestAddParticipant_CapacityTransitions(t *testing.T) {
	s := newTestStore()
	r, err := s.Create(CreateRequest{Name: "room", MaxParticipants: 2})
	require.NoError(t, err)

	require.NoError(t, s.AddParticipant(r.ID, &Peer{ID: "p1"}))
	assert.Equal(t, StatusActive, r.Status)

	require.NoError(t, s.AddParticipant(r.ID, &Peer{ID: "p2"}))
	assert.Equal(t, StatusFull, r.Status)

	err = s.AddParticipant(r.ID, &Peer{ID: "p3"})
	require.Error(t, err)
	var rerr *roomerr.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, roomerr.CodeRoomFull, rerr.Code)
}

func TestRemoveParticipant_FullToActive(t *testing.T) {
	s := newTestStore()
	r, err := s.Create(CreateRequest{Name: "room", MaxParticipants: 2})
	require.NoError(t, err)
	require.NoError(t, s.AddParticipant(r.ID, &Peer{ID: "p1"}))
	require.NoError(t, s.AddParticipant(r.ID, &Peer{ID: "p2"}))
	assert.Equal(t, StatusFull, r.Status)

	require.NoError(t, s.RemoveParticipant(r.ID, "p1"))
	assert.Equal(t, StatusActive, r.Status)
	assert.Equal(t, 1, r.ParticipantCount())
}

func TestRemoveParticipant_UnknownPeerIsIdempotent(t *testing.T) {
	s := newTestStore()
	r, err := s.Create(CreateRequest{Name: "room"})
	require.NoError(t, err)
	require.NoError(t, s.RemoveParticipant(r.ID, "ghost"))
}

func TestAddParticipant_RejectsClosedRoom(t *testing.T) {
	s := newTestStore()
	r, err := s.Create(CreateRequest{Name: "room"})
	require.NoError(t, err)
	require.NoError(t, s.Close(r.ID, "explicit"))

	err = s.AddParticipant(r.ID, &Peer{ID: "p1"})
	require.Error(t, err)
	var rerr *roomerr.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, roomerr.CodeRoomClosed, rerr.Code)
}

func TestClose_IsTerminalAndIdempotent(t *testing.T) {
	s := newTestStore()
	r, err := s.Create(CreateRequest{Name: "room"})
	require.NoError(t, err)

	require.NoError(t, s.Close(r.ID, "explicit"))
	assert.Equal(t, StatusClosed, r.Status)

	require.NoError(t, s.Close(r.ID, "explicit"))
	assert.Equal(t, StatusClosed, r.Status)

	err = s.UpdateStatus(r.ID, StatusActive)
	require.Error(t, err)
	var rerr *roomerr.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, roomerr.CodeRoomClosed, rerr.Code)
}

func TestList_StripsParticipantsAndFilters(t *testing.T) {
	s := newTestStore()
	r1, err := s.Create(CreateRequest{Name: "a"})
	require.NoError(t, err)
	r2, err := s.Create(CreateRequest{Name: "b"})
	require.NoError(t, err)
	require.NoError(t, s.AddParticipant(r1.ID, &Peer{ID: "p1"}))

	all := s.List(Filter{})
	assert.Len(t, all, 2)

	active := s.List(Filter{Status: StatusActive})
	require.Len(t, active, 1)
	assert.Equal(t, r1.ID, active[0].ID)
	assert.Equal(t, 1, active[0].ParticipantCount)

	waiting := s.List(Filter{Status: StatusWaiting})
	require.Len(t, waiting, 1)
	assert.Equal(t, r2.ID, waiting[0].ID)
}

func TestSweepIdle_ClosesOnlyEmptyStaleRooms(t *testing.T) {
	s := newTestStore()
	r1, err := s.Create(CreateRequest{Name: "stale"})
	require.NoError(t, err)
	r2, err := s.Create(CreateRequest{Name: "occupied"})
	require.NoError(t, err)
	require.NoError(t, s.AddParticipant(r2.ID, &Peer{ID: "p1"}))

	closed := s.SweepIdle(0)
	assert.Contains(t, closed, r1.ID)
	assert.NotContains(t, closed, r2.ID)

	got, _ := s.Get(r1.ID)
	assert.Equal(t, StatusClosed, got.Status)
}
