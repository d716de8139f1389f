// Package room implements the Room Store: the authoritative, in-memory map
// of rooms, participants, and room status. It is the outermost lock in the
// system — every other component's per-room state is subordinate to it.
package room

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a Room.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
	StatusFull    Status = "full"
	StatusClosed  Status = "closed"
)

// Role is a Peer's permission level within a Room.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
)

// VoiceSettings carries the AI provider's voice selection for a room. It is
// opaque to the Room Store and passed through to the Provider Adapter.
type VoiceSettings struct {
	Voice       string  `json:"voice,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Presence is the subset of a Peer's connection/activity state the
// Presence Tracker owns and mutates. Embedded in Peer so the Room Store can
// hand out a consistent snapshot without a second lookup.
type Presence struct {
	ConnectionState string    `json:"connectionState"` // new|connecting|connected|reconnecting|disconnected|failed
	IsMuted         bool      `json:"isMuted"`
	IsSpeaking      bool      `json:"isSpeaking"`
	IsAddressingAI  bool      `json:"isAddressingAi"`
	AudioLevel      float64   `json:"audioLevel"`
	LastActiveAt    time.Time `json:"lastActiveAt"`
	IsIdle          bool      `json:"isIdle"`
	LastHeartbeatAt time.Time `json:"-"`
}

// Peer is a single connection's membership record within a Room. Its id is
// assigned on socket connect and is not stable across reconnect.
type Peer struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	Role        Role      `json:"role"`
	RoomID      string    `json:"roomId"`
	JoinedAt    time.Time `json:"joinedAt"`
	Presence    Presence  `json:"presence"`
}

// Room is the unit of state isolation: one AI session, one transcript, N
// peers. All mutating paths converge on mu; broadcasts should read a
// snapshot (via Snapshot) outside the lock.
type Room struct {
	mu sync.RWMutex

	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	MaxParticipants int           `json:"maxParticipants"`
	Status          Status        `json:"status"`
	OwnerID         string        `json:"ownerId"`
	AIPersonality   string        `json:"aiPersonality,omitempty"`
	VoiceSettings   VoiceSettings `json:"voiceSettings,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	LastActivityAt  time.Time     `json:"lastActivityAt"`

	participants []*Peer
}

// Snapshot is an immutable, JSON-serializable copy of a Room safe to read
// and broadcast without holding the room lock.
type Snapshot struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	MaxParticipants int           `json:"maxParticipants"`
	Status          Status        `json:"status"`
	OwnerID         string        `json:"ownerId"`
	AIPersonality   string        `json:"aiPersonality,omitempty"`
	VoiceSettings   VoiceSettings `json:"voiceSettings,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	LastActivityAt  time.Time     `json:"lastActivityAt"`
	Participants    []Peer        `json:"participants"`
}

// Summary is the privacy-stripped view returned by List: no participants.
type Summary struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	MaxParticipants int       `json:"maxParticipants"`
	ParticipantCount int      `json:"participantCount"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	LastActivityAt  time.Time `json:"lastActivityAt"`
}

// CreateRequest carries the fields accepted by POST /rooms.
type CreateRequest struct {
	Name            string
	Description     string
	MaxParticipants int
	OwnerID         string
	AIPersonality   string
	VoiceSettings   VoiceSettings
}

// Filter narrows List results by status; the zero value matches all rooms.
type Filter struct {
	Status Status
}

// Snapshot copies the room's current state under its read lock.
func (r *Room) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]Peer, len(r.participants))
	for i, p := range r.participants {
		peers[i] = *p
	}
	return Snapshot{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		MaxParticipants:  r.MaxParticipants,
		Status:           r.Status,
		OwnerID:          r.OwnerID,
		AIPersonality:    r.AIPersonality,
		VoiceSettings:    r.VoiceSettings,
		CreatedAt:        r.CreatedAt,
		LastActivityAt:   r.LastActivityAt,
		Participants:     peers,
	}
}

// summary copies the room's current state without participants. Caller must
// hold at least a read lock.
func (r *Room) summary() Summary {
	return Summary{
		ID:               r.ID,
		Name:             r.Name,
		MaxParticipants:  r.MaxParticipants,
		ParticipantCount: len(r.participants),
		Status:           r.Status,
		CreatedAt:        r.CreatedAt,
		LastActivityAt:   r.LastActivityAt,
	}
}

// ParticipantCount returns the current number of peers in the room.
func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Peer returns a copy of the peer record for peerID, if present.
func (r *Room) Peer(peerID string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.participants {
		if p.ID == peerID {
			return *p, true
		}
	}
	return Peer{}, false
}
