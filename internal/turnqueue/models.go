// Package turnqueue implements the Turn Queue Processor (C4): a per-room
// FIFO-with-priority queue of TurnRequests granting exclusive access to the
// AI for exactly one peer at a time.
package turnqueue

import "time"

// TurnRequest is one peer's request to hold the AI's attention. Position 0
// means it is the currently active (granted) turn.
type TurnRequest struct {
	ID              string
	PeerID          string
	PeerDisplayName string
	RoomID          string
	Role            string
	Priority        int
	CreatedAt       time.Time
	ExpiresAt       time.Time
	Position        int
	attempts        int
}

// Notifier receives queue events to fan out to peers. All callbacks run
// synchronously under the room queue's lock release — implementations must
// not block or call back into the Processor.
type Notifier interface {
	OnTurnGranted(req TurnRequest)
	OnPositionChanged(req TurnRequest)
	OnTurnExpired(req TurnRequest)
	OnTurnRejected(req TurnRequest, reason string)
}
