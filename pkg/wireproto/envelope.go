// Package wireproto defines the JSON wire protocol between a signaling
// connection and the room coordination engine: a tagged-union envelope
// carrying a string event name and an opaque payload, decoded into typed
// variants at the boundary.
package wireproto

import (
	"encoding/json"
	"fmt"
)

// Event is the discriminator carried by every envelope.
type Event string

// Client -> server events.
const (
	EventRoomJoin               Event = "room:join"
	EventRoomLeave              Event = "room:leave"
	EventDisplayNameUpdate      Event = "display_name:update"
	EventPresenceUpdate         Event = "presence:update"
	EventPresenceHeartbeat      Event = "presence:heartbeat"
	EventSignalOffer            Event = "signal:offer"
	EventSignalAnswer           Event = "signal:answer"
	EventSignalICE              Event = "signal:ice"
	EventAIPTTStart             Event = "ai:ptt_start"
	EventAIPTTEnd               Event = "ai:ptt_end"
	EventAIAudioData            Event = "ai:audio_data"
	EventAIInterrupt            Event = "ai:interrupt"
	EventTranscriptRequestHistory Event = "transcript:request-history"
	EventSearchClear            Event = "search:clear"
)

// Server -> client events.
const (
	EventRoomJoined       Event = "room:joined"
	EventRoomLeft         Event = "room:left"
	EventRoomError        Event = "room:error"
	EventRoomClosed       Event = "room:closed"
	EventRoomUpdated      Event = "room:updated"
	EventPeerJoined       Event = "peer:joined"
	EventPeerLeft         Event = "peer:left"
	EventPeerUpdated      Event = "peer:updated"
	EventPresenceSync     Event = "presence:sync"
	EventAudioLevels      Event = "audio:levels"
	EventAIState          Event = "ai:state"
	EventAIAudio          Event = "ai:audio"
	EventTranscriptEntry  Event = "transcript:entry"
	EventTranscriptSummary Event = "transcript:summary"
	EventTranscriptHistory Event = "transcript:history"
	EventSearchStarted    Event = "search:started"
	EventSearchResults    Event = "search:results"
	EventSearchError      Event = "search:error"
	EventVideoSummary     Event = "video:summary"
	EventVideoSummaryError Event = "video:summary-error"
)

// Envelope is the outer shape of every message on the signaling socket.
type Envelope struct {
	Event   Event           `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals v into an Envelope's payload.
func NewEnvelope(event Event, v interface{}) (*Envelope, error) {
	if v == nil {
		return &Envelope{Event: event}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wireproto: marshal payload for %s: %w", event, err)
	}
	return &Envelope{Event: event, Payload: raw}, nil
}

// DecodePayload unmarshals the envelope's payload into v.
func (e *Envelope) DecodePayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("wireproto: decode payload for %s: %w", e.Event, err)
	}
	return nil
}

// Encode serializes the envelope to bytes ready to write to a connection.
func Encode(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a raw message into an Envelope.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("wireproto: decode envelope: %w", err)
	}
	return &e, nil
}
