package wireproto

// RoomJoinPayload is the payload of room:join.
type RoomJoinPayload struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// RoomLeavePayload is the payload of room:leave.
type RoomLeavePayload struct {
	RoomID string `json:"roomId"`
}

// DisplayNameUpdatePayload is the payload of display_name:update.
type DisplayNameUpdatePayload struct {
	Name string `json:"name"`
}

// PresenceUpdatePayload is the (partial) payload of presence:update.
// Pointer fields distinguish "absent" from "explicitly false/zero".
type PresenceUpdatePayload struct {
	IsMuted        *bool    `json:"isMuted,omitempty"`
	IsSpeaking     *bool    `json:"isSpeaking,omitempty"`
	IsAddressingAI *bool    `json:"isAddressingAI,omitempty"`
	AudioLevel     *float64 `json:"audioLevel,omitempty"`
}

// SignalPayload is the payload of signal:offer|answer|ice.
type SignalPayload struct {
	TargetPeerID string `json:"targetPeerId"`
	SDP          string `json:"sdp,omitempty"`
	Candidate    string `json:"candidate,omitempty"`
}

// AIPTTRoomPayload is the payload of ai:ptt_start / ai:ptt_end.
type AIPTTRoomPayload struct {
	RoomID string `json:"roomId"`
}

// AIAudioDataPayload is the payload of ai:audio_data.
type AIAudioDataPayload struct {
	RoomID string `json:"roomId"`
	Audio  string `json:"audio"` // base64 PCM16LE mono 24kHz
}

// AIInterruptPayload is the payload of ai:interrupt.
type AIInterruptPayload struct {
	RoomID string `json:"roomId"`
	Source string `json:"source"`
}

// TranscriptRequestHistoryPayload is the payload of transcript:request-history.
type TranscriptRequestHistoryPayload struct {
	RoomID           string `json:"roomId"`
	Limit            int    `json:"limit"`
	BeforeID         string `json:"beforeId,omitempty"`
	IncludeSummaries bool   `json:"includeSummaries,omitempty"`
}

// RoomErrorPayload is the payload of room:error.
type RoomErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RoomID  string `json:"roomId,omitempty"`
}

// PeerEntry describes one participant in a peer-list-shaped payload.
type PeerEntry struct {
	PeerID      string `json:"peerId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Role        string `json:"role"`
}

// PresenceBroadcastPayload is the payload of presence:update / presence:sync.
type PresenceBroadcastPayload struct {
	PeerID          string  `json:"peerId"`
	ConnectionState string  `json:"connectionState"`
	IsMuted         bool    `json:"isMuted"`
	IsSpeaking      bool    `json:"isSpeaking"`
	IsAddressingAI  bool    `json:"isAddressingAI"`
	AudioLevel      float64 `json:"audioLevel"`
	IsIdle          bool    `json:"isIdle"`
}

// AIStatePayload is the payload of ai:state.
type AIStatePayload struct {
	State             string `json:"state"`
	ActiveSpeakerID   string `json:"activeSpeakerId,omitempty"`
	ActiveSpeakerName string `json:"activeSpeakerName,omitempty"`
	IsSessionHealthy  bool   `json:"isSessionHealthy"`
	LastError         string `json:"lastError,omitempty"`
}

// AIAudioPayload is the payload of ai:audio.
type AIAudioPayload struct {
	RoomID string `json:"roomId"`
	Audio  string `json:"audio"`
}

// TranscriptEntryPayload mirrors a transcript entry on the wire.
type TranscriptEntryPayload struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	Timestamp int64  `json:"timestamp"`
	Speaker   string `json:"speaker"`
	SpeakerID string `json:"speakerId,omitempty"`
	Content   string `json:"content"`
	Type      string `json:"type"`
}

// TranscriptSummaryPayload mirrors a transcript summary on the wire.
type TranscriptSummaryPayload struct {
	ID                string   `json:"id"`
	RoomID            string   `json:"roomId"`
	Timestamp         int64    `json:"timestamp"`
	Content           string   `json:"content"`
	BulletPoints      []string `json:"bulletPoints"`
	EntriesSummarized int      `json:"entriesSummarized"`
	TokenCount        int      `json:"tokenCount"`
	CoverageStart     int64    `json:"coverageStart"`
	CoverageEnd       int64    `json:"coverageEnd"`
}

// SearchResultsPayload is the payload of search:results.
type SearchResultsPayload struct {
	CallID  string   `json:"callId"`
	Results []string `json:"results"`
}

// ErrorPayload is a generic error payload shared by several :error events.
type ErrorPayload struct {
	Message string `json:"message"`
}

// RoomSnapshotPayload mirrors room.Snapshot on the wire.
type RoomSnapshotPayload struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Description     string      `json:"description,omitempty"`
	MaxParticipants int         `json:"maxParticipants"`
	Status          string      `json:"status"`
	OwnerID         string      `json:"ownerId"`
	AIPersonality   string      `json:"aiPersonality,omitempty"`
	CreatedAt       int64       `json:"createdAt"`
	LastActivityAt  int64       `json:"lastActivityAt"`
	Participants    []PeerEntry `json:"participants"`
}

// RoomJoinedPayload is the payload of room:joined, the reply to a
// successful room:join.
type RoomJoinedPayload struct {
	Room       RoomSnapshotPayload `json:"room"`
	SelfPeerID string              `json:"selfPeerId"`
}

// RoomUpdatedPayload is the payload of room:updated.
type RoomUpdatedPayload struct {
	Room RoomSnapshotPayload `json:"room"`
}

// RoomClosedPayload is the payload of room:closed.
type RoomClosedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// PeerJoinedPayload is the payload of peer:joined.
type PeerJoinedPayload struct {
	Peer PeerEntry `json:"peer"`
}

// PeerLeftPayload is the payload of peer:left.
type PeerLeftPayload struct {
	PeerID string `json:"peerId"`
}

// PeerUpdatedPayload is the payload of peer:updated.
type PeerUpdatedPayload struct {
	Peer PeerEntry `json:"peer"`
}

// AudioLevelsPayload is the payload of audio:levels, a compact meter-only
// broadcast distinct from the fuller presence:update/presence:sync shapes.
type AudioLevelsPayload struct {
	Levels map[string]float64 `json:"levels"`
}

// TranscriptHistoryPayload is the payload of transcript:history, sent
// direct-to-peer in response to transcript:request-history or on join.
type TranscriptHistoryPayload struct {
	Entries   []TranscriptEntryPayload   `json:"entries"`
	Summaries []TranscriptSummaryPayload `json:"summaries,omitempty"`
	HasMore   bool                       `json:"hasMore"`
}

// VideoSummaryPayload is the payload of video:summary.
type VideoSummaryPayload struct {
	CallID  string `json:"callId"`
	Summary string `json:"summary"`
}

// VideoSummaryErrorPayload is the payload of video:summary-error.
type VideoSummaryErrorPayload struct {
	CallID  string `json:"callId"`
	Message string `json:"message"`
}
