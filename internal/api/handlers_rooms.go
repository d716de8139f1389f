package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/roomvoice/server/internal/personality"
	"github.com/roomvoice/server/internal/room"
	"github.com/roomvoice/server/internal/roomerr"
	"github.com/roomvoice/server/internal/transcript"
)

// createRoomRequest is the expected body for POST /rooms.
type createRoomRequest struct {
	Name            string             `json:"name"`
	Description     string             `json:"description,omitempty"`
	MaxParticipants int                `json:"maxParticipants,omitempty"`
	AIPersonality   string             `json:"aiPersonality,omitempty"`
	VoiceSettings   room.VoiceSettings `json:"voiceSettings,omitempty"`
}

type roomResponse struct {
	Room room.Snapshot `json:"room"`
}

// handleCreateRoom creates a room owned by the authenticated caller.
// POST /rooms
// Complexity: O(1)
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if s.rooms == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "room store not available")
		return
	}

	userID := UserIDFromContext(r.Context())

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(roomerr.CodeInvalidInput), "invalid request body")
		return
	}

	rm, err := s.rooms.Create(room.CreateRequest{
		Name:            req.Name,
		Description:     req.Description,
		MaxParticipants: req.MaxParticipants,
		OwnerID:         userID,
		AIPersonality:   req.AIPersonality,
		VoiceSettings:   req.VoiceSettings,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("room creation rejected")
		writeRoomErr(w, err)
		return
	}

	if s.personas != nil && req.AIPersonality != "" {
		if err := s.personas.SetPersonality(rm.ID, personality.Preset(req.AIPersonality), ""); err != nil {
			s.logger.Warn().Err(err).Str("room_id", rm.ID).Msg("invalid aiPersonality on create, using default")
		}
		if req.VoiceSettings.Voice != "" {
			_ = s.personas.SetVoice(rm.ID, req.VoiceSettings.Voice)
		}
		if req.VoiceSettings.Temperature != 0 {
			_ = s.personas.SetTemperature(rm.ID, req.VoiceSettings.Temperature)
		}
	}

	writeJSON(w, http.StatusCreated, roomResponse{Room: rm.Snapshot()})
}

// handleListRooms returns privacy-stripped room summaries, optionally
// filtered by status.
// GET /rooms?status=
// Complexity: O(n) where n is the number of live rooms
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	if s.rooms == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "room store not available")
		return
	}

	filter := room.Filter{Status: room.Status(r.URL.Query().Get("status"))}
	summaries := s.rooms.List(filter)
	if summaries == nil {
		summaries = []room.Summary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleGetRoom returns a single room's full state, including participants.
// GET /rooms/{roomID}
// Complexity: O(1)
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	if s.rooms == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "room store not available")
		return
	}

	roomID := chi.URLParam(r, "roomID")
	rm, ok := s.rooms.Get(roomID)
	if !ok {
		writeRoomErr(w, roomerr.RoomNotFound(roomID))
		return
	}

	writeJSON(w, http.StatusOK, roomResponse{Room: rm.Snapshot()})
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return "transcript"
	}
	if len(name) > 80 {
		name = name[:80]
	}
	return name
}

// handleGetTranscript returns a room's transcript entries (and summaries)
// in the requested format.
// GET /rooms/{roomID}/transcript?format=json|txt|md&limit=&offset=&download=
// Complexity: O(limit)
func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	if s.rooms == nil || s.transcripts == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "transcript store not available")
		return
	}

	roomID := chi.URLParam(r, "roomID")
	rm, ok := s.rooms.Get(roomID)
	if !ok {
		writeRoomErr(w, roomerr.RoomNotFound(roomID))
		return
	}

	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = "json"
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, string(roomerr.CodeInvalidInput), "invalid limit")
			return
		}
		limit = n
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, string(roomerr.CodeInvalidInput), "invalid offset")
			return
		}
		offset = n
	}
	download := q.Get("download") == "true"

	page := s.transcripts.GetEntries(roomID, limit, offset, "")
	summaries := s.transcripts.GetSummaries(roomID)

	name := sanitizeFilename(rm.Snapshot().Name)

	switch format {
	case "txt":
		body := renderTranscriptText(page, summaries)
		s.writeTranscriptFile(w, "text/plain; charset=utf-8", name+".txt", download, []byte(body))
	case "md":
		body := renderTranscriptMarkdown(page, summaries)
		s.writeTranscriptFile(w, "text/markdown; charset=utf-8", name+".md", download, []byte(body))
	case "json":
		type transcriptResponse struct {
			Entries   []transcript.Entry   `json:"entries"`
			Summaries []transcript.Summary `json:"summaries"`
			HasMore   bool                 `json:"hasMore"`
			Total     int                  `json:"total"`
		}
		body, err := json.Marshal(transcriptResponse{
			Entries: page.Entries, Summaries: summaries, HasMore: page.HasMore, Total: page.Total,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to encode transcript")
			return
		}
		s.writeTranscriptFile(w, "application/json; charset=utf-8", name+".json", download, body)
	default:
		writeError(w, http.StatusBadRequest, string(roomerr.CodeInvalidInput), "format must be json, txt, or md")
	}
}

func (s *Server) writeTranscriptFile(w http.ResponseWriter, contentType, filename string, download bool, body []byte) {
	w.Header().Set("Content-Type", contentType)
	if download {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func renderTranscriptText(page transcript.Page, summaries []transcript.Summary) string {
	var b strings.Builder
	for _, e := range page.Entries {
		fmt.Fprintf(&b, "[%s] %s: %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Speaker, e.Content)
	}
	for _, sum := range summaries {
		fmt.Fprintf(&b, "\n--- summary (%s) ---\n%s\n", sum.Timestamp.Format("2006-01-02 15:04:05"), sum.Content)
	}
	return b.String()
}

func renderTranscriptMarkdown(page transcript.Page, summaries []transcript.Summary) string {
	var b strings.Builder
	b.WriteString("# Transcript\n\n")
	for _, e := range page.Entries {
		fmt.Fprintf(&b, "- **%s** (%s): %s\n", e.Speaker, e.Timestamp.Format("15:04:05"), e.Content)
	}
	if len(summaries) > 0 {
		b.WriteString("\n## Summaries\n\n")
		for _, sum := range summaries {
			fmt.Fprintf(&b, "### %s\n\n%s\n\n", sum.Timestamp.Format("2006-01-02 15:04:05"), sum.Content)
			for _, bullet := range sum.BulletPoints {
				fmt.Fprintf(&b, "- %s\n", bullet)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
