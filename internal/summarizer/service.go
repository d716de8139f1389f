package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/roomvoice/server/internal/observability"
	"github.com/roomvoice/server/internal/roomerr"
	"github.com/roomvoice/server/internal/transcript"
)

// TranscriptSource is the subset of transcript.Store the summarizer reads
// from and writes summaries through.
type TranscriptSource interface {
	GetEntries(roomID string, limit, offset int, beforeID string) transcript.Page
	LastEvictedAt(roomID string) (time.Time, bool)
	NewestEntryAt(roomID string) (time.Time, bool)
	EntryCount(roomID string) int
	AppendSummary(summary transcript.Summary)
	GetSummaries(roomID string) []transcript.Summary
}

// Broadcaster is implemented by the Signaling Hub.
type Broadcaster interface {
	BroadcastSummary(roomID string, summary transcript.Summary)
}

type roomTriggerState struct {
	mu               sync.Mutex
	entriesSinceLast int
	lastSummaryAt    time.Time
}

// Service implements the Summarization Service (C10): a 30s ticker that
// evaluates every room against entryThreshold/timeThreshold and requests a
// structured summary from an LLM when triggered.
type Service struct {
	transcripts TranscriptSource
	broadcaster Broadcaster
	client      *openai.Client
	cfg         Config
	logger      zerolog.Logger
	metrics     *observability.Metrics

	mu     sync.Mutex
	states map[string]*roomTriggerState

	stop     chan struct{}
	stopOnce sync.Once
}

// New constructs a Service. client may be a *openai.Client built against
// any OpenAI-compatible endpoint via openai.ClientConfig.
func New(transcripts TranscriptSource, broadcaster Broadcaster, client *openai.Client, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		transcripts: transcripts,
		broadcaster: broadcaster,
		client:      client,
		cfg:         cfg,
		logger:      logger.With().Str("component", "summarizer").Logger(),
		metrics:     metrics,
		states:      make(map[string]*roomTriggerState),
		stop:        make(chan struct{}),
	}
}

func (s *Service) stateFor(roomID string) *roomTriggerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[roomID]
	if !ok {
		st = &roomTriggerState{}
		s.states[roomID] = st
	}
	return st
}

// NoteEntryAppended increments the room's entry counter since its last
// summary. Called by the Context Manager (or its caller) on every Append;
// kept separate from Append itself so transcript has no dependency on
// this package.
func (s *Service) NoteEntryAppended(roomID string) {
	st := s.stateFor(roomID)
	st.mu.Lock()
	st.entriesSinceLast++
	st.mu.Unlock()
}

// Start runs the 30s-granularity ticker in a background goroutine. It
// evaluates every room tracked in knownRooms against the configured
// thresholds.
func (s *Service) Start(ctx context.Context, knownRooms func() []string) {
	go func() {
		ticker := time.NewTicker(s.cfg.tickInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, roomID := range knownRooms() {
					s.evaluate(ctx, roomID)
				}
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the background ticker. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Service) evaluate(ctx context.Context, roomID string) {
	st := s.stateFor(roomID)
	st.mu.Lock()
	entries := st.entriesSinceLast
	last := st.lastSummaryAt
	st.mu.Unlock()

	triggered := entries >= s.cfg.entryThreshold()
	if !triggered && !last.IsZero() {
		triggered = time.Since(last) >= s.cfg.timeThreshold()
	}
	if !triggered && last.IsZero() {
		// Never summarized: fall back to time since the room's newest
		// entry so a quiet room eventually gets a first summary.
		if newest, ok := s.transcripts.NewestEntryAt(roomID); ok {
			triggered = time.Since(newest) >= s.cfg.timeThreshold()
		}
	}
	if !triggered {
		return
	}

	if _, err := s.SummarizeNow(ctx, roomID); err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("scheduled summarization failed")
	}
}

// SummarizeNow forces summary generation for roomID regardless of
// trigger state. Returns nil, nil on an empty snapshot (nothing to
// summarize) without invoking the LLM.
func (s *Service) SummarizeNow(ctx context.Context, roomID string) (*transcript.Summary, error) {
	coverageStart, ok := s.coverageStart(roomID)
	if !ok {
		return nil, nil
	}

	page := s.transcripts.GetEntries(roomID, 0, 0, "")
	snapshot := filterSince(page.Entries, coverageStart)
	if len(snapshot) == 0 {
		return nil, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.requestTimeout())
	defer cancel()

	start := time.Now()
	structured, err := s.requestSummary(reqCtx, snapshot)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SummaryErrors.WithLabelValues(roomID).Inc()
		}
		return nil, roomerr.Wrap(roomerr.CodeProviderError, "summary LLM call failed", err)
	}
	if s.metrics != nil {
		s.metrics.SummaryLatency.WithLabelValues(roomID).Observe(float64(time.Since(start).Milliseconds()))
	}

	summary := transcript.Summary{
		ID:                uuid.NewString(),
		RoomID:            roomID,
		Timestamp:         time.Now(),
		Content:           structured.Summary,
		BulletPoints:      structured.BulletPoints,
		EntriesSummarized: len(snapshot),
		CoverageStart:     snapshot[0].Timestamp,
		CoverageEnd:       snapshot[len(snapshot)-1].Timestamp,
	}
	s.transcripts.AppendSummary(summary)
	if s.broadcaster != nil {
		s.broadcaster.BroadcastSummary(roomID, summary)
	}

	st := s.stateFor(roomID)
	st.mu.Lock()
	st.entriesSinceLast = 0
	st.lastSummaryAt = time.Now()
	st.mu.Unlock()

	return &summary, nil
}

// coverageStart resolves where the next summary's snapshot begins: the
// end of the last summary, the last evicted entry's timestamp, or the
// zero time if neither exists (summarize from the beginning).
func (s *Service) coverageStart(roomID string) (time.Time, bool) {
	if s.transcripts.EntryCount(roomID) == 0 {
		return time.Time{}, false
	}
	summaries := s.transcripts.GetSummaries(roomID)
	if len(summaries) > 0 {
		return summaries[len(summaries)-1].CoverageEnd, true
	}
	if evicted, ok := s.transcripts.LastEvictedAt(roomID); ok {
		return evicted, true
	}
	return time.Time{}, true
}

func filterSince(entries []transcript.Entry, since time.Time) []transcript.Entry {
	// entries is newest-first; collect those strictly after since, then
	// reverse back to chronological order for coverage bookkeeping.
	var kept []transcript.Entry
	for _, e := range entries {
		if e.Timestamp.After(since) {
			kept = append(kept, e)
		}
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

const summarizerSystemPrompt = `You summarize a voice conversation transcript. Respond with strict JSON matching {"summary": string, "bulletPoints": [string], "topics": [string], "decisions": [string], "actionItems": [string]}. Keep the summary under 150 words.`

func (s *Service) requestSummary(ctx context.Context, entries []transcript.Entry) (*structuredSummary, error) {
	ctx, span := observability.StartSpan(ctx, "summarizer.requestSummary", observability.Attrs{
		"entry_count": len(entries),
		"model":       s.cfg.model(),
	})
	defer span.End()

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", e.Speaker, e.Content)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.model(),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarizerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(observability.StatusError, err.Error())
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("summarizer: empty completion")
	}

	var structured structuredSummary
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &structured); err != nil {
		return nil, fmt.Errorf("summarizer: malformed JSON response: %w", err)
	}
	return &structured, nil
}
