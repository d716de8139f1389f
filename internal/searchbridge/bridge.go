// Package searchbridge implements the Search Function-Call Bridge (C12):
// executes search/video-summary tool calls requested by the voice provider
// and feeds the JSON result back through an adapter callback, never calling
// back into the orchestrator synchronously.
package searchbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomvoice/server/internal/cache"
	"github.com/roomvoice/server/internal/observability"
	"github.com/roomvoice/server/internal/roomerr"
)

// OutputSink delivers a tool's JSON result back to the provider adapter:
// sendFunctionOutput(roomId, callId, json).
type OutputSink func(roomID, callID string, result map[string]any)

// Bridge dispatches registered tool calls against the upstream search API.
type Bridge struct {
	httpClient *http.Client
	cfg        Config
	cache      *cache.LRU // optional; nil disables result caching
	cacheTTL   time.Duration
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// New constructs a Bridge. cfg.Timeout governs the 10s tool timeout; the
// HTTP client itself carries no timeout of its own since each attempt is
// bounded by the per-call context instead. resultCache is optional — pass
// nil to disable caching of tool results across calls.
func New(cfg Config, resultCache *cache.LRU, cacheTTL time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *Bridge {
	if cfg.TopNResults <= 0 {
		cfg.TopNResults = defaultTopNResults
	}
	if resultCache != nil && metrics != nil {
		resultCache.SetMetrics(metrics, "search_results")
	}
	return &Bridge{
		httpClient: &http.Client{},
		cfg:        cfg,
		cache:      resultCache,
		cacheTTL:   cacheTTL,
		logger:     logger.With().Str("component", "search_bridge").Logger(),
		metrics:    metrics,
	}
}

// Dispatch executes call in its own goroutine and delivers the result to
// sink once ready (success, tool error, or tool_timeout). It returns
// immediately; callers must not block waiting on it.
func (b *Bridge) Dispatch(call Call, sink OutputSink) {
	go b.run(call, sink)
}

func (b *Bridge) cacheKey(call Call) string {
	return call.Name + ":" + fmt.Sprint(call.Args)
}

func (b *Bridge) run(call Call, sink OutputSink) {
	if b.cache != nil {
		if cached, ok := b.cache.Get(b.cacheKey(call)); ok {
			if b.metrics != nil {
				b.metrics.SearchCallsTotal.WithLabelValues("cache_hit").Inc()
			}
			sink(call.RoomID, call.CallID, cached.(map[string]any))
			return
		}
	}

	timeout := b.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "searchbridge.execute", observability.Attrs{
		"tool":    call.Name,
		"room_id": call.RoomID,
	})
	defer span.End()

	start := time.Now()
	result, err := b.execute(ctx, call)
	latency := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(observability.StatusError, err.Error())
	}

	outcome := "success"
	switch {
	case err == nil:
		if b.cache != nil {
			b.cache.Set(b.cacheKey(call), result, b.cacheTTL)
		}
	case ctx.Err() == context.DeadlineExceeded:
		outcome = "timeout"
		if b.metrics != nil {
			b.metrics.SearchTimeouts.WithLabelValues().Inc()
		}
		b.logger.Warn().Str("room_id", call.RoomID).Str("tool", call.Name).Msg("tool call timed out")
		result = map[string]any{"error": "tool_timeout"}
	default:
		outcome = "error"
		b.logger.Warn().Err(err).Str("room_id", call.RoomID).Str("tool", call.Name).Msg("tool call failed")
		result = map[string]any{"error": err.Error()}
	}

	if b.metrics != nil {
		b.metrics.SearchCallsTotal.WithLabelValues(outcome).Inc()
		b.metrics.SearchCallDuration.WithLabelValues().Observe(float64(latency.Milliseconds()))
	}

	sink(call.RoomID, call.CallID, result)
}

func (b *Bridge) execute(ctx context.Context, call Call) (map[string]any, error) {
	switch call.Name {
	case toolWebSearch:
		return b.webSearch(ctx, call.Args)
	case toolVideoSummary:
		return b.videoSummary(ctx, call.Args)
	default:
		return nil, roomerr.InvalidInput(fmt.Sprintf("unregistered tool %q", call.Name))
	}
}

func (b *Bridge) webSearch(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, roomerr.InvalidInput("webSearch requires a non-empty query")
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", fmt.Sprintf("%d", b.cfg.TopNResults))

	var resp searchResponse
	if err := b.call(ctx, q, &resp); err != nil {
		return nil, err
	}

	results := resp.Results
	if len(results) > b.cfg.TopNResults {
		results = results[:b.cfg.TopNResults]
	}

	out := make([]map[string]any, len(results))
	for i, r := range results {
		out[i] = map[string]any{"title": r.Title, "url": r.URL, "snippet": r.Snippet}
		if r.Source != "" {
			out[i]["source"] = r.Source
		}
	}
	return map[string]any{"results": out}, nil
}

func (b *Bridge) videoSummary(ctx context.Context, args map[string]any) (map[string]any, error) {
	videoURL, _ := args["url"].(string)
	if videoURL == "" {
		return nil, roomerr.InvalidInput("getVideoSummary requires a non-empty url")
	}

	q := url.Values{}
	q.Set("video_url", videoURL)

	var resp videoSummaryResponse
	if err := b.call(ctx, q, &resp); err != nil {
		return nil, err
	}
	return map[string]any{"summary": resp.Summary, "url": resp.URL}, nil
}

// call performs the single HTTP round trip to the search endpoint, retrying
// on 429/5xx with capped exponential backoff plus jitter. It never retries
// past ctx's deadline, so the 10s tool timeout always wins even mid-backoff.
func (b *Bridge) call(ctx context.Context, query url.Values, out any) error {
	maxRetries := b.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	base := b.cfg.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	cap_ := b.cfg.BackoffCap
	if cap_ <= 0 {
		cap_ = 10 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(base, cap_, attempt)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		status, err := b.doRequest(ctx, query, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if status != 0 && status != http.StatusTooManyRequests && status < 500 {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

// backoffDelay computes the attempt-th retry delay: base * 2^(attempt-1),
// capped, plus up to 1s of jitter.
func backoffDelay(base, cap_ time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt-1)
	if delay > cap_ || delay <= 0 {
		delay = cap_
	}
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return delay + jitter
}

func (b *Bridge) doRequest(ctx context.Context, query url.Values, out any) (int, error) {
	endpoint := b.cfg.Endpoint + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("searchbridge: create request: %w", err)
	}
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("searchbridge: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, fmt.Errorf("searchbridge: upstream returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("searchbridge: decode response: %w", err)
	}
	return resp.StatusCode, nil
}
