package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Room metrics
	RoomsCreated   *prometheus.CounterVec
	RoomsActive    *prometheus.GaugeVec
	RoomParticipants *prometheus.GaugeVec
	RoomClosed     *prometheus.CounterVec

	// Signaling metrics
	SignalingConnections   *prometheus.GaugeVec
	SignalingMessagesTotal *prometheus.CounterVec
	SignalingDroppedPeers  *prometheus.CounterVec
	SignalingSendQueueSize *prometheus.HistogramVec

	// Presence metrics
	PresenceBroadcastsSuppressed *prometheus.CounterVec
	PresenceBroadcastsTotal     *prometheus.CounterVec

	// Turn queue metrics
	TurnQueueDepth        *prometheus.GaugeVec
	TurnQueueGrantedTotal *prometheus.CounterVec
	TurnQueueExpiredTotal *prometheus.CounterVec
	TurnQueueRejectedTotal *prometheus.CounterVec
	TurnWaitDuration      *prometheus.HistogramVec

	// AI orchestrator metrics
	AIStateTransitions   *prometheus.CounterVec
	AIResponseDuration   *prometheus.HistogramVec
	AIAudioFramesDropped *prometheus.CounterVec
	AISessionErrors      *prometheus.CounterVec
	AIActiveSessions     *prometheus.GaugeVec

	// Interrupt metrics
	InterruptsRequested *prometheus.CounterVec
	InterruptsRejected  *prometheus.CounterVec
	InterruptLatency    *prometheus.HistogramVec

	// Audio pipeline (VAD) metrics
	VADSpeechStarts   *prometheus.CounterVec
	VADFramesDropped  *prometheus.CounterVec
	VADEmptyRoomDrops *prometheus.CounterVec

	// Transcript / summarizer metrics
	TranscriptEntriesTotal *prometheus.CounterVec
	TranscriptEvictions    *prometheus.CounterVec
	SummariesGenerated     *prometheus.CounterVec
	SummaryLatency         *prometheus.HistogramVec
	SummaryErrors          *prometheus.CounterVec

	// Search bridge metrics
	SearchCallsTotal   *prometheus.CounterVec
	SearchCallDuration *prometheus.HistogramVec
	SearchTimeouts     *prometheus.CounterVec

	// Cache metrics
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec
	CacheSize      *prometheus.GaugeVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
// Naming convention: roomvoice_<subsystem>_<metric>_<unit>
func NewMetrics() *Metrics {
	return &Metrics{
		RoomsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_rooms_created_total",
				Help: "Total number of rooms created",
			},
			[]string{},
		),
		RoomsActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomvoice_rooms_active",
				Help: "Number of rooms not in the closed state",
			},
			[]string{"status"},
		),
		RoomParticipants: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomvoice_room_participants",
				Help: "Current participant count for a room",
			},
			[]string{"room_id"},
		),
		RoomClosed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_rooms_closed_total",
				Help: "Total number of rooms closed, by reason",
			},
			[]string{"reason"}, // explicit, idle_sweep, fatal
		),

		SignalingConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomvoice_signaling_connections",
				Help: "Number of open signaling websocket connections",
			},
			[]string{},
		),
		SignalingMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_signaling_messages_total",
				Help: "Total signaling messages processed",
			},
			[]string{"event", "direction"}, // direction: inbound, outbound
		),
		SignalingDroppedPeers: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_signaling_dropped_peers_total",
				Help: "Total peers dropped due to send backpressure",
			},
			[]string{"room_id"},
		),
		SignalingSendQueueSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomvoice_signaling_send_queue_depth",
				Help:    "Outbound send channel depth observed at enqueue time",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
			[]string{},
		),

		PresenceBroadcastsSuppressed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_presence_broadcasts_suppressed_total",
				Help: "Presence broadcasts suppressed because merged state was unchanged",
			},
			[]string{"room_id"},
		),
		PresenceBroadcastsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_presence_broadcasts_total",
				Help: "Presence broadcasts sent to a room",
			},
			[]string{"room_id"},
		),

		TurnQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomvoice_turn_queue_depth",
				Help: "Current queued turn-request count for a room",
			},
			[]string{"room_id"},
		),
		TurnQueueGrantedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_turn_queue_granted_total",
				Help: "Total turns granted",
			},
			[]string{"room_id"},
		),
		TurnQueueExpiredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_turn_queue_expired_total",
				Help: "Total queued turn requests discarded due to expiry",
			},
			[]string{"room_id"},
		),
		TurnQueueRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_turn_queue_rejected_total",
				Help: "Total enqueue attempts rejected, by reason",
			},
			[]string{"room_id", "reason"}, // queue_full, max_attempts
		),
		TurnWaitDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomvoice_turn_wait_duration_milliseconds",
				Help:    "Time a request waited in queue before being granted",
				Buckets: []float64{50, 100, 250, 500, 1000, 5000, 15000, 30000},
			},
			[]string{"room_id"},
		),

		AIStateTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_ai_state_transitions_total",
				Help: "Total RoomAIState transitions",
			},
			[]string{"from", "to"},
		),
		AIResponseDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomvoice_ai_response_duration_milliseconds",
				Help:    "Wall-clock duration of speaking state per response",
				Buckets: []float64{100, 500, 1000, 2500, 5000, 10000, 30000},
			},
			[]string{"room_id"},
		),
		AIAudioFramesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_ai_audio_frames_dropped_total",
				Help: "Outbound AI audio frames dropped due to full channel",
			},
			[]string{"room_id"},
		),
		AISessionErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_ai_session_errors_total",
				Help: "Provider session errors, by kind",
			},
			[]string{"kind"},
		),
		AIActiveSessions: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomvoice_ai_active_sessions",
				Help: "Number of currently open provider sessions",
			},
			[]string{},
		),

		InterruptsRequested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_interrupts_requested_total",
				Help: "Total interrupt requests",
			},
			[]string{"room_id"},
		),
		InterruptsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_interrupts_rejected_total",
				Help: "Total interrupt requests rejected, by reason",
			},
			[]string{"room_id", "reason"},
		),
		InterruptLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomvoice_interrupt_latency_milliseconds",
				Help:    "Time from interrupt request to idle-state broadcast",
				Buckets: []float64{10, 25, 50, 100, 200, 500},
			},
			[]string{"room_id"},
		),

		VADSpeechStarts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_vad_speech_starts_total",
				Help: "Total silence-to-speech transitions detected",
			},
			[]string{"room_id"},
		),
		VADFramesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_vad_frames_dropped_total",
				Help: "Frames dropped by the noise gate",
			},
			[]string{"room_id"},
		),
		VADEmptyRoomDrops: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_vad_empty_room_drops_total",
				Help: "Frames dropped at ingress because the room had zero non-AI peers",
			},
			[]string{"room_id"},
		),

		TranscriptEntriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_transcript_entries_total",
				Help: "Total transcript entries appended",
			},
			[]string{"room_id", "type"},
		),
		TranscriptEvictions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_transcript_evictions_total",
				Help: "Total transcript entries evicted from the ring",
			},
			[]string{"room_id"},
		),
		SummariesGenerated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_summaries_generated_total",
				Help: "Total transcript summaries generated",
			},
			[]string{"room_id"},
		),
		SummaryLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomvoice_summary_latency_milliseconds",
				Help:    "LLM summarization call latency",
				Buckets: []float64{200, 500, 1000, 2500, 5000, 10000, 30000},
			},
			[]string{},
		),
		SummaryErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_summary_errors_total",
				Help: "Total summarization LLM call failures",
			},
			[]string{"room_id"},
		),

		SearchCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_search_calls_total",
				Help: "Total search tool invocations, by outcome",
			},
			[]string{"outcome"}, // success, error, timeout
		),
		SearchCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomvoice_search_call_duration_milliseconds",
				Help:    "Search provider HTTP call duration",
				Buckets: []float64{50, 100, 250, 500, 1000, 2500, 10000},
			},
			[]string{},
		),
		SearchTimeouts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_search_timeouts_total",
				Help: "Total search calls that exceeded the tool timeout",
			},
			[]string{},
		),

		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_cache_hits_total",
				Help: "Total cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_cache_misses_total",
				Help: "Total cache misses",
			},
			[]string{"cache_type"},
		),
		CacheEvictions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_cache_evictions_total",
				Help: "Total cache evictions",
			},
			[]string{"cache_type", "reason"},
		),
		CacheSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomvoice_cache_size_entries",
				Help: "Current number of entries in cache",
			},
			[]string{"cache_type"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomvoice_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomvoice_http_request_duration_milliseconds",
				Help:    "HTTP request duration in milliseconds",
				Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomvoice_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
	}
}
