package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"

	"github.com/roomvoice/server/internal/aiorchestrator"
	"github.com/roomvoice/server/internal/api"
	"github.com/roomvoice/server/internal/audiopipeline"
	"github.com/roomvoice/server/internal/auth"
	"github.com/roomvoice/server/internal/cache"
	"github.com/roomvoice/server/internal/config"
	"github.com/roomvoice/server/internal/interrupt"
	"github.com/roomvoice/server/internal/observability"
	"github.com/roomvoice/server/internal/personality"
	"github.com/roomvoice/server/internal/presence"
	"github.com/roomvoice/server/internal/provider"
	"github.com/roomvoice/server/internal/room"
	"github.com/roomvoice/server/internal/searchbridge"
	"github.com/roomvoice/server/internal/signaling"
	"github.com/roomvoice/server/internal/store/redis"
	"github.com/roomvoice/server/internal/summarizer"
	"github.com/roomvoice/server/internal/transcript"
	"github.com/roomvoice/server/internal/turnqueue"
	"github.com/roomvoice/server/pkg/version"
)

// presetVoices and presetTemperatures mirror personality's own preset
// defaults and are handed to the provider adapter, which exposes them
// through GetVoice/GetTemperature. Opening a session does not read them:
// the orchestrator takes each session's voice and temperature from the
// personality manager.
var presetVoices = map[string]string{
	"facilitator": "alloy",
	"assistant":   "alloy",
	"expert":      "onyx",
	"brainstorm":  "shimmer",
}

var presetTemperatures = map[string]float64{
	"facilitator": 0.6,
	"assistant":   0.5,
	"expert":      0.3,
	"brainstorm":  1.1,
}

func main() {
	cfg, err := config.Load("config.json")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	loggerCfg := observability.LoggerConfig{
		Level:        cfg.GetLogLevel(),
		Format:       cfg.Logging.Format,
		OutputPath:   cfg.Logging.OutputPath,
		ErrorPath:    cfg.Logging.ErrorPath,
		EnableCaller: cfg.Logging.EnableCaller,
		EnableStack:  cfg.Logging.EnableStack,
		Service:      "roomvoice-server",
		Version:      version.Version,
	}
	logger := observability.NewLogger(loggerCfg)

	logger.Info().
		Str("version", version.Version).
		Str("git_commit", version.GitCommit).
		Str("platform", version.Platform).
		Msg("starting room coordination engine")

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker(logger, version.Version)

	// --- Tracing (optional) ---
	shutdownTracer := func() {}
	if cfg.Tracing.Enabled {
		exporter, err := otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(cfg.Tracing.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			logger.Warn().Err(err).Msg("tracing exporter unavailable — spans will not be exported")
		} else {
			shutdown, err := observability.InitTracer("roomvoice-server", observability.WithSpanExporter(exporter))
			if err != nil {
				logger.Warn().Err(err).Msg("tracer init failed — spans will not be exported")
			} else {
				shutdownTracer = shutdown
				logger.Info().Str("otlp_endpoint", cfg.Tracing.OTLPEndpoint).Msg("tracing initialized")
			}
		}
	}

	// --- Infrastructure: Redis export sink (optional) ---
	var redisClient *redis.Client
	if cfg.Cache.Redis.Enabled {
		redisClient, err = redis.New(cfg.Cache.Redis, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("redis export sink unavailable — closed rooms will not be exported")
			redisClient = nil
		} else {
			health.RegisterCheck("redis", observability.RedisHealthCheck(redisClient.Ping))
			logger.Info().Msg("redis export sink initialized")
		}
	}

	// --- Search result cache (optional) ---
	var searchCache *cache.LRU
	if cfg.Cache.LRU.Enabled {
		searchCache = cache.NewLRU(cfg.Cache.LRU.MaxEntries)
	}

	// --- JWT Manager ---
	jwtManager, err := auth.NewJWTManager(cfg.Security.JWTSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create JWT manager")
	}

	// --- Core domain components ---
	rooms := room.NewStore(cfg.Room.RoomIDLength, cfg.Room.MinParticipants, cfg.Room.MaxParticipants, logger, metrics)
	health.RegisterCheck("room_store", observability.RoomStoreHealthCheck(func() error {
		rooms.List(room.Filter{})
		return nil
	}))
	transcripts := transcript.NewStore(0, logger, metrics)
	personas := personality.NewManager(personality.Config{
		DefaultPersonality:       personality.Preset(cfg.Personality.DefaultPersonality),
		DefaultVoice:             cfg.Personality.DefaultVoice,
		DefaultTemperature:       cfg.Personality.DefaultTemperature,
		MaxCustomInstructionsLen: cfg.Personality.MaxCustomInstructionsLen,
		MaxAdditionalContextLen:  cfg.Personality.MaxAdditionalContextLen,
	}, logger)

	// hub is built empty first: the turn queue processor and AI
	// orchestrator each need the hub itself as their callback target
	// (turnqueue.Notifier, aiorchestrator.FunctionCallHandler), so they
	// can only be constructed once the hub pointer exists. hub.Wire
	// attaches every dependency once they're all built.
	hub := signaling.NewEmpty(signaling.Config{}, logger, metrics)

	presenceTracker := presence.NewTracker(rooms, hub, presence.Config{
		DebounceWindow:                    cfg.Presence.DebounceWindow,
		AudioLevelEpsilon:                 cfg.Presence.AudioLevelEpsilon,
		HeartbeatInterval:                 cfg.Presence.HeartbeatInterval,
		IdleAfterMissedBeats:              cfg.Presence.IdleAfterMissedBeats,
		ActiveSpeakerMinBroadcastInterval: cfg.Presence.ActiveSpeakerMinBroadcastInterval,
	}, logger, metrics)

	turns := turnqueue.NewProcessor(hub, turnqueue.Config{
		MaxQueueSize:          cfg.TurnQueue.MaxQueueSize,
		DefaultTimeout:        cfg.TurnQueue.DefaultTimeout,
		PriorityTimeout:       cfg.TurnQueue.PriorityTimeout,
		PriorityBonus:         cfg.TurnQueue.PriorityBonus,
		MinTurnInterval:       cfg.TurnQueue.MinTurnInterval,
		MaxProcessingAttempts: cfg.TurnQueue.MaxProcessingAttempts,
		AutoAdvance:           cfg.TurnQueue.AutoAdvance,
	}, logger, metrics)

	var openaiClient *openai.Client
	if key := os.Getenv(cfg.Summarizer.APIKeyEnvVar); key != "" {
		openaiClient = openai.NewClient(key)
	} else {
		logger.Warn().Str("env_var", cfg.Summarizer.APIKeyEnvVar).Msg("summarizer API key not set — summaries will fail to generate")
	}
	summaries := summarizer.New(transcripts, hub, openaiClient, summarizer.Config{
		EntryThreshold: cfg.Summarizer.EntryThreshold,
		TimeThreshold:  cfg.Summarizer.TimeThreshold,
		TickInterval:   cfg.Summarizer.TickerInterval,
		Model:          cfg.Summarizer.LLMModel,
		RequestTimeout: cfg.Summarizer.LLMCallTimeout,
	}, logger, metrics)
	entrySink := signaling.NewEntrySink(transcripts, hub, summaries)

	interrupts := interrupt.NewHandler(interrupt.Config{
		Enabled:                cfg.Interrupt.Enabled,
		OwnerOnly:              cfg.Interrupt.OwnerOnly,
		ModeratorsCanInterrupt: cfg.Interrupt.ModeratorsCanInterrupt,
		InterruptCooldownMs:    int(cfg.Interrupt.Cooldown.Milliseconds()),
		MaxInterruptsPerMinute: cfg.Interrupt.MaxInterruptsPerMinute,
		LogAllEvents:           cfg.Interrupt.LogAllEvents,
	}, rooms, logger, metrics)

	search := searchbridge.New(searchbridge.Config{
		Endpoint:    cfg.Search.Endpoint,
		APIKey:      os.Getenv(cfg.Search.APIKeyEnvVar),
		Timeout:     cfg.Search.Timeout,
		MaxRetries:  cfg.Search.MaxRetries,
		BackoffBase: cfg.Search.BackoffBase,
		BackoffCap:  cfg.Search.BackoffCap,
		TopNResults: cfg.Search.TopNResults,
	}, searchCache, cfg.Cache.LRU.TTL, logger, metrics)
	if !cfg.Search.Enabled {
		logger.Info().Msg("search function-call bridge configured but disabled; web_search/getVideoSummary tools will error if invoked")
	}

	// --- Provider adapter (C5/C6) ---
	var adapter provider.Adapter
	switch cfg.AI.Provider {
	case "realtime":
		adapter = provider.NewRealtime(provider.RealtimeConfig{
			Endpoint: cfg.AI.Endpoint,
			APIKey:   os.Getenv(cfg.AI.APIKeyEnvVar),
			Voices:   presetVoices,
			Temps:    presetTemperatures,
			Cap:      provider.Capability{SupportedSampleRates: []int{24000}, AutoTranscribesInput: true},
		}, logger)
		logger.Info().Str("endpoint", cfg.AI.Endpoint).Msg("realtime provider adapter initialized")
	default:
		adapter = provider.NewMock(presetVoices, presetTemperatures, provider.Capability{SupportedSampleRates: []int{24000}, AutoTranscribesInput: true})
		logger.Info().Msg("mock provider adapter initialized")
	}

	ai := aiorchestrator.New(adapter, hub, turns, entrySink, personas, aiorchestrator.Config{
		LockDuringResponse:  cfg.AI.LockDuringResponse,
		OutboundAudioBuffer: cfg.AI.OutboundAudioQueue,
		SampleRateHz:        cfg.Audio.TargetSampleRate,
	}, logger, metrics, hub.OnFunctionCall)
	health.RegisterCheck("provider_session", observability.ProviderSessionHealthCheck(ai.HealthStatus))

	audioCfg := audiopipeline.Config{
		TargetSampleRateHz: cfg.Audio.TargetSampleRate,
		NormalizeEnabled:   true,
		TargetOutputLevel:  cfg.Audio.TargetOutputLevel,
		MaxGain:            cfg.Audio.MaxGain,
		NoiseGateThreshold: cfg.Audio.NoiseGateThreshold,
		EnergyThreshold:    cfg.Audio.EnergyThreshold,
		SpeechThreshold:    cfg.Audio.SpeechThreshold,
		PrefixPaddingMs:    cfg.Audio.PrefixPaddingMs,
		SilenceDurationMs:  cfg.Audio.SilenceDurationMs,
	}

	hub.Wire(signaling.Deps{
		Rooms:       rooms,
		Presence:    presenceTracker,
		Turns:       turns,
		AI:          ai,
		Interrupts:  interrupts,
		Transcripts: transcripts,
		Summaries:   summaries,
		Search:      search,
		Personas:    personas,
		JWT:         jwtManager,
		AudioCfg:    audioCfg,
	})

	logger.Info().Msg("all room-coordination components wired")

	// --- API Server ---
	apiServer := api.New(cfg.Server, rooms, transcripts, personas, hub, jwtManager, health, metrics, logger)

	// --- Idle room sweep ---
	sweepDone := make(chan struct{})
	go runIdleSweep(rooms, transcripts, hub, redisClient, cfg.Room.IdleSweepInterval, cfg.Room.IdleTimeout, logger, sweepDone)

	// Start HTTP server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("room coordination engine started")

	// --- Graceful shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, initiating shutdown")
	}

	logger.Info().Dur("timeout", cfg.Server.ShutdownTimeout).Msg("starting graceful shutdown — draining in-flight requests")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	close(sweepDone)

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error — some requests may not have completed")
	} else {
		logger.Info().Msg("HTTP server drained and stopped")
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		} else {
			logger.Info().Msg("redis connection closed")
		}
	}

	shutdownTracer()

	logger.Info().Msg("room coordination engine shut down successfully")
}

// roomExport is the JSON shape written to the export sink for a closed room.
type roomExport struct {
	Room      room.Snapshot        `json:"room"`
	Entries   []transcript.Entry   `json:"entries"`
	Summaries []transcript.Summary `json:"summaries"`
	ClosedAt  time.Time            `json:"closedAt"`
}

// runIdleSweep periodically closes idle rooms, broadcasts the closure to
// any still-connected sockets, and fire-and-forgets each closed room's
// final transcript to the export sink. It runs until done is closed.
func runIdleSweep(
	rooms *room.Store,
	transcripts *transcript.Store,
	hub *signaling.Hub,
	exportSink *redis.Client,
	interval, idleTimeout time.Duration,
	logger zerolog.Logger,
	done <-chan struct{},
) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			closedIDs := rooms.SweepIdle(idleTimeout)
			for _, id := range closedIDs {
				hub.BroadcastRoomClosed(id, "idle_sweep")
				exportClosedRoom(rooms, transcripts, exportSink, id, logger)
			}
		}
	}
}

func exportClosedRoom(rooms *room.Store, transcripts *transcript.Store, exportSink *redis.Client, roomID string, logger zerolog.Logger) {
	if exportSink == nil {
		return
	}
	rm, ok := rooms.Get(roomID)
	if !ok {
		return
	}
	page := transcripts.GetEntries(roomID, 0, 0, "")
	snap := rm.Snapshot()
	snap.Participants = nil
	payload, err := json.Marshal(roomExport{
		Room:      snap,
		Entries:   page.Entries,
		Summaries: transcripts.GetSummaries(roomID),
		ClosedAt:  time.Now(),
	})
	if err != nil {
		logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to marshal room export")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exportSink.ExportRoom(ctx, roomID, payload); err != nil {
		logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to export closed room")
	}
}
