package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/meetbridge/internal/config"
	"github.com/ent0n29/meetbridge/internal/httpapi"
	"github.com/ent0n29/meetbridge/internal/meeting"
	"github.com/ent0n29/meetbridge/internal/observability"
	"github.com/ent0n29/meetbridge/internal/realtime"
	"github.com/ent0n29/meetbridge/internal/relay"
	"github.com/ent0n29/meetbridge/internal/room"
	"github.com/ent0n29/meetbridge/internal/session"
	"github.com/ent0n29/meetbridge/internal/storage"
	"github.com/ent0n29/meetbridge/internal/stt"
	"github.com/ent0n29/meetbridge/internal/transcript"
	"github.com/ent0n29/meetbridge/internal/tts"
	"github.com/ent0n29/meetbridge/internal/turn"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Registry
	Relay     *relay.Relay
	Turns     *turn.Manager
	Metrics   *observability.Metrics
	Providers ProviderInfo

	// Cleanup ends live sessions and releases external resources (DB, Redis, sockets).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *log.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = log.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var closers []func() error
	fail := func(err error) (*BuildResult, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		p, err := storage.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("storage init failed: %w", err))
		}
		pool = p
		closers = append(closers, func() error { pool.Close(); return nil })
		logger.Info("postgres storage enabled")
	}

	var store transcript.Store = transcript.NewStore(pool)
	if cfg.TranscriptRedactPII {
		store = transcript.NewRedactingStore(store)
	}
	closers = append(closers, store.Close)

	var catalog meeting.Catalog = meeting.NewInMemoryCatalog()
	if pool != nil {
		catalog = meeting.NewPostgresCatalog(pool)
	}
	if cfg.RedisURL != "" {
		rdb, err := meeting.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			// The cache is optional; lookups still work against the catalog.
			logger.Warn("redis unavailable, meeting cache disabled", "err", err)
		} else {
			catalog = meeting.NewCachedCatalog(catalog, rdb, cfg.MeetingCacheTTL, logger)
			logger.Info("redis meeting cache enabled")
		}
	}
	closers = append(closers, catalog.Close)

	providers, err := resolveProviders(ctx, cfg, metrics, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, providers.cleanup...)

	transcriber := stt.NewBatch(providers.recognizer, stt.BatchConfig{
		MinAudioBytes:     cfg.STTMinAudioBytes,
		DefaultSampleRate: cfg.STTDefaultSampleRate,
	}, metrics, logger)
	speech := tts.NewSynthesizer(providers.voice, tts.Config{
		DefaultVoice:  cfg.ElevenLabsVoiceID,
		DefaultFormat: cfg.SpeechFormat(),
	}, metrics, logger)

	audioRelay := relay.New(cfg.RelayBufferSize, logger)
	audioRelay.SetObserver(metrics.ObserveRelayChunk)

	publisher, err := newPublisher(cfg, audioRelay, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, publisher.Close)

	sessions := session.NewRegistry(cfg.SessionInactivityTimeout, logger)

	turns := turn.NewManager(turn.Deps{
		Sessions:    sessions,
		Transcriber: transcriber,
		Generator:   providers.generator,
		Synthesizer: speech,
		Publisher:   publisher,
		Transcripts: store,
		Catalog:     catalog,
		Metrics:     metrics,
		Logger:      logger,
		TurnTimeout: cfg.TurnTimeout,
		VoiceHint:   cfg.ElevenLabsVoiceID,
	})

	api := httpapi.New(httpapi.Deps{
		Config:      cfg,
		Sessions:    sessions,
		Relay:       audioRelay,
		Turns:       turns,
		Dialer:      newDialer(cfg, turns, metrics, logger),
		Transcriber: transcriber,
		Generator:   providers.generator,
		Speech:      speech,
		Transcripts: store,
		Catalog:     catalog,
		Metrics:     metrics,
		Logger:      logger,
	})
	sessions.SetEndHook(api.OnSessionEnd)

	logger.Info("providers resolved",
		"stt", providers.info.STT,
		"llm", providers.info.LLM,
		"tts", providers.info.TTS,
		"realtime_stt", providers.info.Realtime,
		"room_backend", cfg.RoomBackend,
		"tts_format", cfg.SpeechFormat(),
	)

	cleanup := func() error {
		sessions.EndAll()
		var errs []string
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return errors.New(strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Relay:     audioRelay,
		Turns:     turns,
		Metrics:   metrics,
		Providers: providers.info,
		Cleanup:   cleanup,
	}, nil
}

func newPublisher(cfg config.Config, r *relay.Relay, logger *log.Logger) (room.Publisher, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.RoomBackend), "rtp") {
		p, err := room.NewRTPPublisher(room.RTPConfig{
			Addr:        cfg.RoomRTPAddr,
			PayloadType: uint8(cfg.RoomRTPPayloadType),
			SampleRate:  cfg.RoomRTPSampleRate,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("rtp publisher init failed: %w", err)
		}
		return p, nil
	}
	return room.NewRelayPublisher(r), nil
}

// newDialer picks how a voice session hears the meeting: a streaming
// recognizer socket when enabled, otherwise local buffering with batch
// recognition on pauses.
func newDialer(cfg config.Config, turns *turn.Manager, metrics *observability.Metrics, logger *log.Logger) realtime.Dialer {
	if cfg.ElevenLabsRealtimeSTTEnabled {
		return &realtime.ElevenLabsDialer{
			Config: realtime.ElevenLabsConfig{
				APIKey:    cfg.ElevenLabsAPIKey,
				WSBaseURL: cfg.ElevenLabsWSBaseURL,
				ModelID:   cfg.ElevenLabsRealtimeSTTModel,
				Language:  cfg.STTLanguage,
			},
			CallbacksFor: func(meetingID string) realtime.Callbacks {
				return realtime.Callbacks{
					OnPartial: func(text string) {
						if m, ok := turns.Get(meetingID); ok {
							m.SetInterim(text)
						}
					},
					OnTranscript: func(text string) {
						go runFinal(turns, meetingID, text, logger)
					},
					OnError: func(code, detail string) {
						metrics.ObserveProviderError("elevenlabs_realtime", code)
						logger.Warn("realtime recognizer error", "meeting_id", meetingID, "code", code, "detail", detail)
					},
				}
			},
			Logger: logger,
		}
	}
	return &realtime.BufferedDialer{
		Config: realtime.BufferedConfig{
			SilenceGap:   cfg.STTSilenceGap,
			SilenceLevel: float64(cfg.STTSilenceRMS),
		},
		FlushFor: func(meetingID string) realtime.FlushFunc {
			return func(ctx context.Context, pcm []byte, sampleRate int) {
				m, ok := turns.Get(meetingID)
				if !ok {
					logger.Debug("buffered audio after session end dropped", "meeting_id", meetingID)
					return
				}
				if _, err := m.HandleAudio(ctx, pcm, sampleRate); err != nil {
					logger.Debug("buffered audio not turned into a turn", "meeting_id", meetingID, "err", err)
				}
			}
		},
	}
}

func runFinal(turns *turn.Manager, meetingID, text string, logger *log.Logger) {
	m, ok := turns.Get(meetingID)
	if !ok {
		logger.Debug("final transcript after session end dropped", "meeting_id", meetingID)
		return
	}
	if _, err := m.HandleFinal(context.Background(), text); err != nil {
		logger.Debug("final transcript not turned into a turn", "meeting_id", meetingID, "err", err)
	}
}
