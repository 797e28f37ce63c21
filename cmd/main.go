package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/satriahrh/sidechain/adapters"
	"github.com/satriahrh/sidechain/adapters/backend"
	"github.com/satriahrh/sidechain/adapters/device"
	"github.com/satriahrh/sidechain/adapters/llm"
	"github.com/satriahrh/sidechain/adapters/mongo"
	"github.com/satriahrh/sidechain/adapters/stt"
	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/domain/repositories"
	"github.com/satriahrh/sidechain/internal/api"
	"github.com/satriahrh/sidechain/internal/config"
	"github.com/satriahrh/sidechain/internal/ducking"
	"github.com/satriahrh/sidechain/internal/metrics"
	"github.com/satriahrh/sidechain/internal/websocket"
	"github.com/satriahrh/sidechain/usecase"
)

const shutdownTimeout = 10 * time.Second

// mockFramesPerSegment makes the mock recognizer finish a phrase every 3s
const mockFramesPerSegment = 30

// chunkStore is what the session writes to and the API reads from
type chunkStore interface {
	repositories.ChunkRepository
	api.ChunkLister
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	for _, warning := range cfg.Warnings {
		logger.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, logger)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("Session stopped")
	case errors.Is(err, domain.ErrEndOfStream):
		logger.Info("Audio source finished")
	default:
		logger.Fatal("Session failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.NewMetrics()

	source := newAudioSource(cfg, logger)
	format, err := source.Open(ctx)
	if err != nil {
		return err
	}
	defer source.Close()

	session := cfg.Session(format)
	logger.Info("Session configured",
		zap.String("sessionID", session.ID),
		zap.Int("sampleRate", format.SampleRate),
		zap.Int("deviceChannels", format.Channels),
		zap.Bool("mono", session.Mono),
		zap.String("sttProvider", cfg.STT.Provider),
		zap.String("dispatchMode", cfg.Dispatch.Mode),
		zap.String("store", cfg.Store.Kind))

	chunks, records, closeStore, err := newStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	dispatcher, err := newDispatcher(ctx, cfg, session.ID, logger)
	if err != nil {
		return err
	}

	var ducker *ducking.Processor
	if cfg.Ducking.Enabled && !session.Mono {
		ducker, err = ducking.NewProcessor(cfg.Ducking.Config)
		if err != nil {
			return err
		}
	}

	hub := websocket.NewHub(logger)
	hubCtx, stopHub := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHub()
	go hub.Run(hubCtx)

	svc, err := usecase.NewSessionService(
		session,
		source,
		newSpeechToText(cfg, logger),
		chunks,
		dispatcher,
		ducker,
		hub,
		usecase.NewQuestionList(cfg.Flush.Questions),
		usecase.SessionConfig{
			QueueCapacity: cfg.Audio.QueueCapacity,
			Flush: usecase.FlushConfig{
				Interval:        cfg.Flush.Interval,
				DispatchTimeout: cfg.Dispatch.Timeout,
				FlushOnStop:     cfg.Flush.OnStop,
				AppendReplies:   cfg.Flush.AppendReplies,
			},
			Records: records,
		},
		m,
		logger,
	)
	if err != nil {
		return err
	}

	if cfg.HTTP.Addr != "" {
		e := newServer(api.Dependencies{
			Session:   svc,
			Chunks:    chunks,
			Hub:       hub,
			Metrics:   m,
			JWTSecret: cfg.Dispatch.JWTSecret,
		}, logger)

		go func() {
			if err := e.Start(cfg.HTTP.Addr); err != nil && err != http.ErrServerClosed {
				logger.Error("Status server failed", zap.Error(err))
			}
		}()
		logger.Info("Status server started", zap.String("addr", cfg.HTTP.Addr))

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := e.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Status server forced to shutdown", zap.Error(err))
			}
		}()
	}

	return svc.Run(ctx)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zapCfg.Level = level

	if cfg.Format == "console" {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return zapCfg.Build()
}

func newAudioSource(cfg *config.Config, logger *zap.Logger) repositories.AudioSource {
	if cfg.Audio.Source == config.SourceWAV {
		return device.NewWAVReader(cfg.Audio.WAVPath, 0, cfg.Audio.WAVRealtime, logger)
	}
	return device.NewMalgoReader(device.MalgoConfig{
		DeviceIndex: cfg.Audio.DeviceIndex,
		Channels:    cfg.Audio.Channels,
		SampleRate:  entities.DefaultSampleRate,
		BlockSize:   entities.DefaultAudioFormat(1).BlockSize,
		ReadTimeout: cfg.Audio.ReadTimeout,
	}, logger)
}

func newSpeechToText(cfg *config.Config, logger *zap.Logger) repositories.SpeechToText {
	switch cfg.STT.Provider {
	case config.ProviderGoogle:
		return stt.NewGoogleSpeechToText(logger)
	case config.ProviderMock:
		return stt.NewMockSpeechToText(nil, mockFramesPerSegment, logger)
	default:
		return stt.NewAssemblyAISpeechToText(stt.AssemblyAIConfig{
			APIKey:      cfg.STT.AssemblyAIAPIKey,
			FormatTurns: cfg.STT.FormatTurns,
		}, logger)
	}
}

func newStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (chunkStore, repositories.SessionRepository, func(), error) {
	if cfg.Store.Kind == config.StoreMemory {
		return adapters.NewMemoryChunkRepository(), adapters.NewMemorySessionRepository(), func() {}, nil
	}

	client, err := mongo.NewClient(ctx, mongo.Config{
		URI:      cfg.Store.MongoURI,
		Database: cfg.Store.MongoDatabase,
	}, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	repo := mongo.NewChunkRepository(client.Database, logger)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("Failed to ensure chunk indexes", zap.Error(err))
	}

	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		client.Close(closeCtx)
	}
	return repo, mongo.NewSessionRepository(client.Database, logger), closeFn, nil
}

func newDispatcher(ctx context.Context, cfg *config.Config, sessionID string, logger *zap.Logger) (repositories.Dispatcher, error) {
	if cfg.Dispatch.Mode == config.DispatchGemini {
		return llm.NewGeminiDispatcher(ctx, llm.GeminiConfig{
			APIKey: cfg.Dispatch.GeminiAPIKey,
			Model:  cfg.Dispatch.GeminiModel,
		}, logger)
	}
	return backend.NewHTTPDispatcher(backend.Config{
		URL:       cfg.Dispatch.BackendURL,
		Timeout:   cfg.Dispatch.Timeout,
		JWTSecret: cfg.Dispatch.JWTSecret,
		SessionID: sessionID,
	}, logger), nil
}

func newServer(deps api.Dependencies, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogMethod: true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("HTTP request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, deps, logger)
	return e
}
