package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/domain/repositories"
	"github.com/satriahrh/sidechain/internal/ducking"
	"github.com/satriahrh/sidechain/internal/metrics"
	"github.com/satriahrh/sidechain/internal/queue"
)

// SessionConfig holds the pipeline tuning knobs
type SessionConfig struct {
	QueueCapacity int
	Flush         FlushConfig

	// Records, when set, keeps the session's start and end next to its chunks
	Records repositories.SessionRepository
}

// SessionService wires the capture loop, one stream worker per channel and
// the flush service for a single session.
type SessionService struct {
	session     *entities.Session
	capture     *CaptureService
	workers     []*StreamWorker
	flush       *FlushService
	accumulator *TranscriptAccumulator
	questions   *QuestionList
	records     repositories.SessionRepository
	logger      *zap.Logger
}

// NewSessionService builds the pipeline. The source must already be open:
// its format is the one recorded in session. ducker and live may be nil.
func NewSessionService(
	session *entities.Session,
	source repositories.AudioSource,
	stt repositories.SpeechToText,
	chunks repositories.ChunkRepository,
	dispatcher repositories.Dispatcher,
	ducker *ducking.Processor,
	live LivePublisher,
	questions *QuestionList,
	cfg SessionConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*SessionService, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if cfg.QueueCapacity < 1 {
		cfg.QueueCapacity = 10
	}
	if questions == nil {
		questions = NewQuestionList(nil)
	}

	logger = logger.With(zap.String("sessionID", session.ID))
	accumulator := NewTranscriptAccumulator()

	channels := session.StreamChannels()
	queues := make([]*queue.Queue[[]byte], len(channels))
	workers := make([]*StreamWorker, len(channels))
	for i, ch := range channels {
		queues[i] = queue.New[[]byte](cfg.QueueCapacity)
		workers[i] = NewStreamWorker(ch, session, stt, queues[i], chunks, accumulator, live, m, logger)
	}

	capture, err := NewCaptureService(session, source, ducker, queues, m, logger)
	if err != nil {
		return nil, err
	}

	flush := NewFlushService(session, accumulator, questions, dispatcher, chunks, live, cfg.Flush, m, logger)

	return &SessionService{
		session:     session,
		capture:     capture,
		workers:     workers,
		flush:       flush,
		accumulator: accumulator,
		questions:   questions,
		records:     cfg.Records,
		logger:      logger,
	}, nil
}

// Run runs the session until ctx is cancelled, the source ends or fails, or
// every channel has died. A failed channel never stops the others.
// Run returns ctx's error on cancellation and domain.ErrEndOfStream when a
// finite source is exhausted.
func (s *SessionService) Run(ctx context.Context) error {
	s.logger.Info("Session started",
		zap.Ints("channels", s.session.StreamChannels()),
		zap.Bool("mono", s.session.Mono))
	s.recordStart(ctx)

	// The flush service outlives the workers so the final flush sees every
	// segment they delivered while shutting down.
	flushCtx, stopFlush := context.WithCancel(context.WithoutCancel(ctx))
	defer stopFlush()
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		_ = s.flush.Run(flushCtx)
	}()

	var g errgroup.Group
	for _, w := range s.workers {
		g.Go(func() error {
			// Worker errors are contained to their channel
			_ = w.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return s.capture.Run(ctx)
	})

	err := g.Wait()

	stopFlush()
	<-flushDone

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrEndOfStream):
		s.logger.Info("Audio source exhausted, session finished")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		s.logger.Info("Session stopped")
	default:
		s.logger.Error("Session failed", zap.Error(err))
	}
	s.recordFinish(ctx, err)
	return err
}

func (s *SessionService) recordStart(ctx context.Context) {
	if s.records == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.records.Start(ctx, s.session); err != nil {
		s.logger.Error("Failed to record session start", zap.Error(err))
	}
}

func (s *SessionService) recordFinish(ctx context.Context, err error) {
	if s.records == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if ferr := s.records.Finish(ctx, s.session.ID, time.Now(), EndReason(err)); ferr != nil {
		s.logger.Error("Failed to record session end", zap.Error(ferr))
	}
}

// EndReason names how a session ended for its record
func EndReason(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, domain.ErrEndOfStream):
		return "end_of_stream"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "stopped"
	default:
		return err.Error()
	}
}

// Flush runs one flush immediately
func (s *SessionService) Flush(ctx context.Context) FlushResult {
	return s.flush.Flush(ctx)
}

// AddQuestion adds a question to the list sent with every dispatch
func (s *SessionService) AddQuestion(question string) bool {
	return s.questions.Add(question)
}

// Session returns the immutable session configuration
func (s *SessionService) Session() *entities.Session {
	return s.session
}

// SessionStatus is a point-in-time view of the whole pipeline
type SessionStatus struct {
	SessionID         string               `json:"session_id"`
	StartedAt         time.Time            `json:"started_at"`
	Uptime            string               `json:"uptime"`
	Format            entities.AudioFormat `json:"format"`
	Mono              bool                 `json:"mono"`
	Channels          []int                `json:"channels"`
	BlocksCaptured    int64                `json:"blocks_captured"`
	DuckingEnabled    bool                 `json:"ducking_enabled"`
	Ducking           ducking.State        `json:"ducking"`
	QueueDepths       []int                `json:"queue_depths"`
	PendingTranscript int                  `json:"pending_transcript_bytes"`
	Questions         []string             `json:"questions"`
	Workers           []WorkerStatus       `json:"workers"`
	Flush             FlushStatus          `json:"flush"`
}

// Status returns a snapshot of the pipeline
func (s *SessionService) Status() SessionStatus {
	workers := make([]WorkerStatus, len(s.workers))
	for i, w := range s.workers {
		workers[i] = w.Status()
	}

	return SessionStatus{
		SessionID:         s.session.ID,
		StartedAt:         s.session.StartedAt,
		Uptime:            time.Since(s.session.StartedAt).Round(time.Second).String(),
		Format:            s.session.Format,
		Mono:              s.session.Mono,
		Channels:          s.session.StreamChannels(),
		BlocksCaptured:    s.capture.Blocks(),
		DuckingEnabled:    s.capture.DuckingEnabled(),
		Ducking:           s.capture.DuckingState(),
		QueueDepths:       s.capture.QueueDepths(),
		PendingTranscript: s.accumulator.Len(),
		Questions:         s.questions.Snapshot(),
		Workers:           workers,
		Flush:             s.flush.Status(),
	}
}
