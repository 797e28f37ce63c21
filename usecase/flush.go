package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/domain/repositories"
	"github.com/satriahrh/sidechain/internal/metrics"
)

// FlushConfig controls the periodic flush
type FlushConfig struct {
	Interval        time.Duration
	DispatchTimeout time.Duration
	// FlushOnStop dispatches the residual text once more on shutdown
	FlushOnStop bool
	// AppendReplies adds every successful reply to the question list
	AppendReplies bool
}

// FlushResult describes the outcome of one flush
type FlushResult struct {
	Transcript string
	Reply      string
	Dispatched bool
	Err        error
}

// FlushService drains the accumulator on a fixed interval, dispatches the
// text with the question list and persists the reply. Dispatch failures are
// logged and swallowed; the drained text for that interval is lost.
type FlushService struct {
	session     *entities.Session
	accumulator *TranscriptAccumulator
	questions   *QuestionList
	dispatcher  repositories.Dispatcher
	chunks      repositories.ChunkRepository
	live        LivePublisher
	cfg         FlushConfig
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu        sync.RWMutex
	lastFlush time.Time
	lastReply string
	flushes   int64
	failures  int64
}

// NewFlushService creates a new flush service. live may be nil.
func NewFlushService(
	session *entities.Session,
	accumulator *TranscriptAccumulator,
	questions *QuestionList,
	dispatcher repositories.Dispatcher,
	chunks repositories.ChunkRepository,
	live LivePublisher,
	cfg FlushConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *FlushService {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 10 * time.Second
	}
	return &FlushService{
		session:     session,
		accumulator: accumulator,
		questions:   questions,
		dispatcher:  dispatcher,
		chunks:      chunks,
		live:        live,
		cfg:         cfg,
		metrics:     m,
		logger:      logger,
	}
}

// Run flushes once per interval until ctx is cancelled, then runs the final
// flush when configured. It always returns nil: flush failures never end
// the session.
func (s *FlushService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Flush service started", zap.Duration("interval", s.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			if s.cfg.FlushOnStop {
				// Fresh context: the session one is already cancelled
				s.Flush(context.WithoutCancel(ctx))
			}
			s.logger.Info("Flush service stopped")
			return nil
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Flush performs one flush. An empty accumulator is a no-op.
func (s *FlushService) Flush(ctx context.Context) FlushResult {
	transcript := s.accumulator.Drain()
	if strings.TrimSpace(transcript) == "" {
		return FlushResult{}
	}

	result := FlushResult{Transcript: transcript, Dispatched: true}
	req := domain.DispatchRequest{
		Transcript: transcript,
		Questions:  s.questions.Snapshot(),
	}

	s.logger.Info("Dispatching transcript",
		zap.String("sessionID", s.session.ID),
		zap.Int("length", len(transcript)),
		zap.Int("questions", len(req.Questions)))

	dispatchCtx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	start := time.Now()
	resp, err := s.dispatcher.Dispatch(dispatchCtx, req)
	cancel()
	s.metrics.RecordDispatch(err == nil, time.Since(start).Seconds())

	if err != nil {
		s.logger.Error("Dispatch failed, dropping interval", zap.Error(err))
		s.recordFlush("", err)
		result.Err = err
		return result
	}

	result.Reply = resp.Reply
	now := time.Now()

	chunk := entities.NewLLMResponseChunk(s.session.ID, resp.Reply, now)
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	if err := s.chunks.Append(persistCtx, chunk); err != nil {
		s.metrics.RecordPersistenceFailure()
		s.logger.Error("Failed to persist reply chunk", zap.Error(err))
	} else {
		s.metrics.RecordChunkPersisted(string(entities.ChunkTypeLLMResponse))
	}
	cancelPersist()

	if s.cfg.AppendReplies {
		s.questions.Add(resp.Reply)
	}

	if s.live != nil {
		s.live.Publish(domain.LiveEventMessage{
			Type:      domain.LiveEventLLMResponse,
			SessionID: s.session.ID,
			Text:      resp.Reply,
			IsFinal:   true,
			Timestamp: now,
		})
	}

	s.recordFlush(resp.Reply, nil)
	return result
}

// FlushStatus is a point-in-time view of the flush service
type FlushStatus struct {
	Interval  string    `json:"interval"`
	Flushes   int64     `json:"flushes"`
	Failures  int64     `json:"failures"`
	LastFlush time.Time `json:"last_flush,omitempty"`
	LastReply string    `json:"last_reply,omitempty"`
}

// Status returns a snapshot of the flush service
func (s *FlushService) Status() FlushStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FlushStatus{
		Interval:  s.cfg.Interval.String(),
		Flushes:   s.flushes,
		Failures:  s.failures,
		LastFlush: s.lastFlush,
		LastReply: s.lastReply,
	}
}

func (s *FlushService) recordFlush(reply string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flushes++
	s.lastFlush = time.Now()
	if err != nil {
		s.failures++
		return
	}
	s.lastReply = reply
}
