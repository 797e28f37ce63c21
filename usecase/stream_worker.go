package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/domain/repositories"
	"github.com/satriahrh/sidechain/internal/metrics"
	"github.com/satriahrh/sidechain/internal/queue"
)

const (
	// persistTimeout bounds a single chunk write
	persistTimeout = 5 * time.Second

	// drainTimeout bounds how long a stopping worker waits for the service
	// to deliver its remaining events after Close.
	drainTimeout = 5 * time.Second
)

// LivePublisher receives every transcript event and reply for the live feed.
// Implementations must not block.
type LivePublisher interface {
	Publish(msg domain.LiveEventMessage)
}

// WorkerState is the lifecycle state of a stream worker
type WorkerState string

const (
	WorkerIdle      WorkerState = "idle"
	WorkerStarting  WorkerState = "starting"
	WorkerStreaming WorkerState = "streaming"
	WorkerStopped   WorkerState = "stopped"
	WorkerFailed    WorkerState = "failed"
)

// WorkerStatus is a point-in-time view of a stream worker
type WorkerStatus struct {
	ChannelID         int         `json:"channel_id"`
	State             WorkerState `json:"state"`
	ProviderSessionID string      `json:"provider_session_id,omitempty"`
	FramesSent        int64       `json:"frames_sent"`
	FinalSegments     int64       `json:"final_segments"`
	Error             string      `json:"error,omitempty"`
}

// StreamWorker bridges one channel queue to one transcription session.
// One instance runs per channel; they share nothing but the accumulator
// and the chunk repository.
type StreamWorker struct {
	channelID   int
	session     *entities.Session
	stt         repositories.SpeechToText
	frames      *queue.Queue[[]byte]
	chunks      repositories.ChunkRepository
	accumulator *TranscriptAccumulator
	live        LivePublisher
	metrics     *metrics.Metrics
	logger      *zap.Logger

	drainTimeout time.Duration
	// abandoned is set once Run stops waiting for the service's events
	abandoned atomic.Bool

	mu     sync.RWMutex
	status WorkerStatus
}

// NewStreamWorker creates a worker for one channel. live may be nil.
func NewStreamWorker(
	channelID int,
	session *entities.Session,
	stt repositories.SpeechToText,
	frames *queue.Queue[[]byte],
	chunks repositories.ChunkRepository,
	accumulator *TranscriptAccumulator,
	live LivePublisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *StreamWorker {
	return &StreamWorker{
		channelID:   channelID,
		session:     session,
		stt:         stt,
		frames:      frames,
		chunks:      chunks,
		accumulator: accumulator,
		live:        live,
		metrics:     m,
		logger:      logger.With(zap.Int("channel", channelID)),
		status:      WorkerStatus{ChannelID: channelID, State: WorkerIdle},

		drainTimeout: drainTimeout,
	}
}

// ChannelID returns the channel this worker transcribes
func (w *StreamWorker) ChannelID() int {
	return w.channelID
}

// Status returns a snapshot of the worker state
func (w *StreamWorker) Status() WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Run opens the transcription session, feeds it until the queue is closed,
// the context is cancelled or the service ends the session, then closes
// it. The frame queue is always closed on return so the capture loop stops
// feeding a dead channel. A nil return means a clean stop.
func (w *StreamWorker) Run(ctx context.Context) (err error) {
	defer w.frames.Close()
	defer func() {
		if err != nil {
			w.setState(WorkerFailed, err)
			w.logger.Error("Stream worker stopped with error", zap.Error(err))
		} else {
			w.setState(WorkerStopped, nil)
			w.logger.Info("Stream worker stopped")
		}
	}()

	w.setState(WorkerStarting, nil)

	stream, err := w.stt.InitTranscribeStreaming(ctx, repositories.AudioConfig{
		SampleRate: w.session.Format.SampleRate,
		Encoding:   entities.EncodingPCMS16LE,
		Language:   w.session.Language,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConnection) {
			err = fmt.Errorf("%w: %v", domain.ErrConnection, err)
		}
		return err
	}

	w.mu.Lock()
	w.status.ProviderSessionID = stream.SessionID()
	w.mu.Unlock()
	w.setState(WorkerStreaming, nil)

	w.metrics.WorkerStarted()
	defer w.metrics.WorkerStopped()

	w.logger.Info("Transcription stream opened",
		zap.String("sessionID", w.session.ID),
		zap.String("providerSessionID", stream.SessionID()))

	// The feed loop stops as soon as the service ends the session.
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		defer stopFeed()
		w.consumeEvents(ctx, stream.Events())
	}()

	feedErr := w.feed(ctx, feedCtx, stream)

	if closeErr := stream.Close(); closeErr != nil {
		w.logger.Warn("Failed to close transcription stream", zap.Error(closeErr))
	}

	select {
	case <-eventsDone:
	case <-time.After(w.drainTimeout):
		w.abandoned.Store(true)
		w.logger.Warn("Timed out waiting for remaining transcript events")
	}

	if feedErr != nil {
		return feedErr
	}
	if ctx.Err() == nil {
		if streamErr := stream.Err(); streamErr != nil {
			return fmt.Errorf("%w: %v", domain.ErrConnection, streamErr)
		}
	}
	return nil
}

// feed pops frames and forwards them until the queue is closed or ctx ends.
// Both the pop and the send may block; that is the per-channel
// back-pressure path. feedCtx ends early when the service ends the session;
// when the session ctx itself is cancelled the frames already queued are
// still sent so a stop loses at most the block in transit.
func (w *StreamWorker) feed(ctx, feedCtx context.Context, stream repositories.SpeechToTextStreaming) error {
	for {
		frame, err := w.frames.Pop(feedCtx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			if ctx.Err() != nil {
				w.flushQueued(stream)
				return nil
			}
			if feedCtx.Err() != nil {
				return nil
			}
			return err
		}

		if err := w.send(stream, frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: send failed: %v", domain.ErrConnection, err)
		}
	}
}

// flushQueued sends every frame still buffered in the queue
func (w *StreamWorker) flushQueued(stream repositories.SpeechToTextStreaming) {
	sent := 0
	for {
		frame, ok := w.frames.TryPop()
		if !ok {
			break
		}
		if err := w.send(stream, frame); err != nil {
			w.logger.Warn("Failed to send queued frame on stop",
				zap.Int("sent", sent),
				zap.Int("dropped", w.frames.Len()+1),
				zap.Error(err))
			return
		}
		sent++
	}
	if sent > 0 {
		w.logger.Debug("Sent queued frames on stop", zap.Int("frames", sent))
	}
}

func (w *StreamWorker) send(stream repositories.SpeechToTextStreaming, frame []byte) error {
	if err := stream.Stream(frame); err != nil {
		return err
	}
	w.mu.Lock()
	w.status.FramesSent++
	w.mu.Unlock()
	return nil
}

// consumeEvents handles events in arrival order until the stream closes them.
// Persistence outlives ctx so finals delivered during shutdown still land.
func (w *StreamWorker) consumeEvents(ctx context.Context, events <-chan entities.TranscriptEvent) {
	persistCtx := context.WithoutCancel(ctx)
	for ev := range events {
		if w.abandoned.Load() {
			if ev.IsFinal && strings.TrimSpace(ev.Text) != "" {
				w.logger.Warn("Dropping final transcript delivered after shutdown",
					zap.String("sessionID", w.session.ID),
					zap.String("text", ev.Text))
			}
			continue
		}
		w.HandleEvent(persistCtx, ev)
	}
}

// HandleEvent publishes an event to the live feed and, when it is final,
// persists it as a transcript chunk and appends it to the accumulator.
// A persistence failure is logged; the text is still accumulated.
func (w *StreamWorker) HandleEvent(ctx context.Context, ev entities.TranscriptEvent) {
	ev.ChannelID = w.channelID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	w.metrics.RecordTranscriptEvent(w.channelID, ev.IsFinal)

	if w.live != nil {
		channelID := w.channelID
		w.live.Publish(domain.LiveEventMessage{
			Type:      domain.LiveEventTranscript,
			SessionID: w.session.ID,
			ChannelID: &channelID,
			Text:      ev.Text,
			IsFinal:   ev.IsFinal,
			Timestamp: ev.Timestamp,
		})
	}

	if !ev.IsFinal {
		return
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	w.logger.Debug("Final transcript", zap.String("text", text))

	chunk := entities.NewTranscriptChunk(w.session.ID, w.channelID, text, time.Now())

	persistCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	err := w.chunks.Append(persistCtx, chunk)
	cancel()
	if err != nil {
		w.metrics.RecordPersistenceFailure()
		w.logger.Error("Failed to persist transcript chunk",
			zap.String("sessionID", w.session.ID),
			zap.Error(err))
	} else {
		w.metrics.RecordChunkPersisted(string(entities.ChunkTypeTranscript))
	}

	w.accumulator.Append(text)

	w.mu.Lock()
	w.status.FinalSegments++
	w.mu.Unlock()
}

func (w *StreamWorker) setState(state WorkerState, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.status.State = state
	if err != nil {
		w.status.Error = err.Error()
	}
}
