package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/internal/metrics"
	"github.com/satriahrh/sidechain/internal/queue"
)

func newTestFlush(t *testing.T, acc *TranscriptAccumulator, questions *QuestionList, dispatcher *fakeDispatcher, chunks *fakeChunks, cfg FlushConfig) *FlushService {
	t.Helper()
	return NewFlushService(newTestSession(2), acc, questions, dispatcher, chunks, nil, cfg, metrics.NewMetrics(), zaptest.NewLogger(t))
}

func TestFlushEndToEndTwoChannels(t *testing.T) {
	session := newTestSession(2)
	acc := NewTranscriptAccumulator()
	chunks := &fakeChunks{}
	dispatcher := &fakeDispatcher{reply: "Tell me more about that."}
	questions := NewQuestionList([]string{"What brings you here?"})
	m := metrics.NewMetrics()

	w0 := NewStreamWorker(0, session, &fakeSTT{}, queue.New[[]byte](1), chunks, acc, nil, m, zap.NewNop())
	w1 := NewStreamWorker(1, session, &fakeSTT{}, queue.New[[]byte](1), chunks, acc, nil, m, zap.NewNop())

	start := time.Now()
	w0.HandleEvent(context.Background(), entities.TranscriptEvent{Text: "hello", IsFinal: true, Timestamp: start.Add(time.Second)})
	w1.HandleEvent(context.Background(), entities.TranscriptEvent{Text: "world", IsFinal: true, Timestamp: start.Add(2 * time.Second)})

	flush := NewFlushService(session, acc, questions, dispatcher, chunks, nil,
		FlushConfig{Interval: 10 * time.Second, AppendReplies: true}, m, zaptest.NewLogger(t))
	result := flush.Flush(context.Background())

	requests := dispatcher.snapshot()
	if len(requests) != 1 {
		t.Fatalf("Expected exactly one dispatch, got %d", len(requests))
	}
	if requests[0].Transcript != " hello world" {
		t.Errorf("Expected transcript %q, got %q", " hello world", requests[0].Transcript)
	}
	if len(requests[0].Questions) != 1 || requests[0].Questions[0] != "What brings you here?" {
		t.Errorf("Unexpected questions: %v", requests[0].Questions)
	}
	if result.Reply != "Tell me more about that." || result.Err != nil {
		t.Errorf("Unexpected result: %+v", result)
	}

	if acc.Len() != 0 {
		t.Error("Expected empty accumulator after flush")
	}

	persisted := chunks.snapshot()
	if len(persisted) != 3 {
		t.Fatalf("Expected 2 transcript chunks and 1 reply chunk, got %d", len(persisted))
	}
	reply := persisted[2]
	if reply.Type != entities.ChunkTypeLLMResponse || reply.ChannelID != nil || reply.Text != "Tell me more about that." {
		t.Errorf("Unexpected reply chunk: %+v", reply)
	}

	if questions.Len() != 2 {
		t.Errorf("Expected reply appended to the question list, got %v", questions.Snapshot())
	}

	// The next interval starts from an empty buffer
	w0.HandleEvent(context.Background(), entities.TranscriptEvent{Text: "again", IsFinal: true})
	flush.Flush(context.Background())
	requests = dispatcher.snapshot()
	if len(requests) != 2 || requests[1].Transcript != " again" {
		t.Errorf("Expected second dispatch with %q, got %+v", " again", requests)
	}
}

func TestFlushEmptyAccumulatorIsNoop(t *testing.T) {
	dispatcher := &fakeDispatcher{reply: "x"}
	flush := newTestFlush(t, NewTranscriptAccumulator(), NewQuestionList(nil), dispatcher, &fakeChunks{}, FlushConfig{})

	result := flush.Flush(context.Background())

	if result.Dispatched {
		t.Error("Expected no dispatch for empty accumulator")
	}
	if len(dispatcher.snapshot()) != 0 {
		t.Errorf("Expected 0 dispatches, got %d", len(dispatcher.snapshot()))
	}
}

func TestFlushDispatchFailureDropsInterval(t *testing.T) {
	acc := NewTranscriptAccumulator()
	chunks := &fakeChunks{}
	dispatcher := &fakeDispatcher{err: domain.ErrDispatch}
	flush := newTestFlush(t, acc, NewQuestionList(nil), dispatcher, chunks, FlushConfig{AppendReplies: true})

	acc.Append("lost")
	result := flush.Flush(context.Background())

	if !errors.Is(result.Err, domain.ErrDispatch) {
		t.Errorf("Expected ErrDispatch in result, got %v", result.Err)
	}
	if acc.Len() != 0 {
		t.Error("Expected the failed interval's text to be discarded")
	}
	if chunks.calls != 0 {
		t.Errorf("Expected no chunk persisted on failure, got %d", chunks.calls)
	}
	if status := flush.Status(); status.Failures != 1 || status.Flushes != 1 {
		t.Errorf("Unexpected status: %+v", status)
	}

	// Accumulation resumes fresh
	dispatcher.err = nil
	dispatcher.reply = "ok"
	acc.Append("fresh")
	flush.Flush(context.Background())
	requests := dispatcher.snapshot()
	if requests[len(requests)-1].Transcript != " fresh" {
		t.Errorf("Expected %q, got %q", " fresh", requests[len(requests)-1].Transcript)
	}
}

func TestFlushDispatchTimeout(t *testing.T) {
	acc := NewTranscriptAccumulator()
	dispatcher := &fakeDispatcher{reply: "late", delay: time.Second}
	flush := newTestFlush(t, acc, NewQuestionList(nil), dispatcher, &fakeChunks{}, FlushConfig{DispatchTimeout: 20 * time.Millisecond})

	acc.Append("slow")
	start := time.Now()
	result := flush.Flush(context.Background())

	if result.Err == nil {
		t.Error("Expected timeout error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Dispatch was not bounded by the timeout, took %v", time.Since(start))
	}
}

func TestFlushPersistenceFailureKeepsReply(t *testing.T) {
	acc := NewTranscriptAccumulator()
	questions := NewQuestionList(nil)
	flush := newTestFlush(t, acc, questions, &fakeDispatcher{reply: "reply"}, &fakeChunks{err: domain.ErrPersistence}, FlushConfig{AppendReplies: true})

	acc.Append("text")
	result := flush.Flush(context.Background())

	if result.Err != nil || result.Reply != "reply" {
		t.Errorf("Expected successful flush despite persistence failure, got %+v", result)
	}
	if questions.Len() != 1 {
		t.Error("Expected reply appended to questions")
	}
}

func TestFlushRunTicks(t *testing.T) {
	acc := NewTranscriptAccumulator()
	dispatcher := &fakeDispatcher{reply: "tick"}
	flush := newTestFlush(t, acc, NewQuestionList(nil), dispatcher, &fakeChunks{}, FlushConfig{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = flush.Run(ctx)
	}()

	acc.Append("periodic")
	if !waitFor(time.Second, func() bool { return len(dispatcher.snapshot()) == 1 }) {
		t.Error("Expected a dispatch on the next tick")
	}

	cancel()
	<-done
}

func TestFlushRunFinalFlushOnStop(t *testing.T) {
	acc := NewTranscriptAccumulator()
	dispatcher := &fakeDispatcher{reply: "bye"}
	flush := newTestFlush(t, acc, NewQuestionList(nil), dispatcher, &fakeChunks{}, FlushConfig{Interval: time.Hour, FlushOnStop: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = flush.Run(ctx)
	}()

	acc.Append("residual")
	cancel()
	<-done

	requests := dispatcher.snapshot()
	if len(requests) != 1 || requests[0].Transcript != " residual" {
		t.Errorf("Expected final flush of residual text, got %+v", requests)
	}
}

func TestFlushPublishesReply(t *testing.T) {
	acc := NewTranscriptAccumulator()
	live := &fakePublisher{}
	flush := NewFlushService(newTestSession(2), acc, NewQuestionList(nil), &fakeDispatcher{reply: "r"}, &fakeChunks{}, live,
		FlushConfig{}, metrics.NewMetrics(), zaptest.NewLogger(t))

	acc.Append("x")
	flush.Flush(context.Background())

	msgs := live.snapshot()
	if len(msgs) != 1 || msgs[0].Type != domain.LiveEventLLMResponse || msgs[0].Text != "r" {
		t.Errorf("Expected one llm_response live message, got %+v", msgs)
	}
}
