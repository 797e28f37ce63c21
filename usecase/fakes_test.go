package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/domain/repositories"
)

// fakeStream records frames and lets the test drive events
type fakeStream struct {
	id      string
	events  chan entities.TranscriptEvent
	release chan struct{} // when set, Stream blocks until it is closed
	onFrame func(s *fakeStream, frame []byte, n int)
	// keepOpen leaves events open on Close, like a service that never
	// acknowledges the end of the stream
	keepOpen bool

	mu     sync.Mutex
	frames [][]byte

	closeOnce sync.Once
	closed    chan struct{}
	err       error
}

func newFakeStream(id string) *fakeStream {
	return &fakeStream{
		id:     id,
		events: make(chan entities.TranscriptEvent, 64),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) SessionID() string { return s.id }

func (s *fakeStream) Stream(data []byte) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	s.frames = append(s.frames, data)
	n := len(s.frames)
	s.mu.Unlock()

	if s.onFrame != nil {
		s.onFrame(s, data, n)
	}
	return nil
}

func (s *fakeStream) Events() <-chan entities.TranscriptEvent { return s.events }

func (s *fakeStream) Err() error { return s.err }

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if !s.keepOpen {
			close(s.events)
		}
	})
	return nil
}

func (s *fakeStream) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fakeSTT hands out streams built by newStream
type fakeSTT struct {
	newStream func() *fakeStream
	err       error

	mu      sync.Mutex
	configs []repositories.AudioConfig
	streams []*fakeStream
}

func (f *fakeSTT) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.configs = append(f.configs, config)
	if f.err != nil {
		return nil, f.err
	}
	var s *fakeStream
	if f.newStream != nil {
		s = f.newStream()
	} else {
		s = newFakeStream("fake-session")
	}
	f.streams = append(f.streams, s)
	return s, nil
}

// fakeChunks records appended chunks
type fakeChunks struct {
	err error

	mu     sync.Mutex
	chunks []*entities.Chunk
	calls  int
}

func (f *fakeChunks) Append(ctx context.Context, chunk *entities.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return f.err
	}
	f.chunks = append(f.chunks, chunk)
	return nil
}

func (f *fakeChunks) snapshot() []*entities.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*entities.Chunk, len(f.chunks))
	copy(out, f.chunks)
	return out
}

// fakeDispatcher records requests and replies with a fixed text
type fakeDispatcher struct {
	reply string
	err   error
	delay time.Duration

	mu       sync.Mutex
	requests []domain.DispatchRequest
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.DispatchResponse{Reply: f.reply, Type: "llm_response"}, nil
}

func (f *fakeDispatcher) snapshot() []domain.DispatchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.DispatchRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// fakeSource returns the given blocks, then ErrEndOfStream. With template
// set it returns copies of template forever.
type fakeSource struct {
	format   entities.AudioFormat
	blocks   [][]int16
	template []int16
	err      error

	mu  sync.Mutex
	pos int
}

func (s *fakeSource) Open(ctx context.Context) (entities.AudioFormat, error) {
	return s.format, nil
}

func (s *fakeSource) Read(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.template != nil {
		out := make([]int16, len(s.template))
		copy(out, s.template)
		return out, nil
	}
	if s.pos >= len(s.blocks) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, domain.ErrEndOfStream
	}
	b := s.blocks[s.pos]
	s.pos++
	out := make([]int16, len(b))
	copy(out, b)
	return out, nil
}

func (s *fakeSource) Close() error { return nil }

// fakePublisher records live messages
type fakePublisher struct {
	mu   sync.Mutex
	msgs []domain.LiveEventMessage
}

func (p *fakePublisher) Publish(msg domain.LiveEventMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *fakePublisher) snapshot() []domain.LiveEventMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.LiveEventMessage, len(p.msgs))
	copy(out, p.msgs)
	return out
}

// interleavedBlock builds one block with every channel set to a constant
func interleavedBlock(format entities.AudioFormat, values ...int16) []int16 {
	block := make([]int16, format.BlockSamples())
	for i := range block {
		block[i] = values[i%format.Channels]
	}
	return block
}

// waitFor polls cond until it holds or the timeout expires
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
