package stt

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/domain/repositories"
)

// DefaultMockScript is what the mock recognizer "hears" when no script is set
var DefaultMockScript = []string{
	"Thanks for joining the call today.",
	"Could you walk me through a recent project?",
	"What was the hardest part of it?",
	"How did you handle feedback on your code?",
}

// MockSpeechToText is an offline recognizer that replays a script: every
// FramesPerSegment frames it emits a partial halfway and then a final.
type MockSpeechToText struct {
	logger           *zap.Logger
	script           []string
	framesPerSegment int
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(script []string, framesPerSegment int, logger *zap.Logger) *MockSpeechToText {
	if len(script) == 0 {
		script = DefaultMockScript
	}
	if framesPerSegment < 2 {
		framesPerSegment = 30 // 3 seconds of 100ms blocks
	}
	return &MockSpeechToText{
		logger:           logger,
		script:           script,
		framesPerSegment: framesPerSegment,
	}
}

// InitTranscribeStreaming creates a new mock streaming session
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	id := "mock-" + uuid.NewString()
	s.logger.Info("Initializing mock streaming transcription",
		zap.String("providerSessionID", id),
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding))

	return &MockSpeechToTextStream{
		id:               id,
		script:           s.script,
		framesPerSegment: s.framesPerSegment,
		events:           make(chan entities.TranscriptEvent, 16),
	}, nil
}

// MockSpeechToTextStream is a mock implementation of streaming speech recognition
type MockSpeechToTextStream struct {
	id               string
	script           []string
	framesPerSegment int
	events           chan entities.TranscriptEvent

	mu     sync.Mutex
	frames int
	line   int
	closed bool
}

func (m *MockSpeechToTextStream) SessionID() string {
	return m.id
}

func (m *MockSpeechToTextStream) Events() <-chan entities.TranscriptEvent {
	return m.events
}

func (m *MockSpeechToTextStream) Err() error {
	return nil
}

// Stream counts frames and emits the scripted events
func (m *MockSpeechToTextStream) Stream(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || len(data) == 0 {
		return nil
	}

	m.frames++
	text := m.script[m.line%len(m.script)]

	switch m.frames % m.framesPerSegment {
	case m.framesPerSegment / 2:
		words := strings.Fields(text)
		m.emit(strings.Join(words[:(len(words)+1)/2], " "), false)
	case 0:
		m.emit(text, true)
		m.line++
	}
	return nil
}

// Close ends the mock session
func (m *MockSpeechToTextStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.events)
	}
	return nil
}

// emit never blocks the caller; a full buffer drops the event
func (m *MockSpeechToTextStream) emit(text string, final bool) {
	select {
	case m.events <- entities.TranscriptEvent{
		Text:              text,
		IsFinal:           final,
		Timestamp:         time.Now(),
		ProviderSessionID: m.id,
	}:
	default:
	}
}
