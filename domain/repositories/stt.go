package repositories

import (
	"context"

	"github.com/satriahrh/sidechain/domain/entities"
)

// SpeechToText abstracts real-time speech recognition services
type SpeechToText interface {
	// InitTranscribeStreaming opens a streaming transcription session.
	// Failures wrap domain.ErrConnection.
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// SpeechToTextStreaming is one open bidirectional session. Stream is called
// from a single goroutine; Events is consumed by another.
type SpeechToTextStreaming interface {
	// SessionID returns the id the service assigned, for diagnostics.
	SessionID() string
	// Stream sends one PCM chunk. It may block; that is the back-pressure
	// path for a slow session.
	Stream(data []byte) error
	// Events delivers results in arrival order. The channel is closed when
	// the session ends.
	Events() <-chan entities.TranscriptEvent
	// Err returns the error that ended the session, if any, once Events is
	// closed.
	Err() error
	// Close ends the session and releases resources.
	Close() error
}
