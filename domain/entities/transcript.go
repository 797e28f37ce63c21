package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TranscriptEvent is one result emitted by a transcription stream.
// Non-final events are transient and only shown on the live feed.
type TranscriptEvent struct {
	ChannelID int       `json:"channel_id"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"is_final"`
	Timestamp time.Time `json:"timestamp"`

	// ProviderSessionID is the transcription service's own id, kept for
	// diagnostics only.
	ProviderSessionID string `json:"provider_session_id,omitempty"`
}

// ChunkType represents the kind of a persisted chunk
type ChunkType string

const (
	ChunkTypeTranscript  ChunkType = "transcript"
	ChunkTypeLLMResponse ChunkType = "llm_response"
)

// Chunk is the durable record written under sessions/{session_id}/chunks.
// It is never mutated after creation. Chunks of different channels may be
// written in any order; display order comes from Timestamp only.
type Chunk struct {
	ID        string    `json:"id" bson:"_id"`
	SessionID string    `json:"session_id" bson:"session_id"`
	Type      ChunkType `json:"type" bson:"type"`
	ChannelID *int      `json:"channel_id,omitempty" bson:"channel_id,omitempty"`
	Text      string    `json:"text" bson:"text"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// NewTranscriptChunk creates a transcript chunk for one channel
func NewTranscriptChunk(sessionID string, channelID int, text string, ts time.Time) *Chunk {
	return &Chunk{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      ChunkTypeTranscript,
		ChannelID: &channelID,
		Text:      text,
		Timestamp: ts,
	}
}

// NewLLMResponseChunk creates a chunk holding a backend reply
func NewLLMResponseChunk(sessionID string, text string, ts time.Time) *Chunk {
	return &Chunk{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      ChunkTypeLLMResponse,
		Text:      text,
		Timestamp: ts,
	}
}

// Validate validates the chunk data
func (c *Chunk) Validate() error {
	if c.SessionID == "" {
		return errors.New("session_id is required")
	}
	switch c.Type {
	case ChunkTypeTranscript:
		if c.ChannelID == nil {
			return errors.New("transcript chunk needs a channel_id")
		}
	case ChunkTypeLLMResponse:
	default:
		return errors.New("invalid chunk type")
	}
	if c.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}
