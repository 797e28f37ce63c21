package entities

import (
	"testing"
	"time"
)

func TestNewTranscriptChunk(t *testing.T) {
	ts := time.Now()
	chunk := NewTranscriptChunk("session-1", 1, "hello", ts)

	if chunk.ID == "" {
		t.Error("Expected chunk ID to be generated")
	}

	if chunk.Type != ChunkTypeTranscript {
		t.Errorf("Expected type %s, got %s", ChunkTypeTranscript, chunk.Type)
	}

	if chunk.ChannelID == nil || *chunk.ChannelID != 1 {
		t.Errorf("Expected channel_id 1, got %v", chunk.ChannelID)
	}

	if !chunk.Timestamp.Equal(ts) {
		t.Errorf("Expected timestamp %v, got %v", ts, chunk.Timestamp)
	}

	if err := chunk.Validate(); err != nil {
		t.Errorf("Expected valid chunk, got %v", err)
	}
}

func TestNewLLMResponseChunk(t *testing.T) {
	chunk := NewLLMResponseChunk("session-1", "QUESTION: why?", time.Now())

	if chunk.Type != ChunkTypeLLMResponse {
		t.Errorf("Expected type %s, got %s", ChunkTypeLLMResponse, chunk.Type)
	}

	if chunk.ChannelID != nil {
		t.Errorf("Expected no channel_id, got %d", *chunk.ChannelID)
	}

	if err := chunk.Validate(); err != nil {
		t.Errorf("Expected valid chunk, got %v", err)
	}
}

func TestChunkValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Chunk)
		wantErr bool
	}{
		{"valid", func(c *Chunk) {}, false},
		{"missing session", func(c *Chunk) { c.SessionID = "" }, true},
		{"transcript without channel", func(c *Chunk) { c.ChannelID = nil }, true},
		{"unknown type", func(c *Chunk) { c.Type = "summary" }, true},
		{"zero timestamp", func(c *Chunk) { c.Timestamp = time.Time{} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk := NewTranscriptChunk("session-1", 0, "text", time.Now())
			tt.mutate(chunk)
			err := chunk.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}
