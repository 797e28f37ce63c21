package domain

import "time"

// DispatchRequest is the JSON body posted to the backend on every flush
type DispatchRequest struct {
	Transcript string   `json:"transcript"`
	Questions  []string `json:"questions"`
}

// DispatchResponse is the backend reply. Only Reply is required.
type DispatchResponse struct {
	Reply     string `json:"reply"`
	Type      string `json:"type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// LiveEventType defines the type of a live feed message
type LiveEventType string

const (
	LiveEventTranscript  LiveEventType = "transcript"
	LiveEventLLMResponse LiveEventType = "llm_response"
)

// LiveEventMessage is what websocket clients of the live feed receive
type LiveEventMessage struct {
	Type      LiveEventType `json:"type"`
	SessionID string        `json:"session_id"`
	ChannelID *int          `json:"channel_id,omitempty"`
	Text      string        `json:"text"`
	IsFinal   bool          `json:"is_final"`
	Timestamp time.Time     `json:"timestamp"`
}
