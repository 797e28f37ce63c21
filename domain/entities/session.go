package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Session is the immutable per-run configuration shared by every component.
// It is built once at startup and passed by pointer; nothing mutates it.
type Session struct {
	// ID is the durable session id used for persistence. It is supplied
	// externally, not taken from the transcription service.
	ID        string      `json:"id"`
	Format    AudioFormat `json:"format"`
	Language  string      `json:"language,omitempty"`
	Mono      bool        `json:"mono"`
	StartedAt time.Time   `json:"started_at"`
}

// NewSession creates a session, generating an id when none is given
func NewSession(id string, format AudioFormat, mono bool) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:        id,
		Format:    format,
		Mono:      mono || format.Channels < 2,
		StartedAt: time.Now(),
	}
}

// StreamChannels returns the channel ids that get their own transcription
// stream: 0 and 1 in dual mode, just 0 in mono mode.
func (s *Session) StreamChannels() []int {
	if s.Mono {
		return []int{0}
	}
	return []int{0, 1}
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	if err := s.Format.Validate(); err != nil {
		return err
	}
	if !s.Mono && s.Format.Channels < 2 {
		return errors.New("dual-channel session needs at least 2 device channels")
	}
	return nil
}

// Session record states
const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// SessionRecord is the parent document of a session's chunks. A session id
// reused across restarts keeps one record; Runs counts the restarts.
type SessionRecord struct {
	ID        string      `json:"id" bson:"_id"`
	Status    string      `json:"status" bson:"status"`
	StartedAt time.Time   `json:"started_at" bson:"started_at"`
	EndedAt   *time.Time  `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	EndReason string      `json:"end_reason,omitempty" bson:"end_reason,omitempty"`
	Runs      int         `json:"runs" bson:"runs"`
	Format    AudioFormat `json:"format" bson:"format"`
	Mono      bool        `json:"mono" bson:"mono"`
	Language  string      `json:"language,omitempty" bson:"language,omitempty"`
}
