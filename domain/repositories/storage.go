package repositories

import (
	"context"
	"time"

	"github.com/satriahrh/sidechain/domain/entities"
)

// ChunkRepository is an append-only sink for persisted chunks, keyed by
// session id. Failures wrap domain.ErrPersistence.
type ChunkRepository interface {
	Append(ctx context.Context, chunk *entities.Chunk) error
}

// SessionRepository keeps one record per session next to its chunks.
// Failures wrap domain.ErrPersistence.
type SessionRepository interface {
	// Start creates the record or marks an existing one active again
	Start(ctx context.Context, session *entities.Session) error
	// Finish marks the record ended with a short reason
	Finish(ctx context.Context, sessionID string, endedAt time.Time, reason string) error
	// Get returns the record, or nil when there is none
	Get(ctx context.Context, sessionID string) (*entities.SessionRecord, error)
}
