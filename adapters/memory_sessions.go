package adapters

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/domain/entities"
)

// MemorySessionRepository is an in-memory session record store
type MemorySessionRepository struct {
	mu      sync.RWMutex
	records map[string]*entities.SessionRecord
}

// NewMemorySessionRepository creates a new in-memory session repository
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		records: make(map[string]*entities.SessionRecord),
	}
}

// Start implements repositories.SessionRepository
func (m *MemorySessionRepository) Start(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return fmt.Errorf("%w: session cannot be nil", domain.ErrPersistence)
	}
	if err := session.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[session.ID]
	if !ok {
		record = &entities.SessionRecord{
			ID:        session.ID,
			StartedAt: session.StartedAt,
		}
		m.records[session.ID] = record
	}
	record.Status = entities.SessionActive
	record.Format = session.Format
	record.Mono = session.Mono
	record.Language = session.Language
	record.EndedAt = nil
	record.EndReason = ""
	record.Runs++

	return nil
}

// Finish implements repositories.SessionRepository
func (m *MemorySessionRepository) Finish(ctx context.Context, sessionID string, endedAt time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %s not found", domain.ErrPersistence, sessionID)
	}
	record.Status = entities.SessionEnded
	record.EndedAt = &endedAt
	record.EndReason = reason

	return nil
}

// Get implements repositories.SessionRepository
func (m *MemorySessionRepository) Get(ctx context.Context, sessionID string) (*entities.SessionRecord, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[sessionID]
	if !ok {
		return nil, nil
	}

	// Return a copy to prevent external modifications
	recordCopy := *record
	if record.EndedAt != nil {
		endedAt := *record.EndedAt
		recordCopy.EndedAt = &endedAt
	}
	return &recordCopy, nil
}
