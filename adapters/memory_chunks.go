package adapters

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/domain/entities"
)

// MemoryChunkRepository is an in-memory chunk store for offline runs and
// tests. Chunks are kept per session in arrival order.
type MemoryChunkRepository struct {
	mu       sync.RWMutex
	sessions map[string][]*entities.Chunk // session_id -> chunks
	ids      map[string]struct{}
}

// NewMemoryChunkRepository creates a new in-memory chunk repository
func NewMemoryChunkRepository() *MemoryChunkRepository {
	return &MemoryChunkRepository{
		sessions: make(map[string][]*entities.Chunk),
		ids:      make(map[string]struct{}),
	}
}

// Append implements repositories.ChunkRepository
func (m *MemoryChunkRepository) Append(ctx context.Context, chunk *entities.Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk cannot be nil", domain.ErrPersistence)
	}

	if err := chunk.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ids[chunk.ID]; exists {
		return fmt.Errorf("%w: chunk %s already exists", domain.ErrPersistence, chunk.ID)
	}

	// Store a copy to prevent external modifications
	chunkCopy := *chunk
	m.ids[chunk.ID] = struct{}{}
	m.sessions[chunk.SessionID] = append(m.sessions[chunk.SessionID], &chunkCopy)

	return nil
}

// ListBySession returns a session's chunks in timestamp order
func (m *MemoryChunkRepository) ListBySession(ctx context.Context, sessionID string) ([]*entities.Chunk, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	chunks := m.sessions[sessionID]

	// Return copies to prevent external modifications
	result := make([]*entities.Chunk, len(chunks))
	for i, chunk := range chunks {
		chunkCopy := *chunk
		result[i] = &chunkCopy
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	return result, nil
}

// Count returns the number of chunks stored for a session
func (m *MemoryChunkRepository) Count(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[sessionID])
}
