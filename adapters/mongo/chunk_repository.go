package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/domain/entities"
)

// ChunksCollection holds every chunk; session_id plays the role of the
// sessions/{session_id}/chunks path
const ChunksCollection = "chunks"

// ChunkRepository is the append-only MongoDB chunk store
type ChunkRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewChunkRepository creates a new MongoDB chunk repository
func NewChunkRepository(db *mongo.Database, logger *zap.Logger) *ChunkRepository {
	return &ChunkRepository{
		collection: db.Collection(ChunksCollection),
		logger:     logger,
	}
}

// EnsureIndexes creates the (session_id, timestamp) index readers sort by
func (r *ChunkRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "timestamp", Value: 1}},
		Options: options.Index().SetName("session_timestamp"),
	})
	if err != nil {
		return fmt.Errorf("failed to create chunk index: %w", err)
	}
	return nil
}

// Append implements repositories.ChunkRepository
func (r *ChunkRepository) Append(ctx context.Context, chunk *entities.Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk cannot be nil", domain.ErrPersistence)
	}
	if err := chunk.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	if _, err := r.collection.InsertOne(ctx, chunk); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: chunk %s already exists", domain.ErrPersistence, chunk.ID)
		}
		return fmt.Errorf("%w: failed to insert chunk: %v", domain.ErrPersistence, err)
	}

	r.logger.Debug("Chunk persisted",
		zap.String("sessionID", chunk.SessionID),
		zap.String("type", string(chunk.Type)))
	return nil
}

// ListBySession returns a session's chunks in timestamp order
func (r *ChunkRepository) ListBySession(ctx context.Context, sessionID string) ([]*entities.Chunk, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find chunks: %w", err)
	}
	defer cursor.Close(ctx)

	chunks := []*entities.Chunk{}
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, fmt.Errorf("failed to decode chunks: %w", err)
	}
	return chunks, nil
}
