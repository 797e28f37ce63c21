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

// SessionsCollection holds one record per session
const SessionsCollection = "sessions"

// SessionRepository implements repositories.SessionRepository using MongoDB
type SessionRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewSessionRepository creates a new MongoDB session repository
func NewSessionRepository(db *mongo.Database, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		collection: db.Collection(SessionsCollection),
		logger:     logger,
	}
}

// Start implements repositories.SessionRepository
func (r *SessionRepository) Start(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return fmt.Errorf("%w: session cannot be nil", domain.ErrPersistence)
	}
	if err := session.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	update := bson.M{
		"$setOnInsert": bson.M{
			"started_at": session.StartedAt,
		},
		"$set": bson.M{
			"status":   entities.SessionActive,
			"format":   session.Format,
			"mono":     session.Mono,
			"language": session.Language,
		},
		"$unset": bson.M{
			"ended_at":   "",
			"end_reason": "",
		},
		"$inc": bson.M{"runs": 1},
	}

	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": session.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: failed to start session %s: %v", domain.ErrPersistence, session.ID, err)
	}

	r.logger.Debug("Session record started", zap.String("sessionID", session.ID))
	return nil
}

// Finish implements repositories.SessionRepository
func (r *SessionRepository) Finish(ctx context.Context, sessionID string, endedAt time.Time, reason string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session ID cannot be empty", domain.ErrPersistence)
	}

	update := bson.M{
		"$set": bson.M{
			"status":     entities.SessionEnded,
			"ended_at":   endedAt,
			"end_reason": reason,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": sessionID}, update)
	if err != nil {
		return fmt.Errorf("%w: failed to finish session %s: %v", domain.ErrPersistence, sessionID, err)
	}

	// Check if the document was found and updated
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: session %s not found", domain.ErrPersistence, sessionID)
	}

	return nil
}

// Get implements repositories.SessionRepository
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*entities.SessionRecord, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	var record entities.SessionRecord
	err := r.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil // No session found, return nil without error
		}
		return nil, fmt.Errorf("%w: failed to get session %s: %v", domain.ErrPersistence, sessionID, err)
	}

	return &record, nil
}
