package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/satriahrh/sidechain/domain"
	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/domain/repositories"
)

var _ repositories.SessionRepository = &MemorySessionRepository{}

func TestMemorySessionRepository_Lifecycle(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()
	session := entities.NewSession("interview-1", entities.DefaultAudioFormat(2), false)

	if err := repo.Start(ctx, session); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	record, err := repo.Get(ctx, "interview-1")
	if err != nil || record == nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != entities.SessionActive || record.Runs != 1 {
		t.Errorf("Expected active record with 1 run, got %+v", record)
	}

	ended := time.Now()
	if err := repo.Finish(ctx, "interview-1", ended, "end_of_stream"); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	record, _ = repo.Get(ctx, "interview-1")
	if record.Status != entities.SessionEnded || record.EndReason != "end_of_stream" {
		t.Errorf("Expected ended record, got %+v", record)
	}
	if record.EndedAt == nil || !record.EndedAt.Equal(ended) {
		t.Errorf("Expected ended_at %v, got %v", ended, record.EndedAt)
	}

	restart := entities.NewSession("interview-1", entities.DefaultAudioFormat(1), false)
	if err := repo.Start(ctx, restart); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	record, _ = repo.Get(ctx, "interview-1")
	if record.Runs != 2 || record.EndedAt != nil || !record.Mono {
		t.Errorf("Expected reactivated mono record with 2 runs, got %+v", record)
	}
	if !record.StartedAt.Equal(session.StartedAt) {
		t.Errorf("Expected first start time to be kept")
	}
}

func TestMemorySessionRepository_Errors(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	if err := repo.Finish(ctx, "missing", time.Now(), "stopped"); !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("Expected ErrPersistence, got %v", err)
	}
	if err := repo.Start(ctx, &entities.Session{}); !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("Expected ErrPersistence for invalid session, got %v", err)
	}

	record, err := repo.Get(ctx, "missing")
	if err != nil || record != nil {
		t.Errorf("Expected nil record without error, got %+v, %v", record, err)
	}
}
