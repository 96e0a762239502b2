// Package runs maintains the run ledger.
package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/storage"
)

// ErrInvalidStatus is returned when finishing a run with a non-terminal status
var ErrInvalidStatus = errors.New("invalid terminal status")

// Service creates, finishes and reads runs
type Service struct {
	storage storage.Storage
	now     func() time.Time
}

// NewService creates a new runs service
func NewService(storage storage.Storage) *Service {
	return &Service{
		storage: storage,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// StartRun inserts a running row and returns its ID. traceID is stored as given.
func (s *Service) StartRun(ctx context.Context, traceID string) (string, error) {
	now := s.now()
	run := &models.Run{
		ID:        uuid.NewString(),
		TraceID:   traceID,
		Status:    models.RunStatusRunning,
		StartedAt: now,
		CreatedAt: now,
	}

	if err := s.storage.InsertRun(ctx, run); err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return run.ID, nil
}

// FinishRun records a terminal status. Calling it twice overwrites; callers
// that need exactly-once semantics must gate it themselves.
func (s *Service) FinishRun(ctx context.Context, runID, status string) error {
	if !models.IsTerminalStatus(status) {
		return fmt.Errorf("%q: %w", status, ErrInvalidStatus)
	}

	if err := s.storage.UpdateRunStatus(ctx, runID, status, s.now()); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

// GetRun returns the run, or nil if it does not exist
func (s *Service) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	run, err := s.storage.GetRun(ctx, runID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns all runs, newest started first
func (s *Service) ListRuns(ctx context.Context) ([]*models.Run, error) {
	return s.storage.ListRuns(ctx)
}

// FailAbandoned finishes every run left running by a previous process as error
func (s *Service) FailAbandoned(ctx context.Context) ([]*models.Run, error) {
	failed, err := s.storage.FailRunningRuns(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile abandoned runs: %w", err)
	}
	return failed, nil
}
