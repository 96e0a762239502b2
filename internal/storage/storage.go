package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// Storage defines the interface for database operations
type Storage interface {
	// Run operations
	InsertRun(ctx context.Context, run *models.Run) error
	UpdateRunStatus(ctx context.Context, runID, status string, finishedAt time.Time) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	ListRuns(ctx context.Context) ([]*models.Run, error)
	FailRunningRuns(ctx context.Context, finishedAt time.Time) ([]*models.Run, error)

	// Log operations
	InsertLog(ctx context.Context, entry *models.LogEntry) error
	ListLogs(ctx context.Context, runID string) ([]*models.LogEntry, error)

	// Artifact operations
	InsertArtifact(ctx context.Context, artifact *models.Artifact) error
	ListArtifacts(ctx context.Context, runID string) ([]*models.Artifact, error)

	// Database management
	Close() error
	Ping(ctx context.Context) error
}
