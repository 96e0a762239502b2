// Package artifacts stores job output blobs and indexes their provenance.
package artifacts

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/storage"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/workspace"
)

const (
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	idLength   = 22
)

// WriteRequest describes an artifact to persist
type WriteRequest struct {
	RunID     string
	TraceID   string
	Path      string
	Content   []byte
	JobKey    string
	InputHash string
}

// Service writes artifact blobs under <artifacts-root>/<runID>/<path> and
// records them in the store
type Service struct {
	storage storage.Storage
	files   *workspace.Workspace
	now     func() time.Time
}

// NewService creates an artifacts service whose blobs live in files
func NewService(storage storage.Storage, files *workspace.Workspace) *Service {
	return &Service{
		storage: storage,
		files:   files,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// blobPath joins the run namespace and the job-chosen path. Both halves go
// through the workspace traversal check.
func blobPath(runID, rel string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("artifact run id is required")
	}
	if rel == "" {
		return "", fmt.Errorf("artifact path is required")
	}
	return filepath.Join(runID, filepath.FromSlash(rel)), nil
}

// WriteArtifact writes the blob, then inserts its index row. A crash between
// the two leaves an unindexed file.
func (s *Service) WriteArtifact(ctx context.Context, req WriteRequest) (*models.Artifact, error) {
	if _, err := s.files.Resolve(req.RunID); err != nil {
		return nil, err
	}
	if _, err := s.files.Resolve(req.Path); err != nil {
		return nil, err
	}

	rel, err := blobPath(req.RunID, req.Path)
	if err != nil {
		return nil, err
	}
	if err := s.files.WriteFile(rel, req.Content); err != nil {
		return nil, fmt.Errorf("failed to write artifact blob: %w", err)
	}

	id, err := gonanoid.Generate(idAlphabet, idLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate artifact id: %w", err)
	}

	artifact := &models.Artifact{
		ID:        id,
		RunID:     req.RunID,
		TraceID:   req.TraceID,
		Path:      path.Clean(filepath.ToSlash(req.Path)),
		JobKey:    req.JobKey,
		InputHash: req.InputHash,
		CreatedAt: s.now(),
	}
	if err := s.storage.InsertArtifact(ctx, artifact); err != nil {
		return nil, err
	}
	return artifact, nil
}

// ListArtifacts returns the run's artifacts in write order
func (s *Service) ListArtifacts(ctx context.Context, runID string) ([]*models.Artifact, error) {
	return s.storage.ListArtifacts(ctx, runID)
}

// ReadArtifact returns the blob stored for runID at rel
func (s *Service) ReadArtifact(ctx context.Context, runID, rel string) ([]byte, error) {
	if _, err := s.files.Resolve(runID); err != nil {
		return nil, err
	}
	if _, err := s.files.Resolve(rel); err != nil {
		return nil, err
	}

	p, err := blobPath(runID, rel)
	if err != nil {
		return nil, err
	}
	return s.files.ReadFile(p)
}

// Root returns the absolute directory holding all artifact blobs
func (s *Service) Root() string {
	return s.files.Root()
}
