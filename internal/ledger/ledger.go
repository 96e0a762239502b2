// Package ledger wires the store, workspace and services for one workspace
// root into a single instance.
package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sharma-sourabh3435/provenance-ledger/internal/artifacts"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/jobs"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/logs"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/runs"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/storage"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/workspace"
	"github.com/sharma-sourabh3435/provenance-ledger/pkg/utils"
)

// AbandonedMessage is logged to every run failed by reconciliation
const AbandonedMessage = "run abandoned by previous process"

// Options configures Open
type Options struct {
	Root               string
	ReconcileAbandoned bool
	Logger             *utils.Logger
}

// Ledger is one workspace's job ledger
type Ledger struct {
	Workspace *workspace.Workspace
	Runs      *runs.Service
	Logs      *logs.Service
	Artifacts *artifacts.Service
	Jobs      *jobs.Executor

	store    storage.Storage
	logger   *utils.Logger
	shutdown sync.Once
}

// Open initializes the workspace, opens (and migrates) the store and builds
// the services
func Open(opts Options) (*Ledger, error) {
	logger := opts.Logger
	if logger == nil {
		logger = utils.Component("ledger")
	}

	ws, err := workspace.New(opts.Root)
	if err != nil {
		return nil, err
	}
	if err := ws.Init(); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(ws.ReservedPath(), models.DefaultDatabaseName)
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger store: %w", err)
	}

	blobs, err := ws.Sub(filepath.ToSlash(filepath.Join(models.ReservedDir, models.DefaultArtifactsDir)))
	if err != nil {
		store.Close()
		return nil, err
	}

	l := &Ledger{
		Workspace: ws,
		Runs:      runs.NewService(store),
		Logs:      logs.NewService(store),
		Artifacts: artifacts.NewService(store, blobs),
		store:     store,
		logger:    logger,
	}
	l.Jobs = jobs.NewExecutor(jobs.Config{
		Runs:      l.Runs,
		Logs:      l.Logs,
		Artifacts: l.Artifacts,
		Workspace: ws,
		Logger:    logger.WithComponent("jobs"),
	})

	logger.Info("Ledger opened at %s", ws.Root())

	if opts.ReconcileAbandoned {
		if err := l.reconcile(context.Background()); err != nil {
			l.Shutdown()
			return nil, err
		}
	}

	return l, nil
}

// reconcile fails every run a previous process left running.
func (l *Ledger) reconcile(ctx context.Context) error {
	failed, err := l.Runs.FailAbandoned(ctx)
	if err != nil {
		return err
	}

	for _, run := range failed {
		if _, err := l.Logs.AppendLog(ctx, logs.AppendRequest{
			RunID:   run.ID,
			TraceID: run.TraceID,
			Level:   models.LogLevelError,
			Message: AbandonedMessage,
		}); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		l.logger.Warn("Failed %d abandoned runs", len(failed))
	}
	return nil
}

// Ping checks the store connection
func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

// Shutdown stops accepting runs, abandons in-flight ones, clears log
// subscriptions and closes the store. Safe to call more than once.
func (l *Ledger) Shutdown() error {
	var err error
	l.shutdown.Do(func() {
		l.Jobs.Close()
		l.Logs.ClearSubscriptions()
		if cerr := l.store.Close(); cerr != nil {
			err = fmt.Errorf("failed to close ledger store: %w", cerr)
			return
		}
		l.logger.Info("Ledger at %s shut down", l.Workspace.Root())
	})
	return err
}
