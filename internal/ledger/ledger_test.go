package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sharma-sourabh3435/provenance-ledger/internal/jobs"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
)

func openTestLedger(t *testing.T, root string, reconcile bool) *Ledger {
	t.Helper()
	l, err := Open(Options{Root: root, ReconcileAbandoned: reconcile})
	if err != nil {
		t.Fatalf("Failed to open ledger: %v", err)
	}
	return l
}

func waitForStatus(t *testing.T, l *Ledger, runID, status string) *models.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := l.Runs.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("Failed to get run: %v", err)
		}
		if run != nil && run.Status == status {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Run %s did not reach %s", runID, status)
	return nil
}

func TestOpenCreatesLayout(t *testing.T) {
	root := t.TempDir()
	l := openTestLedger(t, root, false)
	defer l.Shutdown()

	if _, err := os.Stat(filepath.Join(root, models.ReservedDir, models.DefaultDatabaseName)); err != nil {
		t.Errorf("Expected database file: %v", err)
	}
	if err := l.Ping(context.Background()); err != nil {
		t.Errorf("Expected store to answer ping: %v", err)
	}
}

func TestEndToEndRun(t *testing.T) {
	root := t.TempDir()
	l := openTestLedger(t, root, false)
	defer l.Shutdown()

	err := l.Jobs.Register(jobs.Definition{Key: "echo", Run: func(_ context.Context, jc *jobs.Context, input json.RawMessage) error {
		jc.Log.Infof("running")
		_, err := jc.WriteArtifact("out.json", input)
		return err
	}})
	if err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	runID, err := l.Jobs.Run(context.Background(), "echo", json.RawMessage(`{"value":1}`), jobs.RunOptions{})
	if err != nil {
		t.Fatalf("Failed to run: %v", err)
	}
	waitForStatus(t, l, runID, models.RunStatusSuccess)
	l.Jobs.Wait()

	entries, _ := l.Logs.ListLogs(context.Background(), runID)
	if len(entries) != 1 || entries[0].Message != "running" {
		t.Errorf("Expected a single running log, got %+v", entries)
	}

	list, _ := l.Artifacts.ListArtifacts(context.Background(), runID)
	if len(list) != 1 || list[0].Path != "out.json" {
		t.Fatalf("Expected out.json artifact, got %+v", list)
	}

	blob := filepath.Join(root, models.ReservedDir, models.DefaultArtifactsDir, runID, "out.json")
	data, err := os.ReadFile(blob)
	if err != nil {
		t.Fatalf("Expected blob under the reserved artifacts dir: %v", err)
	}
	if string(data) != `{"value":1}` {
		t.Errorf("Unexpected blob %s", data)
	}
}

func TestShutdownAbandonsAndReconcileFails(t *testing.T) {
	root := t.TempDir()
	l := openTestLedger(t, root, false)

	started := make(chan struct{})
	err := l.Jobs.Register(jobs.Definition{Key: "block", Run: func(ctx context.Context, _ *jobs.Context, _ json.RawMessage) error {
		close(started)
		<-ctx.Done()
		return nil
	}})
	if err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	runID, err := l.Jobs.Run(context.Background(), "block", nil, jobs.RunOptions{TraceID: "trace-abandoned"})
	if err != nil {
		t.Fatalf("Failed to run: %v", err)
	}
	<-started

	if err := l.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := l.Shutdown(); err != nil {
		t.Errorf("Second shutdown should be a no-op, got %v", err)
	}
	l.Jobs.Wait()

	if _, err := l.Jobs.Run(context.Background(), "block", nil, jobs.RunOptions{}); !errors.Is(err, jobs.ErrClosed) {
		t.Errorf("Expected ErrClosed after shutdown, got %v", err)
	}

	// Without reconciliation the row stays running.
	plain := openTestLedger(t, root, false)
	run, _ := plain.Runs.GetRun(context.Background(), runID)
	if run == nil || run.Status != models.RunStatusRunning {
		t.Fatalf("Expected abandoned run to still be running, got %+v", run)
	}
	plain.Shutdown()

	reconciled := openTestLedger(t, root, true)
	defer reconciled.Shutdown()

	run, _ = reconciled.Runs.GetRun(context.Background(), runID)
	if run.Status != models.RunStatusError || run.FinishedAt == nil {
		t.Errorf("Expected reconciled run to be error with finished_at, got %+v", run)
	}

	entries, _ := reconciled.Logs.ListLogs(context.Background(), runID)
	if len(entries) != 1 || entries[0].Message != AbandonedMessage || entries[0].TraceID != "trace-abandoned" {
		t.Errorf("Expected one abandonment log with the run's trace id, got %+v", entries)
	}
}
