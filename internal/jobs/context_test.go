package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/sharma-sourabh3435/provenance-ledger/internal/artifacts"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/logs"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
)

type fakeAppender struct {
	requests []logs.AppendRequest
	err      error
}

func (f *fakeAppender) AppendLog(_ context.Context, req logs.AppendRequest) (*models.LogEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &models.LogEntry{ID: int64(len(f.requests)), RunID: req.RunID, TraceID: req.TraceID, Level: req.Level, Message: req.Message}, nil
}

type fakeWriter struct {
	requests []artifacts.WriteRequest
}

func (f *fakeWriter) WriteArtifact(_ context.Context, req artifacts.WriteRequest) (*models.Artifact, error) {
	f.requests = append(f.requests, req)
	return &models.Artifact{RunID: req.RunID, Path: req.Path, JobKey: req.JobKey, InputHash: req.InputHash, TraceID: req.TraceID}, nil
}

func TestContextStampsProvenance(t *testing.T) {
	appender := &fakeAppender{}
	writer := &fakeWriter{}
	jc := NewContext(ContextParams{
		RunID:     "run-1",
		TraceID:   "trace-1",
		JobKey:    "echo",
		InputHash: "0123456789abcdef",
		Logs:      appender,
		Artifacts: writer,
	})

	jc.Log.Infof("hello %s", "world")
	jc.Log.Errorf("bad %d", 7)
	if _, err := jc.WriteArtifact("out.txt", []byte("x")); err != nil {
		t.Fatalf("WriteArtifact failed: %v", err)
	}

	if len(appender.requests) != 2 {
		t.Fatalf("Expected 2 log requests, got %d", len(appender.requests))
	}
	first := appender.requests[0]
	if first.RunID != "run-1" || first.TraceID != "trace-1" || first.Level != models.LogLevelInfo || first.Message != "hello world" {
		t.Errorf("Unexpected first log request %+v", first)
	}
	if appender.requests[1].Level != models.LogLevelError {
		t.Errorf("Expected error level, got %s", appender.requests[1].Level)
	}

	if len(writer.requests) != 1 {
		t.Fatalf("Expected 1 artifact request, got %d", len(writer.requests))
	}
	w := writer.requests[0]
	if w.RunID != "run-1" || w.TraceID != "trace-1" || w.JobKey != "echo" || w.InputHash != "0123456789abcdef" {
		t.Errorf("Unexpected artifact request %+v", w)
	}
}

func TestRunLoggerReturnsAppendError(t *testing.T) {
	appender := &fakeAppender{err: errors.New("disk full")}
	jc := NewContext(ContextParams{RunID: "run-1", Logs: appender, Artifacts: &fakeWriter{}})

	if err := jc.Log.Log(models.LogLevelWarn, "x"); err == nil {
		t.Error("Expected append error to surface")
	}
	// Formatted helpers swallow the error.
	jc.Log.Warnf("y")
}

func TestProgressWithoutCallback(t *testing.T) {
	jc := NewContext(ContextParams{RunID: "run-1", Logs: &fakeAppender{}, Artifacts: &fakeWriter{}})
	jc.Progress(10, "no listener")
}
