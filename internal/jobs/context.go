package jobs

import (
	"context"
	"fmt"

	"github.com/sharma-sourabh3435/provenance-ledger/internal/artifacts"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/logs"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/workspace"
	"github.com/sharma-sourabh3435/provenance-ledger/pkg/utils"
)

// Progress is reported by a job body while it runs
type Progress struct {
	RunID   string `json:"run_id"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// LogAppender persists run log lines
type LogAppender interface {
	AppendLog(ctx context.Context, req logs.AppendRequest) (*models.LogEntry, error)
}

// ArtifactWriter persists artifact blobs with provenance
type ArtifactWriter interface {
	WriteArtifact(ctx context.Context, req artifacts.WriteRequest) (*models.Artifact, error)
}

// RunLogger appends lines to one run's log
type RunLogger struct {
	ctx      context.Context
	runID    string
	traceID  string
	appender LogAppender
	mirror   *utils.Logger
}

// Log appends a line at the given level
func (l *RunLogger) Log(level, message string) error {
	if _, err := l.appender.AppendLog(l.ctx, logs.AppendRequest{
		RunID:   l.runID,
		TraceID: l.traceID,
		Level:   level,
		Message: message,
	}); err != nil {
		l.mirror.Error("Failed to append run log: %v", err)
		return err
	}
	l.mirror.Debug("[%s] %s", level, message)
	return nil
}

// Debugf appends a formatted debug line
func (l *RunLogger) Debugf(format string, args ...interface{}) {
	_ = l.Log(models.LogLevelDebug, fmt.Sprintf(format, args...))
}

// Infof appends a formatted info line
func (l *RunLogger) Infof(format string, args ...interface{}) {
	_ = l.Log(models.LogLevelInfo, fmt.Sprintf(format, args...))
}

// Warnf appends a formatted warning line
func (l *RunLogger) Warnf(format string, args ...interface{}) {
	_ = l.Log(models.LogLevelWarn, fmt.Sprintf(format, args...))
}

// Errorf appends a formatted error line
func (l *RunLogger) Errorf(format string, args ...interface{}) {
	_ = l.Log(models.LogLevelError, fmt.Sprintf(format, args...))
}

// Context is everything a job body can reach. The cancellation token is the
// context.Context passed alongside it.
type Context struct {
	RunID     string
	TraceID   string
	JobKey    string
	InputHash string

	Log       *RunLogger
	Workspace *workspace.Workspace

	writeArtifact func(path string, content []byte) (*models.Artifact, error)
	progress      func(Progress)
}

// WriteArtifact stores content at the run-relative path, stamped with this
// run's provenance
func (c *Context) WriteArtifact(path string, content []byte) (*models.Artifact, error) {
	return c.writeArtifact(path, content)
}

// Progress reports progress to the caller, if it asked for it
func (c *Context) Progress(percent int, message string) {
	c.progress(Progress{RunID: c.RunID, Percent: percent, Message: message})
}

// ContextParams binds a Context to one run
type ContextParams struct {
	// Ctx is used for ledger writes; it must outlive the run's cancellation token.
	Ctx        context.Context
	RunID      string
	TraceID    string
	JobKey     string
	InputHash  string
	Logs       LogAppender
	Artifacts  ArtifactWriter
	Workspace  *workspace.Workspace
	OnProgress func(Progress)
	Logger     *utils.Logger
}

// NewContext assembles the capability object for a job body
func NewContext(p ContextParams) *Context {
	ctx := p.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	mirror := p.Logger
	if mirror == nil {
		mirror = utils.Component("job")
	}
	mirror = mirror.WithFields(map[string]interface{}{
		"run_id":   p.RunID,
		"trace_id": p.TraceID,
		"job_key":  p.JobKey,
	})

	progress := p.OnProgress
	if progress == nil {
		progress = func(Progress) {}
	}

	return &Context{
		RunID:     p.RunID,
		TraceID:   p.TraceID,
		JobKey:    p.JobKey,
		InputHash: p.InputHash,
		Log: &RunLogger{
			ctx:      ctx,
			runID:    p.RunID,
			traceID:  p.TraceID,
			appender: p.Logs,
			mirror:   mirror,
		},
		Workspace: p.Workspace,
		writeArtifact: func(path string, content []byte) (*models.Artifact, error) {
			return p.Artifacts.WriteArtifact(ctx, artifacts.WriteRequest{
				RunID:     p.RunID,
				TraceID:   p.TraceID,
				Path:      path,
				Content:   content,
				JobKey:    p.JobKey,
				InputHash: p.InputHash,
			})
		},
		progress: progress,
	}
}
