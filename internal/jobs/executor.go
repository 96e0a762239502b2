// Package jobs holds the job registry and drives each run to exactly one
// terminal status.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/logs"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/workspace"
	"github.com/sharma-sourabh3435/provenance-ledger/pkg/utils"
)

var (
	ErrUnknownJob   = errors.New("unknown job")
	ErrDuplicateJob = errors.New("job already registered")
	ErrInvalidJob   = errors.New("invalid job definition")
	ErrInvalidInput = errors.New("invalid job input")
	ErrClosed       = errors.New("executor is closed")
)

// A claimed run has no other owner, so its terminal write is retried.
const (
	settleAttempts = 5
	settleBackoff  = 20 * time.Millisecond
)

// Body is the work of a job. ctx is the run's cancellation token; the body is
// expected to return promptly once it is done.
type Body func(ctx context.Context, jc *Context, input json.RawMessage) error

// Definition is a registered job
type Definition struct {
	Key string
	Run Body
	// MaxRunDuration of zero means no timeout.
	MaxRunDuration time.Duration
}

// RunOptions tune a single run
type RunOptions struct {
	TraceID    string
	OnProgress func(Progress)
}

// RunLedger is the subset of the runs service the executor needs
type RunLedger interface {
	StartRun(ctx context.Context, traceID string) (string, error)
	FinishRun(ctx context.Context, runID, status string) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
}

// handle is what the executor keeps for a live run. Whoever removes it from
// the live map owns the run's single terminal transition.
type handle struct {
	traceID string
	cancel  context.CancelFunc
	timer   *time.Timer
}

// Executor registers job definitions and runs them
type Executor struct {
	runs      RunLedger
	logs      LogAppender
	artifacts ArtifactWriter
	workspace *workspace.Workspace
	logger    *utils.Logger

	// ledgerCtx is used for every ledger write made on behalf of a run so that
	// cancelling the run never aborts its own bookkeeping.
	ledgerCtx context.Context

	mu          sync.Mutex
	definitions map[string]Definition
	live        map[string]*handle
	closed      bool

	wg sync.WaitGroup
}

// Config wires an executor to the ledger services
type Config struct {
	Runs      RunLedger
	Logs      LogAppender
	Artifacts ArtifactWriter
	Workspace *workspace.Workspace
	Logger    *utils.Logger
}

// NewExecutor creates a new executor instance
func NewExecutor(config Config) *Executor {
	logger := config.Logger
	if logger == nil {
		logger = utils.Component("jobs")
	}
	return &Executor{
		runs:        config.Runs,
		logs:        config.Logs,
		artifacts:   config.Artifacts,
		workspace:   config.Workspace,
		logger:      logger,
		ledgerCtx:   context.Background(),
		definitions: make(map[string]Definition),
		live:        make(map[string]*handle),
	}
}

// Register adds a job definition. Keys are unique for the executor's lifetime.
func (e *Executor) Register(def Definition) error {
	if def.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidJob)
	}
	if def.Run == nil {
		return fmt.Errorf("%w: %s has no body", ErrInvalidJob, def.Key)
	}
	if def.MaxRunDuration < 0 {
		return fmt.Errorf("%w: %s has negative max run duration", ErrInvalidJob, def.Key)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.definitions[def.Key]; exists {
		return fmt.Errorf("%q: %w", def.Key, ErrDuplicateJob)
	}
	e.definitions[def.Key] = def
	e.logger.Debug("Registered job %s (max run duration %v)", def.Key, def.MaxRunDuration)
	return nil
}

// Keys returns the registered job keys in sorted order
func (e *Executor) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := make([]string, 0, len(e.definitions))
	for key := range e.definitions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Run starts jobKey with input and returns the new run's ID without waiting
// for the body. Unknown keys and unserializable input fail before any run
// row is created.
func (e *Executor) Run(ctx context.Context, jobKey string, input any, opts RunOptions) (string, error) {
	e.mu.Lock()
	def, ok := e.definitions[jobKey]
	closed := e.closed
	e.mu.Unlock()

	if closed {
		return "", ErrClosed
	}
	if !ok {
		return "", fmt.Errorf("%q: %w", jobKey, ErrUnknownJob)
	}

	payload, err := CanonicalInput(input)
	if err != nil {
		return "", err
	}
	inputHash := HashInput(payload)

	traceID := opts.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	runID, err := e.runs.StartRun(ctx, traceID)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &handle{traceID: traceID, cancel: cancel}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		// The row already exists and no handle will ever settle it.
		e.settle(runID, models.RunStatusError)
		e.logger.Warn("Run %s of job %s started after close, finished as error", runID, def.Key)
		return "", ErrClosed
	}
	e.live[runID] = h
	if def.MaxRunDuration > 0 {
		limit := def.MaxRunDuration
		h.timer = time.AfterFunc(limit, func() { e.expire(runID, limit) })
	}
	e.wg.Add(1)
	e.mu.Unlock()

	jc := NewContext(ContextParams{
		Ctx:        e.ledgerCtx,
		RunID:      runID,
		TraceID:    traceID,
		JobKey:     def.Key,
		InputHash:  inputHash,
		Logs:       e.logs,
		Artifacts:  e.artifacts,
		Workspace:  e.workspace,
		OnProgress: opts.OnProgress,
		Logger:     e.logger,
	})

	e.logger.Info("Started run %s of job %s (trace %s)", runID, def.Key, traceID)

	go e.execute(runCtx, runID, def, jc, payload)

	return runID, nil
}

// execute runs the body and reports its outcome, unless a cancel or timeout
// already claimed the run.
func (e *Executor) execute(ctx context.Context, runID string, def Definition, jc *Context, payload json.RawMessage) {
	defer e.wg.Done()

	err := invoke(ctx, def.Run, jc, payload)

	h, ok := e.claim(runID)
	if !ok {
		e.logger.Debug("Run %s body returned after the run was settled (err: %v)", runID, err)
		return
	}
	h.cancel()

	if err != nil {
		e.appendLog(runID, h.traceID, models.LogLevelError, fmt.Sprintf("job failed: %v", err))
		e.settle(runID, models.RunStatusError)
		e.logger.Warn("Run %s of job %s failed: %v", runID, def.Key, err)
		return
	}

	e.settle(runID, models.RunStatusSuccess)
	e.logger.Info("Run %s of job %s succeeded", runID, def.Key)
}

// invoke calls the body, converting a panic into an error.
func invoke(ctx context.Context, body Body, jc *Context, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return body(ctx, jc, payload)
}

// expire is the timer callback for runs with a max duration.
func (e *Executor) expire(runID string, limit time.Duration) {
	h, ok := e.claim(runID)
	if !ok {
		return
	}

	e.appendLog(runID, h.traceID, models.LogLevelError, fmt.Sprintf("run exceeded max duration of %s", limit))
	h.cancel()
	e.settle(runID, models.RunStatusError)
	e.logger.Warn("Run %s timed out after %v", runID, limit)
}

// Cancel signals the run's body and finishes the run as cancelled. It
// reports false when the run is unknown or already settled. The status write
// does not use ctx, so a caller that goes away cannot strand a claimed run.
func (e *Executor) Cancel(ctx context.Context, runID string) (bool, error) {
	h, ok := e.claim(runID)
	if !ok {
		return false, nil
	}

	h.cancel()
	if err := e.settle(runID, models.RunStatusCancelled); err != nil {
		return true, err
	}
	e.logger.Info("Cancelled run %s", runID)
	return true, nil
}

// claim removes the run's live handle and stops its timer. Only the first
// caller for a given run gets ok == true.
func (e *Executor) claim(runID string) (*handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.live[runID]
	if !ok {
		return nil, false
	}
	delete(e.live, runID)
	if h.timer != nil {
		h.timer.Stop()
	}
	return h, true
}

// finish writes the terminal status if the stored run is still running.
func (e *Executor) finish(ctx context.Context, runID, status string) error {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		e.logger.Error("Failed to read run %s before finishing: %v", runID, err)
		return err
	}
	if run == nil || run.Status != models.RunStatusRunning {
		e.logger.Debug("Run %s not running, skipping transition to %s", runID, status)
		return nil
	}

	if err := e.runs.FinishRun(ctx, runID, status); err != nil {
		e.logger.Error("Failed to finish run %s as %s: %v", runID, status, err)
		return err
	}
	return nil
}

// settle finishes a claimed run with the executor's own context.
func (e *Executor) settle(runID, status string) error {
	var err error
	for attempt := 0; attempt < settleAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * settleBackoff)
		}
		if err = e.finish(e.ledgerCtx, runID, status); err == nil {
			return nil
		}
	}
	e.logger.Error("Giving up on finishing run %s as %s after %d attempts: %v", runID, status, settleAttempts, err)
	return err
}

func (e *Executor) appendLog(runID, traceID, level, message string) {
	if e.logs == nil {
		return
	}
	req := logs.AppendRequest{RunID: runID, TraceID: traceID, Level: level, Message: message}
	if _, err := e.logs.AppendLog(e.ledgerCtx, req); err != nil {
		e.logger.Error("Failed to append log for run %s: %v", runID, err)
	}
}

// IsLive reports whether the run is still owned by a live handle
func (e *Executor) IsLive(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.live[runID]
	return ok
}

// LiveCount returns the number of runs that have not settled yet
func (e *Executor) LiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// Wait blocks until every launched body has returned
func (e *Executor) Wait() {
	e.wg.Wait()
}

// WaitContext is Wait bounded by ctx
func (e *Executor) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new runs, signals every live body and forgets it. Their run
// rows are left as they are.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	for runID, h := range e.live {
		if h.timer != nil {
			h.timer.Stop()
		}
		h.cancel()
		delete(e.live, runID)
	}
}
