package models

import "time"

// Run represents one invocation of a job
type Run struct {
	ID         string     `json:"id" db:"id"`
	TraceID    string     `json:"trace_id" db:"trace_id"`
	Status     string     `json:"status" db:"status"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// IsTerminal reports whether the run has left the running state
func (r *Run) IsTerminal() bool {
	return IsTerminalStatus(r.Status)
}

// LogEntry is a single line appended to a run's log
type LogEntry struct {
	ID        int64     `json:"id" db:"id"`
	RunID     string    `json:"run_id" db:"run_id"`
	TraceID   string    `json:"trace_id" db:"trace_id"`
	Level     string    `json:"level" db:"level"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Artifact is an output blob recorded against a run with its provenance
type Artifact struct {
	ID        string    `json:"id" db:"id"`
	RunID     string    `json:"run_id" db:"run_id"`
	TraceID   string    `json:"trace_id" db:"trace_id"`
	Path      string    `json:"path" db:"path"`
	JobKey    string    `json:"job_key" db:"job_key"`
	InputHash string    `json:"input_hash" db:"input_hash"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
