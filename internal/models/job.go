package models

import "encoding/json"

// StartRunRequest represents the request payload for starting a job run
type StartRunRequest struct {
	Input   json.RawMessage `json:"input,omitempty"`
	TraceID string          `json:"trace_id,omitempty"`
}

// StartRunResponse is returned once a run has been allocated
type StartRunResponse struct {
	RunID string `json:"run_id"`
}

// RunWithLedger represents a run together with everything it produced
type RunWithLedger struct {
	Run
	Logs      []*LogEntry `json:"logs,omitempty"`
	Artifacts []*Artifact `json:"artifacts,omitempty"`
}
