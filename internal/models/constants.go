package models

// Run status constants
const (
	RunStatusRunning   = "running"
	RunStatusSuccess   = "success"
	RunStatusError     = "error"
	RunStatusCancelled = "cancelled"
)

// Log level constants used by the ledger itself. Job bodies may use any level string.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// ReservedDir is the workspace subdirectory owned by the ledger.
const ReservedDir = ".ledger"

// Default configuration values
const (
	DefaultDatabaseName  = "ledger.db"
	DefaultArtifactsDir  = "artifacts"
	DefaultInputHashSize = 16 // hex characters
)

// IsTerminalStatus reports whether status is one of the three terminal run states.
func IsTerminalStatus(status string) bool {
	switch status {
	case RunStatusSuccess, RunStatusError, RunStatusCancelled:
		return true
	default:
		return false
	}
}
