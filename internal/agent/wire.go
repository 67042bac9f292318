package agent

import (
	"time"

	"github.com/ManageCommand/managecommand/internal/catalog"
)

// Result statuses reported back to the control server.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
)

// ExecutionRequest is a server-issued order to run one command.
type ExecutionRequest struct {
	ID          string    `json:"id"`
	Command     string    `json:"command"`
	Args        []string  `json:"args,omitempty"`
	TimeoutSecs int       `json:"timeout_secs,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// ExecutionResult echoes a request identifier with its outcome. Immutable
// once reported.
type ExecutionResult struct {
	ID         string        `json:"id"`
	Status     string        `json:"status"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	Duration   time.Duration `json:"-"`
}

type syncRequest struct {
	AgentID  string               `json:"agent_id"`
	Commands []catalog.Descriptor `json:"commands"`
	Hash     string               `json:"hash"`
}

type syncResponse struct {
	SyncedCount  int    `json:"synced_count"`
	CommandsHash string `json:"commands_hash"`
}

type heartbeatRequest struct {
	AgentID      string `json:"agent_id"`
	AgentVersion string `json:"agent_version"`
	GoVersion    string `json:"go_version"`
	Hostname     string `json:"hostname"`
	CommandsHash string `json:"commands_hash"`
	InFlight     int    `json:"in_flight"`
}

type heartbeatResponse struct {
	CommandsInSync    bool `json:"commands_in_sync"`
	PendingExecutions int  `json:"pending_executions"`
}

type pendingResponse struct {
	Executions []ExecutionRequest `json:"executions"`
}
