package types

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a run. PENDING and RUNNING are
// transient; SUCCESS and FAILED are terminal and set exactly once.
type RunStatus string

const (
	RunPending RunStatus = "PENDING"
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed
}

// LogLevel is the severity of a run log entry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// RunLog is one append-only log entry emitted during a run. Entries are
// ordered by emission time and never mutated after emission.
type RunLog struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	ActionID  string         `json:"actionId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Run is one execution attempt of a workflow.
type Run struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflowId"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Logs       []RunLog   `json:"logs,omitempty"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`

	// Cancelled marks a FAILED run that was stopped by request rather than
	// by a step failure.
	Cancelled bool `json:"cancelled,omitempty"`
}

// NewRun creates a pending run for the given workflow.
func NewRun(workflowID string) *Run {
	return &Run{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Status:     RunPending,
		StartedAt:  time.Now(),
	}
}

// Schedule describes a recurring trigger for a workflow run. The next fire
// time is always derived from CronExpression and Timezone, never stored.
type Schedule struct {
	ID             string            `json:"id"`
	WorkflowID     string            `json:"workflowId"`
	CronExpression string            `json:"cronExpression"`
	Timezone       string            `json:"timezone"`
	IsActive       bool              `json:"isActive"`
	RunConfig      map[string]any    `json:"runConfig,omitempty"`
	Variables      []Variable        `json:"variables,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}
