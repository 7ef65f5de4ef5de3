package stores

import (
	"context"
	"time"
)

// RunOperation identifies what a run did.
type RunOperation string

const (
	RunOperationProvision RunOperation = "provision"
	RunOperationDestroy   RunOperation = "destroy"
)

// RunStatus represents the status of a run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusPartial || s == RunStatusFailed
}

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one provision or destroy pass over a topology.
type Run struct {
	ID          string       `json:"id"`
	Operation   RunOperation `json:"operation"`
	Source      string       `json:"source"` // topology path, "demo" or "api"
	Status      RunStatus    `json:"status"`
	Counts      RunCounts    `json:"counts"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       *string      `json:"error,omitempty"`
	Metadata    string       `json:"metadata"` // JSON blob
}

// RunCounts tallies a run's outcome.
type RunCounts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Event is an append-only journal entry.
type Event struct {
	ID           int64      `json:"id"`
	RunID        *string    `json:"run_id,omitempty"`
	Type         string     `json:"type"`
	Kind         string     `json:"kind,omitempty"`
	ResourceID   string     `json:"resource_id,omitempty"`
	ResourceName string     `json:"resource_name,omitempty"`
	Action       string     `json:"action,omitempty"`
	Level        EventLevel `json:"level"`
	Message      string     `json:"message"`
	Details      *string    `json:"details,omitempty"` // JSON blob
	Timestamp    time.Time  `json:"timestamp"`
}

// EventQuery filters GetEvents. Nil fields match everything.
type EventQuery struct {
	RunID  *string
	Kind   *string
	Level  *EventLevel
	Limit  int
	Offset int
}

// Journal is the audit trail of runs and their events.
type Journal interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, counts RunCounts, err *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, q EventQuery) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
