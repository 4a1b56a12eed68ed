package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the record's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the lifecycle state of an execution record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPassed    Status = "passed"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusError, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a record in s may move to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled || next == StatusError
	case StatusRunning:
		return next.IsTerminal()
	}
	return false
}

// Execution is a persisted run of a test case.
type Execution struct {
	ID          string
	TestCaseID  int64
	ProjectID   int64
	Environment string
	Status      Status
	// Config is the run configuration: test case, data rows, scheduling.
	Config json.RawMessage
	// Result holds {summary, details} once the run completed.
	Result     json.RawMessage
	Logs       string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Clone returns a deep copy.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	c := *e
	c.Config = append(json.RawMessage(nil), e.Config...)
	c.Result = append(json.RawMessage(nil), e.Result...)
	if e.StartedAt != nil {
		t := *e.StartedAt
		c.StartedAt = &t
	}
	if e.FinishedAt != nil {
		t := *e.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Completion carries the fields written when a running record finishes.
type Completion struct {
	Status     Status
	Logs       string
	Result     json.RawMessage
	FinishedAt time.Time
}

// Environment is a named target environment. Default headers and params
// are applied beneath a test case's own request fields; Variables seed the
// run's variable pool.
type Environment struct {
	Key            string                 `json:"key"`
	Name           string                 `json:"name"`
	BaseURL        string                 `json:"base_url"`
	IsActive       bool                   `json:"is_active"`
	DefaultHeaders map[string]interface{} `json:"default_headers,omitempty"`
	DefaultParams  map[string]interface{} `json:"default_params,omitempty"`
	Variables      map[string]interface{} `json:"variables,omitempty"`
}

// Executions is the persistence contract for execution records.
type Executions interface {
	// Create inserts a record. An empty ID is assigned and a zero
	// CreatedAt is set to the current time.
	Create(ctx context.Context, e *Execution) (*Execution, error)
	Get(ctx context.Context, id string) (*Execution, error)
	// ListPendingScheduled returns pending records whose config declares
	// scheduling.mode == "schedule", oldest first.
	ListPendingScheduled(ctx context.Context) ([]*Execution, error)
	// Claim moves a pending record to running and stamps started_at. It
	// fails with ErrInvalidTransition when the record is no longer pending.
	Claim(ctx context.Context, id string, at time.Time) (*Execution, error)
	// Complete moves a running record to a terminal status, or a pending
	// record straight to error, and writes its result fields.
	Complete(ctx context.Context, id string, c Completion) error
	// Cancel moves a pending record to cancelled without running it.
	Cancel(ctx context.Context, id string, logs string, at time.Time) error
}

// Environments looks up environments by key.
type Environments interface {
	GetEnvironment(ctx context.Context, key string) (*Environment, error)
}

// Store combines both contracts.
type Store interface {
	Executions
	Environments
	Close()
}

// scheduledMode extracts scheduling.mode from a run config.
func scheduledMode(config json.RawMessage) string {
	if len(config) == 0 {
		return ""
	}
	var doc struct {
		Scheduling struct {
			Mode string `json:"mode"`
		} `json:"scheduling"`
	}
	if err := json.Unmarshal(config, &doc); err != nil {
		return ""
	}
	return doc.Scheduling.Mode
}
