package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"qguard/internal/clock"

	"github.com/google/uuid"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store.
type Memory struct {
	mu           sync.RWMutex
	executions   map[string]*Execution
	environments map[string]*Environment
	clock        clock.Clock
}

// NewMemory creates an empty in-memory store. A nil clock uses real time.
func NewMemory(c clock.Clock) *Memory {
	if c == nil {
		c = clock.Real{}
	}
	return &Memory{
		executions:   make(map[string]*Execution),
		environments: make(map[string]*Environment),
		clock:        c,
	}
}

func (m *Memory) Create(_ context.Context, e *Execution) (*Execution, error) {
	rec := e.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.clock.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[rec.ID]; exists {
		return nil, fmt.Errorf("execution %s already exists", rec.ID)
	}
	m.executions[rec.ID] = rec
	return rec.Clone(), nil
}

func (m *Memory) Get(_ context.Context, id string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (m *Memory) ListPendingScheduled(_ context.Context) ([]*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Execution
	for _, rec := range m.executions {
		if rec.Status == StatusPending && scheduledMode(rec.Config) == "schedule" {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) Claim(_ context.Context, id string, at time.Time) (*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.transition(id, StatusRunning)
	if err != nil {
		return nil, err
	}
	rec.StartedAt = &at
	return rec.Clone(), nil
}

func (m *Memory) Complete(_ context.Context, id string, c Completion) error {
	if !c.Status.IsTerminal() || c.Status == StatusCancelled {
		return fmt.Errorf("complete with status %s: %w", c.Status, ErrInvalidTransition)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.executions[id]
	if !ok {
		return fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if !rec.Status.CanTransition(c.Status) {
		return fmt.Errorf("execution %s: %s -> %s: %w", id, rec.Status, c.Status, ErrInvalidTransition)
	}
	rec.Status = c.Status
	rec.Logs = c.Logs
	rec.Result = append(rec.Result[:0:0], c.Result...)
	finished := c.FinishedAt
	rec.FinishedAt = &finished
	return nil
}

func (m *Memory) Cancel(_ context.Context, id string, logs string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.executions[id]
	if !ok {
		return fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if rec.Status != StatusPending {
		return fmt.Errorf("execution %s: %s -> %s: %w", id, rec.Status, StatusCancelled, ErrInvalidTransition)
	}
	rec.Status = StatusCancelled
	rec.Logs = logs
	rec.FinishedAt = &at
	return nil
}

// transition must be called with the write lock held.
func (m *Memory) transition(id string, next Status) (*Execution, error) {
	rec, ok := m.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if !rec.Status.CanTransition(next) {
		return nil, fmt.Errorf("execution %s: %s -> %s: %w", id, rec.Status, next, ErrInvalidTransition)
	}
	rec.Status = next
	return rec, nil
}

// PutEnvironment adds or replaces an environment.
func (m *Memory) PutEnvironment(env Environment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := env
	m.environments[env.Key] = &e
}

func (m *Memory) GetEnvironment(_ context.Context, key string) (*Environment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	env, ok := m.environments[key]
	if !ok || !env.IsActive {
		return nil, fmt.Errorf("environment %s: %w", key, ErrNotFound)
	}
	c := *env
	return &c, nil
}

// Close is a no-op.
func (m *Memory) Close() {}
