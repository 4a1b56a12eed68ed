package store

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qguard/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusPassed, false},
		{StatusRunning, StatusPassed, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusError, true},
		{StatusRunning, StatusPending, false},
		{StatusPassed, StatusRunning, false},
		{StatusCancelled, StatusPending, false},
		{StatusError, StatusFailed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func newTestMemory() (*Memory, *clock.Manual) {
	c := clock.NewManual(time.Date(2025, 12, 17, 10, 0, 0, 0, time.UTC))
	return NewMemory(c), c
}

func scheduled() json.RawMessage {
	return json.RawMessage(`{"scheduling":{"mode":"schedule","schedule_type":"daily","scheduled_at":"2025-12-17"}}`)
}

func TestMemoryLifecycle(t *testing.T) {
	ctx := context.Background()
	m, c := newTestMemory()

	rec, err := m.Create(ctx, &Execution{Config: scheduled()})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, c.Now(), rec.CreatedAt)

	claimed, err := m.Claim(ctx, rec.ID, c.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	_, err = m.Claim(ctx, rec.ID, c.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = m.Complete(ctx, rec.ID, Completion{
		Status:     StatusPassed,
		Logs:       "done",
		Result:     json.RawMessage(`{"summary":{"total":1}}`),
		FinishedAt: c.Now(),
	})
	require.NoError(t, err)

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, got.Status)
	assert.Equal(t, "done", got.Logs)
	assert.JSONEq(t, `{"summary":{"total":1}}`, string(got.Result))
	require.NotNil(t, got.FinishedAt)

	err = m.Complete(ctx, rec.ID, Completion{Status: StatusFailed, FinishedAt: c.Now()})
	assert.ErrorIs(t, err, ErrInvalidTransition, "terminal states are never left")
	err = m.Cancel(ctx, rec.ID, "late", c.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMemoryCompleteRequiresTerminalStatus(t *testing.T) {
	ctx := context.Background()
	m, c := newTestMemory()
	rec, err := m.Create(ctx, &Execution{})
	require.NoError(t, err)
	_, err = m.Claim(ctx, rec.ID, c.Now())
	require.NoError(t, err)

	assert.ErrorIs(t, m.Complete(ctx, rec.ID, Completion{Status: StatusPending}), ErrInvalidTransition)
	assert.ErrorIs(t, m.Complete(ctx, rec.ID, Completion{Status: StatusCancelled}), ErrInvalidTransition)
}

func TestMemoryCompletePendingOnlyAsError(t *testing.T) {
	ctx := context.Background()
	m, c := newTestMemory()

	rec, err := m.Create(ctx, &Execution{})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Complete(ctx, rec.ID, Completion{Status: StatusPassed, FinishedAt: c.Now()}), ErrInvalidTransition)
	assert.ErrorIs(t, m.Complete(ctx, rec.ID, Completion{Status: StatusFailed, FinishedAt: c.Now()}), ErrInvalidTransition)

	require.NoError(t, m.Complete(ctx, rec.ID, Completion{Status: StatusError, Logs: "✗ bad config", FinishedAt: c.Now()}))
	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "✗ bad config", got.Logs)
	assert.Nil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)
}

func TestMemoryCancel(t *testing.T) {
	ctx := context.Background()
	m, c := newTestMemory()
	rec, err := m.Create(ctx, &Execution{Config: scheduled()})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, rec.ID, "window closed", c.Now()))
	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "window closed", got.Logs)
	assert.Nil(t, got.StartedAt)

	_, err = m.Claim(ctx, rec.ID, c.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMemoryNotFound(t *testing.T) {
	ctx := context.Background()
	m, c := newTestMemory()

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Claim(ctx, "missing", c.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Cancel(ctx, "missing", "", c.Now()), ErrNotFound)
	assert.ErrorIs(t, m.Complete(ctx, "missing", Completion{Status: StatusPassed}), ErrNotFound)
	_, err = m.GetEnvironment(ctx, "dev")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryListPendingScheduled(t *testing.T) {
	ctx := context.Background()
	m, c := newTestMemory()

	second, err := m.Create(ctx, &Execution{Config: scheduled(), CreatedAt: c.Now().Add(time.Minute)})
	require.NoError(t, err)
	first, err := m.Create(ctx, &Execution{Config: scheduled()})
	require.NoError(t, err)
	_, err = m.Create(ctx, &Execution{Config: json.RawMessage(`{"scheduling":{"mode":"manual"}}`)})
	require.NoError(t, err)
	_, err = m.Create(ctx, &Execution{})
	require.NoError(t, err)
	started, err := m.Create(ctx, &Execution{Config: scheduled()})
	require.NoError(t, err)
	_, err = m.Claim(ctx, started.ID, c.Now())
	require.NoError(t, err)

	pending, err := m.ListPendingScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()
	rec, err := m.Create(ctx, &Execution{Logs: "original"})
	require.NoError(t, err)

	rec.Logs = "mutated"
	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Logs)
}

func TestMemoryConcurrentClaim(t *testing.T) {
	ctx := context.Background()
	m, c := newTestMemory()
	rec, err := m.Create(ctx, &Execution{Config: scheduled()})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Claim(ctx, rec.ID, c.Now()); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryEnvironment(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()
	m.PutEnvironment(Environment{
		Key:            "dev",
		Name:           "Development",
		BaseURL:        "http://dev.local",
		IsActive:       true,
		DefaultHeaders: map[string]interface{}{"X-Env": "dev"},
	})
	m.PutEnvironment(Environment{Key: "old", Name: "Old"})

	env, err := m.GetEnvironment(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, "http://dev.local", env.BaseURL)
	assert.Equal(t, "dev", env.DefaultHeaders["X-Env"])

	_, err = m.GetEnvironment(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound, "inactive environments are hidden")
}

func TestScheduledMode(t *testing.T) {
	assert.Equal(t, "schedule", scheduledMode(scheduled()))
	assert.Equal(t, "", scheduledMode(nil))
	assert.Equal(t, "", scheduledMode(json.RawMessage(`not json`)))
}
