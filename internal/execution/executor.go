package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"qguard/internal/clock"
	"qguard/internal/runner"
	"qguard/internal/store"
	"qguard/pkg/logging"
)

// PersistTimeout bounds writes made after a run, which happen even when the
// run's own context was cancelled.
var PersistTimeout = 10 * time.Second

// persistContext detaches ctx from cancellation so a run's outcome is still
// recorded after shutdown or a client disconnect.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), PersistTimeout)
}

// Archiver stores a copy of a completed run's report.
type Archiver interface {
	Archive(ctx context.Context, id string, run *runner.Run) error
}

// Executor runs claimed execution records and writes their results back.
type Executor struct {
	executions store.Executions
	builder    *Builder
	runner     *runner.Runner
	archiver   Archiver
	clock      clock.Clock
}

// Option configures an Executor.
type Option func(*Executor)

// WithArchiver enables report archiving.
func WithArchiver(a Archiver) Option {
	return func(x *Executor) { x.archiver = a }
}

// WithClock sets the clock used for finished_at stamps.
func WithClock(c clock.Clock) Option {
	return func(x *Executor) { x.clock = c }
}

// NewExecutor wires an executor.
func NewExecutor(executions store.Executions, builder *Builder, r *runner.Runner, opts ...Option) *Executor {
	x := &Executor{
		executions: executions,
		builder:    builder,
		runner:     r,
		clock:      clock.Real{},
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Report is the persisted result document.
type Report struct {
	Summary runner.Summary           `json:"summary"`
	Details []runner.ExecutionResult `json:"details"`
}

// Execute runs a record that has already been claimed and completes it.
// A configuration that cannot be built completes the record as error, and
// so does a run interrupted before every row ran. The returned error is
// non-nil when the record could not be run or its outcome could not be
// persisted.
func (x *Executor) Execute(ctx context.Context, rec *store.Execution) (*runner.Run, error) {
	logging.Info("Execution", "Executing %s", rec.ID)

	cfg, err := ParseConfig(rec.Config)
	if err != nil {
		return nil, x.fail(ctx, rec.ID, err)
	}
	spec, err := x.builder.Build(ctx, rec.ID, cfg)
	if err != nil {
		return nil, x.fail(ctx, rec.ID, err)
	}

	run := x.runner.Run(ctx, spec)

	pctx, cancel := persistContext(ctx)
	defer cancel()

	status := store.StatusPassed
	logs := run.Transcript
	switch {
	case !run.Summary.Complete():
		status = store.StatusError
		logs = append(logs, fmt.Sprintf("✗ run interrupted: %d of %d rows did not run", run.Summary.Skipped, run.Summary.Total))
	case run.Summary.Status != runner.ResultPassed:
		status = store.StatusFailed
	}
	result, err := json.Marshal(Report{Summary: run.Summary, Details: run.Results})
	if err != nil {
		return run, x.fail(pctx, rec.ID, fmt.Errorf("encode result: %w", err))
	}
	err = x.executions.Complete(pctx, rec.ID, store.Completion{
		Status:     status,
		Logs:       strings.Join(logs, "\n"),
		Result:     result,
		FinishedAt: x.clock.Now(),
	})
	if err != nil {
		return run, fmt.Errorf("persist result of %s: %w", rec.ID, err)
	}
	logging.Info("Execution", "Execution %s finished with %s", rec.ID, status)

	x.archive(pctx, rec.ID, run)
	return run, nil
}

// RunConfig builds and runs cfg without persisting anything.
func (x *Executor) RunConfig(ctx context.Context, name string, cfg *RunConfig) (*runner.Run, error) {
	spec, err := x.builder.Build(ctx, name, cfg)
	if err != nil {
		return nil, err
	}
	return x.runner.Run(ctx, spec), nil
}

// MarkError completes a running record as error with msg as its log.
// Records that already reached a terminal state are left alone.
func (x *Executor) MarkError(ctx context.Context, id string, msg string) error {
	err := x.executions.Complete(ctx, id, store.Completion{
		Status:     store.StatusError,
		Logs:       msg,
		FinishedAt: x.clock.Now(),
	})
	if errors.Is(err, store.ErrInvalidTransition) {
		logging.Debug("Execution", "Execution %s already completed, not marking error", id)
		return nil
	}
	return err
}

func (x *Executor) fail(ctx context.Context, id string, cause error) error {
	logging.Error("Execution", cause, "Execution %s failed before running", id)
	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := x.MarkError(pctx, id, "✗ "+cause.Error()); err != nil {
		return errors.Join(cause, fmt.Errorf("mark %s as error: %w", id, err))
	}
	return cause
}

func (x *Executor) archive(ctx context.Context, id string, run *runner.Run) {
	if x.archiver == nil {
		return
	}
	if err := x.archiver.Archive(ctx, id, run); err != nil {
		logging.Warn("Execution", "Archiving report of %s failed: %v", id, err)
	}
}
