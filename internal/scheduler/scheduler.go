package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"qguard/internal/clock"
	"qguard/internal/execution"
	"qguard/internal/runner"
	"qguard/internal/schedule"
	"qguard/internal/store"
	"qguard/pkg/logging"

	"github.com/robfig/cron/v3"
)

// DefaultInterval is the poll interval used when Options leaves it zero.
const DefaultInterval = 10 * time.Minute

// SuccessorLog is the log text of a freshly spawned successor record.
const SuccessorLog = "scheduled run created, waiting for execution"

// Dispatcher runs a claimed record to completion.
type Dispatcher interface {
	Execute(ctx context.Context, rec *store.Execution) (*runner.Run, error)
}

// Options tunes the scheduler.
type Options struct {
	Interval time.Duration
	// Location is where schedule wall-clock strings are interpreted.
	Location *time.Location
	Clock    clock.Clock
	// Locker is optional; when set, a record is locked while it is claimed.
	Locker  Locker
	LockTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.LockTTL <= 0 {
		o.LockTTL = time.Minute
	}
	return o
}

// Scheduler is the recurrence scheduler.
type Scheduler struct {
	executions store.Executions
	dispatcher Dispatcher
	opts       Options
	clock      clock.Clock

	mu         sync.Mutex
	cron       *cron.Cron
	ctx        context.Context
	cancelFunc context.CancelFunc
	inFlight   sync.WaitGroup
}

// New creates a scheduler.
func New(executions store.Executions, dispatcher Dispatcher, opts Options) *Scheduler {
	opts = opts.withDefaults()
	return &Scheduler{
		executions: executions,
		dispatcher: dispatcher,
		opts:       opts,
		clock:      clock.In(opts.Clock, opts.Location),
	}
}

// Start begins polling. The first poll runs immediately; later polls follow
// the interval and are skipped while a previous poll is still running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	s.ctx, s.cancelFunc = context.WithCancel(ctx)
	logger := cronLogger{}
	job := cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).
		Then(cron.FuncJob(func() { s.pollGuarded(s.ctx) }))

	s.cron = cron.New(cron.WithLogger(logger), cron.WithLocation(s.opts.Location))
	s.cron.Schedule(cron.Every(s.opts.Interval), job)
	s.cron.Start()

	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		job.Run()
	}()

	logging.Info("Scheduler", "Started, polling every %s in %s", s.opts.Interval, s.opts.Location)
	return nil
}

// Stop stops polling and waits for in-flight executions until ctx is done,
// then cancels whatever is still running.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	<-c.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for in-flight executions: %w", ctx.Err())
		s.cancelFunc()
		<-done
	}
	s.cancelFunc()
	logging.Info("Scheduler", "Stopped")
	return err
}

// Wait blocks until every dispatched execution has finished.
func (s *Scheduler) Wait() {
	s.inFlight.Wait()
}

func (s *Scheduler) pollGuarded(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Scheduler", fmt.Errorf("panic: %v", r), "Poll crashed\n%s", debug.Stack())
		}
	}()
	if err := s.Poll(ctx); err != nil {
		logging.Error("Scheduler", err, "Poll failed")
	}
}

// Poll runs one scan over pending scheduled records. Due records are
// dispatched asynchronously; use Wait to wait for them.
func (s *Scheduler) Poll(ctx context.Context) error {
	pending, err := s.executions.ListPendingScheduled(ctx)
	if err != nil {
		return fmt.Errorf("list pending executions: %w", err)
	}
	now := s.clock.Now()
	logging.Debug("Scheduler", "Checking %d pending scheduled executions at %s", len(pending), now.Format(schedule.DateTimeLayout))

	for _, rec := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.check(ctx, rec, now)
	}
	return nil
}

// check evaluates one record. A bad record is logged and skipped.
func (s *Scheduler) check(ctx context.Context, rec *store.Execution, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Scheduler", fmt.Errorf("panic: %v", r), "Checking execution %s crashed", rec.ID)
		}
	}()

	cfg, err := execution.ParseConfig(rec.Config)
	if err != nil {
		logging.Warn("Scheduler", "Skipping execution %s: %v", rec.ID, err)
		return
	}
	if !cfg.IsScheduled() {
		return
	}
	spec := *cfg.Scheduling

	decision, reason, err := schedule.Evaluate(spec, stateOf(rec), now)
	if err != nil {
		logging.Warn("Scheduler", "Skipping execution %s: %v", rec.ID, err)
		return
	}

	switch decision {
	case schedule.Wait:
		logging.Debug("Scheduler", "Execution %s (%s) not due: %s", rec.ID, spec.Kind(), reason)
	case schedule.Cancel:
		if err := s.executions.Cancel(ctx, rec.ID, "✗ cancelled: "+reason, now); err != nil {
			logging.Error("Scheduler", err, "Cancelling execution %s failed", rec.ID)
			return
		}
		logging.Info("Scheduler", "Execution %s cancelled: %s", rec.ID, reason)
	case schedule.Due:
		logging.Info("Scheduler", "Execution %s (%s) is due: %s", rec.ID, spec.Kind(), reason)
		s.dispatch(ctx, rec, spec, now)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, rec *store.Execution, spec schedule.Spec, now time.Time) {
	if s.opts.Locker != nil {
		release, ok, err := s.opts.Locker.Acquire(ctx, rec.ID, s.opts.LockTTL)
		if err != nil {
			logging.Warn("Scheduler", "Skipping execution %s: %v", rec.ID, err)
			return
		}
		if !ok {
			logging.Debug("Scheduler", "Execution %s is locked by another scheduler", rec.ID)
			return
		}
		defer release()
	}

	claimed, err := s.executions.Claim(ctx, rec.ID, now)
	if errors.Is(err, store.ErrInvalidTransition) {
		logging.Debug("Scheduler", "Execution %s already claimed", rec.ID)
		return
	}
	if err != nil {
		logging.Error("Scheduler", err, "Claiming execution %s failed", rec.ID)
		return
	}

	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		s.run(ctx, claimed, spec)
	}()
}

// run executes a claimed record and spawns its successor. A crashed run is
// completed as error; the successor is spawned either way.
// run executes a claimed record and chains its successor. Bookkeeping after
// the run survives cancellation of ctx so a stopped scheduler does not end
// a series.
func (s *Scheduler) run(ctx context.Context, rec *store.Execution, spec schedule.Spec) {
	err := s.execute(ctx, rec)

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), execution.PersistTimeout)
	defer cancel()
	if err != nil {
		logging.Error("Scheduler", err, "Execution %s crashed", rec.ID)
		s.markError(pctx, rec.ID, err)
	}
	s.spawnSuccessor(pctx, rec, spec)
}

func (s *Scheduler) execute(ctx context.Context, rec *store.Execution) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = s.dispatcher.Execute(ctx, rec)
	return err
}

func (s *Scheduler) markError(ctx context.Context, id string, cause error) {
	err := s.executions.Complete(ctx, id, store.Completion{
		Status:     store.StatusError,
		Logs:       "✗ execution crashed: " + cause.Error(),
		FinishedAt: s.clock.Now(),
	})
	if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		logging.Error("Scheduler", err, "Marking execution %s as error failed", id)
	}
}

func (s *Scheduler) spawnSuccessor(ctx context.Context, rec *store.Execution, spec schedule.Spec) {
	now := s.clock.Now()
	next, ok, err := schedule.Next(spec, now)
	if err != nil {
		logging.Error("Scheduler", err, "Computing successor of %s failed", rec.ID)
		return
	}
	if !ok {
		logging.Info("Scheduler", "Execution %s (%s) has no successor", rec.ID, spec.Kind())
		return
	}
	config, err := execution.WithScheduling(rec.Config, next)
	if err != nil {
		logging.Error("Scheduler", err, "Building successor of %s failed", rec.ID)
		return
	}
	successor, err := s.executions.Create(ctx, &store.Execution{
		TestCaseID:  rec.TestCaseID,
		ProjectID:   rec.ProjectID,
		Environment: rec.Environment,
		Status:      store.StatusPending,
		Config:      config,
		Logs:        SuccessorLog,
		CreatedAt:   now,
	})
	if err != nil {
		logging.Error("Scheduler", err, "Creating successor of %s failed", rec.ID)
		return
	}
	logging.Info("Scheduler", "Created successor %s of %s (%s)", successor.ID, rec.ID, spec.Kind())
}

func stateOf(rec *store.Execution) schedule.State {
	state := schedule.State{CreatedAt: rec.CreatedAt}
	if rec.StartedAt != nil {
		state.StartedAt = *rec.StartedAt
	}
	return state
}
