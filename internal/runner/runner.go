// Package runner executes a RunSpec: it resolves one request per data row,
// sends it, extracts variables, refreshes tokens when asked to and evaluates
// assertions, then aggregates the per-row results.
package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"qguard/internal/assertion"
	"qguard/internal/clock"
	"qguard/internal/extractor"
	"qguard/internal/template"
	"qguard/internal/token"
	"qguard/internal/transport"
	"qguard/internal/variables"
	"qguard/pkg/logging"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultConcurrencyThreshold = 10
	DefaultMaxWorkers           = 20
	DefaultProgressPercent      = 5
)

// Options tunes the runner.
type Options struct {
	// ConcurrencyThreshold is the row count above which rows run concurrently.
	ConcurrencyThreshold int
	MaxWorkers           int
	// ProgressPercent controls how often progress lines are written.
	ProgressPercent int
	Clock           clock.Clock
}

func (o Options) withDefaults() Options {
	if o.ConcurrencyThreshold <= 0 {
		o.ConcurrencyThreshold = DefaultConcurrencyThreshold
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = DefaultMaxWorkers
	}
	if o.ProgressPercent <= 0 || o.ProgressPercent > 100 {
		o.ProgressPercent = DefaultProgressPercent
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	return o
}

// Runner is the execution orchestrator.
type Runner struct {
	sender    transport.Sender
	resolver  *template.Resolver
	evaluator *assertion.Evaluator
	refresher *token.Refresher
	opts      Options
}

// New creates a runner sending requests through sender.
func New(sender transport.Sender, opts Options) *Runner {
	resolver := template.NewResolver()
	return &Runner{
		sender:    sender,
		resolver:  resolver,
		evaluator: assertion.NewEvaluator(),
		refresher: token.NewRefresher(sender, resolver),
		opts:      opts.withDefaults(),
	}
}

// Run executes every row of spec. Row failures are recorded in the results;
// they never stop the run. Cancelling ctx marks rows that have not started
// as skipped.
func (r *Runner) Run(ctx context.Context, spec RunSpec) *Run {
	rows := spec.Rows
	if len(rows) == 0 {
		rows = []DataRow{{}}
	}

	start := r.opts.Clock.Now()
	transcript := NewTranscript()
	pool := variables.NewPool()
	for name, value := range spec.Variables {
		pool.Set(name, value)
	}
	results := make([]ExecutionResult, len(rows))

	concurrent := len(rows) > r.opts.ConcurrencyThreshold
	mode := "sequential"
	if concurrent {
		mode = fmt.Sprintf("concurrent, %d workers", r.opts.MaxWorkers)
	}
	transcript.Addf("🚀 starting run %s: %d rows (%s)", displayName(spec.Name), len(rows), mode)
	logging.Info("Runner", "Starting run %s with %d rows (%s)", displayName(spec.Name), len(rows), mode)

	progress := newProgress(len(rows), r.opts.ProgressPercent, transcript)

	if concurrent {
		r.runConcurrent(ctx, spec, rows, pool, results, transcript, progress)
	} else {
		for i, row := range rows {
			if err := ctx.Err(); err != nil {
				results[i] = skippedResult(i, err)
				continue
			}
			results[i] = r.runRow(ctx, spec, i, row, pool, transcript)
			progress.done()
		}
	}

	end := r.opts.Clock.Now()
	summary := Summarize(results)
	summary.StartTime = start
	summary.EndTime = end
	summary.Duration = end.Sub(start)

	transcript.Addf("📊 summary: total=%d passed=%d failed=%d skipped=%d status=%s",
		summary.Total, summary.Passed, summary.Failed, summary.Skipped, summary.Status)
	logging.Info("Runner", "Run %s finished: %d/%d passed (%s)", displayName(spec.Name), summary.Passed, summary.Total, summary.Status)

	return &Run{Summary: summary, Results: results, Transcript: transcript.Lines()}
}

// runConcurrent fans rows out to at most MaxWorkers goroutines. Each result
// is written to its own slot, so results keep row order.
func (r *Runner) runConcurrent(ctx context.Context, spec RunSpec, rows []DataRow, pool *variables.Pool, results []ExecutionResult, transcript *Transcript, progress *progress) {
	sem := semaphore.NewWeighted(int64(r.opts.MaxWorkers))
	var g errgroup.Group

	for i, row := range rows {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = skippedResult(i, err)
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			results[i] = r.runRow(ctx, spec, i, row, pool, transcript)
			progress.done()
			return nil
		})
	}
	_ = g.Wait()
}

// runRow executes one row. The row works on a fork of the pool and merges
// its writes back when it finishes.
func (r *Runner) runRow(ctx context.Context, spec RunSpec, index int, row DataRow, shared *variables.Pool, transcript *Transcript) (result ExecutionResult) {
	started := r.opts.Clock.Now()
	local := shared.Fork()
	buf := &rowBuffer{}

	result = ExecutionResult{Index: index, Status: ResultPassed}
	defer func() {
		shared.Merge(local)
		result.Duration = r.opts.Clock.Now().Sub(started)
		if result.Passed() {
			buf.addf("✓ row %d passed", index+1)
		} else {
			buf.addf("✗ row %d failed: %s", index+1, failureReason(result))
		}
		transcript.Append(buf.lines...)
	}()

	req := r.resolver.Resolve(spec.Request, row, local.Snapshot())
	result.Request = req
	buf.addf("▶ row %d: %s %s", index+1, req.Method, transport.JoinURL(spec.BaseURL, req.Path))

	resp, err := r.sender.Send(ctx, spec.BaseURL, req)
	if err != nil {
		result.Status = ResultFailed
		result.Error = err.Error()
		logging.Warn("Runner", "Row %d request failed: %v", index+1, err)
		return result
	}
	result.Response = snapshot(resp)
	buf.add(fmt.Sprintf("HTTP %d in %s", resp.Status, resp.Duration.Round(time.Millisecond)))

	extracted := extractor.Extract(spec.Extractors, extractor.Response{Body: resp.Body, Raw: resp.Raw}, local)
	buf.add(extracted.Lines...)

	if spec.Token.ShouldRefresh(resp.Status) {
		outcome, err := r.refresher.Refresh(ctx, spec.Token, spec.BaseURL, template.RowContext(row, local.Snapshot()), local)
		buf.add(outcome.Lines...)
		if err != nil {
			result.Status = ResultFailed
			result.Error = err.Error()
			logging.Warn("Runner", "Row %d token refresh failed: %v", index+1, err)
			return result
		}

		req.Headers = r.resolver.ResolveHeaders(spec.Request, row, local.Snapshot())
		result.Request = req
		result.Retried = true
		buf.add("🔁 retrying with refreshed token")

		resp, err = r.sender.Send(ctx, spec.BaseURL, req)
		if err != nil {
			result.Status = ResultFailed
			result.Error = err.Error()
			return result
		}
		result.Response = snapshot(resp)
		buf.add(fmt.Sprintf("HTTP %d in %s", resp.Status, resp.Duration.Round(time.Millisecond)))
	}

	assertions := assertion.Select(spec.Assertions, row)
	if len(assertions) == 0 {
		if resp.Status >= 400 {
			result.Status = ResultFailed
			result.Error = fmt.Sprintf("HTTP %d", resp.Status)
		}
		return result
	}

	passed, results := r.evaluator.Evaluate(assertions, assertion.Input{
		Status:  resp.Status,
		Body:    resp.Body,
		Raw:     resp.Raw,
		Context: template.RowContext(row, local.Snapshot()),
	})
	result.Assertions = results
	for _, ar := range results {
		mark := "✓"
		if !ar.Passed {
			mark = "✗"
		}
		buf.add(fmt.Sprintf("%s %s: %s", mark, ar.Type, ar.Message))
	}
	if !passed {
		result.Status = ResultFailed
	}
	return result
}

func snapshot(resp *transport.Response) *ResponseSnapshot {
	return &ResponseSnapshot{
		Status:   resp.Status,
		Body:     resp.Body,
		Text:     resp.Text(),
		Duration: resp.Duration,
	}
}

func skippedResult(index int, err error) ExecutionResult {
	return ExecutionResult{Index: index, Status: ResultSkipped, Error: err.Error()}
}

func failureReason(r ExecutionResult) string {
	if r.Error != "" {
		return r.Error
	}
	failed := 0
	for _, a := range r.Assertions {
		if !a.Passed {
			failed++
		}
	}
	return fmt.Sprintf("%d of %d assertions failed", failed, len(r.Assertions))
}

func displayName(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return fmt.Sprintf("'%s'", name)
}

// progress writes a line every step completed rows.
type progress struct {
	total      int
	step       int64
	completed  atomic.Int64
	transcript *Transcript
}

func newProgress(total, percent int, transcript *Transcript) *progress {
	step := (total*percent + 99) / 100
	if step < 1 {
		step = 1
	}
	return &progress{total: total, step: int64(step), transcript: transcript}
}

func (p *progress) done() {
	n := p.completed.Add(1)
	if p.total <= 1 || (n%p.step != 0 && int(n) != p.total) {
		return
	}
	pct := int(n) * 100 / p.total
	p.transcript.Addf("📊 progress: %d/%d rows (%d%%)", n, p.total, pct)
	logging.Debug("Runner", "Progress %d/%d rows", n, p.total)
}
