package runner

import (
	"time"

	"qguard/internal/assertion"
	"qguard/internal/extractor"
	"qguard/internal/template"
	"qguard/internal/token"
)

// Result represents the outcome of a row or a run
type Result string

const (
	// ResultPassed indicates every assertion held and no error occurred
	ResultPassed Result = "PASSED"
	// ResultFailed indicates an assertion failed or the row errored
	ResultFailed Result = "FAILED"
	// ResultSkipped indicates the row never ran because the run was cancelled
	ResultSkipped Result = "SKIPPED"
)

// DataRow is one unit of driven data. It may carry request and assertion
// overrides, expected_* fields and <base>_<n> array fields.
type DataRow map[string]interface{}

// RunSpec is everything one orchestration pass needs. It is not modified
// by the runner.
type RunSpec struct {
	Name       string
	BaseURL    string
	Request    template.Request
	Assertions []assertion.Assertion
	Extractors []extractor.Spec
	Token      *token.Config
	// Variables seed the run's variable pool.
	Variables map[string]interface{}
	// Rows holds the driven data; an empty list runs once with an empty row.
	Rows []DataRow
}

// ResponseSnapshot is the part of a response kept in results.
type ResponseSnapshot struct {
	Status   int           `json:"status"`
	Body     interface{}   `json:"body,omitempty"`
	Text     string        `json:"text,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ExecutionResult is the outcome of one row.
type ExecutionResult struct {
	Index      int                `json:"index"`
	Request    template.Resolved  `json:"request"`
	Response   *ResponseSnapshot  `json:"response,omitempty"`
	Assertions []assertion.Result `json:"assertions"`
	Status     Result             `json:"status"`
	Error      string             `json:"error,omitempty"`
	Retried    bool               `json:"retried,omitempty"`
	Duration   time.Duration      `json:"duration"`
}

// Passed reports whether the row passed.
func (r ExecutionResult) Passed() bool {
	return r.Status == ResultPassed
}

// Summary aggregates the results of one run.
type Summary struct {
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Status    Result        `json:"status"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
}

// Complete reports whether every row ran. Rows are skipped only when the
// run was cancelled.
func (s Summary) Complete() bool {
	return s.Skipped == 0
}

// Run is the complete output of one orchestration pass. Results are ordered
// by row index.
type Run struct {
	Summary    Summary           `json:"summary"`
	Results    []ExecutionResult `json:"details"`
	Transcript []string          `json:"-"`
}

// Summarize derives a summary from results. The run passes iff no row failed.
func Summarize(results []ExecutionResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case ResultPassed:
			s.Passed++
		case ResultSkipped:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	s.Status = ResultPassed
	if s.Failed > 0 {
		s.Status = ResultFailed
	}
	return s
}
