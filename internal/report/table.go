package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"qguard/internal/runner"
	qstrings "qguard/pkg/strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const maxErrorWidth = 60

// Format selects how a run is written.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// Write renders run to w in the given format.
func Write(w io.Writer, run *runner.Run, format Format) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, run)
	case FormatTable, "":
		RenderTable(w, run)
		RenderSummary(w, run.Summary)
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}

// WriteJSON writes {summary, details, transcript} as indented JSON.
func WriteJSON(w io.Writer, run *runner.Run) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Summary    runner.Summary           `json:"summary"`
		Details    []runner.ExecutionResult `json:"details"`
		Transcript []string                 `json:"transcript"`
	}{run.Summary, run.Results, run.Transcript})
}

// RenderTable writes one row per execution result.
func RenderTable(w io.Writer, run *runner.Run) {
	if len(run.Results) == 0 {
		fmt.Fprintf(w, "%s %s\n", text.FgYellow.Sprint("📋"), text.FgYellow.Sprint("No rows executed"))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("ROW"),
		text.FgHiCyan.Sprint("STATUS"),
		text.FgHiCyan.Sprint("METHOD"),
		text.FgHiCyan.Sprint("PATH"),
		text.FgHiCyan.Sprint("HTTP"),
		text.FgHiCyan.Sprint("ASSERTIONS"),
		text.FgHiCyan.Sprint("DURATION"),
		text.FgHiCyan.Sprint("ERROR"),
	})

	for _, res := range run.Results {
		httpStatus := "-"
		if res.Response != nil {
			httpStatus = fmt.Sprintf("%d", res.Response.Status)
		}
		t.AppendRow(table.Row{
			res.Index + 1,
			colorStatus(res.Status),
			res.Request.Method,
			res.Request.Path,
			httpStatus,
			assertionCell(res),
			res.Duration.Round(time.Millisecond).String(),
			qstrings.Truncate(res.Error, maxErrorWidth),
		})
	}
	t.Render()
}

// RenderSummary writes the aggregate line.
func RenderSummary(w io.Writer, s runner.Summary) {
	fmt.Fprintf(w, "\n%s %s  %s %s  %s %s  %s %s  %s %s\n",
		text.FgHiBlue.Sprint("Total:"), text.FgHiWhite.Sprint(s.Total),
		text.FgHiBlue.Sprint("Passed:"), text.FgGreen.Sprint(s.Passed),
		text.FgHiBlue.Sprint("Failed:"), text.FgRed.Sprint(s.Failed),
		text.FgHiBlue.Sprint("Skipped:"), text.FgYellow.Sprint(s.Skipped),
		text.FgHiBlue.Sprint("Status:"), colorStatus(s.Status))
}

func assertionCell(res runner.ExecutionResult) string {
	if len(res.Assertions) == 0 {
		return "-"
	}
	passed := 0
	for _, a := range res.Assertions {
		if a.Passed {
			passed++
		}
	}
	return fmt.Sprintf("%d/%d", passed, len(res.Assertions))
}

func colorStatus(r runner.Result) string {
	switch r {
	case runner.ResultPassed:
		return text.FgGreen.Sprint(string(r))
	case runner.ResultSkipped:
		return text.FgYellow.Sprint(string(r))
	default:
		return text.FgRed.Sprint(string(r))
	}
}
