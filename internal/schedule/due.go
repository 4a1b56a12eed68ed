package schedule

import (
	"fmt"
	"strings"
	"time"
)

// earlyTolerance lets a run fire slightly before its nominal time.
const earlyTolerance = time.Minute

// Decision is the outcome of evaluating a pending run.
type Decision int

const (
	// Wait leaves the run pending.
	Wait Decision = iota
	// Due means the run should be dispatched now.
	Due
	// Cancel means the run's window has closed; it must never execute.
	Cancel
)

func (d Decision) String() string {
	switch d {
	case Due:
		return "due"
	case Cancel:
		return "cancel"
	default:
		return "wait"
	}
}

// State is the part of a persisted run that due-ness depends on.
// Zero times mean "not set".
type State struct {
	CreatedAt time.Time
	StartedAt time.Time
}

// Evaluate decides whether a pending run with spec is due at now. The
// returned reason is meant for logs. Errors mean the spec could not be
// interpreted and the run should be skipped for this poll.
func Evaluate(spec Spec, state State, now time.Time) (Decision, string, error) {
	switch spec.Kind() {
	case KindOnce:
		return evaluateOnce(spec, now)
	case KindDaily:
		return evaluateDaily(spec, state, now)
	case KindWeekly:
		return evaluateWeekly(spec, state, now)
	case KindTimeRange:
		return evaluateTimeRange(spec, state, now)
	}
	return Wait, "", fmt.Errorf("%w: unknown schedule_type '%s'", ErrInvalidField, spec.Type)
}

func evaluateOnce(spec Spec, now time.Time) (Decision, string, error) {
	if spec.ScheduledAt == "" {
		return Wait, "", fmt.Errorf("%w: scheduled_at", ErrMissingField)
	}
	at, hasTime, err := parseMomentIn(spec.ScheduledAt, now.Location())
	if err != nil {
		return Wait, "", err
	}
	if !hasTime {
		if !dateOf(now).Before(dateOf(at)) {
			return Due, fmt.Sprintf("scheduled date %s reached", at.Format(DateLayout)), nil
		}
		return Wait, fmt.Sprintf("scheduled date %s not reached", at.Format(DateLayout)), nil
	}
	if !now.Before(at.Add(-earlyTolerance)) {
		return Due, fmt.Sprintf("scheduled time %s reached", at.Format(DateTimeLayout)), nil
	}
	return Wait, fmt.Sprintf("scheduled time %s not reached", at.Format(DateTimeLayout)), nil
}

func evaluateDaily(spec Spec, state State, now time.Time) (Decision, string, error) {
	if spec.ScheduledAt == "" {
		return Wait, "", fmt.Errorf("%w: scheduled_at", ErrMissingField)
	}
	if !state.StartedAt.IsZero() {
		return Wait, "already started", nil
	}
	at, err := dailyMoment(spec, now.Location())
	if err != nil {
		return Wait, "", err
	}
	if !sameDate(now, at) {
		return Wait, fmt.Sprintf("scheduled for %s", at.Format(DateLayout)), nil
	}
	if now.Before(at.Add(-earlyTolerance)) {
		return Wait, fmt.Sprintf("scheduled for %s", at.Format("15:04:05")), nil
	}
	return Due, fmt.Sprintf("daily time %s reached", at.Format("15:04:05")), nil
}

func evaluateWeekly(spec Spec, state State, now time.Time) (Decision, string, error) {
	if len(spec.Config.Weekdays) == 0 {
		return Wait, "", fmt.Errorf("%w: schedule_config.weekdays", ErrMissingField)
	}
	today := isoWeekday(now)
	if !spec.Config.Weekdays.Contains(today) {
		return Wait, fmt.Sprintf("weekday %d not scheduled", today), nil
	}
	if !state.StartedAt.IsZero() {
		return Wait, "already started", nil
	}
	if !state.CreatedAt.IsZero() && weekStart(state.CreatedAt.In(now.Location())).Equal(weekStart(now)) {
		return Wait, "created this week, waiting for next week", nil
	}
	return Due, fmt.Sprintf("weekday %d scheduled", today), nil
}

func evaluateTimeRange(spec Spec, state State, now time.Time) (Decision, string, error) {
	start, end, err := timeRange(spec, now.Location())
	if err != nil {
		return Wait, "", err
	}
	if now.After(end) {
		return Cancel, fmt.Sprintf("window ended at %s", end.Format(DateTimeLayout)), nil
	}
	if now.Before(start) {
		return Wait, fmt.Sprintf("window starts at %s", start.Format(DateTimeLayout)), nil
	}
	if !state.StartedAt.IsZero() {
		return Wait, "already started", nil
	}
	return Due, fmt.Sprintf("inside window %s - %s", start.Format(DateTimeLayout), end.Format(DateTimeLayout)), nil
}

// Next returns the spec of the run that follows a completed run of spec.
// The boolean is false when no successor should be created.
func Next(spec Spec, now time.Time) (Spec, bool, error) {
	next := spec
	switch spec.Kind() {
	case KindOnce:
		return Spec{}, false, nil

	case KindDaily:
		at, hasTime, err := parseMomentIn(spec.ScheduledAt, now.Location())
		if spec.ScheduledAt == "" || err != nil {
			next.ScheduledAt = dateOf(now).AddDate(0, 0, 1).Format(DateLayout)
			return next, true, nil
		}
		layout := DateLayout
		if hasTime {
			layout = DateTimeLayout
		}
		next.ScheduledAt = at.AddDate(0, 0, 1).Format(layout)
		return next, true, nil

	case KindWeekly:
		next.Config.Weekdays = append(Weekdays(nil), spec.Config.Weekdays...)
		return next, true, nil

	case KindTimeRange:
		start, end, err := timeRange(spec, now.Location())
		if err != nil {
			return Spec{}, false, err
		}
		nextStart := start.AddDate(0, 0, 1)
		if nextStart.After(end) {
			return Spec{}, false, nil
		}
		next.Config.Start = nextStart.Format(DateTimeLayout)
		return next, true, nil
	}
	return Spec{}, false, fmt.Errorf("%w: unknown schedule_type '%s'", ErrInvalidField, spec.Type)
}

// dailyMoment combines the scheduled date with the configured time of day.
// Without a configured time, a full timestamp keeps its own time and a bare
// date means midnight.
func dailyMoment(spec Spec, loc *time.Location) (time.Time, error) {
	at, hasTime, err := parseMomentIn(spec.ScheduledAt, loc)
	if err != nil {
		return time.Time{}, err
	}
	if spec.Config.Time == "" {
		if !hasTime {
			return dateOf(at), nil
		}
		return at, nil
	}
	tod, err := parseTimeOfDay(spec.Config.Time)
	if err != nil {
		return time.Time{}, err
	}
	return dateOf(at).Add(tod), nil
}

func timeRange(spec Spec, loc *time.Location) (time.Time, time.Time, error) {
	if spec.Config.Start == "" || spec.Config.End == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: schedule_config.start and schedule_config.end", ErrMissingField)
	}
	start, err := time.ParseInLocation(DateTimeLayout, strings.TrimSpace(spec.Config.Start), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start %q", ErrInvalidField, spec.Config.Start)
	}
	end, err := time.ParseInLocation(DateTimeLayout, strings.TrimSpace(spec.Config.End), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %q", ErrInvalidField, spec.Config.End)
	}
	return start, end, nil
}

func parseMoment(s string) (time.Time, bool, error) {
	return parseMomentIn(s, time.Local)
}

// parseMomentIn parses a full timestamp or a bare date. The boolean reports
// whether a time of day was present.
func parseMomentIn(s string, loc *time.Location) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(DateTimeLayout, s, loc); err == nil {
		return t, true, nil
	}
	if t, err := time.ParseInLocation(DateLayout, s, loc); err == nil {
		return t, false, nil
	}
	return time.Time{}, false, fmt.Errorf("%w: timestamp %q", ErrInvalidField, s)
}

func parseTimeOfDay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("%w: time %q", ErrInvalidField, s)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// weekStart returns midnight of the Monday starting t's week.
func weekStart(t time.Time) time.Time {
	return dateOf(t).AddDate(0, 0, -(isoWeekday(t) - 1))
}
