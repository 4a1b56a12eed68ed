// Package schedule decides when a pending scheduled run is due and computes
// the run that follows it.
//
// Wall-clock strings in a Spec carry no zone; they are interpreted in the
// location of the "now" passed to Evaluate and Next.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the recurrence kind of a schedule.
type Kind string

const (
	KindOnce      Kind = "once"
	KindDaily     Kind = "daily"
	KindWeekly    Kind = "weekly"
	KindTimeRange Kind = "time_range"
)

// ModeSchedule marks a run configuration as scheduled.
const ModeSchedule = "schedule"

// Timestamp layouts used on the wire.
const (
	DateTimeLayout = "2006-01-02 15:04:05"
	DateLayout     = "2006-01-02"
)

var (
	// ErrMissingField is returned when a schedule lacks a field its kind needs.
	ErrMissingField = errors.New("missing schedule field")
	// ErrInvalidField is returned when a schedule field cannot be parsed.
	ErrInvalidField = errors.New("invalid schedule field")
)

// Spec is the scheduling section of a run configuration.
type Spec struct {
	Mode        string `json:"mode,omitempty"`
	Type        Kind   `json:"schedule_type,omitempty"`
	ScheduledAt string `json:"scheduled_at,omitempty"`
	Config      Config `json:"schedule_config"`
}

// Config holds the kind-specific fields.
type Config struct {
	// Time is the daily time of day, HH:MM or HH:MM:SS.
	Time     string   `json:"time,omitempty"`
	Weekdays Weekdays `json:"weekdays,omitempty"`
	Start    string   `json:"start,omitempty"`
	End      string   `json:"end,omitempty"`
}

// IsScheduled reports whether the spec asks for scheduled execution.
func (s Spec) IsScheduled() bool {
	return s.Mode == ModeSchedule
}

// Kind returns the recurrence kind, defaulting to once.
func (s Spec) Kind() Kind {
	if s.Type == "" {
		return KindOnce
	}
	return s.Type
}

// Validate checks that the fields the kind needs are present and parse.
func (s Spec) Validate() error {
	switch s.Kind() {
	case KindOnce:
		if s.ScheduledAt == "" {
			return fmt.Errorf("%w: scheduled_at", ErrMissingField)
		}
		if _, _, err := parseMoment(s.ScheduledAt); err != nil {
			return err
		}
	case KindDaily:
		if s.ScheduledAt == "" {
			return fmt.Errorf("%w: scheduled_at", ErrMissingField)
		}
		if _, _, err := parseMoment(s.ScheduledAt); err != nil {
			return err
		}
		if s.Config.Time != "" {
			if _, err := parseTimeOfDay(s.Config.Time); err != nil {
				return err
			}
		}
	case KindWeekly:
		if len(s.Config.Weekdays) == 0 {
			return fmt.Errorf("%w: schedule_config.weekdays", ErrMissingField)
		}
	case KindTimeRange:
		if s.Config.Start == "" || s.Config.End == "" {
			return fmt.Errorf("%w: schedule_config.start and schedule_config.end", ErrMissingField)
		}
	default:
		return fmt.Errorf("%w: unknown schedule_type '%s'", ErrInvalidField, s.Type)
	}
	return nil
}

// Weekdays lists ISO weekdays, Monday=1 through Sunday=7. On the wire each
// entry may be a number or a numeric string.
type Weekdays []int

// UnmarshalJSON accepts numbers and numeric strings.
func (w *Weekdays) UnmarshalJSON(data []byte) error {
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: weekdays: %v", ErrInvalidField, err)
	}
	out := make(Weekdays, 0, len(raw))
	for _, item := range raw {
		var n int
		switch v := item.(type) {
		case float64:
			n = int(v)
		case string:
			parsed, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%w: weekday %q", ErrInvalidField, v)
			}
			n = parsed
		default:
			return fmt.Errorf("%w: weekday %v", ErrInvalidField, item)
		}
		if n < 1 || n > 7 {
			return fmt.Errorf("%w: weekday %d out of range 1..7", ErrInvalidField, n)
		}
		out = append(out, n)
	}
	*w = out
	return nil
}

// Contains reports whether day is listed.
func (w Weekdays) Contains(day int) bool {
	for _, d := range w {
		if d == day {
			return true
		}
	}
	return false
}
