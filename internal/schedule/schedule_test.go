package schedule

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cst = time.FixedZone("CST", 8*3600)

// at builds a wall-clock time in CST. 2025-12-17 is a Wednesday.
func at(value string) time.Time {
	t, err := time.ParseInLocation(DateTimeLayout, value, cst)
	if err != nil {
		panic(err)
	}
	return t
}

func TestSpecUnmarshal(t *testing.T) {
	var s Spec
	err := json.Unmarshal([]byte(`{
		"mode": "schedule",
		"schedule_type": "weekly",
		"schedule_config": {"weekdays": ["1", 3, "7"], "time": "09:00"}
	}`), &s)
	require.NoError(t, err)
	assert.True(t, s.IsScheduled())
	assert.Equal(t, KindWeekly, s.Kind())
	assert.Equal(t, Weekdays{1, 3, 7}, s.Config.Weekdays)

	err = json.Unmarshal([]byte(`{"schedule_config":{"weekdays":["8"]}}`), &s)
	assert.True(t, errors.Is(err, ErrInvalidField))

	assert.Equal(t, KindOnce, Spec{}.Kind())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Spec{Type: KindOnce, ScheduledAt: "2025-12-17 10:00:00"}.Validate())
	assert.ErrorIs(t, Spec{Type: KindOnce}.Validate(), ErrMissingField)
	assert.ErrorIs(t, Spec{Type: KindDaily, ScheduledAt: "17/12/2025"}.Validate(), ErrInvalidField)
	assert.ErrorIs(t, Spec{Type: KindDaily, ScheduledAt: "2025-12-17", Config: Config{Time: "25:99"}}.Validate(), ErrInvalidField)
	assert.ErrorIs(t, Spec{Type: KindWeekly}.Validate(), ErrMissingField)
	assert.ErrorIs(t, Spec{Type: KindTimeRange, Config: Config{Start: "2025-12-17 10:00:00"}}.Validate(), ErrMissingField)
	assert.ErrorIs(t, Spec{Type: "hourly"}.Validate(), ErrInvalidField)
}

func TestEvaluateOnce(t *testing.T) {
	spec := Spec{Type: KindOnce, ScheduledAt: "2025-12-17 10:00:00"}

	tests := []struct {
		now  string
		want Decision
	}{
		{"2025-12-17 09:58:00", Wait},
		{"2025-12-17 09:59:00", Due},
		{"2025-12-17 10:00:00", Due},
		{"2025-12-18 03:00:00", Due},
	}
	for _, tt := range tests {
		got, _, err := Evaluate(spec, State{}, at(tt.now))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.now)
	}

	dateOnly := Spec{Type: KindOnce, ScheduledAt: "2025-12-18"}
	got, _, err := Evaluate(dateOnly, State{}, at("2025-12-17 23:59:00"))
	require.NoError(t, err)
	assert.Equal(t, Wait, got)
	got, _, _ = Evaluate(dateOnly, State{}, at("2025-12-18 00:00:01"))
	assert.Equal(t, Due, got)

	_, _, err = Evaluate(Spec{Type: KindOnce, ScheduledAt: "soon"}, State{}, at("2025-12-17 10:00:00"))
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestEvaluateDaily(t *testing.T) {
	spec := Spec{Type: KindDaily, ScheduledAt: "2025-12-17", Config: Config{Time: "09:30"}}

	tests := []struct {
		name  string
		now   string
		state State
		want  Decision
	}{
		{"before time", "2025-12-17 09:00:00", State{}, Wait},
		{"within tolerance", "2025-12-17 09:29:10", State{}, Due},
		{"catch-up later same day", "2025-12-17 22:00:00", State{}, Due},
		{"other day", "2025-12-18 09:30:00", State{}, Wait},
		{"already started", "2025-12-17 09:30:00", State{StartedAt: at("2025-12-17 09:30:00")}, Wait},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := Evaluate(spec, tt.state, at(tt.now))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	midnight := Spec{Type: KindDaily, ScheduledAt: "2025-12-17"}
	got, _, err := Evaluate(midnight, State{}, at("2025-12-17 00:00:00"))
	require.NoError(t, err)
	assert.Equal(t, Due, got)

	fullTimestamp := Spec{Type: KindDaily, ScheduledAt: "2025-12-17 15:00:00"}
	got, _, _ = Evaluate(fullTimestamp, State{}, at("2025-12-17 14:00:00"))
	assert.Equal(t, Wait, got)
}

func TestEvaluateWeekly(t *testing.T) {
	spec := Spec{Type: KindWeekly, Config: Config{Weekdays: Weekdays{3}, Time: "08:00:00"}}
	now := at("2025-12-17 12:00:00")

	got, reason, err := Evaluate(spec, State{CreatedAt: at("2025-12-17 07:00:00")}, now)
	require.NoError(t, err)
	assert.Equal(t, Wait, got, "created earlier today in the current week")
	assert.Contains(t, reason, "created this week")

	got, _, _ = Evaluate(spec, State{CreatedAt: at("2025-12-15 00:00:00")}, now)
	assert.Equal(t, Wait, got, "Monday of the same week is still this week")

	got, _, _ = Evaluate(spec, State{CreatedAt: at("2025-12-09 10:00:00")}, now)
	assert.Equal(t, Due, got, "created 8 days ago, catch-up")

	got, _, _ = Evaluate(spec, State{CreatedAt: at("2025-12-14 23:59:59")}, now)
	assert.Equal(t, Due, got, "Sunday belongs to the previous week")

	got, _, _ = Evaluate(spec, State{}, now)
	assert.Equal(t, Due, got, "missing created_at fires")

	got, _, _ = Evaluate(spec, State{}, at("2025-12-18 12:00:00"))
	assert.Equal(t, Wait, got, "Thursday is not scheduled")

	got, _, _ = Evaluate(spec, State{StartedAt: now}, now)
	assert.Equal(t, Wait, got)

	createdUTC := at("2025-12-09 10:00:00").UTC()
	got, _, _ = Evaluate(spec, State{CreatedAt: createdUTC}, now)
	assert.Equal(t, Due, got, "created_at is compared in the evaluation location")

	sunday := Spec{Type: KindWeekly, Config: Config{Weekdays: Weekdays{7}}}
	got, _, _ = Evaluate(sunday, State{}, at("2025-12-21 01:00:00"))
	assert.Equal(t, Due, got)
}

func TestEvaluateTimeRange(t *testing.T) {
	spec := Spec{Type: KindTimeRange, Config: Config{Start: "2025-12-17 17:05:02", End: "2025-12-20 18:00:00"}}

	got, _, err := Evaluate(spec, State{}, at("2025-12-21 09:00:00"))
	require.NoError(t, err)
	assert.Equal(t, Cancel, got)

	got, _, _ = Evaluate(spec, State{}, at("2025-12-17 17:00:00"))
	assert.Equal(t, Wait, got)

	got, _, _ = Evaluate(spec, State{}, at("2025-12-17 17:05:30"))
	assert.Equal(t, Due, got)

	got, _, _ = Evaluate(spec, State{}, at("2025-12-17 23:00:00"))
	assert.Equal(t, Due, got, "catch-up inside the window")

	got, _, _ = Evaluate(spec, State{StartedAt: at("2025-12-17 17:05:30")}, at("2025-12-17 23:00:00"))
	assert.Equal(t, Wait, got)

	_, _, err = Evaluate(Spec{Type: KindTimeRange, Config: Config{Start: "2025-12-17 17:05:02"}}, State{}, at("2025-12-17 23:00:00"))
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestNext(t *testing.T) {
	now := at("2025-12-17 12:00:00")

	_, ok, err := Next(Spec{Type: KindOnce, ScheduledAt: "2025-12-17 10:00:00"}, now)
	require.NoError(t, err)
	assert.False(t, ok)

	next, ok, err := Next(Spec{Mode: ModeSchedule, Type: KindDaily, ScheduledAt: "2025-12-31", Config: Config{Time: "09:30"}}, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2026-01-01", next.ScheduledAt)
	assert.Equal(t, "09:30", next.Config.Time)
	assert.Equal(t, ModeSchedule, next.Mode)

	next, _, _ = Next(Spec{Type: KindDaily, ScheduledAt: "2025-12-17 15:00:00"}, now)
	assert.Equal(t, "2025-12-18 15:00:00", next.ScheduledAt)

	next, ok, _ = Next(Spec{Type: KindDaily, ScheduledAt: "garbage"}, now)
	assert.True(t, ok)
	assert.Equal(t, "2025-12-18", next.ScheduledAt, "unparseable dates fall back to tomorrow")

	weekly := Spec{Type: KindWeekly, Config: Config{Weekdays: Weekdays{1, 5}, Time: "08:00"}}
	next, ok, _ = Next(weekly, now)
	assert.True(t, ok)
	assert.Equal(t, weekly, next)

	rangeSpec := Spec{Type: KindTimeRange, Config: Config{Start: "2025-12-17 17:05:02", End: "2025-12-19 18:00:00"}}
	next, ok, _ = Next(rangeSpec, now)
	assert.True(t, ok)
	assert.Equal(t, "2025-12-18 17:05:02", next.Config.Start)
	assert.Equal(t, "2025-12-19 18:00:00", next.Config.End)

	last := Spec{Type: KindTimeRange, Config: Config{Start: "2025-12-19 17:05:02", End: "2025-12-20 12:00:00"}}
	_, ok, err = Next(last, now)
	require.NoError(t, err)
	assert.False(t, ok, "next start would pass the end")
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "due", Due.String())
	assert.Equal(t, "wait", Wait.String())
	assert.Equal(t, "cancel", Cancel.String())
}
