// Package schedule defines the schedule shapes a service or standalone task
// can be attached to, and the pure projection of their upcoming fire times.
//
// A Schedule is a tagged union: exactly one variant is populated. Consumers
// dispatch on Kind() so that adding a variant is a compile-visible change at
// every consumption site.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cadenzahq/cadenza/errors"
)

// Kind identifies which variant of the Schedule union is populated.
type Kind string

const (
	KindOnce     Kind = "once"
	KindInterval Kind = "interval"
	KindDaily    Kind = "daily"
	KindWeekly   Kind = "weekly"
	KindCron     Kind = "cron"
	KindSlots    Kind = "scheduled"
	KindInvalid  Kind = ""
)

// cronParser accepts standard 5-field expressions (minute hour dom month dow).
// Descriptors (@daily, @every) are intentionally not supported: the named
// variants cover those shapes with explicit fields.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Once fires a single time at an absolute instant.
type Once struct {
	At time.Time `json:"at"`
}

// Interval fires repeatedly at a fixed period.
type Interval struct {
	PeriodMillis int64 `json:"period_millis"`
}

// Period returns the interval as a duration.
func (i Interval) Period() time.Duration {
	return time.Duration(i.PeriodMillis) * time.Millisecond
}

// Daily fires every day at a wall-clock time ("HH:MM").
type Daily struct {
	TimeOfDay string `json:"time_of_day"`
}

// Weekly fires at a wall-clock time on a set of weekdays (0=Sunday..6=Saturday).
type Weekly struct {
	TimeOfDay  string `json:"time_of_day"`
	DaysOfWeek []int  `json:"days_of_week"`
}

// Slot is one time-of-day/day-set entry of a multi-slot schedule.
type Slot struct {
	TimeOfDay  string `json:"time_of_day"`
	DaysOfWeek []int  `json:"days_of_week"`
}

// Cron fires per a 5-field cron expression.
type Cron struct {
	Expression string `json:"expression"`
}

// SlotSet is the standalone-task convenience form: an explicit list of
// weekly slots, expanded to one underlying weekly timer per slot.
type SlotSet struct {
	Slots []Slot `json:"slots"`
}

// Schedule describes when a service or task should fire.
// Exactly one variant pointer is non-nil; Validate enforces this.
type Schedule struct {
	Once     *Once     `json:"once,omitempty"`
	Interval *Interval `json:"interval,omitempty"`
	Daily    *Daily    `json:"daily,omitempty"`
	Weekly   *Weekly   `json:"weekly,omitempty"`
	Cron     *Cron     `json:"cron,omitempty"`
	Slots    *SlotSet  `json:"scheduled,omitempty"`

	// MaxCycles caps recurring standalone-task schedules. 0 = uncapped.
	MaxCycles int `json:"max_cycles,omitempty"`
}

// Kind returns the populated variant's tag, or KindInvalid when the union
// is empty or over-populated.
func (s Schedule) Kind() Kind {
	var kind Kind
	count := 0
	if s.Once != nil {
		kind, count = KindOnce, count+1
	}
	if s.Interval != nil {
		kind, count = KindInterval, count+1
	}
	if s.Daily != nil {
		kind, count = KindDaily, count+1
	}
	if s.Weekly != nil {
		kind, count = KindWeekly, count+1
	}
	if s.Cron != nil {
		kind, count = KindCron, count+1
	}
	if s.Slots != nil {
		kind, count = KindSlots, count+1
	}
	if count != 1 {
		return KindInvalid
	}
	return kind
}

// Validate checks that exactly one variant is populated and that its fields
// can be interpreted. Configuration errors surface here, synchronously, so
// the engine never arms a timer it cannot interpret.
func (s Schedule) Validate() error {
	switch s.Kind() {
	case KindOnce:
		if s.Once.At.IsZero() {
			return errors.Wrap(errors.ErrInvalidSchedule, "once schedule missing 'at'")
		}
	case KindInterval:
		if s.Interval.PeriodMillis <= 0 {
			return errors.Wrapf(errors.ErrInvalidSchedule, "interval period must be positive, got %d", s.Interval.PeriodMillis)
		}
	case KindDaily:
		if _, _, err := ParseTimeOfDay(s.Daily.TimeOfDay); err != nil {
			return err
		}
	case KindWeekly:
		if _, _, err := ParseTimeOfDay(s.Weekly.TimeOfDay); err != nil {
			return err
		}
		if err := validateDays(s.Weekly.DaysOfWeek); err != nil {
			return err
		}
	case KindCron:
		if strings.HasPrefix(strings.TrimSpace(s.Cron.Expression), "@") {
			return errors.Wrap(errors.ErrInvalidSchedule, "only 5-field cron expressions are supported")
		}
		if _, err := cronParser.Parse(s.Cron.Expression); err != nil {
			return errors.Wrapf(errors.ErrInvalidSchedule, "invalid cron expression %q: %v", s.Cron.Expression, err)
		}
	case KindSlots:
		if len(s.Slots.Slots) == 0 {
			return errors.Wrap(errors.ErrInvalidSchedule, "scheduled form requires at least one slot")
		}
		for i, slot := range s.Slots.Slots {
			if _, _, err := ParseTimeOfDay(slot.TimeOfDay); err != nil {
				return errors.Wrapf(err, "slot %d", i)
			}
			if err := validateDays(slot.DaysOfWeek); err != nil {
				return errors.Wrapf(err, "slot %d", i)
			}
		}
	default:
		return errors.Wrap(errors.ErrInvalidSchedule, "exactly one schedule variant must be set")
	}

	if s.MaxCycles < 0 {
		return errors.Wrapf(errors.ErrInvalidSchedule, "max_cycles must be non-negative, got %d", s.MaxCycles)
	}
	return nil
}

// IsRecurring reports whether the schedule fires more than once.
func (s Schedule) IsRecurring() bool {
	return s.Kind() != KindOnce && s.Kind() != KindInvalid
}

// String renders a compact human description, used in logs and CLI output.
func (s Schedule) String() string {
	switch s.Kind() {
	case KindOnce:
		return fmt.Sprintf("once@%s", s.Once.At.Format(time.RFC3339))
	case KindInterval:
		return fmt.Sprintf("every %s", s.Interval.Period())
	case KindDaily:
		return fmt.Sprintf("daily@%s", s.Daily.TimeOfDay)
	case KindWeekly:
		return fmt.Sprintf("weekly@%s on %s", s.Weekly.TimeOfDay, joinDays(s.Weekly.DaysOfWeek))
	case KindCron:
		return fmt.Sprintf("cron(%s)", s.Cron.Expression)
	case KindSlots:
		return fmt.Sprintf("scheduled(%d slots)", len(s.Slots.Slots))
	}
	return "invalid"
}

// CronExpressions returns the 5-field cron expression(s) equivalent to this
// schedule. Daily and weekly variants convert to "MM HH * * [days]"; the
// multi-slot form yields one expression per slot. Once and interval variants
// have no cron equivalent and return ErrInvalidSchedule.
func (s Schedule) CronExpressions() ([]string, error) {
	switch s.Kind() {
	case KindDaily:
		hour, min, err := ParseTimeOfDay(s.Daily.TimeOfDay)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("%d %d * * *", min, hour)}, nil
	case KindWeekly:
		expr, err := weeklyExpression(s.Weekly.TimeOfDay, s.Weekly.DaysOfWeek)
		if err != nil {
			return nil, err
		}
		return []string{expr}, nil
	case KindCron:
		return []string{s.Cron.Expression}, nil
	case KindSlots:
		exprs := make([]string, 0, len(s.Slots.Slots))
		for _, slot := range s.Slots.Slots {
			expr, err := weeklyExpression(slot.TimeOfDay, slot.DaysOfWeek)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, expr)
		}
		return exprs, nil
	}
	return nil, errors.Wrapf(errors.ErrInvalidSchedule, "schedule kind %q has no cron equivalent", s.Kind())
}

// CronSchedules parses the schedule's cron expressions into evaluators.
func (s Schedule) CronSchedules() ([]cron.Schedule, error) {
	exprs, err := s.CronExpressions()
	if err != nil {
		return nil, err
	}
	parsed := make([]cron.Schedule, 0, len(exprs))
	for _, expr := range exprs {
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidSchedule, "invalid cron expression %q: %v", expr, err)
		}
		parsed = append(parsed, sched)
	}
	return parsed, nil
}

// ParseTimeOfDay parses an "HH:MM" wall-clock time.
func ParseTimeOfDay(tod string) (hour, minute int, err error) {
	parts := strings.Split(tod, ":")
	if len(parts) != 2 {
		return 0, 0, errors.Wrapf(errors.ErrInvalidSchedule, "time of day %q is not HH:MM", tod)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, errors.Wrapf(errors.ErrInvalidSchedule, "time of day %q has invalid hour", tod)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, errors.Wrapf(errors.ErrInvalidSchedule, "time of day %q has invalid minute", tod)
	}
	return hour, minute, nil
}

func validateDays(days []int) error {
	if len(days) == 0 {
		return errors.Wrap(errors.ErrInvalidSchedule, "weekly schedule requires days_of_week")
	}
	for _, d := range days {
		if d < 0 || d > 6 {
			return errors.Wrapf(errors.ErrInvalidSchedule, "day of week %d out of range 0-6", d)
		}
	}
	return nil
}

func weeklyExpression(tod string, days []int) (string, error) {
	hour, min, err := ParseTimeOfDay(tod)
	if err != nil {
		return "", err
	}
	if err := validateDays(days); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * %s", min, hour, joinDays(days)), nil
}

func joinDays(days []int) string {
	sorted := make([]int, len(days))
	copy(sorted, days)
	sort.Ints(sorted)
	parts := make([]string, 0, len(sorted))
	for _, d := range sorted {
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}
