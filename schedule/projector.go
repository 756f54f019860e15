package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
)

// NextRuns computes the next count fire times for a schedule, strictly after
// from. It is a pure projection: it never mutates the schedule, arms a
// timer, or touches run history. Used for operator previews and tests.
//
// Per variant:
//   - interval: arithmetic series from..from+N*period
//   - once: the single instant, if still in the future
//   - daily/weekly/cron: the cron evaluator's iterator
//   - scheduled: k-way merge across the slots' weekly iterators
func NextRuns(s Schedule, from time.Time, count int) ([]time.Time, error) {
	if count <= 0 {
		return nil, nil
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	switch s.Kind() {
	case KindOnce:
		if s.Once.At.After(from) {
			return []time.Time{s.Once.At}, nil
		}
		return nil, nil

	case KindInterval:
		period := s.Interval.Period()
		runs := make([]time.Time, 0, count)
		next := from
		for i := 0; i < count; i++ {
			next = next.Add(period)
			runs = append(runs, next)
		}
		return runs, nil

	case KindDaily, KindWeekly, KindCron, KindSlots:
		scheds, err := s.CronSchedules()
		if err != nil {
			return nil, err
		}
		return mergeCronRuns(scheds, from, count), nil
	}

	return nil, nil
}

// mergeCronRuns advances one or more cron evaluators in lockstep, emitting
// the earliest next fire each round. A zero Next result means the evaluator
// is exhausted (robfig signals "no future match" with the zero time).
func mergeCronRuns(scheds []cron.Schedule, from time.Time, count int) []time.Time {
	runs := make([]time.Time, 0, count)
	cursor := from
	for len(runs) < count {
		var earliest time.Time
		for _, sched := range scheds {
			next := sched.Next(cursor)
			if next.IsZero() {
				continue
			}
			if earliest.IsZero() || next.Before(earliest) {
				earliest = next
			}
		}
		if earliest.IsZero() {
			break
		}
		runs = append(runs, earliest)
		cursor = earliest
	}
	return runs
}
