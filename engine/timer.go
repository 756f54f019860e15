package engine

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cadenzahq/cadenza/errors"
	"github.com/cadenzahq/cadenza/schedule"
)

// ArmedTimer is a live timer in the engine's timer table. Every schedule
// variant arms through the same interface so disarm-before-rearm is a
// single Cancel call regardless of shape.
type ArmedTimer interface {
	// Cancel disarms the timer. Safe to call more than once. A fire already
	// in flight is not interrupted.
	Cancel()
}

// onceTimer fires a single time via time.AfterFunc.
type onceTimer struct {
	timer *time.Timer
}

func (t *onceTimer) Cancel() {
	t.timer.Stop()
}

// intervalTimer fires repeatedly on a fixed period.
type intervalTimer struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *intervalTimer) Cancel() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}

// cronTimer wraps a single-purpose cron runner carrying one entry per
// expression of the schedule (multi-slot schedules arm several entries
// behind one handle).
type cronTimer struct {
	runner *cron.Cron
	once   sync.Once
}

func (t *cronTimer) Cancel() {
	t.once.Do(func() {
		t.runner.Stop()
	})
}

// cronRunnerParser mirrors the schedule package's parser: 5-field
// expressions, no descriptors.
var cronRunnerParser = cron.WithParser(
	cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))

// armTimer arms the timer for a validated schedule and returns its handle.
// A once schedule whose instant has already passed arms nothing and returns
// a nil timer: the engine treats it as already satisfied.
func armTimer(s schedule.Schedule, fire func()) (ArmedTimer, error) {
	switch s.Kind() {
	case schedule.KindOnce:
		delay := time.Until(s.Once.At)
		if delay <= 0 {
			return nil, nil
		}
		return &onceTimer{timer: time.AfterFunc(delay, fire)}, nil

	case schedule.KindInterval:
		t := &intervalTimer{
			ticker: time.NewTicker(s.Interval.Period()),
			done:   make(chan struct{}),
		}
		go func() {
			for {
				select {
				case <-t.ticker.C:
					fire()
				case <-t.done:
					return
				}
			}
		}()
		return t, nil

	case schedule.KindDaily, schedule.KindWeekly, schedule.KindCron, schedule.KindSlots:
		exprs, err := s.CronExpressions()
		if err != nil {
			return nil, err
		}
		runner := cron.New(cronRunnerParser)
		for _, expr := range exprs {
			if _, err := runner.AddFunc(expr, fire); err != nil {
				return nil, errors.Wrapf(errors.ErrInvalidSchedule, "failed to arm cron expression %q: %v", expr, err)
			}
		}
		runner.Start()
		return &cronTimer{runner: runner}, nil
	}

	return nil, errors.Wrap(errors.ErrInvalidSchedule, "cannot arm an invalid schedule")
}
