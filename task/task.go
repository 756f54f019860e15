// Package task manages standalone tasks: one-shot or recurring units of
// service work created ad hoc, each carrying its own parameter set and
// budget envelope, executed detached from the caller.
package task

import (
	"time"

	"github.com/cadenzahq/cadenza/schedule"
)

// Task statuses.
const (
	StatusPending   = "pending"
	StatusScheduled = "scheduled"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusErrored   = "errored"
	StatusPaused    = "paused"
)

// StandaloneTask is one unit of ad-hoc service work. The store row is the
// source of truth for its lifecycle; in-memory copies are always re-read
// before execution.
type StandaloneTask struct {
	ID              string             `json:"id"`
	ServiceType     string             `json:"service_type"`
	Params          map[string]string  `json:"params,omitempty"`
	Model           string             `json:"model,omitempty"`
	BudgetAmount    float64            `json:"budget_amount"`
	Schedule        *schedule.Schedule `json:"schedule,omitempty"`
	Status          string             `json:"status"`
	CostSpent       float64            `json:"cost_spent"`
	CyclesCompleted int                `json:"cycles_completed"`
	MaxCycles       int                `json:"max_cycles,omitempty"`
	Error           string             `json:"error,omitempty"`
	Output          string             `json:"output,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// BudgetKey returns the task's envelope key. The same key names the task on
// the event bus and in execution history.
func (t *StandaloneTask) BudgetKey() string {
	return "task:" + t.ID
}

// IsRecurring reports whether the task fires more than once.
func (t *StandaloneTask) IsRecurring() bool {
	return t.Schedule != nil && t.Schedule.IsRecurring()
}

// CycleCapReached reports whether a capped recurring task has used up its
// cycles. Uncapped tasks never hit the cap.
func (t *StandaloneTask) CycleCapReached() bool {
	return t.MaxCycles > 0 && t.CyclesCompleted >= t.MaxCycles
}
