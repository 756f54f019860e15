// Package history records one execution row per fire of a scheduled
// service or callback. The run history is the operator's window into a
// schedule that keeps firing against a persistently broken body: failures
// accumulate here instead of silently disarming the timer.
package history

import "time"

// Execution statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Execution is a single fire of a scheduled entity.
type Execution struct {
	ID           string   `json:"id"`
	EntityKey    string   `json:"entity_key"` // service id or task:<id>
	Status       string   `json:"status"`
	StartedAt    string   `json:"started_at"` // RFC3339
	CompletedAt  *string  `json:"completed_at,omitempty"`
	DurationMs   *int     `json:"duration_ms,omitempty"`
	ErrorMessage *string  `json:"error_message,omitempty"`
	Cost         *float64 `json:"cost,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// NewExecution creates a running execution for an entity, stamped now.
func NewExecution(id, entityKey string) *Execution {
	now := time.Now().Format(time.RFC3339)
	return &Execution{
		ID:        id,
		EntityKey: entityKey,
		Status:    StatusRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Complete marks the execution finished, successfully or not.
func (e *Execution) Complete(startTime time.Time, execErr error, cost *float64) {
	completedAt := time.Now()
	durationMs := int(completedAt.Sub(startTime).Milliseconds())
	completed := completedAt.Format(time.RFC3339)
	e.CompletedAt = &completed
	e.DurationMs = &durationMs
	e.UpdatedAt = completed
	e.Cost = cost

	if execErr != nil {
		e.Status = StatusFailed
		msg := execErr.Error()
		e.ErrorMessage = &msg
	} else {
		e.Status = StatusCompleted
	}
}
