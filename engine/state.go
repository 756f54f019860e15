package engine

import (
	"time"

	"github.com/cadenzahq/cadenza/schedule"
)

// ServiceStatus is the lifecycle state of a scheduled service.
type ServiceStatus string

const (
	StatusIdle    ServiceStatus = "idle"
	StatusRunning ServiceStatus = "running"
	StatusPaused  ServiceStatus = "paused"
	StatusStopped ServiceStatus = "stopped"
	StatusErrored ServiceStatus = "errored"
)

// ScheduledService is the engine's record for one service schedule.
type ScheduledService struct {
	ServiceID       string            `json:"service_id"`
	Schedule        schedule.Schedule `json:"schedule"`
	Status          ServiceStatus     `json:"status"`
	Enabled         bool              `json:"enabled"`
	LastRun         *time.Time        `json:"last_run,omitempty"`
	NextRun         *time.Time        `json:"next_run,omitempty"`
	MaxCycles       int               `json:"max_cycles,omitempty"`
	CyclesCompleted int               `json:"cycles_completed"`
	LastError       string            `json:"last_error,omitempty"`
}

// ScheduledCallback is the persisted shape of a keyed callback schedule.
// The closure itself cannot be persisted; on restart the callback's owner
// re-registers it from its own store and these records are discarded.
type ScheduledCallback struct {
	Key      string            `json:"key"`
	Schedule schedule.Schedule `json:"schedule"`
	Enabled  bool              `json:"enabled"`
	LastRun  *time.Time        `json:"last_run,omitempty"`
	NextRun  *time.Time        `json:"next_run,omitempty"`
}

// State is the engine's whole persisted document. It is rewritten in full
// after every mutation; the document in the store always reflects the last
// completed mutation.
type State struct {
	Services  []*ScheduledService  `json:"services"`
	Tasks     []*ScheduledCallback `json:"tasks"`
	IsRunning bool                 `json:"is_running"`
}

// callbackEntry pairs the persisted record with the live closure.
type callbackEntry struct {
	record *ScheduledCallback
	fn     func() error
}
