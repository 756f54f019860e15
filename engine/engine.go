// Package engine is the scheduling core: it owns the timer table, the
// scheduled-service and callback records, and the persisted state document.
//
// The engine fires timers; it does not do work. Every fire resolves the
// target through the registry (services) or a registered closure (callbacks)
// and launches it detached, so a slow or hung body never stalls the timer
// table. Budget admission is consulted at fire time, never at arm time.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cadenzahq/cadenza/budget"
	"github.com/cadenzahq/cadenza/bus"
	"github.com/cadenzahq/cadenza/docstore"
	"github.com/cadenzahq/cadenza/errors"
	"github.com/cadenzahq/cadenza/history"
	"github.com/cadenzahq/cadenza/logger"
	"github.com/cadenzahq/cadenza/registry"
	"github.com/cadenzahq/cadenza/schedule"
)

// StateDocumentKey is where the engine keeps its persisted state document.
const StateDocumentKey = "scheduler/state"

// BudgetGate answers admission checks before a scheduled fire. Satisfied by
// *budget.Manager; the indirection keeps the engine testable with a stub.
type BudgetGate interface {
	Check(key string) budget.Decision
}

// Engine arms timers for service and callback schedules and drives their
// fires. One mutex guards the record and timer tables together so a timer
// can never outlive, or predate, its record.
type Engine struct {
	registry *registry.Registry
	store    *docstore.Store
	gate     BudgetGate
	events   *bus.Bus
	history  *history.Store
	log      *zap.SugaredLogger
	ctx      context.Context

	mu        sync.Mutex
	services  map[string]*ScheduledService
	callbacks map[string]*callbackEntry
	timers    map[string]ArmedTimer
	isRunning bool
}

// New creates a scheduling engine. gate and hist may be nil (no budget
// enforcement, no execution history); log may be nil for tests.
func New(reg *registry.Registry, store *docstore.Store, gate BudgetGate, events *bus.Bus, hist *history.Store, log *zap.SugaredLogger) *Engine {
	return NewWithContext(context.Background(), reg, store, gate, events, hist, log)
}

// NewWithContext creates an engine whose detached executions inherit ctx.
func NewWithContext(ctx context.Context, reg *registry.Registry, store *docstore.Store, gate BudgetGate, events *bus.Bus, hist *history.Store, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if events == nil {
		events = bus.New(nil)
	}
	return &Engine{
		registry:  reg,
		store:     store,
		gate:      gate,
		events:    events,
		history:   hist,
		log:       logger.AddBeatSymbol(log),
		ctx:       ctx,
		services:  make(map[string]*ScheduledService),
		callbacks: make(map[string]*callbackEntry),
		timers:    make(map[string]ArmedTimer),
	}
}

// Start marks the engine running and persists the flag.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isRunning = true
	e.log.Infow("Scheduling engine started", "services", len(e.services))
	return e.persistLocked()
}

// Shutdown disarms every timer and persists the stopped flag. Fires already
// in flight run to completion.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, timer := range e.timers {
		timer.Cancel()
		delete(e.timers, key)
	}
	e.isRunning = false
	e.log.Infow("Scheduling engine stopped")
	return e.persistLocked()
}

// IsRunning reports whether the engine has been started.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isRunning
}

// ScheduleService attaches (or replaces) the schedule for a registered
// service. Any existing timer for the service is disarmed first; exactly one
// timer per service exists afterward.
func (e *Engine) ScheduleService(serviceID string, sched schedule.Schedule) error {
	if !e.registry.Has(serviceID) {
		return errors.Wrapf(errors.ErrUnknownService, "%q", serviceID)
	}
	if err := sched.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.disarmLocked(serviceID)

	rec := &ScheduledService{
		ServiceID: serviceID,
		Schedule:  sched,
		Status:    StatusIdle,
		Enabled:   true,
		MaxCycles: sched.MaxCycles,
	}

	timer, err := armTimer(sched, func() { e.executeService(serviceID) })
	if err != nil {
		return err
	}
	if timer != nil {
		e.timers[serviceID] = timer
		rec.NextRun = projectNext(sched)
	} else {
		// One-shot instant already in the past: record kept, nothing armed.
		e.log.Debugw("One-shot schedule already past, not arming",
			"service_id", serviceID, "schedule", sched.String())
	}

	e.services[serviceID] = rec
	e.log.Infow("Service scheduled",
		"service_id", serviceID,
		"schedule", sched.String(),
		"next_run", formatNextRun(rec.NextRun))
	return e.persistLocked()
}

// UnscheduleService disarms and removes the service's schedule record.
// Unscheduling an unknown service is a no-op.
func (e *Engine) UnscheduleService(serviceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.services[serviceID]; !ok {
		return nil
	}
	e.disarmLocked(serviceID)
	delete(e.services, serviceID)
	e.log.Infow("Service unscheduled", "service_id", serviceID)
	return e.persistLocked()
}

// PauseService disables the service's schedule and disarms its timer.
// Pausing an already-paused service is a no-op (no event re-published).
func (e *Engine) PauseService(serviceID string) error {
	e.mu.Lock()
	rec, ok := e.services[serviceID]
	if !ok {
		e.mu.Unlock()
		return errors.Wrapf(errors.ErrNotFound, "service %q is not scheduled", serviceID)
	}
	if !rec.Enabled {
		e.mu.Unlock()
		return nil
	}

	rec.Enabled = false
	rec.Status = StatusPaused
	rec.NextRun = nil
	e.disarmLocked(serviceID)
	err := e.persistLocked()
	e.mu.Unlock()

	e.log.Infow("Service paused", "service_id", serviceID)
	e.events.Publish(bus.Event{Type: bus.EventServicePaused, ServiceID: serviceID})
	e.notifyService(serviceID, "pause", registry.Service.Pause)
	return err
}

// ResumeService re-enables a paused or stopped service and arms a fresh
// timer from its stored schedule. Resuming an active service is a no-op.
func (e *Engine) ResumeService(serviceID string) error {
	e.mu.Lock()
	rec, ok := e.services[serviceID]
	if !ok {
		e.mu.Unlock()
		return errors.Wrapf(errors.ErrNotFound, "service %q is not scheduled", serviceID)
	}
	if rec.Enabled {
		e.mu.Unlock()
		return nil
	}

	e.disarmLocked(serviceID)
	timer, err := armTimer(rec.Schedule, func() { e.executeService(serviceID) })
	if err != nil {
		e.mu.Unlock()
		return err
	}
	rec.Enabled = true
	rec.Status = StatusIdle
	rec.LastError = ""
	if timer != nil {
		e.timers[serviceID] = timer
		rec.NextRun = projectNext(rec.Schedule)
	} else {
		rec.NextRun = nil
	}
	nextRun := rec.NextRun
	err = e.persistLocked()
	e.mu.Unlock()

	// rec belongs to the fire path once the lock is released.
	e.log.Infow("Service resumed",
		"service_id", serviceID,
		"next_run", formatNextRun(nextRun))
	e.events.Publish(bus.Event{Type: bus.EventServiceResumed, ServiceID: serviceID})
	e.notifyService(serviceID, "resume", registry.Service.Resume)
	return err
}

// StopService disarms the service's timer and marks the record stopped. The
// record is kept; ResumeService re-arms it.
func (e *Engine) StopService(serviceID string) error {
	e.mu.Lock()
	rec, ok := e.services[serviceID]
	if !ok {
		e.mu.Unlock()
		return errors.Wrapf(errors.ErrNotFound, "service %q is not scheduled", serviceID)
	}
	if rec.Status == StatusStopped {
		e.mu.Unlock()
		return nil
	}

	rec.Enabled = false
	rec.Status = StatusStopped
	rec.NextRun = nil
	e.disarmLocked(serviceID)
	err := e.persistLocked()
	e.mu.Unlock()

	e.log.Infow("Service stopped", "service_id", serviceID)
	e.events.Publish(bus.Event{Type: bus.EventServiceStopped, ServiceID: serviceID})
	e.notifyService(serviceID, "stop", registry.Service.Stop)
	return err
}

// ScheduleCallback attaches (or replaces) a keyed callback schedule. The
// closure is invoked detached on every fire; its error is logged, never
// propagated into the timer table.
func (e *Engine) ScheduleCallback(key string, sched schedule.Schedule, fn func() error) error {
	if err := sched.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.disarmLocked(key)

	entry := &callbackEntry{
		record: &ScheduledCallback{Key: key, Schedule: sched, Enabled: true},
		fn:     fn,
	}
	timer, err := armTimer(sched, func() { e.fireCallback(key) })
	if err != nil {
		return err
	}
	if timer != nil {
		e.timers[key] = timer
		entry.record.NextRun = projectNext(sched)
	} else {
		e.log.Debugw("One-shot callback already past, not arming",
			"key", key, "schedule", sched.String())
	}

	e.callbacks[key] = entry
	e.log.Infow("Callback scheduled",
		"key", key,
		"schedule", sched.String(),
		"next_run", formatNextRun(entry.record.NextRun))
	return e.persistLocked()
}

// UnscheduleCallback disarms and removes the callback schedule under key.
// Unknown keys are a no-op.
func (e *Engine) UnscheduleCallback(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.callbacks[key]; !ok {
		return nil
	}
	e.disarmLocked(key)
	delete(e.callbacks, key)
	e.log.Infow("Callback unscheduled", "key", key)
	return e.persistLocked()
}

// Services returns a snapshot of all service records, sorted by id.
func (e *Engine) Services() []*ScheduledService {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*ScheduledService, 0, len(e.services))
	for _, rec := range e.services {
		snapshot := *rec
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// GetService returns a snapshot of one service record.
func (e *Engine) GetService(serviceID string) (*ScheduledService, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.services[serviceID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "service %q is not scheduled", serviceID)
	}
	snapshot := *rec
	return &snapshot, nil
}

// Callbacks returns a snapshot of all callback records, sorted by key.
func (e *Engine) Callbacks() []*ScheduledCallback {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*ScheduledCallback, 0, len(e.callbacks))
	for _, entry := range e.callbacks {
		snapshot := *entry.record
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// NextExecutionTimes projects the next count fire times for a scheduled
// service. A disabled service has no upcoming fires.
func (e *Engine) NextExecutionTimes(serviceID string, count int) ([]time.Time, error) {
	e.mu.Lock()
	rec, ok := e.services[serviceID]
	if !ok {
		e.mu.Unlock()
		return nil, errors.Wrapf(errors.ErrNotFound, "service %q is not scheduled", serviceID)
	}
	enabled := rec.Enabled
	sched := rec.Schedule
	e.mu.Unlock()

	if !enabled {
		return []time.Time{}, nil
	}
	return schedule.NextRuns(sched, time.Now(), count)
}

// Stats is a point-in-time summary of the timer table.
type Stats struct {
	IsRunning   bool `json:"is_running"`
	Services    int  `json:"services"`
	Callbacks   int  `json:"callbacks"`
	ArmedTimers int  `json:"armed_timers"`
}

// Stats returns a snapshot of the engine's tables.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		IsRunning:   e.isRunning,
		Services:    len(e.services),
		Callbacks:   len(e.callbacks),
		ArmedTimers: len(e.timers),
	}
}

// LoadState restores the persisted state document and re-arms timers for
// every enabled service. One-shot schedules whose instant has passed while
// the process was down are silently skipped. Callback records are not
// re-armed here: closures cannot be persisted, so each callback's owner
// re-registers it from its own store after restart.
func (e *Engine) LoadState() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var st State
	if err := e.store.Load(StateDocumentKey, &st); err != nil {
		if errors.IsNotFoundError(err) {
			e.log.Debugw("No persisted scheduler state, starting fresh")
			return nil
		}
		return err
	}

	restored := 0
	for _, rec := range st.Services {
		rec := rec
		e.services[rec.ServiceID] = rec
		if !rec.Enabled {
			continue
		}
		// A restart interrupted any in-flight run.
		if rec.Status == StatusRunning {
			rec.Status = StatusIdle
		}
		timer, err := armTimer(rec.Schedule, func() { e.executeService(rec.ServiceID) })
		if err != nil {
			e.log.Warnw("Failed to re-arm restored schedule",
				"service_id", rec.ServiceID, "error", err)
			continue
		}
		if timer == nil {
			rec.NextRun = nil
			e.log.Debugw("Restored one-shot schedule already past, skipping",
				"service_id", rec.ServiceID)
			continue
		}
		e.timers[rec.ServiceID] = timer
		rec.NextRun = projectNext(rec.Schedule)
		restored++
	}

	e.isRunning = st.IsRunning
	e.log.Infow("Scheduler state restored",
		"services", len(st.Services),
		"armed", restored)
	return e.persistLocked()
}

// executeService is the timer fire path for services. All admission checks
// happen here, at fire time: registry membership, enabled flag, cycle cap,
// then budget. A denied fire changes no run bookkeeping.
func (e *Engine) executeService(serviceID string) {
	e.mu.Lock()
	rec, ok := e.services[serviceID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if !rec.Enabled {
		// Stale fire from a timer cancelled after the tick was queued.
		e.mu.Unlock()
		return
	}
	svc := e.registry.Get(serviceID)
	if svc == nil {
		e.mu.Unlock()
		e.log.Warnw("Scheduled service missing from registry, skipping fire",
			"service_id", serviceID)
		return
	}
	if rec.MaxCycles > 0 && rec.CyclesCompleted >= rec.MaxCycles {
		e.retireLocked(rec)
		err := e.persistLocked()
		e.mu.Unlock()
		if err != nil {
			e.log.Errorw("Failed to persist retirement", "service_id", serviceID, "error", err)
		}
		e.events.Publish(bus.Event{Type: bus.EventServiceStopped, ServiceID: serviceID,
			Payload: map[string]interface{}{"reason": "cycle cap reached"}})
		return
	}
	if e.gate != nil {
		if decision := e.gate.Check("service:" + serviceID); !decision.Allowed {
			e.mu.Unlock()
			e.log.Warnw("Fire denied by budget",
				"service_id", serviceID, "reason", decision.Reason)
			e.events.Publish(bus.Event{Type: bus.EventBudgetExhausted, ServiceID: serviceID,
				Payload: map[string]interface{}{"reason": decision.Reason}})
			return
		}
	}

	now := time.Now()
	rec.Status = StatusRunning
	rec.LastRun = &now
	rec.NextRun = projectNext(rec.Schedule)
	if err := e.persistLocked(); err != nil {
		e.log.Errorw("Failed to persist fire bookkeeping", "service_id", serviceID, "error", err)
	}
	e.mu.Unlock()

	e.events.Publish(bus.Event{Type: bus.EventServiceStarted, ServiceID: serviceID})
	go e.runService(serviceID, svc, now)
}

// runService executes one detached service cycle and folds the outcome back
// into the record.
func (e *Engine) runService(serviceID string, svc registry.Service, startedAt time.Time) {
	exec := e.beginExecution(serviceID)

	err := svc.Start(e.ctx)

	e.mu.Lock()
	retired := false
	if rec, ok := e.services[serviceID]; ok {
		if err != nil {
			rec.Status = StatusErrored
			rec.LastError = err.Error()
		} else {
			rec.Status = StatusIdle
			rec.LastError = ""
			rec.CyclesCompleted++
			if rec.MaxCycles > 0 && rec.CyclesCompleted >= rec.MaxCycles {
				e.retireLocked(rec)
				retired = true
			}
		}
		if perr := e.persistLocked(); perr != nil {
			e.log.Errorw("Failed to persist run outcome", "service_id", serviceID, "error", perr)
		}
	}
	e.mu.Unlock()

	if err != nil {
		e.log.Errorw("Service run failed",
			"service_id", serviceID,
			"duration_ms", time.Since(startedAt).Milliseconds(),
			"error", err)
		e.events.Publish(bus.Event{Type: bus.EventServiceErrored, ServiceID: serviceID,
			Payload: map[string]interface{}{"error": err.Error()}})
	} else {
		e.log.Infow("Service run completed",
			"service_id", serviceID,
			"duration_ms", time.Since(startedAt).Milliseconds())
	}
	if retired {
		e.log.Infow("Service retired after reaching cycle cap", "service_id", serviceID)
		e.events.Publish(bus.Event{Type: bus.EventServiceStopped, ServiceID: serviceID,
			Payload: map[string]interface{}{"reason": "cycle cap reached"}})
	}

	e.finishExecution(exec, startedAt, err)
}

// fireCallback is the timer fire path for keyed callbacks: record the run,
// persist, then invoke the closure detached.
func (e *Engine) fireCallback(key string) {
	e.mu.Lock()
	entry, ok := e.callbacks[key]
	if !ok || !entry.record.Enabled {
		e.mu.Unlock()
		return
	}
	now := time.Now()
	entry.record.LastRun = &now
	entry.record.NextRun = projectNext(entry.record.Schedule)
	if err := e.persistLocked(); err != nil {
		e.log.Errorw("Failed to persist callback fire", "key", key, "error", err)
	}
	fn := entry.fn
	e.mu.Unlock()

	go func() {
		exec := e.beginExecution(key)
		if err := fn(); err != nil {
			e.log.Errorw("Scheduled callback failed",
				"key", key,
				"duration_ms", time.Since(now).Milliseconds(),
				"error", err)
			e.finishExecution(exec, now, err)
			return
		}
		e.finishExecution(exec, now, nil)
	}()
}

// retireLocked stops a service that has completed its allotted cycles.
func (e *Engine) retireLocked(rec *ScheduledService) {
	rec.Enabled = false
	rec.Status = StatusStopped
	rec.NextRun = nil
	e.disarmLocked(rec.ServiceID)
}

// disarmLocked cancels and removes the timer under key, if armed.
func (e *Engine) disarmLocked(key string) {
	if timer, ok := e.timers[key]; ok {
		timer.Cancel()
		delete(e.timers, key)
	}
}

// persistLocked rewrites the whole state document from the in-memory tables.
func (e *Engine) persistLocked() error {
	st := State{
		Services:  make([]*ScheduledService, 0, len(e.services)),
		Tasks:     make([]*ScheduledCallback, 0, len(e.callbacks)),
		IsRunning: e.isRunning,
	}
	for _, rec := range e.services {
		st.Services = append(st.Services, rec)
	}
	for _, entry := range e.callbacks {
		st.Tasks = append(st.Tasks, entry.record)
	}
	sort.Slice(st.Services, func(i, j int) bool { return st.Services[i].ServiceID < st.Services[j].ServiceID })
	sort.Slice(st.Tasks, func(i, j int) bool { return st.Tasks[i].Key < st.Tasks[j].Key })

	if err := e.store.Save(StateDocumentKey, st); err != nil {
		return errors.Wrap(err, "failed to persist scheduler state")
	}
	return nil
}

// notifyService forwards a lifecycle transition to the service itself,
// detached. The engine's record is already authoritative; the service's
// own rejection is informational.
func (e *Engine) notifyService(serviceID, op string, call func(registry.Service, context.Context) error) {
	svc := e.registry.Get(serviceID)
	if svc == nil {
		return
	}
	go func() {
		if err := call(svc, e.ctx); err != nil {
			e.log.Warnw("Service rejected lifecycle notification",
				"service_id", serviceID, "op", op, "error", err)
		}
	}()
}

func (e *Engine) beginExecution(entityKey string) *history.Execution {
	if e.history == nil {
		return nil
	}
	exec := history.NewExecution(uuid.NewString(), entityKey)
	if err := e.history.CreateExecution(exec); err != nil {
		e.log.Warnw("Failed to record execution start", "entity", entityKey, "error", err)
		return nil
	}
	return exec
}

func (e *Engine) finishExecution(exec *history.Execution, startedAt time.Time, runErr error) {
	if exec == nil {
		return
	}
	exec.Complete(startedAt, runErr, nil)
	if err := e.history.UpdateExecution(exec); err != nil {
		e.log.Warnw("Failed to record execution outcome", "execution", exec.ID, "error", err)
	}
}

func projectNext(s schedule.Schedule) *time.Time {
	runs, err := schedule.NextRuns(s, time.Now(), 1)
	if err != nil || len(runs) == 0 {
		return nil
	}
	return &runs[0]
}

func formatNextRun(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.Format(time.RFC3339)
}
