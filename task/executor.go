package task

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cadenzahq/cadenza/budget"
	"github.com/cadenzahq/cadenza/bus"
	"github.com/cadenzahq/cadenza/errors"
	"github.com/cadenzahq/cadenza/logger"
	"github.com/cadenzahq/cadenza/registry"
	"github.com/cadenzahq/cadenza/schedule"
)

// Budget is the envelope surface the executor needs. Satisfied by
// *budget.Manager.
type Budget interface {
	Allocate(key string, amount float64) error
	Check(key string) budget.Decision
	Get(key string) (*budget.Envelope, error)
	Release(key string) error
}

// Scheduler is the callback-scheduling surface the executor needs.
// Satisfied by *engine.Engine.
type Scheduler interface {
	ScheduleCallback(key string, sched schedule.Schedule, fn func() error) error
	UnscheduleCallback(key string) error
}

// Executor creates standalone tasks, runs them detached, and keeps their
// store rows reconciled with what actually happened.
type Executor struct {
	store     *Store
	registry  *registry.Registry
	scheduler Scheduler
	budget    Budget
	events    *bus.Bus
	log       *zap.SugaredLogger
	ctx       context.Context

	// serviceIDs maps a task's service type to the registry id that executes
	// it. Types absent here fall through to the type name itself.
	serviceIDs map[string]string
}

// NewExecutor creates a task executor. budget may be nil (no envelopes);
// serviceIDs may be nil when service types and registry ids coincide.
func NewExecutor(store *Store, reg *registry.Registry, sched Scheduler, bud Budget, events *bus.Bus, serviceIDs map[string]string, log *zap.SugaredLogger) *Executor {
	return NewExecutorWithContext(context.Background(), store, reg, sched, bud, events, serviceIDs, log)
}

// NewExecutorWithContext creates an executor whose detached runs inherit ctx.
func NewExecutorWithContext(ctx context.Context, store *Store, reg *registry.Registry, sched Scheduler, bud Budget, events *bus.Bus, serviceIDs map[string]string, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if events == nil {
		events = bus.New(nil)
	}
	return &Executor{
		store:      store,
		registry:   reg,
		scheduler:  sched,
		budget:     bud,
		events:     events,
		log:        logger.AddTaskSymbol(log),
		ctx:        ctx,
		serviceIDs: serviceIDs,
	}
}

// CreateAndRun persists a new task, runs its first cycle immediately
// (detached), and arms the recurrence timer when the schedule repeats.
// The row is persisted pending; the detached run stamps it running when it
// actually starts. The returned copy is optimistically tagged running.
func (e *Executor) CreateAndRun(serviceType string, params map[string]string, model string, budgetAmount float64, sched *schedule.Schedule) (*StandaloneTask, error) {
	t, err := e.create(serviceType, params, model, budgetAmount, sched, StatusPending)
	if err != nil {
		return nil, err
	}

	if t.IsRecurring() {
		if err := e.armRecurrence(t); err != nil {
			return nil, err
		}
	}

	id := t.ID
	go func() {
		if err := e.executeTask(id); err != nil {
			e.log.Errorw("Task run failed", "task_id", id, "error", err)
		}
	}()

	t.Status = StatusRunning
	return t, nil
}

// CreateAndSchedule persists a new task and arms its schedule without
// running a first cycle now.
func (e *Executor) CreateAndSchedule(serviceType string, params map[string]string, model string, budgetAmount float64, sched *schedule.Schedule) (*StandaloneTask, error) {
	if sched == nil {
		return nil, errors.Wrap(errors.ErrInvalidSchedule, "scheduled task requires a schedule")
	}
	t, err := e.create(serviceType, params, model, budgetAmount, sched, StatusScheduled)
	if err != nil {
		return nil, err
	}
	if err := e.armRecurrence(t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTask returns the stored task.
func (e *Executor) GetTask(id string) (*StandaloneTask, error) {
	return e.store.GetTask(id)
}

// ListTasks returns stored tasks filtered by service type and/or status
// (empty matches all).
func (e *Executor) ListTasks(serviceType, status string) ([]*StandaloneTask, error) {
	return e.store.ListTasks(serviceType, status)
}

// PauseTask disarms a recurring task's timer and marks it paused. The
// envelope and spend history are kept.
func (e *Executor) PauseTask(id string) error {
	t, err := e.store.GetTask(id)
	if err != nil {
		return err
	}
	if t.Status == StatusPaused {
		return nil
	}
	if err := e.scheduler.UnscheduleCallback(t.BudgetKey()); err != nil {
		return err
	}
	t.Status = StatusPaused
	if err := e.store.UpdateTask(t); err != nil {
		return err
	}
	e.log.Infow("Task paused", "task_id", id)
	return nil
}

// ResumeTask re-arms a paused recurring task.
func (e *Executor) ResumeTask(id string) error {
	t, err := e.store.GetTask(id)
	if err != nil {
		return err
	}
	if t.Status != StatusPaused {
		return nil
	}
	if !t.IsRecurring() {
		return errors.Newf("task %s has no recurring schedule to resume", id)
	}
	t.Status = StatusScheduled
	t.Error = ""
	if err := e.store.UpdateTask(t); err != nil {
		return err
	}
	if err := e.armRecurrence(t); err != nil {
		return err
	}
	e.log.Infow("Task resumed", "task_id", id)
	return nil
}

// DeleteTask disarms the task's timer, releases its envelope, and removes
// the row. The spend ledger stays for audit.
func (e *Executor) DeleteTask(id string) error {
	t, err := e.store.GetTask(id)
	if err != nil {
		return err
	}
	if err := e.scheduler.UnscheduleCallback(t.BudgetKey()); err != nil {
		return err
	}
	if e.budget != nil {
		if err := e.budget.Release(t.BudgetKey()); err != nil {
			e.log.Warnw("Failed to release task envelope", "task_id", id, "error", err)
		}
	}
	if err := e.store.DeleteTask(id); err != nil {
		return err
	}
	e.log.Infow("Task deleted", "task_id", id)
	return nil
}

// ReloadScheduledTasks reconciles the task table after a restart: tasks
// caught mid-run are marked errored (the run died with the process), and
// every scheduled task with a schedule gets its timer re-armed. Past-due
// one-shots arm nothing downstream, so no stale fire results.
func (e *Executor) ReloadScheduledTasks() error {
	tasks, err := e.store.ListTasks("", "")
	if err != nil {
		return err
	}

	interrupted, rearmed := 0, 0
	for _, t := range tasks {
		switch t.Status {
		case StatusRunning:
			t.Status = StatusErrored
			t.Error = "interrupted by restart"
			now := time.Now()
			t.CompletedAt = &now
			if err := e.store.UpdateTask(t); err != nil {
				e.log.Warnw("Failed to mark interrupted task", "task_id", t.ID, "error", err)
				continue
			}
			interrupted++
		case StatusScheduled:
			if t.Schedule == nil {
				continue
			}
			if err := e.armRecurrence(t); err != nil {
				e.log.Warnw("Failed to re-arm task schedule", "task_id", t.ID, "error", err)
				continue
			}
			rearmed++
		}
	}

	e.log.Infow("Task table reconciled",
		"tasks", len(tasks),
		"interrupted", interrupted,
		"rearmed", rearmed)
	return nil
}

// create validates inputs, persists the new task row, and allocates its
// envelope.
func (e *Executor) create(serviceType string, params map[string]string, model string, budgetAmount float64, sched *schedule.Schedule, status string) (*StandaloneTask, error) {
	if _, err := e.resolveService(serviceType); err != nil {
		return nil, err
	}
	if sched != nil {
		if err := sched.Validate(); err != nil {
			return nil, err
		}
	}
	if budgetAmount < 0 {
		return nil, errors.Newf("task budget cannot be negative: %.2f", budgetAmount)
	}

	now := time.Now()
	t := &StandaloneTask{
		ID:           uuid.NewString(),
		ServiceType:  serviceType,
		Params:       params,
		Model:        model,
		BudgetAmount: budgetAmount,
		Schedule:     sched,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if sched != nil {
		t.MaxCycles = sched.MaxCycles
	}

	if err := e.store.CreateTask(t); err != nil {
		return nil, err
	}
	if e.budget != nil && budgetAmount > 0 {
		if err := e.budget.Allocate(t.BudgetKey(), budgetAmount); err != nil {
			return nil, err
		}
	}

	e.log.Infow("Task created",
		"task_id", t.ID,
		"service_type", serviceType,
		"status", status,
		"allocated", budgetAmount)
	return t, nil
}

// armRecurrence registers the task's timer with the scheduler. The callback
// re-enters executeTask, which re-reads the row and re-checks the budget on
// every fire.
func (e *Executor) armRecurrence(t *StandaloneTask) error {
	id := t.ID
	return e.scheduler.ScheduleCallback(t.BudgetKey(), *t.Schedule, func() error {
		return e.executeTask(id)
	})
}

// executeTask runs one cycle of a task. The store row is re-read first: a
// timer fire queued before a pause or delete must observe the current
// status, not a stale copy. The envelope's recorded spend is the sole cost
// authority, success or failure.
func (e *Executor) executeTask(taskID string) error {
	t, err := e.store.GetTask(taskID)
	if err != nil {
		return err
	}

	switch t.Status {
	case StatusPaused, StatusCompleted:
		e.log.Debugw("Skipping fire for inactive task", "task_id", taskID, "status", t.Status)
		return nil
	}

	if t.CycleCapReached() {
		return e.retire(t)
	}

	if e.budget != nil {
		if decision := e.budget.Check(t.BudgetKey()); !decision.Allowed {
			e.log.Warnw("Task fire denied by budget",
				"task_id", taskID, "reason", decision.Reason)
			e.events.Publish(bus.Event{Type: bus.EventBudgetExhausted, ServiceID: t.BudgetKey(),
				Payload: map[string]interface{}{"reason": decision.Reason}})
			return nil
		}
	}

	serviceID, err := e.resolveService(t.ServiceType)
	if err != nil {
		return e.fail(t, err)
	}
	runner, ok := e.registry.Get(serviceID).(registry.StandaloneRunner)
	if !ok {
		return e.fail(t, errors.Wrapf(errors.ErrNotStandalone,
			"service %q cannot run standalone tasks", serviceID))
	}

	start := time.Now()
	t.Status = StatusRunning
	t.StartedAt = &start
	t.Error = ""
	if err := e.store.UpdateTask(t); err != nil {
		return err
	}

	record, runErr := runner.RunStandalone(e.ctx, t.Params, t.Model, t.BudgetKey())

	// Re-read: the row may have been paused or re-budgeted while running.
	t, err = e.store.GetTask(taskID)
	if err != nil {
		return err
	}
	e.syncSpent(t)

	if runErr != nil {
		return e.fail(t, runErr)
	}

	t.CyclesCompleted++
	if record != nil {
		t.Output = record.Output
	}

	if t.IsRecurring() && !t.CycleCapReached() {
		t.Status = StatusScheduled
	} else {
		now := time.Now()
		t.Status = StatusCompleted
		t.CompletedAt = &now
		if t.IsRecurring() {
			if err := e.scheduler.UnscheduleCallback(t.BudgetKey()); err != nil {
				e.log.Warnw("Failed to disarm finished task", "task_id", taskID, "error", err)
			}
		}
	}

	if err := e.store.UpdateTask(t); err != nil {
		return err
	}

	e.log.Infow("Task cycle completed",
		"task_id", taskID,
		"cycles", t.CyclesCompleted,
		"spent", t.CostSpent,
		"duration_ms", time.Since(start).Milliseconds())
	e.events.Publish(bus.Event{Type: bus.EventTaskCompleted, ServiceID: t.BudgetKey(),
		Payload: map[string]interface{}{
			"cycles":     t.CyclesCompleted,
			"cost_spent": t.CostSpent,
			"status":     t.Status,
		}})
	return nil
}

// fail records a failed cycle. Spend already recorded against the envelope
// stays counted: a failed run still cost money.
func (e *Executor) fail(t *StandaloneTask, runErr error) error {
	now := time.Now()
	t.Status = StatusErrored
	t.Error = runErr.Error()
	t.CompletedAt = &now
	e.syncSpent(t)
	if err := e.store.UpdateTask(t); err != nil {
		return err
	}
	e.events.Publish(bus.Event{Type: bus.EventTaskErrored, ServiceID: t.BudgetKey(),
		Payload: map[string]interface{}{"error": runErr.Error()}})
	return runErr
}

// retire disarms a recurring task that has used all its cycles and marks it
// completed.
func (e *Executor) retire(t *StandaloneTask) error {
	if err := e.scheduler.UnscheduleCallback(t.BudgetKey()); err != nil {
		return err
	}
	now := time.Now()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	if err := e.store.UpdateTask(t); err != nil {
		return err
	}
	e.log.Infow("Task retired after reaching cycle cap",
		"task_id", t.ID, "cycles", t.CyclesCompleted)
	return nil
}

// syncSpent copies the envelope's recorded spend onto the task row. The
// envelope, not the run result, is the cost authority: services report
// spend there as they burn it.
func (e *Executor) syncSpent(t *StandaloneTask) {
	if e.budget == nil {
		return
	}
	env, err := e.budget.Get(t.BudgetKey())
	if err != nil {
		if !errors.IsNotFoundError(err) {
			e.log.Warnw("Failed to read task envelope", "task_id", t.ID, "error", err)
		}
		return
	}
	t.CostSpent = env.Spent
}

// resolveService maps a service type to its registry id.
func (e *Executor) resolveService(serviceType string) (string, error) {
	id := serviceType
	if mapped, ok := e.serviceIDs[serviceType]; ok {
		id = mapped
	}
	if !e.registry.Has(id) {
		return "", errors.Wrapf(errors.ErrUnknownService, "%q", serviceType)
	}
	return id, nil
}
