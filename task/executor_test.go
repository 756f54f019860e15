package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/budget"
	"github.com/cadenzahq/cadenza/bus"
	"github.com/cadenzahq/cadenza/errors"
	qtest "github.com/cadenzahq/cadenza/internal/testing"
	"github.com/cadenzahq/cadenza/registry"
	"github.com/cadenzahq/cadenza/schedule"
)

// stubRunner is a standalone-capable service that burns a fixed spend
// against its envelope on every run, the way a real service reports model
// cost.
type stubRunner struct {
	mu     sync.Mutex
	runs   int
	output string
	runErr error
	spend  float64
	budget *budget.Manager
}

func (r *stubRunner) Start(ctx context.Context) error  { return nil }
func (r *stubRunner) Pause(ctx context.Context) error  { return nil }
func (r *stubRunner) Resume(ctx context.Context) error { return nil }
func (r *stubRunner) Stop(ctx context.Context) error   { return nil }

func (r *stubRunner) RunStandalone(ctx context.Context, params map[string]string, model string, budgetKey string) (*registry.RunRecord, error) {
	r.mu.Lock()
	r.runs++
	spend, runErr, output := r.spend, r.runErr, r.output
	bud := r.budget
	r.mu.Unlock()

	if bud != nil && spend > 0 {
		if err := bud.Record(budgetKey, spend, "model usage"); err != nil {
			return nil, err
		}
	}
	if runErr != nil {
		return nil, runErr
	}
	return &registry.RunRecord{Output: output}, nil
}

func (r *stubRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// plainService has no RunStandalone.
type plainService struct{}

func (plainService) Start(ctx context.Context) error  { return nil }
func (plainService) Pause(ctx context.Context) error  { return nil }
func (plainService) Resume(ctx context.Context) error { return nil }
func (plainService) Stop(ctx context.Context) error   { return nil }

// stubScheduler captures callback registrations so tests can fire them
// synchronously.
type stubScheduler struct {
	mu          sync.Mutex
	callbacks   map[string]func() error
	scheduled   int
	unscheduled []string
}

func newStubScheduler() *stubScheduler {
	return &stubScheduler{callbacks: make(map[string]func() error)}
}

func (s *stubScheduler) ScheduleCallback(key string, sched schedule.Schedule, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[key] = fn
	s.scheduled++
	return nil
}

func (s *stubScheduler) UnscheduleCallback(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.callbacks, key)
	s.unscheduled = append(s.unscheduled, key)
	return nil
}

func (s *stubScheduler) fire(t *testing.T, key string) error {
	t.Helper()
	s.mu.Lock()
	fn, ok := s.callbacks[key]
	s.mu.Unlock()
	require.True(t, ok, "no callback armed under %s", key)
	return fn()
}

// failingScheduler refuses every arm attempt.
type failingScheduler struct{}

func (failingScheduler) ScheduleCallback(string, schedule.Schedule, func() error) error {
	return errors.New("arm failed")
}
func (failingScheduler) UnscheduleCallback(string) error { return nil }

func (s *stubScheduler) armed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.callbacks[key]
	return ok
}

type executorFixture struct {
	store  *Store
	reg    *registry.Registry
	sched  *stubScheduler
	budget *budget.Manager
	events *bus.Bus
	exec   *Executor
	runner *stubRunner
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	db := qtest.CreateTestDB(t)
	f := &executorFixture{
		store:  NewStore(db),
		reg:    registry.New(),
		sched:  newStubScheduler(),
		budget: budget.NewManager(db, nil),
		events: bus.New(nil),
		runner: &stubRunner{output: "done"},
	}
	f.runner.budget = f.budget
	f.reg.Register("digest", f.runner)
	f.exec = NewExecutor(f.store, f.reg, f.sched, f.budget, f.events, nil, nil)
	return f
}

func (f *executorFixture) waitForStatus(t *testing.T, id, status string) *StandaloneTask {
	t.Helper()
	var got *StandaloneTask
	require.Eventually(t, func() bool {
		task, err := f.store.GetTask(id)
		if err != nil {
			return false
		}
		got = task
		return task.Status == status
	}, 3*time.Second, 10*time.Millisecond, "task never reached status %s", status)
	return got
}

func TestCreateAndRunOneShot(t *testing.T) {
	f := newExecutorFixture(t)
	f.runner.spend = 0.30

	ch := f.events.Subscribe()
	defer f.events.Unsubscribe(ch)

	created, err := f.exec.CreateAndRun("digest", map[string]string{"topic": "news"}, "gpt-4o-mini", 1.0, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, created.Status)

	got := f.waitForStatus(t, created.ID, StatusCompleted)
	assert.Equal(t, "done", got.Output)
	assert.Equal(t, 1, got.CyclesCompleted)
	assert.Equal(t, 0.30, got.CostSpent, "envelope spend is the cost authority")
	require.NotNil(t, got.CompletedAt)

	select {
	case event := <-ch:
		assert.Equal(t, bus.EventTaskCompleted, event.Type)
		assert.Equal(t, created.BudgetKey(), event.ServiceID)
	case <-time.After(3 * time.Second):
		t.Fatal("completion event never published")
	}

	// One-shot: nothing armed.
	assert.False(t, f.sched.armed(created.BudgetKey()))

	env, err := f.budget.Get(created.BudgetKey())
	require.NoError(t, err)
	assert.Equal(t, 1.0, env.Allocated)
	assert.Equal(t, 0.30, env.Spent)
}

func TestCreateAndRunPersistsPending(t *testing.T) {
	f := newExecutorFixture(t)
	sched := &schedule.Schedule{Interval: &schedule.Interval{PeriodMillis: 60_000}}
	f.exec = NewExecutor(f.store, f.reg, failingScheduler{}, f.budget, f.events, nil, nil)

	// Arming fails after the row is persisted but before the first cycle
	// launches, freezing the row in its creation-time state.
	created, err := f.exec.CreateAndRun("digest", nil, "", 1.0, sched)
	require.Error(t, err)
	require.Nil(t, created)

	tasks, err := f.store.ListTasks("", StatusPending)
	require.NoError(t, err)
	require.Len(t, tasks, 1, "the row is persisted pending; running is only the optimistic tag")
	assert.Nil(t, tasks[0].StartedAt, "the run start, not creation, stamps started_at")
}

func TestCreateAndRunUnknownService(t *testing.T) {
	f := newExecutorFixture(t)
	_, err := f.exec.CreateAndRun("ghost", nil, "", 1.0, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownService))
}

func TestCreateRejectsNegativeBudget(t *testing.T) {
	f := newExecutorFixture(t)
	_, err := f.exec.CreateAndRun("digest", nil, "", -0.5, nil)
	assert.Error(t, err)
}

func TestServiceTypeMapping(t *testing.T) {
	f := newExecutorFixture(t)
	runner := &stubRunner{output: "mapped"}
	f.reg.Register("digest-v2", runner)
	f.exec = NewExecutor(f.store, f.reg, f.sched, f.budget, f.events,
		map[string]string{"digest": "digest-v2"}, nil)

	created, err := f.exec.CreateAndRun("digest", nil, "", 0, nil)
	require.NoError(t, err)

	got := f.waitForStatus(t, created.ID, StatusCompleted)
	assert.Equal(t, "mapped", got.Output)
	assert.Equal(t, 1, runner.runCount())
}

func TestCreateAndScheduleDefersFirstRun(t *testing.T) {
	f := newExecutorFixture(t)
	sched := &schedule.Schedule{Interval: &schedule.Interval{PeriodMillis: 60_000}}

	created, err := f.exec.CreateAndSchedule("digest", nil, "", 1.0, sched)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, created.Status)
	assert.True(t, f.sched.armed(created.BudgetKey()))
	assert.Equal(t, 0, f.runner.runCount(), "no cycle runs until the timer fires")
}

func TestCreateAndScheduleRequiresSchedule(t *testing.T) {
	f := newExecutorFixture(t)
	_, err := f.exec.CreateAndSchedule("digest", nil, "", 1.0, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidSchedule))
}

func TestNotStandaloneFailsTask(t *testing.T) {
	f := newExecutorFixture(t)
	f.reg.Register("pipeline", plainService{})

	created, err := f.exec.CreateAndRun("pipeline", nil, "", 0, nil)
	require.NoError(t, err, "creation succeeds; the capability check happens at run time")

	got := f.waitForStatus(t, created.ID, StatusErrored)
	assert.Contains(t, got.Error, "cannot run standalone tasks")
}

func TestRecurringCyclesAndCap(t *testing.T) {
	f := newExecutorFixture(t)
	sched := &schedule.Schedule{
		Interval:  &schedule.Interval{PeriodMillis: 60_000},
		MaxCycles: 2,
	}

	created, err := f.exec.CreateAndSchedule("digest", nil, "", 1.0, sched)
	require.NoError(t, err)
	key := created.BudgetKey()

	require.NoError(t, f.sched.fire(t, key))
	got, err := f.store.GetTask(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status, "below the cap the task stays armed")
	assert.Equal(t, 1, got.CyclesCompleted)

	require.NoError(t, f.sched.fire(t, key))
	got, err = f.store.GetTask(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 2, got.CyclesCompleted)
	assert.False(t, f.sched.armed(key), "final cycle disarms the timer")
	assert.Equal(t, 2, f.runner.runCount())
}

func TestStaleFireSkipsPausedTask(t *testing.T) {
	f := newExecutorFixture(t)
	sched := &schedule.Schedule{Interval: &schedule.Interval{PeriodMillis: 60_000}}

	created, err := f.exec.CreateAndSchedule("digest", nil, "", 1.0, sched)
	require.NoError(t, err)
	key := created.BudgetKey()

	// Keep the closure around to simulate a tick queued before the pause.
	f.sched.mu.Lock()
	fn := f.sched.callbacks[key]
	f.sched.mu.Unlock()

	require.NoError(t, f.exec.PauseTask(created.ID))
	require.NoError(t, fn(), "a stale fire is absorbed, not an error")
	assert.Equal(t, 0, f.runner.runCount())

	got, err := f.store.GetTask(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, got.Status)
}

func TestBudgetDeniedTaskFire(t *testing.T) {
	f := newExecutorFixture(t)
	sched := &schedule.Schedule{Interval: &schedule.Interval{PeriodMillis: 60_000}}

	created, err := f.exec.CreateAndSchedule("digest", nil, "", 0.10, sched)
	require.NoError(t, err)
	key := created.BudgetKey()
	require.NoError(t, f.budget.Record(key, 0.10, "previous cycles"))

	ch := f.events.Subscribe()
	defer f.events.Unsubscribe(ch)

	require.NoError(t, f.sched.fire(t, key), "a denied fire is not an error")
	assert.Equal(t, 0, f.runner.runCount())
	assert.True(t, f.sched.armed(key), "the timer stays armed for after a top-up")

	select {
	case event := <-ch:
		assert.Equal(t, bus.EventBudgetExhausted, event.Type)
		assert.Equal(t, key, event.ServiceID)
	case <-time.After(3 * time.Second):
		t.Fatal("exhaustion event never published")
	}

	got, err := f.store.GetTask(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)
	assert.Equal(t, 0, got.CyclesCompleted)
}

func TestFailedRunKeepsPartialSpend(t *testing.T) {
	f := newExecutorFixture(t)
	f.runner.spend = 0.15
	f.runner.runErr = errors.New("model call failed")

	created, err := f.exec.CreateAndRun("digest", nil, "", 1.0, nil)
	require.NoError(t, err)

	got := f.waitForStatus(t, created.ID, StatusErrored)
	assert.Equal(t, "model call failed", got.Error)
	assert.Equal(t, 0.15, got.CostSpent, "a failed run still cost money")
	require.NotNil(t, got.CompletedAt)
}

func TestPauseResumeTask(t *testing.T) {
	f := newExecutorFixture(t)
	sched := &schedule.Schedule{Interval: &schedule.Interval{PeriodMillis: 60_000}}

	created, err := f.exec.CreateAndSchedule("digest", nil, "", 1.0, sched)
	require.NoError(t, err)
	key := created.BudgetKey()

	require.NoError(t, f.exec.PauseTask(created.ID))
	assert.False(t, f.sched.armed(key))

	// Pausing again is a no-op.
	require.NoError(t, f.exec.PauseTask(created.ID))

	require.NoError(t, f.exec.ResumeTask(created.ID))
	assert.True(t, f.sched.armed(key))
	got, err := f.store.GetTask(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)

	// Resuming a task that is not paused is a no-op.
	require.NoError(t, f.exec.ResumeTask(created.ID))
}

func TestResumeOneShotRejected(t *testing.T) {
	f := newExecutorFixture(t)

	created, err := f.exec.CreateAndRun("digest", nil, "", 1.0, nil)
	require.NoError(t, err)
	f.waitForStatus(t, created.ID, StatusCompleted)

	got, err := f.store.GetTask(created.ID)
	require.NoError(t, err)
	got.Status = StatusPaused
	require.NoError(t, f.store.UpdateTask(got))

	assert.Error(t, f.exec.ResumeTask(created.ID), "nothing recurring to re-arm")
}

func TestDeleteTaskReleasesEnvelope(t *testing.T) {
	f := newExecutorFixture(t)
	sched := &schedule.Schedule{Interval: &schedule.Interval{PeriodMillis: 60_000}}

	created, err := f.exec.CreateAndSchedule("digest", nil, "", 1.0, sched)
	require.NoError(t, err)
	key := created.BudgetKey()

	require.NoError(t, f.exec.DeleteTask(created.ID))
	assert.False(t, f.sched.armed(key))

	_, err = f.store.GetTask(created.ID)
	assert.True(t, errors.IsNotFoundError(err))
	_, err = f.budget.Get(key)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestReloadScheduledTasks(t *testing.T) {
	f := newExecutorFixture(t)
	now := time.Now()
	recurring := &schedule.Schedule{Interval: &schedule.Interval{PeriodMillis: 60_000}}
	oneShot := &schedule.Schedule{Once: &schedule.Once{At: now.Add(time.Hour)}}

	rows := []*StandaloneTask{
		{ID: "interrupted", ServiceType: "digest", Status: StatusRunning, StartedAt: &now, CreatedAt: now, UpdatedAt: now},
		{ID: "armed", ServiceType: "digest", Status: StatusScheduled, Schedule: recurring, CreatedAt: now, UpdatedAt: now},
		{ID: "oneshot", ServiceType: "digest", Status: StatusScheduled, Schedule: oneShot, CreatedAt: now, UpdatedAt: now},
		{ID: "finished", ServiceType: "digest", Status: StatusCompleted, CreatedAt: now, UpdatedAt: now},
	}
	for _, row := range rows {
		require.NoError(t, f.store.CreateTask(row))
	}

	require.NoError(t, f.exec.ReloadScheduledTasks())

	got, err := f.store.GetTask("interrupted")
	require.NoError(t, err)
	assert.Equal(t, StatusErrored, got.Status)
	assert.Equal(t, "interrupted by restart", got.Error)
	require.NotNil(t, got.CompletedAt)

	assert.True(t, f.sched.armed("task:armed"), "recurring schedules survive restart")
	assert.True(t, f.sched.armed("task:oneshot"), "a future one-shot scheduled task survives restart")
	assert.False(t, f.sched.armed("task:finished"))
}

func TestReloadOneShotScheduledTaskFires(t *testing.T) {
	f := newExecutorFixture(t)
	oneShot := &schedule.Schedule{Once: &schedule.Once{At: time.Now().Add(time.Hour)}}

	created, err := f.exec.CreateAndSchedule("digest", nil, "", 1.0, oneShot)
	require.NoError(t, err)
	key := created.BudgetKey()

	// Simulate a restart: the timer table is rebuilt from the store.
	f.sched = newStubScheduler()
	f.exec = NewExecutor(f.store, f.reg, f.sched, f.budget, f.events, nil, nil)
	require.NoError(t, f.exec.ReloadScheduledTasks())
	require.True(t, f.sched.armed(key), "one-shot must be re-armed, not orphaned in scheduled")

	require.NoError(t, f.sched.fire(t, key))
	got, err := f.store.GetTask(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1, got.CyclesCompleted)
}
