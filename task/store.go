package task

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cadenzahq/cadenza/errors"
	"github.com/cadenzahq/cadenza/schedule"
)

const taskColumns = `id, service_type, params, model, budget_amount, schedule,
	status, cost_spent, cycles_completed, max_cycles, error, output,
	created_at, started_at, completed_at, updated_at`

// Store handles standalone task persistence. One store serves every service
// type; rows are filtered by service_type where a caller needs its own.
type Store struct {
	db *sql.DB
}

// NewStore creates a task store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateTask inserts a new task row.
func (s *Store) CreateTask(t *StandaloneTask) error {
	params, sched, err := encodeTask(t)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO standalone_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ServiceType, params, nullable(t.Model), t.BudgetAmount, sched,
		t.Status, t.CostSpent, t.CyclesCompleted, nullableInt(t.MaxCycles),
		nullable(t.Error), nullable(t.Output),
		t.CreatedAt.Format(time.RFC3339), formatTime(t.StartedAt),
		formatTime(t.CompletedAt), t.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "failed to create task %s", t.ID)
	}
	return nil
}

// UpdateTask rewrites all mutable fields of a task row.
func (s *Store) UpdateTask(t *StandaloneTask) error {
	params, sched, err := encodeTask(t)
	if err != nil {
		return err
	}
	t.UpdatedAt = time.Now()
	res, err := s.db.Exec(`
		UPDATE standalone_tasks SET
			params = ?, model = ?, budget_amount = ?, schedule = ?, status = ?,
			cost_spent = ?, cycles_completed = ?, max_cycles = ?, error = ?,
			output = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, params, nullable(t.Model), t.BudgetAmount, sched, t.Status,
		t.CostSpent, t.CyclesCompleted, nullableInt(t.MaxCycles), nullable(t.Error),
		nullable(t.Output), formatTime(t.StartedAt), formatTime(t.CompletedAt),
		t.UpdatedAt.Format(time.RFC3339), t.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to update task %s", t.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "task %s", t.ID)
	}
	return nil
}

// GetTask retrieves a task by id. Returns ErrNotFound (wrapped) when absent.
func (s *Store) GetTask(id string) (*StandaloneTask, error) {
	row := s.db.QueryRow(`
		SELECT `+taskColumns+` FROM standalone_tasks WHERE id = ?
	`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "task %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get task %s", id)
	}
	return t, nil
}

// DeleteTask removes a task row.
func (s *Store) DeleteTask(id string) error {
	if _, err := s.db.Exec("DELETE FROM standalone_tasks WHERE id = ?", id); err != nil {
		return errors.Wrapf(err, "failed to delete task %s", id)
	}
	return nil
}

// ListTasks returns tasks filtered by service type and/or status (empty
// string matches all), newest first.
func (s *Store) ListTasks(serviceType, status string) ([]*StandaloneTask, error) {
	query := "SELECT " + taskColumns + " FROM standalone_tasks WHERE 1=1"
	args := []interface{}{}
	if serviceType != "" {
		query += " AND service_type = ?"
		args = append(args, serviceType)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	var tasks []*StandaloneTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (*StandaloneTask, error) {
	var t StandaloneTask
	var params, sched, model, taskErr, output, startedAt, completedAt sql.NullString
	var maxCycles sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.ServiceType, &params, &model, &t.BudgetAmount, &sched,
		&t.Status, &t.CostSpent, &t.CyclesCompleted, &maxCycles, &taskErr, &output,
		&createdAt, &startedAt, &completedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &t.Params); err != nil {
			return nil, errors.Wrapf(err, "corrupt params for task %s", t.ID)
		}
	}
	if sched.Valid && sched.String != "" {
		var parsed schedule.Schedule
		if err := json.Unmarshal([]byte(sched.String), &parsed); err != nil {
			return nil, errors.Wrapf(err, "corrupt schedule for task %s", t.ID)
		}
		t.Schedule = &parsed
	}
	t.Model = model.String
	t.Error = taskErr.String
	t.Output = output.String
	if maxCycles.Valid {
		t.MaxCycles = int(maxCycles.Int64)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	t.StartedAt = parseTime(startedAt)
	t.CompletedAt = parseTime(completedAt)
	return &t, nil
}

func encodeTask(t *StandaloneTask) (params, sched interface{}, err error) {
	if len(t.Params) > 0 {
		data, err := json.Marshal(t.Params)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to encode params for task %s", t.ID)
		}
		params = string(data)
	}
	if t.Schedule != nil {
		data, err := json.Marshal(t.Schedule)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to encode schedule for task %s", t.ID)
		}
		sched = string(data)
	}
	return params, sched, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

func formatTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &parsed
}
