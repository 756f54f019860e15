package history

import (
	"database/sql"

	"github.com/cadenzahq/cadenza/errors"
)

// Store handles execution history persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates an execution history store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateExecution inserts a new execution record.
func (s *Store) CreateExecution(exec *Execution) error {
	_, err := s.db.Exec(`
		INSERT INTO executions (
			id, entity_key, status, started_at, completed_at,
			duration_ms, error_message, cost, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exec.ID, exec.EntityKey, exec.Status, exec.StartedAt, exec.CompletedAt,
		exec.DurationMs, exec.ErrorMessage, exec.Cost, exec.CreatedAt, exec.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to create execution %s", exec.ID)
	}
	return nil
}

// UpdateExecution writes the execution's final status fields.
func (s *Store) UpdateExecution(exec *Execution) error {
	_, err := s.db.Exec(`
		UPDATE executions SET
			status = ?, completed_at = ?, duration_ms = ?,
			error_message = ?, cost = ?, updated_at = ?
		WHERE id = ?
	`, exec.Status, exec.CompletedAt, exec.DurationMs,
		exec.ErrorMessage, exec.Cost, exec.UpdatedAt, exec.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to update execution %s", exec.ID)
	}
	return nil
}

// ListByEntity returns the most recent executions for an entity key,
// newest first.
func (s *Store) ListByEntity(entityKey string, limit int) ([]*Execution, error) {
	rows, err := s.db.Query(`
		SELECT id, entity_key, status, started_at, completed_at,
		       duration_ms, error_message, cost, created_at, updated_at
		FROM executions
		WHERE entity_key = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, entityKey, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list executions for %s", entityKey)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ListRecent returns the most recent executions across all entities.
func (s *Store) ListRecent(limit int) ([]*Execution, error) {
	rows, err := s.db.Query(`
		SELECT id, entity_key, status, started_at, completed_at,
		       duration_ms, error_message, cost, created_at, updated_at
		FROM executions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recent executions")
	}
	defer rows.Close()
	return scanExecutions(rows)
}

func scanExecutions(rows *sql.Rows) ([]*Execution, error) {
	var execs []*Execution
	for rows.Next() {
		var exec Execution
		var completedAt, errorMessage sql.NullString
		var durationMs sql.NullInt64
		var cost sql.NullFloat64

		if err := rows.Scan(&exec.ID, &exec.EntityKey, &exec.Status, &exec.StartedAt,
			&completedAt, &durationMs, &errorMessage, &cost,
			&exec.CreatedAt, &exec.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}

		if completedAt.Valid {
			exec.CompletedAt = &completedAt.String
		}
		if durationMs.Valid {
			d := int(durationMs.Int64)
			exec.DurationMs = &d
		}
		if errorMessage.Valid {
			exec.ErrorMessage = &errorMessage.String
		}
		if cost.Valid {
			exec.Cost = &cost.Float64
		}
		execs = append(execs, &exec)
	}
	return execs, rows.Err()
}
