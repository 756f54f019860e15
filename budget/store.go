package budget

import (
	"database/sql"
	"time"

	"github.com/cadenzahq/cadenza/errors"
)

// Store handles envelope and ledger persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a budget store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertEnvelope creates the envelope for key or updates its allocation,
// preserving any spend already recorded.
func (s *Store) UpsertEnvelope(key string, allocated float64, alertThreshold *float64) error {
	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO budget_envelopes (key, allocated, spent, alert_threshold, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			allocated = excluded.allocated,
			alert_threshold = excluded.alert_threshold,
			updated_at = excluded.updated_at
	`, key, allocated, alertThreshold, now, now)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert envelope %q", key)
	}
	return nil
}

// GetEnvelope retrieves the envelope for key.
// Returns ErrNotFound (wrapped) when no envelope exists.
func (s *Store) GetEnvelope(key string) (*Envelope, error) {
	var env Envelope
	var alertThreshold sql.NullFloat64
	var createdAt, updatedAt string

	err := s.db.QueryRow(`
		SELECT key, allocated, spent, alert_threshold, created_at, updated_at
		FROM budget_envelopes WHERE key = ?
	`, key).Scan(&env.Key, &env.Allocated, &env.Spent, &alertThreshold, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "envelope %q", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get envelope %q", key)
	}

	if alertThreshold.Valid {
		env.AlertThreshold = &alertThreshold.Float64
	}
	env.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	env.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &env, nil
}

// RecordSpend appends a ledger entry and bumps the envelope's running total
// in one transaction.
func (s *Store) RecordSpend(key string, amount float64, note string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrapf(err, "failed to begin spend record for %q", key)
	}

	now := time.Now().Format(time.RFC3339)
	res, err := tx.Exec(`
		UPDATE budget_envelopes SET spent = spent + ?, updated_at = ? WHERE key = ?
	`, amount, now, key)
	if err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "failed to update envelope %q", key)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return errors.Wrapf(errors.ErrNotFound, "envelope %q", key)
	}

	if _, err := tx.Exec(`
		INSERT INTO budget_ledger (key, amount, note, recorded_at) VALUES (?, ?, ?, ?)
	`, key, amount, note, now); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "failed to append ledger entry for %q", key)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed to commit spend record for %q", key)
	}
	return nil
}

// DeleteEnvelope removes the envelope for key. The ledger rows stay for
// audit.
func (s *Store) DeleteEnvelope(key string) error {
	if _, err := s.db.Exec("DELETE FROM budget_envelopes WHERE key = ?", key); err != nil {
		return errors.Wrapf(err, "failed to delete envelope %q", key)
	}
	return nil
}

// ListLedger returns the most recent ledger entries for key, newest first.
func (s *Store) ListLedger(key string, limit int) ([]*LedgerEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, key, amount, note, recorded_at
		FROM budget_ledger WHERE key = ?
		ORDER BY id DESC LIMIT ?
	`, key, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list ledger for %q", key)
	}
	defer rows.Close()

	var entries []*LedgerEntry
	for rows.Next() {
		var entry LedgerEntry
		var note sql.NullString
		var recordedAt string
		if err := rows.Scan(&entry.ID, &entry.Key, &entry.Amount, &note, &recordedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan ledger entry")
		}
		entry.Note = note.String
		entry.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
