// Package docstore provides generic load/save of JSON-shaped documents.
//
// Each document is one whole value under one key, rewritten in full on every
// save inside a single transaction, so readers never observe a partial
// write. The scheduling engine keeps its {services, callbacks, isRunning}
// state document here.
package docstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cadenzahq/cadenza/errors"
)

// Store is a key -> JSON document store over SQLite.
type Store struct {
	db *sql.DB
}

// New creates a document store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load reads the document under key into v.
// Returns ErrNotFound (wrapped) when no document exists.
func (s *Store) Load(key string, v interface{}) error {
	var value string
	err := s.db.QueryRow("SELECT value FROM documents WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(errors.ErrNotFound, "document %q", key)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to load document %q", key)
	}

	if err := json.Unmarshal([]byte(value), v); err != nil {
		return errors.Wrapf(err, "failed to decode document %q", key)
	}
	return nil
}

// Save writes v as the whole document under key, replacing any prior value.
func (s *Store) Save(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to encode document %q", key)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrapf(err, "failed to begin save of document %q", key)
	}

	_, err = tx.Exec(`
		INSERT INTO documents (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(data), time.Now().Format(time.RFC3339))
	if err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "failed to save document %q", key)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed to commit document %q", key)
	}
	return nil
}

// Delete removes the document under key. Deleting a missing key is a no-op.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM documents WHERE key = ?", key); err != nil {
		return errors.Wrapf(err, "failed to delete document %q", key)
	}
	return nil
}
