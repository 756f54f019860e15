package budget

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/errors"
)

// Minimal sqlmock tests pinning the transactional shape of RecordSpend and
// the not-found mapping; behavioral coverage lives in manager_test.go.

func TestRecordSpend_Transactional(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE budget_envelopes SET spent = spent \+ \?`).
		WithArgs(0.25, sqlmock.AnyArg(), "task:abc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO budget_ledger`).
		WithArgs("task:abc", 0.25, "model usage", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.RecordSpend("task:abc", 0.25, "model usage"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSpend_MissingEnvelopeRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE budget_envelopes SET spent = spent \+ \?`).
		WithArgs(0.25, sqlmock.AnyArg(), "task:ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = store.RecordSpend("task:ghost", 0.25, "")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEnvelope_Scan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)

	now := time.Now().Format(time.RFC3339)
	rows := sqlmock.NewRows([]string{"key", "allocated", "spent", "alert_threshold", "created_at", "updated_at"}).
		AddRow("task:abc", 5.0, 1.25, 0.8, now, now)
	mock.ExpectQuery(`SELECT key, allocated, spent, alert_threshold, created_at, updated_at`).
		WithArgs("task:abc").
		WillReturnRows(rows)

	env, err := store.GetEnvelope("task:abc")
	require.NoError(t, err)
	assert.Equal(t, 5.0, env.Allocated)
	assert.Equal(t, 1.25, env.Spent)
	require.NotNil(t, env.AlertThreshold)
	assert.Equal(t, 0.8, *env.AlertThreshold)
	assert.NoError(t, mock.ExpectationsWereMet())
}
