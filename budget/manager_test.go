package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/errors"
	qtest "github.com/cadenzahq/cadenza/internal/testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(qtest.CreateTestDB(t), nil)
}

func TestAllocateAndGet(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Allocate("task:abc", 5.0))

	env, err := m.Get("task:abc")
	require.NoError(t, err)
	assert.Equal(t, 5.0, env.Allocated)
	assert.Equal(t, 0.0, env.Spent)
	assert.Equal(t, 5.0, env.Remaining())
}

func TestAllocateNegativeRejected(t *testing.T) {
	m := newTestManager(t)
	assert.Error(t, m.Allocate("task:abc", -1.0))
}

func TestReallocatePreservesSpend(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Allocate("task:abc", 5.0))
	require.NoError(t, m.Record("task:abc", 2.0, "first run"))

	// Topping up must not reset the running spend total.
	require.NoError(t, m.Allocate("task:abc", 10.0))

	env, err := m.Get("task:abc")
	require.NoError(t, err)
	assert.Equal(t, 10.0, env.Allocated)
	assert.Equal(t, 2.0, env.Spent)
}

func TestSoftEnforcement(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Allocate("task:abc", 1.0))

	// Spend past the allocation is recorded, not rejected.
	require.NoError(t, m.Record("task:abc", 1.5, "overrun"))

	env, err := m.Get("task:abc")
	require.NoError(t, err)
	assert.Equal(t, 1.5, env.Spent)
	assert.True(t, env.Exhausted())
	assert.Equal(t, -0.5, env.Remaining())

	// The next admission check is where enforcement lands.
	decision := m.Check("task:abc")
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "budget exhausted")
}

func TestCheckAtExactBoundaryDenies(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Allocate("task:abc", 2.0))
	require.NoError(t, m.Record("task:abc", 2.0, ""))

	assert.False(t, m.Check("task:abc").Allowed, "spent == allocated is exhausted")
}

func TestCheckWithoutEnvelopeAllows(t *testing.T) {
	m := newTestManager(t)

	decision := m.Check("service:unbudgeted")
	assert.True(t, decision.Allowed, "budget ceilings are opt-in")
}

func TestRecordNegativeRejected(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Allocate("task:abc", 5.0))
	assert.Error(t, m.Record("task:abc", -0.5, ""))
}

func TestRecordWithoutEnvelopeIsNotFound(t *testing.T) {
	m := newTestManager(t)
	err := m.Record("task:ghost", 1.0, "")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestLedgerNewestFirst(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Allocate("task:abc", 5.0))
	require.NoError(t, m.Record("task:abc", 1.0, "first"))
	require.NoError(t, m.Record("task:abc", 2.0, "second"))

	entries, err := m.Ledger("task:abc", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Note)
	assert.Equal(t, 2.0, entries[0].Amount)
	assert.Equal(t, "first", entries[1].Note)
}

func TestReleaseKeepsLedger(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Allocate("task:abc", 5.0))
	require.NoError(t, m.Record("task:abc", 1.0, "run"))
	require.NoError(t, m.Release("task:abc"))

	_, err := m.Get("task:abc")
	assert.True(t, errors.IsNotFoundError(err))

	entries, err := m.Ledger("task:abc", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "ledger survives envelope release for audit")

	// Released entities fire unrestricted again.
	assert.True(t, m.Check("task:abc").Allowed)
}

func TestNearThreshold(t *testing.T) {
	m := newTestManager(t)
	threshold := 0.8
	require.NoError(t, m.AllocateWithThreshold("task:abc", 10.0, &threshold))
	require.NoError(t, m.Record("task:abc", 8.5, ""))

	env, err := m.Get("task:abc")
	require.NoError(t, err)
	assert.True(t, env.NearThreshold())
	assert.False(t, env.Exhausted())
	assert.True(t, m.Check("task:abc").Allowed, "threshold warns, only exhaustion denies")
}
