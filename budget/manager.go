package budget

import (
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cadenzahq/cadenza/errors"
	"github.com/cadenzahq/cadenza/logger"
)

// Manager allocates envelopes, records spend, and answers admission checks.
type Manager struct {
	store *Store
	mu    sync.Mutex
	log   *zap.SugaredLogger
}

// NewManager creates a budget manager. log may be nil for tests.
func NewManager(db *sql.DB, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		store: NewStore(db),
		log:   logger.AddBudgetSymbol(log),
	}
}

// Allocate creates (or re-sizes) the envelope for key. Spend already
// recorded against the key is preserved across re-allocation.
func (m *Manager) Allocate(key string, amount float64) error {
	return m.AllocateWithThreshold(key, amount, nil)
}

// AllocateWithThreshold creates the envelope with an alert threshold
// (a 0..1 fraction of the allocation).
func (m *Manager) AllocateWithThreshold(key string, amount float64, alertThreshold *float64) error {
	if amount < 0 {
		return errors.Newf("allocation for %q cannot be negative: %.2f", key, amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.UpsertEnvelope(key, amount, alertThreshold); err != nil {
		return err
	}

	m.log.Debugw("Envelope allocated", "budget_key", key, "allocated", amount)
	return nil
}

// Get returns the envelope for key, or ErrNotFound.
func (m *Manager) Get(key string) (*Envelope, error) {
	return m.store.GetEnvelope(key)
}

// Record appends spend against key's envelope. Soft enforcement: the spend
// is recorded even when it pushes the envelope past its allocation; Check
// denies the next fire instead.
func (m *Manager) Record(key string, amount float64, note string) error {
	if amount < 0 {
		return errors.Newf("spend for %q cannot be negative: %.4f", key, amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.RecordSpend(key, amount, note); err != nil {
		return err
	}

	env, err := m.store.GetEnvelope(key)
	if err != nil {
		return err
	}

	if env.Exhausted() {
		m.log.Warnw("Envelope exhausted",
			"budget_key", key,
			"allocated", env.Allocated,
			"spent", env.Spent)
	} else if env.NearThreshold() {
		m.log.Warnw("Envelope nearing allocation",
			"budget_key", key,
			"allocated", env.Allocated,
			"spent", env.Spent)
	}
	return nil
}

// Check answers whether the entity behind key may fire. An entity with no
// envelope is allowed: budget ceilings are opt-in per entity.
func (m *Manager) Check(key string) Decision {
	env, err := m.store.GetEnvelope(key)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return Decision{Allowed: true}
		}
		// A store failure is not an admission denial; let the fire proceed
		// and surface the failure in logs.
		m.log.Errorw("Budget check failed, allowing fire", "budget_key", key, "error", err)
		return Decision{Allowed: true}
	}

	if env.Exhausted() {
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf("budget exhausted: spent $%.4f of $%.2f allocated",
				env.Spent, env.Allocated),
		}
	}
	return Decision{Allowed: true}
}

// Release removes the envelope for key (the ledger is kept for audit).
func (m *Manager) Release(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.DeleteEnvelope(key)
}

// Ledger returns recent spend entries for key, newest first.
func (m *Manager) Ledger(key string, limit int) ([]*LedgerEntry, error) {
	return m.store.ListLedger(key, limit)
}
