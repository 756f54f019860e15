// Package budget provides per-entity spending envelopes and the admission
// gate consulted before every scheduled fire.
//
// Enforcement is soft: exhaustion is detected and acted on after spend is
// recorded, never prevented atomically. The schedule itself is the retry
// mechanism; an exhausted entity keeps its timer and is denied at each fire
// until topped up or paused.
package budget

import "time"

// Envelope is the ledger entry for one billable entity key
// (task:<id> or service:<id>).
type Envelope struct {
	Key            string    `json:"key"`
	Allocated      float64   `json:"allocated"`
	Spent          float64   `json:"spent"`
	AlertThreshold *float64  `json:"alert_threshold,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Remaining returns the unspent allocation. May be negative after a soft
// overrun.
func (e *Envelope) Remaining() float64 {
	return e.Allocated - e.Spent
}

// Exhausted reports whether spend has reached the allocation.
func (e *Envelope) Exhausted() bool {
	return e.Spent >= e.Allocated
}

// NearThreshold reports whether spend has crossed the alert threshold
// (a 0..1 fraction of the allocation), if one is set.
func (e *Envelope) NearThreshold() bool {
	if e.AlertThreshold == nil {
		return false
	}
	return e.Spent >= e.Allocated*(*e.AlertThreshold)
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// LedgerEntry is one append-only spend record.
type LedgerEntry struct {
	ID         int64     `json:"id"`
	Key        string    `json:"key"`
	Amount     float64   `json:"amount"`
	Note       string    `json:"note,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
