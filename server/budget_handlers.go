package server

import (
	"net/http"

	"github.com/cadenzahq/cadenza/budget"
	"github.com/cadenzahq/cadenza/errors"
)

// AllocateEnvelopeRequest sizes (or re-sizes) a budget envelope.
type AllocateEnvelopeRequest struct {
	AmountUSD      float64  `json:"amount_usd"`
	AlertThreshold *float64 `json:"alert_threshold,omitempty"`
}

// LedgerResponse lists recent spend entries for an envelope key.
type LedgerResponse struct {
	Key     string                `json:"key"`
	Entries []*budget.LedgerEntry `json:"entries"`
	Count   int                   `json:"count"`
}

func (s *Server) handleGetEnvelope(w http.ResponseWriter, r *http.Request) {
	if s.budget == nil {
		writeError(w, http.StatusNotFound, "budget tracking is disabled")
		return
	}
	env, err := s.budget.Get(r.PathValue("key"))
	if err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, "envelope not found")
			return
		}
		s.log.Errorw("Failed to get envelope", "budget_key", r.PathValue("key"), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get envelope")
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleAllocateEnvelope(w http.ResponseWriter, r *http.Request) {
	if s.budget == nil {
		writeError(w, http.StatusNotFound, "budget tracking is disabled")
		return
	}
	var req AllocateEnvelopeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key := r.PathValue("key")
	if err := s.budget.AllocateWithThreshold(key, req.AmountUSD, req.AlertThreshold); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	env, err := s.budget.Get(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read envelope back")
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.budget == nil {
		writeError(w, http.StatusNotFound, "budget tracking is disabled")
		return
	}
	key := r.PathValue("key")
	limit := parseIntQueryParam(r, "limit", 50, 1, 500)

	entries, err := s.budget.Ledger(key, limit)
	if err != nil {
		s.log.Errorw("Failed to list ledger", "budget_key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list ledger")
		return
	}
	writeJSON(w, http.StatusOK, LedgerResponse{Key: key, Entries: entries, Count: len(entries)})
}
