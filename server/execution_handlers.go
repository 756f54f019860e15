package server

import (
	"net/http"

	"github.com/cadenzahq/cadenza/history"
)

// ListExecutionsResponse lists execution history records.
type ListExecutionsResponse struct {
	Executions []*history.Execution `json:"executions"`
	Count      int                  `json:"count"`
}

// handleListExecutions serves execution history, optionally filtered to one
// entity key (?entity=service-id or ?entity=task:<id>).
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "execution history is disabled")
		return
	}

	limit := parseIntQueryParam(r, "limit", 50, 1, 500)
	entity := r.URL.Query().Get("entity")

	var (
		execs []*history.Execution
		err   error
	)
	if entity != "" {
		execs, err = s.history.ListByEntity(entity, limit)
	} else {
		execs, err = s.history.ListRecent(limit)
	}
	if err != nil {
		s.log.Errorw("Failed to list executions", "entity", entity, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	writeJSON(w, http.StatusOK, ListExecutionsResponse{Executions: execs, Count: len(execs)})
}
