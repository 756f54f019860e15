package server

import (
	"net/http"

	"github.com/cadenzahq/cadenza/errors"
	"github.com/cadenzahq/cadenza/schedule"
	"github.com/cadenzahq/cadenza/task"
)

// CreateTaskRequest creates a standalone task. When Defer is true the task
// only arms its schedule; otherwise the first cycle runs immediately.
type CreateTaskRequest struct {
	ServiceType string             `json:"service_type"`
	Params      map[string]string  `json:"params,omitempty"`
	Model       string             `json:"model,omitempty"`
	BudgetUSD   *float64           `json:"budget_usd,omitempty"`
	Schedule    *schedule.Schedule `json:"schedule,omitempty"`
	Defer       bool               `json:"defer,omitempty"`
}

// ListTasksResponse lists stored tasks.
type ListTasksResponse struct {
	Tasks []*task.StandaloneTask `json:"tasks"`
	Count int                    `json:"count"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.executor.ListTasks(r.URL.Query().Get("service_type"), r.URL.Query().Get("status"))
	if err != nil {
		s.log.Errorw("Failed to list tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, ListTasksResponse{Tasks: tasks, Count: len(tasks)})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ServiceType == "" {
		writeError(w, http.StatusBadRequest, "service_type is required")
		return
	}

	budgetUSD := s.cfg.Budget.DefaultTaskBudgetUSD
	if req.BudgetUSD != nil {
		budgetUSD = *req.BudgetUSD
	}

	var (
		created *task.StandaloneTask
		err     error
	)
	if req.Defer {
		created, err = s.executor.CreateAndSchedule(req.ServiceType, req.Params, req.Model, budgetUSD, req.Schedule)
	} else {
		created, err = s.executor.CreateAndRun(req.ServiceType, req.Params, req.Model, budgetUSD, req.Schedule)
	}
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrUnknownService):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, errors.ErrInvalidSchedule):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.log.Errorw("Failed to create task", "service_type", req.ServiceType, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to create task")
		}
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.executor.GetTask(r.PathValue("id"))
	if err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.executor.DeleteTask(r.PathValue("id")); err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.log.Errorw("Failed to delete task", "task_id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	s.taskLifecycleOp(w, r, s.executor.PauseTask)
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	s.taskLifecycleOp(w, r, s.executor.ResumeTask)
}

func (s *Server) taskLifecycleOp(w http.ResponseWriter, r *http.Request, op func(string) error) {
	taskID := r.PathValue("id")
	if err := op(taskID); err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := s.executor.GetTask(taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}
