package server

import (
	"net/http"
	"time"

	"github.com/cadenzahq/cadenza/engine"
	"github.com/cadenzahq/cadenza/errors"
	"github.com/cadenzahq/cadenza/schedule"
)

// CreateScheduleRequest attaches a schedule to a registered service.
type CreateScheduleRequest struct {
	ServiceID string            `json:"service_id"`
	Schedule  schedule.Schedule `json:"schedule"`
}

// ListSchedulesResponse lists all scheduled services.
type ListSchedulesResponse struct {
	Services []*engine.ScheduledService `json:"services"`
	Count    int                        `json:"count"`
}

// PreviewResponse is the projection of a schedule's upcoming fires.
type PreviewResponse struct {
	ServiceID string      `json:"service_id"`
	NextRuns  []time.Time `json:"next_runs"`
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	services := s.engine.Services()
	writeJSON(w, http.StatusOK, ListSchedulesResponse{Services: services, Count: len(services)})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ServiceID == "" {
		writeError(w, http.StatusBadRequest, "service_id is required")
		return
	}

	if err := s.engine.ScheduleService(req.ServiceID, req.Schedule); err != nil {
		switch {
		case errors.Is(err, errors.ErrUnknownService):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, errors.ErrInvalidSchedule):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.log.Errorw("Failed to schedule service", "service_id", req.ServiceID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to schedule service")
		}
		return
	}

	rec, err := s.engine.GetService(req.ServiceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read schedule back")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.GetService(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.UnscheduleService(r.PathValue("id")); err != nil {
		s.log.Errorw("Failed to unschedule service", "service_id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to unschedule service")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePauseSchedule(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.engine.PauseService)
}

func (s *Server) handleResumeSchedule(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.engine.ResumeService)
}

func (s *Server) handleStopSchedule(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.engine.StopService)
}

func (s *Server) lifecycleOp(w http.ResponseWriter, r *http.Request, op func(string) error) {
	serviceID := r.PathValue("id")
	if err := op(serviceID); err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		s.log.Errorw("Schedule lifecycle operation failed", "service_id", serviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "operation failed")
		return
	}

	rec, err := s.engine.GetService(serviceID)
	if err != nil {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePreviewSchedule(w http.ResponseWriter, r *http.Request) {
	serviceID := r.PathValue("id")
	count := parseIntQueryParam(r, "count", s.cfg.Scheduler.PreviewCount, 1, 100)

	runs, err := s.engine.NextExecutionTimes(serviceID, count)
	if err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{ServiceID: serviceID, NextRuns: runs})
}
