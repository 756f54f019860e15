// Package server exposes the operator HTTP API: schedule and task CRUD,
// budget inspection, execution history, runtime status, and a websocket
// feed of lifecycle events.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cadenzahq/cadenza/budget"
	"github.com/cadenzahq/cadenza/bus"
	"github.com/cadenzahq/cadenza/config"
	"github.com/cadenzahq/cadenza/engine"
	"github.com/cadenzahq/cadenza/history"
	"github.com/cadenzahq/cadenza/logger"
	"github.com/cadenzahq/cadenza/task"
)

// Server is the Cadenza HTTP API server.
type Server struct {
	cfg      *config.Config
	engine   *engine.Engine
	executor *task.Executor
	budget   *budget.Manager
	history  *history.Store
	events   *bus.Bus
	log      *zap.SugaredLogger

	httpServer *http.Server
	limiter    *rate.Limiter
	startedAt  time.Time
}

// New creates the API server. bud and hist may be nil; the corresponding
// endpoints then answer 404.
func New(cfg *config.Config, eng *engine.Engine, exec *task.Executor, bud *budget.Manager, hist *history.Store, events *bus.Bus, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		cfg:      cfg,
		engine:   eng,
		executor: exec,
		budget:   bud,
		history:  hist,
		events:   events,
		log:      logger.AddBusSymbol(log),
	}
	if limit := cfg.Server.RateLimitPerMinute; limit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(limit)/60.0), limit)
	}
	return s
}

// Start binds the listener and serves until Shutdown.
func (s *Server) Start() error {
	port := s.cfg.GetServerPort()
	addr := fmt.Sprintf(":%d", port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Handler:           s.middleware(s.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Infow("API server listening", "port", port)
	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /api/schedules/{id}", s.handleGetSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/pause", s.handlePauseSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/resume", s.handleResumeSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/stop", s.handleStopSchedule)
	mux.HandleFunc("GET /api/schedules/{id}/preview", s.handlePreviewSchedule)

	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("POST /api/tasks/{id}/pause", s.handlePauseTask)
	mux.HandleFunc("POST /api/tasks/{id}/resume", s.handleResumeTask)

	mux.HandleFunc("GET /api/budget/{key}", s.handleGetEnvelope)
	mux.HandleFunc("PUT /api/budget/{key}", s.handleAllocateEnvelope)
	mux.HandleFunc("GET /api/budget/{key}/ledger", s.handleLedger)

	mux.HandleFunc("GET /api/executions", s.handleListExecutions)

	mux.HandleFunc("GET /ws/events", s.handleEventSocket)

	return mux
}

// middleware applies rate limiting and CORS around every route.
func (s *Server) middleware(next http.Handler) http.Handler {
	allowed := s.cfg.GetServerAllowedOrigins()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		if origin := r.Header.Get("Origin"); origin != "" && originAllowed(origin, allowed) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
