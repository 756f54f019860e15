// Package mcp exposes the control plane to AI assistants over the Model
// Context Protocol. The stdio transport runs inside the daemon process, so
// tools act on the live engine and executor, not a detached copy.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/cadenzahq/cadenza/budget"
	"github.com/cadenzahq/cadenza/engine"
	"github.com/cadenzahq/cadenza/errors"
	"github.com/cadenzahq/cadenza/history"
	"github.com/cadenzahq/cadenza/schedule"
	"github.com/cadenzahq/cadenza/task"
	"github.com/cadenzahq/cadenza/version"
)

// Server handles MCP protocol communication for Cadenza.
type Server struct {
	engine   *engine.Engine
	executor *task.Executor
	budget   *budget.Manager
	history  *history.Store
	log      *zap.SugaredLogger
}

// NewServer creates an MCP server over the live control plane. budget and
// history may be nil.
func NewServer(eng *engine.Engine, exec *task.Executor, bud *budget.Manager, hist *history.Store, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{engine: eng, executor: exec, budget: bud, history: hist, log: log}
}

// Run serves MCP over stdio until the client disconnects.
func (s *Server) Run() error {
	mcpServer := server.NewMCPServer(
		"cadenza",
		version.Version,
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.log.Infow("MCP server starting on stdio")
	return server.ServeStdio(mcpServer)
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("cadenza_list_schedules",
		mcp.WithDescription("List all scheduled services with status, last run, and next run"),
	), s.handleListSchedules)

	mcpServer.AddTool(mcp.NewTool("cadenza_preview_schedule",
		mcp.WithDescription("Preview the upcoming fire times of a scheduled service"),
		mcp.WithString("service_id",
			mcp.Required(),
			mcp.Description("The scheduled service id"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of upcoming fires to project, default 5"),
			mcp.Min(1),
			mcp.Max(20),
		),
	), s.handlePreviewSchedule)

	mcpServer.AddTool(mcp.NewTool("cadenza_pause_schedule",
		mcp.WithDescription("Pause a scheduled service (disarms its timer, keeps the record)"),
		mcp.WithString("service_id",
			mcp.Required(),
			mcp.Description("The scheduled service id"),
		),
	), s.handlePauseSchedule)

	mcpServer.AddTool(mcp.NewTool("cadenza_resume_schedule",
		mcp.WithDescription("Resume a paused scheduled service"),
		mcp.WithString("service_id",
			mcp.Required(),
			mcp.Description("The scheduled service id"),
		),
	), s.handleResumeSchedule)

	mcpServer.AddTool(mcp.NewTool("cadenza_create_task",
		mcp.WithDescription("Create a standalone task and run its first cycle now. Optional 5-field cron makes it recurring"),
		mcp.WithString("service_type",
			mcp.Required(),
			mcp.Description("The service type that executes the task"),
		),
		mcp.WithString("model",
			mcp.Description("Model override for the run"),
		),
		mcp.WithNumber("budget_usd",
			mcp.Description("Budget envelope in USD, default from config"),
			mcp.Min(0),
		),
		mcp.WithString("cron",
			mcp.Description("5-field cron expression for recurrence, e.g. '0 9 * * 1-5'"),
		),
		mcp.WithNumber("max_cycles",
			mcp.Description("Cycle cap for recurring tasks, 0 = uncapped"),
			mcp.Min(0),
		),
	), s.handleCreateTask)

	mcpServer.AddTool(mcp.NewTool("cadenza_list_tasks",
		mcp.WithDescription("List standalone tasks"),
		mcp.WithString("status",
			mcp.Description("Filter by status"),
			mcp.Enum(task.StatusPending, task.StatusScheduled, task.StatusRunning,
				task.StatusCompleted, task.StatusErrored, task.StatusPaused),
		),
		mcp.WithString("service_type",
			mcp.Description("Filter by service type"),
		),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("cadenza_get_task",
		mcp.WithDescription("Get one task's full state, including spend and cycles"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("The task id"),
		),
	), s.handleGetTask)

	mcpServer.AddTool(mcp.NewTool("cadenza_budget_status",
		mcp.WithDescription("Show an envelope's allocation, spend, and remaining budget"),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Envelope key, e.g. task:<id> or service:<id>"),
		),
	), s.handleBudgetStatus)

	mcpServer.AddTool(mcp.NewTool("cadenza_list_executions",
		mcp.WithDescription("Show recent execution history, optionally for one entity"),
		mcp.WithString("entity",
			mcp.Description("Entity key: a service id or task:<id>"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of records, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListExecutions)

	s.log.Infow("MCP tools registered", "count", 9)
}

func (s *Server) handleListSchedules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	services := s.engine.Services()
	if len(services) == 0 {
		return mcp.NewToolResultText("No services are scheduled"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d scheduled service(s):\n\n", len(services))
	for _, rec := range services {
		fmt.Fprintf(&b, "%s [%s]\n", rec.ServiceID, rec.Status)
		fmt.Fprintf(&b, "  schedule: %s\n", rec.Schedule.String())
		fmt.Fprintf(&b, "  enabled: %t\n", rec.Enabled)
		if rec.LastRun != nil {
			fmt.Fprintf(&b, "  last run: %s\n", formatTime(rec.LastRun))
		}
		if rec.NextRun != nil {
			fmt.Fprintf(&b, "  next run: %s\n", formatTime(rec.NextRun))
		}
		if rec.MaxCycles > 0 {
			fmt.Fprintf(&b, "  cycles: %d/%d\n", rec.CyclesCompleted, rec.MaxCycles)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handlePreviewSchedule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serviceID := mcp.ParseString(request, "service_id", "")
	count := int(mcp.ParseFloat64(request, "count", 5))

	runs, err := s.engine.NextExecutionTimes(serviceID, count)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("preview failed: %v", err)), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("%s has no upcoming fires", serviceID)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Upcoming fires for %s:\n", serviceID)
	for i, t := range runs {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, t.Format("2006-01-02 15:04:05"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handlePauseSchedule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serviceID := mcp.ParseString(request, "service_id", "")
	if err := s.engine.PauseService(serviceID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("pause failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Paused %s", serviceID)), nil
}

func (s *Server) handleResumeSchedule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serviceID := mcp.ParseString(request, "service_id", "")
	if err := s.engine.ResumeService(serviceID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Resumed %s", serviceID)), nil
}

func (s *Server) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serviceType := mcp.ParseString(request, "service_type", "")
	model := mcp.ParseString(request, "model", "")
	budgetUSD := mcp.ParseFloat64(request, "budget_usd", 0)

	var sched *schedule.Schedule
	if cronExpr := mcp.ParseString(request, "cron", ""); cronExpr != "" {
		sched = &schedule.Schedule{
			Cron:      &schedule.Cron{Expression: cronExpr},
			MaxCycles: int(mcp.ParseFloat64(request, "max_cycles", 0)),
		}
		if err := sched.Validate(); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid cron expression: %v", err)), nil
		}
	}

	created, err := s.executor.CreateAndRun(serviceType, nil, model, budgetUSD, sched)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create failed: %v", err)), nil
	}

	result := fmt.Sprintf("Task created\nID: %s\nstatus: %s", created.ID, created.Status)
	if sched != nil {
		result += fmt.Sprintf("\nschedule: %s", sched.String())
	}
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serviceType := mcp.ParseString(request, "service_type", "")
	status := mcp.ParseString(request, "status", "")

	tasks, err := s.executor.ListTasks(serviceType, status)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d task(s):\n\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s [%s] %s\n", t.ID, t.Status, t.ServiceType)
		if t.Schedule != nil {
			fmt.Fprintf(&b, "  schedule: %s\n", t.Schedule.String())
		}
		fmt.Fprintf(&b, "  spent: $%.4f of $%.2f\n", t.CostSpent, t.BudgetAmount)
		if t.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", t.Error)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")

	t, err := s.executor.GetTask(taskID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("get failed: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task %s\n", t.ID)
	fmt.Fprintf(&b, "service type: %s\n", t.ServiceType)
	fmt.Fprintf(&b, "status: %s\n", t.Status)
	if t.Model != "" {
		fmt.Fprintf(&b, "model: %s\n", t.Model)
	}
	if t.Schedule != nil {
		fmt.Fprintf(&b, "schedule: %s\n", t.Schedule.String())
	}
	fmt.Fprintf(&b, "spent: $%.4f of $%.2f\n", t.CostSpent, t.BudgetAmount)
	fmt.Fprintf(&b, "cycles: %d", t.CyclesCompleted)
	if t.MaxCycles > 0 {
		fmt.Fprintf(&b, "/%d", t.MaxCycles)
	}
	b.WriteString("\n")
	if t.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", t.Error)
	}
	if t.Output != "" {
		fmt.Fprintf(&b, "output: %s\n", truncateString(t.Output, 500))
	}
	fmt.Fprintf(&b, "created: %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleBudgetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.budget == nil {
		return mcp.NewToolResultError("budget tracking is disabled"), nil
	}
	key := mcp.ParseString(request, "key", "")

	env, err := s.budget.Get(key)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return mcp.NewToolResultText(fmt.Sprintf("%s has no envelope (fires are unrestricted)", key)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("budget lookup failed: %v", err)), nil
	}

	state := "within budget"
	if env.Exhausted() {
		state = "EXHAUSTED - fires are denied"
	} else if env.NearThreshold() {
		state = "nearing allocation"
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Envelope %s\nallocated: $%.2f\nspent: $%.4f\nremaining: $%.4f\nstate: %s",
		env.Key, env.Allocated, env.Spent, env.Remaining(), state)), nil
}

func (s *Server) handleListExecutions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.history == nil {
		return mcp.NewToolResultError("execution history is disabled"), nil
	}
	entity := mcp.ParseString(request, "entity", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))

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
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	if len(execs) == 0 {
		return mcp.NewToolResultText("No executions recorded"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d execution(s):\n\n", len(execs))
	for _, exec := range execs {
		fmt.Fprintf(&b, "%s [%s] %s\n", exec.StartedAt, exec.Status, exec.EntityKey)
		if exec.DurationMs != nil {
			fmt.Fprintf(&b, "  duration: %dms\n", *exec.DurationMs)
		}
		if exec.ErrorMessage != nil {
			fmt.Fprintf(&b, "  error: %s\n", *exec.ErrorMessage)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
