package logger

// Standard field names for consistent structured logging across Cadenza.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity
	FieldServiceID = "service_id"
	FieldTaskID    = "task_id"
	FieldKey       = "key"

	// Scheduling
	FieldSchedule = "schedule"
	FieldNextRun  = "next_run"
	FieldLastRun  = "last_run"
	FieldCycles   = "cycles"

	// Budget
	FieldBudgetKey = "budget_key"
	FieldAllocated = "allocated"
	FieldSpent     = "spent"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors and status
	FieldError  = "error"
	FieldStatus = "status"

	// Glyph tag (♩, ♪, ¤, ⛁, …) — see the sym package
	FieldSymbol = "symbol"
)
