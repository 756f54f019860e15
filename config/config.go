// Package config loads and persists the Cadenza configuration.
//
// Sources merge in precedence order: defaults < system < user < project
// file < environment. Budget limits written from the API go to a separate
// user overlay file so hand-edited config is never clobbered.
package config

// Config is the root Cadenza configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Services  ServicesConfig  `mapstructure:"services"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port               *int     `mapstructure:"port"` // nil = default 8750, 0 is invalid (omit for default)
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	LogTheme           string   `mapstructure:"log_theme"` // gruvbox, everforest
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute"`
}

// SchedulerConfig configures the scheduling engine.
type SchedulerConfig struct {
	PreviewCount int `mapstructure:"preview_count"` // upcoming fires shown by default (default: 5)
}

// BudgetConfig configures envelope defaults and exhaustion behavior.
type BudgetConfig struct {
	DefaultTaskBudgetUSD float64 `mapstructure:"default_task_budget_usd"` // applied when a task is created without one
	AlertThreshold       float64 `mapstructure:"alert_threshold"`         // 0..1 fraction of allocation; 0 = no alerts
	AutoPauseOnExhaust   bool    `mapstructure:"auto_pause_on_exhaust"`   // pause the schedule when its envelope runs dry
}

// TasksConfig configures standalone task execution.
type TasksConfig struct {
	// ServiceIDs maps a task service type to the registry id that executes
	// it. Types absent here resolve to the type name itself.
	ServiceIDs map[string]string `mapstructure:"service_ids"`
}

// ServicesConfig configures the built-in services.
type ServicesConfig struct {
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig configures the built-in webhook service.
type WebhookConfig struct {
	// URL is the default delivery target for scheduled fires. Standalone
	// webhook tasks may override it per task.
	URL string `mapstructure:"url"`
	// AllowPrivate permits loopback and private-network targets.
	AllowPrivate bool `mapstructure:"allow_private"`
}

// Server port constants.
const (
	DefaultServerPort = 8750
)

// File system constants.
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// GetDatabasePath returns the configured database path.
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "cadenza.db"
	}
	return c.Database.Path
}

// GetServerPort returns the configured server port.
func (c *Config) GetServerPort() int {
	if c.Server.Port == nil || *c.Server.Port == 0 {
		return DefaultServerPort
	}
	return *c.Server.Port
}

// GetServerAllowedOrigins returns the allowed CORS origins.
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}
