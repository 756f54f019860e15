package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "cadenza.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.log_theme", "gruvbox")
	v.SetDefault("server.rate_limit_per_minute", 120)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})

	// Scheduler defaults
	v.SetDefault("scheduler.preview_count", 5)

	// Budget defaults
	v.SetDefault("budget.default_task_budget_usd", 1.0)
	v.SetDefault("budget.alert_threshold", 0.8)
	v.SetDefault("budget.auto_pause_on_exhaust", true)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to
// environment variables.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "CADENZA_DATABASE_PATH")
	v.BindEnv("server.port", "CADENZA_SERVER_PORT")
}
