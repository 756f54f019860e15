package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/internal/util"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "cadenza.db", cfg.GetDatabasePath())
	assert.Equal(t, DefaultServerPort, cfg.GetServerPort())
	assert.Equal(t, "gruvbox", cfg.Server.LogTheme)
	assert.Equal(t, 120, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, 5, cfg.Scheduler.PreviewCount)
	assert.Equal(t, 1.0, cfg.Budget.DefaultTaskBudgetUSD)
	assert.Equal(t, 0.8, cfg.Budget.AlertThreshold)
	assert.True(t, cfg.Budget.AutoPauseOnExhaust)
	assert.NoError(t, cfg.Validate())
}

func TestGettersFallBack(t *testing.T) {
	var cfg Config
	assert.Equal(t, "cadenza.db", cfg.GetDatabasePath())
	assert.Equal(t, DefaultServerPort, cfg.GetServerPort())
	assert.Contains(t, cfg.GetServerAllowedOrigins(), "http://localhost")

	cfg.Database.Path = "/var/lib/cadenza/db.sqlite"
	port := 9000
	cfg.Server.Port = &port
	cfg.Server.AllowedOrigins = []string{"https://cadenza.example.com"}
	assert.Equal(t, "/var/lib/cadenza/db.sqlite", cfg.GetDatabasePath())
	assert.Equal(t, 9000, cfg.GetServerPort())
	assert.Equal(t, []string{"https://cadenza.example.com"}, cfg.GetServerAllowedOrigins())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"zero value", func(c *Config) {}, false},
		{"explicit port", func(c *Config) { c.Server.Port = util.Ptr(8080) }, false},
		{"port zero", func(c *Config) { c.Server.Port = util.Ptr(0) }, true},
		{"port negative", func(c *Config) { c.Server.Port = util.Ptr(-1) }, true},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitPerMinute = -1 }, true},
		{"negative preview count", func(c *Config) { c.Scheduler.PreviewCount = -1 }, true},
		{"negative default budget", func(c *Config) { c.Budget.DefaultTaskBudgetUSD = -0.5 }, true},
		{"threshold above one", func(c *Config) { c.Budget.AlertThreshold = 1.5 }, true},
		{"threshold at one", func(c *Config) { c.Budget.AlertThreshold = 1.0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cadenza.toml")
	content := `
[database]
path = "/tmp/test-cadenza.db"

[server]
port = 9100
rate_limit_per_minute = 30

[budget]
default_task_budget_usd = 2.5
auto_pause_on_exhaust = false

[tasks.service_ids]
digest = "digest-v2"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test-cadenza.db", cfg.GetDatabasePath())
	assert.Equal(t, 9100, cfg.GetServerPort())
	assert.Equal(t, 30, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, 2.5, cfg.Budget.DefaultTaskBudgetUSD)
	assert.False(t, cfg.Budget.AutoPauseOnExhaust)
	assert.Equal(t, "digest-v2", cfg.Tasks.ServiceIDs["digest"])

	// Unset keys keep their defaults.
	assert.Equal(t, 5, cfg.Scheduler.PreviewCount)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
