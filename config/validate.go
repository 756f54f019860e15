package config

import "github.com/cadenzahq/cadenza/errors"

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.New("server.port cannot be 0 (omit for default port 8750)")
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}

	if c.Server.RateLimitPerMinute < 0 {
		return errors.Newf("server.rate_limit_per_minute must be >= 0, got %d", c.Server.RateLimitPerMinute)
	}

	if c.Scheduler.PreviewCount < 0 {
		return errors.Newf("scheduler.preview_count must be >= 0, got %d", c.Scheduler.PreviewCount)
	}

	// Budget values: 0 = no budget, negative = invalid
	if c.Budget.DefaultTaskBudgetUSD < 0 {
		return errors.Newf("budget.default_task_budget_usd must be >= 0, got %f", c.Budget.DefaultTaskBudgetUSD)
	}
	if c.Budget.AlertThreshold < 0 || c.Budget.AlertThreshold > 1 {
		return errors.Newf("budget.alert_threshold must be within 0..1, got %f", c.Budget.AlertThreshold)
	}

	return nil
}
