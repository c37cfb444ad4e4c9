// Package config provides configuration loading and startup logging for
// the federation core.
package config

import (
	"log/slog"
)

// LogStartupConfig logs the server configuration at startup. Sensitive
// values (session secret, owner password hash) are NEVER logged.
func LogStartupConfig(logger *slog.Logger, cfg *Config, dbConnected bool) {
	env := "unknown"
	if cfg != nil && cfg.Environment != "" {
		env = cfg.Environment
	}

	dbStatus := "not connected"
	if dbConnected {
		dbStatus = "connected"
	}

	sessionStatus := "not configured"
	if cfg != nil && cfg.SessionSecret != "" {
		sessionStatus = "configured"
	}

	logger.Info("federation core configuration",
		"environment", env,
		"database", dbStatus,
		"session_secret", sessionStatus,
		"server_name", safe(cfg, func(c *Config) string { return c.ServerName }),
		"require_vouch", safeBool(cfg, func(c *Config) bool { return c.RequireVouch }),
	)

	logger.Info("middleware enabled",
		"logging", "enabled",
		"cors", "enabled",
		"rate_limiting", "enabled",
	)

	if cfg != nil {
		logger.Info("outgoing webmentions",
			"enabled", !cfg.IsDevelopment(),
		)
	}
}

func safe(cfg *Config, get func(*Config) string) string {
	if cfg == nil {
		return ""
	}
	return get(cfg)
}

func safeBool(cfg *Config, get func(*Config) bool) bool {
	if cfg == nil {
		return false
	}
	return get(cfg)
}
