package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogStartupConfig(t *testing.T) {
	tests := []struct {
		name           string
		cfg            *Config
		dbConnected    bool
		expectedLogs   []string
		unexpectedLogs []string
	}{
		{
			name: "full config with DB connected",
			cfg: &Config{
				Environment:       "production",
				SessionSecret:     "super-secret-key-that-is-long-enough-32bytes",
				ServerName:        "https://example.com",
				RequireVouch:      true,
				OwnerPasswordHash: "$2a$10$examplehash",
			},
			dbConnected: true,
			expectedLogs: []string{
				"environment=production",
				"database=connected",
				"session_secret=configured",
				"server_name=https://example.com",
				"require_vouch=true",
			},
			unexpectedLogs: []string{
				"super-secret-key",
				"examplehash",
			},
		},
		{
			name: "development with outgoing webmentions disabled",
			cfg: &Config{
				Environment:   "development",
				SessionSecret: "dev-secret-key-that-is-long-enough-32bytes",
			},
			dbConnected: false,
			expectedLogs: []string{
				"environment=development",
				`database="not connected"`,
				"session_secret=configured",
				"outgoing webmentions",
				"enabled=false",
			},
			unexpectedLogs: []string{
				"dev-secret-key",
			},
		},
		{
			name: "nil config",
			cfg:  nil,
			expectedLogs: []string{
				"environment=unknown",
				`database="not connected"`,
				`session_secret="not configured"`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handler := slog.NewTextHandler(&buf, nil)
			logger := slog.New(handler)

			LogStartupConfig(logger, tt.cfg, tt.dbConnected)

			logOutput := buf.String()

			for _, expected := range tt.expectedLogs {
				if !strings.Contains(logOutput, expected) {
					t.Errorf("expected log to contain %q, got:\n%s", expected, logOutput)
				}
			}

			for _, unexpected := range tt.unexpectedLogs {
				if strings.Contains(logOutput, unexpected) {
					t.Errorf("log should NOT contain %q (sensitive data), got:\n%s", unexpected, logOutput)
				}
			}
		})
	}
}

func TestLogStartupConfig_MiddlewareEnabled(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, nil)
	logger := slog.New(handler)

	cfg := &Config{
		Environment:   "production",
		SessionSecret: "test-session-secret-that-is-long-enough-32",
	}

	LogStartupConfig(logger, cfg, true)

	logOutput := buf.String()

	expectedMiddleware := []string{
		"logging=enabled",
		"cors=enabled",
		"rate_limiting=enabled",
	}

	for _, expected := range expectedMiddleware {
		if !strings.Contains(logOutput, expected) {
			t.Errorf("expected log to contain middleware info %q, got:\n%s", expected, logOutput)
		}
	}
}
