package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://localhost:8767", cfg.Daemon.BaseURL)
	assert.Equal(t, "/ws/events", cfg.Daemon.EventsPath)
	assert.Equal(t, 500, cfg.Ingest.DedupWindow)
	assert.Equal(t, 1*time.Second, cfg.Transport.ReconnectInitial)
	assert.Equal(t, 30*time.Second, cfg.Transport.ReconnectMax)
	assert.Equal(t, 5, cfg.Transport.DegradedThreshold)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.CommandTimeout)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "khive-gateway.toml")
	content := `
[daemon]
base_url = "http://daemon.internal:9000"
request_timeout = "5s"

[transport]
reconnect_initial = "500ms"
degraded_threshold = 3

[ingest]
dedup_window = 128

[dispatch]
command_timeout = "10s"

[log]
level = "debug"
format = "json"

[auth]
token_ttl = "1h"

[[auth.operators]]
email = "ops@khive.ai"
password_hash = "$2a$10$abcdefghijklmnopqrstuv"
roles = ["admin"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://daemon.internal:9000", cfg.Daemon.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Daemon.RequestTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Transport.ReconnectInitial)
	assert.Equal(t, 3, cfg.Transport.DegradedThreshold)
	assert.Equal(t, 128, cfg.Ingest.DedupWindow)
	assert.Equal(t, 10*time.Second, cfg.Dispatch.CommandTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 1*time.Hour, cfg.Auth.TokenTTL)
	require.Len(t, cfg.Auth.Operators, 1)
	assert.Equal(t, "ops@khive.ai", cfg.Auth.Operators[0].Email)
	assert.Equal(t, []string{"admin"}, cfg.Auth.Operators[0].Roles)

	// Untouched sections keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Transport.ReconnectMax)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "khive-gateway.toml")
	require.NoError(t, os.WriteFile(path, []byte("[daemon]\nbase_url = \"http://from-file:1\"\n"), 0o600))

	t.Setenv("KHIVE_DAEMON_URL", "http://from-env:2")
	t.Setenv("PORT", "9191")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:2", cfg.Daemon.BaseURL)
	assert.Equal(t, ":9191", cfg.Server.Addr)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "khive-gateway.toml")
	require.NoError(t, os.WriteFile(path, []byte("[dispatch]\ncommand_timeout = \"soon\"\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch.command_timeout")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{
			name:   "zero dedup window",
			mutate: func(c *Config) { c.Ingest.DedupWindow = 0 },
			errSub: "dedup_window",
		},
		{
			name:   "initial backoff above cap",
			mutate: func(c *Config) { c.Transport.ReconnectInitial = time.Minute },
			errSub: "reconnect_initial",
		},
		{
			name:   "zero command timeout",
			mutate: func(c *Config) { c.Dispatch.CommandTimeout = 0 },
			errSub: "command_timeout",
		},
		{
			name: "operator without hash",
			mutate: func(c *Config) {
				c.Auth.Operators = []Operator{{Email: "ops@khive.ai"}}
			},
			errSub: "password_hash",
		},
		{
			name:   "empty daemon url",
			mutate: func(c *Config) { c.Daemon.BaseURL = "" },
			errSub: "base_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}
}
