package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trackersync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `
local:
  base_url: https://local.example.com
  api_token: local-token
  project_key: LOC
remote:
  base_url: https://remote.atlassian.net
  username: bot@example.com
  api_token: remote-token
  project_key: REM
webhook:
  secret: hook-secret
admin:
  token: admin-token
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Webhook.Addr)
	assert.Equal(t, ":8081", cfg.Admin.Addr)
	assert.Equal(t, 30*time.Second, cfg.Sync.FlagTTL)
	assert.Equal(t, 15*time.Second, cfg.Sync.CreateRaceWindow)
	assert.Equal(t, int64(10<<20), cfg.Sync.MaxAttachmentSize)
	assert.Equal(t, 5, cfg.Sync.MaxPendingLinkAttempts)
	assert.Equal(t, "To Do", cfg.Sync.DefaultStatus)
	assert.Equal(t, 4, cfg.Sync.RetryMaxAttempts)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.False(t, cfg.Reconcile.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig+`
sync:
  flag_ttl: 2m
  default_status: Open
reconcile:
  enabled: true
  interval: 5m
  projects: [ALPHA, BETA]
storage:
  driver: memory
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Minute, cfg.Sync.FlagTTL)
	assert.Equal(t, "Open", cfg.Sync.DefaultStatus)
	assert.True(t, cfg.Reconcile.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, []string{"ALPHA", "BETA"}, cfg.Reconcile.Projects)
	assert.Equal(t, "memory", cfg.Storage.Driver)
}

func TestLoadEnvOverrides(t *testing.T) {
	// A full configuration from the environment alone, including the keys
	// that carry no default (connections and secrets).
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TSYNC_LOCAL_BASE_URL", "https://env-local.example.com")
	t.Setenv("TSYNC_LOCAL_API_TOKEN", "env-local-token")
	t.Setenv("TSYNC_LOCAL_PROJECT_KEY", "LOC")
	t.Setenv("TSYNC_REMOTE_BASE_URL", "https://env-remote.atlassian.net")
	t.Setenv("TSYNC_REMOTE_USERNAME", "bot@example.com")
	t.Setenv("TSYNC_REMOTE_API_TOKEN", "env-remote-token")
	t.Setenv("TSYNC_REMOTE_PROJECT_KEY", "REM")
	t.Setenv("TSYNC_WEBHOOK_SECRET", "env-hook-secret")
	t.Setenv("TSYNC_ADMIN_TOKEN", "env-admin-token")
	t.Setenv("TSYNC_STORAGE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://env-local.example.com", cfg.Local.BaseURL)
	assert.Equal(t, "env-local-token", cfg.Local.APIToken)
	assert.Equal(t, "env-remote-token", cfg.Remote.APIToken)
	assert.Equal(t, "env-hook-secret", cfg.Webhook.Secret)
	assert.Equal(t, "env-admin-token", cfg.Admin.Token)
	assert.Equal(t, "memory", cfg.Storage.Driver)
}

func TestEnvOverridesFileValue(t *testing.T) {
	t.Setenv("TSYNC_WEBHOOK_SECRET", "env-wins")
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	assert.Equal(t, "env-wins", cfg.Webhook.Secret)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, validConfig))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing local base_url", func(c *Config) { c.Local.BaseURL = "" }},
		{"missing remote token", func(c *Config) { c.Remote.APIToken = "" }},
		{"missing project key", func(c *Config) { c.Local.ProjectKey = "" }},
		{"missing webhook secret", func(c *Config) { c.Webhook.Secret = "" }},
		{"zero flag ttl", func(c *Config) { c.Sync.FlagTTL = 0 }},
		{"zero retry attempts", func(c *Config) { c.Sync.RetryMaxAttempts = 0 }},
		{"unknown storage driver", func(c *Config) { c.Storage.Driver = "redis" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
