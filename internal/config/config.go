// Package config loads and validates trackersync configuration from a YAML
// file plus TSYNC_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Connection holds the settings for one tracker instance.
type Connection struct {
	BaseURL    string `mapstructure:"base_url"`
	Username   string `mapstructure:"username"`
	APIToken   string `mapstructure:"api_token"`
	ProjectKey string `mapstructure:"project_key"`
}

// SyncOptions are the engine's behavioral knobs.
type SyncOptions struct {
	FlagTTL                time.Duration `mapstructure:"flag_ttl"`
	CreateRaceWindow       time.Duration `mapstructure:"create_race_window"`
	MaxAttachmentSize      int64         `mapstructure:"max_attachment_size"`
	MaxPendingLinkAttempts int           `mapstructure:"max_pending_link_attempts"`
	IssueDelay             time.Duration `mapstructure:"issue_delay"`
	DefaultStatus          string        `mapstructure:"default_status"`
	RetryMaxAttempts       int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay         time.Duration `mapstructure:"retry_base_delay"`
	RateLimitCooldown      time.Duration `mapstructure:"rate_limit_cooldown"`
}

// ReconcileOptions configure the scheduled reconciliation scanner.
type ReconcileOptions struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	// Projects is the allow-listed project set; empty means the local
	// connection's single configured project.
	Projects []string `mapstructure:"projects"`
	// Window restricts the scan to recently changed issues; zero means
	// unrestricted.
	Window time.Duration `mapstructure:"window"`
}

// StorageOptions pick the key-value backend.
type StorageOptions struct {
	Driver string `mapstructure:"driver"` // memory | sqlite
	Path   string `mapstructure:"path"`
}

// ServerOptions configure one HTTP listener.
type ServerOptions struct {
	Addr   string `mapstructure:"addr"`
	Secret string `mapstructure:"secret"`
	Token  string `mapstructure:"token"`
}

// Config is the full trackersync configuration.
type Config struct {
	Local     Connection       `mapstructure:"local"`
	Remote    Connection       `mapstructure:"remote"`
	Webhook   ServerOptions    `mapstructure:"webhook"`
	Admin     ServerOptions    `mapstructure:"admin"`
	Sync      SyncOptions      `mapstructure:"sync"`
	Reconcile ReconcileOptions `mapstructure:"reconcile"`
	Storage   StorageOptions   `mapstructure:"storage"`
}

// Load reads configuration from path (or the default search locations when
// path is empty) and applies defaults and environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("trackersync")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/trackersync")
	}
	v.SetEnvPrefix("TSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvOverrides(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No file found in the search path: env + defaults only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("webhook.addr", ":8080")
	v.SetDefault("admin.addr", ":8081")
	v.SetDefault("sync.flag_ttl", 30*time.Second)
	v.SetDefault("sync.create_race_window", 15*time.Second)
	v.SetDefault("sync.max_attachment_size", int64(10<<20))
	v.SetDefault("sync.max_pending_link_attempts", 5)
	v.SetDefault("sync.issue_delay", 500*time.Millisecond)
	v.SetDefault("sync.default_status", "To Do")
	v.SetDefault("sync.retry_max_attempts", 4)
	v.SetDefault("sync.retry_base_delay", time.Second)
	v.SetDefault("sync.rate_limit_cooldown", 30*time.Second)
	v.SetDefault("reconcile.enabled", false)
	v.SetDefault("reconcile.interval", 10*time.Minute)
	v.SetDefault("reconcile.window", 30*time.Minute)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "trackersync.db")
}

// bindEnvOverrides registers the keys that carry no default. Unmarshal only
// consults the environment for keys viper already knows about, so without an
// explicit binding TSYNC_LOCAL_API_TOKEN and friends would be ignored.
func bindEnvOverrides(v *viper.Viper) {
	for _, key := range []string{
		"local.base_url", "local.username", "local.api_token", "local.project_key",
		"remote.base_url", "remote.username", "remote.api_token", "remote.project_key",
		"webhook.secret",
		"admin.token",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate rejects incomplete connection settings and nonsense durations.
// A validation failure aborts the whole sync attempt: it is a configuration
// error, logged, never retried.
func (c *Config) Validate() error {
	for _, side := range []struct {
		name string
		conn Connection
	}{{"local", c.Local}, {"remote", c.Remote}} {
		if side.conn.BaseURL == "" {
			return fmt.Errorf("%s.base_url is required", side.name)
		}
		if side.conn.APIToken == "" {
			return fmt.Errorf("%s.api_token is required", side.name)
		}
		if side.conn.ProjectKey == "" {
			return fmt.Errorf("%s.project_key is required", side.name)
		}
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret is required")
	}
	if c.Sync.FlagTTL <= 0 {
		return fmt.Errorf("sync.flag_ttl must be positive")
	}
	if c.Sync.RetryMaxAttempts < 1 {
		return fmt.Errorf("sync.retry_max_attempts must be at least 1")
	}
	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("storage.driver must be memory or sqlite, got %q", c.Storage.Driver)
	}
	return nil
}
