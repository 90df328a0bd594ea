package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ferrors "github.com/divertscan/fieldsync/internal/foundation/errors"
)

// Config is the root configuration for the fieldsync agent.
type Config struct {
	Tenant       TenantConfig       `yaml:"tenant"`
	Remote       RemoteConfig       `yaml:"remote"`
	Store        StoreConfig        `yaml:"store"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Sessions     SessionsConfig     `yaml:"sessions"`
	Admin        AdminConfig        `yaml:"admin"`
	Events       EventsConfig       `yaml:"events"`
	Logging      LoggingConfig      `yaml:"logging"`

	// path remembers where the config was loaded from, for hot reload.
	path string
}

// Path returns the file this config was loaded from, or "" when running on
// defaults and environment only.
func (c *Config) Path() string { return c.path }

// TenantConfig identifies this device within the multi-tenant backend.
type TenantConfig struct {
	ID       string `yaml:"id"`
	DeviceID string `yaml:"device_id"`
}

// RemoteConfig describes the backend API the sync processor delivers to.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"`
	HealthPath     string        `yaml:"health_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StoreConfig describes the durable operation store.
type StoreConfig struct {
	// Path is the SQLite database file. ":memory:" yields an ephemeral store.
	Path string `yaml:"path"`
}

// SyncConfig describes retry/backoff behavior for the sync processor.
type SyncConfig struct {
	MaxAttempts    int              `yaml:"max_attempts"`
	BackoffMode    RetryBackoffMode `yaml:"backoff_mode"`
	BackoffInitial time.Duration    `yaml:"backoff_initial"`
	BackoffMax     time.Duration    `yaml:"backoff_max"`
}

// ConnectivityConfig describes reachability probing of the backend.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// SessionsConfig describes capture session housekeeping.
type SessionsConfig struct {
	// StaleAfter is how long a non-terminal session may sit untouched before
	// the cleanup job purges it.
	StaleAfter      time.Duration `yaml:"stale_after"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// AdminConfig describes the local admin/metrics HTTP server.
type AdminConfig struct {
	Listen  string `yaml:"listen"`
	Enabled bool   `yaml:"enabled"`
}

// EventsConfig describes the optional NATS event bridge for dashboards.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LoggingConfig describes structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file, overlays .env files and process
// environment variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	// Best effort: .env files are optional on a field device.
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Run on pure defaults + env when no config file is present.
			cfg.applyEnv()
			if verr := cfg.Validate(); verr != nil {
				return nil, verr
			}
			return cfg, nil
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "read config file").Build()
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "parse config file").Build()
	}

	cfg.applyEnv()
	cfg.normalize()
	cfg.path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays well-known environment variables onto the config.
// Environment always wins over file values so deployments can override
// per-device settings without editing YAML.
func (c *Config) applyEnv() {
	if v := os.Getenv("FIELDSYNC_REMOTE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv("FIELDSYNC_TENANT_ID"); v != "" {
		c.Tenant.ID = v
	}
	if v := os.Getenv("FIELDSYNC_DEVICE_ID"); v != "" {
		c.Tenant.DeviceID = v
	}
	if v := os.Getenv("FIELDSYNC_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("FIELDSYNC_NATS_URL"); v != "" {
		c.Events.NATSURL = v
		c.Events.Enabled = true
	}
	if v := os.Getenv("FIELDSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// normalize coerces free-form string fields into their typed forms.
func (c *Config) normalize() {
	c.Sync.BackoffMode = NormalizeRetryBackoff(string(c.Sync.BackoffMode))
	c.Logging.Level = string(NormalizeLogLevel(c.Logging.Level))
	c.Logging.Format = string(NormalizeLogFormat(c.Logging.Format))
}
