package config

import (
	"fmt"
	"net/url"

	ferrors "github.com/divertscan/fieldsync/internal/foundation/errors"
)

// Validate checks config invariants that would otherwise surface as confusing
// runtime failures deep inside the pipeline.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return ferrors.ConfigError("remote.base_url is required").Build()
	}
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ferrors.ConfigError(fmt.Sprintf("remote.base_url %q is not a valid URL", c.Remote.BaseURL)).Build()
	}
	if c.Remote.RequestTimeout <= 0 {
		return ferrors.ConfigError("remote.request_timeout must be positive").Build()
	}
	if c.Store.Path == "" {
		return ferrors.ConfigError("store.path is required").Build()
	}
	if c.Sync.MaxAttempts <= 0 {
		return ferrors.ConfigError("sync.max_attempts must be positive").Build()
	}
	if c.Sync.BackoffInitial <= 0 || c.Sync.BackoffMax <= 0 {
		return ferrors.ConfigError("sync backoff durations must be positive").Build()
	}
	if c.Connectivity.ProbeInterval <= 0 {
		return ferrors.ConfigError("connectivity.probe_interval must be positive").Build()
	}
	if c.Sessions.StaleAfter <= 0 {
		return ferrors.ConfigError("sessions.stale_after must be positive").Build()
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		return ferrors.ConfigError("events.nats_url is required when events are enabled").Build()
	}
	return nil
}
