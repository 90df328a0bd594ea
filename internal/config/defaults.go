package config

import "time"

// Default returns the baseline configuration before file and environment
// overlays are applied.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL:        "http://localhost:8000",
			HealthPath:     "/health",
			RequestTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Path: "fieldsync.db",
		},
		Sync: SyncConfig{
			MaxAttempts:    5,
			BackoffMode:    RetryBackoffExponential,
			BackoffInitial: time.Second,
			BackoffMax:     10 * time.Minute,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 15 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Sessions: SessionsConfig{
			StaleAfter:      24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		Admin: AdminConfig{
			Listen:  "127.0.0.1:9090",
			Enabled: true,
		},
		Events: EventsConfig{
			Enabled:       false,
			SubjectPrefix: "fieldsync",
		},
		Logging: LoggingConfig{
			Level:  string(LogLevelInfo),
			Format: string(LogFormatText),
		},
	}
}
