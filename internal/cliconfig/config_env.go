package cliconfig

import (
	"os"
	"time"
)

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "PREDEM_"

// ApplyEnvConfig applies configuration from environment variables (PREDEM_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	s.setString("dir", env("DIR"), &cfg.Dir)
	s.setString("service-url", env("SERVICE_URL"), &cfg.ServiceURL)
	s.setString("app-key", env("APP_KEY"), &cfg.AppKey)
	s.setString("app-version", env("APP_VERSION"), &cfg.AppVersion)
	s.setString("inbox-dir", env("INBOX_DIR"), &cfg.InboxDir)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)

	durations := []struct {
		flag, name string
		dst        *time.Duration
	}{
		{"base-interval", "BASE_INTERVAL", &cfg.BaseInterval},
		{"max-backoff", "MAX_BACKOFF", &cfg.MaxBackoff},
		{"wake-delay", "WAKE_DELAY", &cfg.WakeDelay},
		{"hard-interval", "HARD_INTERVAL", &cfg.HardInterval},
		{"timeout", "HTTP_TIMEOUT", &cfg.HTTPTimeout},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, env(d.name), d.dst); err != nil {
			return err
		}
	}

	floats := []struct {
		flag, name string
		dst        *float64
	}{
		{"network-sample-rate", "NETWORK_SAMPLE_RATE", &cfg.NetworkSampleRate},
		{"network-events-per-second", "NETWORK_EVENTS_PER_SECOND", &cfg.NetworkEventsPerSecond},
		{"cpu-threshold", "CPU_THRESHOLD", &cfg.CPUThreshold},
	}
	for _, f := range floats {
		if err := s.setFloatFromString(f.flag, env(f.name), f.dst); err != nil {
			return err
		}
	}

	ints := []struct {
		flag, name string
		dst        *int
	}{
		{"batch-size", "BATCH_SIZE", &cfg.BatchSize},
		{"max-batch-bytes", "MAX_BATCH_BYTES", &cfg.MaxBatchBytes},
		{"retry-ceiling", "RETRY_CEILING", &cfg.RetryCeiling},
		{"retention-high-mb", "RETENTION_HIGH_MB", &cfg.RetentionHighMB},
		{"retention-low-mb", "RETENTION_LOW_MB", &cfg.RetentionLowMB},
	}
	for _, i := range ints {
		if err := s.setIntFromString(i.flag, env(i.name), i.dst); err != nil {
			return err
		}
	}

	s.setBoolFromString("disable-crash-reporting", env("DISABLE_CRASH_REPORTING"), &cfg.DisableCrashReporting)
	s.setBoolFromString("disable-metrics", env("DISABLE_METRICS"), &cfg.DisableMetrics)
	s.setBoolFromString("no-inbox", env("NO_INBOX"), &cfg.NoInbox)
	s.setBoolFromString("no-retention", env("NO_RETENTION"), &cfg.NoRetention)
	s.setBoolFromString("no-gating", env("NO_GATING"), &cfg.NoGating)
	s.setBoolFromString("once", env("ONCE"), &cfg.Once)

	return nil
}
