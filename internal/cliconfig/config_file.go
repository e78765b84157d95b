package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors Config but uses strings for durations to make TOML
// and YAML friendly.
type FileConfig struct {
	Dir        string `toml:"dir" yaml:"dir"`
	ServiceURL string `toml:"service_url" yaml:"service_url"`
	AppKey     string `toml:"app_key" yaml:"app_key"`
	AppVersion string `toml:"app_version" yaml:"app_version"`
	InboxDir   string `toml:"inbox_dir" yaml:"inbox_dir"`
	LogLevel   string `toml:"log_level" yaml:"log_level"`

	BatchSize     int `toml:"batch_size" yaml:"batch_size"`
	MaxBatchBytes int `toml:"max_batch_bytes" yaml:"max_batch_bytes"`
	RetryCeiling  int `toml:"retry_ceiling" yaml:"retry_ceiling"`

	BaseInterval string `toml:"base_interval" yaml:"base_interval"`
	MaxBackoff   string `toml:"max_backoff" yaml:"max_backoff"`
	WakeDelay    string `toml:"wake_delay" yaml:"wake_delay"`
	HardInterval string `toml:"hard_interval" yaml:"hard_interval"`
	HTTPTimeout  string `toml:"http_timeout" yaml:"http_timeout"`

	NetworkSampleRate      float64 `toml:"network_sample_rate" yaml:"network_sample_rate"`
	NetworkEventsPerSecond float64 `toml:"network_events_per_second" yaml:"network_events_per_second"`
	CPUThreshold           float64 `toml:"cpu_threshold" yaml:"cpu_threshold"`

	RetentionHighMB int `toml:"retention_high_mb" yaml:"retention_high_mb"`
	RetentionLowMB  int `toml:"retention_low_mb" yaml:"retention_low_mb"`

	DisableCrashReporting *bool `toml:"disable_crash_reporting" yaml:"disable_crash_reporting"`
	DisableMetrics        *bool `toml:"disable_metrics" yaml:"disable_metrics"`
	NoInbox               *bool `toml:"no_inbox" yaml:"no_inbox"`
	NoRetention           *bool `toml:"no_retention" yaml:"no_retention"`
	NoGating              *bool `toml:"no_gating" yaml:"no_gating"`
	Once                  *bool `toml:"once" yaml:"once"`
}

// LoadFileConfig reads and parses a config file. Files ending in .yaml or
// .yml are parsed as YAML, anything else as TOML.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := toml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.predem/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".predem", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("dir", fc.Dir, &cfg.Dir)
	s.setString("service-url", fc.ServiceURL, &cfg.ServiceURL)
	s.setString("app-key", fc.AppKey, &cfg.AppKey)
	s.setString("app-version", fc.AppVersion, &cfg.AppVersion)
	s.setString("inbox-dir", fc.InboxDir, &cfg.InboxDir)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	if err := s.setDuration("base-interval", fc.BaseInterval, &cfg.BaseInterval); err != nil {
		return err
	}
	if err := s.setDuration("max-backoff", fc.MaxBackoff, &cfg.MaxBackoff); err != nil {
		return err
	}
	if err := s.setDuration("wake-delay", fc.WakeDelay, &cfg.WakeDelay); err != nil {
		return err
	}
	if err := s.setDuration("hard-interval", fc.HardInterval, &cfg.HardInterval); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}

	s.setFloat("network-sample-rate", fc.NetworkSampleRate, &cfg.NetworkSampleRate)
	s.setFloat("network-events-per-second", fc.NetworkEventsPerSecond, &cfg.NetworkEventsPerSecond)
	s.setFloat("cpu-threshold", fc.CPUThreshold, &cfg.CPUThreshold)

	s.setInt("batch-size", fc.BatchSize, &cfg.BatchSize)
	s.setInt("max-batch-bytes", fc.MaxBatchBytes, &cfg.MaxBatchBytes)
	s.setInt("retry-ceiling", fc.RetryCeiling, &cfg.RetryCeiling)
	s.setInt("retention-high-mb", fc.RetentionHighMB, &cfg.RetentionHighMB)
	s.setInt("retention-low-mb", fc.RetentionLowMB, &cfg.RetentionLowMB)

	s.setBool("disable-crash-reporting", fc.DisableCrashReporting, &cfg.DisableCrashReporting)
	s.setBool("disable-metrics", fc.DisableMetrics, &cfg.DisableMetrics)
	s.setBool("no-inbox", fc.NoInbox, &cfg.NoInbox)
	s.setBool("no-retention", fc.NoRetention, &cfg.NoRetention)
	s.setBool("no-gating", fc.NoGating, &cfg.NoGating)
	s.setBool("once", fc.Once, &cfg.Once)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
