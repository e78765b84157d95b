package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds CLI configuration for predem.
type Config struct {
	Dir        string
	ServiceURL string
	AppKey     string
	AppVersion string
	InboxDir   string

	BatchSize     int
	MaxBatchBytes int
	RetryCeiling  int

	BaseInterval time.Duration
	MaxBackoff   time.Duration
	WakeDelay    time.Duration
	HardInterval time.Duration
	HTTPTimeout  time.Duration

	NetworkSampleRate      float64
	NetworkEventsPerSecond float64
	CPUThreshold           float64

	RetentionHighMB int
	RetentionLowMB  int

	LogLevel string

	DisableCrashReporting bool
	DisableMetrics        bool
	NoInbox               bool
	NoRetention           bool
	NoGating              bool
	Once                  bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		BatchSize:              50,
		MaxBatchBytes:          1 << 20,
		RetryCeiling:           5,
		BaseInterval:           15 * time.Second,
		MaxBackoff:             5 * time.Minute,
		WakeDelay:              2 * time.Second,
		HardInterval:           5 * time.Minute,
		HTTPTimeout:            30 * time.Second,
		NetworkSampleRate:      1,
		NetworkEventsPerSecond: 50,
		CPUThreshold:           0.85,
		RetentionHighMB:        64,
		RetentionLowMB:         48,
		LogLevel:               "info",
		AppKey:                 os.Getenv("PREDEM_APP_KEY"),
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.Dir == "" {
		if h, err := os.UserHomeDir(); err == nil {
			c.Dir = filepath.Join(h, ".predem", "data")
		} else {
			return fmt.Errorf("dir is required")
		}
	}

	// Ensure no trailing slash
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")

	if c.BaseInterval <= 0 {
		return fmt.Errorf("base interval must be positive")
	}
	if c.MaxBackoff < c.BaseInterval {
		return fmt.Errorf("max backoff must not be shorter than the base interval")
	}
	if c.NetworkSampleRate <= 0 || c.NetworkSampleRate > 1 {
		return fmt.Errorf("network sample rate must be in (0, 1]")
	}
	if c.RetentionLowMB >= c.RetentionHighMB {
		return fmt.Errorf("retention low watermark must be below the high watermark")
	}

	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setFloat sets a float64 value if positive and flag not changed.
func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setFloatFromString parses a string to float64 and sets the destination if valid.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f <= 0 {
		return nil
	}
	*dst = f
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
