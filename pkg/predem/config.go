package predem

import (
	"fmt"
	"strings"
	"time"

	"github.com/bft-labs/predem/internal/adapters/fs"
	"github.com/bft-labs/predem/internal/app"
	"github.com/bft-labs/predem/internal/domain"
)

// SDKVersion is reported to the collection service with every batch.
const SDKVersion = "0.4.0"

// Config holds the pipeline configuration. It is read once by New; later
// changes have no effect.
type Config struct {
	// Dir holds the record store, crash slots and the install identity.
	// Required.
	Dir string

	// ServiceURL is the base URL of the collection service. When empty the
	// pipeline captures and persists but never transmits.
	ServiceURL string

	// AppKey authenticates the application to the service.
	AppKey string

	// AppVersion is the host application's version.
	AppVersion string

	// DisableCrashReporting leaves fatal failures to the runtime.
	DisableCrashReporting bool

	// DisableMetrics drops session and user events.
	DisableMetrics bool

	// DisableHTTPMonitor drops network events.
	DisableHTTPMonitor bool

	// NetworkSampleRate is the fraction of network events kept, in (0, 1].
	// Default: 1
	NetworkSampleRate float64

	// NetworkEventsPerSecond caps the network event rate. Default: 50
	NetworkEventsPerSecond float64

	// BatchSize bounds the records per request. Default: 50
	BatchSize int

	// MaxBatchBytes bounds the payload bytes per request. Default: 1 MiB
	MaxBatchBytes int

	// RetryCeiling is the number of failed attempts after which a record
	// is abandoned. Default: 5
	RetryCeiling int

	// BaseInterval is the wait between delivery cycles. Default: 15s
	BaseInterval time.Duration

	// MaxBackoff caps the wait after failed cycles. Default: 5m
	MaxBackoff time.Duration

	// WakeDelay coalesces bursts of new records. Default: 2s
	WakeDelay time.Duration

	// HTTPTimeout bounds each delivery request. Default: 30s
	HTTPTimeout time.Duration

	// HardInterval forces delivery while resource gating defers it.
	// Default: 5m
	HardInterval time.Duration

	// NodeID distinguishes processes sharing a clock when generating
	// record ids (0-1023). Default: 0
	NodeID int64
}

// DefaultConfig returns a Config with default values. Dir must still be set.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero fields with their default values.
func (c *Config) SetDefaults() {
	if c.NetworkSampleRate <= 0 {
		c.NetworkSampleRate = 1
	}
	if c.NetworkEventsPerSecond <= 0 {
		c.NetworkEventsPerSecond = 50
	}
	if c.BatchSize <= 0 {
		c.BatchSize = app.DefaultBatchSize
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = app.DefaultMaxBatchBytes
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = fs.DefaultRetryCeiling
	}
	if c.BaseInterval <= 0 {
		c.BaseInterval = app.DefaultBaseInterval
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = app.DefaultMaxBackoff
	}
	if c.WakeDelay <= 0 {
		c.WakeDelay = app.DefaultWakeDelay
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = app.DefaultSendTimeout
	}
	if c.HardInterval <= 0 {
		c.HardInterval = app.DefaultHardInterval
	}
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("%w: dir is required", domain.ErrInvalidConfig)
	}
	if c.ServiceURL != "" && !strings.HasPrefix(c.ServiceURL, "http://") && !strings.HasPrefix(c.ServiceURL, "https://") {
		return fmt.Errorf("%w: service URL must be http or https: %q", domain.ErrInvalidConfig, c.ServiceURL)
	}
	if c.NetworkSampleRate > 1 {
		return fmt.Errorf("%w: network sample rate must be at most 1", domain.ErrInvalidConfig)
	}
	if c.MaxBackoff < c.BaseInterval {
		return fmt.Errorf("%w: max backoff must not be shorter than the base interval", domain.ErrInvalidConfig)
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("%w: node id must be between 0 and 1023", domain.ErrInvalidConfig)
	}
	return nil
}

// disabledKinds resolves the disable flags to record kinds.
func (c *Config) disabledKinds() []domain.Kind {
	var kinds []domain.Kind
	if c.DisableMetrics {
		kinds = append(kinds, domain.KindSessionEvent, domain.KindUserEvent)
	}
	if c.DisableHTTPMonitor {
		kinds = append(kinds, domain.KindNetworkEvent)
	}
	return kinds
}
