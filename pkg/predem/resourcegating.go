package predem

import (
	"runtime"
	"sync"

	"github.com/bft-labs/predem/internal/ports"
)

// ResourceGatingConfig holds configuration options for resource gating.
// Resource gating defers delivery while the host is under heavy load so the
// pipeline never competes with the application it observes. Delivery still
// happens once HardInterval has passed since the last send.
type ResourceGatingConfig struct {
	// Enabled controls whether resource gating is active. Default: true
	Enabled bool

	// CPUThreshold is the approximate CPU load fraction (0.0-1.0) above
	// which delivery is deferred.
	// Default: 0.85
	CPUThreshold float64
}

const defaultCPUThreshold = 0.85

// DefaultResourceGatingConfig returns a ResourceGatingConfig with sensible defaults.
func DefaultResourceGatingConfig() ResourceGatingConfig {
	return ResourceGatingConfig{
		Enabled:      true,
		CPUThreshold: defaultCPUThreshold,
	}
}

// WithResourceGatingConfig enables resource gating with the specified configuration.
//
// Usage:
//
//	a, err := predem.New(cfg,
//	    predem.WithResourceGatingConfig(predem.ResourceGatingConfig{
//	        Enabled:      true,
//	        CPUThreshold: 0.90,
//	    }),
//	)
func WithResourceGatingConfig(cfg ResourceGatingConfig) Option {
	if !cfg.Enabled {
		return func(o *options) {}
	}

	if cfg.CPUThreshold <= 0 {
		cfg.CPUThreshold = defaultCPUThreshold
	}

	return func(o *options) {
		o.resourceGatingConfig = &cfg
	}
}

// resourceGate implements ports.ResourceGate.
type resourceGate struct {
	mu sync.RWMutex

	cpuThreshold float64
	logger       ports.Logger

	// systemLoad returns the one-minute load average per CPU, or a negative
	// value when the platform does not report one.
	systemLoad func() float64
	goroutines func() int
}

var _ ports.ResourceGate = (*resourceGate)(nil)

func newResourceGate(cfg ResourceGatingConfig, logger ports.Logger) *resourceGate {
	return &resourceGate{
		cpuThreshold: cfg.CPUThreshold,
		logger:       logger,
		systemLoad:   loadPerCPU,
		goroutines:   runtime.NumGoroutine,
	}
}

// goroutinesPerCPUAtFullLoad maps goroutine count to approximate CPU load.
const goroutinesPerCPUAtFullLoad = 12.0

// OK returns true if system resources allow sending.
// The load is the higher of the host's load average per CPU and the
// process's goroutines per CPU.
func (g *resourceGate) OK() bool {
	g.mu.RLock()
	threshold := g.cpuThreshold
	logger := g.logger
	systemLoad := g.systemLoad
	goroutines := g.goroutines
	g.mu.RUnlock()

	numGoroutines := goroutines()
	numCPU := runtime.NumCPU()

	// Guard against division by zero (can happen in restricted containers)
	if numCPU <= 0 {
		numCPU = 1
	}

	approxLoad := float64(numGoroutines) / float64(numCPU) / goroutinesPerCPUAtFullLoad
	if systemLoad != nil {
		if l := systemLoad(); l > approxLoad {
			approxLoad = l
		}
	}
	if approxLoad > 1.0 {
		approxLoad = 1.0
	}

	if approxLoad > threshold {
		if logger != nil {
			logger.Debug("resource gate: high system load, delaying send",
				ports.Int("goroutines", numGoroutines),
				ports.Int("cpus", numCPU),
				ports.Float64("approx_load", approxLoad),
				ports.Float64("threshold", threshold),
			)
		}
		return false
	}

	return true
}
