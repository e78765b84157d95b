package predem

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/predem/internal/domain"
	"github.com/bft-labs/predem/internal/ports"
)

// RetentionConfig bounds the disk space held by undelivered records.
// When enabled, the agent periodically checks the store size and drops the
// oldest pending telemetry once it exceeds the high watermark. Crash reports
// are never dropped.
type RetentionConfig struct {
	// Enabled controls whether retention is active. Default: false
	Enabled bool

	// CheckInterval is how often to check the store size.
	// Default: 10 minutes
	CheckInterval time.Duration

	// HighWatermark is the size in bytes above which records are dropped.
	// Default: 64 MiB
	HighWatermark int64

	// LowWatermark is the target size in bytes after dropping.
	// Default: 48 MiB
	LowWatermark int64
}

const (
	defaultRetentionInterval = 10 * time.Minute
	defaultHighWatermark     = 64 << 20
	defaultLowWatermark      = 48 << 20
)

// DefaultRetentionConfig returns a RetentionConfig with sensible defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Enabled:       true,
		CheckInterval: defaultRetentionInterval,
		HighWatermark: defaultHighWatermark,
		LowWatermark:  defaultLowWatermark,
	}
}

// WithRetentionConfig enables store retention with the specified configuration.
//
// Usage:
//
//	a, err := predem.New(cfg,
//	    predem.WithRetentionConfig(predem.RetentionConfig{
//	        Enabled:       true,
//	        HighWatermark: 256 << 20,
//	        LowWatermark:  128 << 20,
//	        CheckInterval: time.Hour,
//	    }),
//	)
func WithRetentionConfig(cfg RetentionConfig) Option {
	if !cfg.Enabled {
		return func(o *options) {}
	}

	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultRetentionInterval
	}
	if cfg.HighWatermark <= 0 {
		cfg.HighWatermark = defaultHighWatermark
	}
	if cfg.LowWatermark <= 0 || cfg.LowWatermark > cfg.HighWatermark {
		cfg.LowWatermark = cfg.HighWatermark * 3 / 4
	}

	return func(o *options) {
		o.retentionConfig = &cfg
	}
}

// evictor is the part of the record store retention works on.
type evictor interface {
	Stats() ports.StoreStats
	EvictOldest(ctx context.Context, target int64, protect func(domain.Kind) bool) ([]domain.Record, error)
}

// retentionRunner manages the retention goroutine.
type retentionRunner struct {
	checkInterval time.Duration
	highWatermark int64
	lowWatermark  int64

	store     evictor
	onEvicted func(domain.Record)
	logger    ports.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newRetentionRunner creates a runner. onEvicted, if not nil, is called for
// every evicted record.
func newRetentionRunner(cfg RetentionConfig, store evictor, onEvicted func(domain.Record), logger ports.Logger) *retentionRunner {
	return &retentionRunner{
		checkInterval: cfg.CheckInterval,
		highWatermark: cfg.HighWatermark,
		lowWatermark:  cfg.LowWatermark,
		store:         store,
		onEvicted:     onEvicted,
		logger:        logger,
	}
}

func (r *retentionRunner) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.logger.Info("retention enabled",
		ports.Int64("high_watermark", r.highWatermark),
		ports.Int64("low_watermark", r.lowWatermark))

	r.wg.Add(1)
	go r.loop(runCtx)
}

func (r *retentionRunner) stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *retentionRunner) loop(ctx context.Context) {
	defer r.wg.Done()

	// Run immediately on startup
	r.runOnce(ctx)

	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

// runOnce drops the oldest pending telemetry down to the low watermark if
// the store is above the high watermark. It returns the number of records
// dropped.
func (r *retentionRunner) runOnce(ctx context.Context) int {
	before := r.store.Stats().Bytes
	if before <= r.highWatermark {
		return 0
	}

	evicted, err := r.store.EvictOldest(ctx, r.lowWatermark, isCrashReport)
	if err != nil {
		r.logger.Error("retention: evict failed", ports.Err(err))
		return 0
	}
	for _, rec := range evicted {
		r.logger.Debug("retention: record abandoned",
			ports.String("id", rec.ID.String()),
			ports.String("kind", rec.Kind.String()))
		if r.onEvicted != nil {
			r.onEvicted(rec)
		}
	}
	if len(evicted) > 0 {
		r.logger.Info("retention completed",
			ports.Int("records_dropped", len(evicted)),
			ports.Int64("bytes_freed", before-r.store.Stats().Bytes))
	}
	return len(evicted)
}

func isCrashReport(k domain.Kind) bool {
	return k == domain.KindCrashReport
}
