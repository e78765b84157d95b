package app

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/bft-labs/predem/internal/domain"
	"github.com/bft-labs/predem/internal/ports"
)

// Default scheduler configuration values.
const (
	DefaultBatchSize     = 50
	DefaultMaxBatchBytes = 1 << 20
	DefaultWakeDelay     = 2 * time.Second
	DefaultSendTimeout   = 30 * time.Second
	DefaultHardInterval  = 5 * time.Minute
)

// SchedulerConfig contains configuration for the delivery loop.
type SchedulerConfig struct {
	// BatchSize bounds the number of records per request.
	BatchSize int

	// MaxBatchBytes bounds the payload bytes per request. A single record
	// larger than this is still sent, alone.
	MaxBatchBytes int

	// BaseInterval is the wait between cycles when delivery is healthy.
	BaseInterval time.Duration

	// MaxBackoff caps the wait after consecutive failed cycles.
	MaxBackoff time.Duration

	// WakeDelay is how long a nudge waits so that a burst of new records
	// is delivered by one cycle.
	WakeDelay time.Duration

	// SendTimeout bounds each request. Exceeding it is a retryable failure.
	SendTimeout time.Duration

	// HardInterval forces a cycle while the resource gate is closed.
	HardInterval time.Duration

	// Metadata for send operations
	Metadata ports.SendMetadata

	// Observer, if set, is told every cycle's outcome after the cycle ends.
	Observer CycleObserver
}

// SetDefaults fills zero fields with their default values.
func (c *SchedulerConfig) SetDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if c.BaseInterval <= 0 {
		c.BaseInterval = DefaultBaseInterval
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.WakeDelay < 0 {
		c.WakeDelay = 0
	} else if c.WakeDelay == 0 {
		c.WakeDelay = DefaultWakeDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.HardInterval <= 0 {
		c.HardInterval = DefaultHardInterval
	}
}

// DeliveryEventEmitter is called on delivery outcomes.
type DeliveryEventEmitter interface {
	OnSendSuccess(records, bytesSent int, duration time.Duration)
	OnSendError(err error, records int, retryable bool)
	OnRecordAbandoned(rec domain.Record)
}

// cycleOutcome describes what one delivery cycle did.
type cycleOutcome int

const (
	cycleIdle cycleOutcome = iota
	cycleGated
	cycleUnconfigured
	cycleDelivered
	cyclePartial
	cycleFailed
	// cycleSplit means the service refused the batch as a whole and the
	// next cycle sends a smaller one.
	cycleSplit
)

func (o cycleOutcome) String() string {
	switch o {
	case cycleIdle:
		return "idle"
	case cycleGated:
		return "gated"
	case cycleUnconfigured:
		return "unconfigured"
	case cycleDelivered:
		return "delivered"
	case cyclePartial:
		return "partial"
	case cycleFailed:
		return "failed"
	case cycleSplit:
		return "split"
	default:
		return "unknown"
	}
}

// CycleResult summarizes one delivery cycle.
type CycleResult struct {
	Claimed   int
	Delivered int
	Failed    int
	Abandoned int

	// Full is true when the cycle hit its batch bounds, so more records
	// are probably pending.
	Full bool

	outcome cycleOutcome
}

// Idle reports whether the cycle found nothing to send.
func (r CycleResult) Idle() bool {
	return r.outcome == cycleIdle
}

// Scheduler drains the record store to the transport. Exactly one cycle runs
// at a time; Run, RunOnce and Drain may be mixed freely.
type Scheduler struct {
	config    SchedulerConfig
	store     ports.RecordStore
	transport ports.Transport
	gate      ports.ResourceGate
	logger    ports.Logger
	emitter   DeliveryEventEmitter
	metrics   *deliveryMetrics
	now       func() time.Time

	wakeCh chan struct{}

	// cycleMu serializes cycles and guards the fields below.
	cycleMu     sync.Mutex
	backoff     *backoff
	lastSend    time.Time
	warnedNoURL bool
	// shrink halves the batch bounds once per refused batch. Each cycle
	// that delivers undoes one halving.
	shrink int
}

// NewScheduler creates a new scheduler with the given dependencies.
// gate, emitter and mp may be nil.
func NewScheduler(
	config SchedulerConfig,
	store ports.RecordStore,
	transport ports.Transport,
	gate ports.ResourceGate,
	logger ports.Logger,
	emitter DeliveryEventEmitter,
	mp metric.MeterProvider,
) *Scheduler {
	config.SetDefaults()
	return &Scheduler{
		config:    config,
		store:     store,
		transport: transport,
		gate:      gate,
		logger:    logger,
		emitter:   emitter,
		metrics:   newDeliveryMetrics(mp),
		now:       time.Now,
		wakeCh:    make(chan struct{}, 1),
		backoff:   newBackoff(config.BaseInterval, config.MaxBackoff),
		lastSend:  time.Now(),
	}
}

// Wake asks for a cycle soon. Calls are coalesced and never block.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Run executes the delivery loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(s.cycle(ctx))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-s.wakeCh:
			if s.backingOff() {
				// The timer already holds the backoff wait.
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.config.WakeDelay):
			}
			// Nudges that arrived during the delay are served by this cycle.
			select {
			case <-s.wakeCh:
			default:
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		timer.Reset(s.cycle(ctx))
	}
}

func (s *Scheduler) backingOff() bool {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.backoff.Active()
}

// cycle runs one cycle and returns the wait before the next.
func (s *Scheduler) cycle(ctx context.Context) time.Duration {
	res, err := s.RunOnce(ctx)
	if ctx.Err() != nil {
		return s.config.BaseInterval
	}

	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	switch res.outcome {
	case cycleFailed:
		wait := s.backoff.Next()
		s.logger.Info("delivery backing off",
			ports.Duration("wait", wait),
			ports.Err(err),
		)
		return wait
	case cycleDelivered, cyclePartial:
		s.backoff.Reset()
		if res.Full {
			return 0
		}
	case cycleSplit:
		return 0
	}
	return s.config.BaseInterval
}

// Drain runs cycles until nothing is pending or a cycle fails to deliver.
func (s *Scheduler) Drain(ctx context.Context) error {
	for {
		res, err := s.RunOnce(ctx)
		if res.outcome == cycleSplit {
			continue
		}
		if err != nil {
			return err
		}
		switch res.outcome {
		case cycleIdle, cycleGated:
			return nil
		case cyclePartial:
			if res.Delivered == 0 {
				return nil
			}
		}
		if !res.Full {
			return nil
		}
	}
}

// RunOnce executes exactly one delivery cycle. The error is non-nil when the
// cycle could not run or its request failed as a whole.
func (s *Scheduler) RunOnce(ctx context.Context) (CycleResult, error) {
	s.cycleMu.Lock()
	res, err := s.runCycle(ctx)
	s.metrics.cycle(res.outcome)
	s.cycleMu.Unlock()

	if s.config.Observer != nil {
		s.config.Observer.ObserveCycle(res, err)
	}
	return res, err
}

func (s *Scheduler) runCycle(ctx context.Context) (CycleResult, error) {
	if s.config.Metadata.ServiceURL == "" {
		if !s.warnedNoURL {
			s.warnedNoURL = true
			s.logger.Warn("no service URL configured, records are kept but not sent")
		}
		return CycleResult{outcome: cycleUnconfigured}, domain.ErrNotConfigured
	}

	if s.gate != nil && !s.gate.OK() {
		if s.now().Sub(s.lastSend) < s.config.HardInterval {
			s.logger.Debug("delivery deferred by resource gate")
			return CycleResult{outcome: cycleGated}, nil
		}
		s.logger.Debug("hard interval exceeded, delivering despite resource gate")
	}

	limit, maxBytes := s.batchBounds()
	recs, err := s.store.ClaimPending(ctx, limit, maxBytes)
	if err != nil {
		s.logger.Error("failed to claim pending records", ports.Err(err))
		return CycleResult{outcome: cycleIdle}, err
	}
	if len(recs) == 0 {
		return CycleResult{outcome: cycleIdle}, nil
	}

	batch := domain.NewBatch(recs)
	res := CycleResult{
		Claimed: batch.Size(),
		Full:    batch.Size() >= limit || batch.TotalBytes >= maxBytes,
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
	start := s.now()
	result, sendErr := s.transport.Send(sendCtx, batch, s.config.Metadata)
	duration := s.now().Sub(start)
	cancel()
	s.lastSend = s.now()
	s.metrics.send(duration, sendErr == nil)

	// Bookkeeping must finish even when shutdown canceled the send.
	bctx := context.WithoutCancel(ctx)

	if sendErr != nil && domain.IsBatchRefused(sendErr) && batch.Size() > 1 {
		// Halve the batch instead of charging every record in it. A single
		// refused record is charged below.
		s.shrink++
		next, _ := s.batchBounds()
		s.logger.Warn("batch refused, sending smaller batches",
			ports.Err(sendErr),
			ports.Int("records", batch.Size()),
			ports.Int("bytes", batch.TotalBytes),
			ports.Int("next_batch_size", next),
		)
		if err := s.store.Release(bctx, batch.IDs()); err != nil {
			s.logger.Error("failed to release refused batch", ports.Err(err), ports.Int("records", batch.Size()))
		}
		res.outcome = cycleSplit
		res.Full = false
		return res, sendErr
	}

	if sendErr != nil {
		retryable := !domain.IsPermanent(sendErr)
		s.logger.Error("send failed",
			ports.Err(sendErr),
			ports.Int("records", batch.Size()),
			ports.Int("bytes", batch.TotalBytes),
			ports.Bool("retryable", retryable),
		)
		if s.emitter != nil {
			s.emitter.OnSendError(sendErr, batch.Size(), retryable)
		}
		res.Failed = batch.Size()
		res.Abandoned = s.markFailed(bctx, batch, batch.IDs())
		res.outcome = cycleFailed
		res.Full = false
		s.metrics.records(0, res.Failed, res.Abandoned)
		return res, sendErr
	}

	delivered, failed := result.Outcome(batch)
	if len(delivered) > 0 {
		s.markDelivered(bctx, delivered)
	}
	if len(failed) > 0 {
		s.logRejections(batch, result, failed)
		res.Abandoned = s.markFailed(bctx, batch, failed)
	}
	res.Delivered, res.Failed = len(delivered), len(failed)
	s.metrics.records(res.Delivered, res.Failed, res.Abandoned)

	if len(delivered) > 0 && s.shrink > 0 {
		s.shrink--
	}

	switch {
	case len(failed) == 0:
		res.outcome = cycleDelivered
	case len(delivered) == 0:
		res.outcome = cycleFailed
		res.Full = false
	default:
		res.outcome = cyclePartial
	}

	if len(delivered) > 0 {
		bytesSent := 0
		for _, r := range batch.Records {
			if !slices.Contains(failed, r.ID) {
				bytesSent += r.Size()
			}
		}
		s.logger.Info("sent batch",
			ports.Int("records", len(delivered)),
			ports.Int("bytes", bytesSent),
			ports.Duration("duration", duration),
		)
		if s.emitter != nil {
			s.emitter.OnSendSuccess(len(delivered), bytesSent, duration)
		}
	}
	if len(failed) > 0 && s.emitter != nil {
		s.emitter.OnSendError(errRecordsNotAccepted, len(failed), result.PermanentCount() < len(failed))
	}

	if res.outcome == cycleFailed {
		return res, errRecordsNotAccepted
	}
	return res, nil
}

// batchBounds returns the record and byte bounds for the next batch.
// Caller holds cycleMu.
func (s *Scheduler) batchBounds() (limit, maxBytes int) {
	limit = max(1, s.config.BatchSize>>s.shrink)
	maxBytes = max(1, s.config.MaxBatchBytes>>s.shrink)
	return limit, maxBytes
}

// errRecordsNotAccepted is reported when the service answered but did not
// accept every record of the batch.
var errRecordsNotAccepted = errors.New("records not accepted by service")

// markDelivered records the acknowledgement and deletes the records. If
// either step fails the records stay InFlight and are retried after the next
// Open, which only risks a duplicate send.
func (s *Scheduler) markDelivered(ctx context.Context, ids []domain.RecordID) {
	if err := s.store.MarkDelivered(ctx, ids); err != nil {
		s.logger.Error("failed to mark records delivered", ports.Err(err), ports.Int("records", len(ids)))
		return
	}
	if err := s.store.Remove(ctx, ids); err != nil {
		s.logger.Error("failed to remove delivered records", ports.Err(err), ports.Int("records", len(ids)))
	}
}

// markFailed counts a failed attempt for ids and removes the records that
// reached the retry ceiling. It returns how many were abandoned.
func (s *Scheduler) markFailed(ctx context.Context, batch *domain.Batch, ids []domain.RecordID) int {
	abandoned, err := s.store.MarkFailed(ctx, ids)
	if err != nil {
		s.logger.Error("failed to mark records failed", ports.Err(err), ports.Int("records", len(ids)))
		return 0
	}
	if len(abandoned) == 0 {
		return 0
	}

	for _, id := range abandoned {
		for _, r := range batch.Records {
			if r.ID != id {
				continue
			}
			r.Attempts++
			r.State = domain.StateAbandoned
			s.logger.Warn("record abandoned after retry ceiling",
				ports.String("id", id.String()),
				ports.String("kind", r.Kind.String()),
				ports.Int("attempts", r.Attempts),
			)
			if s.emitter != nil {
				s.emitter.OnRecordAbandoned(r)
			}
		}
	}
	if err := s.store.Remove(ctx, abandoned); err != nil {
		s.logger.Error("failed to remove abandoned records", ports.Err(err), ports.Int("records", len(abandoned)))
	}
	return len(abandoned)
}

func (s *Scheduler) logRejections(batch *domain.Batch, result domain.DeliveryResult, failed []domain.RecordID) {
	for _, rj := range result.Rejected {
		if !batch.Contains(rj.ID) {
			continue
		}
		if rj.Permanent {
			s.logger.Warn("record rejected permanently",
				ports.String("id", rj.ID.String()),
				ports.String("reason", rj.Reason),
			)
		} else {
			s.logger.Debug("record rejected, will retry",
				ports.String("id", rj.ID.String()),
				ports.String("reason", rj.Reason),
			)
		}
	}
	if missing := len(failed) - len(result.Rejected); missing > 0 {
		s.logger.Debug("records not acknowledged, will retry", ports.Int("records", missing))
	}
}
