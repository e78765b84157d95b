package telemetry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/time/rate"

	"github.com/bft-labs/predem/internal/domain"
	"github.com/bft-labs/predem/internal/ports"
	"github.com/bft-labs/predem/pkg/log"
)

// Appender is the part of the record store the collector writes to.
type Appender interface {
	Append(ctx context.Context, kind domain.Kind, sessionID string, payload []byte) (domain.RecordID, error)
}

// Options configures a Collector. Options are read once by New.
type Options struct {
	// Disabled kinds are dropped without touching the store.
	Disabled []domain.Kind

	// NetworkSampleRate is the kept fraction of NetworkEvents, in [0, 1].
	NetworkSampleRate float64

	// NetworkEventsPerSecond caps the NetworkEvent rate. <= 0 means unlimited.
	NetworkEventsPerSecond float64

	// NetworkBurst is the limiter's bucket size. Default: one second's worth.
	NetworkBurst int

	// Wake is called after every successful append.
	Wake func()

	Logger ports.Logger
	Now    func() time.Time
}

// DefaultOptions keeps every event and limits NetworkEvents to 50 per second.
func DefaultOptions() Options {
	return Options{
		NetworkSampleRate:      1,
		NetworkEventsPerSecond: 50,
	}
}

// Stats counts what the collector did with the events it received.
type Stats struct {
	Recorded uint64
	Disabled uint64
	Sampled  uint64
	Limited  uint64
	Failed   uint64
}

// Collector records telemetry events. It is safe for concurrent use.
type Collector struct {
	store    Appender
	disabled [math.MaxUint8 + 1]bool

	// threshold is NetworkSampleRate scaled to the uint64 range; an event is
	// kept when its hash prefix is below it.
	sampleAll bool
	threshold uint64
	limiter   *rate.Limiter

	wake   func()
	logger ports.Logger
	now    func() time.Time

	mu       sync.Mutex
	session  domain.Session
	user     domain.User
	haveUser bool

	recorded atomic.Uint64
	dropped  [3]atomic.Uint64
	failed   atomic.Uint64
}

const (
	dropDisabled = iota
	dropSampled
	dropLimited
)

// New creates a collector appending to store.
func New(store Appender, opts Options) *Collector {
	c := &Collector{
		store:  store,
		wake:   opts.Wake,
		logger: opts.Logger,
		now:    opts.Now,
	}
	c.logger = log.OrDiscard(c.logger)
	if c.now == nil {
		c.now = time.Now
	}
	for _, k := range opts.Disabled {
		c.disabled[k] = true
	}

	switch r := opts.NetworkSampleRate; {
	case r >= 1:
		c.sampleAll = true
	case r > 0:
		c.threshold = uint64(r * math.MaxUint64)
	}

	if opts.NetworkEventsPerSecond > 0 {
		burst := opts.NetworkBurst
		if burst <= 0 {
			burst = int(math.Ceil(opts.NetworkEventsPerSecond))
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.NetworkEventsPerSecond), burst)
	}
	return c
}

// Enabled reports whether records of kind k are collected.
func (c *Collector) Enabled(k domain.Kind) bool {
	return !c.disabled[k]
}

// Record appends payload as a record of kind k, tagged with the current
// session. It returns 0 and no error when a policy drops the event.
func (c *Collector) Record(ctx context.Context, k domain.Kind, payload []byte) (domain.RecordID, error) {
	return c.record(ctx, k, c.CurrentSession().ID, payload)
}

// RecordInSession is Record with an explicit session id.
func (c *Collector) RecordInSession(ctx context.Context, k domain.Kind, sessionID string, payload []byte) (domain.RecordID, error) {
	return c.record(ctx, k, sessionID, payload)
}

func (c *Collector) record(ctx context.Context, k domain.Kind, sessionID string, payload []byte) (domain.RecordID, error) {
	if !k.Valid() {
		return 0, fmt.Errorf("%w: %d", domain.ErrUnknownKind, k)
	}
	if c.disabled[k] {
		c.dropped[dropDisabled].Add(1)
		return 0, nil
	}
	if k == domain.KindNetworkEvent {
		if !c.sampled(payload) {
			c.dropped[dropSampled].Add(1)
			return 0, nil
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.dropped[dropLimited].Add(1)
			return 0, nil
		}
	}

	id, err := c.store.Append(ctx, k, sessionID, payload)
	if err != nil {
		c.failed.Add(1)
		return 0, err
	}
	c.recorded.Add(1)
	if c.wake != nil {
		c.wake()
	}
	return id, nil
}

// sampled decides from the payload alone, so the same event always gets the
// same answer and the decision is independent of its session.
func (c *Collector) sampled(payload []byte) bool {
	if c.sampleAll {
		return true
	}
	if c.threshold == 0 {
		return false
	}
	sum := blake3.Sum256(payload)
	return binary.BigEndian.Uint64(sum[:8]) < c.threshold
}

// OnNetworkEventObserved records an exchange seen by a network interceptor.
// Failures are logged; the caller is never affected.
func (c *Collector) OnNetworkEventObserved(ev domain.NetworkEvent) {
	if c.disabled[domain.KindNetworkEvent] {
		c.dropped[dropDisabled].Add(1)
		return
	}
	if ev.SessionID == "" {
		ev.SessionID = c.CurrentSession().ID
	}
	if _, err := c.recordJSON(context.Background(), domain.KindNetworkEvent, ev.SessionID, ev); err != nil {
		c.logger.Warn("failed to record network event",
			log.Err(err),
			log.String("host", ev.Host),
		)
	}
}

func (c *Collector) recordJSON(ctx context.Context, k domain.Kind, sessionID string, v any) (domain.RecordID, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", k, err)
	}
	return c.record(ctx, k, sessionID, payload)
}

// Stats returns a snapshot of the collector counters.
func (c *Collector) Stats() Stats {
	return Stats{
		Recorded: c.recorded.Load(),
		Disabled: c.dropped[dropDisabled].Load(),
		Sampled:  c.dropped[dropSampled].Load(),
		Limited:  c.dropped[dropLimited].Load(),
		Failed:   c.failed.Load(),
	}
}
