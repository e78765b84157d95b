package predem

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/predem/internal/adapters/fs"
	httpAdapter "github.com/bft-labs/predem/internal/adapters/http"
	logAdapter "github.com/bft-labs/predem/internal/adapters/log"
	"github.com/bft-labs/predem/internal/app"
	"github.com/bft-labs/predem/internal/crash"
	"github.com/bft-labs/predem/internal/domain"
	"github.com/bft-labs/predem/internal/ports"
	"github.com/bft-labs/predem/internal/telemetry"
	"github.com/bft-labs/predem/pkg/log"
)

// Agent is a crash and telemetry pipeline that can be embedded in other
// applications. Use New to create an instance; crash capture and recording
// are active from then on. Start begins background delivery.
type Agent struct {
	config    Config
	opts      options
	lifecycle *app.Lifecycle
	store     *fs.RecordStore
	collector *telemetry.Collector
	scheduler *app.Scheduler
	capturer  *crash.Capturer
	logger    ports.Logger
	installID string

	// crashID is the record id the next crash report will carry.
	crashID atomic.Int64

	plugins   []Plugin
	retention *retentionRunner
	gated     bool

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// DeliveryStats summarizes one or more delivery cycles.
type DeliveryStats struct {
	Claimed   int
	Delivered int
	Failed    int
	Abandoned int
}

// New creates an Agent with the given configuration. It opens the record
// store in cfg.Dir, turning crash reports left by a previous run into
// records, and installs crash capture unless disabled. The agent is created
// in StateStopped; call Start to begin delivery and Close to release it.
func New(cfg Config, opts ...Option) (*Agent, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{httpClient: &http.Client{Timeout: cfg.HTTPTimeout}}
	for _, opt := range opts {
		opt(&o)
	}

	logger := log.OrDiscard(o.logger)
	emitter := &eventEmitterWrapper{handler: o.eventHandler}

	// The install id is resolved first so crash reports recovered while the
	// store opens can carry it.
	ids := o.identifiers
	if ids == nil {
		ids = fs.NewIdentityFile(cfg.Dir)
	}
	installID, err := ids.GetOrCreateInstallID()
	if err != nil {
		return nil, fmt.Errorf("install id: %w", err)
	}

	store, err := fs.Open(cfg.Dir, fs.Options{
		RetryCeiling: cfg.RetryCeiling,
		NodeID:       cfg.NodeID,
		Logger:       logAdapter.NewComponentLogger(logger, "store"),
		InstallID:    installID,
	})
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	var gate ports.ResourceGate
	if o.resourceGatingConfig != nil {
		gate = newResourceGate(*o.resourceGatingConfig, logAdapter.NewComponentLogger(logger, "gate"))
	}

	lifecycle := app.NewLifecycle(logger, emitter)

	transport := httpAdapter.NewTransport(o.httpClient, logAdapter.NewComponentLogger(logger, "transport"))
	scheduler := app.NewScheduler(app.SchedulerConfig{
		BatchSize:     cfg.BatchSize,
		MaxBatchBytes: cfg.MaxBatchBytes,
		BaseInterval:  cfg.BaseInterval,
		MaxBackoff:    cfg.MaxBackoff,
		WakeDelay:     cfg.WakeDelay,
		SendTimeout:   cfg.HTTPTimeout,
		HardInterval:  cfg.HardInterval,
		Metadata: ports.SendMetadata{
			InstallID:  installID,
			AppKey:     cfg.AppKey,
			AppVersion: cfg.AppVersion,
			SDKVersion: SDKVersion,
			Hostname:   hostname(),
			OSArch:     runtime.GOOS + "/" + runtime.GOARCH,
			ServiceURL: cfg.ServiceURL,
		},
		Observer: lifecycle,
	}, store, transport, gate, logAdapter.NewComponentLogger(logger, "scheduler"), emitter, o.meterProvider)

	collector := telemetry.New(store, telemetry.Options{
		Disabled:               cfg.disabledKinds(),
		NetworkSampleRate:      cfg.NetworkSampleRate,
		NetworkEventsPerSecond: cfg.NetworkEventsPerSecond,
		Wake:                   scheduler.Wake,
		Logger:                 logAdapter.NewComponentLogger(logger, "telemetry"),
	})

	a := &Agent{
		config:    cfg,
		opts:      o,
		lifecycle: lifecycle,
		store:     store,
		collector: collector,
		scheduler: scheduler,
		logger:    logger,
		installID: installID,
		plugins:   o.plugins,
		gated:     gate != nil,
	}

	if o.retentionConfig != nil {
		a.retention = newRetentionRunner(*o.retentionConfig, store, emitter.OnRecordEvicted, logAdapter.NewComponentLogger(logger, "retention"))
	}

	if !cfg.DisableCrashReporting {
		chain := []crash.Handler{a.crashCaptured}
		for _, h := range o.crashChain {
			chain = append(chain, a.chainHandler(h))
		}
		a.capturer = crash.New(store, crash.Options{
			InstallID: installID,
			Chain:     chain,
			Terminate: o.crashTerminate,
			Logger:    logAdapter.NewComponentLogger(logger, "crash"),
		})
		if err := a.capturer.Install(); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("install crash capture: %w", err)
		}
		a.crashID.Store(int64(a.capturer.SlotID()))
	}

	if st := store.Stats(); st.Pending > 0 {
		logger.Info("pending records from previous runs", ports.Int("records", st.Pending))
	}
	return a, nil
}

// Start begins delivery in the background.
// Returns immediately after starting the delivery goroutine.
// Returns an error if already running or if a plugin fails to initialize.
// The provided context is used for the lifetime of the delivery loop.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lifecycle.State() == app.StateClosed {
		return domain.ErrStoreClosed
	}
	if !a.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}

	if err := a.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.ctx = runCtx
	a.cancel = cancel
	a.lifecycle.SetCancel(cancel)

	pluginCfg := PluginConfig{
		Dir:        a.config.Dir,
		ServiceURL: a.config.ServiceURL,
		InstallID:  a.installID,
		Logger:     a.logger,
		Recorder:   a,
	}
	for _, p := range a.plugins {
		if err := initPlugin(runCtx, p, pluginCfg); err != nil {
			a.logger.Error("plugin initialization failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
			cancel()
			_ = a.lifecycle.TransitionTo(app.StateCrashed, "plugin init failed: "+p.Name())
			return err
		}
		a.logger.Info("plugin initialized", ports.String("plugin", p.Name()))
	}

	if a.retention != nil {
		a.retention.start(runCtx)
	}

	if a.gated {
		a.logger.Info("resource gating enabled")
	}

	a.lifecycle.AddWorker()
	go func() {
		defer a.lifecycle.WorkerDone()

		if err := a.lifecycle.Activate(a.config.ServiceURL); err != nil {
			a.logger.Error("failed to activate delivery", ports.Err(err))
			return
		}

		err := a.scheduler.Run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("scheduler error", ports.Err(err))
			_ = a.lifecycle.TransitionTo(app.StateCrashed, err.Error())
		}
	}()

	return nil
}

// initPlugin initializes p, turning a panic into an error.
func initPlugin(ctx context.Context, p Plugin, cfg PluginConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked: %v", p.Name(), r)
		}
	}()
	return p.Initialize(ctx, cfg)
}

// shutdownPlugin shuts p down, turning a panic into an error.
func shutdownPlugin(ctx context.Context, p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked: %v", p.Name(), r)
		}
	}()
	return p.Shutdown(ctx)
}

// Stop gracefully shuts down delivery. A request in flight is abandoned and
// its records stay pending. Crash capture and recording remain active
// until Close.
// Waits up to 30 seconds before forcing shutdown.
// Returns nil on graceful shutdown, ErrShutdownTimeout if forced.
func (a *Agent) Stop() error {
	a.mu.Lock()

	if !a.lifecycle.CanStop() {
		a.mu.Unlock()
		return domain.ErrNotRunning
	}

	if err := a.lifecycle.TransitionTo(app.StateStopping, "Stop() called"); err != nil {
		a.mu.Unlock()
		return err
	}

	if a.cancel != nil {
		a.cancel()
	}

	a.mu.Unlock()

	err := a.lifecycle.WaitWithTimeout(app.ShutdownTimeout)

	if a.retention != nil {
		a.retention.stop()
	}

	// Shutdown plugins (in reverse order)
	shutdownCtx := context.Background()
	for i := len(a.plugins) - 1; i >= 0; i-- {
		p := a.plugins[i]
		if shutdownErr := shutdownPlugin(shutdownCtx, p); shutdownErr != nil {
			a.logger.Error("plugin shutdown failed",
				ports.String("plugin", p.Name()),
				ports.Err(shutdownErr))
		} else {
			a.logger.Info("plugin shutdown complete", ports.String("plugin", p.Name()))
		}
	}

	if err != nil {
		_ = a.lifecycle.TransitionTo(app.StateCrashed, "shutdown timeout")
	} else {
		_ = a.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
	}

	return err
}

// Close stops the agent if it is running, uninstalls crash capture and
// closes the record store. Records not yet delivered are sent by the next
// agent opened on the same directory.
func (a *Agent) Close() error {
	if a.Status().CanStop() {
		if err := a.Stop(); err != nil && !errors.Is(err, domain.ErrNotRunning) {
			a.logger.Warn("stop on close failed", ports.Err(err))
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lifecycle.State() == app.StateClosed {
		return nil
	}
	if err := a.lifecycle.TransitionTo(app.StateClosed, "Close() called"); err != nil {
		return err
	}

	var errs []error
	if a.capturer != nil {
		errs = append(errs, a.capturer.Uninstall())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (a *Agent) Status() State {
	return convertState(a.lifecycle.State())
}

// InstallID returns the anonymous install identifier.
func (a *Agent) InstallID() string {
	return a.installID
}

// Record persists a telemetry event of the given kind, tagged with the
// current session. It returns once the record is durable. Events of
// disabled kinds and sampled-out network events return 0 and no error.
func (a *Agent) Record(ctx context.Context, kind Kind, payload []byte) (RecordID, error) {
	return a.collector.Record(ctx, kind, payload)
}

// RecordInSession is Record with an explicit session id.
func (a *Agent) RecordInSession(ctx context.Context, kind Kind, sessionID string, payload []byte) (RecordID, error) {
	return a.collector.RecordInSession(ctx, kind, sessionID, payload)
}

// OnNetworkEventObserved records one HTTP exchange made by the host, subject
// to sampling and rate limiting.
func (a *Agent) OnNetworkEventObserved(ev NetworkEvent) {
	a.collector.OnNetworkEventObserved(ev)
}

// StartSession ends the open session, if any, and starts a new one.
func (a *Agent) StartSession(ctx context.Context) (Session, error) {
	return a.collector.StartSession(ctx)
}

// EndSession ends the open session. It is a no-op without one.
func (a *Agent) EndSession(ctx context.Context) error {
	return a.collector.EndSession(ctx)
}

// CurrentSession returns the open session, or the zero Session.
func (a *Agent) CurrentSession() Session {
	return a.collector.CurrentSession()
}

// SetUser records the user behind the host application when it differs
// from the previous one.
func (a *Agent) SetUser(ctx context.Context, u User) error {
	return a.collector.SetUser(ctx, u)
}

// Recover captures a panic in progress as a crash report and terminates
// the process. Use it deferred at the top of a goroutine:
//
//	defer agent.Recover()
//
// Without crash capture the panic continues unchanged.
func (a *Agent) Recover() {
	if r := recover(); r != nil {
		a.handlePanic(r)
	}
}

func (a *Agent) handlePanic(v any) {
	if a.capturer == nil {
		panic(v)
	}
	a.capturer.HandlePanic(v)
}

// Go runs fn in a new goroutine whose panics are captured.
func (a *Agent) Go(fn func()) {
	go func() {
		defer a.Recover()
		fn()
	}()
}

// Flush runs one delivery cycle synchronously, regardless of backoff.
func (a *Agent) Flush(ctx context.Context) (DeliveryStats, error) {
	res, err := a.scheduler.RunOnce(ctx)
	return DeliveryStats{
		Claimed:   res.Claimed,
		Delivered: res.Delivered,
		Failed:    res.Failed,
		Abandoned: res.Abandoned,
	}, err
}

// Drain runs delivery cycles until nothing is pending or a cycle fails.
func (a *Agent) Drain(ctx context.Context) error {
	return a.scheduler.Drain(ctx)
}

// crashCaptured runs on the crashing goroutine after the report is persisted.
func (a *Agent) crashCaptured(f crash.Fault) {
	if a.opts.eventHandler == nil {
		return
	}
	a.opts.eventHandler.OnCrashCaptured(a.crashEvent(f))
}

func (a *Agent) chainHandler(h func(CrashCapturedEvent)) crash.Handler {
	return func(f crash.Fault) {
		h(a.crashEvent(f))
	}
}

func (a *Agent) crashEvent(f crash.Fault) CrashCapturedEvent {
	return CrashCapturedEvent{
		ID:     RecordID(a.crashID.Load()),
		Source: f.Source,
		Reason: f.Reason,
		Signal: f.Signal,
	}
}

// hostname returns the current hostname.
func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

// eventEmitterWrapper adapts EventHandler to the internal emitter interfaces.
type eventEmitterWrapper struct {
	handler EventHandler
}

var (
	_ app.EventEmitter         = (*eventEmitterWrapper)(nil)
	_ app.DeliveryEventEmitter = (*eventEmitterWrapper)(nil)
)

func (e *eventEmitterWrapper) OnStateChange(previous, current app.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous: convertState(previous),
		Current:  convertState(current),
		Reason:   reason,
	})
}

func (e *eventEmitterWrapper) OnSendSuccess(records, bytesSent int, duration time.Duration) {
	if e.handler == nil {
		return
	}
	e.handler.OnSendSuccess(SendSuccessEvent{
		Records:   records,
		BytesSent: bytesSent,
		Duration:  duration,
	})
}

func (e *eventEmitterWrapper) OnSendError(err error, records int, retryable bool) {
	if e.handler == nil {
		return
	}
	e.handler.OnSendError(SendErrorEvent{
		Error:     err,
		Records:   records,
		Retryable: retryable,
	})
}

func (e *eventEmitterWrapper) OnRecordAbandoned(rec domain.Record) {
	if e.handler == nil {
		return
	}
	e.handler.OnRecordAbandoned(abandonedEvent(rec, AbandonRetryCeiling))
}

// OnRecordEvicted reports a record dropped by retention.
func (e *eventEmitterWrapper) OnRecordEvicted(rec domain.Record) {
	if e.handler == nil {
		return
	}
	e.handler.OnRecordAbandoned(abandonedEvent(rec, AbandonRetention))
}

func convertState(s app.State) State {
	switch s {
	case app.StateStopped:
		return StateStopped
	case app.StateStarting:
		return StateStarting
	case app.StateRunning:
		return StateRunning
	case app.StateStopping:
		return StateStopping
	case app.StateCrashed:
		return StateCrashed
	case app.StateCaptureOnly:
		return StateCaptureOnly
	case app.StateBackingOff:
		return StateBackingOff
	case app.StateClosed:
		return StateClosed
	default:
		return StateStopped
	}
}
