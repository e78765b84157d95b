package crash

import (
	"errors"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/predem/internal/domain"
	"github.com/bft-labs/predem/internal/ports"
	"github.com/bft-labs/predem/pkg/log"
)

// State is the capturer state. Transitions:
//
//	Uninstalled -> Installed -> Handling -> Terminated
//	Installed -> Uninstalled
type State int32

const (
	StateUninstalled State = iota
	StateInstalled
	StateHandling
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "Uninstalled"
	case StateInstalled:
		return "Installed"
	case StateHandling:
		return "Handling"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Fault describes one fatal failure.
type Fault struct {
	Source string
	Reason string
	Signal string

	// Value is the recovered panic value, or the os.Signal received.
	Value any
}

// Handler observes a captured fault after its report is persisted.
type Handler func(Fault)

// Default sizes of the install-time reservations.
const (
	DefaultTraceBytes  = 256 << 10
	DefaultReportBytes = 320 << 10
)

// nestedFaultMarker is appended to the report when a fault occurs while a
// previous one is being handled.
var nestedFaultMarker = []byte("unhandled crash in crash handler\n")

// Options configures a Capturer.
type Options struct {
	// InstallID is written into every report.
	InstallID string

	// Signals to capture. nil means DefaultSignals; an empty non-nil slice
	// disables signal capture.
	Signals []os.Signal

	// Chain handlers run after the report is persisted, in order.
	// Panics inside them are swallowed.
	Chain []Handler

	// Terminate ends the process after handling. The default re-panics with
	// the original value or re-raises the signal with its default action.
	Terminate func(Fault)

	// TraceBytes bounds the captured stack text. Default: DefaultTraceBytes
	TraceBytes int

	// ReportBytes bounds the formatted report. Default: DefaultReportBytes
	ReportBytes int

	// Logger reports install problems. Never used while handling a fault.
	Logger ports.Logger
}

// Capturer persists a report for fatal failures of the host process.
//
// Everything the handler needs is reserved by Install: the destination
// slot in the record store, scratch memory for formatting, and the runtime
// crash output file. Handling a fault takes no locks and reports errors to
// no one; the fault always proceeds to termination.
type Capturer struct {
	slots ports.SlotReserver
	opts  Options

	installMu sync.Mutex
	state     atomic.Int32

	slot      ports.CrashSlot
	arena     *arena
	sigCh     chan os.Signal
	sigDone   chan struct{}
	goVersion string
	osArch    string
}

// New creates a capturer that reserves its slots from r.
func New(r ports.SlotReserver, opts Options) *Capturer {
	if opts.Signals == nil {
		opts.Signals = DefaultSignals
	}
	if opts.Terminate == nil {
		opts.Terminate = terminate
	}
	if opts.TraceBytes <= 0 {
		opts.TraceBytes = DefaultTraceBytes
	}
	if opts.ReportBytes <= 0 {
		opts.ReportBytes = DefaultReportBytes
	}
	opts.Logger = log.OrDiscard(opts.Logger)
	return &Capturer{
		slots:     r,
		opts:      opts,
		goVersion: runtime.Version(),
		osArch:    runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// State returns the current capturer state.
func (c *Capturer) State() State {
	return State(c.state.Load())
}

// SlotID returns the record id the next crash report will carry, or 0 when
// not installed.
func (c *Capturer) SlotID() domain.RecordID {
	c.installMu.Lock()
	defer c.installMu.Unlock()
	if c.slot == nil {
		return 0
	}
	return c.slot.ID()
}

// Install reserves crash resources and starts capturing. Calling Install on
// an installed capturer is a no-op.
func (c *Capturer) Install() error {
	c.installMu.Lock()
	defer c.installMu.Unlock()

	if c.State() != StateUninstalled {
		return nil
	}

	slot, err := c.slots.ReserveSlot()
	if err != nil {
		return err
	}
	a, err := newArena(c.opts.TraceBytes + c.opts.ReportBytes)
	if err != nil {
		_ = slot.Release()
		return err
	}

	if err := debug.SetCrashOutput(slot.Runtime(), debug.CrashOptions{}); err != nil {
		// Panics and signals are still captured.
		c.opts.Logger.Warn("crash capturer: runtime crash output unavailable", log.Err(err))
	}

	c.slot = slot
	c.arena = a
	if len(c.opts.Signals) > 0 {
		c.sigCh = make(chan os.Signal, 1)
		c.sigDone = make(chan struct{})
		signal.Notify(c.sigCh, c.opts.Signals...)
		go c.watchSignals(c.sigCh, c.sigDone)
	}

	c.state.Store(int32(StateInstalled))
	c.opts.Logger.Debug("crash capturer installed", log.String("slot", slot.ID().String()))
	return nil
}

// Uninstall stops capturing and releases the reservations. It has no effect
// once a fault is being handled.
func (c *Capturer) Uninstall() error {
	c.installMu.Lock()
	defer c.installMu.Unlock()

	if !c.state.CompareAndSwap(int32(StateInstalled), int32(StateUninstalled)) {
		return nil
	}

	if c.sigCh != nil {
		signal.Stop(c.sigCh)
		close(c.sigDone)
		c.sigCh, c.sigDone = nil, nil
	}
	_ = debug.SetCrashOutput(nil, debug.CrashOptions{})

	err := errors.Join(c.arena.release(), c.slot.Release())
	c.arena, c.slot = nil, nil
	return err
}

func (c *Capturer) watchSignals(ch <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case sig := <-ch:
			c.Handle(Fault{
				Source: domain.CrashSourceSignal,
				Reason: "fatal signal: " + sig.String(),
				Signal: sig.String(),
				Value:  sig,
			})
		}
	}
}

// Recover captures a panic in progress. Use it deferred at the top of any
// goroutine whose panic should be reported:
//
//	defer capturer.Recover()
func (c *Capturer) Recover() {
	if r := recover(); r != nil {
		c.HandlePanic(r)
	}
}

// Go runs fn in a new goroutine whose panics are captured.
func (c *Capturer) Go(fn func()) {
	go func() {
		defer c.Recover()
		fn()
	}()
}

// HandlePanic handles a recovered panic value. When the capturer is not
// installed the panic is resumed unchanged.
func (c *Capturer) HandlePanic(v any) {
	f := Fault{Source: domain.CrashSourcePanic, Reason: panicReason(v), Value: v}
	if c.State() == StateUninstalled {
		c.opts.Terminate(f)
		return
	}
	c.Handle(f)
}

// Handle persists a report for f, runs the chained handlers and terminates.
// A fault arriving while another is being handled only leaves a marker.
func (c *Capturer) Handle(f Fault) {
	if !c.state.CompareAndSwap(int32(StateInstalled), int32(StateHandling)) {
		if s := c.State(); s == StateHandling || s == StateTerminated {
			c.writeMarker()
		}
		return
	}

	c.persist(&f)
	for _, h := range c.opts.Chain {
		runQuietly(h, f)
	}

	c.state.Store(int32(StateTerminated))
	c.opts.Terminate(f)
}

// persist formats and writes the report. Every failure is swallowed.
func (c *Capturer) persist(f *Fault) {
	defer func() { _ = recover() }()

	buf := c.arena.bytes()
	trace := buf[:c.opts.TraceBytes]
	out := buf[c.opts.TraceBytes:c.opts.TraceBytes]

	all := f.Source == domain.CrashSourceSignal
	n := runtime.Stack(trace, all)
	out = appendReport(out, f, time.Now(), c.opts.InstallID, c.goVersion, c.osArch, trace[:n])

	h := c.slot.Handler()
	_, _ = h.Write(out)
	_ = h.Sync()
}

func (c *Capturer) writeMarker() {
	defer func() { _ = recover() }()
	if c.slot == nil {
		return
	}
	h := c.slot.Handler()
	_, _ = h.Write(nestedFaultMarker)
	_ = h.Sync()
}

func runQuietly(h Handler, f Fault) {
	defer func() { _ = recover() }()
	h(f)
}

// terminate resumes the original failure so the process ends as it would
// have without the capturer.
func terminate(f Fault) {
	switch v := f.Value.(type) {
	case os.Signal:
		reraise(v)
	default:
		panic(f.Value)
	}
}
