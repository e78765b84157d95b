package app

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bft-labs/predem/internal/domain"
	"github.com/bft-labs/predem/internal/ports"
)

// ShutdownTimeout is the maximum time to wait for graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// State is the lifecycle state of the agent.
//
// Capture and recording work in every state except Closed. The states
// describe the delivery side: whether the scheduler runs, whether it has
// anywhere to send, and whether the service is currently reachable.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
	// StateCaptureOnly is a running agent without a service URL. Records
	// accumulate until a configured run sends them.
	StateCaptureOnly
	// StateBackingOff is a running agent whose last delivery cycle failed.
	StateBackingOff
	// StateClosed is terminal: crash capture is uninstalled and the store
	// is closed.
	StateClosed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	case StateCaptureOnly:
		return "CaptureOnly"
	case StateBackingOff:
		return "BackingOff"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Active reports whether the delivery loop runs in s.
func (s State) Active() bool {
	return s == StateRunning || s == StateCaptureOnly || s == StateBackingOff
}

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StateStopped:     {StateStarting, StateClosed},
	StateStarting:    {StateRunning, StateCaptureOnly, StateStopping, StateCrashed},
	StateRunning:     {StateBackingOff, StateCaptureOnly, StateStopping, StateCrashed},
	StateBackingOff:  {StateRunning, StateStopping, StateCrashed},
	StateCaptureOnly: {StateStopping, StateCrashed},
	StateStopping:    {StateStopped, StateCrashed},
	StateCrashed:     {StateStarting, StateClosed},
}

// EventEmitter is called when lifecycle state changes.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// CycleObserver is told the outcome of every delivery cycle.
type CycleObserver interface {
	ObserveCycle(res CycleResult, err error)
}

// Lifecycle is the agent's state machine. Besides Start/Stop/Close driven
// transitions, it follows delivery cycles: a failed cycle moves a running
// agent to BackingOff and the next cycle that delivers moves it back.
type Lifecycle struct {
	mu           sync.RWMutex
	state        State
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	logger       ports.Logger
	eventEmitter EventEmitter

	// failedCycles counts consecutive failed cycles while active.
	failedCycles int
}

var _ CycleObserver = (*Lifecycle)(nil)

// NewLifecycle creates a lifecycle in StateStopped. emitter may be nil.
func NewLifecycle(logger ports.Logger, emitter EventEmitter) *Lifecycle {
	return &Lifecycle{
		state:        StateStopped,
		logger:       logger,
		eventEmitter: emitter,
	}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo moves to newState. It returns ErrNotRunning or
// ErrAlreadyRunning when newState is not reachable from the current state,
// and ErrStoreClosed once closed.
func (l *Lifecycle) TransitionTo(newState State, reason string) error {
	l.mu.Lock()
	oldState := l.state
	if err := checkTransition(oldState, newState); err != nil {
		l.mu.Unlock()
		return err
	}
	l.state = newState
	if !newState.Active() {
		l.failedCycles = 0
	}
	l.mu.Unlock()

	l.emit(oldState, newState, reason)
	return nil
}

func checkTransition(from, to State) error {
	if slices.Contains(transitions[from], to) {
		return nil
	}
	switch {
	case from == StateClosed:
		return domain.ErrStoreClosed
	case from == StateStopped, from == StateCrashed:
		return domain.ErrNotRunning
	default:
		return domain.ErrAlreadyRunning
	}
}

// Activate moves a starting agent into its working state: Running when
// delivery has a service URL, CaptureOnly otherwise.
func (l *Lifecycle) Activate(serviceURL string) error {
	if serviceURL == "" {
		return l.TransitionTo(StateCaptureOnly, "no service URL, capturing and persisting only")
	}
	return l.TransitionTo(StateRunning, "delivering to "+serviceURL)
}

// ObserveCycle applies the outcome of a delivery cycle. Cycles run while
// the agent is not active (Flush, Drain) leave the state alone.
func (l *Lifecycle) ObserveCycle(res CycleResult, err error) {
	l.mu.Lock()
	oldState := l.state
	if !oldState.Active() {
		l.mu.Unlock()
		return
	}

	newState := oldState
	var reason string
	switch res.outcome {
	case cycleFailed:
		l.failedCycles++
		if oldState == StateRunning {
			newState = StateBackingOff
			reason = fmt.Sprintf("delivery of %d records failed: %v", res.Claimed, err)
		}
	case cycleDelivered, cyclePartial:
		if oldState == StateBackingOff {
			newState = StateRunning
			reason = fmt.Sprintf("delivered %d records after %d failed cycles", res.Delivered, l.failedCycles)
		}
		l.failedCycles = 0
	case cycleIdle:
		if oldState == StateBackingOff {
			newState = StateRunning
			reason = "nothing left to deliver"
		}
		l.failedCycles = 0
	case cycleUnconfigured:
		if oldState == StateRunning {
			newState = StateCaptureOnly
			reason = "no service URL, capturing and persisting only"
		}
	}

	if newState == oldState {
		l.mu.Unlock()
		return
	}
	l.state = newState
	l.mu.Unlock()

	l.emit(oldState, newState, reason)
}

func (l *Lifecycle) emit(oldState, newState State, reason string) {
	if l.eventEmitter != nil {
		l.eventEmitter.OnStateChange(oldState, newState, reason)
	}
	l.logger.Info("state transition",
		ports.String("from", oldState.String()),
		ports.String("to", newState.String()),
		ports.String("reason", reason),
	)
}

// CanStart returns true if Start() can be called.
func (l *Lifecycle) CanStart() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateStopped || l.state == StateCrashed
}

// CanStop returns true if Stop() can be called.
func (l *Lifecycle) CanStop() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateStarting || l.state.Active()
}

// SetCancel stores the cancel function of the delivery loop.
func (l *Lifecycle) SetCancel(cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancel = cancel
}

// Cancel stops the delivery loop.
func (l *Lifecycle) Cancel() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// AddWorker increments the worker count.
func (l *Lifecycle) AddWorker() {
	l.wg.Add(1)
}

// WorkerDone decrements the worker count.
func (l *Lifecycle) WorkerDone() {
	l.wg.Done()
}

// WaitWithTimeout waits for all workers to finish with a timeout.
// Returns ErrShutdownTimeout if the timeout expires.
func (l *Lifecycle) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		l.logger.Warn("shutdown timeout, delivery worker still busy",
			ports.Duration("timeout", timeout),
		)
		return domain.ErrShutdownTimeout
	}
}
