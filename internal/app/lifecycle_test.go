package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/predem/internal/domain"
	"github.com/bft-labs/predem/internal/ports"
)

// mockLogger implements ports.Logger for testing.
type mockLogger struct{}

func (mockLogger) Debug(msg string, fields ...ports.Field) {}
func (mockLogger) Info(msg string, fields ...ports.Field)  {}
func (mockLogger) Warn(msg string, fields ...ports.Field)  {}
func (mockLogger) Error(msg string, fields ...ports.Field) {}

// mockEmitter tracks state change events for testing.
type mockEmitter struct {
	mu     sync.Mutex
	events []stateChangeEvent
}

type stateChangeEvent struct {
	previous State
	current  State
	reason   string
}

func (m *mockEmitter) OnStateChange(previous, current State, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, stateChangeEvent{previous, current, reason})
}

func (m *mockEmitter) Events() []stateChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]stateChangeEvent(nil), m.events...)
}

func (m *mockEmitter) states() []State {
	var out []State
	for _, e := range m.Events() {
		out = append(out, e.current)
	}
	return out
}

// activeLifecycle returns a lifecycle that went through Start with the given
// service URL.
func activeLifecycle(t *testing.T, serviceURL string) (*Lifecycle, *mockEmitter) {
	t.Helper()
	em := &mockEmitter{}
	l := NewLifecycle(&mockLogger{}, em)
	require.NoError(t, l.TransitionTo(StateStarting, "Start() called"))
	require.NoError(t, l.Activate(serviceURL))
	return l, em
}

func TestLifecycle_ActivateDependsOnServiceURL(t *testing.T) {
	tests := []struct {
		name       string
		serviceURL string
		want       State
		reason     string
	}{
		{"configured", testURL, StateRunning, "delivering to " + testURL},
		{"no service URL", "", StateCaptureOnly, "no service URL, capturing and persisting only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, em := activeLifecycle(t, tt.serviceURL)
			assert.Equal(t, tt.want, l.State())
			assert.True(t, l.State().Active())
			assert.True(t, l.CanStop())
			assert.False(t, l.CanStart())

			events := em.Events()
			require.Len(t, events, 2)
			assert.Equal(t, stateChangeEvent{StateStarting, tt.want, tt.reason}, events[1])
		})
	}
}

func TestLifecycle_Transitions(t *testing.T) {
	tests := []struct {
		from    State
		to      State
		wantErr error
	}{
		{StateStopped, StateStarting, nil},
		{StateStopped, StateClosed, nil},
		{StateStopped, StateRunning, domain.ErrNotRunning},
		{StateStarting, StateStopping, nil},
		{StateStarting, StateStarting, domain.ErrAlreadyRunning},
		{StateRunning, StateBackingOff, nil},
		{StateRunning, StateClosed, domain.ErrAlreadyRunning},
		{StateBackingOff, StateRunning, nil},
		{StateBackingOff, StateCaptureOnly, domain.ErrAlreadyRunning},
		{StateCaptureOnly, StateStopping, nil},
		{StateCaptureOnly, StateRunning, domain.ErrAlreadyRunning},
		{StateStopping, StateStopped, nil},
		{StateStopping, StateStarting, domain.ErrAlreadyRunning},
		{StateCrashed, StateStarting, nil},
		{StateCrashed, StateClosed, nil},
		{StateClosed, StateStarting, domain.ErrStoreClosed},
		{StateClosed, StateClosed, domain.ErrStoreClosed},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			l := NewLifecycle(&mockLogger{}, nil)
			l.state = tt.from

			err := l.TransitionTo(tt.to, "test")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.from, l.State())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, l.State())
		})
	}
}

func TestLifecycle_StopAndCloseSequence(t *testing.T) {
	l, em := activeLifecycle(t, testURL)
	require.NoError(t, l.TransitionTo(StateStopping, "Stop() called"))
	assert.False(t, l.CanStop())
	require.NoError(t, l.TransitionTo(StateStopped, "graceful shutdown"))
	assert.True(t, l.CanStart())

	require.NoError(t, l.TransitionTo(StateClosed, "Close() called"))
	assert.False(t, l.CanStart())
	assert.False(t, l.CanStop())

	assert.Equal(t, []State{StateStarting, StateRunning, StateStopping, StateStopped, StateClosed}, em.states())
}

func TestLifecycle_FollowsDeliveryCycles(t *testing.T) {
	store := openStore(t, 100)
	appendN(t, store, domain.KindCrashReport, domain.KindUserEvent)

	fail := true
	tr := &stubTransport{respond: func(ctx context.Context, b *domain.Batch) (domain.DeliveryResult, error) {
		if fail {
			return domain.DeliveryResult{}, errors.New("503 service unavailable")
		}
		return acceptAll(ctx, b)
	}}
	l, em := activeLifecycle(t, testURL)
	s, _ := newTestScheduler(store, tr, SchedulerConfig{Observer: l})
	ctx := context.Background()

	_, err := s.RunOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, StateBackingOff, l.State())
	assert.True(t, l.CanStop())

	_, err = s.RunOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, StateBackingOff, l.State(), "a second failure is not a new transition")

	fail = false
	res, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, StateRunning, l.State())

	events := em.Events()
	require.Len(t, events, 4)
	assert.Equal(t, stateChangeEvent{StateRunning, StateBackingOff, "delivery of 2 records failed: 503 service unavailable"}, events[2])
	assert.Equal(t, stateChangeEvent{StateBackingOff, StateRunning, "delivered 2 records after 2 failed cycles"}, events[3])
}

func TestLifecycle_IdleCycleEndsBackoff(t *testing.T) {
	l, em := activeLifecycle(t, testURL)
	l.ObserveCycle(CycleResult{Claimed: 1, outcome: cycleFailed}, errors.New("timeout"))
	require.Equal(t, StateBackingOff, l.State())

	l.ObserveCycle(CycleResult{outcome: cycleGated}, nil)
	assert.Equal(t, StateBackingOff, l.State())

	l.ObserveCycle(CycleResult{outcome: cycleIdle}, nil)
	assert.Equal(t, StateRunning, l.State())
	assert.Equal(t, "nothing left to deliver", em.Events()[3].reason)
}

func TestLifecycle_UnconfiguredCycleMeansCaptureOnly(t *testing.T) {
	store := openStore(t, 0)
	appendN(t, store, domain.KindCrashReport)

	l, _ := activeLifecycle(t, testURL)
	s := NewScheduler(SchedulerConfig{Observer: l}, store, &stubTransport{}, nil, &mockLogger{}, nil, nil)

	_, err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrNotConfigured)
	assert.Equal(t, StateCaptureOnly, l.State())
}

func TestLifecycle_IgnoresCyclesWhileNotActive(t *testing.T) {
	store := openStore(t, 0)
	appendN(t, store, domain.KindUserEvent)
	tr := &stubTransport{respond: func(context.Context, *domain.Batch) (domain.DeliveryResult, error) {
		return domain.DeliveryResult{}, errors.New("connection refused")
	}}

	em := &mockEmitter{}
	l := NewLifecycle(&mockLogger{}, em)
	s, _ := newTestScheduler(store, tr, SchedulerConfig{Observer: l})

	// Flush and Drain run cycles on a stopped agent.
	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateStopped, l.State())
	assert.Empty(t, em.Events())
}

func TestLifecycle_StoppingResetsFailureCount(t *testing.T) {
	l, em := activeLifecycle(t, testURL)
	for i := 0; i < 3; i++ {
		l.ObserveCycle(CycleResult{Claimed: 1, outcome: cycleFailed}, errors.New("503"))
	}
	require.NoError(t, l.TransitionTo(StateStopping, "Stop() called"))
	require.NoError(t, l.TransitionTo(StateStopped, "graceful shutdown"))
	require.NoError(t, l.TransitionTo(StateStarting, "Start() called"))
	require.NoError(t, l.Activate(testURL))

	l.ObserveCycle(CycleResult{Claimed: 1, outcome: cycleFailed}, errors.New("503"))
	l.ObserveCycle(CycleResult{Delivered: 1, outcome: cycleDelivered}, nil)

	events := em.Events()
	assert.Equal(t, "delivered 1 records after 1 failed cycles", events[len(events)-1].reason)
}

func TestLifecycle_CancelStopsDeliveryContext(t *testing.T) {
	l := NewLifecycle(&mockLogger{}, nil)
	l.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	l.SetCancel(cancel)
	l.Cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not canceled")
	}
}

func TestLifecycle_WaitWithTimeout(t *testing.T) {
	l := NewLifecycle(&mockLogger{}, nil)
	l.AddWorker()
	go func() {
		time.Sleep(10 * time.Millisecond)
		l.WorkerDone()
	}()
	require.NoError(t, l.WaitWithTimeout(time.Second))

	l.AddWorker()
	defer l.WorkerDone()
	assert.ErrorIs(t, l.WaitWithTimeout(20*time.Millisecond), domain.ErrShutdownTimeout)
}

func TestLifecycle_ConcurrentCyclesAndStop(t *testing.T) {
	l, _ := activeLifecycle(t, testURL)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				l.ObserveCycle(CycleResult{outcome: cycleFailed}, errors.New("503"))
			} else {
				l.ObserveCycle(CycleResult{Delivered: 1, outcome: cycleDelivered}, nil)
			}
		}(i)
	}
	require.NoError(t, l.TransitionTo(StateStopping, "Stop() called"))
	wg.Wait()

	assert.Equal(t, StateStopping, l.State())
}
