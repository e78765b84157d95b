package predem_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bft-labs/predem/pkg/predem"
)

// =============================================================================
// Test Utilities
// =============================================================================

// testLogger implements predem.Logger for capturing log output in tests.
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func newTestLogger() *testLogger {
	return &testLogger{messages: make([]string, 0)}
}

func (l *testLogger) Debug(msg string, fields ...predem.LogField) {
	l.log("DEBUG", msg)
}

func (l *testLogger) Info(msg string, fields ...predem.LogField) {
	l.log("INFO", msg)
}

func (l *testLogger) Warn(msg string, fields ...predem.LogField) {
	l.log("WARN", msg)
}

func (l *testLogger) Error(msg string, fields ...predem.LogField) {
	l.log("ERROR", msg)
}

func (l *testLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("[%s] %s", level, msg))
}

func (l *testLogger) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]string, len(l.messages))
	copy(cp, l.messages)
	return cp
}

// trackingPlugin tracks initialization and shutdown calls for testing.
type trackingPlugin struct {
	name          string
	initOrder     *[]string
	shutdownOrder *[]string
	initError     error
	shutdownError error
	mu            sync.Mutex
	initialized   bool
	shutdown      bool
	cfg           predem.PluginConfig
}

func newTrackingPlugin(name string, initOrder, shutdownOrder *[]string) *trackingPlugin {
	return &trackingPlugin{
		name:          name,
		initOrder:     initOrder,
		shutdownOrder: shutdownOrder,
	}
}

func (p *trackingPlugin) Name() string { return p.name }

func (p *trackingPlugin) Initialize(ctx context.Context, cfg predem.PluginConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initError != nil {
		return p.initError
	}

	*p.initOrder = append(*p.initOrder, p.name)
	p.initialized = true
	p.cfg = cfg
	return nil
}

func (p *trackingPlugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	*p.shutdownOrder = append(*p.shutdownOrder, p.name)
	p.shutdown = true

	return p.shutdownError
}

func (p *trackingPlugin) IsInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

func (p *trackingPlugin) IsShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}

// panicPlugin panics during initialization or shutdown for testing.
type panicPlugin struct {
	*predem.BasePlugin
	panicOnInit     bool
	panicOnShutdown bool
}

func (p *panicPlugin) Initialize(ctx context.Context, cfg predem.PluginConfig) error {
	if p.panicOnInit {
		panic("intentional panic during initialization")
	}
	return nil
}

func (p *panicPlugin) Shutdown(ctx context.Context) error {
	if p.panicOnShutdown {
		panic("intentional panic during shutdown")
	}
	return nil
}

// slowPlugin simulates a slow plugin that respects context cancellation.
type slowPlugin struct {
	*predem.BasePlugin
	initDuration time.Duration
	initStarted  chan struct{}
}

func (p *slowPlugin) Initialize(ctx context.Context, cfg predem.PluginConfig) error {
	if p.initStarted != nil {
		close(p.initStarted)
	}
	select {
	case <-time.After(p.initDuration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// eventTracker tracks state change events.
type eventTracker struct {
	predem.BaseEventHandler
	mu           sync.Mutex
	stateChanges []predem.StateChangeEvent
}

func newEventTracker() *eventTracker {
	return &eventTracker{stateChanges: make([]predem.StateChangeEvent, 0)}
}

func (e *eventTracker) OnStateChange(event predem.StateChangeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateChanges = append(e.stateChanges, event)
}

func (e *eventTracker) StateChanges() []predem.StateChangeEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]predem.StateChangeEvent, len(e.stateChanges))
	copy(cp, e.stateChanges)
	return cp
}

// createTestConfig creates a minimal valid config for testing.
func createTestConfig(t *testing.T) predem.Config {
	t.Helper()
	return predem.Config{
		Dir:          t.TempDir(),
		AppKey:       "test-key",
		AppVersion:   "1.0.0",
		ServiceURL:   "http://localhost:9999",
		BaseInterval: time.Second,
		HardInterval: 2 * time.Second,
		HTTPTimeout:  5 * time.Second,
	}
}

// newTestAgent creates an agent that is closed when the test ends.
func newTestAgent(t *testing.T, cfg predem.Config, opts ...predem.Option) *predem.Agent {
	t.Helper()
	a, err := predem.New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// =============================================================================
// Plugin Lifecycle Tests
// =============================================================================

func TestPlugin_InitializationOrder(t *testing.T) {
	cfg := createTestConfig(t)
	logger := newTestLogger()

	var initOrder []string
	var shutdownOrder []string

	plugin1 := newTrackingPlugin("plugin1", &initOrder, &shutdownOrder)
	plugin2 := newTrackingPlugin("plugin2", &initOrder, &shutdownOrder)
	plugin3 := newTrackingPlugin("plugin3", &initOrder, &shutdownOrder)

	a := newTestAgent(t, cfg,
		predem.WithLogger(logger),
		predem.WithPlugin(plugin1),
		predem.WithPlugin(plugin2),
		predem.WithPlugin(plugin3),
	)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if !slices.Equal(initOrder, []string{"plugin1", "plugin2", "plugin3"}) {
		t.Errorf("Unexpected init order: %v", initOrder)
	}

	if err := a.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}

	if !slices.Equal(shutdownOrder, []string{"plugin3", "plugin2", "plugin1"}) {
		t.Errorf("Unexpected shutdown order: %v (expected reverse of init)", shutdownOrder)
	}
}

func TestPlugin_ReceivesConfig(t *testing.T) {
	cfg := createTestConfig(t)

	var order []string
	plugin := newTrackingPlugin("cfg", &order, &order)
	a := newTestAgent(t, cfg, predem.WithPlugin(plugin))

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer a.Stop()

	plugin.mu.Lock()
	got := plugin.cfg
	plugin.mu.Unlock()

	if got.Dir != cfg.Dir {
		t.Errorf("Dir = %q, want %q", got.Dir, cfg.Dir)
	}
	if got.InstallID == "" || got.InstallID != a.InstallID() {
		t.Errorf("InstallID = %q, want %q", got.InstallID, a.InstallID())
	}
	if got.Recorder == nil || got.Logger == nil {
		t.Error("Recorder and Logger should be set")
	}
}

func TestPlugin_InitializationFailure_PreventsStart(t *testing.T) {
	cfg := createTestConfig(t)
	logger := newTestLogger()

	var initOrder []string
	var shutdownOrder []string

	plugin1 := newTrackingPlugin("plugin1", &initOrder, &shutdownOrder)
	plugin2 := newTrackingPlugin("plugin2", &initOrder, &shutdownOrder)
	plugin2.initError = errors.New("intentional init failure")
	plugin3 := newTrackingPlugin("plugin3", &initOrder, &shutdownOrder)

	a := newTestAgent(t, cfg,
		predem.WithLogger(logger),
		predem.WithPlugin(plugin1),
		predem.WithPlugin(plugin2),
		predem.WithPlugin(plugin3),
	)

	err := a.Start(context.Background())
	if err == nil {
		t.Fatal("Start() should have failed due to plugin init error")
	}

	if len(initOrder) != 1 || initOrder[0] != "plugin1" {
		t.Errorf("Expected only plugin1 to init before failure, got: %v", initOrder)
	}
	if plugin3.IsInitialized() {
		t.Error("plugin3 should not have been initialized after plugin2 failed")
	}
	if a.Status() != predem.StateCrashed {
		t.Errorf("Status = %v, want Crashed", a.Status())
	}
}

func TestPlugin_InitializationPanic_PreventsStart(t *testing.T) {
	cfg := createTestConfig(t)

	a := newTestAgent(t, cfg, predem.WithPlugin(&panicPlugin{
		BasePlugin:  predem.NewBasePlugin("panicky"),
		panicOnInit: true,
	}))

	if err := a.Start(context.Background()); err == nil {
		t.Fatal("Start() should have failed due to plugin panic")
	}
	if a.Status() != predem.StateCrashed {
		t.Errorf("Status = %v, want Crashed", a.Status())
	}
}

func TestPlugin_ShutdownFailure_ContinuesOtherPlugins(t *testing.T) {
	cfg := createTestConfig(t)
	logger := newTestLogger()

	var initOrder []string
	var shutdownOrder []string

	plugin1 := newTrackingPlugin("plugin1", &initOrder, &shutdownOrder)
	plugin2 := &panicPlugin{BasePlugin: predem.NewBasePlugin("plugin2"), panicOnShutdown: true}
	plugin3 := newTrackingPlugin("plugin3", &initOrder, &shutdownOrder)
	plugin3.shutdownError = errors.New("intentional shutdown failure")

	a := newTestAgent(t, cfg,
		predem.WithLogger(logger),
		predem.WithPlugin(plugin1),
		predem.WithPlugin(plugin2),
		predem.WithPlugin(plugin3),
	)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	_ = a.Stop()

	if !plugin1.IsShutdown() {
		t.Error("plugin1 should have been shutdown")
	}
	if !plugin3.IsShutdown() {
		t.Error("plugin3 should have been shutdown")
	}
	if a.Status() != predem.StateStopped {
		t.Errorf("Status = %v, want Stopped", a.Status())
	}
}

// =============================================================================
// Edge Case Tests
// =============================================================================

func TestPlugin_EmptyPluginList(t *testing.T) {
	a := newTestAgent(t, createTestConfig(t))

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := a.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
	if a.Status() != predem.StateStopped {
		t.Errorf("Status = %v, want Stopped", a.Status())
	}
}

func TestPlugin_StartAlreadyRunning(t *testing.T) {
	a := newTestAgent(t, createTestConfig(t))

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("First Start() failed: %v", err)
	}

	if err := a.Start(ctx); err == nil {
		t.Error("Second Start() should have failed")
	}

	if err := a.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
}

func TestPlugin_StopAlreadyStopped(t *testing.T) {
	a := newTestAgent(t, createTestConfig(t))

	if err := a.Stop(); err == nil {
		t.Error("Stop() without Start() should have failed")
	}
}

func TestPlugin_StartAfterClose(t *testing.T) {
	a := newTestAgent(t, createTestConfig(t))
	if err := a.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Error("Start() after Close() should have failed")
	}
}

func TestPlugin_RapidStartStop(t *testing.T) {
	logger := newTestLogger()
	var initOrder []string
	var shutdownOrder []string
	plugin := newTrackingPlugin("rapid-test", &initOrder, &shutdownOrder)

	a := newTestAgent(t, createTestConfig(t),
		predem.WithLogger(logger),
		predem.WithPlugin(plugin),
	)

	for i := 0; i < 5; i++ {
		if err := a.Start(context.Background()); err != nil {
			t.Fatalf("Start() iteration %d failed: %v", i, err)
		}

		time.Sleep(20 * time.Millisecond)

		if err := a.Stop(); err != nil {
			t.Errorf("Stop() iteration %d failed: %v", i, err)
		}
	}

	if len(initOrder) != 5 || len(shutdownOrder) != 5 {
		t.Errorf("init/shutdown calls = %d/%d, want 5/5", len(initOrder), len(shutdownOrder))
	}
	if a.Status() != predem.StateStopped {
		t.Errorf("Final status = %v, want Stopped", a.Status())
	}
}

func TestPlugin_ContextCancellationDuringInit(t *testing.T) {
	initStarted := make(chan struct{})
	slow := &slowPlugin{
		BasePlugin:   predem.NewBasePlugin("slow-plugin"),
		initDuration: 5 * time.Second,
		initStarted:  initStarted,
	}

	a := newTestAgent(t, createTestConfig(t), predem.WithPlugin(slow))

	ctx, cancel := context.WithCancel(context.Background())

	startErr := make(chan error, 1)
	go func() {
		startErr <- a.Start(ctx)
	}()

	<-initStarted
	cancel()

	select {
	case err := <-startErr:
		if err == nil {
			t.Error("Start() should have failed due to context cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

// =============================================================================
// Built-in Feature Integration Tests
// =============================================================================

func TestPlugin_ResourceGatingIntegration(t *testing.T) {
	logger := newTestLogger()

	a := newTestAgent(t, createTestConfig(t),
		predem.WithLogger(logger),
		predem.WithResourceGatingConfig(predem.ResourceGatingConfig{
			Enabled:      true,
			CPUThreshold: 0.90,
		}),
	)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if !slices.Contains(logger.Messages(), "[INFO] resource gating enabled") {
		t.Error("Resource gating should have logged initialization")
	}

	if err := a.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
}

func TestRetentionConfig_Enabled(t *testing.T) {
	logger := newTestLogger()

	a := newTestAgent(t, createTestConfig(t),
		predem.WithLogger(logger),
		predem.WithRetentionConfig(predem.RetentionConfig{
			Enabled:       true,
			CheckInterval: time.Hour,
			HighWatermark: 2 << 20,
			LowWatermark:  1 << 20,
		}),
	)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if !slices.Contains(logger.Messages(), "[INFO] retention enabled") {
		t.Error("Retention should have logged enablement")
	}

	if err := a.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
}

func TestRetentionConfig_Disabled(t *testing.T) {
	logger := newTestLogger()

	a := newTestAgent(t, createTestConfig(t),
		predem.WithLogger(logger),
		predem.WithRetentionConfig(predem.RetentionConfig{Enabled: false}),
	)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if slices.Contains(logger.Messages(), "[INFO] retention enabled") {
		t.Error("Retention should not be enabled when disabled")
	}

	if err := a.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
}

func TestRetentionConfig_DefaultValues(t *testing.T) {
	defaultCfg := predem.DefaultRetentionConfig()

	if !defaultCfg.Enabled {
		t.Error("Default retention config should be enabled")
	}
	if defaultCfg.CheckInterval != 10*time.Minute {
		t.Errorf("Default CheckInterval = %v, want 10m", defaultCfg.CheckInterval)
	}
	if defaultCfg.HighWatermark != 64<<20 {
		t.Errorf("Default HighWatermark = %d, want %d", defaultCfg.HighWatermark, 64<<20)
	}
	if defaultCfg.LowWatermark != 48<<20 {
		t.Errorf("Default LowWatermark = %d, want %d", defaultCfg.LowWatermark, 48<<20)
	}
}

// =============================================================================
// Event Handler Tests
// =============================================================================

func TestPlugin_EventHandlerReceivesStateChanges(t *testing.T) {
	tracker := newEventTracker()

	var initOrder []string
	var shutdownOrder []string
	plugin := newTrackingPlugin("test-plugin", &initOrder, &shutdownOrder)

	a := newTestAgent(t, createTestConfig(t),
		predem.WithEventHandler(tracker),
		predem.WithPlugin(plugin),
	)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !a.Status().IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if err := a.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}

	changes := tracker.StateChanges()
	if len(changes) < 2 {
		t.Fatalf("Expected at least 2 state changes, got %d", len(changes))
	}

	if changes[0].Previous != predem.StateStopped || changes[0].Current != predem.StateStarting {
		t.Errorf("First transition = %v -> %v, want Stopped -> Starting",
			changes[0].Previous, changes[0].Current)
	}

	foundRunning := slices.ContainsFunc(changes, func(c predem.StateChangeEvent) bool {
		return c.Current == predem.StateRunning
	})
	if !foundRunning {
		t.Error("Should have transitioned to Running state")
	}

	last := changes[len(changes)-1]
	if last.Current != predem.StateStopped {
		t.Errorf("Last transition ends in %v, want Stopped", last.Current)
	}
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestPlugin_ConcurrentStatusCalls(t *testing.T) {
	a := newTestAgent(t, createTestConfig(t))

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.Status()
		}()
	}
	wg.Wait()

	if err := a.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
}

func TestPlugin_ConcurrentStartAttempts(t *testing.T) {
	a := newTestAgent(t, createTestConfig(t))

	ctx := context.Background()

	var successCount int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Start(ctx); err == nil {
				atomic.AddInt32(&successCount, 1)
			}
		}()
	}

	wg.Wait()

	if atomic.LoadInt32(&successCount) != 1 {
		t.Errorf("Expected exactly 1 successful Start(), got %d", successCount)
	}

	if err := a.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
}

func TestPlugin_StartStopRace(t *testing.T) {
	a := newTestAgent(t, createTestConfig(t))

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.Stop()
	}()

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.Status()
		}()
	}

	wg.Wait()

	status := a.Status()
	if status != predem.StateStopped && status != predem.StateCrashed {
		t.Errorf("Final status = %v, want Stopped or Crashed", status)
	}
}

// =============================================================================
// BasePlugin Tests
// =============================================================================

func TestBasePlugin_DefaultBehavior(t *testing.T) {
	bp := predem.NewBasePlugin("test-base")

	if bp.Name() != "test-base" {
		t.Errorf("Name() = %v, want test-base", bp.Name())
	}

	ctx := context.Background()
	cfg := predem.PluginConfig{Dir: "/tmp/x", InstallID: "id"}

	if err := bp.Initialize(ctx, cfg); err != nil {
		t.Errorf("Initialize() = %v, want nil", err)
	}
	if got := bp.Config(); got.Dir != "/tmp/x" || got.InstallID != "id" {
		t.Errorf("Config() = %+v, want stored config", got)
	}
	if err := bp.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() = %v, want nil", err)
	}
}

func TestBaseEventHandler_DefaultBehavior(t *testing.T) {
	beh := predem.BaseEventHandler{}

	// All methods should be no-ops (not panic)
	beh.OnStateChange(predem.StateChangeEvent{})
	beh.OnSendSuccess(predem.SendSuccessEvent{})
	beh.OnSendError(predem.SendErrorEvent{})
	beh.OnRecordAbandoned(predem.RecordAbandonedEvent{})
	beh.OnCrashCaptured(predem.CrashCapturedEvent{})
}

// =============================================================================
// State Tests
// =============================================================================

func TestState_StringRepresentation(t *testing.T) {
	tests := []struct {
		state    predem.State
		expected string
	}{
		{predem.StateStopped, "Stopped"},
		{predem.StateStarting, "Starting"},
		{predem.StateRunning, "Running"},
		{predem.StateStopping, "Stopping"},
		{predem.StateCrashed, "Crashed"},
		{predem.StateCaptureOnly, "CaptureOnly"},
		{predem.StateBackingOff, "BackingOff"},
		{predem.StateClosed, "Closed"},
		{predem.State(99), "Unknown"},
	}

	for _, tc := range tests {
		if got := tc.state.String(); got != tc.expected {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.expected)
		}
	}
}

func TestState_CanStart(t *testing.T) {
	if !predem.StateStopped.CanStart() {
		t.Error("StateStopped.CanStart() should be true")
	}
	if !predem.StateCrashed.CanStart() {
		t.Error("StateCrashed.CanStart() should be true")
	}
	if predem.StateRunning.CanStart() {
		t.Error("StateRunning.CanStart() should be false")
	}
	if predem.StateStarting.CanStart() {
		t.Error("StateStarting.CanStart() should be false")
	}
	if predem.StateStopping.CanStart() {
		t.Error("StateStopping.CanStart() should be false")
	}
	if predem.StateClosed.CanStart() {
		t.Error("StateClosed.CanStart() should be false")
	}
}

func TestState_CanStop(t *testing.T) {
	if !predem.StateRunning.CanStop() {
		t.Error("StateRunning.CanStop() should be true")
	}
	if !predem.StateStarting.CanStop() {
		t.Error("StateStarting.CanStop() should be true")
	}
	if predem.StateStopped.CanStop() {
		t.Error("StateStopped.CanStop() should be false")
	}
	if predem.StateCrashed.CanStop() {
		t.Error("StateCrashed.CanStop() should be false")
	}
	if predem.StateStopping.CanStop() {
		t.Error("StateStopping.CanStop() should be false")
	}
	if !predem.StateCaptureOnly.CanStop() {
		t.Error("StateCaptureOnly.CanStop() should be true")
	}
	if !predem.StateBackingOff.CanStop() {
		t.Error("StateBackingOff.CanStop() should be true")
	}
	if predem.StateClosed.CanStop() {
		t.Error("StateClosed.CanStop() should be false")
	}
}

func TestState_IsRunning(t *testing.T) {
	if !predem.StateRunning.IsRunning() {
		t.Error("StateRunning.IsRunning() should be true")
	}
	if predem.StateStopped.IsRunning() {
		t.Error("StateStopped.IsRunning() should be false")
	}
	if predem.StateStarting.IsRunning() {
		t.Error("StateStarting.IsRunning() should be false")
	}
	if !predem.StateCaptureOnly.IsRunning() {
		t.Error("StateCaptureOnly.IsRunning() should be true")
	}
	if !predem.StateBackingOff.IsRunning() {
		t.Error("StateBackingOff.IsRunning() should be true")
	}
}
