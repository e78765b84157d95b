package crash

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/predem/internal/adapters/fs"
	"github.com/bft-labs/predem/internal/domain"
	"github.com/bft-labs/predem/internal/ports"
)

// countingReserver wraps a store and counts reservations.
type countingReserver struct {
	inner ports.SlotReserver
	n     atomic.Int32
}

func (r *countingReserver) ReserveSlot() (ports.CrashSlot, error) {
	r.n.Add(1)
	return r.inner.ReserveSlot()
}

// terminations records faults instead of ending the test process.
type terminations struct {
	mu     sync.Mutex
	faults []Fault
	ch     chan Fault
}

func newTerminations() *terminations {
	return &terminations{ch: make(chan Fault, 4)}
}

func (t *terminations) terminate(f Fault) {
	t.mu.Lock()
	t.faults = append(t.faults, f)
	t.mu.Unlock()
	t.ch <- f
}

func (t *terminations) all() []Fault {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Fault(nil), t.faults...)
}

func reopenCrashReports(t *testing.T, dir string) []domain.CrashReport {
	t.Helper()
	store, err := fs.Open(dir, fs.Options{})
	require.NoError(t, err)
	defer store.Close()

	recs, err := store.ListPending(context.Background(), 0)
	require.NoError(t, err)
	var out []domain.CrashReport
	for _, r := range recs {
		require.Equal(t, domain.KindCrashReport, r.Kind)
		var rep domain.CrashReport
		require.NoError(t, json.Unmarshal(r.Payload, &rep))
		out = append(out, rep)
	}
	return out
}

func TestCapturer_InstallIsIdempotent(t *testing.T) {
	store, err := fs.Open(t.TempDir(), fs.Options{})
	require.NoError(t, err)
	defer store.Close()

	r := &countingReserver{inner: store}
	c := New(r, Options{Signals: []os.Signal{}})

	require.NoError(t, c.Install())
	id := c.SlotID()
	require.NoError(t, c.Install())
	assert.Equal(t, int32(1), r.n.Load())
	assert.Equal(t, id, c.SlotID())
	assert.Equal(t, StateInstalled, c.State())

	require.NoError(t, c.Uninstall())
	assert.Equal(t, StateUninstalled, c.State())
	assert.Equal(t, domain.RecordID(0), c.SlotID())
}

func TestCapturer_PanicProducesOneCrashReport(t *testing.T) {
	dir := t.TempDir()
	store, err := fs.Open(dir, fs.Options{})
	require.NoError(t, err)

	term := newTerminations()
	var chained []string
	c := New(store, Options{
		InstallID: "install-123",
		Signals:   []os.Signal{},
		Terminate: term.terminate,
		Chain:     []Handler{func(f Fault) { chained = append(chained, f.Reason) }},
	})
	require.NoError(t, c.Install())

	func() {
		defer c.Recover()
		panic(errors.New("index out of range"))
	}()

	require.Len(t, term.all(), 1)
	assert.Equal(t, domain.CrashSourcePanic, term.all()[0].Source)
	assert.Equal(t, []string{"index out of range"}, chained)
	assert.Equal(t, StateTerminated, c.State())
	require.NoError(t, store.Close())

	reports := reopenCrashReports(t, dir)
	require.Len(t, reports, 1)
	rep := reports[0]
	assert.Equal(t, "index out of range", rep.Reason)
	assert.Equal(t, "install-123", rep.InstallID)
	assert.Equal(t, domain.CrashSourcePanic, rep.Source)
	assert.Contains(t, rep.Trace, "goroutine")
	assert.WithinDuration(t, time.Now(), rep.Timestamp, time.Minute)

	// Reopening again yields the same single report.
	assert.Len(t, reopenCrashReports(t, dir), 1)
}

func TestCapturer_NestedFaultLeavesMarker(t *testing.T) {
	dir := t.TempDir()
	store, err := fs.Open(dir, fs.Options{})
	require.NoError(t, err)

	term := newTerminations()
	var c *Capturer
	c = New(store, Options{
		InstallID: "i",
		Signals:   []os.Signal{},
		Terminate: term.terminate,
		Chain: []Handler{
			func(Fault) { c.HandlePanic("second") },
			func(Fault) { panic("chained handler failure") },
		},
	})
	require.NoError(t, c.Install())

	assert.NotPanics(t, func() {
		defer c.Recover()
		panic("first")
	})
	require.Len(t, term.all(), 1, "only the first fault terminates")
	require.NoError(t, store.Close())

	reports := reopenCrashReports(t, dir)
	require.Len(t, reports, 1)
	assert.Equal(t, "first", reports[0].Reason)
	assert.Contains(t, reports[0].Marker, "crash in crash handler")
}

func TestCapturer_UninstalledPanicPropagates(t *testing.T) {
	store, err := fs.Open(t.TempDir(), fs.Options{})
	require.NoError(t, err)
	defer store.Close()

	c := New(store, Options{Signals: []os.Signal{}})
	assert.PanicsWithValue(t, "boom", func() {
		defer c.Recover()
		panic("boom")
	})
}

func TestCapturer_WriteFailureIsSwallowed(t *testing.T) {
	store, err := fs.Open(t.TempDir(), fs.Options{})
	require.NoError(t, err)
	defer store.Close()

	term := newTerminations()
	c := New(store, Options{Signals: []os.Signal{}, Terminate: term.terminate})
	require.NoError(t, c.Install())
	require.NoError(t, c.slot.Handler().Close())

	assert.NotPanics(t, func() {
		defer c.Recover()
		panic("boom")
	})
	assert.Len(t, term.all(), 1)
}

func TestCapturer_GoCapturesGoroutinePanic(t *testing.T) {
	dir := t.TempDir()
	store, err := fs.Open(dir, fs.Options{})
	require.NoError(t, err)

	term := newTerminations()
	c := New(store, Options{InstallID: "g", Signals: []os.Signal{}, Terminate: term.terminate})
	require.NoError(t, c.Install())

	c.Go(func() { panic("in goroutine") })
	select {
	case f := <-term.ch:
		assert.Equal(t, "in goroutine", f.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine panic was not captured")
	}
	require.NoError(t, store.Close())

	reports := reopenCrashReports(t, dir)
	require.Len(t, reports, 1)
	assert.Equal(t, "in goroutine", reports[0].Reason)
}

func TestCapturer_SignalIsCaptured(t *testing.T) {
	dir := t.TempDir()
	store, err := fs.Open(dir, fs.Options{})
	require.NoError(t, err)

	term := newTerminations()
	c := New(store, Options{
		InstallID: "sig",
		Signals:   []os.Signal{syscall.SIGUSR1},
		Terminate: term.terminate,
	})
	require.NoError(t, c.Install())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))
	select {
	case f := <-term.ch:
		assert.Equal(t, domain.CrashSourceSignal, f.Source)
		assert.Equal(t, syscall.SIGUSR1, f.Value)
	case <-time.After(5 * time.Second):
		t.Fatal("signal was not captured")
	}
	require.NoError(t, store.Close())

	reports := reopenCrashReports(t, dir)
	require.Len(t, reports, 1)
	assert.Equal(t, syscall.SIGUSR1.String(), reports[0].Signal)
	assert.NotEmpty(t, reports[0].Trace)
}
