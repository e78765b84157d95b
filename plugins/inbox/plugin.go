// Package inbox lets other processes hand telemetry to a running agent by
// dropping JSON files into a directory.
//
// Each file holds one event object or an array of them:
//
//	{"kind": "user_event", "session_id": "s-1", "payload": {...}}
//
// Writers should create files under another name and rename them to
// *.json once complete; only *.json files are consumed. A consumed file
// is deleted. A file that cannot be parsed is moved to rejected/.
package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/predem/pkg/log"
	"github.com/bft-labs/predem/pkg/predem"
)

const (
	fileSuffix  = ".json"
	rejectedDir = "rejected"
)

var errEmptyPayload = errors.New("inbox: empty payload")

// Plugin consumes event files from an inbox directory.
type Plugin struct {
	mu sync.Mutex

	// Configuration
	dir           string
	debounceDelay time.Duration
	retryInterval time.Duration

	// Runtime state
	recorder predem.Recorder
	logger   predem.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	consumed int
	rejected int
}

// Config holds configuration options for the inbox plugin.
type Config struct {
	// Dir is the watched directory.
	// Default: <agent dir>/inbox
	Dir string

	// DebounceDelay is the delay to wait after a file event before scanning.
	// Default: 100 milliseconds
	DebounceDelay time.Duration

	// RetryInterval is the delay before rescanning after a record failed.
	// Default: 5 seconds
	RetryInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 100 * time.Millisecond,
		RetryInterval: 5 * time.Second,
	}
}

// New creates a new inbox plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	return &Plugin{
		dir:           cfg.Dir,
		debounceDelay: cfg.DebounceDelay,
		retryInterval: cfg.RetryInterval,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "inbox"
}

// Initialize creates the inbox directory and starts watching it.
func (p *Plugin) Initialize(ctx context.Context, cfg predem.PluginConfig) error {
	if cfg.Recorder == nil {
		return errors.New("inbox: no recorder")
	}

	p.mu.Lock()
	if p.dir == "" {
		p.dir = filepath.Join(cfg.Dir, "inbox")
	}
	p.recorder = cfg.Recorder
	p.logger = log.OrDiscard(cfg.Logger)
	dir := p.dir
	p.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(dir, rejectedDir), 0o755); err != nil {
		return fmt.Errorf("inbox: create %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("inbox: watch %s: %w", dir, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	// Files dropped while the agent was down are recorded before Start
	// returns.
	retry := !p.scan(watchCtx)

	p.logger.Info("inbox watching", log.String("dir", dir))

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher, retry)

	return nil
}

// Shutdown stops the watcher and waits for an in-progress scan.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}

// Dir returns the watched directory. It is empty before Initialize when no
// directory was configured.
func (p *Plugin) Dir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dir
}

// Counts returns how many files were consumed and rejected so far.
func (p *Plugin) Counts() (consumed, rejected int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consumed, p.rejected
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, retry bool) {
	defer p.wg.Done()
	defer watcher.Close()

	var timer *time.Timer
	var pending <-chan time.Time
	schedule := func(d time.Duration) {
		if timer == nil {
			timer = time.NewTimer(d)
		} else {
			timer.Stop()
			timer.Reset(d)
		}
		pending = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	if retry {
		schedule(p.retryInterval)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, fileSuffix) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			schedule(p.debounceDelay)

		case <-pending:
			pending = nil
			if !p.scan(ctx) {
				schedule(p.retryInterval)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("inbox watcher error", log.Err(err))
		}
	}
}

// scan consumes every *.json file in name order. It reports false when a
// file was left in place and should be retried.
func (p *Plugin) scan(ctx context.Context) bool {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		p.logger.Error("inbox scan failed", log.Err(err))
		return false
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), fileSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return true
		}
		if err := p.consume(ctx, filepath.Join(p.dir, name)); err != nil {
			p.logger.Warn("inbox file kept for retry",
				log.String("file", name),
				log.Err(err),
			)
			return false
		}
	}
	return true
}

// event is one entry of an inbox file.
type event struct {
	Kind      predem.Kind     `json:"kind"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// consume records the events in path and deletes it. A recording error
// leaves the unrecorded remainder in place.
func (p *Plugin) consume(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	events, err := parse(data)
	if err != nil {
		p.reject(path, err)
		return nil
	}

	for i, ev := range events {
		if err := p.record(ctx, ev); err != nil {
			if werr := writeRemaining(path, events[i:]); werr != nil {
				return errors.Join(err, werr)
			}
			return err
		}
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	p.mu.Lock()
	p.consumed++
	p.mu.Unlock()
	p.logger.Debug("inbox file consumed",
		log.String("file", filepath.Base(path)),
		log.Int("events", len(events)),
	)
	return nil
}

func (p *Plugin) record(ctx context.Context, ev event) error {
	if ev.SessionID == "" {
		_, err := p.recorder.Record(ctx, ev.Kind, ev.Payload)
		return err
	}
	_, err := p.recorder.RecordInSession(ctx, ev.Kind, ev.SessionID, ev.Payload)
	return err
}

func (p *Plugin) reject(path string, cause error) {
	dst := filepath.Join(p.dir, rejectedDir, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		p.logger.Error("inbox reject failed", log.String("file", filepath.Base(path)), log.Err(err))
		_ = os.Remove(path)
	}
	p.mu.Lock()
	p.rejected++
	p.mu.Unlock()
	p.logger.Warn("inbox file rejected",
		log.String("file", filepath.Base(path)),
		log.Err(cause),
	)
}

// parse decodes a single event object or an array of events.
func parse(data []byte) ([]event, error) {
	data = bytes.TrimSpace(data)
	var events []event
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, err
		}
	} else {
		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		events = []event{ev}
	}
	for i, ev := range events {
		if !ev.Kind.Valid() {
			return nil, fmt.Errorf("event %d: unknown kind", i)
		}
		if len(ev.Payload) == 0 || bytes.Equal(ev.Payload, []byte("null")) {
			return nil, fmt.Errorf("event %d: %w", i, errEmptyPayload)
		}
	}
	return events, nil
}

func writeRemaining(path string, events []event) error {
	data, err := json.Marshal(events)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Ensure Plugin implements predem.Plugin.
var _ predem.Plugin = (*Plugin)(nil)
