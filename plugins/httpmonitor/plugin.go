// Package httpmonitor reports HTTP exchanges made by the host application
// as network events.
//
// Interception is explicit: wrap the clients whose traffic should be
// observed, and register the plugin so it can reach the agent.
//
//	client := &http.Client{}
//	agent, err := predem.New(cfg, httpmonitor.WithHTTPMonitor(client))
//
// An exchange is reported once its response body is closed or fully read.
// Requests to the agent's own service URL are never reported.
package httpmonitor

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/predem/pkg/log"
	"github.com/bft-labs/predem/pkg/predem"
)

// Plugin holds the observation switch and the recorder shared by every
// wrapped transport.
type Plugin struct {
	mu sync.RWMutex

	recorder   predem.Recorder
	serviceURL string
	logger     predem.Logger

	loaded   atomic.Bool
	observed atomic.Int64
	now      func() time.Time
}

// New creates an unloaded monitor. Initialize loads it.
func New() *Plugin {
	return &Plugin{now: time.Now}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "httpmonitor"
}

// Initialize connects the monitor to the agent and starts observing.
func (p *Plugin) Initialize(_ context.Context, cfg predem.PluginConfig) error {
	p.mu.Lock()
	p.recorder = cfg.Recorder
	p.serviceURL = cfg.ServiceURL
	p.logger = log.OrDiscard(cfg.Logger)
	p.mu.Unlock()

	p.Load()
	p.logger.Info("HTTP monitor loaded")
	return nil
}

// Shutdown stops observing. Wrapped clients keep working unobserved.
func (p *Plugin) Shutdown(context.Context) error {
	p.Unload()
	return nil
}

// Load starts reporting exchanges.
func (p *Plugin) Load() { p.loaded.Store(true) }

// Unload stops reporting exchanges.
func (p *Plugin) Unload() { p.loaded.Store(false) }

// Loaded reports whether exchanges are being reported.
func (p *Plugin) Loaded() bool { return p.loaded.Load() }

// Observed returns the number of exchanges reported so far.
func (p *Plugin) Observed() int64 { return p.observed.Load() }

// Wrap installs the monitor on client. A nil Transport is replaced by a
// wrapped http.DefaultTransport. Wrapping twice is a no-op.
func (p *Plugin) Wrap(client *http.Client) *http.Client {
	if rt, ok := client.Transport.(*roundTripper); ok && rt.p == p {
		return client
	}
	client.Transport = p.Transport(client.Transport)
	return client
}

// Transport returns next wrapped by the monitor.
func (p *Plugin) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &roundTripper{p: p, next: next}
}

func (p *Plugin) target() (predem.Recorder, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.recorder, p.serviceURL
}

func (p *Plugin) report(ev predem.NetworkEvent) {
	rec, _ := p.target()
	if rec == nil || !p.loaded.Load() {
		return
	}
	p.observed.Add(1)
	rec.OnNetworkEventObserved(ev)
}

type roundTripper struct {
	p    *Plugin
	next http.RoundTripper
}

func (t *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rec, serviceURL := t.p.target()
	if rec == nil || !t.p.loaded.Load() || ownTraffic(req, serviceURL) {
		return t.next.RoundTrip(req)
	}

	ev := predem.NetworkEvent{
		Method:    req.Method,
		URL:       redact(req),
		Host:      req.URL.Host,
		StartedAt: t.p.now(),
	}
	if req.ContentLength > 0 {
		ev.BytesSent = req.ContentLength
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		ev.Duration = t.p.now().Sub(ev.StartedAt)
		ev.Error = err.Error()
		t.p.report(ev)
		return nil, err
	}

	ev.StatusCode = resp.StatusCode
	if resp.Body == nil || resp.Body == http.NoBody {
		ev.Duration = t.p.now().Sub(ev.StartedAt)
		t.p.report(ev)
		return resp, nil
	}
	resp.Body = &countingBody{ReadCloser: resp.Body, ev: ev, p: t.p}
	return resp, nil
}

// countingBody reports its exchange on EOF, read error or Close,
// whichever comes first.
type countingBody struct {
	io.ReadCloser
	p    *Plugin
	ev   predem.NetworkEvent
	n    int64
	once sync.Once
}

func (b *countingBody) Read(buf []byte) (int, error) {
	n, err := b.ReadCloser.Read(buf)
	b.n += int64(n)
	if err == io.EOF {
		b.finish("")
	} else if err != nil {
		b.finish(err.Error())
	}
	return n, err
}

func (b *countingBody) Close() error {
	err := b.ReadCloser.Close()
	b.finish("")
	return err
}

func (b *countingBody) finish(readErr string) {
	b.once.Do(func() {
		b.ev.Duration = b.p.now().Sub(b.ev.StartedAt)
		b.ev.BytesReceived = b.n
		if readErr != "" {
			b.ev.Error = readErr
		}
		b.p.report(b.ev)
	})
}

func ownTraffic(req *http.Request, serviceURL string) bool {
	return serviceURL != "" && strings.HasPrefix(req.URL.String(), serviceURL)
}

// redact drops the query string, fragment and user info.
func redact(req *http.Request) string {
	u := *req.URL
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	return u.String()
}

var (
	_ predem.Plugin     = (*Plugin)(nil)
	_ http.RoundTripper = (*roundTripper)(nil)
)
