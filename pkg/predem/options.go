package predem

import (
	"go.opentelemetry.io/otel/metric"

	"github.com/bft-labs/predem/internal/crash"
	"github.com/bft-labs/predem/internal/domain"
	"github.com/bft-labs/predem/internal/ports"
	"github.com/bft-labs/predem/pkg/log"
)

// HTTPClient is the interface for making HTTP requests.
// *http.Client satisfies this interface.
type HTTPClient = ports.HTTPClient

// Logger is the interface for structured logging.
type Logger = log.Logger

// LogField represents a structured log field.
type LogField = log.Field

// IdentifierStore provides the anonymous install identifier.
type IdentifierStore = ports.IdentifierStore

// Record types re-exported from the domain.
type (
	RecordID     = domain.RecordID
	Kind         = domain.Kind
	Session      = domain.Session
	User         = domain.User
	NetworkEvent = domain.NetworkEvent
	CrashReport  = domain.CrashReport
)

// Record kinds.
const (
	KindCrashReport  = domain.KindCrashReport
	KindSessionEvent = domain.KindSessionEvent
	KindUserEvent    = domain.KindUserEvent
	KindNetworkEvent = domain.KindNetworkEvent
)

// Option configures optional behavior of an Agent.
type Option func(*options)

// options holds the optional configuration for an Agent.
type options struct {
	httpClient           ports.HTTPClient
	logger               ports.Logger
	eventHandler         EventHandler
	plugins              []Plugin
	identifiers          ports.IdentifierStore
	retentionConfig      *RetentionConfig
	resourceGatingConfig *ResourceGatingConfig
	crashChain           []func(CrashCapturedEvent)
	meterProvider        metric.MeterProvider

	// crashTerminate replaces process termination after a captured crash.
	crashTerminate func(crash.Fault)
}

// WithHTTPClient sets a custom HTTP client for the collection service.
// If not provided, a default client with the configured timeout is used.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler sets a handler for pipeline events.
// If not provided, no events are emitted.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin to be initialized when the agent starts.
// Plugins are initialized in registration order and shut down in reverse
// order.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithIdentifierStore replaces the install identifier file in Config.Dir.
func WithIdentifierStore(store IdentifierStore) Option {
	return func(o *options) {
		o.identifiers = store
	}
}

// WithCrashChain registers handlers that run after a crash report has been
// persisted and before the process terminates. They run on the crashing
// goroutine, so they must not block or allocate heavily. Panics inside them
// are swallowed.
func WithCrashChain(handlers ...func(CrashCapturedEvent)) Option {
	return func(o *options) {
		o.crashChain = append(o.crashChain, handlers...)
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for delivery
// metrics. If not provided, the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}
