package predem

import (
	"context"
	"sync"
)

// Recorder is the part of an Agent exposed to plugins.
type Recorder interface {
	// Record persists a telemetry event tagged with the current session.
	Record(ctx context.Context, kind Kind, payload []byte) (RecordID, error)

	// RecordInSession persists a telemetry event tagged with sessionID.
	RecordInSession(ctx context.Context, kind Kind, sessionID string, payload []byte) (RecordID, error)

	// OnNetworkEventObserved reports one HTTP exchange made by the host.
	OnNetworkEventObserved(ev NetworkEvent)
}

// PluginConfig is passed to every plugin on Initialize.
type PluginConfig struct {
	// Dir is the agent's data directory.
	Dir string

	// ServiceURL is the collection service base URL, possibly empty.
	ServiceURL string

	// InstallID is the anonymous install identifier.
	InstallID string

	Logger Logger

	// Recorder feeds events into the pipeline.
	Recorder Recorder
}

// Plugin extends an Agent. Plugins are initialized in registration order
// when the agent starts and shut down in reverse order when it stops.
type Plugin interface {
	// Name returns a unique identifier for logs.
	Name() string

	// Initialize is called from Start. An error aborts the start.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown is called from Stop, even if the plugin's context was
	// already canceled.
	Shutdown(ctx context.Context) error
}

// BasePlugin stores the PluginConfig for embedding plugins and implements
// Plugin with no-op hooks.
type BasePlugin struct {
	name string

	mu  sync.RWMutex
	cfg PluginConfig
}

// NewBasePlugin returns a BasePlugin reporting the given name.
func NewBasePlugin(name string) *BasePlugin {
	return &BasePlugin{name: name}
}

// Name returns the plugin name.
func (b *BasePlugin) Name() string { return b.name }

// Initialize stores cfg.
func (b *BasePlugin) Initialize(_ context.Context, cfg PluginConfig) error {
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
	return nil
}

// Shutdown does nothing.
func (b *BasePlugin) Shutdown(context.Context) error { return nil }

// Config returns the config stored by Initialize.
func (b *BasePlugin) Config() PluginConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

var _ Plugin = (*BasePlugin)(nil)
