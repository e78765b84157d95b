// Package predem provides an embeddable crash and telemetry agent.
//
// An Agent captures fatal failures of the host process and telemetry
// events, persists each of them durably before returning, and delivers them
// asynchronously to a collection service with retry and backoff. Records
// survive process restarts: whatever was not delivered by one run is sent
// by the next.
//
// # Basic Usage
//
//	cfg := predem.Config{
//	    Dir:        "/var/lib/myapp/predem",
//	    ServiceURL: "https://collector.example.com",
//	    AppKey:     "your-app-key",
//	    AppVersion: "1.4.2",
//	}
//
//	agent, err := predem.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer agent.Close()
//
//	if err := agent.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
//	go func() {
//	    defer agent.Recover()
//	    work()
//	}()
//
// # Configuration
//
// Create a [Config] with at minimum Dir. All other fields have defaults set
// via [Config.SetDefaults]. Without a ServiceURL the agent still captures
// and persists; records are sent once a later run is configured.
//
// # Crash Capture
//
// New installs crash capture unless Config.DisableCrashReporting is set.
// Panics reach it through [Agent.Recover] or [Agent.Go]; fatal signals and
// fatal runtime errors are captured without cooperation from the host. The
// report is written to storage reserved in advance and becomes a record at
// the next start.
//
// # Telemetry
//
// [Agent.Record] persists an event of any [Kind]. Sessions are tracked with
// [Agent.StartSession] and [Agent.EndSession]; [Agent.SetUser] records the
// user behind the application when it changes. Network events pass through
// sampling and a rate limit; see the httpmonitor plugin for an
// [net/http.RoundTripper] that reports them.
//
// # Event Handling
//
// To receive notifications about delivery and lifecycle, implement
// [EventHandler] (embedding [BaseEventHandler]) and pass it via
// [WithEventHandler]. Events are called synchronously and should return
// quickly.
//
// # Lifecycle States
//
// An Agent starts in [StateStopped]. Start moves it through [StateStarting]
// to [StateRunning], or to [StateCaptureOnly] when no service URL is set.
// A failed delivery cycle moves a running agent to [StateBackingOff] until a
// cycle delivers again. Stop returns it to [StateStopped] through
// [StateStopping]; [StateCrashed] marks a failed start or shutdown. Close
// ends in [StateClosed]. Crash capture stays installed in every state but
// the last. Use [Agent.Status] to query the current state.
//
// # Plugins, Retention and Resource Gating
//
//	import "github.com/bft-labs/predem/plugins/httpmonitor"
//	import "github.com/bft-labs/predem/plugins/inbox"
//
//	agent, err := predem.New(cfg,
//	    httpmonitor.WithHTTPMonitor(http.DefaultClient),
//	    inbox.WithInbox(inbox.DefaultConfig()),
//	    predem.WithRetentionConfig(predem.DefaultRetentionConfig()),
//	    predem.WithResourceGatingConfig(predem.DefaultResourceGatingConfig()),
//	)
package predem
