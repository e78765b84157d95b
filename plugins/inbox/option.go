package inbox

import "github.com/bft-labs/predem/pkg/predem"

// WithInbox returns a predem Option that enables the inbox directory.
//
// Usage:
//
//	agent, err := predem.New(cfg,
//	    inbox.WithInbox(inbox.Config{
//	        Dir:           "/var/spool/myapp/events",
//	        DebounceDelay: 100 * time.Millisecond,
//	    }),
//	)
func WithInbox(cfg Config) predem.Option {
	return predem.WithPlugin(New(cfg))
}
