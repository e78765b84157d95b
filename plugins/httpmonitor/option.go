package httpmonitor

import (
	"net/http"

	"github.com/bft-labs/predem/pkg/predem"
)

// WithHTTPMonitor returns a predem Option that reports the traffic of the
// given clients as network events. The clients are wrapped immediately;
// nothing is reported until the agent starts.
//
// Usage:
//
//	agent, err := predem.New(cfg, httpmonitor.WithHTTPMonitor(apiClient, http.DefaultClient))
func WithHTTPMonitor(clients ...*http.Client) predem.Option {
	p := New()
	for _, c := range clients {
		p.Wrap(c)
	}
	return predem.WithPlugin(p)
}
