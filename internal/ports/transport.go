package ports

import (
	"context"

	"github.com/bft-labs/predem/internal/domain"
)

// Transport delivers a batch to the collection service. It is stateless with
// respect to records and never touches the store.
type Transport interface {
	// Send transmits the batch and returns the per-record outcome.
	// A non-nil error means the attempt as a whole failed; every record of
	// the batch is then a failure for this attempt.
	Send(ctx context.Context, batch *domain.Batch, meta SendMetadata) (domain.DeliveryResult, error)
}

// SendMetadata identifies the sender. It is carried in request headers and
// the request envelope.
type SendMetadata struct {
	// InstallID is the anonymous install identifier
	InstallID string

	// AppKey identifies the host application to the service
	AppKey string

	// AppVersion is the host application's version
	AppVersion string

	// SDKVersion is this agent's version
	SDKVersion string

	// Hostname is the host's name
	Hostname string

	// OSArch is the operating system and architecture (e.g., "linux/amd64")
	OSArch string

	// ServiceURL is the base URL of the collection service
	ServiceURL string
}
