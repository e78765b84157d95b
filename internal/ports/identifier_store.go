package ports

// IdentifierStore provides the anonymous install identifier attached to
// every crash report and delivery request.
type IdentifierStore interface {
	// GetOrCreateInstallID returns the persisted identifier, creating and
	// persisting a new one on first use. The value never changes afterwards.
	GetOrCreateInstallID() (string, error)
}
