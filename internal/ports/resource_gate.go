package ports

// ResourceGate checks host load before a delivery cycle.
// When the host is busy, OK returns false and the scheduler skips the cycle
// until its hard interval forces one.
type ResourceGate interface {
	// OK returns true if system resources allow sending.
	OK() bool
}
