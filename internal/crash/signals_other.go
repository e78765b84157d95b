//go:build !unix

package crash

import "os"

// DefaultSignals is empty on platforms without POSIX signals.
var DefaultSignals []os.Signal

func reraise(os.Signal) {
	os.Exit(2)
}
