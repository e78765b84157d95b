//go:build unix

package crash

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultSignals are the fatal signals captured when Options.Signals is nil.
// Synchronous faults raised by Go code itself surface as runtime panics and
// reach the runtime crash output instead.
var DefaultSignals = []os.Signal{
	syscall.SIGABRT,
	syscall.SIGBUS,
	syscall.SIGFPE,
	syscall.SIGILL,
	syscall.SIGSEGV,
	syscall.SIGSYS,
	syscall.SIGTRAP,
}

// reraise restores the default disposition of sig and delivers it to the
// process again so the host terminates the way it would have without us.
func reraise(sig os.Signal) {
	s, ok := sig.(syscall.Signal)
	if !ok {
		os.Exit(2)
	}
	signal.Reset(sig)
	_ = unix.Kill(unix.Getpid(), s)
	// Delivery is asynchronous; give it a moment before exiting ourselves.
	time.Sleep(100 * time.Millisecond)
	os.Exit(128 + int(s))
}
