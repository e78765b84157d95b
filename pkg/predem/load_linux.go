//go:build linux

package predem

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// loadScale is the fixed-point scale of sysinfo load averages.
const loadScale = 1 << 16

func loadPerCPU() float64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return -1
	}
	cpus := runtime.NumCPU()
	if cpus <= 0 {
		cpus = 1
	}
	return float64(info.Loads[0]) / loadScale / float64(cpus)
}
