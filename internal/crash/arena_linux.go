//go:build linux

package crash

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// arena is report scratch memory mapped outside the Go heap at install time,
// so writing a report never depends on the allocator of a failing process.
type arena struct {
	data []byte
}

func newArena(size int) (*arena, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap crash arena: %w", err)
	}
	// Keep report scratch out of core dumps of the host.
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)
	return &arena{data: data}, nil
}

func (a *arena) bytes() []byte { return a.data }

func (a *arena) release() error {
	if a == nil || a.data == nil {
		return nil
	}
	err := unix.Munmap(a.data)
	a.data = nil
	return err
}
