//go:build linux

package pool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// newSegment creates a memfd-backed anonymous shared-memory segment on
// Linux, mmap'd rw into this process: page-aligned, length =
// slot_count*slot_size. memfd has no classic Unix permission bits, so the
// 0700-equivalent is simply that the fd is not shared outside the process
// unless explicitly passed via SCM_RIGHTS (out of scope here — the module
// collaborator owns wire handoff).
func newSegment(id uint32, size int) (*segment, error) {
	fd, err := unix.MemfdCreate(fmt.Sprintf("audiocore-pool-%d", id), 0)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &segment{
		id:     id,
		data:   data,
		shared: true,
		closer: func() error {
			_ = unix.Munmap(data)
			return unix.Close(fd)
		},
	}, nil
}
