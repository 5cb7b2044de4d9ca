//go:build darwin || linux

package engine

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MmapAllocator returns an Allocator that backs every allocation with its own
// anonymous mapping. Each allocation costs at least one page, but freed
// memory is unmapped immediately so a use after free faults instead of
// reading stale data.
func MmapAllocator() Allocator {
	return &mmapAllocator{regions: make(map[uintptr][]byte)}
}

type mmapAllocator struct {
	mu      sync.Mutex
	regions map[uintptr][]byte
}

func (a *mmapAllocator) Allocate(size int) (uintptr, error) {
	if size == 0 {
		size = 1
	}
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, fmt.Errorf("engine: mmap %d bytes: %w", size, err)
	}
	addr := uintptr(unsafe.Pointer(&mem[0]))

	a.mu.Lock()
	a.regions[addr] = mem
	a.mu.Unlock()
	return addr, nil
}

func (a *mmapAllocator) Free(addr uintptr) error {
	a.mu.Lock()
	mem, ok := a.regions[addr]
	delete(a.regions, addr)
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("engine: free %#x: not allocated by this allocator", addr)
	}
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("engine: munmap %#x: %w", addr, err)
	}
	return nil
}
