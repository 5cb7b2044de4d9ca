//go:build darwin || linux

package engine

import (
	"fmt"

	"github.com/ebitengine/purego"
)

type libcAllocator struct {
	malloc func(size uintptr) uintptr
	free   func(ptr uintptr)
}

func newLibcAllocator(libc uintptr) (a *libcAllocator, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: bind libc allocator: %v", r)
		}
	}()
	a = &libcAllocator{}
	purego.RegisterLibFunc(&a.malloc, libc, "malloc")
	purego.RegisterLibFunc(&a.free, libc, "free")
	return a, nil
}

func (a *libcAllocator) Allocate(size int) (uintptr, error) {
	// malloc(0) may legally return NULL.
	if size == 0 {
		size = 1
	}
	p := a.malloc(uintptr(size))
	if p == 0 {
		return 0, fmt.Errorf("engine: malloc %d bytes failed", size)
	}
	return p, nil
}

func (a *libcAllocator) Free(addr uintptr) error {
	a.free(addr)
	return nil
}
