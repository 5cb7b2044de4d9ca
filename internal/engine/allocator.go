package engine

// Allocator hands out native memory for the Native engine.
type Allocator interface {
	Allocate(size int) (uintptr, error)
	Free(addr uintptr) error
}
