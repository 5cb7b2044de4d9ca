//go:build !darwin && !linux

package engine

// Native is unavailable on this platform. NewNative always fails.
type Native struct {
	CallState
}

type NativeOption func(*Native)

func WithLibc(path string) NativeOption { return func(*Native) {} }

func WithAllocator(alloc Allocator) NativeOption { return func(*Native) {} }

func NewNative(opts ...NativeOption) (*Native, error) {
	return nil, ErrUnsupported
}

func (n *Native) Close() error { return nil }

func (n *Native) LoadLibrary(path string) (uintptr, error) { return 0, ErrUnsupported }

func (n *Native) CloseLibrary(handle uintptr) error { return ErrUnsupported }

func (n *Native) LoadSymbol(handle uintptr, name string) (uintptr, error) {
	return 0, ErrUnsupported
}

func (n *Native) LibraryError() string { return ErrUnsupported.Error() }

func (n *Native) Allocate(size int) (uintptr, error) { return 0, ErrUnsupported }

func (n *Native) Free(addr uintptr) error { return ErrUnsupported }

func (n *Native) Read(addr uintptr, size int) ([]byte, error) { return nil, ErrUnsupported }

func (n *Native) Write(addr uintptr, data []byte) error { return ErrUnsupported }

func (n *Native) Call() (uint64, error) { return 0, ErrUnsupported }
