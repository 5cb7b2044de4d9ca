//go:build darwin || linux

package engine

import (
	"fmt"
	"math"
	"reflect"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/tinyrange/efunc/internal/scalar"
)

// maxArgs is the largest argument count purego can marshal.
const maxArgs = 15

// checkVariadic rejects variadic calls purego cannot place correctly.
// Apple's arm64 ABI passes variadic arguments on the stack. On amd64 the
// SysV ABI needs %al set to the number of vector registers in use, which
// purego never sets, so float varargs would arrive as zero.
func checkVariadic(goos, goarch string, spec CallSpec, args []Arg) error {
	if spec.Variadic == 0 {
		return nil
	}
	if goos == "darwin" && goarch == "arm64" {
		return fmt.Errorf("%w: variadic arguments on %s/%s", ErrUnsupported, goos, goarch)
	}
	if goarch == "amd64" {
		for i := spec.Fixed; i < len(args); i++ {
			if args[i].Class == scalar.ClassFloat {
				return fmt.Errorf("%w: float variadic argument %d on %s/%s", ErrUnsupported, i, goos, goarch)
			}
		}
	}
	return nil
}

var (
	uintptrType = reflect.TypeOf(uintptr(0))
	float32Type = reflect.TypeOf(float32(0))
	float64Type = reflect.TypeOf(float64(0))
)

// Native runs calls against real native code loaded into the process using
// purego. Memory comes from libc malloc/free unless another Allocator is set.
type Native struct {
	CallState

	libcPath string
	libc     uintptr
	alloc    Allocator

	lastErr string
}

type NativeOption func(*Native)

// WithLibc overrides the C library used for the default allocator.
func WithLibc(path string) NativeOption {
	return func(n *Native) { n.libcPath = path }
}

// WithAllocator replaces the libc allocator.
func WithAllocator(alloc Allocator) NativeOption {
	return func(n *Native) { n.alloc = alloc }
}

// NewNative opens the C library and binds the allocator.
func NewNative(opts ...NativeOption) (*Native, error) {
	n := &Native{libcPath: defaultLibc}
	for _, opt := range opts {
		opt(n)
	}
	if n.alloc != nil {
		return n, nil
	}

	libc, err := purego.Dlopen(n.libcPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("engine: dlopen %s: %w", n.libcPath, err)
	}
	alloc, err := newLibcAllocator(libc)
	if err != nil {
		purego.Dlclose(libc)
		return nil, err
	}
	n.libc = libc
	n.alloc = alloc
	return n, nil
}

// Close releases the C library handle opened by NewNative.
func (n *Native) Close() error {
	if n.libc == 0 {
		return nil
	}
	err := purego.Dlclose(n.libc)
	n.libc = 0
	return err
}

func (n *Native) LoadLibrary(path string) (uintptr, error) {
	h, err := purego.Dlopen(path, purego.RTLD_LAZY|purego.RTLD_LOCAL)
	if err != nil {
		n.lastErr = err.Error()
		return 0, fmt.Errorf("engine: dlopen %s: %w", path, err)
	}
	n.lastErr = ""
	return h, nil
}

func (n *Native) CloseLibrary(handle uintptr) error {
	if err := purego.Dlclose(handle); err != nil {
		n.lastErr = err.Error()
		return fmt.Errorf("engine: dlclose: %w", err)
	}
	n.lastErr = ""
	return nil
}

func (n *Native) LoadSymbol(handle uintptr, name string) (uintptr, error) {
	addr, err := purego.Dlsym(handle, name)
	if err != nil {
		n.lastErr = err.Error()
		return 0, fmt.Errorf("engine: dlsym %s: %w", name, err)
	}
	n.lastErr = ""
	return addr, nil
}

func (n *Native) LibraryError() string {
	if n.lastErr == "" {
		return "unknown library error"
	}
	return n.lastErr
}

func (n *Native) Allocate(size int) (uintptr, error) {
	if size < 0 {
		return 0, fmt.Errorf("engine: allocate negative size %d", size)
	}
	return n.alloc.Allocate(size)
}

func (n *Native) Free(addr uintptr) error {
	if addr == 0 {
		return fmt.Errorf("engine: free: %w", ErrNullAddress)
	}
	return n.alloc.Free(addr)
}

func (n *Native) Read(addr uintptr, size int) ([]byte, error) {
	if addr == 0 {
		return nil, fmt.Errorf("engine: read: %w", ErrNullAddress)
	}
	if size < 0 {
		return nil, fmt.Errorf("engine: read negative size %d", size)
	}
	out := make([]byte, size)
	if size > 0 {
		copy(out, unsafe.Slice((*byte)(ptrAt(addr)), size))
	}
	return out, nil
}

func (n *Native) Write(addr uintptr, data []byte) error {
	if addr == 0 {
		return fmt.Errorf("engine: write: %w", ErrNullAddress)
	}
	if len(data) > 0 {
		copy(unsafe.Slice((*byte)(ptrAt(addr)), len(data)), data)
	}
	return nil
}

// Call builds a Go function type matching the pushed argument classes and
// lets purego bind it to the target address. Floats travel as float32 or
// float64 so they land in the vector registers.
func (n *Native) Call() (uint64, error) {
	spec, args, err := n.Pending()
	if err != nil {
		return 0, err
	}
	if err := checkVariadic(runtime.GOOS, runtime.GOARCH, spec, args); err != nil {
		return 0, err
	}
	if len(args) > maxArgs {
		return 0, fmt.Errorf("%w: %d arguments, limit %d", ErrTooManyArgs, len(args), maxArgs)
	}

	in := make([]reflect.Type, len(args))
	vals := make([]reflect.Value, len(args))
	for i, a := range args {
		switch {
		case a.Class == scalar.ClassFloat && a.Width == 4:
			in[i] = float32Type
			vals[i] = reflect.ValueOf(math.Float32frombits(uint32(a.Raw)))
		case a.Class == scalar.ClassFloat:
			in[i] = float64Type
			vals[i] = reflect.ValueOf(math.Float64frombits(a.Raw))
		default:
			in[i] = uintptrType
			vals[i] = reflect.ValueOf(uintptr(a.Raw))
		}
	}

	out := uintptrType
	if spec.ReturnClass == scalar.ClassFloat {
		out = float64Type
		if spec.ReturnWidth == 4 {
			out = float32Type
		}
	}

	fn := reflect.New(reflect.FuncOf(in, []reflect.Type{out}, false))
	if err := registerFunc(fn.Interface(), spec.Addr); err != nil {
		return 0, err
	}
	res := fn.Elem().Call(vals)[0]

	switch out {
	case float32Type:
		return uint64(math.Float32bits(float32(res.Float()))), nil
	case float64Type:
		return math.Float64bits(res.Float()), nil
	default:
		return uint64(res.Uint()), nil
	}
}

func registerFunc(fptr any, addr uintptr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: bind %#x: %v", addr, r)
		}
	}()
	purego.RegisterFunc(fptr, addr)
	return nil
}

// ptrAt converts a foreign address without tripping the unsafe.Pointer
// arithmetic check.
func ptrAt(addr uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&addr))
}
