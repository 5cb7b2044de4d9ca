// Package engine defines the execution engine the FFI layer drives: library
// loading, raw memory access and the machine-level call.
//
// The call primitives mirror a C calling-convention shim that keeps global
// call state: SetCallSpecs configures the pending call, AddParam pushes the
// arguments in order, Call invokes and CleanCallSpecs releases the state.
// Callers must serialize that sequence; see ffi.Runtime.
package engine

import (
	"errors"
	"fmt"

	"github.com/tinyrange/efunc/internal/scalar"
)

var (
	// ErrUnsupported is returned when the host cannot run native code.
	ErrUnsupported = errors.New("engine: native calls unsupported on this platform")
	// ErrNullAddress is returned for memory operations on address zero.
	ErrNullAddress = errors.New("engine: null address")
	// ErrNoCall is returned when a call step runs without a configured call.
	ErrNoCall = errors.New("engine: no call configured")
	// ErrTooManyArgs is returned when more arguments are pushed than configured.
	ErrTooManyArgs = errors.New("engine: too many arguments")
)

// CallSpec configures one native call.
type CallSpec struct {
	Addr     uintptr
	Total    int
	Variadic int
	Fixed    int

	ReturnClass scalar.Class
	// ReturnWidth is the byte width of a float return (4 or 8). Ignored for
	// integer-class returns.
	ReturnWidth int
}

func (s CallSpec) String() string {
	return fmt.Sprintf("call %#x total=%d fixed=%d variadic=%d ret=%s",
		s.Addr, s.Total, s.Fixed, s.Variadic, s.ReturnClass)
}

// Arg is one argument in register form.
type Arg struct {
	Raw   uint64
	Class scalar.Class
	Width int
}

// Engine is the set of primitives the FFI core consumes.
type Engine interface {
	LoadLibrary(path string) (uintptr, error)
	CloseLibrary(handle uintptr) error
	LoadSymbol(handle uintptr, name string) (uintptr, error)
	// LibraryError returns the diagnostic for the last failed load or lookup.
	LibraryError() string

	Allocate(size int) (uintptr, error)
	Free(addr uintptr) error
	Read(addr uintptr, size int) ([]byte, error)
	Write(addr uintptr, data []byte) error

	SetCallSpecs(spec CallSpec) error
	AddParam(arg Arg) error
	Call() (uint64, error)
	CleanCallSpecs()
}

// CallState holds the arguments of the pending call. Engines embed it to
// share the bookkeeping of the configure/push/clean steps.
type CallState struct {
	spec   *CallSpec
	params []Arg
}

func (c *CallState) SetCallSpecs(spec CallSpec) error {
	if spec.Addr == 0 {
		return fmt.Errorf("engine: configure call: %w", ErrNullAddress)
	}
	if spec.Total < 0 || spec.Fixed < 0 || spec.Variadic < 0 {
		return fmt.Errorf("engine: configure call: negative argument count in %s", spec)
	}
	c.spec = &spec
	c.params = make([]Arg, 0, spec.Total)
	return nil
}

func (c *CallState) AddParam(arg Arg) error {
	if c.spec == nil {
		return ErrNoCall
	}
	if len(c.params) >= c.spec.Total {
		return fmt.Errorf("%w: configured %d", ErrTooManyArgs, c.spec.Total)
	}
	c.params = append(c.params, arg)
	return nil
}

// Pending returns the configured call and the pushed arguments. It fails if
// no call is configured or fewer arguments were pushed than configured.
func (c *CallState) Pending() (CallSpec, []Arg, error) {
	if c.spec == nil {
		return CallSpec{}, nil, ErrNoCall
	}
	if len(c.params) != c.spec.Total {
		return CallSpec{}, nil, fmt.Errorf("engine: %d of %d arguments pushed", len(c.params), c.spec.Total)
	}
	return *c.spec, c.params, nil
}

func (c *CallState) CleanCallSpecs() {
	c.spec = nil
	c.params = nil
}
