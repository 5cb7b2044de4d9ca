// Package memengine provides an in-process execution engine backed by a
// simulated address space. Libraries, symbols and native functions are
// declared up front in Go; memory is a set of byte regions handed out by a
// bump allocator. It is used by tests and by dry runs of binding manifests.
package memengine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tinyrange/efunc/internal/engine"
	"github.com/tinyrange/efunc/internal/scalar"
)

const (
	baseAddress = 0x10000
	alignment   = 16
	// guardGap separates regions so an overrun never lands in a neighbour.
	guardGap = 16
)

var (
	ErrUnmapped   = errors.New("memengine: unmapped address")
	ErrDoubleFree = errors.New("memengine: address not allocated or already freed")
)

// Func simulates a native function. It receives the pushed arguments in
// order and returns the raw register result.
type Func func(e *Engine, args []engine.Arg) uint64

// Call records one completed invocation.
type Call struct {
	Spec engine.CallSpec
	Args []engine.Arg
	Ret  uint64
}

type region struct {
	name  string
	base  uintptr
	data  []byte
	owned bool
}

func (r *region) contains(addr uintptr, size int) bool {
	return addr >= r.base && addr+uintptr(size) <= r.base+uintptr(len(r.data))
}

// Engine implements engine.Engine over simulated memory.
type Engine struct {
	engine.CallState

	mu sync.Mutex

	next    uintptr
	regions []*region // sorted by base

	libs    map[string]*Library
	handles map[uintptr]*Library
	funcs   map[uintptr]Func

	lastErr string
	calls   []Call
	reads   int
}

var _ engine.Engine = (*Engine)(nil)

// New creates an empty simulated engine.
func New() *Engine {
	return &Engine{
		next:    baseAddress,
		libs:    make(map[string]*Library),
		handles: make(map[uintptr]*Library),
		funcs:   make(map[uintptr]Func),
	}
}

// Library is a simulated shared object.
type Library struct {
	e       *Engine
	path    string
	handle  uintptr
	symbols map[string]uintptr
	open    int
}

// AddLibrary declares a library that LoadLibrary(path) will find.
func (e *Engine) AddLibrary(path string) *Library {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lib, ok := e.libs[path]; ok {
		return lib
	}
	lib := &Library{
		e:       e,
		path:    path,
		handle:  uintptr(len(e.libs)+1) << 4,
		symbols: make(map[string]uintptr),
	}
	e.libs[path] = lib
	e.handles[lib.handle] = lib
	return lib
}

// Func exports a simulated function and returns its address.
func (l *Library) Func(name string, fn Func) uintptr {
	l.e.mu.Lock()
	defer l.e.mu.Unlock()

	addr := l.e.mapRegion(l.path+":"+name, make([]byte, alignment), false)
	l.e.funcs[addr] = fn
	l.symbols[name] = addr
	return addr
}

// Data exports a variable whose storage holds data and returns its address.
func (l *Library) Data(name string, data []byte) uintptr {
	l.e.mu.Lock()
	defer l.e.mu.Unlock()

	addr := l.e.mapRegion(l.path+":"+name, append([]byte(nil), data...), false)
	l.symbols[name] = addr
	return addr
}

// mapRegion places data in the address space. e.mu must be held.
func (e *Engine) mapRegion(name string, data []byte, owned bool) uintptr {
	base := alignUp(e.next, alignment)
	size := alignUp(uintptr(len(data)), alignment)
	if size == 0 {
		size = alignment
	}
	r := &region{name: name, base: base, data: data, owned: owned}
	e.regions = append(e.regions, r)
	e.next = base + size + guardGap
	return base
}

// find returns the region holding [addr, addr+size). e.mu must be held.
func (e *Engine) find(addr uintptr, size int) (*region, error) {
	i := sort.Search(len(e.regions), func(i int) bool {
		return e.regions[i].base > addr
	})
	if i > 0 {
		if r := e.regions[i-1]; r.contains(addr, size) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %#x+%d", ErrUnmapped, addr, size)
}

func (e *Engine) LoadLibrary(path string) (uintptr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lib, ok := e.libs[path]
	if !ok {
		e.lastErr = fmt.Sprintf("%s: cannot open shared object file: No such file or directory", path)
		return 0, fmt.Errorf("memengine: %s", e.lastErr)
	}
	lib.open++
	return lib.handle, nil
}

func (e *Engine) CloseLibrary(handle uintptr) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lib, ok := e.handles[handle]
	if !ok || lib.open == 0 {
		e.lastErr = fmt.Sprintf("invalid handle %#x", handle)
		return fmt.Errorf("memengine: %s", e.lastErr)
	}
	lib.open--
	return nil
}

func (e *Engine) LoadSymbol(handle uintptr, name string) (uintptr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lib, ok := e.handles[handle]
	if !ok || lib.open == 0 {
		e.lastErr = fmt.Sprintf("invalid handle %#x", handle)
		return 0, fmt.Errorf("memengine: %s", e.lastErr)
	}
	addr, ok := lib.symbols[name]
	if !ok {
		e.lastErr = fmt.Sprintf("%s: undefined symbol: %s", lib.path, name)
		return 0, fmt.Errorf("memengine: %s", e.lastErr)
	}
	return addr, nil
}

func (e *Engine) LibraryError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) Allocate(size int) (uintptr, error) {
	if size < 0 {
		return 0, fmt.Errorf("memengine: cannot allocate negative size %d", size)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mapRegion("heap", make([]byte, size), true), nil
}

func (e *Engine) Free(addr uintptr) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.regions {
		if r.base == addr && r.owned {
			e.regions = append(e.regions[:i], e.regions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %#x", ErrDoubleFree, addr)
}

func (e *Engine) Read(addr uintptr, size int) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reads++
	r, err := e.find(addr, size)
	if err != nil {
		return nil, err
	}
	off := addr - r.base
	return append([]byte(nil), r.data[off:off+uintptr(size)]...), nil
}

func (e *Engine) Write(addr uintptr, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := e.find(addr, len(data))
	if err != nil {
		return err
	}
	copy(r.data[addr-r.base:], data)
	return nil
}

// Call runs the simulated function without holding the engine lock so the
// function body can use Read and Write.
func (e *Engine) Call() (uint64, error) {
	spec, args, err := e.Pending()
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	fn, ok := e.funcs[spec.Addr]
	e.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: no function at %#x", ErrUnmapped, spec.Addr)
	}

	args = append([]engine.Arg(nil), args...)
	ret := fn(e, args)

	e.mu.Lock()
	e.calls = append(e.calls, Call{Spec: spec, Args: args, Ret: ret})
	e.mu.Unlock()
	return ret, nil
}

// Calls returns every completed invocation in order.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// Live returns the number of allocations that have not been freed.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, r := range e.regions {
		if r.owned {
			n++
		}
	}
	return n
}

// Reads returns how many Read calls the engine has served.
func (e *Engine) Reads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reads
}

// CString reads a NUL-terminated string starting at addr.
func (e *Engine) CString(addr uintptr) (string, error) {
	var out []byte
	for {
		b, err := e.Read(addr+uintptr(len(out)), 1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
	}
}

// Int returns an argument as a signed integer.
func Int(a engine.Arg) int64 { return int64(a.Raw) }

// Float returns an argument as a float, honouring its width.
func Float(a engine.Arg) float64 { return scalar.FloatFromBits(a.Raw, a.Width) }

// FloatRet encodes a float result the way a native float return is read back.
func FloatRet(f float64, width int) uint64 { return scalar.FloatBits(f, width) }

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
