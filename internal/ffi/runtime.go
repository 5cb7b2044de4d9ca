package ffi

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/efunc/internal/engine"
)

// Tracer observes each step of a native call.
type Tracer interface {
	Configure(spec engine.CallSpec)
	Push(index int, arg engine.Arg)
	Result(raw uint64, err error)
	Clean()
}

type nopTracer struct{}

func (nopTracer) Configure(engine.CallSpec) {}
func (nopTracer) Push(int, engine.Arg)      {}
func (nopTracer) Result(uint64, error)      {}
func (nopTracer) Clean()                    {}

// Runtime binds values to an execution engine and owns the critical section
// around native calls. Values created by a Runtime keep a reference to it.
type Runtime struct {
	eng engine.Engine
	log *slog.Logger

	// mu serializes configure/push/invoke/clean on the engine.
	mu     sync.Mutex
	tracer Tracer
}

type Option func(*Runtime)

// WithLogger sets the logger used for library and call events.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) { rt.log = l }
}

// WithTracer records every call step.
func WithTracer(t Tracer) Option {
	return func(rt *Runtime) { rt.tracer = t }
}

// NewRuntime wraps eng.
func NewRuntime(eng engine.Engine, opts ...Option) *Runtime {
	rt := &Runtime{
		eng:    eng,
		log:    slog.Default(),
		tracer: nopTracer{},
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Engine returns the engine the runtime drives.
func (rt *Runtime) Engine() engine.Engine { return rt.eng }

func (rt *Runtime) read(addr uintptr, size int) ([]byte, error) {
	raw, err := rt.eng.Read(addr, size)
	if err != nil {
		return nil, fmt.Errorf("read %d bytes at %#x: %w", size, addr, err)
	}
	return raw, nil
}

func (rt *Runtime) write(addr uintptr, data []byte) error {
	if err := rt.eng.Write(addr, data); err != nil {
		return fmt.Errorf("write %d bytes at %#x: %w", len(data), addr, err)
	}
	return nil
}

// zero clears size bytes at addr. Allocations are not guaranteed to be
// zeroed by the engine.
func (rt *Runtime) zero(addr uintptr, size int) error {
	if size == 0 {
		return nil
	}
	return rt.write(addr, make([]byte, size))
}

// perform runs one native call as a single critical section. marshal pushes
// the arguments through push; if it fails the call is never invoked. Engine
// call state is cleaned on every exit path.
func (rt *Runtime) perform(spec engine.CallSpec, marshal func(push func(engine.Arg) error) error) (uint64, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	defer func() {
		rt.eng.CleanCallSpecs()
		rt.tracer.Clean()
	}()

	if err := rt.eng.SetCallSpecs(spec); err != nil {
		return 0, fmt.Errorf("configure call: %w", err)
	}
	rt.tracer.Configure(spec)

	index := 0
	push := func(arg engine.Arg) error {
		rt.tracer.Push(index, arg)
		index++
		return rt.eng.AddParam(arg)
	}
	if err := marshal(push); err != nil {
		return 0, err
	}

	ret, err := rt.eng.Call()
	rt.tracer.Result(ret, err)
	if err != nil {
		return 0, fmt.Errorf("invoke %#x: %w", spec.Addr, err)
	}
	rt.log.Debug("native call", "addr", fmt.Sprintf("%#x", spec.Addr),
		"args", spec.Total, "variadic", spec.Variadic, "ret", ret)
	return ret, nil
}
