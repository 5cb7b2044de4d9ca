package ffi

import (
	"errors"
	"fmt"
	"strings"
)

var errClosed = errors.New("library is closed")

// Library is an open native module.
type Library struct {
	rt     *Runtime
	path   string
	handle uintptr
	closed bool
}

// Open loads the library at path.
func (rt *Runtime) Open(path string) (*Library, error) {
	handle, err := rt.eng.LoadLibrary(path)
	if err == nil && handle == 0 {
		err = errors.New("null handle")
	}
	if err != nil {
		return nil, &Error{Op: "open", Name: path, Err: rt.libraryError(err)}
	}
	rt.log.Debug("opened library", "path", path, "handle", fmt.Sprintf("%#x", handle))
	return &Library{rt: rt, path: path, handle: handle}, nil
}

// libraryError combines err with the engine's diagnostic.
func (rt *Runtime) libraryError(err error) error {
	if msg := rt.eng.LibraryError(); msg != "" && !strings.Contains(err.Error(), msg) {
		return fmt.Errorf("%w: %s (%w)", ErrLibrary, msg, err)
	}
	return fmt.Errorf("%w: %w", ErrLibrary, err)
}

func (l *Library) Path() string { return l.path }

// Symbol resolves name to a nonzero address.
func (l *Library) Symbol(name string) (uintptr, error) {
	if l.closed {
		return 0, &Error{Op: "lookup", Name: name, Err: fmt.Errorf("%w: %w", ErrLibrary, errClosed)}
	}
	addr, err := l.rt.eng.LoadSymbol(l.handle, name)
	if err == nil && addr == 0 {
		err = errors.New("symbol not found")
	}
	if err != nil {
		return 0, &Error{Op: "lookup", Name: name, Err: l.rt.libraryError(err)}
	}
	return addr, nil
}

// Function resolves name and binds it to desc.
func (l *Library) Function(name string, desc FunctionDescriptor) (*Function, error) {
	addr, err := l.Symbol(name)
	if err != nil {
		return nil, err
	}
	if desc.Return == nil {
		desc.Return = Int64
	}
	l.rt.log.Debug("resolved function", "library", l.path, "name", name, "signature", desc.String())
	f := l.rt.FunctionAt(addr, desc)
	f.name = name
	return f, nil
}

// Variable resolves name and returns the value stored there. A pointer
// variable is returned as a view one layer deeper than its declared type, so
// following it reads the variable itself. Struct and union variables are
// views of the symbol's storage. Everything else is decoded.
func (l *Library) Variable(name string, t Type) (Value, error) {
	addr, err := l.Symbol(name)
	if err != nil {
		return nil, err
	}
	switch tt := t.(type) {
	case *PointerType:
		return l.rt.PointerAt(addr, tt.Layers+1, tt.Final), nil
	case composite:
		return tt.viewAt(l.rt, addr), nil
	}
	raw, err := l.rt.read(addr, t.Size())
	if err != nil {
		return nil, &Error{Op: "variable", Name: name, Err: err}
	}
	return t.FromRaw(l.rt, raw)
}

// Close releases the native handle. Later lookups fail.
func (l *Library) Close() error {
	if l.closed {
		return &Error{Op: "close", Name: l.path, Err: fmt.Errorf("%w: %w", ErrLibrary, errClosed)}
	}
	if err := l.rt.eng.CloseLibrary(l.handle); err != nil {
		return &Error{Op: "close", Name: l.path, Err: l.rt.libraryError(err)}
	}
	l.closed = true
	l.rt.log.Debug("closed library", "path", l.path)
	return nil
}
