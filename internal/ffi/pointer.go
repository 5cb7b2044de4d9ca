package ffi

import (
	"errors"
	"fmt"

	"github.com/tinyrange/efunc/internal/engine"
	"github.com/tinyrange/efunc/internal/scalar"
)

var (
	errOpaque   = errors.New("cannot follow an opaque pointer")
	errFreed    = errors.New("pointer used after free")
	errNotOwned = errors.New("pointer does not own its memory")
)

// Pointer is an address with an indirection depth and a final type. Owning
// pointers were produced by an allocating constructor and must be freed
// exactly once; views wrap foreign memory and must never be freed.
type Pointer struct {
	rt     *Runtime
	addr   uintptr
	layers int
	final  Type

	owned bool
	freed bool
}

// Addresser is any value backed by a *Pointer.
type Addresser interface {
	Value
	Ptr() *Pointer
}

var _ Addresser = (*Pointer)(nil)

// Allocate returns an owning opaque pointer to size fresh bytes.
func (rt *Runtime) Allocate(size int) (*Pointer, error) {
	addr, err := rt.eng.Allocate(size)
	if err != nil {
		return nil, &Error{Op: "allocate", Err: err}
	}
	return &Pointer{rt: rt, addr: addr, layers: 1, owned: true}, nil
}

// FromFinal allocates room for v, writes it and returns an owning pointer
// whose final type is v's type. Struct and union instances are copied by
// content.
func (rt *Runtime) FromFinal(v Value) (*Pointer, error) {
	raw := v.ToRaw()
	if c, ok := v.(contents); ok {
		if _, isComposite := v.Type().(composite); isComposite {
			b, err := c.Bytes()
			if err != nil {
				return nil, err
			}
			raw = b
		}
	}
	p, err := rt.Allocate(len(raw))
	if err != nil {
		return nil, err
	}
	p.final = v.Type()
	if err := p.RawWrite(raw, 0); err != nil {
		p.Free()
		return nil, err
	}
	return p, nil
}

// FromPointer allocates a slot holding p's address and returns an owning
// pointer one layer deeper than p.
func (rt *Runtime) FromPointer(v Addresser) (*Pointer, error) {
	p := v.Ptr()
	if err := p.check("address"); err != nil {
		return nil, err
	}
	pp, err := rt.Allocate(scalar.PointerSize)
	if err != nil {
		return nil, err
	}
	pp.layers = p.layers + 1
	pp.final = p.final
	if err := pp.Write(p, 0); err != nil {
		pp.Free()
		return nil, err
	}
	return pp, nil
}

// PointerAt wraps a foreign address in a non-owning view.
func (rt *Runtime) PointerAt(addr uintptr, layers int, final Type) *Pointer {
	if layers < 1 {
		layers = 1
	}
	return &Pointer{rt: rt, addr: addr, layers: layers, final: final}
}

func (p *Pointer) Ptr() *Pointer { return p }

func (p *Pointer) Type() Type {
	return &PointerType{Layers: p.layers, Final: p.final}
}

func (p *Pointer) Size() int        { return scalar.PointerSize }
func (p *Pointer) ToRaw() []byte    { return encodeAddress(p.addr) }
func (p *Pointer) Address() uintptr { return p.addr }
func (p *Pointer) Layers() int      { return p.layers }
func (p *Pointer) Final() Type      { return p.final }
func (p *Pointer) Owned() bool      { return p.owned }
func (p *Pointer) Freed() bool      { return p.freed }
func (p *Pointer) IsNull() bool     { return p.addr == 0 }

func (p *Pointer) Register() engine.Arg {
	return engine.Arg{Raw: uint64(p.addr), Class: scalar.ClassInteger, Width: scalar.PointerSize}
}

// Value returns the address.
func (p *Pointer) Value() any { return p.addr }

// SetValue rebinds a view to another address. Owning pointers cannot be
// rebound since Free would then release the wrong memory.
func (p *Pointer) SetValue(v any) error {
	if p.owned {
		return &Error{Op: "set address", Err: fmt.Errorf("%w: owning pointer cannot be rebound", ErrValue)}
	}
	i, u, signed, ok := integerOf(v)
	if !ok || (signed && i < 0) {
		return fmt.Errorf("%w: cannot use %v (%T) as an address", ErrType, v, v)
	}
	if signed {
		u = uint64(i)
	}
	p.addr = uintptr(u)
	return nil
}

func (p *Pointer) String() string {
	return fmt.Sprintf("(%s)%#x", p.Type(), p.addr)
}

func (p *Pointer) check(op string) error {
	if p.freed {
		return &Error{Op: op, Err: fmt.Errorf("%w: %w", ErrValue, errFreed)}
	}
	return nil
}

// Follow dereferences the pointer at addr+offset. A one-layer pointer
// decodes a value of the final type; composite finals produce a view at that
// address. Deeper pointers read an address and return a pointer one layer
// shallower with the same final type. Opaque pointers always fail without
// touching memory.
func (p *Pointer) Follow(offset int) (Value, error) {
	if err := p.check("follow"); err != nil {
		return nil, err
	}
	if p.final == nil {
		return nil, &Error{Op: "follow", Err: fmt.Errorf("%w: %w", ErrValue, errOpaque)}
	}
	addr := p.addr + uintptr(offset)

	if p.layers > 1 {
		raw, err := p.rt.read(addr, scalar.PointerSize)
		if err != nil {
			return nil, &Error{Op: "follow", Err: err}
		}
		next, err := decodeAddress(raw)
		if err != nil {
			return nil, err
		}
		return p.rt.PointerAt(next, p.layers-1, p.final), nil
	}

	if c, ok := p.final.(composite); ok {
		return c.viewAt(p.rt, addr), nil
	}
	raw, err := p.rt.read(addr, p.final.Size())
	if err != nil {
		return nil, &Error{Op: "follow", Err: err}
	}
	return p.final.FromRaw(p.rt, raw)
}

// Write stores v's raw encoding at addr+offset. The number of bytes written
// is v's size, not the size of the pointee.
func (p *Pointer) Write(v Value, offset int) error {
	if err := p.check("write"); err != nil {
		return err
	}
	if err := p.rt.write(p.addr+uintptr(offset), v.ToRaw()); err != nil {
		return &Error{Op: "write", Err: err}
	}
	return nil
}

// RawRead returns size bytes at addr+offset.
func (p *Pointer) RawRead(size, offset int) ([]byte, error) {
	if err := p.check("read"); err != nil {
		return nil, err
	}
	return p.rt.read(p.addr+uintptr(offset), size)
}

// RawWrite stores data at addr+offset.
func (p *Pointer) RawWrite(data []byte, offset int) error {
	if err := p.check("write"); err != nil {
		return err
	}
	return p.rt.write(p.addr+uintptr(offset), data)
}

// Cast reinterprets the pointer in place. Memory is not touched.
func (p *Pointer) Cast(layers int, final Type) error {
	if err := p.check("cast"); err != nil {
		return err
	}
	if layers < 1 {
		return &Error{Op: "cast", Err: fmt.Errorf("%w: indirection depth %d", ErrValue, layers)}
	}
	p.layers = layers
	p.final = final
	return nil
}

// Free releases owned memory. The pointer is unusable afterwards.
func (p *Pointer) Free() error {
	if err := p.check("free"); err != nil {
		return err
	}
	if !p.owned {
		return &Error{Op: "free", Err: fmt.Errorf("%w: %w", ErrValue, errNotOwned)}
	}
	if err := p.rt.eng.Free(p.addr); err != nil {
		return &Error{Op: "free", Err: err}
	}
	p.freed = true
	return nil
}
