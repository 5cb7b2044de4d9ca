package ffi

import (
	"fmt"
	"strings"
)

// StructInstance is a struct bound to a memory region of the struct's
// calculated size.
type StructInstance struct {
	*Pointer
	typ *StructType
}

var _ Addresser = (*StructInstance)(nil)

// NewStruct allocates a zero-filled struct and stores values by member name.
// Members without a value stay zero.
func (rt *Runtime) NewStruct(t *StructType, values map[string]Value) (*StructInstance, error) {
	for name := range values {
		if _, err := t.Member(name); err != nil {
			return nil, err
		}
	}
	p, err := rt.allocateZero(t, t.CalculateSize())
	if err != nil {
		return nil, err
	}
	s := &StructInstance{Pointer: p, typ: t}
	for _, m := range t.members {
		v, ok := values[m.Name]
		if !ok {
			continue
		}
		if err := s.SetMember(m.Name, v); err != nil {
			p.Free()
			return nil, err
		}
	}
	return s, nil
}

// StructAt views the struct at a foreign address.
func (rt *Runtime) StructAt(t *StructType, addr uintptr) *StructInstance {
	return &StructInstance{Pointer: rt.PointerAt(addr, 1, t), typ: t}
}

func (s *StructInstance) Type() Type              { return s.typ }
func (s *StructInstance) StructType() *StructType { return s.typ }

// GetMember decodes a non-inline member or returns a view of an inline one.
func (s *StructInstance) GetMember(name string) (Value, error) {
	m, err := s.typ.Member(name)
	if err != nil {
		return nil, err
	}
	offset, _ := s.typ.CalculateOffset(name)
	return readMember(s.Pointer, m, offset)
}

func (s *StructInstance) SetMember(name string, v Value) error {
	m, err := s.typ.Member(name)
	if err != nil {
		return err
	}
	offset, _ := s.typ.CalculateOffset(name)
	return writeMember(s.Pointer, m, offset, v)
}

// Bytes returns a copy of the struct's memory.
func (s *StructInstance) Bytes() ([]byte, error) {
	return s.RawRead(s.typ.CalculateSize(), 0)
}

func (s *StructInstance) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s{", s.typ)
	for i, m := range s.typ.members {
		if i > 0 {
			b.WriteString(", ")
		}
		v, err := s.GetMember(m.Name)
		if err != nil {
			fmt.Fprintf(&b, "%s=<%v>", m.Name, err)
			continue
		}
		fmt.Fprintf(&b, "%s=%v", m.Name, v)
	}
	b.WriteString("}")
	return b.String()
}

// UnionInstance is a union bound to a region of the largest member's size.
type UnionInstance struct {
	*Pointer
	typ *UnionType
}

var _ Addresser = (*UnionInstance)(nil)

// NewUnion allocates a union and stores v in the first member declared with
// v's type.
func (rt *Runtime) NewUnion(t *UnionType, v Value) (*UnionInstance, error) {
	m, ok := t.MemberFor(v.Type())
	if !ok {
		return nil, &Error{Op: "union", Name: t.name, Err: fmt.Errorf("%w: %w: %s matches no member", ErrType, ErrValue, v.Type())}
	}
	return rt.NewUnionMember(t, m.Name, v)
}

// NewUnionMember allocates a union and stores v in the named member.
func (rt *Runtime) NewUnionMember(t *UnionType, name string, v Value) (*UnionInstance, error) {
	if _, err := t.Member(name); err != nil {
		return nil, err
	}
	p, err := rt.allocateZero(t, t.CalculateSize())
	if err != nil {
		return nil, err
	}
	u := &UnionInstance{Pointer: p, typ: t}
	if err := u.SetMember(name, v); err != nil {
		p.Free()
		return nil, err
	}
	return u, nil
}

func (rt *Runtime) UnionAt(t *UnionType, addr uintptr) *UnionInstance {
	return &UnionInstance{Pointer: rt.PointerAt(addr, 1, t), typ: t}
}

func (u *UnionInstance) Type() Type            { return u.typ }
func (u *UnionInstance) UnionType() *UnionType { return u.typ }

// GetMember reinterprets the union's memory as the named member.
func (u *UnionInstance) GetMember(name string) (Value, error) {
	m, err := u.typ.Member(name)
	if err != nil {
		return nil, err
	}
	return readMember(u.Pointer, m, 0)
}

func (u *UnionInstance) SetMember(name string, v Value) error {
	m, err := u.typ.Member(name)
	if err != nil {
		return err
	}
	return writeMember(u.Pointer, m, 0, v)
}

func (u *UnionInstance) Bytes() ([]byte, error) {
	return u.RawRead(u.typ.CalculateSize(), 0)
}

func (u *UnionInstance) String() string {
	return fmt.Sprintf("%s@%#x", u.typ, u.addr)
}

func (rt *Runtime) allocateZero(final Type, size int) (*Pointer, error) {
	p, err := rt.Allocate(size)
	if err != nil {
		return nil, err
	}
	p.final = final
	if err := rt.zero(p.addr, size); err != nil {
		p.Free()
		return nil, &Error{Op: "allocate", Err: err}
	}
	return p, nil
}

// contents is implemented by values whose bytes live behind their address.
type contents interface {
	Bytes() ([]byte, error)
}

// readMember returns a view for inline composite and string members and a
// decoded copy for everything else.
func readMember(base *Pointer, m Member, offset int) (Value, error) {
	if err := base.check("get member"); err != nil {
		return nil, err
	}
	addr := base.addr + uintptr(offset)
	if m.Inline {
		switch t := m.Type.(type) {
		case composite:
			return t.viewAt(base.rt, addr), nil
		case stringType:
			s := base.rt.StringAt(addr)
			s.limit = m.Size
			return s, nil
		}
	}
	raw, err := base.rt.read(addr, m.Size)
	if err != nil {
		return nil, &Error{Op: "get member", Name: m.Name, Err: err}
	}
	return m.Type.FromRaw(base.rt, raw)
}

// writeMember copies inline composite and string values into the parent's
// memory and stores the encoding of everything else.
func writeMember(base *Pointer, m Member, offset int, v Value) error {
	if err := base.check("set member"); err != nil {
		return err
	}
	var (
		raw []byte
		err error
	)
	switch t := m.Type.(type) {
	case composite:
		if !m.Inline {
			raw, err = encodeMember(m, v)
			break
		}
		c, ok := v.(contents)
		if !ok || !SameType(t, v.Type()) {
			return &Error{Op: "set member", Name: m.Name, Err: fmt.Errorf("%w: cannot store %s in %s", ErrType, v.Type(), t)}
		}
		raw, err = c.Bytes()
	case stringType:
		if !m.Inline {
			raw, err = encodeMember(m, v)
			break
		}
		raw, err = inlineString(m, v)
	default:
		raw, err = encodeMember(m, v)
	}
	if err != nil {
		return &Error{Op: "set member", Name: m.Name, Err: err}
	}
	if err := base.rt.write(base.addr+uintptr(offset), raw); err != nil {
		return &Error{Op: "set member", Name: m.Name, Err: err}
	}
	return nil
}

func encodeMember(m Member, v Value) ([]byte, error) {
	if !assignable(m.Type, v.Type()) {
		return nil, fmt.Errorf("%w: cannot store %s in %s", ErrType, v.Type(), m.Type)
	}
	raw := v.ToRaw()
	if len(raw) != m.Size {
		return nil, fmt.Errorf("%w: %s encodes to %d bytes, member holds %d", ErrType, v.Type(), len(raw), m.Size)
	}
	return raw, nil
}

// inlineString pads the content with zeros to the member size. Content that
// fills the array exactly is stored without a terminator.
func inlineString(m Member, v Value) ([]byte, error) {
	s, ok := v.(*String)
	if !ok {
		return nil, fmt.Errorf("%w: cannot store %s in %s[%d]", ErrType, v.Type(), m.Type, m.Size)
	}
	content, err := s.Read(0)
	if err != nil {
		return nil, err
	}
	if len(content) > m.Size {
		return nil, fmt.Errorf("%w: %d bytes do not fit in char[%d]", ErrValue, len(content), m.Size)
	}
	raw := make([]byte, m.Size)
	copy(raw, content)
	return raw, nil
}
