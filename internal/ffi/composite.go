package ffi

import (
	"fmt"
	"strings"

	"github.com/tinyrange/efunc/internal/scalar"
)

// Member is one named field of a struct or union.
//
// An inline member stores its bytes inside the parent's memory: a nested
// struct or union, or a fixed-size char array. Any other member stores the
// Size-byte encoding of its type, so a non-inline struct member is a pointer
// to that struct.
type Member struct {
	Name   string
	Type   Type
	Inline bool
	// Size is derived from Type when zero. Inline strings must set it.
	Size int
}

func resolveMember(m Member) (Member, error) {
	if m.Name == "" {
		return m, fmt.Errorf("%w: member without a name", ErrValue)
	}
	if m.Type == nil {
		return m, fmt.Errorf("%w: member %s has no type", ErrType, m.Name)
	}
	if m.Inline {
		switch t := m.Type.(type) {
		case composite:
			size := t.CalculateSize()
			if m.Size != 0 && m.Size != size {
				return m, fmt.Errorf("%w: member %s declares %d bytes, %s needs %d", ErrType, m.Name, m.Size, t, size)
			}
			m.Size = size
			return m, nil
		case stringType:
			if m.Size <= 0 {
				return m, fmt.Errorf("%w: inline string member %s needs a size", ErrValue, m.Name)
			}
			return m, nil
		}
	}
	if m.Size != 0 && m.Size != m.Type.Size() {
		return m, fmt.Errorf("%w: member %s declares %d bytes, %s needs %d", ErrType, m.Name, m.Size, m.Type, m.Type.Size())
	}
	m.Size = m.Type.Size()
	return m, nil
}

func resolveMembers(op, name string, members []Member) ([]Member, error) {
	out := make([]Member, 0, len(members))
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		r, err := resolveMember(m)
		if err != nil {
			return nil, &Error{Op: op, Name: name, Err: err}
		}
		if seen[r.Name] {
			return nil, &Error{Op: op, Name: name, Err: fmt.Errorf("%w: duplicate member %s", ErrValue, r.Name)}
		}
		seen[r.Name] = true
		out = append(out, r)
	}
	return out, nil
}

func memberList(members []Member) string {
	var b strings.Builder
	for i, m := range members {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s %s", m.Type, m.Name)
		if m.Inline {
			fmt.Fprintf(&b, "[%d]", m.Size)
		}
	}
	return b.String()
}

// StructType lays its members out back to back with no alignment padding.
type StructType struct {
	name    string
	members []Member
}

// NewStructType validates members and resolves their sizes.
func NewStructType(name string, members ...Member) (*StructType, error) {
	resolved, err := resolveMembers("struct", name, members)
	if err != nil {
		return nil, err
	}
	return &StructType{name: name, members: resolved}, nil
}

func (t *StructType) Kind() Kind { return KindStruct }

// Size is the size of a struct passed by reference.
func (t *StructType) Size() int      { return scalar.PointerSize }
func (t *StructType) Name() string   { return t.name }
func (t *StructType) String() string { return "struct " + t.name }

// Members returns a copy of the resolved member list.
func (t *StructType) Members() []Member {
	return append([]Member(nil), t.members...)
}

// Describe renders the layout in C-like syntax.
func (t *StructType) Describe() string {
	return fmt.Sprintf("struct %s { %s }", t.name, memberList(t.members))
}

// CalculateSize is the sum of all member sizes.
func (t *StructType) CalculateSize() int {
	total := 0
	for _, m := range t.members {
		total += m.Size
	}
	return total
}

// CalculateOffset is the sum of the sizes of the members declared before
// name.
func (t *StructType) CalculateOffset(name string) (int, error) {
	offset := 0
	for _, m := range t.members {
		if m.Name == name {
			return offset, nil
		}
		offset += m.Size
	}
	return 0, t.missing(name)
}

// Member looks a member up by name.
func (t *StructType) Member(name string) (Member, error) {
	for _, m := range t.members {
		if m.Name == name {
			return m, nil
		}
	}
	return Member{}, t.missing(name)
}

func (t *StructType) missing(name string) error {
	return &Error{Op: "member", Name: name, Err: fmt.Errorf("%w in %s", ErrAttribute, t)}
}

// FromRaw decodes an address and views the struct there.
func (t *StructType) FromRaw(rt *Runtime, raw []byte) (Value, error) {
	addr, err := decodeAddress(raw)
	if err != nil {
		return nil, err
	}
	return t.viewAt(rt, addr), nil
}

func (t *StructType) viewAt(rt *Runtime, addr uintptr) Value {
	return rt.StructAt(t, addr)
}

// UnionType overlays all of its members at offset zero.
type UnionType struct {
	name    string
	members []Member
}

func NewUnionType(name string, members ...Member) (*UnionType, error) {
	resolved, err := resolveMembers("union", name, members)
	if err != nil {
		return nil, err
	}
	return &UnionType{name: name, members: resolved}, nil
}

func (t *UnionType) Kind() Kind     { return KindUnion }
func (t *UnionType) Size() int      { return scalar.PointerSize }
func (t *UnionType) Name() string   { return t.name }
func (t *UnionType) String() string { return "union " + t.name }

func (t *UnionType) Members() []Member {
	return append([]Member(nil), t.members...)
}

func (t *UnionType) Describe() string {
	return fmt.Sprintf("union %s { %s }", t.name, memberList(t.members))
}

// CalculateSize is the largest member size.
func (t *UnionType) CalculateSize() int {
	size := 0
	for _, m := range t.members {
		size = max(size, m.Size)
	}
	return size
}

// CalculateOffset is zero for every member.
func (t *UnionType) CalculateOffset(name string) (int, error) {
	if _, err := t.Member(name); err != nil {
		return 0, err
	}
	return 0, nil
}

func (t *UnionType) Member(name string) (Member, error) {
	for _, m := range t.members {
		if m.Name == name {
			return m, nil
		}
	}
	return Member{}, &Error{Op: "member", Name: name, Err: fmt.Errorf("%w in %s", ErrAttribute, t)}
}

// MemberFor returns the first member declared with type vt.
func (t *UnionType) MemberFor(vt Type) (Member, bool) {
	for _, m := range t.members {
		if SameType(m.Type, vt) {
			return m, true
		}
	}
	return Member{}, false
}

func (t *UnionType) FromRaw(rt *Runtime, raw []byte) (Value, error) {
	addr, err := decodeAddress(raw)
	if err != nil {
		return nil, err
	}
	return t.viewAt(rt, addr), nil
}

func (t *UnionType) viewAt(rt *Runtime, addr uintptr) Value {
	return rt.UnionAt(t, addr)
}
