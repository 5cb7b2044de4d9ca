// Package ffi is the value model and call marshalling layer of efunc.
//
// Every C value is a Value: a self-describing byte region with a fixed size
// and a lossless raw encoding. Types form a closed set tagged by Kind.
// Pointer-like values (Pointer, String, StructInstance, UnionInstance) share
// one *Pointer and differ only in how they interpret the memory behind it.
package ffi

import (
	"fmt"
	"strings"

	"github.com/tinyrange/efunc/internal/engine"
	"github.com/tinyrange/efunc/internal/scalar"
)

// Kind tags the closed set of C types.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindUint
	KindFloat
	KindChar
	KindPointer
	KindString
	KindStruct
	KindUnion
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindInt:     "int",
	KindUint:    "uint",
	KindFloat:   "float",
	KindChar:    "char",
	KindPointer: "pointer",
	KindString:  "string",
	KindStruct:  "struct",
	KindUnion:   "union",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Type describes a C type.
type Type interface {
	Kind() Kind
	// Size is the number of bytes a value of this type occupies when stored
	// by value or passed in a register. Pointer-like types are address sized.
	Size() int
	String() string
	// FromRaw decodes exactly Size() bytes into a value. Pointer-like types
	// produce non-owning views bound to rt.
	FromRaw(rt *Runtime, raw []byte) (Value, error)
}

// Value is the contract shared by every marshalled C value.
type Value interface {
	Type() Type
	Size() int
	// ToRaw returns exactly Size() bytes in native layout.
	ToRaw() []byte
	// Register returns the value as it is pushed to the engine.
	Register() engine.Arg
	Value() any
	SetValue(v any) error
}

// ScalarType is one of the fixed-width integer, float or char types.
type ScalarType struct {
	kind scalar.Kind
}

var (
	Int8    = &ScalarType{kind: scalar.Int8}
	Int16   = &ScalarType{kind: scalar.Int16}
	Int32   = &ScalarType{kind: scalar.Int32}
	Int64   = &ScalarType{kind: scalar.Int64}
	UInt8   = &ScalarType{kind: scalar.Uint8}
	UInt16  = &ScalarType{kind: scalar.Uint16}
	UInt32  = &ScalarType{kind: scalar.Uint32}
	UInt64  = &ScalarType{kind: scalar.Uint64}
	Float32 = &ScalarType{kind: scalar.Float32}
	Float64 = &ScalarType{kind: scalar.Float64}
	Char    = &ScalarType{kind: scalar.Char}
)

// ScalarTypes lists every scalar type by C name.
var ScalarTypes = map[string]*ScalarType{
	"int8":   Int8,
	"int16":  Int16,
	"int32":  Int32,
	"int64":  Int64,
	"uint8":  UInt8,
	"uint16": UInt16,
	"uint32": UInt32,
	"uint64": UInt64,
	"float":  Float32,
	"double": Float64,
	"char":   Char,
}

func (t *ScalarType) Kind() Kind {
	switch {
	case t.kind.Float:
		return KindFloat
	case t.kind.Char:
		return KindChar
	case t.kind.Signed:
		return KindInt
	default:
		return KindUint
	}
}

func (t *ScalarType) Size() int           { return t.kind.Width }
func (t *ScalarType) String() string      { return t.kind.Name }
func (t *ScalarType) Scalar() scalar.Kind { return t.kind }

func (t *ScalarType) FromRaw(_ *Runtime, raw []byte) (Value, error) {
	bits, err := scalar.Decode(t.kind, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrType, t, err)
	}
	return &Scalar{typ: t, bits: bits}, nil
}

// New builds a scalar from a Go value, rejecting values the type cannot
// represent.
func (t *ScalarType) New(v any) (*Scalar, error) {
	bits, err := scalarBits(t.kind, v)
	if err != nil {
		return nil, err
	}
	return &Scalar{typ: t, bits: bits}, nil
}

// PointerType is a pointer with Layers levels of indirection to Final. A nil
// Final is an opaque (void) pointer.
type PointerType struct {
	Layers int
	Final  Type
}

// PointerTo returns the type of a pointer with the given depth. Depths
// below one are raised to one.
func PointerTo(final Type, layers int) *PointerType {
	if layers < 1 {
		layers = 1
	}
	return &PointerType{Layers: layers, Final: final}
}

// VoidPtr is the opaque pointer type.
var VoidPtr = &PointerType{Layers: 1}

func (t *PointerType) Kind() Kind { return KindPointer }
func (t *PointerType) Size() int  { return scalar.PointerSize }

func (t *PointerType) String() string {
	base := "void"
	if t.Final != nil {
		base = t.Final.String()
	}
	return base + strings.Repeat("*", t.Layers)
}

func (t *PointerType) FromRaw(rt *Runtime, raw []byte) (Value, error) {
	addr, err := decodeAddress(raw)
	if err != nil {
		return nil, err
	}
	return rt.PointerAt(addr, t.Layers, t.Final), nil
}

type stringType struct{}

// CString is the type of NUL-terminated (or explicitly sized) char strings.
var CString Type = stringType{}

func (stringType) Kind() Kind     { return KindString }
func (stringType) Size() int      { return scalar.PointerSize }
func (stringType) String() string { return "char*" }

func (stringType) FromRaw(rt *Runtime, raw []byte) (Value, error) {
	addr, err := decodeAddress(raw)
	if err != nil {
		return nil, err
	}
	return rt.StringAt(addr), nil
}

// composite is implemented by struct and union types.
type composite interface {
	Type
	CalculateSize() int
	viewAt(rt *Runtime, addr uintptr) Value
}

func decodeAddress(raw []byte) (uintptr, error) {
	v, err := scalar.DecodeUint(raw, scalar.PointerSize)
	if err != nil {
		return 0, fmt.Errorf("%w: decode address: %w", ErrType, err)
	}
	return uintptr(v), nil
}

func encodeAddress(addr uintptr) []byte {
	raw, _ := scalar.EncodeUint(uint64(addr), scalar.PointerSize)
	return raw
}

// SameType reports whether a and b describe the same C type. Scalar, string,
// struct and union types compare by identity; pointer types structurally.
func SameType(a, b Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	pa, ok := a.(*PointerType)
	if !ok {
		return a == b
	}
	pb, ok := b.(*PointerType)
	if !ok {
		return false
	}
	return pa.Layers == pb.Layers && SameType(pa.Final, pb.Final)
}

// assignable reports whether a value of type v may be stored where t is
// declared. Opaque pointers accept any pointer-like value.
func assignable(t, v Type) bool {
	if SameType(t, v) {
		return true
	}
	if pt, ok := t.(*PointerType); ok && pt.Final == nil && pt.Layers == 1 {
		switch v.Kind() {
		case KindPointer, KindString, KindStruct, KindUnion:
			return true
		}
	}
	return false
}
