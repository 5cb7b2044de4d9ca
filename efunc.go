// Package efunc calls functions in native shared libraries without cgo.
// Values are described with dynamic types (scalars, pointers, C strings,
// structs and unions) and marshalled into the platform calling convention
// at call time.
package efunc

import (
	"io"
	"log/slog"

	"github.com/tinyrange/efunc/internal/engine"
	"github.com/tinyrange/efunc/internal/ffi"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from internal/ffi
// -----------------------------------------------------------------------------

// Runtime binds values and calls to a memory/call engine.
type Runtime = ffi.Runtime

// Option configures a Runtime.
type Option = ffi.Option

// Tracer observes every step of a native call.
type Tracer = ffi.Tracer

// Type describes how a value is laid out in native memory.
type Type = ffi.Type

// Value is a typed native value.
type Value = ffi.Value

// Kind classifies types.
type Kind = ffi.Kind

// Addresser is implemented by every value that refers to native memory.
type Addresser = ffi.Addresser

type (
	Scalar         = ffi.Scalar
	ScalarType     = ffi.ScalarType
	Pointer        = ffi.Pointer
	PointerType    = ffi.PointerType
	String         = ffi.String
	Member         = ffi.Member
	StructType     = ffi.StructType
	StructInstance = ffi.StructInstance
	UnionType      = ffi.UnionType
	UnionInstance  = ffi.UnionInstance
)

// FunctionDescriptor is a call signature: minimum parameter count, return
// type and whether extra arguments are accepted.
type FunctionDescriptor = ffi.FunctionDescriptor

// Function is a callable native symbol.
type Function = ffi.Function

// Library is an open shared library.
type Library = ffi.Library

// Error represents an efunc operation error with structured information.
type Error = ffi.Error

// Kind constants.
const (
	KindInt     = ffi.KindInt
	KindUint    = ffi.KindUint
	KindFloat   = ffi.KindFloat
	KindChar    = ffi.KindChar
	KindPointer = ffi.KindPointer
	KindString  = ffi.KindString
	KindStruct  = ffi.KindStruct
	KindUnion   = ffi.KindUnion
)

// Sentinel errors. Every failure wraps one of them; use errors.Is.
var (
	ErrLibrary   = ffi.ErrLibrary
	ErrType      = ffi.ErrType
	ErrAttribute = ffi.ErrAttribute
	ErrValue     = ffi.ErrValue
)

// Scalar and string types.
var (
	Int8    = ffi.Int8
	Int16   = ffi.Int16
	Int32   = ffi.Int32
	Int64   = ffi.Int64
	UInt8   = ffi.UInt8
	UInt16  = ffi.UInt16
	UInt32  = ffi.UInt32
	UInt64  = ffi.UInt64
	Float32 = ffi.Float32
	Float64 = ffi.Float64
	Char    = ffi.Char
	CString = ffi.CString
	VoidPtr = ffi.VoidPtr
)

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

func NewInt8(v int8) *Scalar       { return ffi.NewInt8(v) }
func NewInt16(v int16) *Scalar     { return ffi.NewInt16(v) }
func NewInt32(v int32) *Scalar     { return ffi.NewInt32(v) }
func NewInt64(v int64) *Scalar     { return ffi.NewInt64(v) }
func NewUInt8(v uint8) *Scalar     { return ffi.NewUInt8(v) }
func NewUInt16(v uint16) *Scalar   { return ffi.NewUInt16(v) }
func NewUInt32(v uint32) *Scalar   { return ffi.NewUInt32(v) }
func NewUInt64(v uint64) *Scalar   { return ffi.NewUInt64(v) }
func NewFloat32(v float32) *Scalar { return ffi.NewFloat32(v) }
func NewFloat64(v float64) *Scalar { return ffi.NewFloat64(v) }
func NewChar(c byte) *Scalar       { return ffi.NewChar(c) }

// CharFromString builds a Char from a one-byte string.
func CharFromString(s string) (*Scalar, error) { return ffi.CharFromString(s) }

// PointerTo returns the type of a pointer to final with the given depth.
// A nil final is an opaque pointer.
func PointerTo(final Type, layers int) *PointerType { return ffi.PointerTo(final, layers) }

// NewStructType lays out members in declaration order with no padding.
func NewStructType(name string, members ...Member) (*StructType, error) {
	return ffi.NewStructType(name, members...)
}

// NewUnionType overlays members at offset zero.
func NewUnionType(name string, members ...Member) (*UnionType, error) {
	return ffi.NewUnionType(name, members...)
}

// NewFunctionDescriptor builds a call signature. A nil ret returns Int64.
func NewFunctionDescriptor(minParams int, ret Type, varargs bool) FunctionDescriptor {
	return ffi.NewFunctionDescriptor(minParams, ret, varargs)
}

// SameType reports whether two types describe the same native layout.
func SameType(a, b Type) bool { return ffi.SameType(a, b) }

// -----------------------------------------------------------------------------
// Runtime
// -----------------------------------------------------------------------------

// WithLogger sets the runtime's logger.
func WithLogger(l *slog.Logger) Option { return ffi.WithLogger(l) }

// WithTracer records every call step to t.
func WithTracer(t Tracer) Option { return ffi.WithTracer(t) }

// NewNativeRuntime opens the host's C library and returns a runtime that
// calls real native code. Close the returned io.Closer when done; values
// allocated through the runtime must be freed first.
func NewNativeRuntime(opts ...Option) (*Runtime, io.Closer, error) {
	eng, err := engine.NewNative()
	if err != nil {
		return nil, nil, err
	}
	return ffi.NewRuntime(eng, opts...), eng, nil
}
