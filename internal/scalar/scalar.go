// Package scalar encodes and decodes fixed-width C scalars to and from the raw
// byte sequences native code reads and writes.
//
// All encodings use the host byte order. Integers are truncated through their
// two's-complement representation when encoded, and floats travel as the
// unsigned bit pattern of their width so NaN payloads and signed zeros survive
// a round trip unchanged.
package scalar

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// PointerSize is the width of an address in the modelled ABI.
const PointerSize = 8

// ErrLength is returned when a raw byte sequence does not match the width it
// is being decoded as.
var ErrLength = errors.New("raw length mismatch")

// ErrWidth is returned for widths other than 1, 2, 4 and 8.
var ErrWidth = errors.New("unsupported scalar width")

// Class is the register file a scalar travels in.
type Class uint8

const (
	ClassInteger Class = iota
	ClassFloat
)

func (c Class) String() string {
	if c == ClassFloat {
		return "float"
	}
	return "integer"
}

// Kind describes one scalar C type.
type Kind struct {
	Name   string
	Width  int
	Signed bool
	Float  bool
	Char   bool
}

func (k Kind) Class() Class {
	if k.Float {
		return ClassFloat
	}
	return ClassInteger
}

func (k Kind) String() string { return k.Name }

var (
	Int8    = Kind{Name: "int8", Width: 1, Signed: true}
	Int16   = Kind{Name: "int16", Width: 2, Signed: true}
	Int32   = Kind{Name: "int32", Width: 4, Signed: true}
	Int64   = Kind{Name: "int64", Width: 8, Signed: true}
	Uint8   = Kind{Name: "uint8", Width: 1}
	Uint16  = Kind{Name: "uint16", Width: 2}
	Uint32  = Kind{Name: "uint32", Width: 4}
	Uint64  = Kind{Name: "uint64", Width: 8}
	Float32 = Kind{Name: "float", Width: 4, Float: true}
	Float64 = Kind{Name: "double", Width: 8, Float: true}
	Char    = Kind{Name: "char", Width: 1, Char: true}
)

// Mask returns the bits of v that fit in width bytes.
func Mask(v uint64, width int) uint64 {
	if width >= 8 {
		return v
	}
	return v & (1<<(uint(width)*8) - 1)
}

// SignExtend interprets the low width bytes of v as a two's-complement value.
func SignExtend(v uint64, width int) int64 {
	if width >= 8 {
		return int64(v)
	}
	shift := uint(64 - width*8)
	return int64(v<<shift) >> shift
}

func checkWidth(width int) error {
	switch width {
	case 1, 2, 4, 8:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrWidth, width)
	}
}

// EncodeUint writes the low width bytes of v in native byte order.
func EncodeUint(v uint64, width int) ([]byte, error) {
	if err := checkWidth(width); err != nil {
		return nil, err
	}
	buf := make([]byte, width)
	switch width {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.NativeEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.NativeEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.NativeEndian.PutUint64(buf, v)
	}
	return buf, nil
}

// EncodeInt writes v truncated to width bytes in native byte order.
func EncodeInt(v int64, width int) ([]byte, error) {
	return EncodeUint(uint64(v), width)
}

// DecodeUint reads an unsigned value of exactly width bytes.
func DecodeUint(raw []byte, width int) (uint64, error) {
	if err := checkWidth(width); err != nil {
		return 0, err
	}
	if len(raw) != width {
		return 0, fmt.Errorf("%w: want %d bytes, got %d", ErrLength, width, len(raw))
	}
	switch width {
	case 1:
		return uint64(raw[0]), nil
	case 2:
		return uint64(binary.NativeEndian.Uint16(raw)), nil
	case 4:
		return uint64(binary.NativeEndian.Uint32(raw)), nil
	default:
		return binary.NativeEndian.Uint64(raw), nil
	}
}

// DecodeInt reads a signed value of exactly width bytes.
func DecodeInt(raw []byte, width int) (int64, error) {
	v, err := DecodeUint(raw, width)
	if err != nil {
		return 0, err
	}
	return SignExtend(v, width), nil
}

// FloatBits returns the bit pattern of f at the given width. A width of 4
// converts f to float32 first.
func FloatBits(f float64, width int) uint64 {
	if width == 4 {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

// FloatFromBits reinterprets the low width bytes of bits as an IEEE-754 value.
func FloatFromBits(bits uint64, width int) float64 {
	if width == 4 {
		return float64(math.Float32frombits(uint32(bits)))
	}
	return math.Float64frombits(bits)
}

// Encode encodes the bit pattern of a value of kind k.
func Encode(k Kind, bits uint64) ([]byte, error) {
	return EncodeUint(bits, k.Width)
}

// Decode decodes raw into the bit pattern of kind k. Signed kinds are sign
// extended so the result can be pushed straight into a 64-bit register.
func Decode(k Kind, raw []byte) (uint64, error) {
	if k.Signed {
		v, err := DecodeInt(raw, k.Width)
		return uint64(v), err
	}
	return DecodeUint(raw, k.Width)
}

// Fits reports whether v is representable by the integer kind k.
func Fits(k Kind, v int64) bool {
	if k.Float {
		return true
	}
	if k.Width >= 8 {
		return k.Signed || v >= 0
	}
	bits := uint(k.Width * 8)
	if k.Signed {
		lo := -(int64(1) << (bits - 1))
		hi := int64(1)<<(bits-1) - 1
		return v >= lo && v <= hi
	}
	return v >= 0 && v < int64(1)<<bits
}

// FitsUnsigned reports whether v is representable by the integer kind k.
func FitsUnsigned(k Kind, v uint64) bool {
	if k.Float {
		return true
	}
	if k.Signed {
		if k.Width >= 8 {
			return v <= math.MaxInt64
		}
		return v < uint64(1)<<(uint(k.Width*8)-1)
	}
	if k.Width >= 8 {
		return true
	}
	return v < uint64(1)<<uint(k.Width*8)
}
