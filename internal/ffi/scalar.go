package ffi

import (
	"fmt"
	"math"
	"strconv"

	"github.com/tinyrange/efunc/internal/engine"
	"github.com/tinyrange/efunc/internal/scalar"
)

// Scalar is an integer, float or char value. It stores the bit pattern of
// the value: sign-extended for signed kinds, the IEEE-754 bits for floats.
type Scalar struct {
	typ  *ScalarType
	bits uint64
}

func NewInt8(v int8) *Scalar     { return &Scalar{typ: Int8, bits: uint64(int64(v))} }
func NewInt16(v int16) *Scalar   { return &Scalar{typ: Int16, bits: uint64(int64(v))} }
func NewInt32(v int32) *Scalar   { return &Scalar{typ: Int32, bits: uint64(int64(v))} }
func NewInt64(v int64) *Scalar   { return &Scalar{typ: Int64, bits: uint64(v)} }
func NewUInt8(v uint8) *Scalar   { return &Scalar{typ: UInt8, bits: uint64(v)} }
func NewUInt16(v uint16) *Scalar { return &Scalar{typ: UInt16, bits: uint64(v)} }
func NewUInt32(v uint32) *Scalar { return &Scalar{typ: UInt32, bits: uint64(v)} }
func NewUInt64(v uint64) *Scalar { return &Scalar{typ: UInt64, bits: v} }

func NewFloat32(v float32) *Scalar {
	return &Scalar{typ: Float32, bits: uint64(math.Float32bits(v))}
}

func NewFloat64(v float64) *Scalar {
	return &Scalar{typ: Float64, bits: math.Float64bits(v)}
}

func NewChar(c byte) *Scalar { return &Scalar{typ: Char, bits: uint64(c)} }

// CharFromString builds a Char from a one-byte string.
func CharFromString(s string) (*Scalar, error) {
	if len(s) != 1 {
		return nil, fmt.Errorf("%w: char must be a string of length 1, got %q", ErrType, s)
	}
	return NewChar(s[0]), nil
}

func (s *Scalar) Type() Type { return s.typ }
func (s *Scalar) Size() int  { return s.typ.kind.Width }

func (s *Scalar) ToRaw() []byte {
	raw, err := scalar.Encode(s.typ.kind, s.bits)
	if err != nil {
		// Scalar types only carry valid widths.
		panic(err)
	}
	return raw
}

func (s *Scalar) Register() engine.Arg {
	return engine.Arg{Raw: s.bits, Class: s.typ.kind.Class(), Width: s.typ.kind.Width}
}

// Value returns int64 for signed kinds, uint64 for unsigned kinds, float64
// for floats and byte for char.
func (s *Scalar) Value() any {
	k := s.typ.kind
	switch {
	case k.Float:
		return s.Float()
	case k.Char:
		return byte(s.bits)
	case k.Signed:
		return s.Int()
	default:
		return s.Uint()
	}
}

func (s *Scalar) SetValue(v any) error {
	bits, err := scalarBits(s.typ.kind, v)
	if err != nil {
		return err
	}
	s.bits = bits
	return nil
}

func (s *Scalar) Int() int64 {
	if s.typ.kind.Float {
		return int64(s.Float())
	}
	return scalar.SignExtend(s.bits, s.typ.kind.Width)
}

func (s *Scalar) Uint() uint64 {
	if s.typ.kind.Float {
		return uint64(s.Float())
	}
	return scalar.Mask(s.bits, s.typ.kind.Width)
}

func (s *Scalar) Float() float64 {
	if !s.typ.kind.Float {
		if s.typ.kind.Signed {
			return float64(s.Int())
		}
		return float64(s.Uint())
	}
	return scalar.FloatFromBits(s.bits, s.typ.kind.Width)
}

// Bits returns the raw register bits.
func (s *Scalar) Bits() uint64 { return s.bits }

func (s *Scalar) String() string {
	k := s.typ.kind
	switch {
	case k.Char:
		return string(rune(byte(s.bits)))
	case k.Float:
		return strconv.FormatFloat(s.Float(), 'g', -1, k.Width*8)
	case k.Signed:
		return strconv.FormatInt(s.Int(), 10)
	default:
		return strconv.FormatUint(s.Uint(), 10)
	}
}

// scalarBits converts a Go value to the bit pattern of kind k. Integers out
// of range for k are rejected rather than narrowed.
func scalarBits(k scalar.Kind, v any) (uint64, error) {
	if k.Float {
		switch f := v.(type) {
		case float32:
			return scalar.FloatBits(float64(f), k.Width), nil
		case float64:
			return scalar.FloatBits(f, k.Width), nil
		}
	}
	if k.Char {
		switch c := v.(type) {
		case string:
			if len(c) != 1 {
				return 0, fmt.Errorf("%w: char must be a string of length 1, got %q", ErrType, c)
			}
			return uint64(c[0]), nil
		case byte:
			return uint64(c), nil
		}
	}

	i, u, signed, ok := integerOf(v)
	if !ok {
		return 0, fmt.Errorf("%w: cannot use %T as %s", ErrType, v, k)
	}
	if k.Float {
		if signed {
			return scalar.FloatBits(float64(i), k.Width), nil
		}
		return scalar.FloatBits(float64(u), k.Width), nil
	}
	if signed {
		if !scalar.Fits(k, i) {
			return 0, fmt.Errorf("%w: %d out of range for %s", ErrType, i, k)
		}
		if k.Signed {
			return uint64(i), nil
		}
		return scalar.Mask(uint64(i), k.Width), nil
	}
	if !scalar.FitsUnsigned(k, u) {
		return 0, fmt.Errorf("%w: %d out of range for %s", ErrType, u, k)
	}
	return u, nil
}

// integerOf unpacks any Go integer kind.
func integerOf(v any) (i int64, u uint64, signed, ok bool) {
	switch n := v.(type) {
	case int:
		return int64(n), 0, true, true
	case int8:
		return int64(n), 0, true, true
	case int16:
		return int64(n), 0, true, true
	case int32:
		return int64(n), 0, true, true
	case int64:
		return n, 0, true, true
	case uint:
		return 0, uint64(n), false, true
	case uint8:
		return 0, uint64(n), false, true
	case uint16:
		return 0, uint64(n), false, true
	case uint32:
		return 0, uint64(n), false, true
	case uint64:
		return 0, n, false, true
	case uintptr:
		return 0, uint64(n), false, true
	}
	return 0, 0, false, false
}
