package ffi

import (
	"errors"
	"math"
	"testing"

	"github.com/tinyrange/efunc/internal/engine/memengine"
)

func newTestRuntime(t *testing.T) (*Runtime, *memengine.Engine) {
	t.Helper()
	eng := memengine.New()
	return NewRuntime(eng), eng
}

func TestInt32SignRoundTrip(t *testing.T) {
	raw := NewInt32(-1).ToRaw()
	if len(raw) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(raw))
	}
	v, err := Int32.FromRaw(nil, raw)
	if err != nil {
		t.Fatalf("FromRaw: %v", err)
	}
	if got := v.Value(); got != int64(-1) {
		t.Fatalf("expected -1, got %v", got)
	}
}

func TestScalarBoundaries(t *testing.T) {
	tests := []struct {
		typ  *ScalarType
		vals []any
	}{
		{Int8, []any{int64(math.MinInt8), int64(-1), int64(0), int64(math.MaxInt8)}},
		{Int16, []any{int64(math.MinInt16), int64(math.MaxInt16)}},
		{Int32, []any{int64(math.MinInt32), int64(math.MaxInt32)}},
		{Int64, []any{int64(math.MinInt64), int64(math.MaxInt64)}},
		{UInt8, []any{uint64(0), uint64(math.MaxUint8)}},
		{UInt16, []any{uint64(0), uint64(math.MaxUint16)}},
		{UInt32, []any{uint64(0), uint64(math.MaxUint32)}},
		{UInt64, []any{uint64(0), uint64(math.MaxUint64)}},
		{Char, []any{byte(0), byte('A'), byte(0xff)}},
	}
	for _, tt := range tests {
		for _, want := range tt.vals {
			s, err := tt.typ.New(want)
			if err != nil {
				t.Fatalf("%s.New(%v): %v", tt.typ, want, err)
			}
			raw := s.ToRaw()
			if len(raw) != tt.typ.Size() {
				t.Fatalf("%s: expected %d bytes, got %d", tt.typ, tt.typ.Size(), len(raw))
			}
			back, err := tt.typ.FromRaw(nil, raw)
			if err != nil {
				t.Fatalf("%s.FromRaw: %v", tt.typ, err)
			}
			if got := back.Value(); got != want {
				t.Fatalf("%s: expected %v, got %v", tt.typ, want, got)
			}
		}
	}
}

func TestFloatBitPatterns(t *testing.T) {
	nan := math.Float64frombits(0x7ff8_0000_dead_beef)
	for _, f := range []float64{0, math.Copysign(0, -1), math.Inf(1), math.Inf(-1), nan, 1.5} {
		s := NewFloat64(f)
		back, err := Float64.FromRaw(nil, s.ToRaw())
		if err != nil {
			t.Fatalf("FromRaw: %v", err)
		}
		if got := back.(*Scalar).Bits(); got != math.Float64bits(f) {
			t.Fatalf("expected bits %#x, got %#x", math.Float64bits(f), got)
		}
	}

	neg := NewFloat32(float32(math.Copysign(0, -1)))
	back, err := Float32.FromRaw(nil, neg.ToRaw())
	if err != nil {
		t.Fatalf("FromRaw: %v", err)
	}
	if got := back.(*Scalar).Bits(); got != 0x8000_0000 {
		t.Fatalf("expected -0 bits, got %#x", got)
	}
	if !math.Signbit(back.(*Scalar).Float()) {
		t.Fatalf("expected negative zero")
	}
}

func TestScalarRejectsBadInput(t *testing.T) {
	if _, err := Int32.FromRaw(nil, []byte{1, 2, 3}); !errors.Is(err, ErrType) {
		t.Fatalf("expected ErrType for short input, got %v", err)
	}
	if _, err := Int16.FromRaw(nil, []byte{1, 2, 3}); !errors.Is(err, ErrType) {
		t.Fatalf("expected ErrType for long input, got %v", err)
	}
	if _, err := Int8.New(200); !errors.Is(err, ErrType) {
		t.Fatalf("expected ErrType for out of range value, got %v", err)
	}
	if _, err := UInt8.New(-1); !errors.Is(err, ErrType) {
		t.Fatalf("expected ErrType for negative unsigned, got %v", err)
	}
	if _, err := Int64.New("12"); !errors.Is(err, ErrType) {
		t.Fatalf("expected ErrType for string, got %v", err)
	}
	if _, err := CharFromString("ab"); !errors.Is(err, ErrType) {
		t.Fatalf("expected ErrType for long char, got %v", err)
	}
}

func TestScalarSetValue(t *testing.T) {
	s := NewUInt16(1)
	if err := s.SetValue(65535); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if s.Uint() != 65535 {
		t.Fatalf("expected 65535, got %d", s.Uint())
	}
	if err := s.SetValue(65536); err == nil {
		t.Fatalf("expected overflow error")
	}
	if s.Uint() != 65535 {
		t.Fatalf("failed SetValue changed the value to %d", s.Uint())
	}

	c, err := CharFromString("x")
	if err != nil {
		t.Fatalf("CharFromString: %v", err)
	}
	if c.String() != "x" {
		t.Fatalf("expected x, got %s", c)
	}

	f := NewFloat32(0)
	if err := f.SetValue(2.5); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if f.Float() != 2.5 {
		t.Fatalf("expected 2.5, got %v", f.Float())
	}
}

func TestScalarTypesByName(t *testing.T) {
	for name, typ := range ScalarTypes {
		if typ.String() != name {
			t.Fatalf("expected %s, got %s", name, typ)
		}
	}
	if Float64.Kind() != KindFloat || Char.Kind() != KindChar || UInt8.Kind() != KindUint || Int8.Kind() != KindInt {
		t.Fatalf("unexpected scalar kinds")
	}
}
