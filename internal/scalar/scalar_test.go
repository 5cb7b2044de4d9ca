package scalar

import (
	"errors"
	"math"
	"testing"
)

func TestIntRoundTripBoundaries(t *testing.T) {
	tests := []struct {
		kind Kind
		vals []int64
	}{
		{Int8, []int64{math.MinInt8, -1, 0, 1, math.MaxInt8}},
		{Int16, []int64{math.MinInt16, -1, 0, math.MaxInt16}},
		{Int32, []int64{math.MinInt32, -1, 0, math.MaxInt32}},
		{Int64, []int64{math.MinInt64, -1, 0, math.MaxInt64}},
	}
	for _, tt := range tests {
		for _, v := range tt.vals {
			raw, err := EncodeInt(v, tt.kind.Width)
			if err != nil {
				t.Fatalf("%s: EncodeInt(%d): %v", tt.kind, v, err)
			}
			if len(raw) != tt.kind.Width {
				t.Fatalf("%s: encoded %d bytes, want %d", tt.kind, len(raw), tt.kind.Width)
			}
			got, err := DecodeInt(raw, tt.kind.Width)
			if err != nil {
				t.Fatalf("%s: DecodeInt: %v", tt.kind, err)
			}
			if got != v {
				t.Errorf("%s: round trip %d -> %d", tt.kind, v, got)
			}
		}
	}
}

func TestUintRoundTripBoundaries(t *testing.T) {
	tests := []struct {
		kind Kind
		max  uint64
	}{
		{Uint8, math.MaxUint8},
		{Uint16, math.MaxUint16},
		{Uint32, math.MaxUint32},
		{Uint64, math.MaxUint64},
	}
	for _, tt := range tests {
		for _, v := range []uint64{0, 1, tt.max} {
			raw, err := EncodeUint(v, tt.kind.Width)
			if err != nil {
				t.Fatalf("%s: EncodeUint: %v", tt.kind, err)
			}
			got, err := DecodeUint(raw, tt.kind.Width)
			if err != nil {
				t.Fatalf("%s: DecodeUint: %v", tt.kind, err)
			}
			if got != v {
				t.Errorf("%s: round trip %d -> %d", tt.kind, v, got)
			}
		}
	}
}

func TestEncodeTruncates(t *testing.T) {
	raw, err := EncodeInt(0x1ff, 1)
	if err != nil {
		t.Fatal(err)
	}
	if raw[0] != 0xff {
		t.Fatalf("expected truncation to 0xff, got %#x", raw[0])
	}
	v, _ := DecodeInt(raw, 1)
	if v != -1 {
		t.Fatalf("expected -1 after sign extension, got %d", v)
	}
}

func TestDecodeRejectsLength(t *testing.T) {
	_, err := DecodeInt([]byte{1, 2, 3}, 4)
	if !errors.Is(err, ErrLength) {
		t.Fatalf("expected ErrLength, got %v", err)
	}
	_, err = DecodeUint([]byte{1, 2, 3, 4, 5}, 4)
	if !errors.Is(err, ErrLength) {
		t.Fatalf("expected ErrLength, got %v", err)
	}
	_, err = EncodeUint(1, 3)
	if !errors.Is(err, ErrWidth) {
		t.Fatalf("expected ErrWidth, got %v", err)
	}
}

func TestFloatBitPatterns(t *testing.T) {
	negZero := math.Copysign(0, -1)
	nan64 := math.Float64frombits(0x7ff8_0000_dead_beef)
	for _, f := range []float64{0, negZero, 1.5, math.Inf(1), math.Inf(-1), math.MaxFloat64, nan64} {
		bits := FloatBits(f, 8)
		raw, err := EncodeUint(bits, 8)
		if err != nil {
			t.Fatal(err)
		}
		back, err := DecodeUint(raw, 8)
		if err != nil {
			t.Fatal(err)
		}
		if back != bits {
			t.Errorf("double %v: bits %#x -> %#x", f, bits, back)
		}
		got := FloatFromBits(back, 8)
		if math.Float64bits(got) != math.Float64bits(f) {
			t.Errorf("double %v: value changed to %v", f, got)
		}
	}

	nan32 := math.Float32frombits(0x7fc0_1234)
	for _, f := range []float32{0, float32(negZero), -2.25, float32(math.Inf(1)), nan32, math.MaxFloat32} {
		bits := uint64(math.Float32bits(f))
		raw, _ := EncodeUint(bits, 4)
		back, _ := DecodeUint(raw, 4)
		if uint32(back) != math.Float32bits(f) {
			t.Errorf("float %v: bits %#x -> %#x", f, bits, back)
		}
	}
}

func TestSignedDecodeExtends(t *testing.T) {
	raw, _ := EncodeInt(-1, 4)
	bits, err := Decode(Int32, raw)
	if err != nil {
		t.Fatal(err)
	}
	if bits != math.MaxUint64 {
		t.Fatalf("expected sign extended bits, got %#x", bits)
	}
	bits, _ = Decode(Uint32, raw)
	if bits != math.MaxUint32 {
		t.Fatalf("expected zero extended bits, got %#x", bits)
	}
}

func TestFits(t *testing.T) {
	tests := []struct {
		kind Kind
		v    int64
		want bool
	}{
		{Int8, 127, true},
		{Int8, 128, false},
		{Int8, -128, true},
		{Int8, -129, false},
		{Uint8, 255, true},
		{Uint8, 256, false},
		{Uint8, -1, false},
		{Int64, math.MinInt64, true},
		{Uint64, -1, false},
		{Uint32, math.MaxUint32, true},
	}
	for _, tt := range tests {
		if got := Fits(tt.kind, tt.v); got != tt.want {
			t.Errorf("Fits(%s, %d) = %v, want %v", tt.kind, tt.v, got, tt.want)
		}
	}
	if FitsUnsigned(Int64, math.MaxUint64) {
		t.Error("MaxUint64 must not fit int64")
	}
	if !FitsUnsigned(Uint64, math.MaxUint64) {
		t.Error("MaxUint64 must fit uint64")
	}
	if FitsUnsigned(Int8, 128) {
		t.Error("128 must not fit int8")
	}
}
