package efunc_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/tinyrange/efunc"
)

func libcPath() string {
	if runtime.GOOS == "darwin" {
		return "/usr/lib/libSystem.B.dylib"
	}
	return "libc.so.6"
}

func newNativeRuntime(t *testing.T) *efunc.Runtime {
	t.Helper()
	rt, closer, err := efunc.NewNativeRuntime()
	if err != nil {
		t.Skipf("native runtime unavailable: %v", err)
	}
	t.Cleanup(func() { closer.Close() })
	return rt
}

func TestEndToEnd(t *testing.T) {
	rt := newNativeRuntime(t)

	libc, err := rt.Open(libcPath())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer libc.Close()

	strlen, err := libc.Function("strlen", efunc.NewFunctionDescriptor(1, efunc.UInt64, false))
	if err != nil {
		t.Fatalf("Function() error = %v", err)
	}
	ret, err := strlen.Call("hello")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if ret.Value() != uint64(5) {
		t.Fatalf("strlen(hello) = %v, want 5", ret.Value())
	}

	abs, err := libc.Function("abs", efunc.NewFunctionDescriptor(1, efunc.Int32, false))
	if err != nil {
		t.Fatalf("Function() error = %v", err)
	}
	ret, err = abs.Call(efunc.NewInt32(-42))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if ret.Value() != int64(42) {
		t.Fatalf("abs(-42) = %v, want 42", ret.Value())
	}

	if _, err := libc.Function("definitely_not_a_symbol", efunc.NewFunctionDescriptor(0, nil, false)); !errors.Is(err, efunc.ErrLibrary) {
		t.Fatalf("expected ErrLibrary, got %v", err)
	}
}

func TestStructOnNativeMemory(t *testing.T) {
	rt := newNativeRuntime(t)

	pair, err := efunc.NewStructType("pair",
		efunc.Member{Name: "a", Type: efunc.UInt8},
		efunc.Member{Name: "b", Type: efunc.UInt32},
	)
	if err != nil {
		t.Fatalf("NewStructType() error = %v", err)
	}
	if pair.CalculateSize() != 5 {
		t.Fatalf("CalculateSize() = %d, want 5", pair.CalculateSize())
	}

	s, err := rt.NewStruct(pair, map[string]efunc.Value{"b": efunc.NewUInt32(0xdeadbeef)})
	if err != nil {
		t.Fatalf("NewStruct() error = %v", err)
	}
	defer s.Free()

	b, err := s.GetMember("b")
	if err != nil {
		t.Fatalf("GetMember() error = %v", err)
	}
	if b.Value() != uint64(0xdeadbeef) {
		t.Fatalf("b = %v, want 0xdeadbeef", b.Value())
	}
	if _, err := s.GetMember("c"); !errors.Is(err, efunc.ErrAttribute) {
		t.Fatalf("expected ErrAttribute, got %v", err)
	}
}
