package memengine

import (
	"bytes"
	"errors"
	"testing"

	"github.com/tinyrange/efunc/internal/engine"
)

func TestAllocateReadWrite(t *testing.T) {
	e := New()

	a, err := e.Allocate(5)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Allocate(3)
	if err != nil {
		t.Fatal(err)
	}
	if b <= a+5 {
		t.Fatalf("allocations overlap: %#x and %#x", a, b)
	}
	if a%alignment != 0 || b%alignment != 0 {
		t.Fatalf("allocations not aligned: %#x %#x", a, b)
	}

	if err := e.Write(a+1, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	got, err := e.Read(a, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0, 1, 2, 3, 4}) {
		t.Fatalf("Read = %v", got)
	}

	// Writing past the end of a region must fail, not spill.
	if err := e.Write(a+3, []byte{9, 9, 9}); !errors.Is(err, ErrUnmapped) {
		t.Fatalf("overrun write: got %v, want ErrUnmapped", err)
	}
	if e.Live() != 2 {
		t.Fatalf("Live = %d, want 2", e.Live())
	}

	if err := e.Free(a); err != nil {
		t.Fatal(err)
	}
	if err := e.Free(a); !errors.Is(err, ErrDoubleFree) {
		t.Fatalf("double free: got %v", err)
	}
	if _, err := e.Read(a, 1); !errors.Is(err, ErrUnmapped) {
		t.Fatalf("read after free: got %v", err)
	}
}

func TestLibrarySymbols(t *testing.T) {
	e := New()
	lib := e.AddLibrary("libdemo.so")
	dataAddr := lib.Data("counter", []byte{7, 0, 0, 0})

	if _, err := e.LoadLibrary("libmissing.so"); err == nil {
		t.Fatal("expected load failure")
	}
	if e.LibraryError() == "" {
		t.Fatal("expected diagnostic after failed load")
	}

	h, err := e.LoadLibrary("libdemo.so")
	if err != nil {
		t.Fatal(err)
	}
	addr, err := e.LoadSymbol(h, "counter")
	if err != nil {
		t.Fatal(err)
	}
	if addr != dataAddr {
		t.Fatalf("LoadSymbol = %#x, want %#x", addr, dataAddr)
	}
	if _, err := e.LoadSymbol(h, "missing"); err == nil {
		t.Fatal("expected undefined symbol")
	}
	if err := e.CloseLibrary(h); err != nil {
		t.Fatal(err)
	}
	if _, err := e.LoadSymbol(h, "counter"); err == nil {
		t.Fatal("expected failure on closed handle")
	}
	// Data regions are not heap allocations.
	if err := e.Free(dataAddr); err == nil {
		t.Fatal("freeing symbol storage must fail")
	}
}

func TestCallRecords(t *testing.T) {
	e := New()
	lib := e.AddLibrary("libm.so")
	add := lib.Func("add", func(_ *Engine, args []engine.Arg) uint64 {
		return uint64(Int(args[0]) + Int(args[1]))
	})

	if err := e.SetCallSpecs(engine.CallSpec{Addr: add, Total: 2, Fixed: 2}); err != nil {
		t.Fatal(err)
	}
	e.AddParam(engine.Arg{Raw: 40, Width: 8})
	e.AddParam(engine.Arg{Raw: 2, Width: 8})
	ret, err := e.Call()
	e.CleanCallSpecs()
	if err != nil {
		t.Fatal(err)
	}
	if ret != 42 {
		t.Fatalf("add = %d", ret)
	}

	calls := e.Calls()
	if len(calls) != 1 || calls[0].Spec.Addr != add || len(calls[0].Args) != 2 {
		t.Fatalf("unexpected call record %+v", calls)
	}
}

func TestCString(t *testing.T) {
	e := New()
	addr, _ := e.Allocate(8)
	e.Write(addr, []byte("abc\x00zz"))
	s, err := e.CString(addr)
	if err != nil {
		t.Fatal(err)
	}
	if s != "abc" {
		t.Fatalf("CString = %q", s)
	}
}
