package trace

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinyrange/efunc/internal/engine"
	"github.com/tinyrange/efunc/internal/engine/memengine"
	"github.com/tinyrange/efunc/internal/ffi"
	"github.com/tinyrange/efunc/internal/scalar"
)

func TestTraceRoundTrip(t *testing.T) {
	tr, buf := OpenMemory()

	spec := engine.CallSpec{Addr: 0x1000, Total: 2, Variadic: 1, Fixed: 1, ReturnClass: scalar.ClassFloat, ReturnWidth: 8}
	tr.Configure(spec)
	tr.Push(0, engine.Arg{Raw: 7, Class: scalar.ClassInteger, Width: 8})
	tr.Push(1, engine.Arg{Raw: 0x4004000000000000, Class: scalar.ClassFloat, Width: 8})
	tr.Result(42, nil)
	tr.Clean()

	tr.Configure(engine.CallSpec{Addr: 0x2000})
	tr.Result(0, errors.New("boom"))
	tr.Clean()

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := buf.Reader()
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	if r.Len() != 8 {
		t.Fatalf("expected 8 records, got %d", r.Len())
	}

	var first []Record
	if err := r.EachCall(1, func(rec Record) error {
		first = append(first, rec)
		return nil
	}); err != nil {
		t.Fatalf("EachCall: %v", err)
	}
	if len(first) != 5 {
		t.Fatalf("expected 5 records for call 1, got %d", len(first))
	}
	if first[0].Kind != KindConfigure || first[0].Spec != spec {
		t.Fatalf("unexpected configure record %+v", first[0])
	}
	if first[2].Index != 1 || first[2].Arg.Class != scalar.ClassFloat || first[2].Arg.Raw != 0x4004000000000000 {
		t.Fatalf("unexpected push record %+v", first[2])
	}
	if first[3].Ret != 42 || first[3].Err != "" {
		t.Fatalf("unexpected result record %+v", first[3])
	}

	var failed Record
	if err := r.EachCall(2, func(rec Record) error {
		if rec.Kind == KindResult {
			failed = rec
		}
		return nil
	}); err != nil {
		t.Fatalf("EachCall: %v", err)
	}
	if failed.Err != "boom" || !strings.Contains(failed.String(), "error: boom") {
		t.Fatalf("unexpected failed result %s", failed)
	}

	pushes, err := r.Count(KindPush)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if pushes != 2 {
		t.Fatalf("expected 2 pushes, got %d", pushes)
	}
}

func TestTraceRuntimeCalls(t *testing.T) {
	eng := memengine.New()
	tr, buf := OpenMemory()
	rt := ffi.NewRuntime(eng, ffi.WithTracer(tr))

	lib := eng.AddLibrary("libtest.so")
	addr := lib.Func("sum", func(e *memengine.Engine, args []engine.Arg) uint64 {
		var total int64
		for _, a := range args {
			total += memengine.Int(a)
		}
		return uint64(total)
	})
	f := rt.FunctionAt(addr, ffi.NewFunctionDescriptor(1, ffi.Int32, true))
	if _, err := f.Call(1, 2, 3); err != nil {
		t.Fatalf("Call: %v", err)
	}

	r, err := buf.Reader()
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	var kinds []string
	if err := r.Each(func(rec Record) error {
		kinds = append(kinds, rec.Kind.String())
		if rec.Kind == KindConfigure && (rec.Spec.Fixed != 1 || rec.Spec.Variadic != 2) {
			t.Fatalf("unexpected spec %s", rec.Spec)
		}
		if rec.Kind == KindResult && rec.Ret != 6 {
			t.Fatalf("expected result 6, got %d", rec.Ret)
		}
		return nil
	}); err != nil {
		t.Fatalf("Each: %v", err)
	}
	want := "configure push push push result clean"
	if got := strings.Join(kinds, " "); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestTraceFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "calls.trace")
	tr, err := OpenFile(name)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	tr.Configure(engine.CallSpec{Addr: 0x10, Total: 1, Fixed: 1})
	tr.Push(0, engine.Arg{Raw: 1, Width: 8})
	tr.Result(1, nil)
	tr.Clean()
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, closer, err := NewReaderFromFile(name)
	if err != nil {
		t.Fatalf("NewReaderFromFile: %v", err)
	}
	defer closer.Close()
	if r.Len() != 4 {
		t.Fatalf("expected 4 records, got %d", r.Len())
	}
	n, err := r.Count(KindClean)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 clean record, got %d", n)
	}
}

func TestTraceRejectsGarbage(t *testing.T) {
	buf := &Buffer{}
	if _, err := buf.WriteAt([]byte("not a trace at all"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if _, err := buf.Reader(); err == nil {
		t.Fatalf("expected an index error")
	}
}
