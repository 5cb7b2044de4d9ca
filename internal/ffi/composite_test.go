package ffi

import (
	"errors"
	"testing"
)

func mustStruct(t *testing.T, name string, members ...Member) *StructType {
	t.Helper()
	st, err := NewStructType(name, members...)
	if err != nil {
		t.Fatalf("NewStructType: %v", err)
	}
	return st
}

func TestStructLayoutIsPacked(t *testing.T) {
	st := mustStruct(t, "packed",
		Member{Name: "a", Type: UInt8},
		Member{Name: "b", Type: UInt32},
	)
	if off, err := st.CalculateOffset("a"); err != nil || off != 0 {
		t.Fatalf("expected offset(a)=0, got %d (%v)", off, err)
	}
	if off, err := st.CalculateOffset("b"); err != nil || off != 1 {
		t.Fatalf("expected offset(b)=1, got %d (%v)", off, err)
	}
	if st.CalculateSize() != 5 {
		t.Fatalf("expected size 5, got %d", st.CalculateSize())
	}
	if _, err := st.CalculateOffset("c"); !errors.Is(err, ErrAttribute) {
		t.Fatalf("expected ErrAttribute, got %v", err)
	}
}

func TestStructOffsetLaw(t *testing.T) {
	types := []Type{Int8, Float64, UInt16, CString, Int32, VoidPtr, Char}
	var members []Member
	for i, typ := range types {
		members = append(members, Member{Name: string(rune('a' + i)), Type: typ})
	}
	st := mustStruct(t, "law", members...)

	sum := 0
	for _, m := range st.Members() {
		off, err := st.CalculateOffset(m.Name)
		if err != nil {
			t.Fatalf("CalculateOffset(%s): %v", m.Name, err)
		}
		if off != sum {
			t.Fatalf("%s: expected offset %d, got %d", m.Name, sum, off)
		}
		sum += m.Size
	}
	if st.CalculateSize() != sum {
		t.Fatalf("expected size %d, got %d", sum, st.CalculateSize())
	}
}

func TestStructTypeValidation(t *testing.T) {
	if _, err := NewStructType("dup", Member{Name: "a", Type: Int8}, Member{Name: "a", Type: Int8}); !errors.Is(err, ErrValue) {
		t.Fatalf("expected ErrValue for duplicate member, got %v", err)
	}
	if _, err := NewStructType("str", Member{Name: "s", Type: CString, Inline: true}); !errors.Is(err, ErrValue) {
		t.Fatalf("expected ErrValue for unsized inline string, got %v", err)
	}
	if _, err := NewStructType("bad", Member{Name: "x", Type: Int32, Size: 2}); !errors.Is(err, ErrType) {
		t.Fatalf("expected ErrType for wrong size, got %v", err)
	}
}

func TestStructInstance(t *testing.T) {
	rt, eng := newTestRuntime(t)

	inner := mustStruct(t, "point",
		Member{Name: "x", Type: Int16},
		Member{Name: "y", Type: Int16},
	)
	outer := mustStruct(t, "record",
		Member{Name: "id", Type: UInt32},
		Member{Name: "name", Type: CString, Inline: true, Size: 8},
		Member{Name: "at", Type: inner, Inline: true},
		Member{Name: "next", Type: inner},
	)
	if outer.CalculateSize() != 4+8+4+8 {
		t.Fatalf("expected size 24, got %d", outer.CalculateSize())
	}

	name, err := rt.NewString("bob", true)
	if err != nil {
		t.Fatalf("NewString: %v", err)
	}
	defer name.Free()

	rec, err := rt.NewStruct(outer, map[string]Value{
		"id":   NewUInt32(9),
		"name": name,
	})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}

	id, err := rec.GetMember("id")
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if id.Value() != uint64(9) {
		t.Fatalf("expected id 9, got %v", id.Value())
	}

	nv, err := rec.GetMember("name")
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	ns := nv.(*String)
	if ns.Owned() || ns.Address() != rec.Address()+4 {
		t.Fatalf("expected an inline view at offset 4, got %s", ns.Ptr())
	}
	if ns.String() != "bob" {
		t.Fatalf("expected bob, got %s", ns)
	}

	// Inline composite members are views: writes through them land in the
	// parent.
	av, err := rec.GetMember("at")
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	at := av.(*StructInstance)
	if err := at.SetMember("y", NewInt16(-3)); err != nil {
		t.Fatalf("SetMember: %v", err)
	}
	raw, err := rec.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	y, err := Int16.FromRaw(nil, raw[14:16])
	if err != nil {
		t.Fatalf("FromRaw: %v", err)
	}
	if y.Value() != int64(-3) {
		t.Fatalf("expected -3 in parent memory, got %v", y.Value())
	}

	// Non-inline struct members hold a pointer.
	target, err := rt.NewStruct(inner, map[string]Value{"x": NewInt16(5)})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	defer target.Free()
	if err := rec.SetMember("next", target); err != nil {
		t.Fatalf("SetMember: %v", err)
	}
	next, err := rec.GetMember("next")
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	x, err := next.(*StructInstance).GetMember("x")
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if x.Value() != int64(5) {
		t.Fatalf("expected 5 through the pointer, got %v", x.Value())
	}

	if err := rec.SetMember("id", NewInt8(1)); !errors.Is(err, ErrType) {
		t.Fatalf("expected ErrType for mismatched member, got %v", err)
	}
	if _, err := rec.GetMember("missing"); !errors.Is(err, ErrAttribute) {
		t.Fatalf("expected ErrAttribute, got %v", err)
	}
	if err := at.Free(); !errors.Is(err, ErrValue) {
		t.Fatalf("expected ErrValue freeing a member view, got %v", err)
	}

	if err := rec.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if eng.Live() != 2 {
		t.Fatalf("expected 2 live allocations, got %d", eng.Live())
	}
}

func TestNewStructFailures(t *testing.T) {
	rt, eng := newTestRuntime(t)

	st := mustStruct(t, "pair", Member{Name: "a", Type: Int8}, Member{Name: "b", Type: Int8})
	if _, err := rt.NewStruct(st, map[string]Value{"c": NewInt8(1)}); !errors.Is(err, ErrAttribute) {
		t.Fatalf("expected ErrAttribute, got %v", err)
	}
	if _, err := rt.NewStruct(st, map[string]Value{"b": NewInt64(1)}); !errors.Is(err, ErrType) {
		t.Fatalf("expected ErrType, got %v", err)
	}
	if eng.Live() != 0 {
		t.Fatalf("failed construction leaked %d allocations", eng.Live())
	}

	zero, err := rt.NewStruct(st, nil)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	defer zero.Free()
	raw, err := zero.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if raw[0] != 0 || raw[1] != 0 {
		t.Fatalf("expected zeroed struct, got %v", raw)
	}
}

func TestUnion(t *testing.T) {
	rt, eng := newTestRuntime(t)

	ut, err := NewUnionType("number",
		Member{Name: "small", Type: UInt8},
		Member{Name: "wide", Type: UInt64},
		Member{Name: "real", Type: Float32},
	)
	if err != nil {
		t.Fatalf("NewUnionType: %v", err)
	}
	if ut.CalculateSize() != 8 {
		t.Fatalf("expected size 8, got %d", ut.CalculateSize())
	}
	for _, name := range []string{"small", "wide", "real"} {
		if off, err := ut.CalculateOffset(name); err != nil || off != 0 {
			t.Fatalf("expected offset 0 for %s, got %d (%v)", name, off, err)
		}
	}

	u, err := rt.NewUnion(ut, NewUInt64(0x0102))
	if err != nil {
		t.Fatalf("NewUnion: %v", err)
	}
	defer u.Free()
	small, err := u.GetMember("small")
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	wide, err := u.GetMember("wide")
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if wide.Value() != uint64(0x0102) {
		t.Fatalf("expected 0x102, got %v", wide.Value())
	}
	raw, err := u.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if small.Value() != uint64(raw[0]) {
		t.Fatalf("expected overlapping members, got %v and %v", small.Value(), raw[0])
	}

	_, err = rt.NewUnion(ut, NewInt16(1))
	if !errors.Is(err, ErrType) || !errors.Is(err, ErrValue) {
		t.Fatalf("expected ErrType and ErrValue for unmatched value, got %v", err)
	}
	if eng.Live() != 1 {
		t.Fatalf("expected 1 live allocation, got %d", eng.Live())
	}
}
