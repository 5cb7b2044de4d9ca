package manifest

import (
	"fmt"
	"strings"

	"github.com/tinyrange/efunc/internal/ffi"
)

// aliases maps C spellings to scalar names, for an LP64 host.
var aliases = map[string]string{
	"signed char":        "int8",
	"unsigned char":      "uint8",
	"short":              "int16",
	"short int":          "int16",
	"signed short":       "int16",
	"unsigned short":     "uint16",
	"unsigned short int": "uint16",
	"int":                "int32",
	"signed":             "int32",
	"signed int":         "int32",
	"unsigned":           "uint32",
	"unsigned int":       "uint32",
	"long":               "int64",
	"long int":           "int64",
	"signed long":        "int64",
	"unsigned long":      "uint64",
	"unsigned long int":  "uint64",
	"long long":          "int64",
	"long long int":      "int64",
	"signed long long":   "int64",
	"unsigned long long": "uint64",
	"int8_t":             "int8",
	"int16_t":            "int16",
	"int32_t":            "int32",
	"int64_t":            "int64",
	"uint8_t":            "uint8",
	"uint16_t":           "uint16",
	"uint32_t":           "uint32",
	"uint64_t":           "uint64",
	"size_t":             "uint64",
	"ssize_t":            "int64",
	"intptr_t":           "int64",
	"uintptr_t":          "uint64",
	"float32":            "float",
	"float64":            "double",
}

// Types resolves C type names against the scalar set and the manifest's
// structs and unions.
type Types struct {
	structs map[string]*ffi.StructType
	unions  map[string]*ffi.UnionType
}

// Types builds the declared structs and unions. A member may use any other
// declared composite, in either list, as long as the references do not form
// a cycle.
func (m *Manifest) Types() (*Types, error) {
	t := &Types{
		structs: make(map[string]*ffi.StructType),
		unions:  make(map[string]*ffi.UnionType),
	}

	type decl struct {
		Composite
		union bool
	}
	var pending []decl
	seen := make(map[string]bool)
	for _, c := range m.Structs {
		pending = append(pending, decl{Composite: c})
	}
	for _, c := range m.Unions {
		pending = append(pending, decl{Composite: c, union: true})
	}
	for _, d := range pending {
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate type %s", d.Name)
		}
		seen[d.Name] = true
	}

	// Each pass builds every composite whose members all resolve. A pass
	// that builds nothing leaves only unresolvable declarations.
	for len(pending) > 0 {
		var (
			next     []decl
			firstErr error
		)
		for _, d := range pending {
			if err := t.build(d.Composite, d.union); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				next = append(next, d)
			}
		}
		if len(next) == len(pending) {
			return nil, firstErr
		}
		pending = next
	}
	return t, nil
}

func (t *Types) build(c Composite, union bool) error {
	members, err := t.members(c)
	if err != nil {
		return err
	}
	if union {
		ut, err := ffi.NewUnionType(c.Name, members...)
		if err != nil {
			return err
		}
		t.unions[c.Name] = ut
		return nil
	}
	st, err := ffi.NewStructType(c.Name, members...)
	if err != nil {
		return err
	}
	t.structs[c.Name] = st
	return nil
}

func (t *Types) members(c Composite) ([]ffi.Member, error) {
	out := make([]ffi.Member, 0, len(c.Members))
	for _, m := range c.Members {
		typ, err := t.Resolve(m.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.Name, m.Name, err)
		}
		out = append(out, ffi.Member{Name: m.Name, Type: typ, Inline: m.Inline, Size: m.Size})
	}
	return out, nil
}

// Resolve parses a type name such as "uint32", "char*", "struct point" or
// "void**".
func (t *Types) Resolve(name string) (ffi.Type, error) {
	base := strings.TrimSpace(name)
	layers := 0
	for strings.HasSuffix(base, "*") {
		layers++
		base = strings.TrimSpace(strings.TrimSuffix(base, "*"))
	}

	if base == "char" && layers > 0 {
		if layers == 1 {
			return ffi.CString, nil
		}
		return ffi.PointerTo(ffi.CString, layers-1), nil
	}
	if base == "void" {
		if layers == 0 {
			return nil, fmt.Errorf("void is not a value type")
		}
		return ffi.PointerTo(nil, layers), nil
	}

	typ, err := t.base(base)
	if err != nil {
		return nil, err
	}
	if layers == 0 {
		return typ, nil
	}
	return ffi.PointerTo(typ, layers), nil
}

func (t *Types) base(name string) (ffi.Type, error) {
	name = strings.Join(strings.Fields(name), " ")
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	if st, ok := ffi.ScalarTypes[name]; ok {
		return st, nil
	}
	if rest, ok := strings.CutPrefix(name, "struct "); ok {
		if st, ok := t.structs[strings.TrimSpace(rest)]; ok {
			return st, nil
		}
		return nil, fmt.Errorf("unknown struct %q", rest)
	}
	if rest, ok := strings.CutPrefix(name, "union "); ok {
		if ut, ok := t.unions[strings.TrimSpace(rest)]; ok {
			return ut, nil
		}
		return nil, fmt.Errorf("unknown union %q", rest)
	}
	if st, ok := t.structs[name]; ok {
		return st, nil
	}
	if ut, ok := t.unions[name]; ok {
		return ut, nil
	}
	return nil, fmt.Errorf("unknown type %q", name)
}
