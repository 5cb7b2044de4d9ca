package manifest

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/efunc/internal/ffi"
)

// Result is the outcome of one call or variable read.
type Result struct {
	Name  string
	Value ffi.Value
	Text  string
	// Out holds the formatted out-parameters of a call, in argument order.
	Out []string
}

func (r Result) String() string {
	s := r.Name + " = " + r.Text
	for i, out := range r.Out {
		s += fmt.Sprintf(" out[%d]=%s", i, out)
	}
	return s
}

// Runner binds a manifest to a runtime.
type Runner struct {
	rt    *ffi.Runtime
	m     *Manifest
	types *Types
	log   *slog.Logger

	libs  map[string]*ffi.Library
	funcs map[string]*ffi.Function
}

func NewRunner(rt *ffi.Runtime, m *Manifest, log *slog.Logger) (*Runner, error) {
	types, err := m.Types()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		rt:    rt,
		m:     m,
		types: types,
		log:   log,
		libs:  make(map[string]*ffi.Library),
		funcs: make(map[string]*ffi.Function),
	}, nil
}

// Open loads every library and resolves every function.
func (r *Runner) Open() error {
	for _, lib := range r.m.Libraries {
		l, err := r.rt.Open(lib.Path)
		if err != nil {
			r.Close()
			return err
		}
		r.libs[lib.Name] = l
	}
	for _, fn := range r.m.Functions {
		ret, err := r.types.Resolve(fn.Returns)
		if err != nil {
			r.Close()
			return fmt.Errorf("function %s: %w", fn.Name, err)
		}
		f, err := r.libs[fn.Library].Function(fn.Symbol, ffi.NewFunctionDescriptor(fn.Params, ret, fn.Variadic))
		if err != nil {
			r.Close()
			return err
		}
		r.funcs[fn.Name] = f
	}
	return nil
}

// Close releases every open library.
func (r *Runner) Close() error {
	var errs []error
	for name, l := range r.libs {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.libs, name)
	}
	clear(r.funcs)
	return errors.Join(errs...)
}

// Run opens the manifest's libraries, reads its variables, performs its
// calls in order and closes the libraries again.
func (r *Runner) Run() ([]Result, error) {
	if err := r.Open(); err != nil {
		return nil, err
	}
	defer r.Close()

	results, err := r.ReadVariables()
	if err != nil {
		return results, err
	}
	calls, err := r.RunCalls()
	return append(results, calls...), err
}

// ReadVariables reads every declared variable. Open must have been called.
func (r *Runner) ReadVariables() ([]Result, error) {
	var results []Result
	for _, v := range r.m.Variables {
		typ, err := r.types.Resolve(v.Type)
		if err != nil {
			return results, fmt.Errorf("variable %s: %w", v.Name, err)
		}
		l, ok := r.libs[v.Library]
		if !ok {
			return results, fmt.Errorf("variable %s: library %s is not open", v.Name, v.Library)
		}
		val, err := l.Variable(v.Name, typ)
		if err != nil {
			return results, err
		}
		res := Result{Name: v.Name, Value: val, Text: Format(val)}
		if v.Expect != "" && res.Text != v.Expect {
			return append(results, res), fmt.Errorf("variable %s: expected %q, got %q", v.Name, v.Expect, res.Text)
		}
		results = append(results, res)
	}
	return results, nil
}

// RunCalls performs every call in order. Open must have been called.
func (r *Runner) RunCalls() ([]Result, error) {
	var results []Result
	for i, c := range r.m.Calls {
		res, err := r.Call(c)
		if err != nil {
			return results, fmt.Errorf("call %d (%s): %w", i, c.Function, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// freer is implemented by every owning value.
type freer interface {
	Free() error
}

// Call marshals c's arguments, performs the call and formats the result.
// Every value built for the call is freed afterwards.
func (r *Runner) Call(c Call) (Result, error) {
	f, ok := r.funcs[c.Function]
	if !ok {
		return Result{}, fmt.Errorf("function %s is not resolved", c.Function)
	}

	var (
		owned []freer
		outs  []*ffi.Pointer
		args  = make([]any, 0, len(c.Args))
	)
	defer func() {
		for _, v := range owned {
			if err := v.Free(); err != nil {
				r.log.Warn("free argument", "function", c.Function, "error", err)
			}
		}
	}()

	for i, a := range c.Args {
		v, err := r.arg(a, &owned)
		if err != nil {
			return Result{}, fmt.Errorf("argument %d: %w", i, err)
		}
		if a.Out {
			outs = append(outs, v.(*ffi.Pointer))
		}
		args = append(args, v)
	}

	ret, err := f.Call(args...)
	if err != nil {
		return Result{}, err
	}
	res := Result{Name: c.Function, Value: ret, Text: Format(ret)}
	for _, p := range outs {
		v, err := p.Follow(0)
		if err != nil {
			return res, fmt.Errorf("read out-parameter: %w", err)
		}
		res.Out = append(res.Out, Format(v))
	}
	r.log.Debug("manifest call", "function", c.Function, "result", res.Text)
	if c.Expect != "" && res.Text != c.Expect {
		return res, fmt.Errorf("expected %q, got %q", c.Expect, res.Text)
	}
	return res, nil
}

// arg builds one argument. Values the runner allocates are appended to owned.
func (r *Runner) arg(a Arg, owned *[]freer) (any, error) {
	if a.Null {
		return r.rt.PointerAt(0, 1, nil), nil
	}
	if a.Type == "" {
		if a.Out {
			return nil, fmt.Errorf("out-parameter needs a type")
		}
		return a.Value, nil
	}
	typ, err := r.types.Resolve(a.Type)
	if err != nil {
		return nil, err
	}
	if a.Out {
		return r.outParam(typ, a, owned)
	}
	if a.Fields != nil {
		return r.composite(typ, a.Fields, owned)
	}
	return r.value(typ, a.Value, owned)
}

// outParam allocates a zeroed pointee, optionally initialised from the
// argument's value or fields.
func (r *Runner) outParam(typ ffi.Type, a Arg, owned *[]freer) (*ffi.Pointer, error) {
	pt, ok := typ.(*ffi.PointerType)
	if !ok || pt.Final == nil {
		return nil, fmt.Errorf("out-parameter type %s is not a typed pointer", typ)
	}

	if pt.Layers == 1 && (a.Fields != nil || a.Value != nil) {
		var (
			seed ffi.Value
			err  error
		)
		if a.Fields != nil {
			seed, err = r.composite(pt.Final, a.Fields, owned)
		} else {
			seed, err = r.value(pt.Final, a.Value, owned)
		}
		if err != nil {
			return nil, err
		}
		p, err := r.rt.FromFinal(seed)
		if err != nil {
			return nil, err
		}
		*owned = append(*owned, p)
		return p, nil
	}

	size := pt.Final.Size()
	if pt.Layers > 1 {
		size = pt.Size()
	} else if c, ok := pt.Final.(interface{ CalculateSize() int }); ok {
		size = c.CalculateSize()
	}
	p, err := r.rt.Allocate(size)
	if err != nil {
		return nil, err
	}
	*owned = append(*owned, p)
	if err := p.RawWrite(make([]byte, size), 0); err != nil {
		return nil, err
	}
	if err := p.Cast(pt.Layers, pt.Final); err != nil {
		return nil, err
	}
	return p, nil
}

// value converts a literal to typ.
func (r *Runner) value(typ ffi.Type, lit any, owned *[]freer) (ffi.Value, error) {
	switch t := typ.(type) {
	case *ffi.ScalarType:
		return t.New(lit)
	case *ffi.PointerType:
		p := r.rt.PointerAt(0, t.Layers, t.Final)
		if lit != nil {
			if err := p.SetValue(lit); err != nil {
				return nil, err
			}
		}
		return p, nil
	}
	if typ.Kind() == ffi.KindString {
		s, ok := lit.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs a string, got %T", ffi.ErrType, typ, lit)
		}
		str, err := r.rt.NewString(s, true)
		if err != nil {
			return nil, err
		}
		*owned = append(*owned, str)
		return str, nil
	}
	fields, ok := lit.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s needs fields", ffi.ErrType, typ)
	}
	return r.composite(typ, fields, owned)
}

// composite builds a struct from all fields, or a union from its single
// field.
func (r *Runner) composite(typ ffi.Type, fields map[string]any, owned *[]freer) (ffi.Value, error) {
	switch t := typ.(type) {
	case *ffi.StructType:
		values := make(map[string]ffi.Value, len(fields))
		for name, lit := range fields {
			m, err := t.Member(name)
			if err != nil {
				return nil, err
			}
			v, err := r.value(m.Type, lit, owned)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name(), name, err)
			}
			values[name] = v
		}
		s, err := r.rt.NewStruct(t, values)
		if err != nil {
			return nil, err
		}
		*owned = append(*owned, s)
		return s, nil
	case *ffi.UnionType:
		if len(fields) != 1 {
			return nil, fmt.Errorf("%w: union %s takes exactly one field, got %d", ffi.ErrValue, t.Name(), len(fields))
		}
		for name, lit := range fields {
			m, err := t.Member(name)
			if err != nil {
				return nil, err
			}
			v, err := r.value(m.Type, lit, owned)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name(), name, err)
			}
			u, err := r.rt.NewUnionMember(t, name, v)
			if err != nil {
				return nil, err
			}
			*owned = append(*owned, u)
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no fields", ffi.ErrType, typ)
}

// Format renders a value for display.
func Format(v ffi.Value) string {
	switch x := v.(type) {
	case *ffi.String:
		if x.IsNull() {
			return "NULL"
		}
		text, err := x.Text()
		if err != nil {
			return fmt.Sprintf("<%v>", err)
		}
		return text
	case *ffi.Pointer:
		if x.IsNull() {
			return "NULL"
		}
		return x.String()
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v.Value())
}
