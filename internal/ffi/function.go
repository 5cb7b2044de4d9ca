package ffi

import (
	"fmt"
	"math"

	"github.com/tinyrange/efunc/internal/engine"
	"github.com/tinyrange/efunc/internal/scalar"
)

// FunctionDescriptor describes a native function's signature as far as the
// calling convention needs it.
type FunctionDescriptor struct {
	// MinParams is the number of fixed parameters.
	MinParams int
	// Return is the return type. Nil means int64.
	Return Type
	// Varargs marks a function taking trailing variadic arguments.
	Varargs bool
}

// NewFunctionDescriptor returns a descriptor, defaulting a nil return type
// to int64.
func NewFunctionDescriptor(minParams int, ret Type, varargs bool) FunctionDescriptor {
	if ret == nil {
		ret = Int64
	}
	return FunctionDescriptor{MinParams: minParams, Return: ret, Varargs: varargs}
}

func (d FunctionDescriptor) returnType() Type {
	if d.Return == nil {
		return Int64
	}
	return d.Return
}

// counts returns the fixed and variadic argument counts for a call with n
// arguments.
func (d FunctionDescriptor) counts(n int) (fixed, variadic int, err error) {
	if d.MinParams < 0 {
		return 0, 0, fmt.Errorf("%w: negative parameter count %d", ErrValue, d.MinParams)
	}
	if n < d.MinParams {
		return 0, 0, fmt.Errorf("%w: want at least %d arguments, got %d", ErrType, d.MinParams, n)
	}
	if !d.Varargs {
		if n > d.MinParams {
			return 0, 0, fmt.Errorf("%w: want %d arguments, got %d", ErrType, d.MinParams, n)
		}
		return d.MinParams, 0, nil
	}
	return d.MinParams, n - d.MinParams, nil
}

// spec classifies the return type and builds the engine configuration.
func (d FunctionDescriptor) spec(addr uintptr, n int) (engine.CallSpec, error) {
	fixed, variadic, err := d.counts(n)
	if err != nil {
		return engine.CallSpec{}, err
	}
	ret := d.returnType()
	class := scalar.ClassInteger
	if ret.Kind() == KindFloat {
		class = scalar.ClassFloat
	}
	return engine.CallSpec{
		Addr:        addr,
		Total:       n,
		Variadic:    variadic,
		Fixed:       fixed,
		ReturnClass: class,
		ReturnWidth: ret.Size(),
	}, nil
}

func (d FunctionDescriptor) String() string {
	s := fmt.Sprintf("%s(%d", d.returnType(), d.MinParams)
	if d.Varargs {
		s += ", ..."
	}
	return s + ")"
}

// Function is a resolved native function bound to a descriptor. As a Value
// it is its own address, so it can be passed as a callback argument.
type Function struct {
	rt   *Runtime
	addr uintptr
	desc FunctionDescriptor
	name string
}

var _ Value = (*Function)(nil)

// FunctionAt binds a descriptor to a code address.
func (rt *Runtime) FunctionAt(addr uintptr, desc FunctionDescriptor) *Function {
	return &Function{rt: rt, addr: addr, desc: desc, name: fmt.Sprintf("%#x", addr)}
}

func (f *Function) Name() string                   { return f.name }
func (f *Function) Address() uintptr               { return f.addr }
func (f *Function) Descriptor() FunctionDescriptor { return f.desc }

func (f *Function) Type() Type    { return VoidPtr }
func (f *Function) Size() int     { return scalar.PointerSize }
func (f *Function) ToRaw() []byte { return encodeAddress(f.addr) }
func (f *Function) Value() any    { return f.addr }

func (f *Function) Register() engine.Arg {
	return engine.Arg{Raw: uint64(f.addr), Class: scalar.ClassInteger, Width: scalar.PointerSize}
}

func (f *Function) SetValue(any) error {
	return &Error{Op: "set address", Name: f.name, Err: fmt.Errorf("%w: functions are immutable", ErrValue)}
}

func (f *Function) String() string {
	return fmt.Sprintf("%s %s", f.name, f.desc)
}

// Call marshals args, invokes the function and decodes the result.
//
// Values are pushed as they are. Go strings and byte slices become
// temporary terminated strings that are freed when the call returns, Go
// integers become int64 and Go floats become double. Anything else is a type
// error and the call is not issued.
func (f *Function) Call(args ...any) (Value, error) {
	spec, err := f.desc.spec(f.addr, len(args))
	if err != nil {
		return nil, &Error{Op: "call", Name: f.name, Err: err}
	}

	var temps []*String
	defer func() {
		for _, s := range temps {
			if err := s.Free(); err != nil {
				f.rt.log.Warn("free temporary argument", "function", f.name, "error", err)
			}
		}
	}()

	raw, err := f.rt.perform(spec, func(push func(engine.Arg) error) error {
		for i, arg := range args {
			v, temp, err := f.rt.promote(arg)
			if err != nil {
				return &Error{Op: "call", Name: f.name, Err: fmt.Errorf("argument %d: %w", i, err)}
			}
			if temp != nil {
				temps = append(temps, temp)
			}
			if err := push(v.Register()); err != nil {
				return &Error{Op: "call", Name: f.name, Err: fmt.Errorf("argument %d: %w", i, err)}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f.rt.decodeReturn(f.desc.returnType(), raw)
}

// promote maps a call argument to a Value. A non-nil *String is a temporary
// the caller must free.
func (rt *Runtime) promote(arg any) (Value, *String, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil, fmt.Errorf("%w: nil argument", ErrType)
	case Addresser:
		if err := v.Ptr().check("pass"); err != nil {
			return nil, nil, err
		}
		return v, nil, nil
	case Value:
		return v, nil, nil
	case string:
		s, err := rt.NewString(v, true)
		return s, s, err
	case []byte:
		s, err := rt.NewBytes(v, true)
		return s, s, err
	case float32:
		return NewFloat64(float64(v)), nil, nil
	case float64:
		return NewFloat64(v), nil, nil
	}
	i, u, signed, ok := integerOf(arg)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no C promotion for %T", ErrType, arg)
	}
	if !signed {
		if u > math.MaxInt64 {
			return nil, nil, fmt.Errorf("%w: %d overflows int64", ErrType, u)
		}
		i = int64(u)
	}
	return NewInt64(i), nil, nil
}

// decodeReturn interprets the raw result register. Float results are bit
// reinterpreted at their own width; everything else is truncated to the
// return type's size and decoded from native layout.
func (rt *Runtime) decodeReturn(ret Type, raw uint64) (Value, error) {
	if st, ok := ret.(*ScalarType); ok && st.kind.Float {
		return &Scalar{typ: st, bits: scalar.Mask(raw, st.kind.Width)}, nil
	}
	b, err := scalar.EncodeUint(raw, ret.Size())
	if err != nil {
		return nil, &Error{Op: "decode return", Name: ret.String(), Err: fmt.Errorf("%w: %w", ErrType, err)}
	}
	return ret.FromRaw(rt, b)
}
