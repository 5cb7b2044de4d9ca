package ffi

import (
	"bytes"
	"fmt"
)

// unknownLength marks a string whose length is found by scanning for the
// zero terminator.
const unknownLength = -1

// String is a char pointer with a known content length or one discovered
// lazily from its terminator.
type String struct {
	*Pointer

	length    int
	allocated int
	// limit caps a terminator scan, for fixed-size inline char arrays.
	limit int
}

var _ Addresser = (*String)(nil)

// NewString copies s into a fresh owned buffer. With terminated set, one
// zero byte is appended; the recorded content length excludes it.
func (rt *Runtime) NewString(s string, terminated bool) (*String, error) {
	return rt.NewBytes([]byte(s), terminated)
}

// NewBytes is NewString for a byte slice.
func (rt *Runtime) NewBytes(b []byte, terminated bool) (*String, error) {
	buf := b
	if terminated {
		buf = append(append(make([]byte, 0, len(b)+1), b...), 0)
	}
	p, err := rt.Allocate(len(buf))
	if err != nil {
		return nil, err
	}
	p.final = Char
	if err := p.RawWrite(buf, 0); err != nil {
		p.Free()
		return nil, err
	}
	return &String{Pointer: p, length: len(b), allocated: len(buf)}, nil
}

// StringFromChar builds an owned string holding the single char c.
func (rt *Runtime) StringFromChar(c *Scalar, terminated bool) (*String, error) {
	if c.typ != Char {
		return nil, fmt.Errorf("%w: expected char, got %s", ErrType, c.typ)
	}
	return rt.NewBytes([]byte{byte(c.bits)}, terminated)
}

// StringAt wraps a foreign address as a non-owning string of unknown length.
func (rt *Runtime) StringAt(addr uintptr) *String {
	return &String{Pointer: rt.PointerAt(addr, 1, Char), length: unknownLength}
}

// StringFromPointer views p's memory as a string of length bytes.
func (rt *Runtime) StringFromPointer(p *Pointer, length int) *String {
	return &String{Pointer: rt.PointerAt(p.addr, 1, Char), length: length}
}

func (s *String) Type() Type { return CString }

// Len returns the content length, or -1 if it has not been discovered yet.
func (s *String) Len() int { return s.length }

// Allocated returns the size of the owned buffer, or zero for views.
func (s *String) Allocated() int { return s.allocated }

// CalculateLength scans for the zero terminator when the length is unknown
// and caches the result.
func (s *String) CalculateLength() (int, error) {
	if s.length != unknownLength {
		return s.length, nil
	}
	n := 0
	for s.limit == 0 || n < s.limit {
		v, err := s.Follow(n)
		if err != nil {
			return 0, err
		}
		if v.(*Scalar).bits == 0 {
			break
		}
		n++
	}
	s.length = n
	return n, nil
}

// Read returns the content from offset to the end of the string.
func (s *String) Read(offset int) ([]byte, error) {
	n, err := s.CalculateLength()
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > n {
		return nil, &Error{Op: "read string", Err: fmt.Errorf("%w: offset %d outside length %d", ErrValue, offset, n)}
	}
	return s.RawRead(n-offset, offset)
}

// Text returns the whole content as a Go string.
func (s *String) Text() (string, error) {
	b, err := s.Read(0)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *String) String() string {
	text, err := s.Text()
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return text
}

// Equal compares the decoded contents of two strings.
func (s *String) Equal(other *String) bool {
	a, err := s.Read(0)
	if err != nil {
		return false
	}
	b, err := other.Read(0)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}
