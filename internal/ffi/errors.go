package ffi

import "errors"

// Error kinds. Every failure returned by this package wraps one of them.
var (
	// ErrLibrary reports a failed library open/close or symbol lookup.
	ErrLibrary = errors.New("library error")
	// ErrType reports a value that cannot be encoded or decoded as the
	// requested kind, or an argument with no C promotion.
	ErrType = errors.New("type error")
	// ErrAttribute reports a struct or union member that does not exist.
	ErrAttribute = errors.New("no such member")
	// ErrValue reports an invalid operation on a value, such as following an
	// opaque pointer or using a freed one.
	ErrValue = errors.New("value error")
)

// Error records the operation and the symbol, member or path involved.
type Error struct {
	Op   string
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e.Name != "" {
		return e.Op + " " + e.Name + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
