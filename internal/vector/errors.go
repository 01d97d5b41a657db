package vector

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrDimensionMismatch  = errors.New("vecstash: vector dimension mismatch")
	ErrNotFound           = errors.New("vecstash: entry not found")
	ErrCollectionNotFound = errors.New("vecstash: collection not found")
	ErrPoolExhausted      = errors.New("vecstash: connection pool exhausted")
	ErrIndexBuild         = errors.New("vecstash: index build failed")
	ErrEmptyVector        = errors.New("vecstash: empty vector")
)

// Error wraps errors with operation context.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("vecstash.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with operation context.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
