package errors

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// PanicError is a recovered panic converted into an error
type PanicError struct {
	value      any
	stacktrace string
}

// NewPanicError wraps the recovered value v. Call from the deferred recover so that the captured stack includes
// the panicking frame.
func NewPanicError(v any) *PanicError {
	return &PanicError{
		value:      v,
		stacktrace: string(goerrors.Wrap(v, 2).Stack()),
	}
}

var _ error = (*PanicError)(nil)

func (pe *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", pe.value)
}

func (pe *PanicError) Stacktrace() string {
	return pe.stacktrace
}
