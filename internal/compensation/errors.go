package compensation

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Code is a stable business error code reported to callers.
type Code string

const (
	// CodeNotFound covers absent resources and resources owned by someone
	// else; the two are deliberately indistinguishable.
	CodeNotFound Code = "NOT_FOUND"
	// CodeCancelFail means the order is past the cancellable stage or
	// already cancelled.
	CodeCancelFail Code = "CANCEL_FAIL"
	// CodeInvalidQuantity means the requested quantity is non-positive or
	// exceeds what remains on the line.
	CodeInvalidQuantity Code = "INVALID_QUANTITY"
	// CodeInvalidState means the item or order is in the wrong state for the
	// requested transition.
	CodeInvalidState Code = "INVALID_STATE"
)

// BusinessError is a rejected operation with a stable code. Infrastructure
// failures (lock timeouts, connection errors) are returned as plain wrapped
// errors instead and are retryable by the caller.
type BusinessError struct {
	Code Code
	msg  string
	err  error
}

func (e *BusinessError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

func (e *BusinessError) Unwrap() error { return e.err }

// NewBusinessError builds a BusinessError for callers outside the engine,
// such as read paths mapping store sentinels.
func NewBusinessError(code Code, msg string) *BusinessError {
	return &BusinessError{Code: code, msg: msg}
}

// businessErrf builds a BusinessError with a formatted message.
func businessErrf(code Code, format string, args ...any) *BusinessError {
	return &BusinessError{Code: code, msg: fmt.Sprintf(format, args...)}
}

// businessErr wraps a guard failure from the aggregate under a code.
func businessErr(code Code, err error) *BusinessError {
	return &BusinessError{Code: code, msg: "transition rejected", err: err}
}

// IsCode reports whether err is a BusinessError carrying the given code.
func IsCode(err error, code Code) bool {
	var be *BusinessError
	return errors.As(err, &be) && be.Code == code
}
