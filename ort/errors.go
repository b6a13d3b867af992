package ort

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned by calls that need a loaded ONNX Runtime library.
var ErrNotInitialized = errors.New("ONNX Runtime not initialized")

// Error is a failure reported by ONNX Runtime through an OrtStatus.
// Code and Message are copied from the status before it is released.
type Error struct {
	Op      string
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("failed to %s (%s)", e.Op, e.Code)
	}
	return fmt.Sprintf("failed to %s: %s (%s)", e.Op, e.Message, e.Code)
}

// IsErrorCode reports whether err wraps an ONNX Runtime *Error carrying code.
func IsErrorCode(err error, code ErrorCode) bool {
	var ortErr *Error
	if !errors.As(err, &ortErr) {
		return false
	}
	return ortErr.Code == code
}

// statusError converts a non-null OrtStatus into *Error and releases it.
func statusError(op string, status uintptr) error {
	if status == 0 {
		return nil
	}
	err := &Error{
		Op:      op,
		Code:    getErrorCode(status),
		Message: getErrorMessage(status),
	}
	releaseStatus(status)
	return err
}

func getErrorCode(status uintptr) ErrorCode {
	if status == 0 {
		return ErrorCodeOK
	}

	mu.Lock()
	fn := getErrorCodeFunc
	mu.Unlock()
	if fn == nil {
		return ErrorCodeFail
	}
	return ErrorCode(fn(status))
}

func getErrorMessage(status uintptr) string {
	if status == 0 {
		return ""
	}

	mu.Lock()
	fn := getErrorMessageFunc
	mu.Unlock()
	if fn == nil {
		return ""
	}
	return CstringToGo(fn(status))
}

func releaseStatus(status uintptr) {
	if status == 0 {
		return
	}

	mu.Lock()
	fn := releaseStatusFunc
	mu.Unlock()
	if fn != nil {
		fn(status)
	}
}
