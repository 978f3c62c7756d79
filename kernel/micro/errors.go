package micro

import (
	"errors"
	"fmt"
)

// Return codes of kernel services. RC_OK is reported as a nil error.
const (
	ErrCodeFail          = "RC_FAIL"
	ErrCodeTime          = "RC_TIME"
	ErrCodeAlignment     = "RC_ALIGNMENT"
	ErrCodePermission    = "RC_PERM"
	ErrCodeInvalidState  = "RC_STATE"
	ErrCodeBusy          = "RC_BUSY"
	ErrCodeAborted       = "RC_ABORTED"
	ErrCodeShutdown      = "RC_SHUTDOWN"
	ErrCodeQueueOverflow = "RC_QUEUE_OVERFLOW"
	ErrCodeFatal         = "RC_FATAL"
)

// KernelError is the error type returned by kernel services.
type KernelError struct {
	Code    string                 // Return code for programmatic handling
	Message string                 // Human-readable message
	Context map[string]interface{} // Additional context
	Cause   error                  // Underlying error
}

// Error implements the error interface
func (e *KernelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *KernelError) Unwrap() error {
	return e.Cause
}

// Is matches any KernelError carrying the same code, so callers can test
// errors.Is(err, micro.ErrTime).
func (e *KernelError) Is(target error) bool {
	var ke *KernelError
	if !errors.As(target, &ke) {
		return false
	}
	return ke.Code == e.Code
}

// WithContext adds context to the error
func (e *KernelError) WithContext(key string, value interface{}) *KernelError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewKernelError creates a new kernel error
func NewKernelError(code, message string) *KernelError {
	return &KernelError{Code: code, Message: message}
}

// WrapKernelError wraps an existing error with a return code
func WrapKernelError(code, message string, cause error) *KernelError {
	return &KernelError{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is.
var (
	ErrFail          = NewKernelError(ErrCodeFail, "operation failed")
	ErrTime          = NewKernelError(ErrCodeTime, "timed out")
	ErrAlignment     = NewKernelError(ErrCodeAlignment, "size is not a multiple of the element unit")
	ErrPermission    = NewKernelError(ErrCodePermission, "caller does not own the object")
	ErrInvalidState  = NewKernelError(ErrCodeInvalidState, "object is in the wrong state")
	ErrBusy          = NewKernelError(ErrCodeBusy, "object is in use")
	ErrAborted       = NewKernelError(ErrCodeAborted, "task aborted")
	ErrShutdown      = NewKernelError(ErrCodeShutdown, "kernel is not running")
	ErrQueueOverflow = NewKernelError(ErrCodeQueueOverflow, "command queue overflow")
	ErrFatal         = NewKernelError(ErrCodeFatal, "fatal kernel error")
)

// Code maps an error returned by a kernel service onto the return code
// vocabulary. A nil error is "RC_OK"; foreign errors are "RC_FAIL".
func Code(err error) string {
	if err == nil {
		return "RC_OK"
	}
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Code
	}
	return ErrCodeFail
}

func errFail(msg string) *KernelError { return NewKernelError(ErrCodeFail, msg) }

func errTimeout(op string, ticks Ticks) *KernelError {
	return NewKernelError(ErrCodeTime, "operation timed out").
		WithContext("operation", op).
		WithContext("ticks", int32(ticks))
}

func errPermission(op string, caller TaskID) *KernelError {
	return NewKernelError(ErrCodePermission, "caller does not own the object").
		WithContext("operation", op).
		WithContext("caller", uint16(caller))
}

func errInvalidState(msg string) *KernelError { return NewKernelError(ErrCodeInvalidState, msg) }

func errUnknownObject(kind string, id int) *KernelError {
	return NewKernelError(ErrCodeFail, "unknown object").
		WithContext("kind", kind).
		WithContext("id", id)
}

// FatalError describes an unrecoverable kernel condition handed to the
// fatal handler.
type FatalError struct {
	Reason string
	Task   TaskID
	Cause  error
}

func (e *FatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("kernel fatal: %s (task %d): %v", e.Reason, e.Task, e.Cause)
	}
	return fmt.Sprintf("kernel fatal: %s (task %d)", e.Reason, e.Task)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// Is makes every FatalError match ErrFatal.
func (e *FatalError) Is(target error) bool { return target == ErrFatal }
