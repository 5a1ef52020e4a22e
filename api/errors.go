// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and status mapping for the reactor and its C ABI.

package api

import (
	"errors"
	"fmt"
	"syscall"
)

// Common errors used across the library.
var (
	ErrInvalidContext  = errors.New("invalid or closed reactor context")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidHandle   = errors.New("invalid socket handle")
	ErrNotSupported    = errors.New("operation not supported on this platform")
	ErrRoleConflict    = errors.New("handle already registered with another role")
	ErrPoolHandle      = errors.New("handle is owned by an accept pool")
	ErrAssociate       = errors.New("cannot associate handle with notification facility")
	ErrArmAccept       = errors.New("cannot arm accept slot")
)

// ErrorCode represents specific error conditions in the library.
// Values are the negated integers returned across the C ABI.
type ErrorCode int32

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidContext
	ErrCodeInvalidArgument
	ErrCodeNotSupported
	ErrCodeRoleConflict
	ErrCodeSystem
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf classifies err.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	switch {
	case errors.Is(err, ErrInvalidContext):
		return ErrCodeInvalidContext
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrInvalidHandle), errors.Is(err, ErrPoolHandle):
		return ErrCodeInvalidArgument
	case errors.Is(err, ErrNotSupported):
		return ErrCodeNotSupported
	case errors.Is(err, ErrRoleConflict):
		return ErrCodeRoleConflict
	case errors.Is(err, ErrAssociate), errors.Is(err, ErrArmAccept):
		return ErrCodeSystem
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return ErrCodeSystem
	}
	return ErrCodeInternal
}

// Status converts err into the C ABI status: 0 on success, negative otherwise.
func Status(err error) int32 {
	return -int32(CodeOf(err))
}

// Errno extracts the OS error number carried by err, or 0.
func Errno(err error) int32 {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int32(errno)
	}
	return 0
}
