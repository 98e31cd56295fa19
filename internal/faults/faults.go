// Package faults carries the structured error taxonomy used across every
// core mutator. Nothing in the core throws past its own API: mutators catch
// these at the boundary and return {success:false, error} envelopes, which is
// what lets bulk execution continue past individual failures.
package faults

import (
	"errors"
	"fmt"
)

// Code classifies a failure for callers that branch on kind.
type Code string

const (
	CodeNotFound         Code = "NOT_FOUND"
	CodeUnauthorized     Code = "UNAUTHORIZED" // ownership mismatch
	CodeForbidden        Code = "FORBIDDEN"    // role failure
	CodeInvalidState     Code = "INVALID_STATE"
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeConflict         Code = "ALREADY_PROCESSED"
	CodeInternal         Code = "INTERNAL"
)

// Fault is a coded error with a user-displayable message.
type Fault struct {
	Code    Code
	Message string
	cause   error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %v", f.Message, f.cause)
	}
	return f.Message
}

func (f *Fault) Unwrap() error { return f.cause }

// Is lets errors.Is match any fault carrying the same code.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	return ok && t.Code == f.Code && t.Message == ""
}

// New builds a fault with a formatted message.
func New(code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause while keeping the coded message user-displayable.
func Wrap(err error, code Code, message string) *Fault {
	return &Fault{Code: code, Message: message, cause: err}
}

func NotFound(entity, id string) *Fault {
	return New(CodeNotFound, "%s %s not found", entity, id)
}

func Unauthorized(format string, args ...any) *Fault {
	return New(CodeUnauthorized, format, args...)
}

func Forbidden(format string, args ...any) *Fault {
	return New(CodeForbidden, format, args...)
}

func InvalidState(format string, args ...any) *Fault {
	return New(CodeInvalidState, format, args...)
}

func Validation(format string, args ...any) *Fault {
	return New(CodeValidationFailed, format, args...)
}

func Conflict(format string, args ...any) *Fault {
	return New(CodeConflict, format, args...)
}

// CodeOf extracts the fault code, defaulting to CodeInternal for plain errors.
func CodeOf(err error) Code {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return CodeInternal
}

// Sentinels for errors.Is checks on kind alone.
var (
	ErrNotFound         = &Fault{Code: CodeNotFound}
	ErrUnauthorized     = &Fault{Code: CodeUnauthorized}
	ErrForbidden        = &Fault{Code: CodeForbidden}
	ErrInvalidState     = &Fault{Code: CodeInvalidState}
	ErrValidationFailed = &Fault{Code: CodeValidationFailed}
	ErrConflict         = &Fault{Code: CodeConflict}
)
