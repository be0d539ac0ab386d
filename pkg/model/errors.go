package model

import (
	"errors"
	"fmt"
)

// ErrNoMemory is returned when the page allocator cannot back a new thread.
var ErrNoMemory = errors.New("out of memory")

// ErrPoweredOff is returned when the simulated machine stops before the
// workload finishes (tick budget exhausted with nothing left to run).
var ErrPoweredOff = errors.New("machine powered off")

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrConflict   ErrorCode = "CONFLICT"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// InvalidTransitionError is returned when a state transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}

// KernelPanic is the value the kernel panics with when an invariant is
// violated. Continuing would corrupt scheduler state, so the kernel halts.
type KernelPanic struct {
	Op    string
	Msg   string
	Cause error
}

func (p *KernelPanic) Error() string {
	if p.Cause != nil {
		return fmt.Sprintf("kernel panic in %s: %s: %v", p.Op, p.Msg, p.Cause)
	}
	return fmt.Sprintf("kernel panic in %s: %s", p.Op, p.Msg)
}

func (p *KernelPanic) Unwrap() error {
	return p.Cause
}

// AsKernelPanic extracts a *KernelPanic from a recovered panic value.
func AsKernelPanic(v any) (*KernelPanic, bool) {
	switch p := v.(type) {
	case *KernelPanic:
		return p, true
	case error:
		var kp *KernelPanic
		if errors.As(p, &kp) {
			return kp, true
		}
	}
	return nil, false
}
