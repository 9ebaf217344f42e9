// Package werrors provides the unified error taxonomy for the WAF core.
package werrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code represents a unique error code
type Code string

const (
	// ErrCodeValidation covers bad admin-surface input: malformed graphs,
	// unknown output labels, overlapping threshold ranges, missing fields.
	ErrCodeValidation Code = "WAF_VALIDATION"
	// ErrCodeTransientStore covers store unavailability or a failed operation.
	ErrCodeTransientStore Code = "WAF_STORE_TRANSIENT"
	// ErrCodeConfigMissing covers dangling profile/signature references.
	ErrCodeConfigMissing Code = "WAF_CONFIG_MISSING"
	// ErrCodeBudgetExceeded covers profile wall-clock overruns.
	ErrCodeBudgetExceeded Code = "WAF_BUDGET_EXCEEDED"
	// ErrCodeCycleDetected covers the defensive traversal cycle check.
	ErrCodeCycleDetected Code = "WAF_CYCLE_DETECTED"
	// ErrCodePatternCompile covers a single pattern failing to compile.
	ErrCodePatternCompile Code = "WAF_PATTERN_COMPILE"
	// ErrCodeProvider covers CAPTCHA/reputation/webhook provider failures.
	ErrCodeProvider Code = "WAF_PROVIDER"
	// ErrCodeInternal covers everything the taxonomy does not name.
	ErrCodeInternal Code = "WAF_INTERNAL"
)

// Error is a structured error with code, message, and HTTP status.
type Error struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new Error
func New(code Code, message string, httpStatus int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with an Error
func Wrap(code Code, message string, httpStatus int, err error) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Validation creates a validation error carrying per-path messages.
func Validation(message string, paths []string) *Error {
	e := New(ErrCodeValidation, message, http.StatusBadRequest)
	if len(paths) > 0 {
		e.WithDetails("paths", paths)
	}
	return e
}

// TransientStore wraps a store failure.
func TransientStore(op string, err error) *Error {
	return Wrap(ErrCodeTransientStore, fmt.Sprintf("store operation %s failed", op), http.StatusServiceUnavailable, err)
}

// ConfigMissing reports a dangling reference of the given kind.
func ConfigMissing(kind, id string) *Error {
	return New(ErrCodeConfigMissing, fmt.Sprintf("%s %q not present in cache", kind, id), http.StatusNotFound).
		WithDetails("kind", kind).
		WithDetails("id", id)
}

// BudgetExceeded reports a profile exceeding its hard execution ceiling.
func BudgetExceeded(profileID string, elapsedMs int64) *Error {
	return New(ErrCodeBudgetExceeded, fmt.Sprintf("profile %s exceeded execution ceiling", profileID), http.StatusInternalServerError).
		WithDetails("profile_id", profileID).
		WithDetails("elapsed_ms", elapsedMs)
}

// CycleDetected reports a revisited node during traversal.
func CycleDetected(profileID, nodeID string) *Error {
	return New(ErrCodeCycleDetected, fmt.Sprintf("cycle detected in profile %s at node %s", profileID, nodeID), http.StatusInternalServerError).
		WithDetails("profile_id", profileID).
		WithDetails("node_id", nodeID)
}

// PatternCompile wraps a single pattern compilation failure.
func PatternCompile(pattern string, err error) *Error {
	return Wrap(ErrCodePatternCompile, fmt.Sprintf("pattern %q failed to compile", pattern), http.StatusBadRequest, err)
}

// Provider wraps an outbound provider failure.
func Provider(name string, err error) *Error {
	return Wrap(ErrCodeProvider, fmt.Sprintf("provider %s call failed", name), http.StatusBadGateway, err)
}

// Internal wraps an unclassified failure.
func Internal(message string, err error) *Error {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// GetCode extracts the Code from any error, defaulting to ErrCodeInternal.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// GetHTTPStatus extracts the HTTP status from any error, defaulting to 500.
func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}
