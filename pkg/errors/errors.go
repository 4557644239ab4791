package errors

import (
	"errors"
	"fmt"
)

// Re-exported so callers don't need both this package and the stdlib one.
var (
	As = errors.As
	Is = errors.Is
)

// ErrorType classifies failures so retry and alerting policy can key on it.
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeCircuitOpen ErrorType = "circuit_open"
	ErrorTypeEvasion     ErrorType = "evasion"
	ErrorTypePersistence ErrorType = "persistence"
	ErrorTypeScan        ErrorType = "scan"
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Severity ranks how loudly a failure should be reported.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error is a typed failure with enough context to drive retry, breaker,
// and alerting decisions.
type Error struct {
	Type       ErrorType
	Severity   Severity
	Op         string
	Message    string
	Err        error
	Context    map[string]string
	RetryCount int
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s error: %s", e.Op, e.Type, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error.
func New(t ErrorType, severity Severity, op, message string) *Error {
	return &Error{Type: t, Severity: severity, Op: op, Message: message}
}

// Wrap creates a typed error wrapping a cause.
func Wrap(err error, t ErrorType, severity Severity, op, message string) *Error {
	return &Error{Type: t, Severity: severity, Op: op, Message: message, Err: err}
}

// WithContext attaches a key/value pair and returns the error for chaining.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// TypeOf extracts the ErrorType from an error chain, defaulting to unknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// SeverityOf extracts the Severity from an error chain, defaulting to medium.
func SeverityOf(err error) Severity {
	var e *Error
	if errors.As(err, &e) {
		return e.Severity
	}
	return SeverityMedium
}

// IsRetryable reports whether an error type is worth retrying. Auth
// failures surface as status, circuit-open means the guard already
// decided, and persistence corruption is handled by re-authentication,
// so none of those retry.
func IsRetryable(t ErrorType) bool {
	switch t {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeScan:
		return true
	case ErrorTypeAuth, ErrorTypeCircuitOpen, ErrorTypeEvasion,
		ErrorTypePersistence, ErrorTypeValidation:
		return false
	default:
		return false
	}
}

// IsCircuitOpen reports whether the error chain contains a circuit-open
// fast failure.
func IsCircuitOpen(err error) bool {
	return TypeOf(err) == ErrorTypeCircuitOpen
}
