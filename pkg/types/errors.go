package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorSeverity grades processing errors.
type ErrorSeverity string

const (
	ErrorLow      ErrorSeverity = "low"
	ErrorMedium   ErrorSeverity = "medium"
	ErrorHigh     ErrorSeverity = "high"
	ErrorCritical ErrorSeverity = "critical"
)

// ErrorKind classifies the failure mode.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindExternalAPI ErrorKind = "external-api"
	KindTimeout     ErrorKind = "timeout"
	KindNotFound    ErrorKind = "not-found"
	KindConflict    ErrorKind = "conflict"
	KindUnknown     ErrorKind = "unknown"
)

// Sentinel errors callers branch on.
var (
	ErrMissingService   = errors.New("required service missing")
	ErrSchemaValidation = errors.New("model response failed schema validation")
	ErrEmptySelection   = errors.New("model returned an empty selection")
	ErrNoProcedures     = errors.New("no procedure codes in state")
)

// ProcessingError is the domain error recorded in workflow state.
type ProcessingError struct {
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message"`
	Severity  ErrorSeverity  `json:"severity"`
	Kind      ErrorKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Context   map[string]any `json:"context,omitempty"`

	cause error
}

// NewProcessingError builds a processing error stamped with the current time.
func NewProcessingError(source string, kind ErrorKind, severity ErrorSeverity, message string) *ProcessingError {
	return &ProcessingError{
		Message:   message,
		Severity:  severity,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}
}

// WrapProcessingError builds a processing error around an underlying cause.
func WrapProcessingError(source string, kind ErrorKind, severity ErrorSeverity, message string, cause error) *ProcessingError {
	pe := NewProcessingError(source, kind, severity, message)
	pe.cause = cause
	return pe
}

func (e *ProcessingError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s/%s] %s: %s", e.Source, e.Code, e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Source, e.Severity, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.cause
}

// WithCode sets the machine-readable error code.
func (e *ProcessingError) WithCode(code string) *ProcessingError {
	e.Code = code
	return e
}

// WithContext attaches a context value.
func (e *ProcessingError) WithContext(key string, value any) *ProcessingError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsCritical reports whether err carries critical severity.
func IsCritical(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Severity == ErrorCritical
	}
	return false
}

// IsRetryable is the default retry condition: transient kinds at
// non-critical severity are eligible.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		if pe.Severity == ErrorCritical {
			return false
		}
		return pe.Kind == KindTimeout || pe.Kind == KindExternalAPI
	}
	// Bare errors from transports default to retryable.
	return err != nil
}
