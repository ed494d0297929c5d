// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrMissingField        = errors.New("missing required field")
	ErrBadCandleCount      = errors.New("candle count out of range")
	ErrBadFieldType        = errors.New("field has wrong type")
	ErrBadEnum             = errors.New("field value not allowed")
	ErrGeomLow             = errors.New("low above body")
	ErrGeomHigh            = errors.New("high below body")
	ErrGeomRange           = errors.New("high below low")
	ErrDuplicateItem       = errors.New("duplicate item")
	ErrExternalUnavailable = errors.New("external generator unavailable")
	ErrInvalidJSON         = errors.New("invalid json payload")
	ErrMissingAPIKey       = errors.New("missing api key")
	ErrPoolExhausted       = errors.New("variant pool exhausted")
	ErrUnknownPattern      = errors.New("unknown pattern")
	ErrPullInProgress      = errors.New("pull already in progress")
	ErrNoSession           = errors.New("no active session")
	ErrConfigInvalid       = errors.New("invalid configuration")
)

// Schema error codes.
const (
	CodeMissingField   = "MISSING_FIELD"
	CodeBadCandleCount = "BAD_CANDLE_COUNT"
	CodeBadFieldType   = "BAD_FIELD_TYPE"
	CodeBadEnum        = "BAD_ENUM"
)

// SchemaError represents a structural problem with an item.
type SchemaError struct {
	Code  string
	Field string
	Index int // candle index, -1 when not candle-specific
}

func (e *SchemaError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("schema error [%s]: %s (candle %d)", e.Code, e.Field, e.Index)
	}
	return fmt.Sprintf("schema error [%s]: %s", e.Code, e.Field)
}

func (e *SchemaError) Unwrap() error {
	switch e.Code {
	case CodeMissingField:
		return ErrMissingField
	case CodeBadCandleCount:
		return ErrBadCandleCount
	case CodeBadFieldType:
		return ErrBadFieldType
	case CodeBadEnum:
		return ErrBadEnum
	}
	return nil
}

// MissingField creates a SchemaError for an absent required field.
func MissingField(name string) *SchemaError {
	return &SchemaError{Code: CodeMissingField, Field: name, Index: -1}
}

// BadCandleCount creates a SchemaError for a candle slice of the wrong size.
func BadCandleCount(n int) *SchemaError {
	return &SchemaError{Code: CodeBadCandleCount, Field: fmt.Sprintf("candles[%d]", n), Index: -1}
}

// BadFieldType creates a SchemaError for a non-numeric candle field.
func BadFieldType(field string, index int) *SchemaError {
	return &SchemaError{Code: CodeBadFieldType, Field: field, Index: index}
}

// BadEnum creates a SchemaError for a value outside its enum.
func BadEnum(field string) *SchemaError {
	return &SchemaError{Code: CodeBadEnum, Field: field, Index: -1}
}

// Geometry error codes.
const (
	CodeGeomLow   = "GEOM_LOW"
	CodeGeomHigh  = "GEOM_HIGH"
	CodeGeomRange = "GEOM_RANGE"
)

// GeometryError represents an invalid OHLC ordering.
type GeometryError struct {
	Code  string
	Index int
	O     float64
	H     float64
	L     float64
	C     float64
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry error [%s] candle %d: o=%.3f h=%.3f l=%.3f c=%.3f", e.Code, e.Index, e.O, e.H, e.L, e.C)
}

func (e *GeometryError) Unwrap() error {
	switch e.Code {
	case CodeGeomLow:
		return ErrGeomLow
	case CodeGeomHigh:
		return ErrGeomHigh
	case CodeGeomRange:
		return ErrGeomRange
	}
	return nil
}

// NewGeometryError creates a new GeometryError.
func NewGeometryError(code string, index int, o, h, l, c float64) *GeometryError {
	return &GeometryError{Code: code, Index: index, O: o, H: h, L: l, C: c}
}

// ExternalError represents a failed call to the external generator.
// It always matches ErrExternalUnavailable; Err carries the cause.
type ExternalError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("external error [%s] after %d attempt(s): %v", e.Operation, e.Attempts, e.Err)
}

func (e *ExternalError) Unwrap() []error {
	return []error{ErrExternalUnavailable, e.Err}
}

// NewExternalError creates a new ExternalError.
func NewExternalError(operation string, attempts int, err error) *ExternalError {
	return &ExternalError{
		Operation: operation,
		Attempts:  attempts,
		Err:       err,
	}
}

// HTTPStatusError is returned when the external service answers with a non-2xx status.
type HTTPStatusError struct {
	Status  int
	Message string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
