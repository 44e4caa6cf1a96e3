package utils

import "fmt"

// ValidationError represents an error occurring during data validation.
type ValidationError struct {
	Message string
}

// Error returns the error message string.
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError with a specific message.
//
// Parameters:
//   - message: The validation error message.
//
// Returns:
//   - An error interface wrapping the ValidationError.
func NewValidationError(message string) error {
	return &ValidationError{
		Message: message,
	}
}

// NewValidationErrorf creates a new ValidationError with a formatted message.
//
// Parameters:
//   - format: The format string.
//   - args: Arguments for the format string.
//
// Returns:
//   - An error interface wrapping the ValidationError.
func NewValidationErrorf(format string, args ...interface{}) error {
	return &ValidationError{
		Message: fmt.Sprintf(format, args...),
	}
}

// InsufficientDataError indicates an analytics operation received fewer
// data points than its model requires.
type InsufficientDataError struct {
	What string
	Need int
	Got  int
}

// Error returns the error message string.
func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: need at least %d %s, got %d", e.Need, e.What, e.Got)
}

// NewInsufficientDataError creates an InsufficientDataError for the given
// data kind and counts.
func NewInsufficientDataError(what string, need, got int) error {
	return &InsufficientDataError{What: what, Need: need, Got: got}
}

// UnsupportedQueryTypeError indicates a natural-language query could not
// be mapped to any known query type.
type UnsupportedQueryTypeError struct {
	Raw string
}

// Error returns the error message string.
func (e *UnsupportedQueryTypeError) Error() string {
	return fmt.Sprintf("unsupported query type for input: %q", e.Raw)
}

// NewUnsupportedQueryTypeError creates an UnsupportedQueryTypeError for
// the raw query text.
func NewUnsupportedQueryTypeError(raw string) error {
	return &UnsupportedQueryTypeError{Raw: raw}
}

// UnsafeQueryError indicates generated or submitted SQL failed safety
// screening and must not be executed.
type UnsafeQueryError struct {
	Reason string
}

// Error returns the error message string.
func (e *UnsafeQueryError) Error() string {
	return fmt.Sprintf("unsafe query rejected: %s", e.Reason)
}

// NewUnsafeQueryError creates an UnsafeQueryError with the rejection reason.
func NewUnsafeQueryError(reason string) error {
	return &UnsafeQueryError{Reason: reason}
}
