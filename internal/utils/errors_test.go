package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Message: "test error message",
	}

	assert.Equal(t, "test error message", err.Error())
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("validation failed")

	assert.Error(t, err)
	assert.Equal(t, "validation failed", err.Error())

	// Check that it's the correct type
	validationErr, ok := err.(*ValidationError)
	assert.True(t, ok)
	assert.Equal(t, "validation failed", validationErr.Message)
}

func TestNewValidationErrorf(t *testing.T) {
	err := NewValidationErrorf("validation failed for field %s with value %d", "age", 150)

	assert.Error(t, err)
	assert.Equal(t, "validation failed for field age with value 150", err.Error())

	// Check that it's the correct type
	validationErr, ok := err.(*ValidationError)
	assert.True(t, ok)
	assert.Equal(t, "validation failed for field age with value 150", validationErr.Message)
}

func TestValidationError_Struct(t *testing.T) {
	err := ValidationError{
		Message: "struct test",
	}

	assert.Equal(t, "struct test", err.Message)
	assert.Equal(t, "struct test", err.Error())
}

func TestNewInsufficientDataError(t *testing.T) {
	err := NewInsufficientDataError("revenue points", 14, 5)

	assert.Error(t, err)
	assert.Equal(t, "insufficient data: need at least 14 revenue points, got 5", err.Error())

	var insufficientErr *InsufficientDataError
	assert.True(t, errors.As(err, &insufficientErr))
	assert.Equal(t, 14, insufficientErr.Need)
	assert.Equal(t, 5, insufficientErr.Got)
	assert.Equal(t, "revenue points", insufficientErr.What)
}

func TestInsufficientDataError_Wrapped(t *testing.T) {
	inner := NewInsufficientDataError("customers", 80, 5)
	wrapped := fmt.Errorf("segmentation failed: %w", inner)

	var insufficientErr *InsufficientDataError
	assert.True(t, errors.As(wrapped, &insufficientErr))
	assert.Equal(t, 80, insufficientErr.Need)
}

func TestNewUnsupportedQueryTypeError(t *testing.T) {
	err := NewUnsupportedQueryTypeError("make me a sandwich")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported query type")
	assert.Contains(t, err.Error(), "make me a sandwich")

	var unsupportedErr *UnsupportedQueryTypeError
	assert.True(t, errors.As(err, &unsupportedErr))
	assert.Equal(t, "make me a sandwich", unsupportedErr.Raw)
}

func TestNewUnsafeQueryError(t *testing.T) {
	err := NewUnsafeQueryError("forbidden keyword DROP")

	assert.Error(t, err)
	assert.Equal(t, "unsafe query rejected: forbidden keyword DROP", err.Error())

	var unsafeErr *UnsafeQueryError
	assert.True(t, errors.As(err, &unsafeErr))
	assert.Equal(t, "forbidden keyword DROP", unsafeErr.Reason)
}
