package application

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a resource with the same identity exists.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrBookingOverlap is returned when another active reservation of the room
	// intersects the requested interval.
	ErrBookingOverlap = errors.New("application: booking overlap")
	// ErrInvalidTimeRange is returned for empty, inverted or implausible intervals.
	ErrInvalidTimeRange = errors.New("application: invalid time range")
	// ErrServiceUnavailable is returned for transient store failures. Callers may retry.
	ErrServiceUnavailable = errors.New("application: service unavailable")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// NewValidationError builds a ValidationError from field messages. It is used
// by transports that decode validation failures back into the application
// taxonomy.
func NewValidationError(fieldErrors map[string]string) *ValidationError {
	vErr := &ValidationError{}
	for field, msg := range fieldErrors {
		vErr.add(field, msg)
	}
	return vErr
}
