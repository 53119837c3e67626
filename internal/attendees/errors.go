package attendees

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when no attendee matches a lookup.
	ErrNotFound = errors.New("attendee not found")
	// ErrUploadsUnavailable is returned when a request carries files but no blob store is configured.
	ErrUploadsUnavailable = errors.New("file uploads are not configured")
	// ErrUnsupportedMediaType is returned for request bodies that are neither JSON nor form data.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	errRequestTooLarge = errors.New("request body too large")
)

// ValidationError reports malformed or missing input, keyed by attribute name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// ConflictError reports a uniqueness violation on Field.
type ConflictError struct {
	Field string
	Err   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("attendee with this %s already exists", e.Field)
}

func (e *ConflictError) Unwrap() error { return e.Err }
