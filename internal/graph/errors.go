package graph

import "fmt"

// ValidationError rejects malformed store input before any mutation happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// RecoverableExtractionError marks a single-entry failure of the AI service
// (timeout, malformed payload, transient upstream error). The batch skips the
// entry and continues.
type RecoverableExtractionError struct {
	EntryID string
	Op      string
	Err     error
}

func (e *RecoverableExtractionError) Error() string {
	if e.EntryID == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed for entry %s: %v", e.Op, e.EntryID, e.Err)
}

func (e *RecoverableExtractionError) Unwrap() error {
	return e.Err
}

// FatalConfigurationError means no further AI call can succeed (missing or
// rejected credentials, unknown provider). It aborts the whole batch.
type FatalConfigurationError struct {
	Reason string
	Err    error
}

func (e *FatalConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *FatalConfigurationError) Unwrap() error {
	return e.Err
}

// UnresolvedReferenceError is raised internally when a discovery candidate
// names an entity value that is not in the store. It is logged and dropped.
type UnresolvedReferenceError struct {
	EntryID string
	Value   string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("entry %s: no entity matches %q", e.EntryID, e.Value)
}
