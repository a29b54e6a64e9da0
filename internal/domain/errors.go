package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition marks a rejected state change; state is left unchanged.
	ErrInvalidTransition = errors.New("invalid transition")
)

// ValidationError reports a missing or malformed field on creation.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s %s", e.Entity, e.Field, e.Reason)
}

func invalid(entity, field, reason string) error {
	return &ValidationError{Entity: entity, Field: field, Reason: reason}
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot transition from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// MissingEvidenceError is raised when an action needs a field the alert evidence lacks.
type MissingEvidenceError struct {
	Field string
}

func (e *MissingEvidenceError) Error() string {
	return fmt.Sprintf("No %s found", strings.ReplaceAll(e.Field, "_", " "))
}

// ExternalCallError wraps a failure of a remediation call.
type ExternalCallError struct {
	Operation string
	Err       error
}

func (e *ExternalCallError) Error() string {
	if e.Err == nil {
		return e.Operation + " failed"
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ExternalCallError) Unwrap() error { return e.Err }
