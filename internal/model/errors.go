package model

import (
	"errors"
	"fmt"
)

// ParseError rejects a statement import. Nothing is persisted.
type ParseError struct {
	Format string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Format == "" {
		return "parse statement: " + e.Reason
	}
	return fmt.Sprintf("parse %s statement: %s", e.Format, e.Reason)
}

// ConflictError rejects an operation that would violate finality or run exclusivity.
// State is unchanged when it is returned.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: %s", e.Resource, e.ID, e.Reason)
}

// ValidationError rejects invalid input before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a missing record.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// IsConflict reports whether err wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
