package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an evtrack error kind.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION" // 400
	ErrNotFound   ErrorCode = "NOT_FOUND"  // 404
	ErrCycle      ErrorCode = "CYCLE"      // 409
	ErrConflict   ErrorCode = "CONFLICT"   // 409
	ErrBusy       ErrorCode = "BUSY"       // 503
	ErrMigration  ErrorCode = "MIGRATION"  // 500
	ErrIO         ErrorCode = "IO"         // 500
	ErrInternal   ErrorCode = "INTERNAL"   // 500
)

// EvError represents a structured error with code, status, and details.
type EvError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *EvError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *EvError) Unwrap() error {
	return e.Err
}

// NewValidation creates a 400 error for malformed names, keys or values.
func NewValidation(msg string) *EvError {
	return &EvError{
		Code:    ErrValidation,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing folder, event or project.
func NewNotFound(kind string, identifier any) *EvError {
	return &EvError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %v", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewCycle creates a 409 error for a folder move that would create a cycle.
func NewCycle(folderID, parentID int64) *EvError {
	return &EvError{
		Code:    ErrCycle,
		Status:  409,
		Message: fmt.Sprintf("moving folder %d under %d would make it its own ancestor", folderID, parentID),
		Details: map[string]any{"folder_id": folderID, "parent_id": parentID},
	}
}

// NewConflict creates a 409 error for duplicate keys and non-empty deletes.
func NewConflict(msg string) *EvError {
	return &EvError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewBusy creates a 503 error once engine contention outlasted the busy timeout.
func NewBusy(err error) *EvError {
	return &EvError{
		Code:    ErrBusy,
		Status:  503,
		Message: fmt.Sprintf("database busy: %v", err),
		Err:     err,
	}
}

// NewMigration creates a fatal error for a logical database whose schema
// could not be created or migrated.
func NewMigration(database string, fromVersion int, err error) *EvError {
	return &EvError{
		Code:    ErrMigration,
		Status:  500,
		Message: fmt.Sprintf("migration of %s from version %d failed: %v", database, fromVersion, err),
		Details: map[string]any{"database": database, "from_version": fromVersion},
		Err:     err,
	}
}

// NewIO creates a 500 error for unavailable storage.
func NewIO(err error) *EvError {
	msg := "storage unavailable"
	if err != nil {
		msg = err.Error()
	}
	return &EvError{
		Code:    ErrIO,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *EvError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &EvError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// Is checks if err, or any error it wraps, is an EvError with the given code.
func Is(err error, code ErrorCode) bool {
	var evErr *EvError
	if stderrors.As(err, &evErr) {
		return evErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first EvError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var evErr *EvError
	if stderrors.As(err, &evErr) {
		return evErr.Code
	}
	return ErrInternal
}
