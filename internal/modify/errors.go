package modify

import (
	"errors"
	"fmt"
)

// ErrAlreadyProcessed is returned by a second call to Op.Process.
var ErrAlreadyProcessed = errors.New("modify operation already processed")

// Reason classifies a policy failure.
type Reason string

const (
	ReasonNotExists       Reason = "not_exists"
	ReasonExists          Reason = "exists"
	ReasonMergeConflict   Reason = "merge_conflict"
	ReasonVersionConflict Reason = "version_conflict"
)

// Error is a policy-level failure of one entry. In a transactional operation it
// aborts Process; otherwise it is recorded on the entry.
type Error struct {
	Position int
	ID       string
	Reason   Reason
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// VersionConflictError reports a caller presenting a version that is not the
// stored one.
type VersionConflictError struct {
	ID        string
	Presented int64
	Stored    int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("the record with id %q cannot be modified: version %d does not match the stored version %d",
		e.ID, e.Presented, e.Stored)
}

// ValidationError reports input that is rejected before any entry is processed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsPolicyError reports whether err is or wraps an *Error.
func IsPolicyError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// IsVersionConflict reports whether err is or wraps a *VersionConflictError.
func IsVersionConflict(err error) bool {
	var e *VersionConflictError
	return errors.As(err, &e)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}
