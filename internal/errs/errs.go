// Package errs holds the error taxonomy shared by the form, classification,
// merge and resolution packages.
//
// Structural errors (validation, shape conflict, group bound, not found) are
// reported before any storage side effect runs. StorageIOError is fatal for
// writes and only logged for deletions.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed field-path token.
type ValidationError struct {
	Key    string
	Token  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("invalid field %q: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("invalid field %q: token %q %s", e.Key, e.Token, e.Reason)
}

// ShapeConflictError reports a path bound to incompatible value kinds.
type ShapeConflictError struct {
	Path     string
	Existing string
	Incoming string
}

func (e *ShapeConflictError) Error() string {
	return fmt.Sprintf("shape conflict at %q: already bound as %s, cannot bind as %s", e.Path, e.Existing, e.Incoming)
}

// TooManyIndexedGroupsError reports an indexed file group beyond the configured bound.
type TooManyIndexedGroupsError struct {
	Field     string
	GroupType string
	Index     int
	Max       int
}

func (e *TooManyIndexedGroupsError) Error() string {
	return fmt.Sprintf("file field %q: group %s index %d exceeds the limit of %d indexed groups", e.Field, e.GroupType, e.Index, e.Max)
}

// NotFoundError reports a reference that matched no attachment slot.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return "attachment not found: " + e.What
}

// StorageIOError wraps a failure talking to durable storage.
type StorageIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageIOError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *StorageIOError) Unwrap() error { return e.Err }

// IsStructural reports whether err belongs to the request-shape family that
// must abort an operation before any persistence side effect.
func IsStructural(err error) bool {
	var (
		ve *ValidationError
		se *ShapeConflictError
		te *TooManyIndexedGroupsError
		ne *NotFoundError
	)
	return errors.As(err, &ve) || errors.As(err, &se) || errors.As(err, &te) || errors.As(err, &ne)
}
