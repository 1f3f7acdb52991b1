package procgraph

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no process version (or metadata record) exists for a key.
	ErrNotFound = errors.New("procgraph: not found")

	// ErrConflict is returned when the stored revision differs from the one the caller edited.
	ErrConflict = errors.New("procgraph: revision conflict")

	// ErrAlreadyExists is returned when creating a version whose key is taken.
	ErrAlreadyExists = errors.New("procgraph: version already exists")

	// ErrInvalidGraph is returned when a graph breaks a structural invariant.
	ErrInvalidGraph = errors.New("procgraph: invalid graph")
)

// ConflictError carries the revisions that failed to match.
type ConflictError struct {
	Key      VersionKey
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("procgraph: revision conflict on %s: expected %d, stored %d", e.Key, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// StorageError wraps a failure reported by a store.
type StorageError struct {
	Op  string // Store call that failed, e.g. "Get" or "Put"
	Key VersionKey
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("procgraph: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IntegrityError describes the first structural invariant a graph breaks.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return "procgraph: invalid graph: " + e.Reason
}

func (e *IntegrityError) Unwrap() error {
	return ErrInvalidGraph
}

// IsNotFound reports whether err indicates a missing version.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err indicates a revision conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsStorageError reports whether err came from a failing store.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
