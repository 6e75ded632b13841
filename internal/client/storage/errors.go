package storage

import "errors"

// Common client storage errors
var (
	// ErrEntityNotFound indicates that cached entity was not found or expired
	ErrEntityNotFound = errors.New("cached entity not found")

	// ErrChangeNotFound indicates that pending change was not found
	ErrChangeNotFound = errors.New("pending change not found")

	// ErrConflictNotFound indicates that conflict record was not found
	ErrConflictNotFound = errors.New("conflict record not found")

	// ErrAuthNotFound indicates that no authentication data exists
	ErrAuthNotFound = errors.New("authentication data not found")

	// ErrEntityDeletedLocally indicates a mutation against an entity whose
	// pending change is already a delete
	ErrEntityDeletedLocally = errors.New("entity has a pending delete")
)
