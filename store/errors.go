package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a document doesn't exist or is deleted.
	ErrNotFound = errors.New("store: document not found")

	// ErrAlreadyExists is returned when creating a document with an existing ID.
	ErrAlreadyExists = errors.New("store: document already exists")

	// ErrConcurrentModification is returned when an optimistic lock fails (version mismatch).
	ErrConcurrentModification = errors.New("store: document was modified concurrently")

	// ErrDuplicateValue is returned when a unique constraint is violated.
	ErrDuplicateValue = errors.New("store: duplicate value for unique field")

	// ErrUnavailable is returned when the backend cannot be reached or did not
	// answer within the configured timeout.
	ErrUnavailable = errors.New("store: backend unavailable")

	// SkipWrite is returned by a Mutate function to leave the document as it is.
	// Mutate then returns the current value without writing or running hooks.
	SkipWrite = errors.New("store: skip write")
)

// classify maps a backend error onto the store taxonomy. Known sentinels pass
// through; anything else, including deadline expiry, becomes ErrUnavailable.
func classify(op string, kind Kind, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrConcurrentModification),
		errors.Is(err, ErrDuplicateValue),
		errors.Is(err, ErrUnavailable):
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, op, kind, err)
	}
	return fmt.Errorf("%w: %s %s/%s: %w", ErrUnavailable, op, kind, id, err)
}
