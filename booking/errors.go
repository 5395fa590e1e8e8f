package booking

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tradojo/booking/store"
)

var (
	// ErrOwnerNotFound is returned when a travel's owner does not exist.
	ErrOwnerNotFound = errors.New("booking: owner not found")

	// ErrNotFound is returned when the target entity does not exist.
	ErrNotFound = errors.New("booking: not found")

	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("booking: validation failed")

	// ErrStoreUnavailable is returned when the entity store failed or timed out.
	ErrStoreUnavailable = store.ErrUnavailable

	// ErrConflict is returned for a duplicate unique value, or when an entity
	// kept changing underneath an update.
	ErrConflict = errors.New("booking: conflict")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("booking: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ServiceFailure is one service the cascade could not delete.
type ServiceFailure struct {
	ServiceID string
	Err       error
}

// PartialCascadeFailure lists the services that survived their travel's
// deletion. It is carried in DeleteResult and never returned as the
// operation's error.
type PartialCascadeFailure struct {
	TravelID string
	Failures []ServiceFailure
}

func (e *PartialCascadeFailure) Error() string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.ServiceID
	}
	sort.Strings(ids)
	return fmt.Sprintf("booking: travel %s: %d service(s) not deleted: %s",
		e.TravelID, len(e.Failures), strings.Join(ids, ", "))
}

func (e *PartialCascadeFailure) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// notFound maps a store miss onto target, keeping the store error in the chain.
func notFound(err, target error) error {
	if errors.Is(err, store.ErrNotFound) && !errors.Is(err, target) {
		return fmt.Errorf("%w: %w", target, err)
	}
	return err
}

// conflict maps duplicate values and lost compare-and-set races onto ErrConflict.
func conflict(err error) error {
	if (errors.Is(err, store.ErrDuplicateValue) || errors.Is(err, store.ErrConcurrentModification)) &&
		!errors.Is(err, ErrConflict) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}
