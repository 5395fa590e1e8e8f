package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/tradojo/booking/store"
)

// Link keeps a parent's list of child ids in step with the children's
// reference to the parent. The parent list is treated as a set keyed by id.
// Every change is a compare-and-set on the parent's version, so concurrent
// attaches to the same parent never lose each other's entries.
type Link[P, C store.Entity] struct {
	name     string
	parents  *store.Collection[P]
	parentOf func(C) string
	refs     func(*P) *[]string
	missing  error
}

// NewLink creates a link. parentOf returns the parent id a child points at;
// refs returns the parent's child id list; missing is the error reported
// when the parent does not exist.
func NewLink[P, C store.Entity](name string, parents *store.Collection[P], parentOf func(C) string, refs func(*P) *[]string, missing error) *Link[P, C] {
	return &Link[P, C]{
		name:     name,
		parents:  parents,
		parentOf: parentOf,
		refs:     refs,
		missing:  missing,
	}
}

// Name returns the link's name.
func (l *Link[P, C]) Name() string {
	return l.name
}

// Attach adds child to its parent's list. It fails with the link's missing
// error when the parent does not exist and writes nothing when the child is
// already listed.
func (l *Link[P, C]) Attach(ctx context.Context, child C) error {
	parentID := l.parentOf(child)
	id := child.EntityID()
	_, err := l.parents.Mutate(ctx, parentID, func(p *P) error {
		set := l.refs(p)
		if slices.Contains(*set, id) {
			return store.SkipWrite
		}
		*set = append(*set, id)
		return nil
	})
	return l.wrap("attach", parentID, id, err)
}

// Detach removes every occurrence of child from its parent's list.
func (l *Link[P, C]) Detach(ctx context.Context, child C) error {
	return l.DetachID(ctx, l.parentOf(child), child.EntityID())
}

// DetachID removes childID from parentID's list.
func (l *Link[P, C]) DetachID(ctx context.Context, parentID, childID string) error {
	_, err := l.parents.Mutate(ctx, parentID, func(p *P) error {
		set := l.refs(p)
		if !slices.Contains(*set, childID) {
			return store.SkipWrite
		}
		*set = slices.DeleteFunc(*set, func(id string) bool { return id == childID })
		return nil
	})
	return l.wrap("detach", parentID, childID, err)
}

// Reconcile rewrites parentID's list to exactly the ids in live, keeping the
// existing order for ids that stay. It returns how many ids were added and
// removed.
func (l *Link[P, C]) Reconcile(ctx context.Context, parentID string, live []string) (added, removed int, err error) {
	_, err = l.parents.Mutate(ctx, parentID, func(p *P) error {
		added, removed = 0, 0
		set := l.refs(p)
		want := make(map[string]bool, len(live))
		for _, id := range live {
			want[id] = true
		}

		seen := make(map[string]bool, len(*set))
		next := make([]string, 0, len(live))
		for _, id := range *set {
			if !want[id] || seen[id] {
				removed++
				continue
			}
			seen[id] = true
			next = append(next, id)
		}
		for _, id := range live {
			if !seen[id] {
				seen[id] = true
				next = append(next, id)
				added++
			}
		}
		if added == 0 && removed == 0 {
			return store.SkipWrite
		}
		*set = next
		return nil
	})
	return added, removed, l.wrap("reconcile", parentID, "", err)
}

func (l *Link[P, C]) wrap(op, parentID, childID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s %s %s: %w", l.missing, l.name, op, parentID, err)
	}
	err = conflict(err)
	if childID == "" {
		return fmt.Errorf("%s %s %s: %w", l.name, op, parentID, err)
	}
	return fmt.Errorf("%s %s %s <- %s: %w", l.name, op, parentID, childID, err)
}
