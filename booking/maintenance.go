package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/tradojo/booking/store"
)

// Reconcile rebuilds ownerID's travels from the travels that name it as
// owner. It repairs lists left inconsistent by an interrupted write.
func (e *Engine) Reconcile(ctx context.Context, ownerID string) (added, removed int, err error) {
	live, err := e.travels.Find(ctx, store.By(IndexOwner, ownerID), nil)
	if err != nil {
		return 0, 0, err
	}
	ids := make([]string, len(live))
	for i, t := range live {
		ids[i] = t.ID
	}
	added, removed, err = e.owner.Reconcile(ctx, ownerID, ids)
	if err != nil {
		return 0, 0, err
	}
	if added > 0 || removed > 0 {
		e.logger.Info("owner travels reconciled", "owner", ownerID, "added", added, "removed", removed)
	}
	return added, removed, nil
}

// SweepOrphans deletes the children of a removed parent through every
// cascading relationship of kind. It does nothing while the parent exists.
// It returns the number of children deleted.
func (e *Engine) SweepOrphans(ctx context.Context, kind store.Kind, parentID string) (int, error) {
	parent, ok := e.kinds[kind]
	if !ok {
		return 0, fmt.Errorf("booking: sweep: unknown kind %q", kind)
	}
	err := parent.exists(ctx, parentID)
	if err == nil {
		return 0, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}

	swept := 0
	var errs []error
	for _, rel := range e.registry.CascadesFrom(kind) {
		child := e.kinds[rel.ChildKind]
		ids, err := child.findIDs(ctx, rel.ParentIndex, parentID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, id := range ids {
			err := child.delete(ctx, id)
			switch {
			case e.committed("delete", rel.ChildKind, id, err):
				swept++
			case errors.Is(err, store.ErrNotFound):
			default:
				errs = append(errs, err)
			}
		}
	}
	if swept > 0 {
		e.logger.Info("orphans swept", "kind", kind, "parent", parentID, "deleted", swept)
	}
	return swept, errors.Join(errs...)
}

// UnlinkChild removes a deleted child from its parent's list. It does
// nothing while the child exists or when the parent is gone.
func (e *Engine) UnlinkChild(ctx context.Context, childKind store.Kind, childID, parentID string) error {
	child, ok := e.kinds[childKind]
	if !ok {
		return fmt.Errorf("booking: unlink: unknown kind %q", childKind)
	}
	err := child.exists(ctx, childID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	switch childKind {
	case KindTravel:
		err = e.owner.DetachID(ctx, parentID, childID)
	case KindService:
		err = e.parent.DetachID(ctx, parentID, childID)
	default:
		return nil
	}
	if errors.Is(err, ErrOwnerNotFound) || errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
