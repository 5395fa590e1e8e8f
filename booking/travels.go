package booking

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/tradojo/booking/store"
)

// DeleteResult reports the side effects of DeleteTravel.
type DeleteResult struct {
	ServicesDeleted int
	ServicesFailed  int

	// Cascade lists the services that could not be deleted, or is nil.
	Cascade *PartialCascadeFailure

	// OwnerUnlink is set when the owner could not be found to drop the
	// travel from its list. The travel is deleted regardless.
	OwnerUnlink error
}

// CreateTravel creates a travel owned by ownerID and adds it to the owner's
// travels. Nothing is written when the owner does not exist.
func (e *Engine) CreateTravel(ctx context.Context, ownerID string, f TravelFields) (string, error) {
	t := Travel{
		ID:       e.newID(),
		Name:     f.Name,
		Location: f.Location,
		Date:     f.Date,
		Comments: f.Comments,
		Owner:    ownerID,
		Services: []string{},
	}
	created, err := e.travels.Create(ctx, t)
	if e.committed("create", KindTravel, t.ID, err) {
		e.logger.Info("travel created", "travel", created.ID, "owner", ownerID)
		return created.ID, nil
	}
	if !isBeforeHookError(err) {
		release(ctx, e.logger, e.travels, e.owner, t)
	}
	return "", conflict(err)
}

// GetTravel returns one travel.
func (e *Engine) GetTravel(ctx context.Context, travelID string) (Travel, error) {
	t, err := e.travels.Get(ctx, travelID)
	return t, notFound(err, ErrNotFound)
}

// UpdateTravel applies patch to a travel. The owner cannot change.
func (e *Engine) UpdateTravel(ctx context.Context, travelID string, patch TravelPatch) error {
	_, err := e.travels.Mutate(ctx, travelID, func(t *Travel) error {
		if err := patch.validate(*t); err != nil {
			return err
		}
		patch.apply(t)
		return nil
	})
	if e.committed("update", KindTravel, travelID, err) {
		return nil
	}
	return conflict(notFound(err, ErrNotFound))
}

// DeleteTravel deletes a travel, removes it from its owner's travels and
// deletes its services. Service failures and a missing owner are reported in
// the result; the call succeeds once the travel itself is gone.
func (e *Engine) DeleteTravel(ctx context.Context, travelID string) (DeleteResult, error) {
	outcome, err := e.travels.Delete(ctx, travelID)
	if !e.committed("delete", KindTravel, travelID, err) {
		if !isBeforeHookError(err) {
			relink(ctx, e.logger, e.travels, e.owner, travelID)
		}
		return DeleteResult{}, conflict(notFound(err, ErrNotFound))
	}

	res := DeleteResult{
		ServicesDeleted: outcome.Count(counterServicesDeleted),
		ServicesFailed:  outcome.Count(counterServicesFailed),
		Cascade:         cascadeFailure(outcome),
		OwnerUnlink:     ownerUnlinkErr(outcome),
	}
	e.logger.Info("travel deleted",
		"travel", travelID,
		"services_deleted", res.ServicesDeleted,
		"services_failed", res.ServicesFailed,
		"owner_unlinked", res.OwnerUnlink == nil,
	)
	return res, nil
}

// ListTravelsForOwner returns the live travels of ownerID in the order the
// owner lists them.
func (e *Engine) ListTravelsForOwner(ctx context.Context, ownerID string) ([]Travel, error) {
	owner, err := e.users.Get(ctx, ownerID)
	if err != nil {
		return nil, notFound(err, ErrOwnerNotFound)
	}

	var gen int64
	cacheable := false
	if e.cache != nil {
		cached, ok, err := e.cache.OwnerTravels(ctx, ownerID)
		switch {
		case err != nil:
			e.logger.Warn("travel cache read failed", "owner", ownerID, "error", err)
		case ok:
			return cached, nil
		}
		if gen, err = e.cache.Generation(ctx, ownerID); err != nil {
			e.logger.Warn("travel cache generation read failed", "owner", ownerID, "error", err)
		} else {
			cacheable = true
		}
	}

	travels, err := e.travels.Find(ctx, store.By(IndexOwner, ownerID), nil)
	if err != nil {
		return nil, err
	}
	inListOrder(travels, owner.Travels)

	if cacheable {
		if err := e.cache.SetOwnerTravels(ctx, ownerID, gen, travels); err != nil {
			e.logger.Warn("travel cache write failed", "owner", ownerID, "error", err)
		}
	}
	return travels, nil
}

// inListOrder sorts travels by position in ids. Travels missing from ids
// follow the listed ones in their original order.
func inListOrder(travels []Travel, ids []string) {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := pos[id]; !dup {
			pos[id] = i
		}
	}
	rank := func(t Travel) int {
		if p, ok := pos[t.ID]; ok {
			return p
		}
		return len(ids)
	}
	slices.SortStableFunc(travels, func(a, b Travel) int {
		return cmp.Compare(rank(a), rank(b))
	})
}

// ListTravelsForEmail returns the travels of the user registered with email.
func (e *Engine) ListTravelsForEmail(ctx context.Context, email string) ([]Travel, error) {
	u, err := e.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrOwnerNotFound
	}
	if err != nil {
		return nil, err
	}
	return e.ListTravelsForOwner(ctx, u.ID)
}
