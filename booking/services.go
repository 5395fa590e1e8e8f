package booking

import (
	"context"

	"github.com/tradojo/booking/store"
)

// AddService creates a service inside travelID and appends it to the
// travel's services.
func (e *Engine) AddService(ctx context.Context, travelID string, f ServiceFields) (string, error) {
	s := Service{
		ID:          e.newID(),
		Travel:      travelID,
		Name:        f.Name,
		Description: f.Description,
		PriceCents:  f.PriceCents,
		Images:      f.Images,
	}
	created, err := e.services.Create(ctx, s)
	if e.committed("create", KindService, s.ID, err) {
		e.logger.Info("service created", "service", created.ID, "travel", travelID)
		return created.ID, nil
	}
	if !isBeforeHookError(err) {
		release(ctx, e.logger, e.services, e.parent, s)
	}
	return "", conflict(err)
}

// GetService returns one service.
func (e *Engine) GetService(ctx context.Context, serviceID string) (Service, error) {
	s, err := e.services.Get(ctx, serviceID)
	return s, notFound(err, ErrNotFound)
}

// UpdateService applies patch to a service.
func (e *Engine) UpdateService(ctx context.Context, serviceID string, patch ServicePatch) (Service, error) {
	if err := patch.validate(); err != nil {
		return Service{}, err
	}
	s, err := e.services.Mutate(ctx, serviceID, func(s *Service) error {
		patch.apply(s)
		return nil
	})
	if e.committed("update", KindService, serviceID, err) {
		return s, nil
	}
	return Service{}, conflict(notFound(err, ErrNotFound))
}

// DeleteService deletes a single service and removes it from its travel.
func (e *Engine) DeleteService(ctx context.Context, serviceID string) error {
	_, err := e.services.Delete(ctx, serviceID)
	if e.committed("delete", KindService, serviceID, err) {
		e.logger.Info("service deleted", "service", serviceID)
		return nil
	}
	if !isBeforeHookError(err) {
		relink(ctx, e.logger, e.services, e.parent, serviceID)
	}
	return conflict(notFound(err, ErrNotFound))
}

// ListServices returns the live services of travelID.
func (e *Engine) ListServices(ctx context.Context, travelID string) ([]Service, error) {
	if _, err := e.travels.Get(ctx, travelID); err != nil {
		return nil, notFound(err, ErrNotFound)
	}
	return e.services.Find(ctx, store.By(IndexTravel, travelID), nil)
}
