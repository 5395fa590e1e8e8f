package booking

import (
	"context"
	"errors"
	"strings"

	"github.com/tradojo/booking/lifecycle"
)

func (e *Engine) registerUserHooks() {
	h := e.users.Hooks()

	normalize := func(_ context.Context, m *lifecycle.Mutation[User]) error {
		u := m.Current
		u.Email = NormalizeEmail(u.Email)
		if u.Email == "" || !strings.Contains(u.Email, "@") {
			return &ValidationError{Field: "email", Reason: "must be an address"}
		}
		if u.Role == "" {
			u.Role = RoleUser
		}
		if !u.Role.Valid() {
			return &ValidationError{Field: "role", Reason: "unknown role " + string(u.Role)}
		}
		if u.Travels == nil {
			u.Travels = []string{}
		}
		return nil
	}
	h.Before(lifecycle.OpCreate, "normalize", normalize)
	h.Before(lifecycle.OpUpdate, "normalize", normalize)

	h.After(lifecycle.OpCreate, "events", func(ctx context.Context, m *lifecycle.Mutation[User]) error {
		e.publish(ctx, m.Outcome, Event{Name: EventUserRegistered, ID: m.ID})
		return nil
	})
	h.After(lifecycle.OpDelete, "events", func(ctx context.Context, m *lifecycle.Mutation[User]) error {
		e.publish(ctx, m.Outcome, Event{Name: EventUserRemoved, ID: m.ID})
		return nil
	})
}

func (e *Engine) registerTravelHooks() {
	h := e.travels.Hooks()

	h.Before(lifecycle.OpCreate, "validate", func(_ context.Context, m *lifecycle.Mutation[Travel]) error {
		t := m.Current
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return &ValidationError{Field: "name", Reason: "is required"}
		}
		if t.Owner == "" {
			return &ValidationError{Field: "owner", Reason: "is required"}
		}
		if t.Services == nil {
			t.Services = []string{}
		}
		return nil
	})

	// Fail-closed: the travel is not written unless its owner lists it.
	h.Before(lifecycle.OpCreate, "owner-link", func(ctx context.Context, m *lifecycle.Mutation[Travel]) error {
		return e.owner.Attach(ctx, *m.Current)
	})

	h.Before(lifecycle.OpUpdate, "validate", func(_ context.Context, m *lifecycle.Mutation[Travel]) error {
		if m.Current.Owner != m.Previous.Owner {
			return &ValidationError{Field: "owner", Reason: "cannot be changed"}
		}
		m.Current.Name = strings.TrimSpace(m.Current.Name)
		if m.Current.Name == "" {
			return &ValidationError{Field: "name", Reason: "is required"}
		}
		return nil
	})

	// Fail-open for a missing owner: a vanished user must not keep the travel
	// and its services alive. Store failures still abort the delete.
	h.Before(lifecycle.OpDelete, "owner-unlink", func(ctx context.Context, m *lifecycle.Mutation[Travel]) error {
		err := e.owner.Detach(ctx, *m.Current)
		if errors.Is(err, ErrOwnerNotFound) {
			m.Outcome.Warn(topicOwner, err)
			e.logger.Warn("travel owner missing on delete", "travel", m.ID, "owner", m.Current.Owner)
			return nil
		}
		return err
	})

	h.After(lifecycle.OpDelete, "cascade", func(ctx context.Context, m *lifecycle.Mutation[Travel]) error {
		report := e.cascade.run(ctx, m.ID, m.Previous.Services)
		m.Outcome.Add(counterServicesDeleted, report.deleted)
		m.Outcome.Add(counterServicesFailed, len(report.failures))
		if pcf := report.failure(m.ID); pcf != nil {
			m.Outcome.Warn(topicCascade, pcf)
		}
		return nil
	})

	for _, op := range []lifecycle.Op{lifecycle.OpCreate, lifecycle.OpUpdate, lifecycle.OpDelete} {
		h.After(op, "cache", func(ctx context.Context, m *lifecycle.Mutation[Travel]) error {
			e.invalidate(ctx, m.Outcome, m.Current.Owner)
			return nil
		})
	}

	h.After(lifecycle.OpCreate, "events", func(ctx context.Context, m *lifecycle.Mutation[Travel]) error {
		e.publish(ctx, m.Outcome, Event{Name: EventTravelCreated, ID: m.ID, OwnerID: m.Current.Owner})
		return nil
	})
	h.After(lifecycle.OpUpdate, "events", func(ctx context.Context, m *lifecycle.Mutation[Travel]) error {
		e.publish(ctx, m.Outcome, Event{Name: EventTravelUpdated, ID: m.ID, OwnerID: m.Current.Owner})
		return nil
	})
	h.After(lifecycle.OpDelete, "events", func(ctx context.Context, m *lifecycle.Mutation[Travel]) error {
		e.publish(ctx, m.Outcome, Event{
			Name:            EventTravelDeleted,
			ID:              m.ID,
			OwnerID:         m.Current.Owner,
			ServicesDeleted: m.Outcome.Count(counterServicesDeleted),
			ServicesFailed:  m.Outcome.Count(counterServicesFailed),
		})
		return nil
	})
}

func (e *Engine) registerServiceHooks() {
	h := e.services.Hooks()

	h.Before(lifecycle.OpCreate, "validate", func(_ context.Context, m *lifecycle.Mutation[Service]) error {
		s := m.Current
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return &ValidationError{Field: "name", Reason: "is required"}
		}
		if s.Travel == "" {
			return &ValidationError{Field: "travel", Reason: "is required"}
		}
		if s.PriceCents < 0 {
			return &ValidationError{Field: "priceCents", Reason: "must not be negative"}
		}
		return nil
	})

	h.Before(lifecycle.OpCreate, "travel-link", func(ctx context.Context, m *lifecycle.Mutation[Service]) error {
		return e.parent.Attach(ctx, *m.Current)
	})

	h.Before(lifecycle.OpUpdate, "validate", func(_ context.Context, m *lifecycle.Mutation[Service]) error {
		if m.Current.Travel != m.Previous.Travel {
			return &ValidationError{Field: "travel", Reason: "cannot be changed"}
		}
		return nil
	})

	// Nothing to detach when the parent travel is gone or is the one being
	// deleted: its list goes with it.
	h.Before(lifecycle.OpDelete, "travel-unlink", func(ctx context.Context, m *lifecycle.Mutation[Service]) error {
		parentID := m.Current.Travel
		if lifecycle.Active(ctx, string(KindTravel), lifecycle.OpDelete, parentID) {
			return nil
		}
		err := e.parent.Detach(ctx, *m.Current)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})

	h.After(lifecycle.OpCreate, "events", func(ctx context.Context, m *lifecycle.Mutation[Service]) error {
		e.publish(ctx, m.Outcome, Event{Name: EventServiceCreated, ID: m.ID, TravelID: m.Current.Travel})
		return nil
	})
	h.After(lifecycle.OpDelete, "events", func(ctx context.Context, m *lifecycle.Mutation[Service]) error {
		e.publish(ctx, m.Outcome, Event{Name: EventServiceDeleted, ID: m.ID, TravelID: m.Current.Travel})
		return nil
	})
}

// ownerUnlinkErr returns the owner warning recorded by a travel delete.
func ownerUnlinkErr(outcome *lifecycle.Outcome) error {
	if ws := outcome.Warnings(topicOwner); len(ws) > 0 {
		return ws[0]
	}
	return nil
}

// cascadeFailure returns the cascade report recorded by a travel delete.
func cascadeFailure(outcome *lifecycle.Outcome) *PartialCascadeFailure {
	for _, w := range outcome.Warnings(topicCascade) {
		var pcf *PartialCascadeFailure
		if errors.As(w, &pcf) {
			return pcf
		}
	}
	return nil
}
