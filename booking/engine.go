// Package booking keeps users, travels and services consistent with each
// other on a store without cross-document transactions.
//
// A user lists the travels it owns and a travel lists its services. Both
// lists are back-references maintained by lifecycle hooks on the child
// collection: creating a child attaches it to its parent before the child is
// written, and deleting it detaches it first. Deleting a travel then deletes
// its services.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tradojo/booking/lifecycle"
	"github.com/tradojo/booking/store"
)

// Outcome topics and counters used by the hooks.
const (
	topicOwner   = "owner"
	topicCascade = "cascade"
	topicCache   = "cache"
	topicEvents  = "events"

	counterServicesDeleted = "services_deleted"
	counterServicesFailed  = "services_failed"
)

// Engine is the entry point for every user, travel and service operation.
type Engine struct {
	users    *store.Collection[User]
	travels  *store.Collection[Travel]
	services *store.Collection[Service]

	registry *store.Registry
	owner    *Link[User, Travel]
	parent   *Link[Travel, Service]
	cascade  *cascade
	kinds    map[store.Kind]kindOps

	config Config
	logger *slog.Logger
	cache  TravelCache
	events Publisher
	newID  func() string
	now    func() time.Time
}

// New creates an Engine on backend and registers its hooks.
func New(backend store.Backend, config Config, logger *slog.Logger) *Engine {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		users:    store.NewCollection[User](backend, config.Store),
		travels:  store.NewCollection[Travel](backend, config.Store),
		services: store.NewCollection[Service](backend, config.Store),
		registry: Relationships(),
		config:   config,
		logger:   logger,
		newID:    uuid.NewString,
		now:      time.Now,
	}

	e.owner = NewLink[User, Travel]("owner", e.users,
		func(t Travel) string { return t.Owner },
		func(u *User) *[]string { return &u.Travels },
		ErrOwnerNotFound,
	)
	e.parent = NewLink[Travel, Service]("travel", e.travels,
		func(s Service) string { return s.Travel },
		func(t *Travel) *[]string { return &t.Services },
		ErrNotFound,
	)
	e.cascade = &cascade{
		services: e.services,
		limit:    config.CascadeConcurrency,
		logger:   logger,
	}
	e.kinds = map[store.Kind]kindOps{
		KindUser:    opsFor(e.users),
		KindTravel:  opsFor(e.travels),
		KindService: opsFor(e.services),
	}

	e.registerUserHooks()
	e.registerTravelHooks()
	e.registerServiceHooks()
	return e
}

// Relationships returns the references between the engine's kinds. Users
// keep their travels when removed; travels take their services with them.
func Relationships() *store.Registry {
	r := store.NewRegistry()
	r.Register(store.Relationship{
		ParentKind:  KindUser,
		ChildKind:   KindTravel,
		ParentIndex: IndexOwner,
	})
	r.Register(store.Relationship{
		ParentKind:  KindTravel,
		ChildKind:   KindService,
		ParentIndex: IndexTravel,
		Cascade:     true,
	})
	return r
}

// Registry returns the relationships the engine maintains.
func (e *Engine) Registry() *store.Registry {
	return e.registry
}

// SetCache installs a cache for ListTravelsForOwner.
func (e *Engine) SetCache(c TravelCache) {
	e.cache = c
}

// SetPublisher installs the destination of lifecycle events.
func (e *Engine) SetPublisher(p Publisher) {
	e.events = p
}

// SetIDGenerator replaces the generator of new entity ids.
func (e *Engine) SetIDGenerator(fn func() string) {
	e.newID = fn
}

// Users returns the user collection. Hooks registered on it run for every
// engine operation.
func (e *Engine) Users() *store.Collection[User] { return e.users }

// Travels returns the travel collection.
func (e *Engine) Travels() *store.Collection[Travel] { return e.travels }

// Services returns the service collection.
func (e *Engine) Services() *store.Collection[Service] { return e.services }

func (e *Engine) publish(ctx context.Context, outcome *lifecycle.Outcome, ev Event) {
	if e.events == nil {
		return
	}
	ev.At = e.now().UTC()
	if err := e.events.Publish(ctx, ev); err != nil {
		outcome.Warn(topicEvents, err)
		e.logger.Warn("event not published", "event", ev.Name, "id", ev.ID, "error", err)
	}
}

func (e *Engine) invalidate(ctx context.Context, outcome *lifecycle.Outcome, ownerID string) {
	if e.cache == nil || ownerID == "" {
		return
	}
	if err := e.cache.InvalidateOwner(ctx, ownerID); err != nil {
		outcome.Warn(topicCache, err)
		e.logger.Warn("cache invalidation failed", "owner", ownerID, "error", err)
	}
}

// committed reports whether err still means the write went through: nil or
// an after-hook failure.
func (e *Engine) committed(op string, kind store.Kind, id string, err error) bool {
	if err == nil {
		return true
	}
	if lifecycle.IsAfterHookError(err) {
		e.logger.Warn("write committed with hook failure", "op", op, "kind", kind, "id", id, "error", err)
		return true
	}
	return false
}

func isBeforeHookError(err error) bool {
	var he *lifecycle.HookError
	return errors.As(err, &he) && he.Phase == lifecycle.Before
}

// release undoes a parent attach after the child's create failed. The child
// is looked up first: when the create timed out it may have been written
// after all, and then the link must stay.
func release[P, C store.Entity](ctx context.Context, logger *slog.Logger, children *store.Collection[C], link *Link[P, C], child C) {
	ctx = context.WithoutCancel(ctx)
	_, err := children.Get(ctx, child.EntityID())
	switch {
	case err == nil:
		return
	case !errors.Is(err, store.ErrNotFound):
		logger.Warn("cannot verify failed create, leaving link for reconcile",
			"link", link.Name(), "child", child.EntityID(), "error", err)
		return
	}
	if err := link.Detach(ctx, child); err != nil {
		logger.Warn("link not released after failed create",
			"link", link.Name(), "child", child.EntityID(), "error", err)
	}
}

// relink undoes a parent detach after the child's delete failed. The child is
// looked up first: when the delete timed out it may be gone after all, and
// then the link must stay removed.
func relink[P, C store.Entity](ctx context.Context, logger *slog.Logger, children *store.Collection[C], link *Link[P, C], childID string) {
	ctx = context.WithoutCancel(ctx)
	child, err := children.Get(ctx, childID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return
	case err != nil:
		logger.Warn("cannot verify failed delete, leaving link for reconcile",
			"link", link.Name(), "child", childID, "error", err)
		return
	}
	if err := link.Attach(ctx, child); err != nil {
		logger.Warn("link not restored after failed delete",
			"link", link.Name(), "child", childID, "error", err)
	}
}

// kindOps exposes one collection to the maintenance operations without its
// entity type.
type kindOps struct {
	exists  func(ctx context.Context, id string) error
	findIDs func(ctx context.Context, index, value string) ([]string, error)
	delete  func(ctx context.Context, id string) error
}

func opsFor[T store.Entity](c *store.Collection[T]) kindOps {
	return kindOps{
		exists: func(ctx context.Context, id string) error {
			_, err := c.Get(ctx, id)
			return err
		},
		findIDs: func(ctx context.Context, index, value string) ([]string, error) {
			found, err := c.Find(ctx, store.By(index, value), nil)
			if err != nil {
				return nil, err
			}
			ids := make([]string, len(found))
			for i, v := range found {
				ids[i] = v.EntityID()
			}
			return ids, nil
		},
		delete: func(ctx context.Context, id string) error {
			_, err := c.Delete(ctx, id)
			return err
		},
	}
}
