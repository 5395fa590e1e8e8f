package booking_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/tradojo/booking/booking"
	"github.com/tradojo/booking/store"
	"github.com/tradojo/booking/store/memstore"
)

var errInjected = errors.New("injected store failure")

// faultyBackend wraps a memstore and fails or blocks selected calls. Keys are
// "kind/id"; "kind/*" matches every id of the kind.
type faultyBackend struct {
	*memstore.Store

	mu         sync.Mutex
	failGet    map[string]error
	failCreate map[string]error
	failDelete map[string]error

	// beforeDelete runs ahead of every delete that is not failed.
	beforeDelete func(kind store.Kind, id string)
}

func newFaultyBackend() *faultyBackend {
	return &faultyBackend{
		Store:      memstore.New(),
		failGet:    make(map[string]error),
		failCreate: make(map[string]error),
		failDelete: make(map[string]error),
	}
}

func (f *faultyBackend) fault(m map[string]error, kind store.Kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := m[fmt.Sprintf("%s/%s", kind, id)]; ok {
		return err
	}
	return m[fmt.Sprintf("%s/*", kind)]
}

func (f *faultyBackend) set(m map[string]error, kind store.Kind, id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s/%s", kind, id)
	if err == nil {
		delete(m, key)
		return
	}
	m[key] = err
}

func (f *faultyBackend) Get(ctx context.Context, kind store.Kind, id string) (store.Document, error) {
	if err := f.fault(f.failGet, kind, id); err != nil {
		return store.Document{}, err
	}
	return f.Store.Get(ctx, kind, id)
}

func (f *faultyBackend) Create(ctx context.Context, doc store.Document) (store.Document, error) {
	if err := f.fault(f.failCreate, doc.Kind, doc.ID); err != nil {
		return store.Document{}, err
	}
	return f.Store.Create(ctx, doc)
}

func (f *faultyBackend) Delete(ctx context.Context, kind store.Kind, id string) error {
	if err := f.fault(f.failDelete, kind, id); err != nil {
		return err
	}
	if f.beforeDelete != nil {
		f.beforeDelete(kind, id)
	}
	return f.Store.Delete(ctx, kind, id)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sequentialIDs returns a generator of "<prefix>1", "<prefix>2", ...
func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

type fixture struct {
	engine  *booking.Engine
	backend *faultyBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, booking.DefaultConfig())
}

func newFixtureWithConfig(t *testing.T, cfg booking.Config) *fixture {
	t.Helper()
	backend := newFaultyBackend()
	return &fixture{
		engine:  booking.New(backend, cfg, quietLogger()),
		backend: backend,
	}
}

// idAs makes the next generated id equal to id.
func (f *fixture) idAs(id string) {
	f.engine.SetIDGenerator(func() string { return id })
}

func (f *fixture) user(t *testing.T, id, email string) string {
	t.Helper()
	f.idAs(id)
	got, err := f.engine.RegisterUser(context.Background(), booking.NewUser{Email: email})
	if err != nil {
		t.Fatalf("RegisterUser(%s): %v", email, err)
	}
	return got
}

func (f *fixture) travel(t *testing.T, id, owner string) string {
	t.Helper()
	f.idAs(id)
	got, err := f.engine.CreateTravel(context.Background(), owner, booking.TravelFields{Name: "trip " + id})
	if err != nil {
		t.Fatalf("CreateTravel(%s): %v", id, err)
	}
	return got
}

func (f *fixture) service(t *testing.T, id, travel string) string {
	t.Helper()
	f.idAs(id)
	got, err := f.engine.AddService(context.Background(), travel, booking.ServiceFields{Name: "service " + id, PriceCents: 1000})
	if err != nil {
		t.Fatalf("AddService(%s): %v", id, err)
	}
	return got
}

func (f *fixture) userTravels(t *testing.T, id string) []string {
	t.Helper()
	u, err := f.engine.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("GetUser(%s): %v", id, err)
	}
	return u.Travels
}

// checkInvariant verifies both directions of the owner reference: every live
// travel is listed exactly once by its owner, and every listed id is a live
// travel owned by the listing user. The same holds for travels and services.
func checkInvariant(t *testing.T, e *booking.Engine) {
	t.Helper()
	ctx := context.Background()

	users, err := e.Users().Find(ctx, store.All(), nil)
	if err != nil {
		t.Fatalf("find users: %v", err)
	}
	travels, err := e.Travels().Find(ctx, store.All(), nil)
	if err != nil {
		t.Fatalf("find travels: %v", err)
	}
	services, err := e.Services().Find(ctx, store.All(), nil)
	if err != nil {
		t.Fatalf("find services: %v", err)
	}

	travelByID := make(map[string]booking.Travel, len(travels))
	for _, tr := range travels {
		travelByID[tr.ID] = tr
	}
	userByID := make(map[string]booking.User, len(users))
	for _, u := range users {
		userByID[u.ID] = u
		seen := make(map[string]bool)
		for _, id := range u.Travels {
			if seen[id] {
				t.Errorf("user %s lists travel %s twice", u.ID, id)
			}
			seen[id] = true
			tr, ok := travelByID[id]
			if !ok {
				t.Errorf("user %s lists missing travel %s", u.ID, id)
				continue
			}
			if tr.Owner != u.ID {
				t.Errorf("user %s lists travel %s owned by %s", u.ID, id, tr.Owner)
			}
		}
	}
	for _, tr := range travels {
		owner, ok := userByID[tr.Owner]
		if !ok {
			continue // owner removed; users do not cascade
		}
		if !contains(owner.Travels, tr.ID) {
			t.Errorf("travel %s not listed by owner %s", tr.ID, tr.Owner)
		}
	}

	serviceByID := make(map[string]booking.Service, len(services))
	for _, s := range services {
		serviceByID[s.ID] = s
	}
	for _, tr := range travels {
		for _, id := range tr.Services {
			s, ok := serviceByID[id]
			if !ok {
				t.Errorf("travel %s lists missing service %s", tr.ID, id)
				continue
			}
			if s.Travel != tr.ID {
				t.Errorf("travel %s lists service %s of travel %s", tr.ID, id, s.Travel)
			}
		}
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []booking.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev booking.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) named(name string) []booking.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []booking.Event
	for _, ev := range p.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// mapCache is an in-memory TravelCache.
type mapCache struct {
	mu          sync.Mutex
	entries     map[string][]booking.Travel
	gens        map[string]int64
	hits        int
	invalidated []string

	// beforeSet runs at the start of SetOwnerTravels, outside the lock.
	beforeSet func(ownerID string)
}

func newMapCache() *mapCache {
	return &mapCache{
		entries: make(map[string][]booking.Travel),
		gens:    make(map[string]int64),
	}
}

func (c *mapCache) OwnerTravels(_ context.Context, ownerID string) ([]booking.Travel, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[ownerID]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *mapCache) Generation(_ context.Context, ownerID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[ownerID], nil
}

func (c *mapCache) SetOwnerTravels(_ context.Context, ownerID string, gen int64, travels []booking.Travel) error {
	if c.beforeSet != nil {
		c.beforeSet(ownerID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[ownerID] != gen {
		return nil
	}
	c.entries[ownerID] = travels
	return nil
}

func (c *mapCache) InvalidateOwner(_ context.Context, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ownerID)
	c.gens[ownerID]++
	c.invalidated = append(c.invalidated, ownerID)
	return nil
}
