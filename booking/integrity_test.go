package booking_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tradojo/booking/booking"
	"github.com/tradojo/booking/store"
)

func ownerLink(e *booking.Engine) *booking.Link[booking.User, booking.Travel] {
	return booking.NewLink[booking.User, booking.Travel]("owner", e.Users(),
		func(t booking.Travel) string { return t.Owner },
		func(u *booking.User) *[]string { return &u.Travels },
		booking.ErrOwnerNotFound,
	)
}

func TestLink_AttachIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "u1", "u1@example.com")
	f.travel(t, "t1", "u1")

	tr, err := f.engine.GetTravel(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTravel: %v", err)
	}
	before, _ := f.engine.GetUser(ctx, "u1")

	link := ownerLink(f.engine)
	for i := 0; i < 2; i++ {
		if err := link.Attach(ctx, tr); err != nil {
			t.Fatalf("Attach #%d: %v", i+1, err)
		}
	}

	after, _ := f.engine.GetUser(ctx, "u1")
	if strings.Join(after.Travels, ",") != "t1" {
		t.Errorf("expected [t1] without duplicates, got %v", after.Travels)
	}
	if !equalStrings(before.Travels, after.Travels) {
		t.Errorf("expected no change, got %v -> %v", before.Travels, after.Travels)
	}
}

func TestLink_AttachMissingParent(t *testing.T) {
	f := newFixture(t)
	err := ownerLink(f.engine).Attach(context.Background(), booking.Travel{ID: "t1", Owner: "ghost"})
	if !errors.Is(err, booking.ErrOwnerNotFound) {
		t.Errorf("expected ErrOwnerNotFound, got %v", err)
	}
}

func TestLink_DetachRemovesDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "u1", "u1@example.com")

	u, _ := f.engine.GetUser(ctx, "u1")
	u.Travels = []string{"t1", "t2", "t1"}
	if _, err := f.engine.Users().Overwrite(ctx, u); err != nil {
		t.Fatalf("Overwrite: %v", err)
	}

	if err := ownerLink(f.engine).DetachID(ctx, "u1", "t1"); err != nil {
		t.Fatalf("DetachID: %v", err)
	}
	if got := f.userTravels(t, "u1"); strings.Join(got, ",") != "t2" {
		t.Errorf("expected [t2], got %v", got)
	}

	// Detaching an id that is not listed writes nothing.
	before, _ := f.engine.Users().Get(ctx, "u1")
	if err := ownerLink(f.engine).DetachID(ctx, "u1", "t9"); err != nil {
		t.Fatalf("DetachID: %v", err)
	}
	after, _ := f.engine.Users().Get(ctx, "u1")
	if !equalStrings(before.Travels, after.Travels) {
		t.Errorf("expected untouched list, got %v", after.Travels)
	}
}

func TestLink_Reconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "u1", "u1@example.com")

	u, _ := f.engine.GetUser(ctx, "u1")
	u.Travels = []string{"gone", "t2", "t2"}
	if _, err := f.engine.Users().Overwrite(ctx, u); err != nil {
		t.Fatalf("Overwrite: %v", err)
	}

	added, removed, err := ownerLink(f.engine).Reconcile(ctx, "u1", []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if added != 1 || removed != 2 {
		t.Errorf("expected +1 -2, got +%d -%d", added, removed)
	}
	if got := f.userTravels(t, "u1"); strings.Join(got, ",") != "t2,t1" {
		t.Errorf("expected [t2 t1], got %v", got)
	}

	added, removed, err = ownerLink(f.engine).Reconcile(ctx, "u1", []string{"t1", "t2"})
	if err != nil || added != 0 || removed != 0 {
		t.Errorf("expected no-op, got +%d -%d %v", added, removed, err)
	}
}

// Overwrite is the unconditional read-modify-write. Two writers that read
// the same version both succeed and the first one's append is lost. The
// compare-and-set path used by the engine keeps both.
func TestOwnerList_LostUpdateWithoutCompareAndSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users := f.engine.Users()
	f.user(t, "u1", "u1@example.com")

	a, _ := users.Get(ctx, "u1")
	b, _ := users.Get(ctx, "u1")
	a.Travels = append(a.Travels, "tA")
	b.Travels = append(b.Travels, "tB")
	if _, err := users.Overwrite(ctx, a); err != nil {
		t.Fatalf("Overwrite a: %v", err)
	}
	if _, err := users.Overwrite(ctx, b); err != nil {
		t.Fatalf("Overwrite b: %v", err)
	}
	if got := f.userTravels(t, "u1"); strings.Join(got, ",") != "tB" {
		t.Fatalf("expected the weak fallback to lose tA, got %v", got)
	}

	f.user(t, "u2", "u2@example.com")
	link := ownerLink(f.engine)
	if err := link.Attach(ctx, booking.Travel{ID: "tA", Owner: "u2"}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := link.Attach(ctx, booking.Travel{ID: "tB", Owner: "u2"}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if got := f.userTravels(t, "u2"); strings.Join(got, ",") != "tA,tB" {
		t.Errorf("expected both appends kept, got %v", got)
	}
	// A conditional write based on an old version is rejected instead of
	// clobbering.
	doc, err := f.backend.Get(ctx, booking.KindUser, "u2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := f.backend.Update(ctx, doc, doc.Version-1); !errors.Is(err, store.ErrConcurrentModification) {
		t.Errorf("expected ErrConcurrentModification, got %v", err)
	}
}

func equalStrings(a, b []string) bool {
	return strings.Join(a, "\x00") == strings.Join(b, "\x00")
}
