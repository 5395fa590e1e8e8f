package booking_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/tradojo/booking/booking"
	"github.com/tradojo/booking/lifecycle"
	"github.com/tradojo/booking/store"
)

func TestScenario_CreateAndDeleteTravelWithServices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.user(t, "u1", "u1@example.com")
	if got := f.userTravels(t, "u1"); len(got) != 0 {
		t.Fatalf("expected empty travels, got %v", got)
	}

	f.travel(t, "t1", "u1")
	f.service(t, "s1", "t1")
	f.service(t, "s2", "t1")

	if got := f.userTravels(t, "u1"); strings.Join(got, ",") != "t1" {
		t.Fatalf("expected u1.travels == [t1], got %v", got)
	}
	tr, err := f.engine.GetTravel(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTravel: %v", err)
	}
	if strings.Join(tr.Services, ",") != "s1,s2" {
		t.Fatalf("expected t1.services == [s1 s2], got %v", tr.Services)
	}
	checkInvariant(t, f.engine)

	res, err := f.engine.DeleteTravel(ctx, "t1")
	if err != nil {
		t.Fatalf("DeleteTravel: %v", err)
	}
	if res.ServicesDeleted != 2 || res.ServicesFailed != 0 {
		t.Errorf("expected {2, 0}, got {%d, %d}", res.ServicesDeleted, res.ServicesFailed)
	}
	if res.Cascade != nil || res.OwnerUnlink != nil {
		t.Errorf("expected clean result, got %+v", res)
	}
	if got := f.userTravels(t, "u1"); len(got) != 0 {
		t.Errorf("expected u1.travels == [], got %v", got)
	}
	for _, id := range []string{"s1", "s2"} {
		if _, err := f.engine.GetService(ctx, id); !errors.Is(err, booking.ErrNotFound) {
			t.Errorf("expected %s deleted, got %v", id, err)
		}
	}
	if _, err := f.engine.GetTravel(ctx, "t1"); !errors.Is(err, booking.ErrNotFound) {
		t.Errorf("expected t1 deleted, got %v", err)
	}
	checkInvariant(t, f.engine)
}

func TestCreateTravel_OwnerNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CreateTravel(context.Background(), "ghost", booking.TravelFields{Name: "Lisbon"})
	if !errors.Is(err, booking.ErrOwnerNotFound) {
		t.Fatalf("expected ErrOwnerNotFound, got %v", err)
	}
	if n := f.backend.Len(booking.KindTravel); n != 0 {
		t.Errorf("expected no travel persisted, found %d", n)
	}
}

func TestCreateTravel_Validation(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", "u1@example.com")

	tests := []struct {
		name   string
		owner  string
		fields booking.TravelFields
		field  string
	}{
		{"empty name", "u1", booking.TravelFields{Name: ""}, "name"},
		{"blank name", "u1", booking.TravelFields{Name: "   "}, "name"},
		{"no owner", "", booking.TravelFields{Name: "Rome"}, "owner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateTravel(context.Background(), tt.owner, tt.fields)
			if !errors.Is(err, booking.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			var ve *booking.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("expected field %q, got %v", tt.field, err)
			}
		})
	}
	if got := f.userTravels(t, "u1"); len(got) != 0 {
		t.Errorf("expected no linked travels, got %v", got)
	}
}

func TestCreateTravel_TrimsName(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", "u1@example.com")

	id, err := f.engine.CreateTravel(context.Background(), "u1", booking.TravelFields{Name: "  Porto  ", Date: "2026-05-01"})
	if err != nil {
		t.Fatalf("CreateTravel: %v", err)
	}
	tr, _ := f.engine.GetTravel(context.Background(), id)
	if tr.Name != "Porto" || tr.Date != "2026-05-01" {
		t.Errorf("unexpected travel %+v", tr)
	}
}

func TestCreateTravel_WriteFailureReleasesOwnerLink(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", "u1@example.com")
	f.backend.set(f.backend.failCreate, booking.KindTravel, "t1", errInjected)

	f.idAs("t1")
	_, err := f.engine.CreateTravel(context.Background(), "u1", booking.TravelFields{Name: "Oslo"})
	if !errors.Is(err, booking.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if got := f.userTravels(t, "u1"); len(got) != 0 {
		t.Errorf("expected link released, got %v", got)
	}
	checkInvariant(t, f.engine)
}

func TestCreateTravel_ConcurrentForOneOwner(t *testing.T) {
	cfg := booking.DefaultConfig()
	cfg.Store.MaxConflictRetries = 100
	f := newFixtureWithConfig(t, cfg)
	f.user(t, "u1", "u1@example.com")
	f.engine.SetIDGenerator(sequentialIDs("t"))

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.CreateTravel(context.Background(), "u1", booking.TravelFields{Name: fmt.Sprintf("trip %d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("CreateTravel: %v", err)
		}
	}

	if got := f.userTravels(t, "u1"); len(got) != n {
		t.Errorf("expected %d linked travels, got %d: %v", n, len(got), got)
	}
	checkInvariant(t, f.engine)
}

func TestUpdateTravel_PatchSemantics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "u1", "u1@example.com")
	f.idAs("t1")
	if _, err := f.engine.CreateTravel(ctx, "u1", booking.TravelFields{Name: "Paris", Location: "FR", Comments: "spring"}); err != nil {
		t.Fatalf("CreateTravel: %v", err)
	}

	err := f.engine.UpdateTravel(ctx, "t1", booking.TravelPatch{
		Name:     booking.Set("Paris again"),
		Location: booking.Null[string](),
	})
	if err != nil {
		t.Fatalf("UpdateTravel: %v", err)
	}

	tr, _ := f.engine.GetTravel(ctx, "t1")
	if tr.Name != "Paris again" {
		t.Errorf("expected name overwritten, got %q", tr.Name)
	}
	if tr.Location != "" {
		t.Errorf("expected location cleared, got %q", tr.Location)
	}
	if tr.Comments != "spring" {
		t.Errorf("expected comments untouched, got %q", tr.Comments)
	}
	if tr.Owner != "u1" {
		t.Errorf("expected owner untouched, got %q", tr.Owner)
	}
}

func TestUpdateTravel_Errors(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", "u1@example.com")
	f.user(t, "u2", "u2@example.com")
	f.travel(t, "t1", "u1")

	tests := []struct {
		name  string
		id    string
		patch booking.TravelPatch
		want  error
	}{
		{"missing travel", "nope", booking.TravelPatch{Name: booking.Set("x")}, booking.ErrNotFound},
		{"clear name", "t1", booking.TravelPatch{Name: booking.Null[string]()}, booking.ErrValidation},
		{"blank name", "t1", booking.TravelPatch{Name: booking.Set(" ")}, booking.ErrValidation},
		{"change owner", "t1", booking.TravelPatch{Owner: booking.Set("u2")}, booking.ErrValidation},
		{"clear owner", "t1", booking.TravelPatch{Owner: booking.Null[string]()}, booking.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.engine.UpdateTravel(context.Background(), tt.id, tt.patch); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	// Restating the current owner is allowed.
	if err := f.engine.UpdateTravel(context.Background(), "t1", booking.TravelPatch{Owner: booking.Set("u1")}); err != nil {
		t.Errorf("expected same owner accepted, got %v", err)
	}
	if got := f.userTravels(t, "u2"); len(got) != 0 {
		t.Errorf("expected u2 untouched, got %v", got)
	}
	checkInvariant(t, f.engine)
}

func TestDeleteTravel_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.DeleteTravel(context.Background(), "nope"); !errors.Is(err, booking.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteTravel_CascadeCompleteness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "u1", "u1@example.com")
	f.travel(t, "t1", "u1")

	const n = 12
	for i := 0; i < n; i++ {
		f.service(t, fmt.Sprintf("s%d", i), "t1")
	}

	res, err := f.engine.DeleteTravel(ctx, "t1")
	if err != nil {
		t.Fatalf("DeleteTravel: %v", err)
	}
	if res.ServicesDeleted != n || res.ServicesFailed != 0 {
		t.Errorf("expected {%d, 0}, got {%d, %d}", n, res.ServicesDeleted, res.ServicesFailed)
	}
	left, err := f.engine.Services().Find(ctx, store.By(booking.IndexTravel, "t1"), nil)
	if err != nil {
		t.Fatalf("find services: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("expected no services referencing t1, found %d", len(left))
	}
}

func TestDeleteTravel_CascadeResilience(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "u1", "u1@example.com")
	f.travel(t, "t1", "u1")
	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		f.service(t, id, "t1")
	}
	f.backend.set(f.backend.failDelete, booking.KindService, "s3", errInjected)

	res, err := f.engine.DeleteTravel(ctx, "t1")
	if err != nil {
		t.Fatalf("DeleteTravel: %v", err)
	}
	if res.ServicesDeleted != 3 || res.ServicesFailed != 1 {
		t.Errorf("expected {3, 1}, got {%d, %d}", res.ServicesDeleted, res.ServicesFailed)
	}
	if res.Cascade == nil || len(res.Cascade.Failures) != 1 || res.Cascade.Failures[0].ServiceID != "s3" {
		t.Fatalf("expected s3 reported, got %+v", res.Cascade)
	}
	if !errors.Is(res.Cascade, errInjected) {
		t.Errorf("expected failure to wrap the store error, got %v", res.Cascade)
	}
	if res.OwnerUnlink != nil {
		t.Errorf("expected owner unlinked, got %v", res.OwnerUnlink)
	}

	if _, err := f.engine.GetTravel(ctx, "t1"); !errors.Is(err, booking.ErrNotFound) {
		t.Errorf("expected travel deleted despite cascade failure, got %v", err)
	}
	for _, id := range []string{"s1", "s2", "s4"} {
		if _, err := f.engine.GetService(ctx, id); !errors.Is(err, booking.ErrNotFound) {
			t.Errorf("expected %s deleted, got %v", id, err)
		}
	}
	// The survivor stays as an orphan.
	if _, err := f.engine.GetService(ctx, "s3"); err != nil {
		t.Errorf("expected s3 to survive, got %v", err)
	}
}

func TestDeleteTravel_OwnerRemovedFailsOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "u1", "u1@example.com")
	f.travel(t, "t1", "u1")
	f.service(t, "s1", "t1")
	f.service(t, "s2", "t1")

	if err := f.engine.RemoveUser(ctx, "u1"); err != nil {
		t.Fatalf("RemoveUser: %v", err)
	}

	res, err := f.engine.DeleteTravel(ctx, "t1")
	if err != nil {
		t.Fatalf("DeleteTravel: %v", err)
	}
	if !errors.Is(res.OwnerUnlink, booking.ErrOwnerNotFound) {
		t.Errorf("expected owner failure reported, got %v", res.OwnerUnlink)
	}
	if res.Cascade != nil || res.ServicesDeleted != 2 || res.ServicesFailed != 0 {
		t.Errorf("expected cascade to be clean, got %+v", res)
	}
	if _, err := f.engine.GetTravel(ctx, "t1"); !errors.Is(err, booking.ErrNotFound) {
		t.Errorf("expected travel deleted, got %v", err)
	}
}

func TestDeleteTravel_StoreUnavailableInOwnerUnlinkAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "u1", "u1@example.com")
	f.travel(t, "t1", "u1")
	f.service(t, "s1", "t1")

	f.backend.set(f.backend.failGet, booking.KindUser, "u1", errInjected)
	_, err := f.engine.DeleteTravel(ctx, "t1")
	if !errors.Is(err, booking.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	f.backend.set(f.backend.failGet, booking.KindUser, "u1", nil)

	if _, err := f.engine.GetTravel(ctx, "t1"); err != nil {
		t.Errorf("expected travel kept, got %v", err)
	}
	if _, err := f.engine.GetService(ctx, "s1"); err != nil {
		t.Errorf("expected service kept, got %v", err)
	}
	checkInvariant(t, f.engine)
}

func TestDeleteTravel_WriteFailureRestoresOwnerLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "u1", "u1@example.com")
	f.travel(t, "t1", "u1")
	f.travel(t, "t2", "u1")
	f.service(t, "s1", "t1")

	f.backend.set(f.backend.failDelete, booking.KindTravel, "t1", errInjected)
	_, err := f.engine.DeleteTravel(ctx, "t1")
	if !errors.Is(err, booking.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}

	if _, err := f.engine.GetTravel(ctx, "t1"); err != nil {
		t.Fatalf("expected travel kept, got %v", err)
	}
	if got := sorted(f.userTravels(t, "u1")); strings.Join(got, ",") != "t1,t2" {
		t.Errorf("expected u1.travels == [t1 t2], got %v", got)
	}
	if _, err := f.engine.GetService(ctx, "s1"); err != nil {
		t.Errorf("expected service kept, got %v", err)
	}
	checkInvariant(t, f.engine)

	f.backend.set(f.backend.failDelete, booking.KindTravel, "t1", nil)
	if _, err := f.engine.DeleteTravel(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTravel after recovery: %v", err)
	}
	if got := f.userTravels(t, "u1"); strings.Join(got, ",") != "t2" {
		t.Errorf("expected u1.travels == [t2], got %v", got)
	}
	checkInvariant(t, f.engine)
}

func TestDeleteTravel_CancellationStopsIssuingDeletes(t *testing.T) {
	cfg := booking.DefaultConfig()
	cfg.CascadeConcurrency = 1
	f := newFixtureWithConfig(t, cfg)
	f.user(t, "u1", "u1@example.com")
	f.travel(t, "t1", "u1")
	for _, id := range []string{"s1", "s2", "s3"} {
		f.service(t, id, "t1")
	}

	started := make(chan string, 3)
	release := make(chan struct{})
	f.backend.beforeDelete = func(kind store.Kind, id string) {
		if kind != booking.KindService {
			return
		}
		started <- id
		<-release
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan booking.DeleteResult, 1)
	go func() {
		res, err := f.engine.DeleteTravel(ctx, "t1")
		if err != nil {
			t.Errorf("DeleteTravel: %v", err)
		}
		done <- res
	}()

	if first := <-started; first != "s1" {
		t.Fatalf("expected s1 issued first, got %s", first)
	}
	cancel()
	close(release)
	res := <-done

	if res.ServicesDeleted != 1 || res.ServicesFailed != 2 {
		t.Errorf("expected {1, 2}, got {%d, %d}", res.ServicesDeleted, res.ServicesFailed)
	}
	if !errors.Is(res.Cascade, context.Canceled) {
		t.Errorf("expected unissued deletes to report cancellation, got %v", res.Cascade)
	}
	if _, err := f.engine.GetService(context.Background(), "s1"); !errors.Is(err, booking.ErrNotFound) {
		t.Errorf("expected the issued delete to complete, got %v", err)
	}
	if _, err := f.engine.GetService(context.Background(), "s2"); err != nil {
		t.Errorf("expected s2 untouched, got %v", err)
	}
}

func TestListTravelsForOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "u1", "u1@example.com")
	f.user(t, "u2", "u2@example.com")
	f.travel(t, "t1", "u1")
	f.travel(t, "t2", "u2")
	f.travel(t, "t3", "u1")

	got, err := f.engine.ListTravelsForOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ListTravelsForOwner: %v", err)
	}
	var ids []string
	for _, tr := range got {
		ids = append(ids, tr.ID)
	}
	if strings.Join(sorted(ids), ",") != "t1,t3" {
		t.Errorf("expected t1,t3, got %v", ids)
	}

	if _, err := f.engine.ListTravelsForOwner(ctx, "ghost"); !errors.Is(err, booking.ErrOwnerNotFound) {
		t.Errorf("expected ErrOwnerNotFound, got %v", err)
	}

	byEmail, err := f.engine.ListTravelsForEmail(ctx, "U2@Example.com")
	if err != nil || len(byEmail) != 1 || byEmail[0].ID != "t2" {
		t.Errorf("expected [t2] by email, got %v, %v", byEmail, err)
	}
	if _, err := f.engine.ListTravelsForEmail(ctx, "nobody@example.com"); !errors.Is(err, booking.ErrOwnerNotFound) {
		t.Errorf("expected ErrOwnerNotFound by email, got %v", err)
	}
}

func TestListTravelsForOwner_UsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := newMapCache()
	f.engine.SetCache(cache)
	f.user(t, "u1", "u1@example.com")
	f.travel(t, "t1", "u1")

	if _, err := f.engine.ListTravelsForOwner(ctx, "u1"); err != nil {
		t.Fatalf("ListTravelsForOwner: %v", err)
	}
	if _, err := f.engine.ListTravelsForOwner(ctx, "u1"); err != nil {
		t.Fatalf("ListTravelsForOwner: %v", err)
	}
	if cache.hits != 1 {
		t.Errorf("expected second list served from cache, hits=%d", cache.hits)
	}

	f.travel(t, "t2", "u1")
	got, err := f.engine.ListTravelsForOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ListTravelsForOwner: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected cache invalidated by create, got %d travels", len(got))
	}
}

func TestListTravelsForOwner_InvalidationDuringReadIsNotOverwritten(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := newMapCache()
	f.engine.SetCache(cache)
	f.user(t, "u1", "u1@example.com")
	f.travel(t, "t1", "u1")

	// t2 is created after the store read and before the cache write.
	cache.beforeSet = func(string) {
		cache.beforeSet = nil
		f.travel(t, "t2", "u1")
	}
	got, err := f.engine.ListTravelsForOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ListTravelsForOwner: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the list read before t2, got %d travels", len(got))
	}

	got, err = f.engine.ListTravelsForOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ListTravelsForOwner: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected stale list discarded, got %d travels", len(got))
	}
	if cache.hits != 0 {
		t.Errorf("expected no cache hit, got %d", cache.hits)
	}
}

func TestListTravelsForOwner_FollowsOwnerOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "u1", "u1@example.com")
	f.travel(t, "t1", "u1")
	f.travel(t, "t2", "u1")
	f.travel(t, "t3", "u1")

	quiet := lifecycle.Suppress(ctx, string(booking.KindUser))
	if _, err := f.engine.Users().Mutate(quiet, "u1", func(u *booking.User) error {
		u.Travels = []string{"t3", "t1", "t2"}
		return nil
	}); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	got, err := f.engine.ListTravelsForOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ListTravelsForOwner: %v", err)
	}
	ids := make([]string, len(got))
	for i, tr := range got {
		ids[i] = tr.ID
	}
	if strings.Join(ids, ",") != "t3,t1,t2" {
		t.Errorf("expected owner order t3,t1,t2, got %v", ids)
	}
}

func TestTravelEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pub := &recordingPublisher{}
	f.engine.SetPublisher(pub)
	f.user(t, "u1", "u1@example.com")
	f.travel(t, "t1", "u1")
	f.service(t, "s1", "t1")

	if _, err := f.engine.DeleteTravel(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTravel: %v", err)
	}

	if got := pub.named(booking.EventTravelCreated); len(got) != 1 || got[0].OwnerID != "u1" {
		t.Errorf("unexpected travel.created events %+v", got)
	}
	deleted := pub.named(booking.EventTravelDeleted)
	if len(deleted) != 1 || deleted[0].ServicesDeleted != 1 || deleted[0].ServicesFailed != 0 {
		t.Errorf("unexpected travel.deleted events %+v", deleted)
	}
	if got := pub.named(booking.EventServiceDeleted); len(got) != 1 || got[0].TravelID != "t1" {
		t.Errorf("unexpected service.deleted events %+v", got)
	}
}

func TestTravelEvents_PublishFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t)
	f.engine.SetPublisher(&recordingPublisher{err: errors.New("broker down")})
	f.user(t, "u1", "u1@example.com")

	id, err := f.engine.CreateTravel(context.Background(), "u1", booking.TravelFields{Name: "Nice"})
	if err != nil {
		t.Fatalf("expected create to succeed, got %v", err)
	}
	if _, err := f.engine.DeleteTravel(context.Background(), id); err != nil {
		t.Fatalf("expected delete to succeed, got %v", err)
	}
}

func TestTravelHooks_Registered(t *testing.T) {
	f := newFixture(t)
	h := f.engine.Travels().Hooks()

	tests := []struct {
		phase lifecycle.Phase
		op    lifecycle.Op
		want  string
	}{
		{lifecycle.Before, lifecycle.OpCreate, "validate,owner-link"},
		{lifecycle.Before, lifecycle.OpDelete, "owner-unlink"},
		{lifecycle.After, lifecycle.OpDelete, "cascade,cache,events"},
	}
	for _, tt := range tests {
		if got := strings.Join(h.Names(tt.phase, tt.op), ","); got != tt.want {
			t.Errorf("%s %s hooks = %q, want %q", tt.phase, tt.op, got, tt.want)
		}
	}
}
