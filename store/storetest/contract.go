// Package storetest holds the behaviour every store.Backend must share. Each
// backend package runs RunBackend from its own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/tradojo/booking/store"
)

// Kinds used by the contract. Backends that need tables provisioned up front
// must provide them for both.
const (
	KindWidget store.Kind = "widget"
	KindGadget store.Kind = "gadget"
)

type CleanupFunc = func()

type BackendFactory func(t *testing.T) (store.Backend, CleanupFunc)

// RunBackend runs the contract against a fresh backend per subtest. IDs and
// index values are random so a shared database can be reused between runs.
func RunBackend(t *testing.T, newBackend BackendFactory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, b store.Backend)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateExistingID", testCreateExistingID},
		{"GetMissing", testGetMissing},
		{"UniqueValues", testUniqueValues},
		{"UniqueScopedByKind", testUniqueScopedByKind},
		{"UpdateCompareAndSet", testUpdateCompareAndSet},
		{"UpdateMissing", testUpdateMissing},
		{"UpdateMovesIndex", testUpdateMovesIndex},
		{"Delete", testDelete},
		{"FindByIndex", testFindByIndex},
		{"FindAll", testFindAll},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, cleanup := newBackend(t)
			if cleanup != nil {
				t.Cleanup(cleanup)
			}
			tc.fn(t, b)
		})
	}
}

func newDoc(kind store.Kind, indexes, unique map[string]string) store.Document {
	id := uuid.NewString()
	return store.Document{
		Kind:    kind,
		ID:      id,
		Body:    []byte(fmt.Sprintf(`{"id":%q,"name":"contract"}`, id)),
		Indexes: indexes,
		Unique:  unique,
	}
}

func mustCreate(t *testing.T, b store.Backend, doc store.Document) store.Document {
	t.Helper()
	created, err := b.Create(context.Background(), doc)
	if err != nil {
		t.Fatalf("Create %s/%s: %v", doc.Kind, doc.ID, err)
	}
	return created
}

func ids(docs []store.Document) map[string]bool {
	out := make(map[string]bool, len(docs))
	for _, d := range docs {
		out[d.ID] = true
	}
	return out
}

func testCreateAndGet(t *testing.T, b store.Backend) {
	ctx := context.Background()
	group := uuid.NewString()
	doc := newDoc(KindWidget, map[string]string{"group": group}, nil)

	created := mustCreate(t, b, doc)
	if created.Version != 1 {
		t.Errorf("created version = %d, want 1", created.Version)
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	got, err := b.Get(ctx, KindWidget, doc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != doc.ID || got.Kind != KindWidget || got.Version != 1 {
		t.Errorf("unexpected document: %+v", got)
	}
	if string(got.Body) != string(doc.Body) {
		t.Errorf("body = %s, want %s", got.Body, doc.Body)
	}
	if got.Indexes["group"] != group {
		t.Errorf("indexes = %v", got.Indexes)
	}
}

func testCreateExistingID(t *testing.T, b store.Backend) {
	doc := newDoc(KindWidget, nil, nil)
	mustCreate(t, b, doc)

	_, err := b.Create(context.Background(), doc)
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func testGetMissing(t *testing.T, b store.Backend) {
	_, err := b.Get(context.Background(), KindWidget, uuid.NewString())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testUniqueValues(t *testing.T, b store.Backend) {
	ctx := context.Background()
	email := uuid.NewString() + "@example.com"

	first := mustCreate(t, b, newDoc(KindWidget, nil, map[string]string{"email": email}))

	second := newDoc(KindWidget, nil, map[string]string{"email": email})
	if _, err := b.Create(ctx, second); !errors.Is(err, store.ErrDuplicateValue) {
		t.Fatalf("expected ErrDuplicateValue on create, got %v", err)
	}

	// Moving the first document off the value frees it.
	first.Unique = map[string]string{"email": "moved-" + email}
	if _, err := b.Update(ctx, first, first.Version); err != nil {
		t.Fatalf("Update: %v", err)
	}
	created := mustCreate(t, b, second)

	// An update onto a taken value is rejected.
	created.Unique = map[string]string{"email": "moved-" + email}
	if _, err := b.Update(ctx, created, created.Version); !errors.Is(err, store.ErrDuplicateValue) {
		t.Fatalf("expected ErrDuplicateValue on update, got %v", err)
	}

	// Deleting frees the value as well.
	if err := b.Delete(ctx, KindWidget, first.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	mustCreate(t, b, newDoc(KindWidget, nil, map[string]string{"email": "moved-" + email}))
}

func testUniqueScopedByKind(t *testing.T, b store.Backend) {
	email := uuid.NewString() + "@example.com"
	mustCreate(t, b, newDoc(KindWidget, nil, map[string]string{"email": email}))
	mustCreate(t, b, newDoc(KindGadget, nil, map[string]string{"email": email}))
}

func testUpdateCompareAndSet(t *testing.T, b store.Backend) {
	ctx := context.Background()
	doc := mustCreate(t, b, newDoc(KindWidget, nil, nil))

	doc.Body = []byte(fmt.Sprintf(`{"id":%q,"name":"second"}`, doc.ID))
	updated, err := b.Update(ctx, doc, 1)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}

	// A writer still holding version 1 loses.
	doc.Body = []byte(fmt.Sprintf(`{"id":%q,"name":"stale"}`, doc.ID))
	if _, err := b.Update(ctx, doc, 1); !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	// AnyVersion overwrites regardless.
	doc.Body = []byte(fmt.Sprintf(`{"id":%q,"name":"blind"}`, doc.ID))
	blind, err := b.Update(ctx, doc, store.AnyVersion)
	if err != nil {
		t.Fatalf("Update AnyVersion: %v", err)
	}
	if blind.Version != 3 {
		t.Errorf("version = %d, want 3", blind.Version)
	}

	got, err := b.Get(ctx, KindWidget, doc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Body) != string(doc.Body) || got.Version != 3 {
		t.Errorf("unexpected stored document: version=%d body=%s", got.Version, got.Body)
	}
	if !got.CreatedAt.Equal(updated.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", updated.CreatedAt, got.CreatedAt)
	}
}

func testUpdateMissing(t *testing.T, b store.Backend) {
	doc := newDoc(KindWidget, nil, nil)
	for _, version := range []int64{1, store.AnyVersion} {
		if _, err := b.Update(context.Background(), doc, version); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("version %d: expected ErrNotFound, got %v", version, err)
		}
	}
}

func testUpdateMovesIndex(t *testing.T, b store.Backend) {
	ctx := context.Background()
	from, to := uuid.NewString(), uuid.NewString()
	doc := mustCreate(t, b, newDoc(KindWidget, map[string]string{"group": from}, nil))

	doc.Indexes = map[string]string{"group": to}
	if _, err := b.Update(ctx, doc, doc.Version); err != nil {
		t.Fatalf("Update: %v", err)
	}

	old, err := b.Find(ctx, KindWidget, store.By("group", from))
	if err != nil {
		t.Fatalf("Find old: %v", err)
	}
	if len(old) != 0 {
		t.Errorf("expected no documents under old index value, got %d", len(old))
	}
	moved, err := b.Find(ctx, KindWidget, store.By("group", to))
	if err != nil {
		t.Fatalf("Find new: %v", err)
	}
	if len(moved) != 1 || moved[0].ID != doc.ID {
		t.Errorf("expected %s under new index value, got %v", doc.ID, ids(moved))
	}
}

func testDelete(t *testing.T, b store.Backend) {
	ctx := context.Background()
	group := uuid.NewString()
	doc := mustCreate(t, b, newDoc(KindWidget, map[string]string{"group": group}, nil))

	if err := b.Delete(ctx, KindWidget, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Get(ctx, KindWidget, doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := b.Delete(ctx, KindWidget, doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	found, err := b.Find(ctx, KindWidget, store.By("group", group))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected deleted document to be excluded, got %v", ids(found))
	}
	if _, err := b.Update(ctx, doc, doc.Version); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound updating deleted document, got %v", err)
	}
}

func testFindByIndex(t *testing.T, b store.Backend) {
	ctx := context.Background()
	group, other := uuid.NewString(), uuid.NewString()
	a := mustCreate(t, b, newDoc(KindWidget, map[string]string{"group": group}, nil))
	c := mustCreate(t, b, newDoc(KindWidget, map[string]string{"group": group}, nil))
	mustCreate(t, b, newDoc(KindWidget, map[string]string{"group": other}, nil))
	mustCreate(t, b, newDoc(KindGadget, map[string]string{"group": group}, nil))

	found, err := b.Find(ctx, KindWidget, store.By("group", group))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	got := ids(found)
	if len(got) != 2 || !got[a.ID] || !got[c.ID] {
		t.Errorf("expected {%s, %s}, got %v", a.ID, c.ID, got)
	}
}

func testFindAll(t *testing.T, b store.Backend) {
	ctx := context.Background()
	a := mustCreate(t, b, newDoc(KindGadget, nil, nil))
	c := mustCreate(t, b, newDoc(KindGadget, map[string]string{"group": uuid.NewString()}, nil))

	found, err := b.Find(ctx, KindGadget, store.All())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	got := ids(found)
	if !got[a.ID] || !got[c.ID] {
		t.Errorf("expected %s and %s in %v", a.ID, c.ID, got)
	}
	for _, d := range found {
		if d.Kind != KindGadget {
			t.Errorf("Find returned %s of kind %q", d.ID, d.Kind)
		}
	}
}
