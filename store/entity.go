package store

import (
	"context"
	"time"
)

// Kind names a collection of documents (e.g. "user", "travel").
type Kind string

// AnyVersion passed to Backend.Update skips the version check. The write
// then overwrites whatever is stored and can lose a concurrent update.
const AnyVersion int64 = 0

// Entity is the base interface for all storable types.
type Entity interface {
	// EntityKind returns the collection this entity is stored in.
	EntityKind() Kind

	// EntityID returns the entity's primary key.
	EntityID() string
}

// Indexer is implemented by entities that can be looked up by attribute.
type Indexer interface {
	// Indexes returns index name to value mappings. Empty values are not indexed.
	Indexes() map[string]string
}

// UniqueFielder is implemented by entities with unique field constraints.
type UniqueFielder interface {
	// UniqueFields returns field name to value mappings for fields
	// that must be unique within the entity's kind.
	UniqueFields() map[string]string
}

// Document is the backend-neutral persisted form of one entity.
type Document struct {
	Kind Kind
	ID   string

	// Version is the optimistic lock version. Backends set it to 1 on create
	// and increment it on every update.
	Version int64

	// Body is the JSON encoding of the entity.
	Body []byte

	Indexes map[string]string
	Unique  map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter selects documents of one kind by an indexed attribute.
// The zero Filter matches every document of the kind.
type Filter struct {
	Index string
	Value string
}

// All returns a filter matching every document.
func All() Filter { return Filter{} }

// By returns a filter matching documents whose index equals value.
func By(index, value string) Filter { return Filter{Index: index, Value: value} }

// Matches reports whether doc satisfies the filter.
func (f Filter) Matches(doc Document) bool {
	if f.Index == "" {
		return true
	}
	v, ok := doc.Indexes[f.Index]
	return ok && v == f.Value
}

// Backend is the keyed document store a Collection persists through.
//
// Implementations must provide per-document atomicity and a version check on
// Update; nothing across documents is assumed.
type Backend interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, kind Kind, id string) (Document, error)

	// Find returns every live document of kind matching the filter, in no
	// particular order.
	Find(ctx context.Context, kind Kind, filter Filter) ([]Document, error)

	// Create stores a new document with Version 1. It fails with
	// ErrAlreadyExists when the ID is taken and ErrDuplicateValue when a
	// unique field collides.
	Create(ctx context.Context, doc Document) (Document, error)

	// Update replaces the document if its stored version equals
	// expectedVersion (or unconditionally for AnyVersion) and returns it with
	// the new version. It fails with ErrNotFound, ErrConcurrentModification
	// or ErrDuplicateValue.
	Update(ctx context.Context, doc Document, expectedVersion int64) (Document, error)

	// Delete removes the document or fails with ErrNotFound.
	Delete(ctx context.Context, kind Kind, id string) error
}

// CloneDocument returns a deep copy of doc.
func CloneDocument(doc Document) Document {
	out := doc
	if doc.Body != nil {
		out.Body = append([]byte(nil), doc.Body...)
	}
	out.Indexes = cloneStrings(doc.Indexes)
	out.Unique = cloneStrings(doc.Unique)
	return out
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
