// Package memstore is an in-process store.Backend for tests and local runs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tradojo/booking/store"
)

type uniqueKey struct {
	kind  store.Kind
	field string
	value string
}

// Store keeps documents in maps guarded by a single lock.
type Store struct {
	mu     sync.RWMutex
	docs   map[store.Kind]map[string]store.Document
	unique map[uniqueKey]string
	now    func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		docs:   make(map[store.Kind]map[string]store.Document),
		unique: make(map[uniqueKey]string),
		now:    time.Now,
	}
}

// Get returns the document or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, kind store.Kind, id string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[kind][id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return store.CloneDocument(doc), nil
}

// Find returns matching documents ordered by creation time.
func (s *Store) Find(ctx context.Context, kind store.Kind, filter store.Filter) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Document
	for _, doc := range s.docs[kind] {
		if filter.Matches(doc) {
			out = append(out, store.CloneDocument(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Create stores doc with version 1.
func (s *Store) Create(ctx context.Context, doc store.Document) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.Kind][doc.ID]; ok {
		return store.Document{}, store.ErrAlreadyExists
	}
	if s.uniqueTaken(doc) {
		return store.Document{}, store.ErrDuplicateValue
	}

	now := s.now().UTC()
	doc = store.CloneDocument(doc)
	doc.Version = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if s.docs[doc.Kind] == nil {
		s.docs[doc.Kind] = make(map[string]store.Document)
	}
	s.docs[doc.Kind][doc.ID] = doc
	s.claimUnique(doc)
	return store.CloneDocument(doc), nil
}

// Update replaces doc if the stored version matches expectedVersion.
func (s *Store) Update(ctx context.Context, doc store.Document, expectedVersion int64) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.docs[doc.Kind][doc.ID]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	if expectedVersion != store.AnyVersion && current.Version != expectedVersion {
		return store.Document{}, store.ErrConcurrentModification
	}
	if s.uniqueTaken(doc) {
		return store.Document{}, store.ErrDuplicateValue
	}

	doc = store.CloneDocument(doc)
	doc.Version = current.Version + 1
	doc.CreatedAt = current.CreatedAt
	doc.UpdatedAt = s.now().UTC()

	s.releaseUnique(current)
	s.docs[doc.Kind][doc.ID] = doc
	s.claimUnique(doc)
	return store.CloneDocument(doc), nil
}

// Delete removes the document.
func (s *Store) Delete(ctx context.Context, kind store.Kind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.docs[kind][id]
	if !ok {
		return store.ErrNotFound
	}
	s.releaseUnique(current)
	delete(s.docs[kind], id)
	return nil
}

// Len returns the number of documents of kind.
func (s *Store) Len(kind store.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[kind])
}

// uniqueTaken reports whether another document holds one of doc's unique values.
func (s *Store) uniqueTaken(doc store.Document) bool {
	for field, value := range doc.Unique {
		if owner, ok := s.unique[uniqueKey{doc.Kind, field, value}]; ok && owner != doc.ID {
			return true
		}
	}
	return false
}

func (s *Store) claimUnique(doc store.Document) {
	for field, value := range doc.Unique {
		s.unique[uniqueKey{doc.Kind, field, value}] = doc.ID
	}
}

func (s *Store) releaseUnique(doc store.Document) {
	for field, value := range doc.Unique {
		key := uniqueKey{doc.Kind, field, value}
		if s.unique[key] == doc.ID {
			delete(s.unique, key)
		}
	}
}

var _ store.Backend = (*Store)(nil)
