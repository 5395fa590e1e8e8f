package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tradojo/booking/lifecycle"
)

// Collection is the typed view of one kind on a Backend. Every write goes
// through the collection's hook table.
type Collection[T Entity] struct {
	backend Backend
	kind    Kind
	config  Config
	hooks   *lifecycle.Hooks[T]
}

// NewCollection creates a Collection for T's kind.
func NewCollection[T Entity](backend Backend, config Config) *Collection[T] {
	config.validate()
	var zero T
	kind := zero.EntityKind()
	return &Collection[T]{
		backend: backend,
		kind:    kind,
		config:  config,
		hooks:   lifecycle.NewHooks[T](string(kind)),
	}
}

// Kind returns the collection's kind.
func (c *Collection[T]) Kind() Kind {
	return c.kind
}

// Hooks returns the collection's hook table.
func (c *Collection[T]) Hooks() *lifecycle.Hooks[T] {
	return c.hooks
}

// Get returns the entity with id or ErrNotFound.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	v, _, err := c.load(ctx, id)
	return v, err
}

// Find returns the entities selected by filter for which match returns true.
// A nil match accepts every entity.
func (c *Collection[T]) Find(ctx context.Context, filter Filter, match func(T) bool) ([]T, error) {
	var docs []Document
	err := c.call(ctx, func(ctx context.Context) (err error) {
		docs, err = c.backend.Find(ctx, c.kind, filter)
		return err
	})
	if err != nil {
		return nil, classify("find", c.kind, "", err)
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := c.decode(doc)
		if err != nil {
			return nil, err
		}
		if match == nil || match(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Create stores a new entity. Before-hooks may adjust the value; the stored
// value is returned. A non-nil error together with a populated value means
// the entity was written but an after-hook failed.
func (c *Collection[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	m := &lifecycle.Mutation[T]{
		Kind:    string(c.kind),
		Op:      lifecycle.OpCreate,
		ID:      v.EntityID(),
		Current: &v,
		Outcome: lifecycle.NewOutcome(),
	}
	if err := c.hooks.RunBefore(ctx, m); err != nil {
		return zero, err
	}

	doc, err := c.encode(*m.Current)
	if err != nil {
		return zero, err
	}
	var stored Document
	err = c.call(ctx, func(ctx context.Context) (err error) {
		stored, err = c.backend.Create(ctx, doc)
		return err
	})
	if err != nil {
		return zero, classify("create", c.kind, doc.ID, err)
	}
	created, err := c.decode(stored)
	if err != nil {
		return zero, err
	}

	m.Current = &created
	return created, c.hooks.RunAfter(ctx, m)
}

// Mutate applies fn to the stored entity and writes the result back
// conditioned on the version it read. When another writer wins the race the
// entity is re-read and fn and the before-hooks run again, up to
// Config.MaxConflictRetries times. fn returning SkipWrite leaves the entity
// untouched.
func (c *Collection[T]) Mutate(ctx context.Context, id string, fn func(*T) error) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		prev, doc, err := c.load(ctx, id)
		if err != nil {
			return zero, err
		}
		next, err := c.decode(doc)
		if err != nil {
			return zero, err
		}
		if err := fn(&next); err != nil {
			if errors.Is(err, SkipWrite) {
				return prev, nil
			}
			return zero, err
		}

		updated, err := c.update(ctx, &prev, &next, doc, doc.Version)
		if errors.Is(err, ErrConcurrentModification) && attempt < c.config.MaxConflictRetries {
			continue
		}
		return updated, err
	}
}

// Overwrite replaces the stored entity with v without a version check. A
// concurrent update made between the read and the write is lost.
func (c *Collection[T]) Overwrite(ctx context.Context, v T) (T, error) {
	prev, doc, err := c.load(ctx, v.EntityID())
	if err != nil {
		var zero T
		return zero, err
	}
	return c.update(ctx, &prev, &v, doc, AnyVersion)
}

func (c *Collection[T]) update(ctx context.Context, prev, next *T, current Document, expectedVersion int64) (T, error) {
	var zero T
	m := &lifecycle.Mutation[T]{
		Kind:     string(c.kind),
		Op:       lifecycle.OpUpdate,
		ID:       current.ID,
		Previous: prev,
		Current:  next,
		Outcome:  lifecycle.NewOutcome(),
	}
	if err := c.hooks.RunBefore(ctx, m); err != nil {
		return zero, err
	}

	doc, err := c.encode(*m.Current)
	if err != nil {
		return zero, err
	}
	if doc.ID != current.ID {
		return zero, fmt.Errorf("store: update %s/%s: entity id changed to %q", c.kind, current.ID, doc.ID)
	}
	doc.CreatedAt = current.CreatedAt

	var stored Document
	err = c.call(ctx, func(ctx context.Context) (err error) {
		stored, err = c.backend.Update(ctx, doc, expectedVersion)
		return err
	})
	if err != nil {
		return zero, classify("update", c.kind, doc.ID, err)
	}
	updated, err := c.decode(stored)
	if err != nil {
		return zero, err
	}

	m.Current = &updated
	return updated, c.hooks.RunAfter(ctx, m)
}

// Delete removes the entity with id. The returned Outcome carries whatever
// the hooks reported; it is non-nil even when err is.
func (c *Collection[T]) Delete(ctx context.Context, id string) (*lifecycle.Outcome, error) {
	outcome := lifecycle.NewOutcome()
	current, _, err := c.load(ctx, id)
	if err != nil {
		return outcome, err
	}

	m := &lifecycle.Mutation[T]{
		Kind:     string(c.kind),
		Op:       lifecycle.OpDelete,
		ID:       id,
		Previous: &current,
		Current:  &current,
		Outcome:  outcome,
	}
	if err := c.hooks.RunBefore(ctx, m); err != nil {
		return outcome, err
	}

	err = c.call(ctx, func(ctx context.Context) error {
		return c.backend.Delete(ctx, c.kind, id)
	})
	if err != nil {
		return outcome, classify("delete", c.kind, id, err)
	}

	return outcome, c.hooks.RunAfter(ctx, m)
}

func (c *Collection[T]) load(ctx context.Context, id string) (T, Document, error) {
	var zero T
	var doc Document
	err := c.call(ctx, func(ctx context.Context) (err error) {
		doc, err = c.backend.Get(ctx, c.kind, id)
		return err
	})
	if err != nil {
		return zero, Document{}, classify("get", c.kind, id, err)
	}
	v, err := c.decode(doc)
	if err != nil {
		return zero, Document{}, err
	}
	return v, doc, nil
}

// call runs fn bounded by the configured per-operation timeout.
func (c *Collection[T]) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()
	return fn(ctx)
}

func (c *Collection[T]) encode(v T) (Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("store: encode %s/%s: %w", c.kind, v.EntityID(), err)
	}
	doc := Document{
		Kind: c.kind,
		ID:   v.EntityID(),
		Body: body,
	}
	if ix, ok := any(v).(Indexer); ok {
		doc.Indexes = nonEmpty(ix.Indexes())
	}
	if uf, ok := any(v).(UniqueFielder); ok {
		doc.Unique = nonEmpty(uf.UniqueFields())
	}
	return doc, nil
}

func (c *Collection[T]) decode(doc Document) (T, error) {
	var v T
	if err := json.Unmarshal(doc.Body, &v); err != nil {
		return v, fmt.Errorf("store: decode %s/%s: %w", c.kind, doc.ID, err)
	}
	return v, nil
}

func nonEmpty(m map[string]string) map[string]string {
	var out map[string]string
	for k, v := range m {
		if v == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(m))
		}
		out[k] = v
	}
	return out
}
