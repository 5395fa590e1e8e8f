// Package lifecycle dispatches typed hooks around entity writes.
//
// Hooks are registered per collection and per operation. Before-hooks run in
// registration order ahead of the write and may modify the value about to be
// persisted; the first failure aborts the write. After-hooks run in
// registration order once the write has committed; every one of them runs and
// their failures are reported together without undoing the write.
//
// A hook that writes to another collection triggers that collection's hooks
// in turn. The dispatcher records the chain of (kind, op, id) frames in the
// context: re-entering a frame already on the chain runs the write without
// hooks, and chains deeper than MaxDepth fail with ErrDepthExceeded.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Op is a write operation hooks can be attached to.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Phase says whether a hook runs before or after the write.
type Phase string

const (
	Before Phase = "before"
	After  Phase = "after"
)

// Mutation describes the write a hook is observing.
type Mutation[T any] struct {
	Kind string
	Op   Op
	ID   string

	// Previous is the stored value before the write. Nil on create.
	Previous *T

	// Current is the value being written. Before-hooks may modify it. On
	// delete it points at the removed value.
	Current *T

	// Outcome collects warnings and counters for the caller.
	Outcome *Outcome
}

// Hook is a lifecycle callback.
type Hook[T any] func(ctx context.Context, m *Mutation[T]) error

type registered[T any] struct {
	name string
	fn   Hook[T]
}

// Hooks is the hook table of one collection.
type Hooks[T any] struct {
	kind string

	mu     sync.RWMutex
	before map[Op][]registered[T]
	after  map[Op][]registered[T]
}

// NewHooks creates an empty hook table for kind.
func NewHooks[T any](kind string) *Hooks[T] {
	return &Hooks[T]{
		kind:   kind,
		before: make(map[Op][]registered[T]),
		after:  make(map[Op][]registered[T]),
	}
}

// Kind returns the collection kind the table belongs to.
func (h *Hooks[T]) Kind() string {
	return h.kind
}

// Before registers fn to run before op is written.
func (h *Hooks[T]) Before(op Op, name string, fn Hook[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.before[op] = append(h.before[op], registered[T]{name: name, fn: fn})
}

// After registers fn to run after op has been written.
func (h *Hooks[T]) After(op Op, name string, fn Hook[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.after[op] = append(h.after[op], registered[T]{name: name, fn: fn})
}

// Names returns the registered hook names for phase and op, in run order.
func (h *Hooks[T]) Names(phase Phase, op Op) []string {
	var names []string
	for _, r := range h.list(phase, op) {
		names = append(names, r.name)
	}
	return names
}

func (h *Hooks[T]) list(phase Phase, op Op) []registered[T] {
	h.mu.RLock()
	defer h.mu.RUnlock()
	src := h.before[op]
	if phase == After {
		src = h.after[op]
	}
	out := make([]registered[T], len(src))
	copy(out, src)
	return out
}

// RunBefore runs the before-hooks for m.Op. It stops at the first failure
// and returns it as a *HookError.
func (h *Hooks[T]) RunBefore(ctx context.Context, m *Mutation[T]) error {
	hooks := h.list(Before, m.Op)
	if len(hooks) == 0 {
		return nil
	}
	ctx, run, err := enter(ctx, h.kind, m.Op, m.ID)
	if err != nil {
		return &HookError{Kind: h.kind, Op: m.Op, Phase: Before, Err: err}
	}
	if !run {
		return nil
	}
	for _, r := range hooks {
		if err := r.fn(ctx, m); err != nil {
			return &HookError{Kind: h.kind, Op: m.Op, Phase: Before, Hook: r.name, Err: err}
		}
	}
	return nil
}

// RunAfter runs every after-hook for m.Op and returns their failures joined
// in a single *HookError, or nil.
func (h *Hooks[T]) RunAfter(ctx context.Context, m *Mutation[T]) error {
	hooks := h.list(After, m.Op)
	if len(hooks) == 0 {
		return nil
	}
	ctx, run, err := enter(ctx, h.kind, m.Op, m.ID)
	if err != nil {
		return &HookError{Kind: h.kind, Op: m.Op, Phase: After, Err: err}
	}
	if !run {
		return nil
	}
	var (
		failed []string
		errs   []error
	)
	for _, r := range hooks {
		if err := r.fn(ctx, m); err != nil {
			failed = append(failed, r.name)
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &HookError{
		Kind:  h.kind,
		Op:    m.Op,
		Phase: After,
		Hook:  strings.Join(failed, ","),
		Err:   errors.Join(errs...),
	}
}

// HookError reports a failed hook. For the after phase Hook lists every
// failed hook and Err joins their errors.
type HookError struct {
	Kind  string
	Op    Op
	Phase Phase
	Hook  string
	Err   error
}

func (e *HookError) Error() string {
	if e.Hook == "" {
		return fmt.Sprintf("lifecycle: %s %s %s: %v", e.Kind, e.Phase, e.Op, e.Err)
	}
	return fmt.Sprintf("lifecycle: %s %s %s hook %s: %v", e.Kind, e.Phase, e.Op, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// IsAfterHookError reports whether err came from after-hooks, meaning the
// write itself committed.
func IsAfterHookError(err error) bool {
	var he *HookError
	return errors.As(err, &he) && he.Phase == After
}
