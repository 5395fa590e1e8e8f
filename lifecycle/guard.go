package lifecycle

import (
	"context"
	"errors"
)

// MaxDepth bounds how deeply hook-triggered writes may nest.
const MaxDepth = 8

// ErrDepthExceeded is returned when hook-triggered writes nest deeper than MaxDepth.
var ErrDepthExceeded = errors.New("lifecycle: hook nesting too deep")

type frameKey struct{}

type suppressKey struct{}

type frame struct {
	kind   string
	op     Op
	id     string
	depth  int
	parent *frame
}

// enter pushes (kind, op, id) onto the hook chain in ctx. run is false when
// the frame is already on the chain or hooks are suppressed for it.
func enter(ctx context.Context, kind string, op Op, id string) (context.Context, bool, error) {
	if suppressed(ctx, kind, op) {
		return ctx, false, nil
	}
	top, _ := ctx.Value(frameKey{}).(*frame)
	for f := top; f != nil; f = f.parent {
		if f.kind == kind && f.op == op && f.id == id {
			return ctx, false, nil
		}
	}
	depth := 1
	if top != nil {
		depth = top.depth + 1
	}
	if depth > MaxDepth {
		return ctx, false, ErrDepthExceeded
	}
	return context.WithValue(ctx, frameKey{}, &frame{kind: kind, op: op, id: id, depth: depth, parent: top}), true, nil
}

// Depth returns how many hook frames are active in ctx.
func Depth(ctx context.Context) int {
	if f, ok := ctx.Value(frameKey{}).(*frame); ok {
		return f.depth
	}
	return 0
}

// Active reports whether hooks for (kind, op, id) are currently running in ctx.
func Active(ctx context.Context, kind string, op Op, id string) bool {
	f, _ := ctx.Value(frameKey{}).(*frame)
	for ; f != nil; f = f.parent {
		if f.kind == kind && f.op == op && f.id == id {
			return true
		}
	}
	return false
}

// Suppress returns a context in which hooks of kind do not run for the given
// ops, or for any op when none are given.
func Suppress(ctx context.Context, kind string, ops ...Op) context.Context {
	prev, _ := ctx.Value(suppressKey{}).(map[string][]Op)
	next := make(map[string][]Op, len(prev)+1)
	for k, v := range prev {
		next[k] = v
	}
	if len(ops) == 0 {
		next[kind] = []Op{OpCreate, OpUpdate, OpDelete}
	} else {
		next[kind] = append(append([]Op(nil), next[kind]...), ops...)
	}
	return context.WithValue(ctx, suppressKey{}, next)
}

func suppressed(ctx context.Context, kind string, op Op) bool {
	m, _ := ctx.Value(suppressKey{}).(map[string][]Op)
	for _, o := range m[kind] {
		if o == op {
			return true
		}
	}
	return false
}
