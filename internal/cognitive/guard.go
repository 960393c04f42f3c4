package cognitive

import (
	"sync"
	"sync/atomic"
)

// guarded holds a value behind its own mutex. Mutations run on a copy and
// are committed only if they return normally; a panic inside a mutation is
// recovered, the previous value is kept and onRecover is invoked after the
// lock has been released.
type guarded[T any] struct {
	name string

	mu    sync.Mutex
	value T

	recoveries *atomic.Uint64
	onRecover  func(section string, v any)
}

func newGuarded[T any](name string, v T, recoveries *atomic.Uint64, onRecover func(string, any)) *guarded[T] {
	return &guarded[T]{
		name:       name,
		value:      v,
		recoveries: recoveries,
		onRecover:  onRecover,
	}
}

// load returns a copy of the current value.
func (g *guarded[T]) load() T {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// store replaces the value.
func (g *guarded[T]) store(v T) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// update applies fn to a copy of the value and commits the result. It returns
// the committed value and whether fn completed.
func (g *guarded[T]) update(fn func(T) T) (T, bool) {
	g.mu.Lock()
	next, recovered, ok := try(fn, g.value)
	if ok {
		g.value = next
	}
	current := g.value
	g.mu.Unlock()

	if !ok {
		g.recovered(recovered)
	}
	return current, ok
}

func (g *guarded[T]) recovered(v any) {
	if g.recoveries != nil {
		g.recoveries.Add(1)
	}
	if g.onRecover == nil {
		return
	}
	// A failing hook must not take the caller down with it.
	defer func() { _ = recover() }()
	g.onRecover(g.name, v)
}

// try calls fn and converts a panic into ok == false.
func try[T any](fn func(T) T, in T) (out T, recovered any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			out, recovered, ok = in, r, false
		}
	}()
	return fn(in), nil, true
}
