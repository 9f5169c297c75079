package guardkit

import (
	"context"
	"sync"
	"sync/atomic"
)

// guard serialises the entry points of one component and rejects nested
// mutating calls.
//
// A guarded call holds the lock only while it touches the component's own
// state. Calls out to other contracts run through external, which releases
// the lock and marks the component busy; any mutating entry made while it is
// busy fails with ErrReentrantCall, whatever context the caller uses.
//
// The context returned by enter is only valid for the duration of the call and
// on the calling goroutine. Reads made with it while the call still holds the
// lock skip locking; once the call returns the marker no longer matches and a
// retained context locks like any other.
type guard struct {
	mu        sync.Mutex
	busy      bool
	holder    atomic.Pointer[guardCall]
	component string
	metrics   *Metrics
}

type guardMarker struct {
	g *guard
}

// guardCall identifies one in-flight guarded call.
type guardCall struct{}

func newGuard(component string, metrics *Metrics) *guard {
	return &guard{component: component, metrics: metrics}
}

// enter locks the component for a mutating call. The returned release must be
// deferred by the caller.
func (g *guard) enter(ctx context.Context) (context.Context, func(), error) {
	if g.owns(ctx) {
		return ctx, func() {}, g.reject(ctx)
	}
	g.mu.Lock()
	if g.busy {
		g.mu.Unlock()
		return ctx, func() {}, g.reject(ctx)
	}
	call := &guardCall{}
	g.holder.Store(call)
	release := func() {
		g.holder.Store(nil)
		g.mu.Unlock()
	}
	return context.WithValue(ctx, guardMarker{g: g}, call), release, nil
}

// external runs fn without the lock while the component is marked busy. It
// must be called from inside a guarded call; the lock is held again when it
// returns, also when fn panics.
func (g *guard) external(fn func()) {
	call := g.holder.Load()
	g.busy = true
	g.holder.Store(nil)
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.busy = false
		g.holder.Store(call)
	}()
	fn()
}

// read locks the component for a read. Reads nested inside a guarded call
// that still holds the lock proceed without it.
func (g *guard) read(ctx context.Context) func() {
	if g.owns(ctx) {
		return func() {}
	}
	g.mu.Lock()
	return g.mu.Unlock
}

// owns reports whether ctx belongs to the call currently holding the lock.
func (g *guard) owns(ctx context.Context) bool {
	call, _ := ctx.Value(guardMarker{g: g}).(*guardCall)
	return call != nil && g.holder.Load() == call
}

func (g *guard) reject(ctx context.Context) error {
	g.metrics.reentrancyRejected(g.component)
	return NewError(ErrReentrantCall, g.component).WithCaller(GetCaller(ctx))
}
