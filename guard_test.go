package guardkit

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGuardMarker tests that a guard recognises its own in-flight call only
func TestGuardMarker(t *testing.T) {
	a := newGuard("a", nil)
	b := newGuard("b", nil)

	ctx, release, err := a.enter(context.Background())
	require.NoError(t, err)
	assert.True(t, a.owns(ctx))
	assert.False(t, b.owns(ctx))

	_, _, err = a.enter(ctx)
	assert.ErrorIs(t, err, ErrReentrantCall)

	// Another guard and nested reads on the same guard proceed.
	_, releaseB, err := b.enter(ctx)
	require.NoError(t, err)
	releaseB()
	a.read(ctx)()

	release()
	assert.False(t, a.owns(ctx), "a context outlives its call")

	_, release, err = a.enter(context.Background())
	require.NoError(t, err)
	release()
}

// TestGuardStaleContextLocks tests that a retained context does not bypass
// the lock of a later call
func TestGuardStaleContextLocks(t *testing.T) {
	g := newGuard("g", nil)

	stale, release, err := g.enter(context.Background())
	require.NoError(t, err)
	release()

	_, release, err = g.enter(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		g.read(stale)()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("read with a stale context did not wait for the lock")
	case <-time.After(50 * time.Millisecond):
	}
	release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read did not proceed after release")
	}
}

// TestGuardExternal tests that the lock is free during an outside call while
// mutating entries are rejected whatever context they carry
func TestGuardExternal(t *testing.T) {
	metrics, err := NewMetrics("guardkit_guard", prometheus.NewRegistry())
	require.NoError(t, err)
	g := newGuard("timelock", metrics)

	ctx, release, err := g.enter(context.Background())
	require.NoError(t, err)

	g.external(func() {
		_, _, err := g.enter(context.Background())
		assert.ErrorIs(t, err, ErrReentrantCall)
		_, _, err = g.enter(ctx)
		assert.ErrorIs(t, err, ErrReentrantCall)

		// Reads lock normally, with either context.
		g.read(context.Background())()
		g.read(ctx)()
	})

	assert.True(t, g.owns(ctx), "the call holds the lock again")
	release()

	_, release, err = g.enter(context.Background())
	require.NoError(t, err)
	release()
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.reentrancyRejection.WithLabelValues("timelock")))
}

// TestGuardExternalPanic tests that a panicking outside call leaves the guard
// usable
func TestGuardExternalPanic(t *testing.T) {
	g := newGuard("g", nil)

	func() {
		_, release, err := g.enter(context.Background())
		require.NoError(t, err)
		defer release()
		defer func() { assert.NotNil(t, recover()) }()
		g.external(func() { panic("boom") })
	}()

	_, release, err := g.enter(context.Background())
	require.NoError(t, err)
	release()
}
