package guardkit

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics("", reg)
	require.NoError(t, err)

	// Registering the same collectors twice fails.
	_, err = NewMetrics("", reg)
	assert.Error(t, err)

	m, err := NewMetrics("other", nil)
	require.NoError(t, err)
	assert.NotNil(t, m)

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.roleChanged(EventRoleGranted)
		nilMetrics.actionEvent(EventActionProposed)
		nilMetrics.providerFailed("q")
		nilMetrics.reentrancyRejected("c")
		nilMetrics.pauseObserved("c", true)
		nilMetrics.auditFailed()
	})
}

func TestMetricsAreRecorded(t *testing.T) {
	metrics, err := NewMetrics("guardkit_test", prometheus.NewRegistry())
	require.NoError(t, err)
	env := newTestEnv(t, WithMetrics(metrics))

	// Only the vault was built with metrics; exercise it and a timelock that uses them too.
	timelock, err := NewEmergencyActionTimelock(testAddr(0x72), env.registry, env.dir, env.opts(WithMetrics(metrics))...)
	require.NoError(t, err)
	require.NoError(t, env.registry.GrantRole(env.as(admin), EmergencyRole, testAddr(0x72)))
	ctx := env.as(operator)
	require.NoError(t, timelock.SetAllowedTarget(ctx, vaultAddr, true))
	require.NoError(t, timelock.SetAllowedFunctionSelector(ctx, SelectorFromSignature(SigPause), true))
	id, err := timelock.ProposeEmergencyAction(ctx, LevelAlert, vaultAddr, NewPayload(SigPause))
	require.NoError(t, err)
	require.NoError(t, timelock.CancelEmergencyAction(ctx, id))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.actions.WithLabelValues(string(EventActionProposed))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.actions.WithLabelValues(string(EventActionCancelled))))

	require.NoError(t, env.controller.PauseSystem(ctx))
	assert.True(t, env.vault.IsEffectivelyPaused(ctx))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.effectivePause.WithLabelValues(componentAware)))

	require.NoError(t, env.dir.Deploy(brokenAddr, &brokenProvider{err: errors.New("down")}))
	require.NoError(t, env.vault.SetEmergencyController(env.as(admin), brokenAddr))
	env.vault.IsEffectivelyPaused(context.Background())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.providerFailures.WithLabelValues("is_system_paused")))
}

func TestReentrancyMetric(t *testing.T) {
	metrics, err := NewMetrics("guardkit_reentry", prometheus.NewRegistry())
	require.NoError(t, err)
	g := newGuard("timelock", metrics)

	ctx, release, err := g.enter(context.Background())
	require.NoError(t, err)
	defer release()
	_, _, err = g.enter(ctx)
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.reentrancyRejection.WithLabelValues("timelock")))
}

func TestRoleChangeMetric(t *testing.T) {
	metrics, err := NewMetrics("guardkit_roles", prometheus.NewRegistry())
	require.NoError(t, err)
	registry, err := NewRoleRegistry(admin, WithMetrics(metrics))
	require.NoError(t, err)
	ctx := WithCaller(context.Background(), admin)

	require.NoError(t, registry.GrantRole(ctx, PauserRole, alice))
	require.NoError(t, registry.GrantRole(ctx, PauserRole, alice))
	require.NoError(t, registry.RevokeRole(ctx, PauserRole, alice))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.roleChanges.WithLabelValues(string(EventRoleGranted))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.roleChanges.WithLabelValues(string(EventRoleRevoked))))
}
