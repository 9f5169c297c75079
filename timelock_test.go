package guardkit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deployTarget deploys a recording contract at targetAddr and allowlists sig on it.
func deployTarget(t *testing.T, env *testEnv, sig string) *recordingContract {
	t.Helper()
	target := &recordingContract{result: []byte("ok")}
	require.NoError(t, env.dir.Deploy(targetAddr, target))
	env.allow(targetAddr, sig)
	return target
}

func TestNewEmergencyActionTimelock(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, DefaultTimelockDuration, env.timelock.TimelockDuration(context.Background()))
	assert.Equal(t, tlAddr, env.timelock.Address())

	_, err := NewEmergencyActionTimelock(tlAddr, env.registry, env.dir, WithTimelockDuration(time.Minute))
	assert.True(t, errors.Is(err, ErrInvalidDuration))

	_, err = NewEmergencyActionTimelock(Address{}, env.registry, env.dir)
	assert.True(t, errors.Is(err, ErrInvalidAccount))
}

func TestAllowlists(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.as(operator)
	sel := SelectorFromSignature(SigPause)

	t.Run("Requires emergency role", func(t *testing.T) {
		err := env.timelock.SetAllowedTarget(env.as(outsider), targetAddr, true)
		assert.True(t, errors.Is(err, ErrNotAuthorized))
		role, ok := RequiredRole(err)
		require.True(t, ok)
		assert.Equal(t, EmergencyRole, role)

		err = env.timelock.SetAllowedFunctionSelector(env.as(admin), sel, true)
		assert.True(t, errors.Is(err, ErrNotAuthorized))
	})

	t.Run("Zero values", func(t *testing.T) {
		assert.True(t, errors.Is(env.timelock.SetAllowedTarget(ctx, Address{}, true), ErrInvalidAccount))
		assert.True(t, errors.Is(env.timelock.SetAllowedFunctionSelector(ctx, Selector{}, true), ErrInvalidAmount))
	})

	t.Run("Add and remove", func(t *testing.T) {
		require.NoError(t, env.timelock.SetAllowedTarget(ctx, targetAddr, true))
		require.NoError(t, env.timelock.SetAllowedFunctionSelector(ctx, sel, true))
		assert.True(t, env.timelock.IsTargetAllowed(ctx, targetAddr))
		assert.True(t, env.timelock.IsFunctionSelectorAllowed(ctx, sel))

		require.NoError(t, env.timelock.SetAllowedTarget(ctx, targetAddr, false))
		assert.False(t, env.timelock.IsTargetAllowed(ctx, targetAddr))
		assert.Len(t, env.events(EventTargetAllowlisted), 2)
		assert.Len(t, env.events(EventSelectorAllowlisted), 1)
	})
}

func TestProposeEmergencyAction(t *testing.T) {
	env := newTestEnv(t)
	deployTarget(t, env, SigPause)
	ctx := env.as(operator)
	payload := NewPayload(SigPause)

	t.Run("Success", func(t *testing.T) {
		id, err := env.timelock.ProposeEmergencyAction(ctx, LevelAlert, targetAddr, payload)
		require.NoError(t, err)
		assert.False(t, id.IsZero())
		assert.Equal(t, ComputeActionID(env.clock.Now(), LevelAlert, operator, targetAddr, payload), id)

		details, err := env.timelock.GetActionDetails(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, details.ID)
		assert.Equal(t, LevelAlert, details.Level)
		assert.Equal(t, operator, details.Proposer)
		assert.Equal(t, targetAddr, details.Target)
		assert.Equal(t, payload, details.Payload)
		assert.True(t, env.clock.Now().Equal(details.ProposedAt))
		assert.False(t, details.Executed)
		assert.False(t, details.Cancelled)

		status := env.timelock.GetActionStatus(ctx, id)
		assert.True(t, status.Exists)
		assert.Equal(t, DefaultTimelockDuration, status.TimeRemaining)

		events := env.events(EventActionProposed)
		require.Len(t, events, 1)
		assert.Equal(t, id.Hex(), events[0].Attributes["action_id"])
		assert.Equal(t, SelectorFromSignature(SigPause).Hex(), events[0].Attributes["selector"])
	})

	t.Run("Duplicate in the same second", func(t *testing.T) {
		env.clock.Advance(300 * time.Millisecond)
		_, err := env.timelock.ProposeEmergencyAction(ctx, LevelAlert, targetAddr, payload)
		assert.True(t, errors.Is(err, ErrDuplicateAction))
		assert.True(t, errors.Is(err, ErrInvalidAmount))
	})

	t.Run("Next second yields a distinct id", func(t *testing.T) {
		env.clock.Advance(time.Second)
		id, err := env.timelock.ProposeEmergencyAction(ctx, LevelAlert, targetAddr, payload)
		require.NoError(t, err)
		assert.Len(t, env.timelock.GetAllActionIDs(ctx), 2)
		assert.Equal(t, id, env.timelock.GetAllActionIDs(ctx)[1])
	})

	t.Run("Validation order", func(t *testing.T) {
		_, err := env.timelock.ProposeEmergencyAction(env.as(outsider), LevelAlert, targetAddr, payload)
		assert.True(t, errors.Is(err, ErrNotAuthorized))

		_, err = env.timelock.ProposeEmergencyAction(ctx, Level(4), targetAddr, payload)
		assert.True(t, errors.Is(err, ErrInvalidLevel))

		_, err = env.timelock.ProposeEmergencyAction(ctx, LevelAlert, Address{}, payload)
		assert.True(t, errors.Is(err, ErrInvalidAccount))

		_, err = env.timelock.ProposeEmergencyAction(ctx, LevelAlert, targetAddr, []byte{0x01})
		assert.True(t, errors.Is(err, ErrInvalidPayload))

		_, err = env.timelock.ProposeEmergencyAction(ctx, LevelAlert, bob, payload)
		assert.True(t, errors.Is(err, ErrNotAuthorized))

		_, err = env.timelock.ProposeEmergencyAction(ctx, LevelAlert, targetAddr, NewPayload(SigUnpause))
		assert.True(t, errors.Is(err, ErrNotAuthorized))
	})
}

func TestExecuteEmergencyAction(t *testing.T) {
	env := newTestEnv(t)
	target := deployTarget(t, env, SigPause)
	ctx := env.as(operator)

	id, err := env.timelock.ProposeEmergencyAction(ctx, LevelAlert, targetAddr, NewPayload(SigPause))
	require.NoError(t, err)

	t.Run("Before expiry", func(t *testing.T) {
		env.clock.Advance(DefaultTimelockDuration - time.Second)
		_, err := env.timelock.ExecuteEmergencyAction(ctx, id)
		assert.True(t, errors.Is(err, ErrTimelockNotYetExpired))
		assert.Equal(t, time.Second, env.timelock.GetActionStatus(ctx, id).TimeRemaining)
		assert.Zero(t, target.callCount())
	})

	t.Run("Requires emergency role", func(t *testing.T) {
		env.clock.Advance(time.Second)
		_, err := env.timelock.ExecuteEmergencyAction(env.as(outsider), id)
		assert.True(t, errors.Is(err, ErrNotAuthorized))
	})

	t.Run("At exactly the expiry", func(t *testing.T) {
		out, err := env.timelock.ExecuteEmergencyAction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []byte("ok"), out)
		require.Equal(t, 1, target.callCount())
		assert.Equal(t, tlAddr, target.caller[0])
		assert.Equal(t, NewPayload(SigPause), target.calls[0])

		status := env.timelock.GetActionStatus(ctx, id)
		assert.True(t, status.Executed)
		assert.Zero(t, status.TimeRemaining)

		details, err := env.timelock.GetActionDetails(ctx, id)
		require.NoError(t, err)
		assert.True(t, env.clock.Now().Equal(details.ExecutedAt))
		assert.Len(t, env.events(EventActionExecuted), 1)
	})

	t.Run("Twice", func(t *testing.T) {
		_, err := env.timelock.ExecuteEmergencyAction(ctx, id)
		assert.True(t, errors.Is(err, ErrActionAlreadyExecuted))
		assert.True(t, IsStateError(err))
		assert.Equal(t, 1, target.callCount())
	})

	t.Run("Unknown id", func(t *testing.T) {
		_, err := env.timelock.ExecuteEmergencyAction(ctx, ActionID{0x01})
		assert.True(t, errors.Is(err, ErrActionNotFound))
	})
}

func TestExecuteRechecksAllowlists(t *testing.T) {
	selector := SelectorFromSignature(SigPause)
	tests := []struct {
		name   string
		revoke func(tl *EmergencyActionTimelock, ctx context.Context) error
		allow  func(tl *EmergencyActionTimelock, ctx context.Context) error
	}{
		{
			name: "target removed",
			revoke: func(tl *EmergencyActionTimelock, ctx context.Context) error {
				return tl.SetAllowedTarget(ctx, targetAddr, false)
			},
			allow: func(tl *EmergencyActionTimelock, ctx context.Context) error {
				return tl.SetAllowedTarget(ctx, targetAddr, true)
			},
		},
		{
			name: "selector removed",
			revoke: func(tl *EmergencyActionTimelock, ctx context.Context) error {
				return tl.SetAllowedFunctionSelector(ctx, selector, false)
			},
			allow: func(tl *EmergencyActionTimelock, ctx context.Context) error {
				return tl.SetAllowedFunctionSelector(ctx, selector, true)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			target := deployTarget(t, env, SigPause)
			ctx := env.as(operator)

			id, err := env.timelock.ProposeEmergencyAction(ctx, LevelAlert, targetAddr, NewPayload(SigPause))
			require.NoError(t, err)
			require.NoError(t, tt.revoke(env.timelock, ctx))
			env.clock.Advance(DefaultTimelockDuration)

			_, err = env.timelock.ExecuteEmergencyAction(ctx, id)
			require.True(t, errors.Is(err, ErrNotAuthorized))
			var gkErr *Error
			require.True(t, errors.As(err, &gkErr))
			require.NotNil(t, gkErr.Action)
			assert.Equal(t, id, *gkErr.Action)

			status := env.timelock.GetActionStatus(ctx, id)
			assert.True(t, status.Exists)
			assert.False(t, status.Executed)
			assert.False(t, status.Cancelled)
			assert.Zero(t, target.callCount())
			assert.Empty(t, env.events(EventActionExecuted))

			// Re-allowing makes the same action executable again.
			require.NoError(t, tt.allow(env.timelock, ctx))
			_, err = env.timelock.ExecuteEmergencyAction(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, 1, target.callCount())
		})
	}
}

func TestCancelEmergencyAction(t *testing.T) {
	env := newTestEnv(t)
	target := deployTarget(t, env, SigPause)
	ctx := env.as(operator)

	id, err := env.timelock.ProposeEmergencyAction(ctx, LevelCaution, targetAddr, NewPayload(SigPause))
	require.NoError(t, err)

	err = env.timelock.CancelEmergencyAction(env.as(outsider), id)
	assert.True(t, errors.Is(err, ErrNotAuthorized))

	require.NoError(t, env.timelock.CancelEmergencyAction(ctx, id))
	status := env.timelock.GetActionStatus(ctx, id)
	assert.True(t, status.Cancelled)
	assert.Zero(t, status.TimeRemaining)

	err = env.timelock.CancelEmergencyAction(ctx, id)
	assert.True(t, errors.Is(err, ErrActionAlreadyCancelled))

	env.clock.Advance(DefaultTimelockDuration)
	_, err = env.timelock.ExecuteEmergencyAction(ctx, id)
	assert.True(t, errors.Is(err, ErrActionAlreadyCancelled))
	assert.Zero(t, target.callCount())

	err = env.timelock.CancelEmergencyAction(ctx, ActionID{0x02})
	assert.True(t, errors.Is(err, ErrActionNotFound))
	assert.Len(t, env.events(EventActionCancelled), 1)
}

func TestCancelAfterExecute(t *testing.T) {
	env := newTestEnv(t)
	deployTarget(t, env, SigPause)
	ctx := env.as(operator)

	id, err := env.timelock.ProposeEmergencyAction(ctx, LevelAlert, targetAddr, NewPayload(SigPause))
	require.NoError(t, err)
	env.clock.Advance(DefaultTimelockDuration)
	_, err = env.timelock.ExecuteEmergencyAction(ctx, id)
	require.NoError(t, err)

	err = env.timelock.CancelEmergencyAction(ctx, id)
	assert.True(t, errors.Is(err, ErrActionAlreadyExecuted))
}

func TestExecuteFailingTarget(t *testing.T) {
	cases := []struct {
		name    string
		callErr error
		deploy  bool
		panics  bool
		check   func(t *testing.T, err error)
	}{
		{
			name:    "Revert data is returned verbatim",
			callErr: Revert([]byte{0xde, 0xad}),
			deploy:  true,
			check: func(t *testing.T, err error) {
				var rev *RevertError
				require.True(t, errors.As(err, &rev))
				assert.Equal(t, []byte{0xde, 0xad}, rev.Data)
				assert.False(t, errors.Is(err, ErrExecutionFailed))
			},
		},
		{
			name:    "Typed errors are returned verbatim",
			callErr: NewError(ErrSystemPaused, "target paused"),
			deploy:  true,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, ErrSystemPaused))
			},
		},
		{
			name:    "Empty revert becomes ExecutionFailed",
			callErr: Revert(nil),
			deploy:  true,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, ErrExecutionFailed))
			},
		},
		{
			name:   "Missing target",
			deploy: false,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, ErrExecutionFailed))
			},
		},
		{
			name:   "Panicking target",
			deploy: true,
			panics: true,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, ErrExecutionFailed))
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := env.as(operator)
			if tc.deploy {
				target := &recordingContract{err: tc.callErr}
				if tc.panics {
					target.onCall = func(context.Context, []byte) error { panic("boom") }
				}
				require.NoError(t, env.dir.Deploy(targetAddr, target))
			}
			env.allow(targetAddr, SigPause)

			id, err := env.timelock.ProposeEmergencyAction(ctx, LevelAlert, targetAddr, NewPayload(SigPause))
			require.NoError(t, err)
			env.clock.Advance(DefaultTimelockDuration)

			_, err = env.timelock.ExecuteEmergencyAction(ctx, id)
			require.Error(t, err)
			tc.check(t, err)

			// The executed flag survives the failure: the call cannot be replayed.
			assert.True(t, env.timelock.GetActionStatus(ctx, id).Executed)
			_, err = env.timelock.ExecuteEmergencyAction(ctx, id)
			assert.True(t, errors.Is(err, ErrActionAlreadyExecuted))

			failed := env.events(EventActionExecutionFailed)
			require.Len(t, failed, 1)
			assert.Equal(t, id.Hex(), failed[0].Attributes["action_id"])
			assert.Empty(t, env.events(EventActionExecuted))
		})
	}
}

func TestUpdateTimelockDuration(t *testing.T) {
	env := newTestEnv(t)
	deployTarget(t, env, SigPause)
	ctx := env.as(operator)

	id, err := env.timelock.ProposeEmergencyAction(ctx, LevelAlert, targetAddr, NewPayload(SigPause))
	require.NoError(t, err)

	for _, d := range []time.Duration{MinTimelockDuration - time.Second, MaxTimelockDuration + time.Second, 0} {
		err := env.timelock.UpdateTimelockDuration(ctx, d)
		assert.True(t, errors.Is(err, ErrInvalidDuration), d.String())
	}
	assert.True(t, errors.Is(env.timelock.UpdateTimelockDuration(env.as(outsider), time.Hour), ErrNotAuthorized))

	require.NoError(t, env.timelock.UpdateTimelockDuration(ctx, MinTimelockDuration))
	require.NoError(t, env.timelock.UpdateTimelockDuration(ctx, MaxTimelockDuration))
	require.NoError(t, env.timelock.UpdateTimelockDuration(ctx, MinTimelockDuration))
	assert.Equal(t, MinTimelockDuration, env.timelock.TimelockDuration(ctx))

	// The new delay applies to actions already pending.
	env.clock.Advance(MinTimelockDuration)
	_, err = env.timelock.ExecuteEmergencyAction(ctx, id)
	require.NoError(t, err)
	assert.Len(t, env.events(EventTimelockUpdated), 3)
}

func TestActionQueries(t *testing.T) {
	env := newTestEnv(t)
	deployTarget(t, env, SigPause)
	ctx := env.as(operator)

	assert.Equal(t, ActionStatus{}, env.timelock.GetActionStatus(ctx, ActionID{0x09}))
	_, err := env.timelock.GetActionDetails(ctx, ActionID{0x09})
	assert.True(t, errors.Is(err, ErrActionNotFound))
	assert.Empty(t, env.timelock.GetAllActionIDs(ctx))

	var ids []ActionID
	for i := 0; i < 5; i++ {
		id, err := env.timelock.ProposeEmergencyAction(ctx, LevelAlert, targetAddr, NewPayload(SigPause))
		require.NoError(t, err)
		ids = append(ids, id)
		env.clock.Advance(time.Second)
	}
	assert.Equal(t, ids, env.timelock.GetAllActionIDs(ctx))

	page, total, err := env.timelock.GetActionIDsPaginated(ctx, 3, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, ids[3:], page)

	page, total, err = env.timelock.GetActionIDsPaginated(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Equal(t, 5, total)

	_, _, err = env.timelock.GetActionIDsPaginated(ctx, 0, 0)
	assert.True(t, errors.Is(err, ErrInvalidAmount))
	_, _, err = env.timelock.GetActionIDsPaginated(ctx, -1, 1)
	assert.True(t, errors.Is(err, ErrInvalidAmount))

	// Details are a copy.
	details, err := env.timelock.GetActionDetails(ctx, ids[0])
	require.NoError(t, err)
	details.Payload[0] ^= 0xff
	again, _ := env.timelock.GetActionDetails(ctx, ids[0])
	assert.Equal(t, NewPayload(SigPause), again.Payload)
}

func TestTimelockDrivesController(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.as(operator)
	env.allow(ctrlAddr, SigPauseSystem)
	env.allow(ctrlAddr, SigSetEmergencyLevel)

	pause, err := env.timelock.ProposeEmergencyAction(ctx, LevelCritical, ctrlAddr, NewPayload(SigPauseSystem))
	require.NoError(t, err)
	level, err := env.timelock.ProposeEmergencyAction(ctx, LevelCritical, ctrlAddr,
		NewPayload(SigSetEmergencyLevel, Uint64Word(uint64(LevelCaution))))
	require.NoError(t, err)

	env.clock.Advance(DefaultTimelockDuration)
	_, err = env.timelock.ExecuteEmergencyAction(ctx, pause)
	require.NoError(t, err)
	_, err = env.timelock.ExecuteEmergencyAction(ctx, level)
	require.NoError(t, err)

	paused, _ := env.controller.IsSystemPaused(ctx)
	assert.True(t, paused)
	lvl, _ := env.controller.GetEmergencyLevel(ctx)
	assert.Equal(t, LevelCaution, lvl)
	assert.True(t, env.vault.IsEffectivelyPaused(ctx))

	events := env.events(EventSystemPauseUpdated)
	require.Len(t, events, 1)
	assert.Equal(t, tlAddr, events[0].Caller)
}

func TestTimelockRejectsDirtyArgument(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.as(operator)
	env.allow(ctrlAddr, SigSetEmergencyLevel)

	word := Uint64Word(uint64(LevelCaution))
	word[0] = 0xff
	id, err := env.timelock.ProposeEmergencyAction(ctx, LevelAlert, ctrlAddr, NewPayload(SigSetEmergencyLevel, word))
	require.NoError(t, err)
	env.clock.Advance(DefaultTimelockDuration)

	_, err = env.timelock.ExecuteEmergencyAction(ctx, id)
	assert.True(t, errors.Is(err, ErrInvalidPayload))
	assert.True(t, env.timelock.GetActionStatus(ctx, id).Executed)

	lvl, _ := env.controller.GetEmergencyLevel(ctx)
	assert.Equal(t, LevelNormal, lvl)
	assert.Empty(t, env.events(EventLevelUpdated))
}

func TestTimelockGrantsRoles(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.as(operator)
	require.NoError(t, env.dir.Deploy(testAddr(0x99), env.registry))
	env.allow(testAddr(0x99), SigGrantRole)

	// The timelock itself must administer the role it grants.
	require.NoError(t, env.registry.GrantRole(env.as(admin), DefaultAdminRole, tlAddr))

	id, err := env.timelock.ProposeEmergencyAction(ctx, LevelAlert, testAddr(0x99),
		NewPayload(SigGrantRole, RoleWord(PauserRole), AddressWord(carol)))
	require.NoError(t, err)
	env.clock.Advance(DefaultTimelockDuration)
	_, err = env.timelock.ExecuteEmergencyAction(ctx, id)
	require.NoError(t, err)

	ok, err := env.registry.HasRole(ctx, PauserRole, carol)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReentrantExecution(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.as(operator)

	var nested error
	target := &recordingContract{}
	target.onCall = func(ctx context.Context, _ []byte) error {
		// Calling back into the timelock with the received context.
		nested = env.timelock.CancelEmergencyAction(ctx, ActionID{0x01})
		return nested
	}
	require.NoError(t, env.dir.Deploy(targetAddr, target))
	env.allow(targetAddr, SigPause)

	id, err := env.timelock.ProposeEmergencyAction(ctx, LevelAlert, targetAddr, NewPayload(SigPause))
	require.NoError(t, err)
	env.clock.Advance(DefaultTimelockDuration)

	_, err = env.timelock.ExecuteEmergencyAction(ctx, id)
	require.Error(t, err)
	assert.True(t, errors.Is(nested, ErrReentrantCall))
	assert.True(t, errors.Is(err, ErrReentrantCall))
	assert.True(t, env.timelock.GetActionStatus(ctx, id).Executed)

	// Reads from inside the call still work.
	target.onCall = func(ctx context.Context, _ []byte) error {
		_ = env.timelock.GetAllActionIDs(ctx)
		return nil
	}
	id2, err := env.timelock.ProposeEmergencyAction(ctx, LevelAlert, targetAddr, NewPayload(SigPause))
	require.NoError(t, err)
	env.clock.Advance(DefaultTimelockDuration)
	_, err = env.timelock.ExecuteEmergencyAction(ctx, id2)
	require.NoError(t, err)
}

// finishes runs fn and fails the test if it does not return in time.
func finishes(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return")
	}
}

func TestReentrantExecutionFreshContext(t *testing.T) {
	callbacks := map[string]func(env *testEnv, ctx context.Context, pending ActionID) error{
		"cancel": func(env *testEnv, ctx context.Context, pending ActionID) error {
			return env.timelock.CancelEmergencyAction(ctx, pending)
		},
		"execute": func(env *testEnv, ctx context.Context, pending ActionID) error {
			_, err := env.timelock.ExecuteEmergencyAction(ctx, pending)
			return err
		},
		"propose": func(env *testEnv, ctx context.Context, _ ActionID) error {
			_, err := env.timelock.ProposeEmergencyAction(ctx, LevelCaution, targetAddr, NewPayload(SigPause))
			return err
		},
		"allowlist": func(env *testEnv, ctx context.Context, _ ActionID) error {
			return env.timelock.SetAllowedTarget(ctx, targetAddr, false)
		},
		"duration": func(env *testEnv, ctx context.Context, _ ActionID) error {
			return env.timelock.UpdateTimelockDuration(ctx, 2*time.Hour)
		},
	}

	for name, callback := range callbacks {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := env.as(operator)
			target := deployTarget(t, env, SigPause)

			pending, err := env.timelock.ProposeEmergencyAction(ctx, LevelCaution, targetAddr, NewPayload(SigPause))
			require.NoError(t, err)
			env.clock.Advance(time.Second)
			id, err := env.timelock.ProposeEmergencyAction(ctx, LevelAlert, targetAddr, NewPayload(SigPause))
			require.NoError(t, err)
			env.clock.Advance(DefaultTimelockDuration)

			var nested error
			var status ActionStatus
			target.onCall = func(context.Context, []byte) error {
				fresh := WithCaller(context.Background(), operator)
				nested = callback(env, fresh, pending)
				status = env.timelock.GetActionStatus(fresh, id)
				return nil
			}

			finishes(t, func() {
				_, err = env.timelock.ExecuteEmergencyAction(ctx, id)
			})
			require.NoError(t, err)
			assert.ErrorIs(t, nested, ErrReentrantCall)
			assert.True(t, status.Executed, "reads see the executed flag during the call")

			// Nothing changed and the timelock is usable afterwards.
			finishes(t, func() {
				assert.Len(t, env.timelock.GetAllActionIDs(ctx), 2)
				assert.False(t, env.timelock.GetActionStatus(ctx, pending).Cancelled)
				assert.True(t, env.timelock.IsTargetAllowed(ctx, targetAddr))
				assert.Equal(t, DefaultTimelockDuration, env.timelock.TimelockDuration(ctx))
				assert.NoError(t, env.timelock.CancelEmergencyAction(ctx, pending))
			})
		})
	}
}
