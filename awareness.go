package guardkit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const componentAware = "aware"

// ShutdownHook is a component's own reaction to a pushed emergency shutdown,
// e.g. switching to emergency withdrawals. An error rejects the shutdown.
type ShutdownHook func(ctx context.Context, level Level) error

// EmergencyAware is the capability every protected component composes. It
// combines a local pause flag with the global status reported by the
// component's emergency controller to decide whether the component is
// effectively paused.
//
// Provider queries are resilient: an unreachable, failing or panicking
// provider is resolved by the configured FailurePolicy (FailOpen by default)
// instead of failing the caller.
type EmergencyAware struct {
	guard      *guard
	rec        recorder
	self       Address
	roles      RoleChecker
	contracts  ContractResolver
	adminRole  RoleID
	pauserRole RoleID
	policy     FailurePolicy
	onShutdown ShutdownHook
	monitor    *callMonitor

	controller         Address
	localPaused        bool
	withdrawalsEnabled bool
	shutdownLevel      Level
}

// NewEmergencyAware creates the capability for the component deployed at self.
// controller may be the zero address (no provider yet); otherwise it must have code.
func NewEmergencyAware(self Address, roles RoleChecker, contracts ContractResolver, controller Address, opts ...Option) (*EmergencyAware, error) {
	if self.IsZero() {
		return nil, NewError(ErrInvalidAccount, "component address is the zero address")
	}
	if roles == nil {
		return nil, fmt.Errorf("guardkit: aware component needs a role checker")
	}
	if !controller.IsZero() && !hasCode(contracts, controller) {
		return nil, NewError(ErrNotAContract, "emergency controller has no code").WithAccount(controller)
	}
	o := newOptions(opts)
	rec := newRecorder(componentAware, o)
	rec.logger = rec.logger.WithField("contract", self.Hex())
	return &EmergencyAware{
		guard:      newGuard(componentAware, o.metrics),
		rec:        rec,
		self:       self,
		roles:      roles,
		contracts:  contracts,
		adminRole:  o.adminRole,
		pauserRole: o.pauserRole,
		policy:     o.failurePolicy,
		onShutdown: o.onShutdown,
		monitor:    newCallMonitor(),
		controller: controller,
	}, nil
}

// Address returns the component's own address.
func (a *EmergencyAware) Address() Address {
	return a.self
}

// FailurePolicy returns the policy applied to failing provider queries.
func (a *EmergencyAware) FailurePolicy() FailurePolicy {
	return a.policy
}

type awareState struct {
	controller         Address
	localPaused        bool
	withdrawalsEnabled bool
}

func (a *EmergencyAware) state(ctx context.Context) awareState {
	defer a.guard.read(ctx)()
	return awareState{
		controller:         a.controller,
		localPaused:        a.localPaused,
		withdrawalsEnabled: a.withdrawalsEnabled,
	}
}

// ============================================================================
// RESILIENT PROVIDER QUERIES
// ============================================================================

var errNoProvider = fmt.Errorf("guardkit: no emergency controller configured")

func (a *EmergencyAware) provider(controller Address) (StatusProvider, error) {
	if controller.IsZero() {
		return nil, errNoProvider
	}
	if !hasCode(a.contracts, controller) {
		return nil, NewError(ErrNotAContract, "emergency controller has no code").WithAccount(controller)
	}
	contract, ok := a.contracts.Resolve(controller)
	if !ok {
		return nil, NewError(ErrNotAContract, "emergency controller has no code").WithAccount(controller)
	}
	p, ok := contract.(StatusProvider)
	if !ok {
		return nil, fmt.Errorf("guardkit: contract %s is not a status provider", controller)
	}
	return p, nil
}

// query runs fn against the provider at controller. ok is false when the
// provider could not answer; the caller then applies the failure policy.
func query[T any](ctx context.Context, a *EmergencyAware, controller Address, name string, fn func(context.Context, StatusProvider) (T, error)) (v T, ok bool) {
	p, err := a.provider(controller)
	if err == errNoProvider {
		return v, false
	}
	start := time.Now()
	if err == nil {
		v, err = safeQuery(ctx, p, fn)
	}
	a.monitor.record(time.Since(start), err)
	if err != nil {
		a.rec.metrics.providerFailed(name)
		a.rec.logger.WithError(err).WithFields(logrus.Fields{
			"query":  name,
			"policy": a.policy.String(),
		}).Warn("status provider query failed")
		return v, false
	}
	return v, true
}

func safeQuery[T any](ctx context.Context, p StatusProvider, fn func(context.Context, StatusProvider) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("status provider panicked: %v", r)
		}
	}()
	return fn(ctx, p)
}

// pausedBy reports whether the provider at controller pauses the system,
// either through the global flag or a Critical level.
func (a *EmergencyAware) pausedBy(ctx context.Context, controller Address) bool {
	if controller.IsZero() {
		return false
	}
	paused, ok := query(ctx, a, controller, "is_system_paused", func(ctx context.Context, p StatusProvider) (bool, error) {
		return p.IsSystemPaused(ctx)
	})
	if !ok {
		return a.policy.resolve()
	}
	if paused {
		return true
	}
	level, ok := query(ctx, a, controller, "get_emergency_level", func(ctx context.Context, p StatusProvider) (Level, error) {
		return p.GetEmergencyLevel(ctx)
	})
	if !ok {
		return a.policy.resolve()
	}
	return level >= LevelCritical
}

// ============================================================================
// STATUS CHECKS
// ============================================================================

// IsEffectivelyPaused reports local pause OR provider pause OR provider level >= Critical.
func (a *EmergencyAware) IsEffectivelyPaused(ctx context.Context) bool {
	st := a.state(ctx)
	paused := st.localPaused || a.pausedBy(ctx, st.controller)
	a.rec.metrics.pauseObserved(componentAware, paused)
	return paused
}

// IsEmergencyPaused is IsEffectivelyPaused under its interface name.
func (a *EmergencyAware) IsEmergencyPaused(ctx context.Context) bool {
	return a.IsEffectivelyPaused(ctx)
}

// IsLocallyPaused reports the local pause flag alone.
func (a *EmergencyAware) IsLocallyPaused(ctx context.Context) bool {
	return a.state(ctx).localPaused
}

// CheckEmergencyStatus reports whether operation may run now: the component
// is not effectively paused and the provider does not restrict the operation.
// A zero operation skips the restriction check.
func (a *EmergencyAware) CheckEmergencyStatus(ctx context.Context, operation Selector) bool {
	if a.IsEffectivelyPaused(ctx) {
		return false
	}
	if operation.IsZero() {
		return true
	}
	controller := a.state(ctx).controller
	if controller.IsZero() {
		return true
	}
	restricted, ok := query(ctx, a, controller, "is_function_restricted", func(ctx context.Context, p StatusProvider) (bool, error) {
		return p.IsFunctionRestricted(ctx, operation)
	})
	if !ok {
		return !a.policy.resolve()
	}
	return !restricted
}

// RequireNotPaused returns ErrSystemPaused when operation may not run.
// Protected components call it after their role check and before mutating state.
func (a *EmergencyAware) RequireNotPaused(ctx context.Context, operation Selector) error {
	if !a.CheckEmergencyStatus(ctx, operation) {
		return NewError(ErrSystemPaused, fmt.Sprintf("operation %s refused", operation)).WithAccount(a.self)
	}
	return nil
}

// EmergencyWithdrawalsEnabled reports whether emergency withdrawals are open,
// either locally after an Alert shutdown or globally by the provider's settings.
// A failing provider only leaves the local flag in effect.
func (a *EmergencyAware) EmergencyWithdrawalsEnabled(ctx context.Context) bool {
	st := a.state(ctx)
	if st.withdrawalsEnabled {
		return true
	}
	if st.controller.IsZero() {
		return false
	}
	settings, ok := query(ctx, a, st.controller, "get_withdrawal_settings", func(ctx context.Context, p StatusProvider) (WithdrawalSettings, error) {
		return p.GetEmergencyWithdrawalSettings(ctx)
	})
	return ok && settings.Enabled
}

// WithdrawalSettings returns the provider's withdrawal policy; ok is false
// when the provider could not answer.
func (a *EmergencyAware) WithdrawalSettings(ctx context.Context) (WithdrawalSettings, bool) {
	controller := a.state(ctx).controller
	if controller.IsZero() {
		return WithdrawalSettings{}, false
	}
	return query(ctx, a, controller, "get_withdrawal_settings", func(ctx context.Context, p StatusProvider) (WithdrawalSettings, error) {
		return p.GetEmergencyWithdrawalSettings(ctx)
	})
}

// ============================================================================
// PRIVILEGED OPERATIONS
// ============================================================================

// EmergencyShutdown is the provider's push notification. Only the registered
// controller may call it. It raises the local pause and, at Alert or above,
// opens emergency withdrawals, then runs the component's shutdown hook.
func (a *EmergencyAware) EmergencyShutdown(ctx context.Context, level Level) error {
	ctx, release, err := a.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	caller := GetCaller(ctx)
	if a.controller.IsZero() || caller != a.controller {
		return NewError(ErrNotEmergencyController, "shutdown must come from the emergency controller").WithCaller(caller)
	}
	if !level.Valid() {
		return NewError(ErrInvalidLevel, fmt.Sprintf("level %d", level))
	}

	prevPaused, prevWithdrawals, prevLevel := a.localPaused, a.withdrawalsEnabled, a.shutdownLevel
	a.localPaused = true
	if level >= LevelAlert {
		a.withdrawalsEnabled = true
	}
	if level > a.shutdownLevel {
		a.shutdownLevel = level
	}

	if a.onShutdown != nil {
		var hookErr error
		a.guard.external(func() {
			hookErr = a.onShutdown(ctx, level)
		})
		if hookErr != nil {
			a.localPaused, a.withdrawalsEnabled, a.shutdownLevel = prevPaused, prevWithdrawals, prevLevel
			return hookErr
		}
	}

	a.rec.emit(ctx, EventEmergencyShutdown, map[string]string{
		"contract":            a.self.Hex(),
		"level":               level.String(),
		"withdrawals_enabled": strconv.FormatBool(a.withdrawalsEnabled),
	})
	return nil
}

// ShutdownLevel returns the highest level pushed since the last Unpause.
func (a *EmergencyAware) ShutdownLevel(ctx context.Context) Level {
	defer a.guard.read(ctx)()
	return a.shutdownLevel
}

// GetEmergencyController returns the registered controller address.
func (a *EmergencyAware) GetEmergencyController(ctx context.Context) Address {
	return a.state(ctx).controller
}

// SetEmergencyController replaces the controller. The caller must hold the
// admin role and controller must have deployed code.
func (a *EmergencyAware) SetEmergencyController(ctx context.Context, controller Address) error {
	ctx, release, err := a.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := requireRole(ctx, a.roles, a.adminRole, GetCaller(ctx)); err != nil {
		return err
	}
	if !hasCode(a.contracts, controller) {
		return NewError(ErrNotAContract, "emergency controller has no code").WithAccount(controller)
	}

	previous := a.controller
	a.controller = controller
	a.rec.emit(ctx, EventControllerUpdated, map[string]string{
		"contract":            a.self.Hex(),
		"previous_controller": previous.Hex(),
		"controller":          controller.Hex(),
	})
	return nil
}

// Pause raises the local pause flag. The caller must hold the pauser role.
func (a *EmergencyAware) Pause(ctx context.Context) error {
	return a.setLocalPause(ctx, true)
}

// Unpause clears the local pause flag and the shutdown state it carried.
// The global status still applies.
func (a *EmergencyAware) Unpause(ctx context.Context) error {
	return a.setLocalPause(ctx, false)
}

func (a *EmergencyAware) setLocalPause(ctx context.Context, paused bool) error {
	ctx, release, err := a.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := requireRole(ctx, a.roles, a.pauserRole, GetCaller(ctx)); err != nil {
		return err
	}
	if a.localPaused == paused {
		return nil
	}
	a.localPaused = paused
	if !paused {
		a.withdrawalsEnabled = false
		a.shutdownLevel = LevelNormal
	}
	a.rec.emit(ctx, EventLocalPauseUpdated, map[string]string{
		"contract": a.self.Hex(),
		"paused":   strconv.FormatBool(paused),
	})
	return nil
}

// ProviderMetrics returns statistics of the status provider queries.
func (a *EmergencyAware) ProviderMetrics() CallMetrics {
	return a.monitor.metrics()
}

// ResetProviderMetrics clears the provider query statistics.
func (a *EmergencyAware) ResetProviderMetrics() {
	a.monitor.reset()
}

// IsProviderHealthy reports whether provider queries fail less than 5% of the time.
func (a *EmergencyAware) IsProviderHealthy() bool {
	return a.monitor.healthy()
}
