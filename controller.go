package guardkit

import (
	"context"
	"fmt"
	"strconv"
)

const componentController = "controller"

// EmergencyController is the system-wide StatusProvider. It owns the severity
// level, the global pause flag, the withdrawal policy and the function
// restriction list, and keeps the set of emergency-aware contracts it pushes
// shutdowns to.
type EmergencyController struct {
	guard         *guard
	rec           recorder
	self          Address
	roles         RoleChecker
	contracts     ContractResolver
	emergencyRole RoleID

	level      Level
	paused     bool
	withdrawal WithdrawalSettings
	restricted map[Selector]struct{}
	aware      *IndexedSet[Address]
}

// NewEmergencyController creates a controller deployed at self.
func NewEmergencyController(self Address, roles RoleChecker, contracts ContractResolver, opts ...Option) (*EmergencyController, error) {
	if self.IsZero() {
		return nil, NewError(ErrInvalidAccount, "controller address is the zero address")
	}
	if roles == nil {
		return nil, fmt.Errorf("guardkit: controller needs a role checker")
	}
	o := newOptions(opts)
	return &EmergencyController{
		guard:         newGuard(componentController, o.metrics),
		rec:           newRecorder(componentController, o),
		self:          self,
		roles:         roles,
		contracts:     contracts,
		emergencyRole: o.emergencyRole,
		restricted:    make(map[Selector]struct{}),
		aware:         NewIndexedSet[Address](),
	}, nil
}

// Address returns the controller's own address.
func (c *EmergencyController) Address() Address {
	return c.self
}

// ============================================================================
// STATUS PROVIDER
// ============================================================================

func (c *EmergencyController) IsSystemPaused(ctx context.Context) (bool, error) {
	defer c.guard.read(ctx)()
	return c.paused, nil
}

func (c *EmergencyController) GetEmergencyLevel(ctx context.Context) (Level, error) {
	defer c.guard.read(ctx)()
	return c.level, nil
}

func (c *EmergencyController) GetEmergencyWithdrawalSettings(ctx context.Context) (WithdrawalSettings, error) {
	defer c.guard.read(ctx)()
	return c.withdrawal, nil
}

func (c *EmergencyController) IsFunctionRestricted(ctx context.Context, selector Selector) (bool, error) {
	defer c.guard.read(ctx)()
	_, ok := c.restricted[selector]
	return ok, nil
}

func (c *EmergencyController) GetEmergencyAwareContractsPaginated(ctx context.Context, offset, limit int) ([]Address, int, error) {
	if limit <= 0 || offset < 0 {
		return nil, 0, NewError(ErrInvalidAmount, "invalid pagination window")
	}
	defer c.guard.read(ctx)()
	return c.aware.Page(offset, limit), c.aware.Len(), nil
}

// ============================================================================
// EMERGENCY OPERATIONS
// ============================================================================

// SetEmergencyLevel changes the severity level. Raising it to Alert or above
// pushes EmergencyShutdown to every registered aware contract.
func (c *EmergencyController) SetEmergencyLevel(ctx context.Context, level Level) error {
	ctx, release, err := c.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := requireRole(ctx, c.roles, c.emergencyRole, GetCaller(ctx)); err != nil {
		return err
	}
	if !level.Valid() {
		return NewError(ErrInvalidLevel, fmt.Sprintf("level %d", level))
	}

	previous := c.level
	c.level = level
	c.rec.emit(ctx, EventLevelUpdated, map[string]string{
		"previous_level": previous.String(),
		"level":          level.String(),
	})

	if level >= LevelAlert && level > previous {
		aware := c.aware.Values()
		c.guard.external(func() {
			c.notify(ctx, aware, level)
		})
	}
	return nil
}

// notify pushes a shutdown to every aware contract. It runs outside the
// controller's lock. A contract that is gone or fails is logged and skipped.
func (c *EmergencyController) notify(ctx context.Context, aware []Address, level Level) {
	callCtx := WithCaller(ctx, c.self)
	for _, addr := range aware {
		log := c.rec.logger.WithField("contract", addr.Hex())

		contract, ok := c.contracts.Resolve(addr)
		if !ok {
			log.Warn("aware contract has no code, skipping shutdown")
			continue
		}
		receiver, ok := contract.(ShutdownReceiver)
		if !ok {
			log.Warn("aware contract does not accept shutdowns, skipping")
			continue
		}
		if err := safeShutdown(callCtx, receiver, level); err != nil {
			log.WithError(err).Warn("emergency shutdown push failed")
		}
	}
}

func safeShutdown(ctx context.Context, r ShutdownReceiver, level Level) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("shutdown receiver panicked: %v", p)
		}
	}()
	return r.EmergencyShutdown(ctx, level)
}

// PauseSystem raises the global pause flag.
func (c *EmergencyController) PauseSystem(ctx context.Context) error {
	return c.setPaused(ctx, true)
}

// UnpauseSystem clears the global pause flag.
func (c *EmergencyController) UnpauseSystem(ctx context.Context) error {
	return c.setPaused(ctx, false)
}

func (c *EmergencyController) setPaused(ctx context.Context, paused bool) error {
	ctx, release, err := c.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := requireRole(ctx, c.roles, c.emergencyRole, GetCaller(ctx)); err != nil {
		return err
	}
	if c.paused == paused {
		return nil
	}
	c.paused = paused
	c.rec.emit(ctx, EventSystemPauseUpdated, map[string]string{
		"paused": strconv.FormatBool(paused),
	})
	return nil
}

// SetWithdrawalSettings replaces the emergency withdrawal policy.
func (c *EmergencyController) SetWithdrawalSettings(ctx context.Context, settings WithdrawalSettings) error {
	ctx, release, err := c.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := requireRole(ctx, c.roles, c.emergencyRole, GetCaller(ctx)); err != nil {
		return err
	}
	if settings.PenaltyBps > MaxPenaltyBps {
		return NewError(ErrInvalidAmount, fmt.Sprintf("penalty %d bps exceeds %d", settings.PenaltyBps, MaxPenaltyBps))
	}
	c.withdrawal = settings
	c.rec.emit(ctx, EventWithdrawalUpdated, map[string]string{
		"enabled":     strconv.FormatBool(settings.Enabled),
		"penalty_bps": strconv.FormatUint(settings.PenaltyBps, 10),
	})
	return nil
}

// SetFunctionRestricted adds or removes selector from the restriction list.
func (c *EmergencyController) SetFunctionRestricted(ctx context.Context, selector Selector, restricted bool) error {
	ctx, release, err := c.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := requireRole(ctx, c.roles, c.emergencyRole, GetCaller(ctx)); err != nil {
		return err
	}
	if selector.IsZero() {
		return NewError(ErrInvalidAmount, "zero selector")
	}
	if restricted {
		c.restricted[selector] = struct{}{}
	} else {
		delete(c.restricted, selector)
	}
	c.rec.emit(ctx, EventRestrictionUpdated, map[string]string{
		"selector":   selector.Hex(),
		"restricted": strconv.FormatBool(restricted),
	})
	return nil
}

// RegisterEmergencyAware adds a contract to the shutdown push list.
func (c *EmergencyController) RegisterEmergencyAware(ctx context.Context, addr Address) error {
	ctx, release, err := c.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := requireRole(ctx, c.roles, c.emergencyRole, GetCaller(ctx)); err != nil {
		return err
	}
	if addr.IsZero() {
		return NewError(ErrInvalidAccount, "aware contract is the zero address")
	}
	if !hasCode(c.contracts, addr) {
		return NewError(ErrNotAContract, "aware contract has no code").WithAccount(addr)
	}
	if !c.aware.Add(addr) {
		return nil
	}
	c.rec.emit(ctx, EventAwareRegistered, map[string]string{"contract": addr.Hex()})
	return nil
}

// UnregisterEmergencyAware removes a contract from the shutdown push list.
func (c *EmergencyController) UnregisterEmergencyAware(ctx context.Context, addr Address) error {
	ctx, release, err := c.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := requireRole(ctx, c.roles, c.emergencyRole, GetCaller(ctx)); err != nil {
		return err
	}
	if !c.aware.Remove(addr) {
		return nil
	}
	c.rec.emit(ctx, EventAwareUnregistered, map[string]string{"contract": addr.Hex()})
	return nil
}
