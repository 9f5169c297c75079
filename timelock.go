package guardkit

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const componentTimelock = "timelock"

// Timelock duration bounds.
const (
	DefaultTimelockDuration = 24 * time.Hour
	MinTimelockDuration     = time.Hour
	MaxTimelockDuration     = 7 * 24 * time.Hour
)

// EmergencyAction is one proposed privileged call.
type EmergencyAction struct {
	ID         ActionID  `json:"id" msgpack:"id"`
	Level      Level     `json:"level" msgpack:"level"`
	ProposedAt time.Time `json:"proposed_at" msgpack:"proposed_at"`
	Proposer   Address   `json:"proposer" msgpack:"proposer"`
	Target     Address   `json:"target" msgpack:"target"`
	Payload    []byte    `json:"payload" msgpack:"payload"`
	Executed   bool      `json:"executed" msgpack:"executed"`
	Cancelled  bool      `json:"cancelled" msgpack:"cancelled"`
	ExecutedAt time.Time `json:"executed_at,omitempty" msgpack:"executed_at"`
}

// Selector returns the operation selector at the head of the payload.
func (a EmergencyAction) Selector() (Selector, error) {
	return ExtractSelector(a.Payload)
}

func (a *EmergencyAction) clone() EmergencyAction {
	out := *a
	out.Payload = append([]byte(nil), a.Payload...)
	return out
}

// ActionStatus is the lifecycle view of an action. A missing action has
// Exists == false and every other field zero.
type ActionStatus struct {
	Exists        bool          `json:"exists"`
	Executed      bool          `json:"executed"`
	Cancelled     bool          `json:"cancelled"`
	TimeRemaining time.Duration `json:"time_remaining"`
}

// EmergencyActionTimelock schedules privileged calls to allowlisted targets and
// operations. An action becomes executable once the timelock duration has
// elapsed since its proposal, and ends executed or cancelled.
//
// Both allowlists are checked at proposal and again at execution, so removing
// a target or selector blocks actions already proposed against it.
type EmergencyActionTimelock struct {
	guard         *guard
	rec           recorder
	self          Address
	roles         RoleChecker
	contracts     ContractResolver
	emergencyRole RoleID

	duration  time.Duration
	actions   map[ActionID]*EmergencyAction
	actionIDs []ActionID
	targets   map[Address]struct{}
	selectors map[Selector]struct{}
}

// NewEmergencyActionTimelock creates a timelock deployed at self. Calls it
// executes are made with self as the caller.
func NewEmergencyActionTimelock(self Address, roles RoleChecker, contracts ContractResolver, opts ...Option) (*EmergencyActionTimelock, error) {
	if self.IsZero() {
		return nil, NewError(ErrInvalidAccount, "timelock address is the zero address")
	}
	if roles == nil {
		return nil, fmt.Errorf("guardkit: timelock needs a role checker")
	}
	o := newOptions(opts)
	if err := validateTimelockDuration(o.timelockDuration); err != nil {
		return nil, err
	}
	return &EmergencyActionTimelock{
		guard:         newGuard(componentTimelock, o.metrics),
		rec:           newRecorder(componentTimelock, o),
		self:          self,
		roles:         roles,
		contracts:     contracts,
		emergencyRole: o.emergencyRole,
		duration:      o.timelockDuration,
		actions:       make(map[ActionID]*EmergencyAction),
		targets:       make(map[Address]struct{}),
		selectors:     make(map[Selector]struct{}),
	}, nil
}

// Address returns the timelock's own address.
func (t *EmergencyActionTimelock) Address() Address {
	return t.self
}

func validateTimelockDuration(d time.Duration) error {
	if d < MinTimelockDuration || d > MaxTimelockDuration {
		return NewError(ErrInvalidDuration, fmt.Sprintf("%s is outside [%s, %s]", d, MinTimelockDuration, MaxTimelockDuration))
	}
	return nil
}

// ComputeActionID derives the id of an action proposed at proposedAt.
// Only whole seconds of proposedAt contribute.
func ComputeActionID(proposedAt time.Time, level Level, proposer, target Address, payload []byte) ActionID {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(proposedAt.Unix()))

	var id ActionID
	copy(id[:], Keccak256(ts[:], []byte{byte(level)}, proposer[:], target[:], payload))
	return id
}

func (t *EmergencyActionTimelock) now() time.Time {
	return time.Unix(t.rec.clock().Unix(), 0).UTC()
}

// ============================================================================
// ALLOWLISTS
// ============================================================================

// SetAllowedTarget adds or removes target from the target allowlist.
func (t *EmergencyActionTimelock) SetAllowedTarget(ctx context.Context, target Address, allowed bool) error {
	ctx, release, err := t.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := requireRole(ctx, t.roles, t.emergencyRole, GetCaller(ctx)); err != nil {
		return err
	}
	if target.IsZero() {
		return NewError(ErrInvalidAccount, "target is the zero address")
	}

	if allowed {
		t.targets[target] = struct{}{}
	} else {
		delete(t.targets, target)
	}
	t.rec.emit(ctx, EventTargetAllowlisted, map[string]string{
		"target":  target.Hex(),
		"allowed": strconv.FormatBool(allowed),
	})
	return nil
}

// SetAllowedFunctionSelector adds or removes selector from the selector allowlist.
func (t *EmergencyActionTimelock) SetAllowedFunctionSelector(ctx context.Context, selector Selector, allowed bool) error {
	ctx, release, err := t.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := requireRole(ctx, t.roles, t.emergencyRole, GetCaller(ctx)); err != nil {
		return err
	}
	if selector.IsZero() {
		return NewError(ErrInvalidAmount, "zero selector")
	}

	if allowed {
		t.selectors[selector] = struct{}{}
	} else {
		delete(t.selectors, selector)
	}
	t.rec.emit(ctx, EventSelectorAllowlisted, map[string]string{
		"selector": selector.Hex(),
		"allowed":  strconv.FormatBool(allowed),
	})
	return nil
}

// IsTargetAllowed reports whether target is allowlisted.
func (t *EmergencyActionTimelock) IsTargetAllowed(ctx context.Context, target Address) bool {
	defer t.guard.read(ctx)()
	_, ok := t.targets[target]
	return ok
}

// IsFunctionSelectorAllowed reports whether selector is allowlisted.
func (t *EmergencyActionTimelock) IsFunctionSelectorAllowed(ctx context.Context, selector Selector) bool {
	defer t.guard.read(ctx)()
	_, ok := t.selectors[selector]
	return ok
}

// checkAllowlists verifies target and the selector of payload against the
// current allowlists.
func (t *EmergencyActionTimelock) checkAllowlists(target Address, payload []byte) error {
	selector, err := ExtractSelector(payload)
	if err != nil {
		return err
	}
	if _, ok := t.targets[target]; !ok {
		return NewError(ErrNotAuthorized, "target is not allowlisted").WithAccount(target)
	}
	if _, ok := t.selectors[selector]; !ok {
		return NewError(ErrNotAuthorized, fmt.Sprintf("selector %s is not allowlisted", selector)).WithAccount(target)
	}
	return nil
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// ProposeEmergencyAction records a call of payload on target, executable once
// the timelock has elapsed. Identical proposals from the same caller within the
// same second collide and the second is rejected.
func (t *EmergencyActionTimelock) ProposeEmergencyAction(ctx context.Context, level Level, target Address, payload []byte) (ActionID, error) {
	ctx, release, err := t.guard.enter(ctx)
	if err != nil {
		return ActionID{}, err
	}
	defer release()

	caller := GetCaller(ctx)
	if err := requireRole(ctx, t.roles, t.emergencyRole, caller); err != nil {
		return ActionID{}, err
	}
	if !level.Valid() {
		return ActionID{}, NewError(ErrInvalidLevel, fmt.Sprintf("level %d", level))
	}
	if target.IsZero() {
		return ActionID{}, NewError(ErrInvalidAccount, "target is the zero address")
	}
	if err := t.checkAllowlists(target, payload); err != nil {
		return ActionID{}, err
	}

	now := t.now()
	id := ComputeActionID(now, level, caller, target, payload)
	if existing, ok := t.actions[id]; ok && !existing.ProposedAt.IsZero() {
		return ActionID{}, NewError(ErrDuplicateAction, "identical action proposed in the same second").WithAction(id)
	}

	t.actions[id] = &EmergencyAction{
		ID:         id,
		Level:      level,
		ProposedAt: now,
		Proposer:   caller,
		Target:     target,
		Payload:    append([]byte(nil), payload...),
	}
	t.actionIDs = append(t.actionIDs, id)

	t.rec.metrics.actionEvent(EventActionProposed)
	t.rec.emit(ctx, EventActionProposed, map[string]string{
		"action_id":   id.Hex(),
		"level":       level.String(),
		"target":      target.Hex(),
		"selector":    Selector(payload[:SelectorLength]).Hex(),
		"executes_at": now.Add(t.duration).Format(time.RFC3339),
	})
	return id, nil
}

// pending returns the action if it exists and is neither executed nor cancelled.
func (t *EmergencyActionTimelock) pending(id ActionID) (*EmergencyAction, error) {
	action, ok := t.actions[id]
	if !ok {
		return nil, NewError(ErrActionNotFound, "").WithAction(id)
	}
	if action.Executed {
		return nil, NewError(ErrActionAlreadyExecuted, "").WithAction(id)
	}
	if action.Cancelled {
		return nil, NewError(ErrActionAlreadyCancelled, "").WithAction(id)
	}
	return action, nil
}

// ExecuteEmergencyAction performs a proposed action whose timelock has elapsed.
//
// The action is marked executed before the call and stays executed if the
// call fails, so a failing call can never be replayed. A target error is
// returned unchanged; a revert without data becomes ErrExecutionFailed.
func (t *EmergencyActionTimelock) ExecuteEmergencyAction(ctx context.Context, id ActionID) ([]byte, error) {
	ctx, release, err := t.guard.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := requireRole(ctx, t.roles, t.emergencyRole, GetCaller(ctx)); err != nil {
		return nil, err
	}
	action, err := t.pending(id)
	if err != nil {
		return nil, err
	}
	now := t.now()
	if readyAt := action.ProposedAt.Add(t.duration); now.Before(readyAt) {
		return nil, NewError(ErrTimelockNotYetExpired, fmt.Sprintf("executable in %s", readyAt.Sub(now))).WithAction(id)
	}
	if err := t.checkAllowlists(action.Target, action.Payload); err != nil {
		var gkErr *Error
		if errors.As(err, &gkErr) {
			gkErr.WithAction(id)
		}
		return nil, err
	}

	action.Executed = true
	action.ExecutedAt = now

	var (
		result  []byte
		callErr error
	)
	t.guard.external(func() {
		result, callErr = t.call(ctx, action.Target, action.Payload)
	})
	if callErr != nil {
		t.rec.metrics.actionEvent(EventActionExecutionFailed)
		t.rec.emit(ctx, EventActionExecutionFailed, map[string]string{
			"action_id": id.Hex(),
			"target":    action.Target.Hex(),
			"error":     callErr.Error(),
		})
		return nil, bubble(callErr, id)
	}

	t.rec.metrics.actionEvent(EventActionExecuted)
	t.rec.emit(ctx, EventActionExecuted, map[string]string{
		"action_id": id.Hex(),
		"target":    action.Target.Hex(),
	})
	return result, nil
}

// call invokes target as the timelock. It runs outside the lock with the
// timelock marked busy, so a target calling back into a mutating entry point
// is rejected while reads still succeed.
func (t *EmergencyActionTimelock) call(ctx context.Context, target Address, payload []byte) (out []byte, err error) {
	var contract Contract
	if t.contracts != nil {
		contract, _ = t.contracts.Resolve(target)
	}
	if contract == nil {
		return nil, Revert(nil)
	}

	defer func() {
		if p := recover(); p != nil {
			t.rec.logger.WithField("target", target.Hex()).Errorf("target panicked: %v", p)
			out, err = nil, Revert(nil)
		}
	}()
	return contract.Invoke(WithCaller(ctx, t.self), payload)
}

// bubble maps a failed call to the error returned to the executor.
func bubble(err error, id ActionID) error {
	var rev *RevertError
	if errors.As(err, &rev) && len(rev.Data) == 0 {
		return NewError(ErrExecutionFailed, "call reverted without data").WithAction(id)
	}
	return err
}

// CancelEmergencyAction cancels a proposed action. Cancellation needs no
// timelock.
func (t *EmergencyActionTimelock) CancelEmergencyAction(ctx context.Context, id ActionID) error {
	ctx, release, err := t.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := requireRole(ctx, t.roles, t.emergencyRole, GetCaller(ctx)); err != nil {
		return err
	}
	action, err := t.pending(id)
	if err != nil {
		return err
	}
	action.Cancelled = true

	t.rec.metrics.actionEvent(EventActionCancelled)
	t.rec.emit(ctx, EventActionCancelled, map[string]string{
		"action_id": id.Hex(),
	})
	return nil
}

// UpdateTimelockDuration changes the delay applied to every pending action.
func (t *EmergencyActionTimelock) UpdateTimelockDuration(ctx context.Context, d time.Duration) error {
	ctx, release, err := t.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := requireRole(ctx, t.roles, t.emergencyRole, GetCaller(ctx)); err != nil {
		return err
	}
	if err := validateTimelockDuration(d); err != nil {
		return err
	}

	previous := t.duration
	t.duration = d
	t.rec.emit(ctx, EventTimelockUpdated, map[string]string{
		"previous_duration": previous.String(),
		"duration":          d.String(),
	})
	return nil
}

// ============================================================================
// READS
// ============================================================================

// TimelockDuration returns the current delay.
func (t *EmergencyActionTimelock) TimelockDuration(ctx context.Context) time.Duration {
	defer t.guard.read(ctx)()
	return t.duration
}

// GetActionStatus reports the lifecycle state of id. It never fails.
func (t *EmergencyActionTimelock) GetActionStatus(ctx context.Context, id ActionID) ActionStatus {
	defer t.guard.read(ctx)()

	action, ok := t.actions[id]
	if !ok {
		return ActionStatus{}
	}
	status := ActionStatus{
		Exists:    true,
		Executed:  action.Executed,
		Cancelled: action.Cancelled,
	}
	if !action.Executed && !action.Cancelled {
		if remaining := action.ProposedAt.Add(t.duration).Sub(t.now()); remaining > 0 {
			status.TimeRemaining = remaining
		}
	}
	return status
}

// GetActionDetails returns a copy of the action record.
func (t *EmergencyActionTimelock) GetActionDetails(ctx context.Context, id ActionID) (EmergencyAction, error) {
	defer t.guard.read(ctx)()

	action, ok := t.actions[id]
	if !ok {
		return EmergencyAction{}, NewError(ErrActionNotFound, "").WithAction(id)
	}
	return action.clone(), nil
}

// GetAllActionIDs returns every proposed action id in proposal order.
func (t *EmergencyActionTimelock) GetAllActionIDs(ctx context.Context) []ActionID {
	defer t.guard.read(ctx)()

	out := make([]ActionID, len(t.actionIDs))
	copy(out, t.actionIDs)
	return out
}

// GetActionIDsPaginated returns up to limit action ids starting at offset,
// plus the total count.
func (t *EmergencyActionTimelock) GetActionIDsPaginated(ctx context.Context, offset, limit int) ([]ActionID, int, error) {
	if limit <= 0 {
		return nil, 0, NewError(ErrInvalidAmount, "limit must be positive")
	}
	if offset < 0 {
		return nil, 0, NewError(ErrInvalidAmount, "offset must not be negative")
	}
	defer t.guard.read(ctx)()
	return page(t.actionIDs, offset, limit), len(t.actionIDs), nil
}
