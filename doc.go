// Package guardkit provides the access-control and emergency-governance core
// of a multi-contract system: who may act, whether the system may process an
// operation right now, and how privileged remediation calls are scheduled and
// executed.
//
// # Core Concepts
//
// RoleRegistry: enumerable role membership with an admin hierarchy. The zero
// RoleID is the default admin role; it administers itself and every role
// without an explicit admin, and its last member can never be removed.
//
// EmergencyController: the system-wide status provider. It owns the severity
// level (Normal, Caution, Alert, Critical), the global pause flag, the
// withdrawal policy and the function restriction list.
//
// EmergencyAware: the capability every protected component composes. It
// combines a local pause flag with the provider's status. A failing provider
// is resolved by a FailurePolicy, fail-open by default.
//
// EmergencyActionTimelock: proposes, executes and cancels privileged calls to
// allowlisted targets and operation selectors after a delay.
//
// Contracts: components address each other through a ContractResolver, the
// acting account travels in the context (WithCaller) and calls carry a
// selector-prefixed payload (NewPayload).
//
// # Basic Usage
//
//	dir := guardkit.NewDirectory()
//	registry, _ := guardkit.NewRoleRegistry(admin)
//	ctx := guardkit.WithCaller(context.Background(), admin)
//	_ = registry.GrantRole(ctx, guardkit.EmergencyRole, operator)
//
//	controller, _ := guardkit.NewEmergencyController(controllerAddr, registry, dir)
//	_ = dir.Deploy(controllerAddr, controller)
//
//	vault, _ := guardkit.NewEmergencyAware(vaultAddr, registry, dir, controllerAddr)
//	if err := vault.RequireNotPaused(ctx, depositSelector); err != nil {
//	    return err // ErrSystemPaused
//	}
//
// # Timelocked Remediation
//
//	timelock, _ := guardkit.NewEmergencyActionTimelock(timelockAddr, registry, dir)
//	opCtx := guardkit.WithCaller(ctx, operator)
//	_ = timelock.SetAllowedTarget(opCtx, controllerAddr, true)
//	_ = timelock.SetAllowedFunctionSelector(opCtx, guardkit.SelectorFromSignature(guardkit.SigPauseSystem), true)
//	id, _ := timelock.ProposeEmergencyAction(opCtx, guardkit.LevelAlert, controllerAddr,
//	    guardkit.NewPayload(guardkit.SigPauseSystem))
//	// ... after the timelock duration ...
//	_, err := timelock.ExecuteEmergencyAction(opCtx, id)
//
// # Reentrancy
//
// Every component serialises its entry points. A contract invoked from inside
// a guarded call must pass on the context it received; a call back into the
// same component with that context fails with ErrReentrantCall.
//
// # Audit Log
//
// Every state transition is logged with logrus and recorded in an AuditLog
// with the caller, a timestamp and request metadata. Store persists the log
// and versioned snapshots with dbkit.
package guardkit
