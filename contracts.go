package guardkit

import (
	"context"
	"fmt"
)

// Operation signatures understood by the built-in contracts.
const (
	SigPause                 = "pause()"
	SigUnpause               = "unpause()"
	SigPauseSystem           = "pauseSystem()"
	SigUnpauseSystem         = "unpauseSystem()"
	SigSetEmergencyLevel     = "setEmergencyLevel(uint8)"
	SigSetFunctionRestricted = "setFunctionRestricted(bytes4,bool)"
	SigGrantRole             = "grantRole(bytes32,address)"
	SigRevokeRole            = "revokeRole(bytes32,address)"
)

// handler runs one decoded operation.
type handler func(ctx context.Context, payload []byte) error

// dispatch routes payload to the handler registered for its selector.
// An unknown selector reverts without data.
func dispatch(ctx context.Context, payload []byte, handlers map[Selector]handler) ([]byte, error) {
	selector, err := ExtractSelector(payload)
	if err != nil {
		return nil, err
	}
	h, ok := handlers[selector]
	if !ok {
		return nil, Revert(nil)
	}
	if err := h(ctx, payload); err != nil {
		return nil, err
	}
	return nil, nil
}

func argWord(payload []byte, i int, fn func(Word) error) error {
	w, err := PayloadWord(payload, i)
	if err != nil {
		return err
	}
	return fn(w)
}

var (
	selPause                 = SelectorFromSignature(SigPause)
	selUnpause               = SelectorFromSignature(SigUnpause)
	selPauseSystem           = SelectorFromSignature(SigPauseSystem)
	selUnpauseSystem         = SelectorFromSignature(SigUnpauseSystem)
	selSetEmergencyLevel     = SelectorFromSignature(SigSetEmergencyLevel)
	selSetFunctionRestricted = SelectorFromSignature(SigSetFunctionRestricted)
	selGrantRole             = SelectorFromSignature(SigGrantRole)
	selRevokeRole            = SelectorFromSignature(SigRevokeRole)
)

// Invoke lets the timelock drive the controller through
// pauseSystem(), unpauseSystem(), setEmergencyLevel(uint8) and
// setFunctionRestricted(bytes4,bool).
func (c *EmergencyController) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	return dispatch(ctx, payload, map[Selector]handler{
		selPauseSystem:   func(ctx context.Context, _ []byte) error { return c.PauseSystem(ctx) },
		selUnpauseSystem: func(ctx context.Context, _ []byte) error { return c.UnpauseSystem(ctx) },
		selSetEmergencyLevel: func(ctx context.Context, p []byte) error {
			return argWord(p, 0, func(w Word) error {
				v, err := w.Uint64()
				if err != nil {
					return err
				}
				if v > uint64(LevelCritical) {
					return NewError(ErrInvalidLevel, fmt.Sprintf("level %d", v))
				}
				return c.SetEmergencyLevel(ctx, Level(v))
			})
		},
		selSetFunctionRestricted: func(ctx context.Context, p []byte) error {
			sel, err := PayloadWord(p, 0)
			if err != nil {
				return err
			}
			restricted, err := PayloadWord(p, 1)
			if err != nil {
				return err
			}
			selector, err := sel.Selector()
			if err != nil {
				return err
			}
			flag, err := restricted.Bool()
			if err != nil {
				return err
			}
			return c.SetFunctionRestricted(ctx, selector, flag)
		},
	})
}

// Invoke accepts pause() and unpause() payloads.
func (a *EmergencyAware) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	return dispatch(ctx, payload, map[Selector]handler{
		selPause:   func(ctx context.Context, _ []byte) error { return a.Pause(ctx) },
		selUnpause: func(ctx context.Context, _ []byte) error { return a.Unpause(ctx) },
	})
}

// Invoke accepts grantRole(bytes32,address) and revokeRole(bytes32,address)
// payloads, so role changes can go through the timelock.
func (r *RoleRegistry) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	roleArgs := func(p []byte) (RoleID, Address, error) {
		role, err := PayloadWord(p, 0)
		if err != nil {
			return RoleID{}, Address{}, err
		}
		account, err := PayloadWord(p, 1)
		if err != nil {
			return RoleID{}, Address{}, err
		}
		addr, err := account.Address()
		if err != nil {
			return RoleID{}, Address{}, err
		}
		return role.RoleID(), addr, nil
	}
	return dispatch(ctx, payload, map[Selector]handler{
		selGrantRole: func(ctx context.Context, p []byte) error {
			role, account, err := roleArgs(p)
			if err != nil {
				return err
			}
			return r.GrantRole(ctx, role, account)
		},
		selRevokeRole: func(ctx context.Context, p []byte) error {
			role, account, err := roleArgs(p)
			if err != nil {
				return err
			}
			return r.RevokeRole(ctx, role, account)
		},
	})
}
