package guardkit

import (
	"errors"
	"fmt"
)

// Sentinel errors for guardkit operations.
var (
	// ErrInvalidAccount is returned for a zero account, target or caller.
	ErrInvalidAccount = errors.New("guardkit: invalid account")

	// ErrInvalidAmount is returned for zero or out-of-range numeric arguments
	// and is the parent of every action state error.
	ErrInvalidAmount = errors.New("guardkit: invalid amount")

	// ErrInvalidDuration is returned when a timelock duration is outside its bounds.
	ErrInvalidDuration = errors.New("guardkit: invalid duration")

	// ErrInvalidLevel is returned for a severity level above Critical.
	ErrInvalidLevel = errors.New("guardkit: invalid severity level")

	// ErrInvalidPayload is returned when a payload is too short to carry a selector or argument.
	ErrInvalidPayload = errors.New("guardkit: invalid payload")

	// ErrSenderNotAdmin is returned when the caller lacks the admin role of the role it manages.
	ErrSenderNotAdmin = errors.New("guardkit: sender is not admin")

	// ErrRoleIsReserved is returned when reconfiguring the reserved default admin role.
	ErrRoleIsReserved = errors.New("guardkit: role is reserved")

	// ErrCannotRemoveLastAdmin is returned when removing the last default admin.
	ErrCannotRemoveLastAdmin = errors.New("guardkit: cannot remove last admin")

	// ErrIndexOutOfBounds is returned for enumeration indexes past the end.
	ErrIndexOutOfBounds = errors.New("guardkit: index out of bounds")

	// ErrNotAContract is returned when an address has no deployed contract.
	ErrNotAContract = errors.New("guardkit: not a contract")

	// ErrNotAuthorized is returned when the caller lacks a required role or an allowlist check fails.
	ErrNotAuthorized = errors.New("guardkit: not authorized")

	// ErrNotEmergencyController is returned when anyone but the registered controller pushes a shutdown.
	ErrNotEmergencyController = errors.New("guardkit: caller is not the emergency controller")

	// ErrTimelockNotYetExpired is returned when executing before the timelock has elapsed.
	ErrTimelockNotYetExpired = errors.New("guardkit: timelock not yet expired")

	// ErrExecutionFailed is returned when a target call fails without error data.
	ErrExecutionFailed = errors.New("guardkit: execution failed")

	// ErrReentrantCall is returned for a nested call into a guarded entry point.
	ErrReentrantCall = errors.New("guardkit: reentrant call")

	// ErrSystemPaused is returned by RequireNotPaused when a component is effectively paused.
	ErrSystemPaused = errors.New("guardkit: system paused")

	// ErrStore is returned when a persistence operation fails.
	ErrStore = errors.New("guardkit: store error")

	// ErrSnapshotVersion is returned for snapshots with an unknown schema version or kind.
	ErrSnapshotVersion = errors.New("guardkit: unsupported snapshot version")
)

// Action state errors. All of them match ErrInvalidAmount.
var (
	ErrActionNotFound         = fmt.Errorf("%w: action does not exist", ErrInvalidAmount)
	ErrActionAlreadyExecuted  = fmt.Errorf("%w: action already executed", ErrInvalidAmount)
	ErrActionAlreadyCancelled = fmt.Errorf("%w: action already cancelled", ErrInvalidAmount)
	ErrDuplicateAction        = fmt.Errorf("%w: action already proposed", ErrInvalidAmount)
)

// Error wraps a sentinel error with additional context.
type Error struct {
	Err     error    // Underlying sentinel error
	Message string   // Additional context
	Role    *RoleID  // Role involved (for ErrSenderNotAdmin, the required role)
	Account *Address // Account involved (if applicable)
	Caller  *Address // Caller who triggered the error (if applicable)
	Action  *ActionID
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches a target error.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with context.
func NewError(err error, message string) *Error {
	return &Error{
		Err:     err,
		Message: message,
	}
}

// WithRole adds role information to the error.
func (e *Error) WithRole(role RoleID) *Error {
	e.Role = &role
	return e
}

// WithAccount adds account information to the error.
func (e *Error) WithAccount(account Address) *Error {
	e.Account = &account
	return e
}

// WithCaller adds caller information to the error.
func (e *Error) WithCaller(caller Address) *Error {
	e.Caller = &caller
	return e
}

// WithAction adds the action id to the error.
func (e *Error) WithAction(id ActionID) *Error {
	e.Action = &id
	return e
}

// RequiredRole returns the role a caller was missing, if err carries one.
func RequiredRole(err error) (RoleID, bool) {
	var gkErr *Error
	if errors.As(err, &gkErr) && gkErr.Role != nil {
		return *gkErr.Role, true
	}
	return RoleID{}, false
}

// RevertError is a contract failure carrying raw error data.
// Executing an action whose target reverts with data returns the RevertError unchanged;
// a revert without data becomes ErrExecutionFailed.
type RevertError struct {
	Data []byte
}

func (e *RevertError) Error() string {
	if len(e.Data) == 0 {
		return "guardkit: reverted"
	}
	return fmt.Sprintf("guardkit: reverted: 0x%x", e.Data)
}

// Revert returns a RevertError carrying data.
func Revert(data []byte) *RevertError {
	return &RevertError{Data: data}
}

// IsUnauthorized checks if an error is an authorization error.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrSenderNotAdmin) ||
		errors.Is(err, ErrNotEmergencyController)
}

// IsValidation checks if an error is due to an invalid argument.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidAccount, ErrInvalidDuration, ErrInvalidLevel,
		ErrInvalidPayload, ErrRoleIsReserved, ErrNotAContract,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return errors.Is(err, ErrInvalidAmount) && !IsStateError(err)
}

// IsStateError checks if an error was caused by the current state rather than the arguments.
func IsStateError(err error) bool {
	for _, target := range []error{
		ErrActionNotFound, ErrActionAlreadyExecuted, ErrActionAlreadyCancelled,
		ErrDuplicateAction, ErrIndexOutOfBounds, ErrCannotRemoveLastAdmin,
		ErrTimelockNotYetExpired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
