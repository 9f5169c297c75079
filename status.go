package guardkit

import (
	"context"
	"fmt"
	"strings"
)

// MaxPenaltyBps caps the emergency withdrawal penalty at 100%.
const MaxPenaltyBps = 10_000

// WithdrawalSettings is the global emergency withdrawal policy.
type WithdrawalSettings struct {
	Enabled    bool   `json:"enabled" msgpack:"enabled"`
	PenaltyBps uint64 `json:"penalty_bps" msgpack:"penalty_bps"`
}

// StatusProvider is the system-wide emergency status authority.
// Protected components query it; it never queries them.
type StatusProvider interface {
	IsSystemPaused(ctx context.Context) (bool, error)
	GetEmergencyLevel(ctx context.Context) (Level, error)
	GetEmergencyWithdrawalSettings(ctx context.Context) (WithdrawalSettings, error)
	IsFunctionRestricted(ctx context.Context, selector Selector) (bool, error)
	GetEmergencyAwareContractsPaginated(ctx context.Context, offset, limit int) ([]Address, int, error)
}

// ShutdownReceiver is implemented by components that accept pushed shutdowns
// from their status provider.
type ShutdownReceiver interface {
	EmergencyShutdown(ctx context.Context, level Level) error
}

// FailurePolicy decides how a status query that fails is interpreted.
type FailurePolicy int

const (
	// FailOpen treats an unreachable or failing provider as "not paused".
	// A provider fault then cannot freeze every dependent component.
	FailOpen FailurePolicy = iota

	// FailClosed treats an unreachable or failing provider as "paused".
	FailClosed
)

func (p FailurePolicy) String() string {
	switch p {
	case FailOpen:
		return "fail-open"
	case FailClosed:
		return "fail-closed"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseFailurePolicy parses "fail-open" or "fail-closed".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail-open", "open":
		return FailOpen, nil
	case "fail-closed", "closed":
		return FailClosed, nil
	default:
		return FailOpen, fmt.Errorf("unknown failure policy %q", s)
	}
}

// resolve maps a failed query to its policy outcome.
func (p FailurePolicy) resolve() bool {
	return p == FailClosed
}
