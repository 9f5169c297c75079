package guardkit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventKind names a state transition in the audit log.
type EventKind string

const (
	EventRoleGranted      EventKind = "role_granted"
	EventRoleRevoked      EventKind = "role_revoked"
	EventRoleAdminChanged EventKind = "role_admin_changed"

	EventActionProposed        EventKind = "action_proposed"
	EventActionExecuted        EventKind = "action_executed"
	EventActionExecutionFailed EventKind = "action_execution_failed"
	EventActionCancelled       EventKind = "action_cancelled"
	EventTargetAllowlisted     EventKind = "target_allowlist_updated"
	EventSelectorAllowlisted   EventKind = "selector_allowlist_updated"
	EventTimelockUpdated       EventKind = "timelock_duration_updated"

	EventControllerUpdated  EventKind = "emergency_controller_updated"
	EventEmergencyShutdown  EventKind = "emergency_shutdown"
	EventLocalPauseUpdated  EventKind = "local_pause_updated"
	EventLevelUpdated       EventKind = "emergency_level_updated"
	EventSystemPauseUpdated EventKind = "system_pause_updated"
	EventWithdrawalUpdated  EventKind = "withdrawal_settings_updated"
	EventRestrictionUpdated EventKind = "function_restriction_updated"
	EventAwareRegistered    EventKind = "aware_contract_registered"
	EventAwareUnregistered  EventKind = "aware_contract_unregistered"
)

// Event is one immutable audit record.
type Event struct {
	Sequence   uint64            `json:"sequence"`
	Kind       EventKind         `json:"kind"`
	Component  string            `json:"component"`
	Caller     Address           `json:"caller"`
	Timestamp  time.Time         `json:"timestamp"`
	RequestID  string            `json:"request_id,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// AuditLog is an append-only sink of state transitions.
type AuditLog interface {
	Record(ctx context.Context, event Event) error
	Events(ctx context.Context, filter AuditFilter) ([]Event, error)
}

// MemoryAuditLog keeps events in process memory.
type MemoryAuditLog struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryAuditLog creates an empty log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// Record appends event and assigns its sequence number.
func (l *MemoryAuditLog) Record(_ context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Sequence = uint64(len(l.events)) + 1
	event.Attributes = cloneAttributes(event.Attributes)
	l.events = append(l.events, event)
	return nil
}

// Events returns the events matching filter, oldest first.
func (l *MemoryAuditLog) Events(_ context.Context, filter AuditFilter) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []Event
	for _, e := range l.events {
		if filter.matches(e) {
			e.Attributes = cloneAttributes(e.Attributes)
			matched = append(matched, e)
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []Event{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Len returns the number of recorded events.
func (l *MemoryAuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func cloneAttributes(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// recorder is the logging and audit plumbing shared by the components.
type recorder struct {
	component string
	audit     AuditLog
	logger    logrus.FieldLogger
	metrics   *Metrics
	clock     Clock
}

func newRecorder(component string, o *options) recorder {
	return recorder{
		component: component,
		audit:     o.audit,
		logger:    o.logger.WithField("component", component),
		metrics:   o.metrics,
		clock:     o.clock,
	}
}

// emit logs and records a state transition. A failing audit sink is logged
// and never fails the operation that produced the event.
func (r recorder) emit(ctx context.Context, kind EventKind, attrs map[string]string) {
	ac := GetAuditContext(ctx)
	event := Event{
		Kind:       kind,
		Component:  r.component,
		Caller:     ac.Caller,
		Timestamp:  r.clock().UTC(),
		RequestID:  ac.RequestID,
		IPAddress:  ac.IPAddress,
		UserAgent:  ac.UserAgent,
		Attributes: attrs,
	}

	fields := logrus.Fields{
		"event":  string(kind),
		"caller": ac.Caller.Hex(),
	}
	if ac.RequestID != "" {
		fields["request_id"] = ac.RequestID
	}
	for k, v := range attrs {
		fields[k] = v
	}
	r.logger.WithFields(fields).Info("state transition")

	if err := r.audit.Record(ctx, event); err != nil {
		r.metrics.auditFailed()
		r.logger.WithError(err).WithField("event", string(kind)).Error("failed to record audit event")
	}
}
