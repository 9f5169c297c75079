package guardkit

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Clock returns the current time. Tests substitute a fixed or stepping clock.
type Clock func() time.Time

// Option configures a guardkit component.
// Options that do not apply to a component are ignored by it.
type Option func(*options)

type options struct {
	logger           logrus.FieldLogger
	clock            Clock
	audit            AuditLog
	metrics          *Metrics
	timelockDuration time.Duration
	emergencyRole    RoleID
	adminRole        RoleID
	pauserRole       RoleID
	failurePolicy    FailurePolicy
	onShutdown       ShutdownHook
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:           logrus.StandardLogger(),
		clock:            time.Now,
		timelockDuration: DefaultTimelockDuration,
		emergencyRole:    EmergencyRole,
		adminRole:        DefaultAdminRole,
		pauserRole:       DefaultAdminRole,
		failurePolicy:    FailOpen,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.audit == nil {
		o.audit = NewMemoryAuditLog()
	}
	return o
}

// WithLogger sets the structured logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithAuditLog sets where state transitions are recorded.
// Components default to a private MemoryAuditLog.
func WithAuditLog(a AuditLog) Option {
	return func(o *options) {
		o.audit = a
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTimelockDuration sets the initial timelock of an EmergencyActionTimelock.
func WithTimelockDuration(d time.Duration) Option {
	return func(o *options) {
		o.timelockDuration = d
	}
}

// WithEmergencyRole sets the role that gates timelock and controller operations.
func WithEmergencyRole(r RoleID) Option {
	return func(o *options) {
		o.emergencyRole = r
	}
}

// WithAdminRole sets the role allowed to change an aware component's controller.
func WithAdminRole(r RoleID) Option {
	return func(o *options) {
		o.adminRole = r
	}
}

// WithPauserRole sets the role allowed to toggle an aware component's local pause.
func WithPauserRole(r RoleID) Option {
	return func(o *options) {
		o.pauserRole = r
	}
}

// WithFailurePolicy sets how an aware component treats a failing status provider.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(o *options) {
		o.failurePolicy = p
	}
}

// WithShutdownHook registers the component-specific reaction to a pushed shutdown.
func WithShutdownHook(h ShutdownHook) Option {
	return func(o *options) {
		o.onShutdown = h
	}
}
