package guardkit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for guardkit components.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	roleChanges         *prometheus.CounterVec
	actions             *prometheus.CounterVec
	providerFailures    *prometheus.CounterVec
	reentrancyRejection *prometheus.CounterVec
	effectivePause      *prometheus.GaugeVec
	auditFailures       prometheus.Counter
}

// NewMetrics creates the collectors under namespace and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "guardkit"
	}
	m := &Metrics{
		roleChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "roles",
				Name:      "changes_total",
				Help:      "Role membership and admin changes.",
			},
			[]string{"kind"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "timelock",
				Name:      "actions_total",
				Help:      "Emergency action lifecycle transitions.",
			},
			[]string{"event"},
		),
		providerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "awareness",
				Name:      "provider_failures_total",
				Help:      "Status provider queries that failed and were resolved by the failure policy.",
			},
			[]string{"query"},
		),
		reentrancyRejection: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "guard",
				Name:      "reentrancy_rejections_total",
				Help:      "Nested calls rejected by a reentrancy guard.",
			},
			[]string{"component"},
		),
		effectivePause: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "awareness",
				Name:      "effectively_paused",
				Help:      "1 when the last status check of a component found it paused.",
			},
			[]string{"component"},
		),
		auditFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "write_failures_total",
				Help:      "Audit events that could not be recorded.",
			},
		),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.roleChanges, m.actions, m.providerFailures,
			m.reentrancyRejection, m.effectivePause, m.auditFailures,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) roleChanged(kind EventKind) {
	if m == nil {
		return
	}
	m.roleChanges.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) actionEvent(kind EventKind) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) providerFailed(query string) {
	if m == nil {
		return
	}
	m.providerFailures.WithLabelValues(query).Inc()
}

func (m *Metrics) reentrancyRejected(component string) {
	if m == nil {
		return
	}
	m.reentrancyRejection.WithLabelValues(component).Inc()
}

func (m *Metrics) pauseObserved(component string, paused bool) {
	if m == nil {
		return
	}
	v := 0.0
	if paused {
		v = 1
	}
	m.effectivePause.WithLabelValues(component).Set(v)
}

func (m *Metrics) auditFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}
