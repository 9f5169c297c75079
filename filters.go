package guardkit

import "time"

// AuditFilter provides options for filtering audit log queries.
type AuditFilter struct {
	// Filter by event kind
	Kind EventKind

	// Filter by emitting component ("roles", "timelock", ...)
	Component string

	// Filter by caller who performed the action
	Caller Address

	// Filter by request correlation id
	RequestID string

	// Filter by time range
	Since time.Time
	Until time.Time

	// Pagination
	Limit  int
	Offset int
}

// NewAuditFilter creates a new AuditFilter with default values.
func NewAuditFilter() AuditFilter {
	return AuditFilter{
		Limit: 100,
	}
}

// WithKind sets the event kind filter.
func (f AuditFilter) WithKind(kind EventKind) AuditFilter {
	f.Kind = kind
	return f
}

// WithComponent sets the component filter.
func (f AuditFilter) WithComponent(component string) AuditFilter {
	f.Component = component
	return f
}

// WithCaller sets the caller filter.
func (f AuditFilter) WithCaller(caller Address) AuditFilter {
	f.Caller = caller
	return f
}

// WithRequestID sets the request id filter.
func (f AuditFilter) WithRequestID(id string) AuditFilter {
	f.RequestID = id
	return f
}

// WithTimeRange sets the time range filter.
func (f AuditFilter) WithTimeRange(since, until time.Time) AuditFilter {
	f.Since = since
	f.Until = until
	return f
}

// WithSince sets the start time filter.
func (f AuditFilter) WithSince(since time.Time) AuditFilter {
	f.Since = since
	return f
}

// WithPagination sets both limit and offset.
func (f AuditFilter) WithPagination(limit, offset int) AuditFilter {
	f.Limit = limit
	f.Offset = offset
	return f
}

func (f AuditFilter) matches(e Event) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	if !f.Caller.IsZero() && e.Caller != f.Caller {
		return false
	}
	if f.RequestID != "" && e.RequestID != f.RequestID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}
