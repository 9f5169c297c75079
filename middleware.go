package guardkit

import (
	"context"
	"errors"
	"net/http"
)

// DefaultCallerHeader is the header CallerFromHeader reads by default.
const DefaultCallerHeader = "X-Caller-Address"

// Middleware provides HTTP middleware for role and emergency status checks.
// Handlers behind it receive the caller and request metadata in the request
// context, ready to pass to any guardkit operation.
type Middleware struct {
	roles        RoleChecker
	getCaller    func(*http.Request) (Address, error)
	errorHandler func(http.ResponseWriter, *http.Request, error)
}

// MiddlewareOption configures the Middleware.
type MiddlewareOption func(*Middleware)

// NewMiddleware creates a new Middleware instance.
//
// Example:
//
//	mw := guardkit.NewMiddleware(registry,
//	    guardkit.WithCallerExtractor(guardkit.CallerFromHeader("X-Account")),
//	)
//	mux.Handle("/admin/pause", mw.RequireRole(guardkit.PauserRole)(pauseHandler))
func NewMiddleware(roles RoleChecker, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		roles:        roles,
		getCaller:    CallerFromHeader(DefaultCallerHeader),
		errorHandler: defaultErrorHandler,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// WithCallerExtractor sets how the caller address is read from a request.
func WithCallerExtractor(fn func(*http.Request) (Address, error)) MiddlewareOption {
	return func(m *Middleware) {
		m.getCaller = fn
	}
}

// WithErrorHandler sets a custom error handler for middleware.
func WithErrorHandler(fn func(http.ResponseWriter, *http.Request, error)) MiddlewareOption {
	return func(m *Middleware) {
		m.errorHandler = fn
	}
}

// CallerFromHeader reads a hex caller address from header.
func CallerFromHeader(header string) func(*http.Request) (Address, error) {
	return func(r *http.Request) (Address, error) {
		v := r.Header.Get(header)
		if v == "" {
			return Address{}, NewError(ErrInvalidAccount, "caller header "+header+" missing")
		}
		caller, err := HexToAddress(v)
		if err != nil {
			return Address{}, NewError(ErrInvalidAccount, err.Error())
		}
		return caller, nil
	}
}

// CallerFromContext uses a caller already placed in the request context by
// an earlier authentication layer.
func CallerFromContext(r *http.Request) (Address, error) {
	caller := GetCaller(r.Context())
	if caller.IsZero() {
		return Address{}, NewError(ErrInvalidAccount, "no caller in request context")
	}
	return caller, nil
}

func defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case IsUnauthorized(err):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, ErrSystemPaused):
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
	case IsValidation(err):
		http.Error(w, "Bad Request", http.StatusBadRequest)
	default:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// withRequestContext attaches the caller and audit metadata to r.
func (m *Middleware) withRequestContext(r *http.Request) (*http.Request, error) {
	caller, err := m.getCaller(r)
	if err != nil {
		return r, err
	}

	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}

	ctx := WithAuditContext(r.Context(), AuditContext{
		Caller:    caller,
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		RequestID: r.Header.Get("X-Request-ID"),
	})
	return r.WithContext(ctx), nil
}

// RequireRole creates middleware that requires the caller to hold role.
//
// Example:
//
//	mux.Handle("/emergency/level", mw.RequireRole(guardkit.EmergencyRole)(levelHandler))
func (m *Middleware) RequireRole(role RoleID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, err := m.withRequestContext(r)
			if err != nil {
				m.errorHandler(w, r, err)
				return
			}
			ctx := r.Context()
			if err := requireRole(ctx, m.roles, role, GetCaller(ctx)); err != nil {
				m.errorHandler(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OperationGate is what RequireOperation consults; *EmergencyAware implements it.
type OperationGate interface {
	RequireNotPaused(ctx context.Context, operation Selector) error
}

// RequireOperation creates middleware that refuses requests with 503 while
// gate is effectively paused or operation is restricted.
//
// Example:
//
//	deposit := guardkit.SelectorFromSignature("deposit(uint256)")
//	mux.Handle("/deposit", mw.RequireOperation(vault, deposit)(depositHandler))
func (m *Middleware) RequireOperation(gate OperationGate, operation Selector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := gate.RequireNotPaused(r.Context(), operation); err != nil {
				m.errorHandler(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// InjectAuditContext creates middleware that adds the caller and request
// metadata to the context without enforcing anything. Requests without a
// valid caller pass through unchanged.
//
// Example:
//
//	handler = mw.InjectAuditContext()(handler)
func (m *Middleware) InjectAuditContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if withCtx, err := m.withRequestContext(r); err == nil {
				r = withCtx
			}
			next.ServeHTTP(w, r)
		})
	}
}
