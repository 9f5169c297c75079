package guardkit

import (
	"context"
)

// Context keys for guardkit values.
type contextKey string

const (
	contextKeyCaller    contextKey = "guardkit:caller"
	contextKeyIPAddress contextKey = "guardkit:ip_address"
	contextKeyUserAgent contextKey = "guardkit:user_agent"
	contextKeyRequestID contextKey = "guardkit:request_id"
)

// WithCaller sets the account performing the operation.
// Every guarded operation authorizes against this value.
func WithCaller(ctx context.Context, caller Address) context.Context {
	return context.WithValue(ctx, contextKeyCaller, caller)
}

// GetCaller retrieves the caller from context.
// Returns the zero address if not set.
func GetCaller(ctx context.Context) Address {
	if v := ctx.Value(contextKeyCaller); v != nil {
		if a, ok := v.(Address); ok {
			return a
		}
	}
	return Address{}
}

// MustGetCaller retrieves the caller from context.
// Panics if not set.
func MustGetCaller(ctx context.Context) Address {
	caller := GetCaller(ctx)
	if caller.IsZero() {
		panic("guardkit: caller not in context")
	}
	return caller
}

// WithIPAddress adds the client IP address to the context (for audit).
func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKeyIPAddress, ip)
}

// GetIPAddress retrieves the IP address from context.
func GetIPAddress(ctx context.Context) string {
	if v := ctx.Value(contextKeyIPAddress); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithUserAgent adds the user agent to the context (for audit).
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, contextKeyUserAgent, ua)
}

// GetUserAgent retrieves the user agent from context.
func GetUserAgent(ctx context.Context) string {
	if v := ctx.Value(contextKeyUserAgent); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context (for audit and correlation).
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(contextKeyRequestID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// AuditContext holds all audit-related information from context.
type AuditContext struct {
	Caller    Address
	IPAddress string
	UserAgent string
	RequestID string
}

// GetAuditContext extracts all audit information from context.
func GetAuditContext(ctx context.Context) AuditContext {
	return AuditContext{
		Caller:    GetCaller(ctx),
		IPAddress: GetIPAddress(ctx),
		UserAgent: GetUserAgent(ctx),
		RequestID: GetRequestID(ctx),
	}
}

// WithAuditContext adds all audit information to context at once.
func WithAuditContext(ctx context.Context, ac AuditContext) context.Context {
	if !ac.Caller.IsZero() {
		ctx = WithCaller(ctx, ac.Caller)
	}
	if ac.IPAddress != "" {
		ctx = WithIPAddress(ctx, ac.IPAddress)
	}
	if ac.UserAgent != "" {
		ctx = WithUserAgent(ctx, ac.UserAgent)
	}
	if ac.RequestID != "" {
		ctx = WithRequestID(ctx, ac.RequestID)
	}
	return ctx
}
