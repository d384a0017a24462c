package identity

import (
	"context"
	"net/http"
)

type contextKey string

const callerKey contextKey = "caller"

// Middleware resolves the caller once per request and stores it in context.
// It never rejects: anonymous callers continue and are gated downstream.
func Middleware(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), callerKey, resolver.Resolve(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCaller returns the resolved caller, or a zero Caller when the middleware
// did not run.
func GetCaller(ctx context.Context) Caller {
	if c, ok := ctx.Value(callerKey).(Caller); ok {
		return c
	}
	return Caller{}
}
