// Package actor carries the caller identity recorded on a job (spec.md §1
// Non-goals: "multi-tenant isolation beyond the actor field stored on
// records"). There is no authentication here and nothing reads the value
// back to scope a query — it exists purely so the record shows who asked.
// Adapted from the teacher's internal/auth none-authenticator shape
// (Authenticator middleware + context accessor), stripped of the
// JWT/RHSSO machinery that package carried.
package actor

import (
	"context"
	"net/http"
)

type actorKeyType struct{}

var actorKey actorKeyType

// HeaderName is the client header read for the caller identity, falling
// back to Anonymous when absent.
const HeaderName = "X-Actor"

// Anonymous is recorded when a request carries no actor header.
const Anonymous = "anonymous"

// Middleware stamps the request context with an actor identity. It never
// rejects a request: there is no credential to verify, only a label to
// carry.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.Header.Get(HeaderName)
		if name == "" {
			name = Anonymous
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), name)))
	})
}

// NewContext returns a context carrying actor as the caller identity.
func NewContext(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// FromContext returns the actor identity carried on ctx, or Anonymous if
// none was set.
func FromContext(ctx context.Context) string {
	val := ctx.Value(actorKey)
	if val == nil {
		return Anonymous
	}
	name, ok := val.(string)
	if !ok || name == "" {
		return Anonymous
	}
	return name
}
