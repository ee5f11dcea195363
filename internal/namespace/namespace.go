// Package namespace resolves which tenant partition of the vector index a
// call should touch. The preferred source is always the explicit value
// carried in the per-invocation config; a request-scoped context value
// exists as a fallback for collaborators invoked without direct access to
// that config. Resolution never falls back to a global namespace — missing
// both sources is a configuration error.
package namespace

import (
	"context"
	"errors"
	"fmt"
)

// ErrMissing is returned when neither an explicit namespace nor a
// request-scoped fallback is available.
var ErrMissing = errors.New("namespace: no namespace resolved for request")

// ErrUnknownUser is returned when a user ID has no configured namespace.
var ErrUnknownUser = errors.New("namespace: unknown user")

// contextKey is an unexported type for context keys in this package.
type contextKey struct{}

// WithNamespace returns a copy of ctx carrying ns as the request-scoped
// fallback namespace. Each request gets its own context, so concurrent
// requests can never observe one another's value.
func WithNamespace(ctx context.Context, ns string) context.Context {
	return context.WithValue(ctx, contextKey{}, ns)
}

// FromContext returns the request-scoped fallback namespace, or "" if none
// was set on this request's context.
func FromContext(ctx context.Context) string {
	if ns, ok := ctx.Value(contextKey{}).(string); ok {
		return ns
	}
	return ""
}

// Resolve returns the namespace for a call: the explicit value when
// non-empty, otherwise the request-scoped context fallback. Returns
// ErrMissing when both are absent.
func Resolve(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if ns := FromContext(ctx); ns != "" {
		return ns, nil
	}
	return "", ErrMissing
}

// Registry maps caller identity to a configured namespace. It is built once
// at startup from configuration and read-only afterwards, so it is safe for
// concurrent use.
type Registry struct {
	// tenants maps user ID to namespace.
	tenants map[string]string
}

// NewRegistry constructs a Registry from a user-ID-to-namespace mapping.
func NewRegistry(tenants map[string]string) *Registry {
	m := make(map[string]string, len(tenants))
	for user, ns := range tenants {
		m[user] = ns
	}
	return &Registry{tenants: m}
}

// Lookup returns the namespace configured for userID. An unknown or empty
// user ID is a configuration error, rejected before any retrieval work.
func (r *Registry) Lookup(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrUnknownUser)
	}
	ns, ok := r.tenants[userID]
	if !ok || ns == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownUser, userID)
	}
	return ns, nil
}

// Len reports how many tenants are configured.
func (r *Registry) Len() int {
	return len(r.tenants)
}
