package domain

import "context"

type clientKeyContextKey struct{}

// WithClientKey attaches the stable per-client identifier (typically the
// caller's IP) used by sticky balancer strategies like ip-hash. Call this
// once per request before invoking EndpointSelector.Select.
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, clientKeyContextKey{}, key)
}

// ClientKeyFromContext returns the key set by WithClientKey, or "" if none
// was attached.
func ClientKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(clientKeyContextKey{}).(string)
	return key
}
