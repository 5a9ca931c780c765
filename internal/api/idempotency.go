package api

import "context"

type idempotencyKey struct{}

// WithIdempotencyKey attaches a per-request Idempotency-Key. Non-idempotent
// requests carrying one become eligible for 5xx and 429 retries.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKeyFromContext returns the key set by WithIdempotencyKey.
func IdempotencyKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(idempotencyKey{}).(string); ok {
		return v
	}
	return ""
}
