// Package reqctx carries request-scoped metadata (request id, idempotency key,
// trace context) across process boundaries.
//
// HTTP handlers store the values in the context; the event bus copies them into
// message headers on publish and restores them on delivery, so a saga step
// triggered by a downstream event logs the same request id as the API call that
// started it.
package reqctx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// contextKey is an unexported type for context keys in this package.
// Using a custom type prevents collisions with keys from other packages
// that might use the same underlying string value.
type contextKey string

const (
	HeaderXRequestId      = "x-request-id"
	HeaderXIdempotencyKey = "x-idempotency-key"

	// ContextKeyRequestID is the context key for the request ID.
	ContextKeyRequestID contextKey = HeaderXRequestId
	// ContextKeyIdempotencyKey is the context key for the idempotency key.
	ContextKeyIdempotencyKey contextKey = HeaderXIdempotencyKey
)

// WithRequestID returns a copy of ctx carrying id. Empty ids are ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyRequestID).(string)
	return id
}

// WithIdempotencyKey returns a copy of ctx carrying key. Empty keys are ignored.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, ContextKeyIdempotencyKey, key)
}

// IdempotencyKey returns the idempotency key stored in ctx, or "".
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(ContextKeyIdempotencyKey).(string)
	return key
}

// Inject writes the request metadata and the W3C trace context of ctx into
// headers. headers must be non-nil.
func Inject(ctx context.Context, headers map[string]string) {
	if id := RequestID(ctx); id != "" {
		headers[HeaderXRequestId] = id
	}
	if key := IdempotencyKey(ctx); key != "" {
		headers[HeaderXIdempotencyKey] = key
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}

// Extract is the inverse of Inject.
func Extract(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
	ctx = WithRequestID(ctx, headers[HeaderXRequestId])
	return WithIdempotencyKey(ctx, headers[HeaderXIdempotencyKey])
}
