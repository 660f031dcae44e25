package eventing

import "context"

type contextKey string

const (
	contextKeyEnvelope contextKey = "eventing.envelope"
	contextKeyMeta     contextKey = "eventing.meta"
)

// WithEnvelope attaches the envelope being delivered to context.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, contextKeyEnvelope, env)
}

// EnvelopeFromContext returns envelope metadata if available.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	value := ctx.Value(contextKeyEnvelope)
	env, ok := value.(Envelope)
	return env, ok
}

// WithTenantID sets tenant id for events emitted under ctx.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	meta := metaFrom(ctx)
	meta.TenantID = tenantID
	return context.WithValue(ctx, contextKeyMeta, meta)
}

// WithCorrelationID sets correlation id for events emitted under ctx.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	meta := metaFrom(ctx)
	meta.CorrelationID = correlationID
	return context.WithValue(ctx, contextKeyMeta, meta)
}

// MetaFromContext builds metadata from context with defaults.
func MetaFromContext(ctx context.Context, defaultTenantID string) Meta {
	meta := metaFrom(ctx)
	if meta.TenantID == "" {
		meta.TenantID = defaultTenantID
	}
	return meta
}

func metaFrom(ctx context.Context) Meta {
	if ctx == nil {
		return Meta{}
	}
	meta, _ := ctx.Value(contextKeyMeta).(Meta)
	return meta
}
