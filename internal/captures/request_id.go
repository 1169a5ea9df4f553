package captures

import "context"

type requestIDKey struct{}

// WithRequestID attaches a request ID to the context for logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// detachWithRequestID keeps only the request id of ctx on top of base.
func detachWithRequestID(base, ctx context.Context) context.Context {
	if base == nil {
		base = context.Background()
	}
	return WithRequestID(base, requestIDFromContext(ctx))
}
