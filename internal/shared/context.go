package shared

import "context"

type originContextKey struct{}

// Origin describes where a request came from, recorded on audit entries.
type Origin struct {
	IPAddress string
	UserAgent string
}

// ContextWithOrigin stores the request origin in context.
func ContextWithOrigin(ctx context.Context, origin Origin) context.Context {
	return context.WithValue(ctx, originContextKey{}, origin)
}

// OriginFromContext extracts the request origin from context.
func OriginFromContext(ctx context.Context) Origin {
	origin, _ := ctx.Value(originContextKey{}).(Origin)
	return origin
}
