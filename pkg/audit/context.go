package audit

import "context"

type contextKey struct{}

// WithActor returns a context carrying the acting operator.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// ActorFromContext returns the operator stored by WithActor, or "system".
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(contextKey{}).(string); ok && actor != "" {
		return actor
	}
	return "system"
}
