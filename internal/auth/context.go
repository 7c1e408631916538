// Package auth carries write attribution through the request context.
package auth

import "context"

type contextKey string

const actorKey contextKey = "actor"

// ContextWithActor returns a new context that carries the acting principal.
// History and meta records written under this context are attributed to it.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the acting principal from the context, if any.
func ActorFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value := ctx.Value(actorKey)
	if value == nil {
		return "", false
	}
	actor, ok := value.(string)
	if !ok || actor == "" {
		return "", false
	}
	return actor, true
}
