package shared

import (
	"context"
	"strings"
)

// SystemActor is recorded when no caller identity is available.
const SystemActor = "system"

type actorContextKey struct{}

// ContextWithActor stores the caller identity used for audit entries.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, strings.TrimSpace(actor))
}

// ActorFromContext extracts the caller identity, falling back to SystemActor.
func ActorFromContext(ctx context.Context) string {
	if actor, _ := ctx.Value(actorContextKey{}).(string); actor != "" {
		return actor
	}
	return SystemActor
}
