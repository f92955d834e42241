package shared

import "context"

type consoleIDKey struct{}

// ContextWithConsoleID stores the console context id in ctx.
func ContextWithConsoleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, consoleIDKey{}, id)
}

// ConsoleIDFromContext extracts the console context id from ctx.
func ConsoleIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(consoleIDKey{}).(string)
	return id
}
