package tools

import "context"

type sessionKey struct{}

// WithSessionID tags ctx with the chat session a tool call belongs to.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the session tag, or "" outside a session.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
