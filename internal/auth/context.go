// ABOUTME: Session context for carrying the gate's verdict into request handlers
// ABOUTME: Provides WithSession/FromContext for propagating session info via context

package auth

import (
	"context"
)

// sessionContextKey is the key type for storing Session in context.Context.
type sessionContextKey struct{}

// WithSession returns a new context with the Session attached.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// FromContext retrieves the Session from the context. The zero Session
// (unauthenticated) is returned if none is present.
func FromContext(ctx context.Context) Session {
	s, _ := ctx.Value(sessionContextKey{}).(Session)
	return s
}
