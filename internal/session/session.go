// Package session carries the authenticated caller through service calls.
package session

import (
	"context"

	"sphere-health-server/internal/models"
)

// Session is the identity attached to a request after its access token and
// account state have been checked.
type Session struct {
	UserID string
	Role   models.Role
}

// Is reports whether the session belongs to userID.
func (s *Session) Is(userID string) bool {
	return s != nil && s.UserID == userID
}

type ctxKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored by WithSession.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}
