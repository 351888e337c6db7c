// Package auth gates requests on a session issued by the external auth
// provider. This core only ever reads sessions; it never creates, refreshes
// or revokes them.
package auth

import (
	"context"
	"errors"
	"time"
)

// Session is the identity proof attached to an authenticated request.
type Session struct {
	UserID    string    `json:"userID"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// ErrUnauthorized marks a request that carries no valid session.
var ErrUnauthorized = errors.New("unauthorized")

// Verifier checks the credentials attached to a request.
//
// Verify returns (nil, nil) when the request carries no valid session and an
// error only for transport or provider failures, which must never be
// mistaken for "not logged in".
type Verifier interface {
	Verify(ctx context.Context, cookieHeader string) (*Session, error)
}

type contextKey struct{}

// ContextWithSession attaches a verified session to the request context.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the verified session attached by the middleware.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok
}
