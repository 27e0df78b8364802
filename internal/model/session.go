package model

import (
	"context"
	"time"
)

// Professor is the instructor profile returned by the backend at login.
type Professor struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Session holds the backend credentials of one logged-in instructor.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`
	Professor Professor `json:"professor"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry time.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

type sessionCtxKey struct{}

// ContextWithSession stores a session in the context.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

// SessionFromContext retrieves the session from context, or nil.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionCtxKey{}).(*Session)
	return s
}

// Config holds runtime parameters of the portal set via flags.
type Config struct {
	BackendURL    string
	CacheTTL      time.Duration
	CapOverMax    bool   // cap over-max scores at save time instead of rejecting
	PromptVariant string // strict, standard, lenient
	SecureCookies bool
	Lang          string
}
