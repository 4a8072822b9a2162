package session

import (
	"context"
	"net/http"

	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
)

type contextKey string

const sessionContextKey contextKey = "session"

// WithSession returns a copy of ctx carrying sess.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// FromContext returns the session stored by Middleware, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*Session)
	return sess, ok && sess != nil
}

// Middleware attaches the visitor's session to the request context when one exists.
// Requests without a session pass through untouched.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.Current(r.Context(), r)
		if err == nil {
			r = r.WithContext(WithSession(r.Context(), sess))
		} else if !apperrors.Is(err, apperrors.ErrAuthRequired) {
			http.Error(w, "Session store unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}
