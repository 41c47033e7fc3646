// Package identity provides anonymous per-client session identity.
//
// Each browser gets a random session ID in an HttpOnly cookie; the ID keys
// the stored conversation transcript. There is no authentication — the
// cookie is the whole identity, like a classic server-side session.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"time"
)

const (
	// SessionCookieName is the cookie carrying the anonymous session ID.
	SessionCookieName = "merlin_session"

	sessionCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const sessionIDKey contextKey = iota

var sessionIDPattern = regexp.MustCompile(`^sess_[a-f0-9]{32}$`)

// SessionIDFromContext extracts the session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithSessionID returns a context carrying the given session ID.
// Exposed for handler tests.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func generateSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return "sess_" + hex.EncodeToString(buf), nil
}

// IsValidSessionID reports whether id matches the issued-cookie format.
func IsValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func setSessionCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(sessionCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateSessionID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(SessionCookieName); err == nil && IsValidSessionID(c.Value) {
		// Refresh the cookie lifetime on every request.
		setSessionCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateSessionID()
	if err != nil {
		return "", err
	}
	setSessionCookie(w, id, isDev)
	return id, nil
}

// Middleware injects the anonymous session ID into the request context,
// issuing a fresh cookie when the client has none.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, err := getOrCreateSessionID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish session"}`, http.StatusInternalServerError)
				return
			}

			ctx := ContextWithSessionID(r.Context(), sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
