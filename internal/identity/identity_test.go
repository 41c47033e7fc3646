package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareIssuesSessionCookie(t *testing.T) {
	t.Parallel()

	var gotSessionID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSessionID = SessionIDFromContext(r.Context())
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/get_history", nil)
	Middleware(true)(next).ServeHTTP(w, r)

	if !IsValidSessionID(gotSessionID) {
		t.Errorf("context session ID %q does not match issued format", gotSessionID)
	}

	cookies := w.Result().Cookies()
	var found bool
	for _, c := range cookies {
		if c.Name == SessionCookieName {
			found = true
			if c.Value != gotSessionID {
				t.Errorf("cookie value %q != context session ID %q", c.Value, gotSessionID)
			}
			if !c.HttpOnly {
				t.Error("session cookie should be HttpOnly")
			}
		}
	}
	if !found {
		t.Fatal("session cookie not set")
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	t.Parallel()

	const existing = "sess_0123456789abcdef0123456789abcdef"

	var gotSessionID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSessionID = SessionIDFromContext(r.Context())
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/chat", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: existing})
	Middleware(true)(next).ServeHTTP(w, r)

	if gotSessionID != existing {
		t.Errorf("session ID = %q, want existing %q", gotSessionID, existing)
	}
}

func TestMiddlewareReplacesInvalidCookie(t *testing.T) {
	t.Parallel()

	var gotSessionID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSessionID = SessionIDFromContext(r.Context())
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/chat", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "../../etc/passwd"})
	Middleware(true)(next).ServeHTTP(w, r)

	if gotSessionID == "../../etc/passwd" {
		t.Error("invalid cookie value must not be accepted as a session ID")
	}
	if !IsValidSessionID(gotSessionID) {
		t.Errorf("replacement session ID %q does not match issued format", gotSessionID)
	}
}

func TestIsValidSessionID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id    string
		valid bool
	}{
		{"sess_0123456789abcdef0123456789abcdef", true},
		{"sess_short", false},
		{"", false},
		{"anon_0123456789abcdef0123456789abcdef", false},
		{"sess_0123456789ABCDEF0123456789ABCDEF", false},
	}

	for _, tt := range tests {
		if got := IsValidSessionID(tt.id); got != tt.valid {
			t.Errorf("IsValidSessionID(%q) = %v, want %v", tt.id, got, tt.valid)
		}
	}
}
