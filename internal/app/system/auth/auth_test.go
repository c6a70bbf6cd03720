package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const strongKey = "xK8nP2mQ9rT5vW7yB3cF6hJ0lN4sU1wZ"

func TestNewSessionManager(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		secure  bool
		wantErr bool
	}{
		{"empty key", "", false, true},
		{"short key in dev", "short", false, false},
		{"short key in prod", "short", true, true},
		{"default key in prod", "dev-only-change-me-please-0123456789ABCDEF", true, true},
		{"strong key in prod", strongKey, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, err := NewSessionManager(tt.key, "", "", time.Hour, tt.secure, zap.NewNop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSessionManager() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var cfgErr *SessionConfigError
				if !errors.As(err, &cfgErr) {
					t.Errorf("error type = %T, want *SessionConfigError", err)
				}
				return
			}
			if sm.SessionName() != "axiom-session" {
				t.Errorf("SessionName() = %q, want default", sm.SessionName())
			}
			opts := sm.Store().Options
			if !opts.HttpOnly || opts.Secure != tt.secure || opts.MaxAge != 3600 {
				t.Errorf("cookie options = %+v", opts)
			}
		})
	}
}

func TestNewSessionManager_CustomName(t *testing.T) {
	sm, err := NewSessionManager(strongKey, "custom", "example.com", time.Hour, false, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSessionManager() error = %v", err)
	}
	if sm.SessionName() != "custom" || sm.Store().Options.Domain != "example.com" {
		t.Errorf("name = %q, domain = %q", sm.SessionName(), sm.Store().Options.Domain)
	}
}

func TestCurrentUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := CurrentUser(req); ok {
		t.Error("CurrentUser() on a bare request reported a user")
	}
	if _, ok := CurrentUserID(req); ok {
		t.Error("CurrentUserID() on a bare request reported an id")
	}

	id := primitive.NewObjectID()
	req = WithTestUser(req, &SessionUser{ID: id.Hex(), Username: "alice", Role: "student", Token: "tok"})
	u, ok := CurrentUser(req)
	if !ok || u.Username != "alice" {
		t.Fatalf("CurrentUser() = %+v, %v", u, ok)
	}
	if got, _ := CurrentUserID(req); got != id.Hex() {
		t.Errorf("CurrentUserID() = %q, want %q", got, id.Hex())
	}
	if u.UserID() != id {
		t.Errorf("UserID() = %v, want %v", u.UserID(), id)
	}
	if u.SessionToken() != "tok" {
		t.Errorf("SessionToken() = %q", u.SessionToken())
	}
	if (&SessionUser{ID: "nope"}).UserID() != primitive.NilObjectID {
		t.Error("UserID() of a malformed id should be the nil ObjectID")
	}
}

// guardCase describes one request through RequireSignedIn or RequireRole.
type guardCase struct {
	name       string
	user       *SessionUser
	headers    map[string]string
	wantStatus int
	wantHeader string // Location or HX-Redirect, by response kind
}

func runGuard(t *testing.T, guard func(http.Handler) http.Handler, tests []guardCase) {
	t.Helper()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if tt.user != nil {
				req = WithTestUser(req, tt.user)
			}
			rec := httptest.NewRecorder()
			guard(ok).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantHeader == "" {
				return
			}
			got := rec.Header().Get("Location")
			if tt.headers["HX-Request"] == "true" {
				got = rec.Header().Get("HX-Redirect")
			}
			if got != tt.wantHeader {
				t.Errorf("redirect = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

var (
	htmlAccept = map[string]string{"Accept": "text/html"}
	htmx       = map[string]string{"HX-Request": "true"}
	jsonAccept = map[string]string{"Accept": "application/json"}
)

func TestRequireSignedIn(t *testing.T) {
	sm := newTestManager(t)
	login := "/auth/login?return=%2Fprotected"
	runGuard(t, sm.RequireSignedIn, []guardCase{
		{"browser", nil, htmlAccept, http.StatusSeeOther, login},
		{"htmx", nil, htmx, http.StatusUnauthorized, login},
		{"api", nil, jsonAccept, http.StatusUnauthorized, ""},
		{"signed in", &SessionUser{ID: "1", Role: "student"}, htmlAccept, http.StatusOK, ""},
	})
}

func TestRequireRole(t *testing.T) {
	sm := newTestManager(t)
	admin := &SessionUser{ID: "1", Role: "admin"}
	student := &SessionUser{ID: "2", Role: "student"}

	runGuard(t, sm.RequireRole("admin"), []guardCase{
		{"admin", admin, htmlAccept, http.StatusOK, ""},
		{"upper-case role", &SessionUser{ID: "3", Role: "ADMIN"}, htmlAccept, http.StatusOK, ""},
		{"student browser", student, htmlAccept, http.StatusSeeOther, "/forbidden"},
		{"student htmx", student, htmx, http.StatusForbidden, "/forbidden"},
		{"student api", student, jsonAccept, http.StatusForbidden, ""},
		{"anonymous browser", nil, htmlAccept, http.StatusSeeOther, "/auth/login?return=%2Fprotected"},
		{"anonymous api", nil, jsonAccept, http.StatusUnauthorized, ""},
	})

	runGuard(t, sm.RequireRole("admin", "student"), []guardCase{
		{"either role", student, jsonAccept, http.StatusOK, ""},
		{"neither role", &SessionUser{ID: "4", Role: "guest"}, jsonAccept, http.StatusForbidden, ""},
	})
}

func TestIsDefaultKey(t *testing.T) {
	for _, tt := range []struct {
		key  string
		want bool
	}{
		{"dev-only-key", true},
		{"please-CHANGE-ME", true},
		{"placeholder-key", true},
		{"insecure-dev-key", true},
		{"password123", true},
		{strongKey, false},
		{"secure-random-key-that-is-long-enough", false},
	} {
		key, want := tt.key, tt.want
		if got := isDefaultKey(key); got != want {
			t.Errorf("isDefaultKey(%q) = %v, want %v", key, got, want)
		}
	}
}

// cookieErr implements securecookie.Error.
type cookieErr struct {
	msg    string
	decode bool
}

func (e cookieErr) Error() string    { return e.msg }
func (e cookieErr) IsDecode() bool   { return e.decode }
func (e cookieErr) IsUsage() bool    { return false }
func (e cookieErr) IsInternal() bool { return false }
func (e cookieErr) Cause() error     { return nil }

func TestClassifySessionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType sessionErrorType
		wantCat  string
	}{
		{"nil", nil, sessionErrUnknown, "none"},
		{"plain error", errors.New("boom"), sessionErrBackend, "backend"},
		{"non-decode cookie error", cookieErr{"store down", false}, sessionErrBackend, "backend"},
		{"expired", cookieErr{"securecookie: expired timestamp", true}, sessionErrExpired, "expired"},
		{"bad mac", cookieErr{"securecookie: the value is not valid (mac)", true}, sessionErrTampered, "mac_invalid"},
		{"bad hash", cookieErr{"hash mismatch", true}, sessionErrTampered, "mac_invalid"},
		{"decrypt", cookieErr{"securecookie: decrypt failed", true}, sessionErrCorrupted, "decrypt_failed"},
		{"base64", cookieErr{"base64 failure", true}, sessionErrCorrupted, "decode_failed"},
		{"other", cookieErr{"weird", true}, sessionErrCorrupted, "decode_other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, cat := classifySessionError(tt.err)
			if typ != tt.wantType || cat != tt.wantCat {
				t.Errorf("classifySessionError() = %v, %q; want %v, %q", typ, cat, tt.wantType, tt.wantCat)
			}
		})
	}
}

func TestRequestHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/a/b?x=1", nil)
	if got := currentURI(req); got != "/a/b?x=1" {
		t.Errorf("currentURI() = %q", got)
	}
	if wantsHTML(req) {
		t.Error("wantsHTML() without Accept = true")
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if !wantsHTML(req) {
		t.Error("wantsHTML() with text/html = false")
	}

	sm := newTestManager(t)
	sess, _ := sm.Store().Get(httptest.NewRequest(http.MethodGet, "/", nil), sm.SessionName())
	sess.Values["s"] = "v"
	sess.Values["n"] = 7
	if getString(sess, "s") != "v" || getString(sess, "n") != "" || getString(sess, "missing") != "" {
		t.Errorf("getString() mismatch: %v", sess.Values)
	}
}
