package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	mu    sync.Mutex
	users map[string]*SessionUser
	err   error
	calls int
}

func (f *fakeFetcher) FetchUser(_ context.Context, userID string) (*SessionUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

type fakeChecker struct {
	open map[string]bool
	err  error
}

func (c *fakeChecker) Touch(_ context.Context, token string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.open[token], nil
}

func newTestManager(t *testing.T) *SessionManager {
	t.Helper()
	sm, err := NewSessionManager("this-is-a-32-character-long-key!", "", "", time.Hour, false, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSessionManager() error = %v", err)
	}
	return sm
}

// requestWith returns a request carrying the cookies set on rec.
func requestWith(rec *httptest.ResponseRecorder, target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

// resolveUser runs LoadSessionUser and reports the user seen by the handler.
func resolveUser(sm *SessionManager, req *http.Request) (*SessionUser, *httptest.ResponseRecorder) {
	var seen *SessionUser
	h := sm.LoadSessionUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CurrentUser(r)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return seen, rec
}

func TestEstablish_BindsUserAndToken(t *testing.T) {
	sm := newTestManager(t)
	id := primitive.NewObjectID()
	fetcher := &fakeFetcher{users: map[string]*SessionUser{
		id.Hex(): {ID: id.Hex(), Username: "alice", Role: "student"},
	}}
	sm.SetUserFetcher(fetcher)

	rec := httptest.NewRecorder()
	token, err := sm.Establish(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil), id)
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	if token == "" {
		t.Fatal("Establish() returned empty token")
	}

	u, _ := resolveUser(sm, requestWith(rec, "/dashboard"))
	if u == nil {
		t.Fatal("expected a resolved user")
	}
	if u.ID != id.Hex() || u.Username != "alice" {
		t.Errorf("resolved user = %+v", u)
	}
	if u.Token != token {
		t.Errorf("Token = %q, want %q", u.Token, token)
	}

	gotID, ok := CurrentUserID(WithTestUser(httptest.NewRequest(http.MethodGet, "/", nil), u))
	if !ok || gotID != id.Hex() {
		t.Errorf("CurrentUserID() = %q, %v", gotID, ok)
	}
}

func TestEstablish_RotatesTokenAndDropsPriorValues(t *testing.T) {
	sm := newTestManager(t)
	first := primitive.NewObjectID()
	second := primitive.NewObjectID()

	rec1 := httptest.NewRecorder()
	req1 := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	sess, _ := sm.Store().Get(req1, sm.SessionName())
	sess.Values["planted"] = "attacker"
	if err := sess.Save(req1, rec1); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	req2 := requestWith(rec1, "/auth/login")
	rec2 := httptest.NewRecorder()
	tokA, err := sm.Establish(rec2, req2, first)
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}

	req3 := requestWith(rec2, "/auth/login")
	check, _ := sm.Store().Get(req3, sm.SessionName())
	if _, ok := check.Values["planted"]; ok {
		t.Error("prior session value survived Establish")
	}

	rec3 := httptest.NewRecorder()
	tokB, err := sm.Establish(rec3, req3, second)
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	if tokA == tokB {
		t.Error("token was not rotated")
	}
	if got := sm.SessionToken(requestWith(rec3, "/")); got != tokB {
		t.Errorf("SessionToken() = %q, want %q", got, tokB)
	}
}

func TestClear_IsIdempotent(t *testing.T) {
	sm := newTestManager(t)
	id := primitive.NewObjectID()
	sm.SetUserFetcher(&fakeFetcher{users: map[string]*SessionUser{id.Hex(): {ID: id.Hex()}}})

	rec := httptest.NewRecorder()
	if _, err := sm.Establish(rec, httptest.NewRequest(http.MethodPost, "/", nil), id); err != nil {
		t.Fatalf("Establish() error = %v", err)
	}

	clear1 := httptest.NewRecorder()
	sm.Clear(clear1, requestWith(rec, "/auth/logout"))
	cookies := clear1.Result().Cookies()
	if len(cookies) == 0 || cookies[0].MaxAge >= 0 {
		t.Fatalf("Clear() did not expire the cookie: %+v", cookies)
	}

	// A second clear with no cookie at all behaves the same.
	clear2 := httptest.NewRecorder()
	sm.Clear(clear2, httptest.NewRequest(http.MethodGet, "/auth/logout", nil))
	if c := clear2.Result().Cookies(); len(c) == 0 || c[0].MaxAge >= 0 {
		t.Errorf("second Clear() cookies = %+v", c)
	}

	// A garbage cookie is also fine.
	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: sm.SessionName(), Value: "not-a-valid-cookie"})
	sm.Clear(httptest.NewRecorder(), req)
}

func TestLoadSessionUser_UnknownUserIsAnonymous(t *testing.T) {
	sm := newTestManager(t)
	fetcher := &fakeFetcher{users: map[string]*SessionUser{}}
	sm.SetUserFetcher(fetcher)

	rec := httptest.NewRecorder()
	if _, err := sm.Establish(rec, httptest.NewRequest(http.MethodPost, "/", nil), primitive.NewObjectID()); err != nil {
		t.Fatalf("Establish() error = %v", err)
	}

	u, out := resolveUser(sm, requestWith(rec, "/dashboard"))
	if u != nil {
		t.Errorf("expected anonymous, got %+v", u)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher calls = %d, want 1", fetcher.calls)
	}

	// The scrubbed cookie no longer claims a login.
	fetcher.calls = 0
	if u, _ := resolveUser(sm, requestWith(out, "/dashboard")); u != nil {
		t.Error("scrubbed cookie still resolved a user")
	}
	if fetcher.calls != 0 {
		t.Errorf("scrubbed cookie hit the fetcher %d times", fetcher.calls)
	}
}

func TestLoadSessionUser_ClosedTrackedSession(t *testing.T) {
	sm := newTestManager(t)
	id := primitive.NewObjectID()
	fetcher := &fakeFetcher{users: map[string]*SessionUser{id.Hex(): {ID: id.Hex()}}}
	checker := &fakeChecker{open: map[string]bool{}}
	sm.SetUserFetcher(fetcher)
	sm.SetSessionChecker(checker)

	rec := httptest.NewRecorder()
	token, err := sm.Establish(rec, httptest.NewRequest(http.MethodPost, "/", nil), id)
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}

	checker.open[token] = true
	if u, _ := resolveUser(sm, requestWith(rec, "/")); u == nil {
		t.Fatal("open tracked session should resolve")
	}

	checker.open[token] = false
	if u, _ := resolveUser(sm, requestWith(rec, "/")); u != nil {
		t.Error("closed tracked session should be anonymous")
	}

	checker.err = errors.New("db down")
	if u, _ := resolveUser(sm, requestWith(rec, "/")); u != nil {
		t.Error("checker failure should be anonymous")
	}
}

func TestLoadSessionUser_StoreOutageKeepsCookie(t *testing.T) {
	sm := newTestManager(t)
	id := primitive.NewObjectID()
	fetcher := &fakeFetcher{users: map[string]*SessionUser{id.Hex(): {ID: id.Hex()}}}
	checker := &fakeChecker{open: map[string]bool{}}
	sm.SetUserFetcher(fetcher)
	sm.SetSessionChecker(checker)

	login := httptest.NewRecorder()
	token, err := sm.Establish(login, httptest.NewRequest(http.MethodPost, "/", nil), id)
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	checker.open[token] = true

	for _, outage := range []struct {
		name    string
		checker error
		fetcher error
	}{
		{"session store", errors.New("server selection timeout"), nil},
		{"user store", nil, errors.New("server selection timeout")},
	} {
		t.Run(outage.name, func(t *testing.T) {
			checker.err, fetcher.err = outage.checker, outage.fetcher
			u, rec := resolveUser(sm, requestWith(login, "/dashboard"))
			if u != nil {
				t.Errorf("request during outage resolved %+v, want anonymous", u)
			}
			if c := rec.Result().Cookies(); len(c) != 0 {
				t.Errorf("outage rewrote the session cookie: %+v", c)
			}

			checker.err, fetcher.err = nil, nil
			if u, _ := resolveUser(sm, requestWith(login, "/dashboard")); u == nil || u.ID != id.Hex() {
				t.Errorf("after recovery user = %+v, want %s", u, id.Hex())
			}
		})
	}
}

func TestLoadSessionUser_NoCookieAndBadCookie(t *testing.T) {
	sm := newTestManager(t)
	fetcher := &fakeFetcher{users: map[string]*SessionUser{}}
	sm.SetUserFetcher(fetcher)

	if u, rec := resolveUser(sm, httptest.NewRequest(http.MethodGet, "/", nil)); u != nil || rec.Code != http.StatusOK {
		t.Errorf("no cookie: user=%v code=%d", u, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sm.SessionName(), Value: "tampered"})
	if u, rec := resolveUser(sm, req); u != nil || rec.Code != http.StatusOK {
		t.Errorf("bad cookie: user=%v code=%d", u, rec.Code)
	}
	if fetcher.calls != 0 {
		t.Errorf("fetcher called %d times for anonymous requests", fetcher.calls)
	}
}

func TestLogoutThenProtectedRedirects(t *testing.T) {
	sm := newTestManager(t)
	id := primitive.NewObjectID()
	sm.SetUserFetcher(&fakeFetcher{users: map[string]*SessionUser{id.Hex(): {ID: id.Hex()}}})

	login := httptest.NewRecorder()
	if _, err := sm.Establish(login, httptest.NewRequest(http.MethodPost, "/", nil), id); err != nil {
		t.Fatalf("Establish() error = %v", err)
	}

	logout := httptest.NewRecorder()
	sm.Clear(logout, requestWith(login, "/auth/logout"))

	// The browser drops the expired cookie; the next request has none.
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	for _, c := range logout.Result().Cookies() {
		if c.MaxAge >= 0 {
			req.AddCookie(c)
		}
	}
	req.Header.Set("Accept", "text/html")

	protected := sm.LoadSessionUser(sm.RequireSignedIn(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("protected handler reached after logout")
	})))
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/auth/login?return=%2Fdashboard" {
		t.Errorf("Location = %q", loc)
	}
}

func TestSessionUser_IsAdmin(t *testing.T) {
	if !(&SessionUser{Role: "Admin"}).IsAdmin() {
		t.Error("Admin role should be admin")
	}
	if (&SessionUser{Role: "student"}).IsAdmin() {
		t.Error("student role should not be admin")
	}
}
