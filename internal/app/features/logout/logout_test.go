package logout

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dalemusser/axiom/internal/app/store/sessions"
	"github.com/dalemusser/axiom/internal/app/system/auth"
	"github.com/dalemusser/axiom/internal/app/system/metrics"
	"github.com/dalemusser/axiom/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) (http.Handler, *sessions.Store, *auth.SessionManager) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()

	sessionsStore := sessions.New(db)

	sessionMgr, err := auth.NewSessionManager(
		"test-session-key-for-testing-1234567890",
		"test-session",
		"",
		24*time.Hour,
		false,
		logger,
	)
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}

	// auditLogger can be nil - it's nil-safe
	handler := NewHandler(sessionMgr, nil, sessionsStore, metrics.New(), logger)

	return Routes(handler), sessionsStore, sessionMgr
}

func TestLogout_RedirectsToRoot(t *testing.T) {
	h, _, _ := newTestHandler(t)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		req := testutil.NewAuthenticatedRequest(method, "/", testutil.StudentUser())
		rec := testutil.NewRecorder()

		h.ServeHTTP(rec, req)

		rec.AssertRedirect(t, "/")
	}
}

func TestLogout_ClosesTrackedSession(t *testing.T) {
	h, store, sessionMgr := newTestHandler(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	userID := primitive.NewObjectID()

	login := httptest.NewRecorder()
	token, err := sessionMgr.Establish(login, httptest.NewRequest(http.MethodPost, "/auth/login", nil), userID)
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	created, err := store.Create(ctx, sessions.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	req := testutil.WithUser(httptest.NewRequest(http.MethodPost, "/", nil), testutil.TestUser{ID: userID.Hex(), Username: "alice", Role: "student"})
	for _, c := range login.Result().Cookies() {
		req.AddCookie(c)
	}
	rec := testutil.NewRecorder()
	h.ServeHTTP(rec, req)
	rec.AssertRedirect(t, "/")

	got, err := store.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.LogoutAt == nil || got.EndReason != sessions.EndReasonLogout {
		t.Errorf("session after logout = %+v", got)
	}

	var expired bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == "test-session" && c.MaxAge < 0 {
			expired = true
		}
	}
	if !expired {
		t.Error("session cookie was not expired")
	}
}

func TestLogout_Idempotent(t *testing.T) {
	h, _, _ := newTestHandler(t)

	for i := 0; i < 2; i++ {
		rec := testutil.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		rec.AssertRedirect(t, "/")
	}
}
