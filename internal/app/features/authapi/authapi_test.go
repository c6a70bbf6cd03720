package authapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/axiom/internal/app/store/audit"
	userstore "github.com/dalemusser/axiom/internal/app/store/users"
	"github.com/dalemusser/axiom/internal/app/system/accounts"
	"github.com/dalemusser/axiom/internal/app/system/auditlog"
	"github.com/dalemusser/axiom/internal/app/system/auth"
	"github.com/dalemusser/axiom/internal/app/system/authutil"
	"github.com/dalemusser/axiom/internal/app/system/jsonutil"
	"github.com/dalemusser/axiom/internal/app/system/metrics"
	"github.com/dalemusser/axiom/internal/domain/models"
	"github.com/dalemusser/axiom/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const password = "correct horse"

type memAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memAudit) Log(_ context.Context, e audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memAudit) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType
	}
	return out
}

type fixture struct {
	users   *userstore.Store
	tokens  *auth.Tokens
	metrics *metrics.Metrics
	audit   *memAudit
	user    models.User
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()

	sm, err := auth.NewSessionManager("test-session-key-for-testing-1234567890", "test-session", "", time.Hour, false, logger)
	require.NoError(t, err)
	sm.SetUserFetcher(userstore.NewFetcher(db, logger))

	tokens, err := auth.NewTokens("jwt-test-secret-that-is-long-enough", time.Hour)
	require.NoError(t, err)

	users := userstore.New(db)
	svc := accounts.New(users, authutil.NewHasher(bcrypt.MinCost), accounts.Config{LockoutThreshold: 3, LockoutWindow: time.Hour}, logger)
	f := &fixture{users: users, tokens: tokens, metrics: metrics.New(), audit: &memAudit{}}
	h := NewHandler(svc, users, tokens, sm, auditlog.New(f.audit, logger, auditlog.Config{}), f.metrics, logger)
	f.handler = Routes(h, nil)

	ctx, cancel := testutil.TestContext()
	defer cancel()
	f.user, err = svc.Register(ctx, accounts.RegisterInput{Username: "alice", Password: password, Email: "alice@example.com"})
	require.NoError(t, err)
	return f
}

func (f *fixture) postToken(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) getMe(t *testing.T, authz string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) jsonutil.ErrorBody {
	t.Helper()
	var body jsonutil.ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestToken_Success(t *testing.T) {
	f := newFixture(t)

	rec := f.postToken(t, `{"username":"ALICE","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	raw := rec.Body.String()
	assert.NotContains(t, raw, "password_hash")
	assert.NotContains(t, raw, "verification_token")

	var resp TokenResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "alice", resp.User.Username)
	assert.WithinDuration(t, time.Now().Add(time.Hour), resp.ExpiresAt, 5*time.Second)

	claims, err := f.tokens.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID.Hex(), claims.Subject)

	assert.Equal(t, []string{audit.EventLoginSuccess, audit.EventTokenIssued}, f.audit.types())
}

func TestToken_Failures(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		code     string
		wantText string
	}{
		{"malformed json", `{"username":`, http.StatusBadRequest, accounts.CodeValidation, "malformed JSON"},
		{"unknown field", `{"username":"alice","password":"x","admin":true}`, http.StatusBadRequest, accounts.CodeValidation, "malformed JSON"},
		{"missing password", `{"username":"alice"}`, http.StatusBadRequest, accounts.CodeValidation, "required"},
		{"wrong password", `{"username":"alice","password":"nope"}`, http.StatusUnauthorized, accounts.CodeInvalidCredentials, accounts.MsgInvalidCredentials},
		{"unknown user", `{"username":"mallory","password":"nope"}`, http.StatusUnauthorized, accounts.CodeInvalidCredentials, accounts.MsgInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.postToken(t, tt.body)
			require.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.Contains(t, body.Error, tt.wantText)
		})
	}
}

func TestToken_LockoutSharedWithForm(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		rec := f.postToken(t, `{"username":"alice","password":"nope"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := f.postToken(t, `{"username":"alice","password":"`+password+`"}`)
	require.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, accounts.CodeAccountLocked, decodeError(t, rec).Code)

	n, err := promtest.GatherAndCount(f.metrics.Registry(), "axiom_auth_login_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "api/invalid_credentials and api/account_locked series")
}

func TestToken_DeactivatedAccount(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	require.NoError(t, f.users.Deactivate(ctx, f.user.ID, time.Now().UTC()))

	rec := f.postToken(t, `{"username":"alice","password":"`+password+`"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, accounts.CodeAccountDisabled, decodeError(t, rec).Code)
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	good, _, err := f.tokens.Issue(f.user.ID.Hex(), "alice")
	require.NoError(t, err)

	rec := f.getMe(t, "Bearer "+good)
	require.Equal(t, http.StatusOK, rec.Code)
	var u models.User
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&u))
	assert.Equal(t, f.user.ID, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)

	for name, authz := range map[string]string{
		"missing": "",
		"garbage": "Bearer not.a.jwt",
		"scheme":  "Basic " + good,
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.getMe(t, authz)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestMe_DeactivatedLosesAccess(t *testing.T) {
	f := newFixture(t)
	tok, _, err := f.tokens.Issue(f.user.ID.Hex(), "alice")
	require.NoError(t, err)

	ctx, cancel := testutil.TestContext()
	defer cancel()
	require.NoError(t, f.users.Deactivate(ctx, f.user.ID, time.Now().UTC()))

	assert.Equal(t, http.StatusUnauthorized, f.getMe(t, "Bearer "+tok).Code)
}
