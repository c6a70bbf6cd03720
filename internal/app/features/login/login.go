// internal/app/features/login/login.go
package login

// Terminology: User Identifiers
//   - UserID / userID / user_id: The MongoDB ObjectID (_id) that uniquely identifies a user record
//   - Username / username: The human-readable string users type to log in

import (
	"net/http"
	"time"

	errorsfeature "github.com/dalemusser/axiom/internal/app/features/errors"
	"github.com/dalemusser/axiom/internal/app/store/sessions"
	"github.com/dalemusser/axiom/internal/app/system/accounts"
	"github.com/dalemusser/axiom/internal/app/system/auditlog"
	"github.com/dalemusser/axiom/internal/app/system/auth"
	"github.com/dalemusser/axiom/internal/app/system/formutil"
	"github.com/dalemusser/axiom/internal/app/system/metrics"
	"github.com/dalemusser/axiom/internal/app/system/network"
	"github.com/dalemusser/axiom/internal/app/system/timeouts"
	"github.com/dalemusser/axiom/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/query"
	"github.com/dalemusser/waffle/pantry/templates"
	"github.com/dalemusser/waffle/pantry/urlutil"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Via is the login entry point recorded in audit events and metrics.
const Via = "form"

// DefaultRedirect is where a successful login lands without a return URL.
const DefaultRedirect = "/dashboard"

// Handler provides login handlers.
type Handler struct {
	accounts      *accounts.Service
	sessionMgr    *auth.SessionManager
	sessionsStore *sessions.Store
	auditLogger   *auditlog.Logger
	metrics       *metrics.Metrics
	errLog        *errorsfeature.ErrorLogger
	sessionMaxAge time.Duration
	logger        *zap.Logger
}

// NewHandler creates a new login Handler. sessionMaxAge sets the expiry of
// the tracked session record and should match the cookie lifetime.
func NewHandler(
	svc *accounts.Service,
	sessionMgr *auth.SessionManager,
	sessionsStore *sessions.Store,
	auditLogger *auditlog.Logger,
	m *metrics.Metrics,
	errLog *errorsfeature.ErrorLogger,
	sessionMaxAge time.Duration,
	logger *zap.Logger,
) *Handler {
	if sessionMaxAge <= 0 {
		sessionMaxAge = 24 * time.Hour
	}
	return &Handler{
		accounts:      svc,
		sessionMgr:    sessionMgr,
		sessionsStore: sessionsStore,
		auditLogger:   auditLogger,
		metrics:       m,
		errLog:        errLog,
		sessionMaxAge: sessionMaxAge,
		logger:        logger,
	}
}

// LoginVM is the view model for the login page.
type LoginVM struct {
	formutil.Base
	Username  string
	ReturnURL string
}

var notices = map[string]string{
	"registered": "Registration successful. Please log in.",
}

// Routes returns a chi.Router with login routes mounted. guard, when
// non-nil, wraps the credential post.
func Routes(h *Handler, guard func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.showLogin)
	if guard != nil {
		r.With(guard).Post("/", h.handleLogin)
	} else {
		r.Post("/", h.handleLogin)
	}
	return r
}

// showLogin displays the login form.
func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	vm := LoginVM{
		Base:      formutil.NewBase(r, "Login", "/"),
		ReturnURL: query.Get(r, "return"),
	}
	if query.Get(r, "registered") == "1" {
		vm.Notice = formutil.NoticeFor("registered", notices)
	}
	templates.Render(w, r, "login/form", vm)
}

// handleLogin verifies credentials and, on success, binds a fresh session.
// Every failure clears whatever session the browser carried.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	returnURL := r.PostFormValue("return")

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.logger, "login")
	defer cancel()

	user, err := h.accounts.Authenticate(ctx, username, password)
	h.metrics.Login(Via, err)
	if err != nil {
		h.fail(w, r, username, returnURL, err)
		return
	}

	if err := h.startSession(w, r, user); err != nil {
		h.errLog.Log(r, "failed to establish session", err)
		h.sessionMgr.Clear(w, r)
		vm := LoginVM{Base: formutil.NewBase(r, "Login", "/"), Username: username, ReturnURL: returnURL}
		vm.SetError(accounts.MsgInternal)
		templates.Render(w, r, "login/form", vm)
		return
	}

	h.auditLogger.LoginSucceeded(r, user.ID, user.Username, Via)
	h.logger.Info("user logged in",
		zap.String("user_id", user.ID.Hex()),
		zap.String("username", user.Username))

	http.Redirect(w, r, urlutil.SafeReturn(returnURL, "", DefaultRedirect), http.StatusSeeOther)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, username, returnURL string, err error) {
	switch accounts.Code(err) {
	case accounts.CodeStorage, accounts.CodeInternal:
		h.errLog.Log(r, "login failed", err)
	default:
		h.logger.Info("login rejected",
			zap.String("username", username),
			zap.String("code", accounts.Code(err)))
	}
	h.auditLogger.LoginFailed(r, username, Via, err)
	h.endPrior(r, sessions.EndReasonFailedLogin)
	h.sessionMgr.Clear(w, r)

	vm := LoginVM{
		Base:      formutil.NewBase(r, "Login", "/"),
		Username:  username,
		ReturnURL: returnURL,
	}
	vm.SetErr(err)
	templates.Render(w, r, "login/form", vm)
}

// startSession sets the cookie and records the tracked session behind it.
// The tracked record is what later requests are checked against, so a
// failure to write it fails the login.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, user *models.User) error {
	h.endPrior(r, sessions.EndReasonReplaced)

	token, err := h.sessionMgr.Establish(w, r, user.ID)
	if err != nil {
		return err
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "create tracked session")
	defer cancel()

	now := time.Now().UTC()
	_, err = h.sessionsStore.Create(ctx, sessions.Session{
		Token:        token,
		UserID:       user.ID,
		IPAddress:    network.ClientIP(r),
		UserAgent:    r.UserAgent(),
		LoginAt:      now,
		LastActivity: now,
		ExpiresAt:    now.Add(h.sessionMaxAge),
	})
	return err
}

// endPrior closes the tracked session behind the cookie the request arrived
// with, so a copy of that cookie stops authenticating. Store failures are
// logged and otherwise ignored.
func (h *Handler) endPrior(r *http.Request, reason string) {
	token := h.sessionMgr.SessionToken(r)
	if token == "" {
		return
	}
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "close prior session")
	defer cancel()
	if err := h.sessionsStore.Close(ctx, token, reason); err != nil {
		h.logger.Warn("failed to close prior session",
			zap.String("reason", reason),
			zap.Error(err))
	}
}
