// internal/app/features/authapi/authapi.go
//
// Package authapi is the JSON sign-in surface for front-end clients: it trades
// a username and password for a bearer token and describes the token holder.
package authapi

import (
	"errors"
	"net/http"
	"time"

	userstore "github.com/dalemusser/axiom/internal/app/store/users"
	"github.com/dalemusser/axiom/internal/app/system/accounts"
	"github.com/dalemusser/axiom/internal/app/system/auditlog"
	"github.com/dalemusser/axiom/internal/app/system/auth"
	"github.com/dalemusser/axiom/internal/app/system/jsonutil"
	"github.com/dalemusser/axiom/internal/app/system/metrics"
	"github.com/dalemusser/axiom/internal/app/system/timeouts"
	"github.com/dalemusser/axiom/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Via labels token logins in audit events and metrics.
const Via = "api"

// Handler serves /api/auth.
type Handler struct {
	accounts    *accounts.Service
	users       *userstore.Store
	tokens      *auth.Tokens
	sessionMgr  *auth.SessionManager
	auditLogger *auditlog.Logger
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewHandler creates a token API Handler.
func NewHandler(
	svc *accounts.Service,
	users *userstore.Store,
	tokens *auth.Tokens,
	sm *auth.SessionManager,
	audit *auditlog.Logger,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		accounts:    svc,
		users:       users,
		tokens:      tokens,
		sessionMgr:  sm,
		auditLogger: audit,
		metrics:     m,
		logger:      logger,
	}
}

// TokenRequest is the body of POST /token.
type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned for a successful login.
type TokenResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Routes mounts the token API. guard wraps only the token endpoint; pass a
// rate limiter or nil.
func Routes(h *Handler, guard func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	token := http.Handler(http.HandlerFunc(h.token))
	if guard != nil {
		token = guard(token)
	}
	r.Method(http.MethodPost, "/token", token)
	r.With(h.sessionMgr.RequireBearer(h.tokens)).Get("/me", h.me)
	return r
}

// token runs the same credential check as the login form, so failed-attempt
// counting and lockout apply to both entry points.
func (h *Handler) token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := jsonutil.Decode(w, r, &req); err != nil {
		jsonutil.CodedError(w, http.StatusBadRequest, accounts.CodeValidation, err.Error())
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "api login")
	defer cancel()

	u, err := h.accounts.Authenticate(ctx, req.Username, req.Password)
	h.metrics.Login(Via, err)
	if err != nil {
		h.auditLogger.LoginFailed(r, req.Username, Via, err)
		h.writeAuthError(w, err)
		return
	}

	raw, exp, err := h.tokens.Issue(u.ID.Hex(), u.Username)
	if err != nil {
		h.logger.Error("failed to sign token", zap.String("user_id", u.ID.Hex()), zap.Error(err))
		jsonutil.CodedError(w, http.StatusInternalServerError, accounts.CodeInternal, accounts.MsgInternal)
		return
	}

	h.auditLogger.LoginSucceeded(r, u.ID, u.Username, Via)
	h.auditLogger.TokenIssued(r, u.ID)
	jsonutil.OK(w, TokenResponse{Token: raw, TokenType: "Bearer", ExpiresAt: exp, User: u})
}

// writeAuthError maps an accounts failure onto a status and a coded body.
func (h *Handler) writeAuthError(w http.ResponseWriter, err error) {
	code := accounts.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case accounts.CodeInvalidCredentials:
		status = http.StatusUnauthorized
		if accounts.Reason(err) == accounts.ReasonMissingInput {
			status = http.StatusBadRequest
			jsonutil.CodedError(w, status, accounts.CodeValidation, "username and password are required")
			return
		}
	case accounts.CodeAccountLocked:
		status = http.StatusLocked
	case accounts.CodeAccountDisabled:
		status = http.StatusForbidden
	case accounts.CodeValidation:
		status = http.StatusBadRequest
	default:
		h.logger.Error("api login failed", zap.String("code", code), zap.Error(err))
		code = accounts.CodeInternal
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="axiom"`)
	}
	jsonutil.CodedError(w, status, code, accounts.PublicMessage(err))
}

// me returns the bearer's current account record.
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	su, ok := auth.CurrentUser(r)
	if !ok {
		jsonutil.Unauthorized(w, auth.ErrInvalidToken.Error())
		return
	}
	id, err := primitive.ObjectIDFromHex(su.ID)
	if err != nil {
		jsonutil.Unauthorized(w, auth.ErrInvalidToken.Error())
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "api me")
	defer cancel()

	u, err := h.users.GetByID(ctx, id)
	switch {
	case errors.Is(err, userstore.ErrNotFound):
		jsonutil.Unauthorized(w, auth.ErrInvalidToken.Error())
		return
	case err != nil:
		h.logger.Error("failed to load token user", zap.String("user_id", su.ID), zap.Error(err))
		jsonutil.CodedError(w, http.StatusInternalServerError, accounts.CodeInternal, accounts.MsgInternal)
		return
	}
	jsonutil.OK(w, u)
}
