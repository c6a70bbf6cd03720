// internal/app/features/logout/logout.go
package logout

import (
	"net/http"

	"github.com/dalemusser/axiom/internal/app/store/sessions"
	"github.com/dalemusser/axiom/internal/app/system/auditlog"
	"github.com/dalemusser/axiom/internal/app/system/auth"
	"github.com/dalemusser/axiom/internal/app/system/metrics"
	"github.com/dalemusser/axiom/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler provides logout handlers.
type Handler struct {
	sessionMgr    *auth.SessionManager
	auditLogger   *auditlog.Logger
	sessionsStore *sessions.Store
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// NewHandler creates a new logout Handler. auditLogger and m may be nil.
func NewHandler(
	sessionMgr *auth.SessionManager,
	auditLogger *auditlog.Logger,
	sessionsStore *sessions.Store,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		sessionMgr:    sessionMgr,
		auditLogger:   auditLogger,
		sessionsStore: sessionsStore,
		metrics:       m,
		logger:        logger,
	}
}

// Routes returns a chi.Router with logout routes mounted. Logout is open to
// anonymous callers so that it is always safe to repeat.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/", h.handleLogout)
	r.Get("/", h.handleLogout) // Allow GET for simple logout links
	return r
}

// handleLogout closes the tracked session, if any, and clears the cookie.
// It has no failure path.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID := ""
	token := h.sessionMgr.SessionToken(r)
	if user, ok := auth.CurrentUser(r); ok {
		userID = user.ID
		if user.SessionToken() != "" {
			token = user.SessionToken()
		}
	}

	if token != "" {
		ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "close session")
		if err := h.sessionsStore.Close(ctx, token, sessions.EndReasonLogout); err != nil {
			h.logger.Warn("failed to close session in store", zap.Error(err))
		}
		cancel()
	}

	h.sessionMgr.Clear(w, r)

	if userID != "" {
		h.auditLogger.Logout(r, userID)
		h.metrics.Logout()
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}
