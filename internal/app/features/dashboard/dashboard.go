// internal/app/features/dashboard/dashboard.go
package dashboard

import (
	"errors"
	"net/http"
	"time"

	errorsfeature "github.com/dalemusser/axiom/internal/app/features/errors"
	"github.com/dalemusser/axiom/internal/app/store/audit"
	"github.com/dalemusser/axiom/internal/app/store/sessions"
	userstore "github.com/dalemusser/axiom/internal/app/store/users"
	"github.com/dalemusser/axiom/internal/app/system/auth"
	"github.com/dalemusser/axiom/internal/app/system/timeouts"
	"github.com/dalemusser/axiom/internal/app/system/viewdata"
	"github.com/dalemusser/axiom/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/templates"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// recentEvents is how many audit entries the dashboard lists.
const recentEvents = 5

// Handler provides dashboard handlers.
type Handler struct {
	users    *userstore.Store
	audit    *audit.Store
	sessions *sessions.Store
	errLog   *errorsfeature.ErrorLogger
	logger   *zap.Logger
}

// NewHandler creates a new dashboard Handler.
func NewHandler(users *userstore.Store, auditStore *audit.Store, sessionsStore *sessions.Store, errLog *errorsfeature.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{
		users:    users,
		audit:    auditStore,
		sessions: sessionsStore,
		errLog:   errLog,
		logger:   logger,
	}
}

// ActivityVM is one recent audit entry.
type ActivityVM struct {
	When    time.Time
	Event   string
	Success bool
	IP      string
}

// DashboardVM is the view model for the dashboard.
type DashboardVM struct {
	viewdata.BaseVM
	DisplayName string
	Stats       models.StudyStats
	LastLogin   time.Time
	MemberSince time.Time
	Recent      []ActivityVM

	// admins only
	RegisteredUsers int64
	ActiveSessions  int64
}

// Routes returns a chi.Router with dashboard routes mounted.
func Routes(h *Handler, sessionMgr *auth.SessionManager) http.Handler {
	r := chi.NewRouter()
	r.Use(sessionMgr.RequireSignedIn)
	r.Get("/", h.showDashboard)
	return r
}

// showDashboard displays the signed-in user's study stats and recent activity.
func (h *Handler) showDashboard(w http.ResponseWriter, r *http.Request) {
	sessionUser, ok := auth.CurrentUser(r)
	if !ok {
		http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "load dashboard")
	defer cancel()

	user, err := h.users.GetByID(ctx, sessionUser.UserID())
	if errors.Is(err, userstore.ErrNotFound) {
		http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
		return
	}
	if err != nil {
		h.errLog.Log(r, "failed to load user for dashboard", err)
		errorsfeature.NewHandler().InternalError(w, r)
		return
	}

	vm := DashboardVM{
		BaseVM:      viewdata.NewBaseVM(r, "Dashboard", "/"),
		DisplayName: user.DisplayName(),
		Stats:       user.StudyStats,
		LastLogin:   user.LastLogin,
		MemberSince: user.CreatedAt,
	}

	// Activity and counts are decoration; a failure leaves them empty.
	events, err := h.audit.RecentByUser(ctx, user.ID, recentEvents)
	if err != nil {
		h.logger.Warn("failed to load recent activity", zap.Error(err), zap.String("user_id", user.ID.Hex()))
	}
	for _, e := range events {
		vm.Recent = append(vm.Recent, ActivityVM{When: e.CreatedAt, Event: e.EventType, Success: e.Success, IP: e.IP})
	}

	if user.IsAdmin {
		n, err := h.sessions.CountActive(ctx)
		if err != nil {
			h.logger.Warn("failed to count active sessions", zap.Error(err))
		}
		vm.ActiveSessions = n

		if vm.RegisteredUsers, err = h.users.Count(ctx, nil); err != nil {
			h.logger.Warn("failed to count users", zap.Error(err))
		}
	}

	templates.Render(w, r, "dashboard/index", vm)
}
