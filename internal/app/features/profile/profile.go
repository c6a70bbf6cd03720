// internal/app/features/profile/profile.go
package profile

// Terminology: User Identifiers
//   - UserID / userID / user_id: The MongoDB ObjectID (_id) that uniquely identifies a user record
//   - Username / username: The human-readable string users type to log in

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strings"

	errorsfeature "github.com/dalemusser/axiom/internal/app/features/errors"
	"github.com/dalemusser/axiom/internal/app/store/sessions"
	userstore "github.com/dalemusser/axiom/internal/app/store/users"
	"github.com/dalemusser/axiom/internal/app/system/accounts"
	"github.com/dalemusser/axiom/internal/app/system/auditlog"
	"github.com/dalemusser/axiom/internal/app/system/auth"
	"github.com/dalemusser/axiom/internal/app/system/authutil"
	"github.com/dalemusser/axiom/internal/app/system/formutil"
	"github.com/dalemusser/axiom/internal/app/system/htmlsanitize"
	"github.com/dalemusser/axiom/internal/app/system/timeouts"
	"github.com/dalemusser/axiom/internal/app/system/txn"
	"github.com/dalemusser/axiom/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/templates"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Handler provides profile handlers.
type Handler struct {
	db            *mongo.Database
	accounts      *accounts.Service
	userStore     *userstore.Store
	sessionsStore *sessions.Store
	sessionMgr    *auth.SessionManager
	auditLogger   *auditlog.Logger
	errLog        *errorsfeature.ErrorLogger
	logger        *zap.Logger
}

// NewHandler creates a new profile Handler.
func NewHandler(
	db *mongo.Database,
	svc *accounts.Service,
	userStore *userstore.Store,
	sessionsStore *sessions.Store,
	sessionMgr *auth.SessionManager,
	auditLogger *auditlog.Logger,
	errLog *errorsfeature.ErrorLogger,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		db:            db,
		accounts:      svc,
		userStore:     userStore,
		sessionsStore: sessionsStore,
		sessionMgr:    sessionMgr,
		auditLogger:   auditLogger,
		errLog:        errLog,
		logger:        logger,
	}
}

// ProfileVM is the view model for the profile page.
type ProfileVM struct {
	formutil.Base

	// Account (read-only)
	Username string
	Email    string

	// Profile form
	FirstName      string
	LastName       string
	Bio            string        // raw stored bio for the textarea
	BioHTML        template.HTML // sanitized for display
	EducationLevel string
	Subjects       string // comma separated

	// Preferences form
	Preferences models.Preferences

	// Choices
	EducationLevels []string
	Themes          []string
	Languages       []string
	PasswordRules   string

	// Active sessions
	Sessions []sessionRow
}

var notices = map[string]string{
	"profile":     "Profile updated.",
	"preferences": "Preferences saved.",
	"password":    "Password changed. Your other sessions have been logged out.",
	"revoked":     "Session revoked successfully.",
	"revoked_all": "All other sessions have been logged out.",
}

var problems = map[string]string{
	"use_logout": "Use the logout option to end your current session.",
	"failed":     "Failed to revoke session. Please try again.",
	"not_found":  "That session no longer exists.",
}

// Routes returns a chi.Router with profile routes mounted.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(h.sessionMgr.RequireSignedIn)

	r.Get("/", h.showProfile)
	r.Post("/", h.handleUpdateProfile)
	r.Post("/preferences", h.handleUpdatePreferences)
	r.Post("/password", h.handleChangePassword)
	r.Post("/deactivate", h.handleDeactivate)

	r.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/profile", http.StatusSeeOther)
	})
	r.Post("/sessions/{id}/revoke", h.revokeSession)
	r.Post("/sessions/revoke-all", h.revokeAllSessions)

	return r
}

// showProfile displays the user profile.
func (h *Handler) showProfile(w http.ResponseWriter, r *http.Request) {
	vm, ok := h.load(w, r)
	if !ok {
		return
	}
	vm.Notice = formutil.NoticeFor(r.URL.Query().Get("success"), notices)
	if msg := formutil.NoticeFor(r.URL.Query().Get("error"), problems); msg != "" {
		vm.SetError(msg)
	}
	templates.Render(w, r, "profile/show", vm)
}

// handleUpdateProfile saves names, bio, education level, and subjects.
func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.formUser(w, r)
	if !ok {
		return
	}

	in := accounts.ProfileInput{
		FirstName:      r.PostFormValue("first_name"),
		LastName:       r.PostFormValue("last_name"),
		Bio:            r.PostFormValue("bio"),
		EducationLevel: r.PostFormValue("education_level"),
		Subjects:       r.PostFormValue("subjects"),
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "update profile")
	defer cancel()

	if err := h.accounts.UpdateProfile(ctx, user.UserID(), in); err != nil {
		h.renderError(w, r, "failed to update profile", err, func(vm *ProfileVM) {
			vm.FirstName = in.FirstName
			vm.LastName = in.LastName
			vm.Bio = in.Bio
			vm.EducationLevel = in.EducationLevel
			vm.Subjects = in.Subjects
		})
		return
	}

	h.auditLogger.ProfileUpdated(r, user.UserID())
	http.Redirect(w, r, "/profile?success=profile", http.StatusSeeOther)
}

// handleUpdatePreferences processes the preferences form.
func (h *Handler) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	user, ok := h.formUser(w, r)
	if !ok {
		return
	}

	in := accounts.PreferencesInput{
		Theme:             r.PostFormValue("theme"),
		Language:          r.PostFormValue("language"),
		NotificationEmail: checked(r.PostFormValue("notification_email")),
		StudyReminder:     checked(r.PostFormValue("study_reminder")),
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "update preferences")
	defer cancel()

	if err := h.accounts.UpdatePreferences(ctx, user.UserID(), in); err != nil {
		h.renderError(w, r, "failed to update preferences", err, nil)
		return
	}

	h.auditLogger.PreferencesUpdated(r, user.UserID())
	http.Redirect(w, r, "/profile?success=preferences", http.StatusSeeOther)
}

// handleChangePassword replaces the password and logs out every other session.
func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := h.formUser(w, r)
	if !ok {
		return
	}

	in := accounts.ChangePasswordInput{
		Current: r.PostFormValue("current_password"),
		New:     r.PostFormValue("new_password"),
		Confirm: r.PostFormValue("confirm_password"),
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.logger, "change password")
	defer cancel()

	if err := h.accounts.ChangePassword(ctx, user.UserID(), in); err != nil {
		h.renderError(w, r, "failed to change password", err, nil)
		return
	}

	closed, err := h.sessionsStore.CloseByUserExcept(ctx, user.UserID(), user.SessionToken(), sessions.EndReasonPassword)
	if err != nil {
		h.errLog.Log(r, "failed to close other sessions after password change", err)
	}

	h.auditLogger.PasswordChanged(r, user.UserID(), closed)
	http.Redirect(w, r, "/profile?success=password", http.StatusSeeOther)
}

// handleDeactivate soft-deletes the account, ends every session, and signs out.
func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	user, ok := h.formUser(w, r)
	if !ok {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.logger, "deactivate account")
	defer cancel()

	// The account flag and its sessions change together or not at all.
	err := txn.Run(ctx, h.db, h.logger, func(ctx context.Context) error {
		if err := h.accounts.Deactivate(ctx, user.UserID(), r.PostFormValue("password")); err != nil {
			return err
		}
		if _, err := h.sessionsStore.CloseByUser(ctx, user.UserID(), sessions.EndReasonDeactivated); err != nil {
			return accounts.Storage("close sessions", err)
		}
		return nil
	})
	if err != nil {
		h.renderError(w, r, "failed to deactivate account", err, nil)
		return
	}
	h.sessionMgr.Clear(w, r)

	h.auditLogger.AccountDeactivated(r, user.UserID())
	h.logger.Info("account deactivated", zap.String("user_id", user.ID))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// formUser parses the posted form and returns the signed-in user.
func (h *Handler) formUser(w http.ResponseWriter, r *http.Request) (*auth.SessionUser, bool) {
	user, ok := auth.CurrentUser(r)
	if !ok {
		http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
		return nil, false
	}
	if err := r.ParseForm(); err != nil {
		h.errLog.Log(r, "failed to parse form", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return nil, false
	}
	return user, true
}

// load builds the page view model from the stored user and their open sessions.
// It writes the response itself when it returns false.
func (h *Handler) load(w http.ResponseWriter, r *http.Request) (ProfileVM, bool) {
	sessionUser, ok := auth.CurrentUser(r)
	if !ok {
		http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
		return ProfileVM{}, false
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "load profile")
	defer cancel()

	user, err := h.userStore.GetByID(ctx, sessionUser.UserID())
	if errors.Is(err, userstore.ErrNotFound) {
		http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
		return ProfileVM{}, false
	}
	if err != nil {
		h.errLog.Log(r, "failed to get user", err)
		errorsfeature.NewHandler().InternalError(w, r)
		return ProfileVM{}, false
	}

	open, err := h.sessionsStore.ListActiveByUser(ctx, user.ID)
	if err != nil {
		h.errLog.Log(r, "failed to list sessions", err)
		errorsfeature.NewHandler().InternalError(w, r)
		return ProfileVM{}, false
	}

	vm := buildProfileVM(r, user)
	vm.Sessions = sessionRows(open, sessionUser.SessionToken())
	return vm, true
}

// renderError re-renders the page with the public message for err. Storage
// and internal failures are logged first. echo restores the submitted values.
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, msg string, err error, echo func(*ProfileVM)) {
	switch accounts.Code(err) {
	case accounts.CodeStorage, accounts.CodeInternal:
		h.errLog.Log(r, msg, err)
	}
	vm, ok := h.load(w, r)
	if !ok {
		return
	}
	if echo != nil {
		echo(&vm)
	}
	vm.SetErr(err)
	templates.Render(w, r, "profile/show", vm)
}

// buildProfileVM creates the profile view model from a user.
func buildProfileVM(r *http.Request, user *models.User) ProfileVM {
	vm := ProfileVM{
		Base:            formutil.NewBase(r, "Profile", "/dashboard"),
		Username:        user.Username,
		Email:           user.Email,
		FirstName:       user.FirstName,
		LastName:        user.LastName,
		Subjects:        strings.Join(user.Profile.Subjects, ", "),
		Preferences:     user.Preferences,
		EducationLevels: models.EducationLevels,
		Themes:          models.Themes,
		Languages:       models.Languages,
		PasswordRules:   authutil.PasswordRules(),
	}
	if user.Profile.Bio != nil {
		vm.Bio = *user.Profile.Bio
		vm.BioHTML = htmlsanitize.PrepareForDisplay(*user.Profile.Bio)
	}
	if user.Profile.EducationLevel != nil {
		vm.EducationLevel = *user.Profile.EducationLevel
	}
	return vm
}

// checked reports whether a checkbox value was submitted as on.
func checked(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}
