// internal/app/features/register/register.go
package register

import (
	"net/http"

	errorsfeature "github.com/dalemusser/axiom/internal/app/features/errors"
	"github.com/dalemusser/axiom/internal/app/system/accounts"
	"github.com/dalemusser/axiom/internal/app/system/auditlog"
	"github.com/dalemusser/axiom/internal/app/system/formutil"
	"github.com/dalemusser/axiom/internal/app/system/metrics"
	"github.com/dalemusser/axiom/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/pantry/templates"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SuccessRedirect is where a new account is sent; registration never signs in.
const SuccessRedirect = "/auth/login?registered=1"

// Handler provides registration handlers.
type Handler struct {
	accounts    *accounts.Service
	auditLogger *auditlog.Logger
	metrics     *metrics.Metrics
	errLog      *errorsfeature.ErrorLogger
	logger      *zap.Logger
}

// NewHandler creates a new register Handler. auditLogger and m may be nil.
func NewHandler(svc *accounts.Service, auditLogger *auditlog.Logger, m *metrics.Metrics, errLog *errorsfeature.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{
		accounts:    svc,
		auditLogger: auditLogger,
		metrics:     m,
		errLog:      errLog,
		logger:      logger,
	}
}

// FormVM is the view model for the registration form.
type FormVM struct {
	formutil.Base
	Username  string
	Email     string
	FirstName string
	LastName  string
}

// Routes returns a chi.Router with the register routes mounted. guard, when
// non-nil, wraps the form post (the per-client rate limiter).
func Routes(h *Handler, guard func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.showForm)
	if guard != nil {
		r.With(guard).Post("/", h.handleRegister)
	} else {
		r.Post("/", h.handleRegister)
	}
	return r
}

func (h *Handler) showForm(w http.ResponseWriter, r *http.Request) {
	vm := FormVM{Base: formutil.NewBase(r, "Register", "/")}
	templates.Render(w, r, "register/form", vm)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	in := accounts.RegisterInput{
		Username:  r.PostFormValue("username"),
		Password:  r.PostFormValue("password"),
		Email:     r.PostFormValue("email"),
		FirstName: r.PostFormValue("first_name"),
		LastName:  r.PostFormValue("last_name"),
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.logger, "register")
	defer cancel()

	user, err := h.accounts.Register(ctx, in)
	h.metrics.Register(err)
	if err != nil {
		switch accounts.Code(err) {
		case accounts.CodeStorage, accounts.CodeInternal:
			h.errLog.Log(r, "registration failed", err)
		default:
			h.logger.Info("registration rejected",
				zap.String("username", in.Username),
				zap.String("code", accounts.Code(err)))
		}
		h.auditLogger.RegisterFailed(r, in.Username, err)

		vm := FormVM{
			Base:      formutil.NewBase(r, "Register", "/"),
			Username:  in.Username,
			Email:     in.Email,
			FirstName: in.FirstName,
			LastName:  in.LastName,
		}
		vm.SetErr(err)
		templates.Render(w, r, "register/form", vm)
		return
	}

	h.auditLogger.Registered(r, user.ID, user.Username)
	h.logger.Info("user registered",
		zap.String("user_id", user.ID.Hex()),
		zap.String("username", user.Username))

	http.Redirect(w, r, SuccessRedirect, http.StatusSeeOther)
}
