// internal/app/features/errors/errors.go
package errors

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dalemusser/axiom/internal/app/system/accounts"
	"github.com/dalemusser/axiom/internal/app/system/viewdata"
	"github.com/dalemusser/waffle/pantry/templates"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ErrorLogger logs handler failures with the request they belong to.
type ErrorLogger struct {
	logger *zap.Logger
}

// NewErrorLogger creates a new ErrorLogger.
func NewErrorLogger(logger *zap.Logger) *ErrorLogger {
	return &ErrorLogger{logger: logger}
}

// Log logs err at error level with the request path, method and id. Errors
// from the accounts service also carry their code.
func (e *ErrorLogger) Log(r *http.Request, msg string, err error) {
	e.LogWithFields(r, msg, err)
}

// LogWithFields logs an error with additional fields.
func (e *ErrorLogger) LogWithFields(r *http.Request, msg string, err error, fields ...zap.Field) {
	all := []zap.Field{
		zap.Error(err),
		zap.String("path", r.URL.Path),
		zap.String("method", r.Method),
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		all = append(all, zap.String("request_id", id))
	}
	if code := accounts.Code(err); code != "" {
		all = append(all, zap.String("code", code))
	}
	e.logger.Error(msg, append(all, fields...)...)
}

// Handler provides error page handlers.
type Handler struct{}

// NewHandler creates a new error Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RateLimitedVM is the view model for the 429 page.
type RateLimitedVM struct {
	viewdata.BaseVM
	RetryAfter int // seconds
}

// Forbidden renders the 403 page.
func (h *Handler) Forbidden(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusForbidden, "Access Denied", "errors/forbidden")
}

// Unauthorized renders the 401 page.
func (h *Handler) Unauthorized(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusUnauthorized, "Unauthorized", "errors/unauthorized")
}

// NotFound renders the 404 page.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusNotFound, "Not Found", "errors/not_found")
}

// InternalError renders the 500 page.
func (h *Handler) InternalError(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusInternalServerError, "Server Error", "errors/internal")
}

// RateLimited renders the 429 page for throttled form posts. Its signature
// matches ratelimit.RejectFunc.
func (h *Handler) RateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	secs := int((retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	vm := RateLimitedVM{BaseVM: viewdata.New(r), RetryAfter: secs}
	vm.Title = "Too Many Attempts"

	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.WriteHeader(http.StatusTooManyRequests)
	templates.Render(w, r, "errors/rate_limited", vm)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, title, name string) {
	vm := viewdata.New(r)
	vm.Title = title

	w.WriteHeader(status)
	templates.Render(w, r, name, vm)
}
