// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"
	"strings"
	"time"

	auditlogfeature "github.com/dalemusser/axiom/internal/app/features/auditlog"
	authapifeature "github.com/dalemusser/axiom/internal/app/features/authapi"
	dashboardfeature "github.com/dalemusser/axiom/internal/app/features/dashboard"
	errorsfeature "github.com/dalemusser/axiom/internal/app/features/errors"
	healthfeature "github.com/dalemusser/axiom/internal/app/features/health"
	homefeature "github.com/dalemusser/axiom/internal/app/features/home"
	loginfeature "github.com/dalemusser/axiom/internal/app/features/login"
	logoutfeature "github.com/dalemusser/axiom/internal/app/features/logout"
	profilefeature "github.com/dalemusser/axiom/internal/app/features/profile"
	registerfeature "github.com/dalemusser/axiom/internal/app/features/register"
	appresources "github.com/dalemusser/axiom/internal/app/resources"
	"github.com/dalemusser/axiom/internal/app/store/audit"
	"github.com/dalemusser/axiom/internal/app/store/sessions"
	userstore "github.com/dalemusser/axiom/internal/app/store/users"
	"github.com/dalemusser/axiom/internal/app/system/apicors"
	"github.com/dalemusser/axiom/internal/app/system/auditlog"
	"github.com/dalemusser/axiom/internal/app/system/auth"
	"github.com/dalemusser/axiom/internal/app/system/network"
	"github.com/dalemusser/axiom/internal/app/system/ratelimit"
	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/middleware"
	"github.com/dalemusser/waffle/pantry/templates"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"
)

// healthHandler is kept so Shutdown can fail readiness before the server
// drains.
var healthHandler *healthfeature.Handler

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// Startup have completed.
//
// # Route groups
//
//   - Browser pages (/auth, /dashboard, /profile, /admin): session cookie,
//     CSRF-protected forms, server-side CORS from CoreConfig.
//   - Token API (/api): bearer JWT, no CSRF, CORS limited to
//     api_allowed_origins.
//   - Operational endpoints (/health, /ready, /live, /metrics): open.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, appCfg.SessionMaxAge, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	sessionsStore := sessions.New(deps.MongoDatabase)

	// Fresh user data on every request, so disabled accounts and role changes
	// take effect immediately. Closed or expired tracked sessions are rejected.
	sessionMgr.SetUserFetcher(userstore.NewFetcher(deps.MongoDatabase, logger))
	sessionMgr.SetSessionChecker(sessionsStore)

	tokens, err := auth.NewTokens(appCfg.JWTSecret, appCfg.JWTTTL)
	if err != nil {
		logger.Error("bearer token signer init failed", zap.Error(err))
		return nil, err
	}

	// Dev mode enables template reloading for faster iteration.
	eng := templates.New(coreCfg.Env == "dev")
	if err := eng.Boot(logger); err != nil {
		logger.Error("template engine boot failed", zap.Error(err))
		return nil, err
	}
	templates.UseEngine(eng, logger)

	errLog := errorsfeature.NewErrorLogger(logger)
	errorsHandler := errorsfeature.NewHandler()

	auditStore := audit.New(deps.MongoDatabase)
	auditLogger := newAuditLogger(deps, appCfg, logger)
	users := userstore.New(deps.MongoDatabase)
	accountsSvc := newAccounts(users, appCfg, logger)

	r := chi.NewRouter()

	// ─────────────────────────────────────────────────────────────────────────────
	// Global Middleware (applies to ALL routes)
	// ─────────────────────────────────────────────────────────────────────────────

	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	// CORS middleware: must be early in the chain to handle preflight requests.
	r.Use(middleware.CORSFromConfig(coreCfg))

	// Security headers middleware: adds X-Frame-Options, X-Content-Type-Options, etc.
	r.Use(middleware.SecurityHeadersFromConfig(coreCfg))

	// Session middleware: loads SessionUser into context if logged in.
	r.Use(sessionMgr.LoadSessionUser)

	// CSRF protection for every form. The cookie name is app-specific to avoid
	// collisions with other services on the same domain.
	csrfOpts := []csrf.Option{
		csrf.Secure(secure),
		csrf.Path("/"),
		csrf.CookieName("axiom_csrf"),
		csrf.FieldName("csrf_token"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			logger.Warn("CSRF validation failed",
				zap.String("path", req.URL.Path),
				zap.String("method", req.Method),
				zap.String("reason", csrf.FailureReason(req).Error()),
			)
			if req.Header.Get("HX-Request") == "true" {
				w.Header().Set("HX-Redirect", "/auth/login")
				w.WriteHeader(http.StatusForbidden)
				return
			}
			http.Error(w, "CSRF token invalid or missing", http.StatusForbidden)
		})),
	}
	// In dev mode, trust localhost origins for CSRF validation.
	if !secure {
		csrfOpts = append(csrfOpts, csrf.TrustedOrigins([]string{
			"localhost:8080",
			"localhost:3000",
			"127.0.0.1:8080",
			"127.0.0.1:3000",
		}))
	}
	if appCfg.SessionDomain != "" {
		csrfOpts = append(csrfOpts, csrf.Domain(appCfg.SessionDomain))
	}
	csrfProtect := csrf.Protect([]byte(appCfg.CSRFKey), csrfOpts...)

	// The token API authenticates with bearer tokens, not cookies, so it is
	// exempt.
	r.Use(func(next http.Handler) http.Handler {
		csrfHandler := csrfProtect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.HasPrefix(req.URL.Path, "/api/") {
				next.ServeHTTP(w, req)
				return
			}
			csrfHandler.ServeHTTP(w, req)
		})
	})

	// ─────────────────────────────────────────────────────────────────────────────
	// Rate limiting of credential endpoints
	// ─────────────────────────────────────────────────────────────────────────────

	// formGuard renders the 429 page; apiGuard answers with JSON. Both count
	// the rejection, and refused login attempts are audited.
	var formGuard, apiGuard func(http.Handler) http.Handler
	if deps.Limiter.Enabled() {
		formGuard = deps.Limiter.Middleware(network.LimiterKey, func(w http.ResponseWriter, req *http.Request, retryAfter time.Duration) {
			rejected(deps, auditLogger, req)
			errorsHandler.RateLimited(w, req, retryAfter)
		})
		apiGuard = deps.Limiter.Middleware(network.LimiterKey, func(w http.ResponseWriter, req *http.Request, retryAfter time.Duration) {
			rejected(deps, auditLogger, req)
			ratelimit.RejectJSON(w, req, retryAfter)
		})
	}

	// ─────────────────────────────────────────────────────────────────────────────
	// Routes
	// ─────────────────────────────────────────────────────────────────────────────

	// /assets/* serves embedded assets (bundled into the binary)
	r.Handle("/assets/*", appresources.AssetsHandler("/assets"))

	// Operational endpoints
	healthHandler = healthfeature.NewHandler(deps.MongoClient, logger)
	healthfeature.Mount(r, healthHandler)
	r.Handle("/metrics", deps.Metrics.Handler())

	// Public pages
	r.Mount("/", homefeature.Routes(homefeature.NewHandler()))

	// Authentication
	loginHandler := loginfeature.NewHandler(accountsSvc, sessionMgr, sessionsStore, auditLogger, deps.Metrics, errLog, appCfg.SessionMaxAge, logger)
	r.Mount("/auth/login", loginfeature.Routes(loginHandler, formGuard))

	registerHandler := registerfeature.NewHandler(accountsSvc, auditLogger, deps.Metrics, errLog, logger)
	r.Mount("/auth/register", registerfeature.Routes(registerHandler, formGuard))

	logoutHandler := logoutfeature.NewHandler(sessionMgr, auditLogger, sessionsStore, deps.Metrics, logger)
	r.Mount("/auth/logout", logoutfeature.Routes(logoutHandler))

	// Signed-in pages
	dashboardHandler := dashboardfeature.NewHandler(users, auditStore, sessionsStore, errLog, logger)
	r.Mount("/dashboard", dashboardfeature.Routes(dashboardHandler, sessionMgr))

	profileHandler := profilefeature.NewHandler(deps.MongoDatabase, accountsSvc, users, sessionsStore, sessionMgr, auditLogger, errLog, logger)
	r.Mount("/profile", profilefeature.Routes(profileHandler))

	// Admin
	auditHandler := auditlogfeature.NewHandler(auditStore, users, errLog, logger)
	r.Mount("/admin/audit", auditlogfeature.Routes(auditHandler, sessionMgr))

	// Token API for the single-page front end
	r.Route("/api", func(api chi.Router) {
		api.Use(apicors.Middleware(apicors.ParseOrigins(appCfg.APIAllowedOrigins)))
		authAPIHandler := authapifeature.NewHandler(accountsSvc, users, tokens, sessionMgr, auditLogger, deps.Metrics, logger)
		api.Mount("/auth", authapifeature.Routes(authAPIHandler, apiGuard))
	})

	// Error pages
	r.Get("/forbidden", errorsHandler.Forbidden)
	r.Get("/unauthorized", errorsHandler.Unauthorized)

	// 404 catch-all for unmatched routes
	r.NotFound(errorsHandler.NotFound)

	logger.Info("router built", zap.Bool("rate_limit", deps.Limiter.Enabled()))
	return r, nil
}

// rejected records a request refused by the limiter.
func rejected(deps DBDeps, auditLogger *auditlog.Logger, r *http.Request) {
	deps.Metrics.RateLimited(r.URL.Path)
	if strings.HasSuffix(r.URL.Path, "/login") || strings.HasSuffix(r.URL.Path, "/token") {
		auditLogger.LoginRateLimited(r)
	}
}
