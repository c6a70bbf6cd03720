// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/axiom/internal/app/system/auditlog"
	"github.com/dalemusser/axiom/internal/app/system/authutil"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// EnvVarPrefix is the prefix for environment variables.
const EnvVarPrefix = "AXIOM"

const (
	devSessionKey = "dev-only-change-me-please-0123456789ABCDEF"
	devCSRFKey    = "dev-only-csrf-key-please-change-0123456789"
	devJWTSecret  = "dev-only-jwt-secret-please-change-0123456789"
)

// minSecretLen is the shortest signing secret accepted in production.
const minSecretLen = 32

// appConfigKeys defines the configuration keys for this application.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: AXIOM_MONGO_URI, AXIOM_SESSION_NAME, etc.
//   - Command-line flags: --mongo_uri, --session_name, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "axiom", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},
	{Name: "session_key", Default: devSessionKey, Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "axiom-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "session_max_age", Default: "24h", Desc: "Session cookie max age (e.g., 24h, 720h, 30m)"},
	{Name: "session_idle_timeout", Default: "2h", Desc: "Close tracked sessions idle this long (0 disables)"},

	{Name: "csrf_key", Default: devCSRFKey, Desc: "CSRF token signing key (32+ chars in production)"},

	// Credentials and lockout
	{Name: "bcrypt_cost", Default: bcrypt.DefaultCost, Desc: "bcrypt work factor (4-31)"},
	{Name: "lockout_threshold", Default: 5, Desc: "Failed logins before an account is locked (0 disables)"},
	{Name: "lockout_window", Default: "15m", Desc: "Lockout duration after the last failed login"},

	// Rate limiting configuration
	{Name: "rate_limit_enabled", Default: true, Desc: "Rate limit login, register and token requests per client IP"},
	{Name: "rate_limit_per_minute", Default: 10, Desc: "Sustained requests per minute per client IP"},
	{Name: "rate_limit_burst", Default: 5, Desc: "Requests a client may make at once"},

	// Token API
	{Name: "jwt_secret", Default: devJWTSecret, Desc: "Bearer token signing secret (32+ chars in production)"},
	{Name: "jwt_ttl", Default: "1h", Desc: "Bearer token lifetime"},
	{Name: "api_allowed_origins", Default: "http://localhost:3000", Desc: "Comma-separated origins allowed to call /api"},

	// Audit logging settings
	{Name: "audit_log_auth", Default: "all", Desc: "Auth event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_account", Default: "all", Desc: "Account event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_admin", Default: "all", Desc: "Admin event logging: 'all' (db+log), 'db', 'log', or 'off'"},

	// Admin seeding configuration
	{Name: "seed_admin_username", Default: "", Desc: "Username of admin user to create on startup"},
	{Name: "seed_admin_password", Default: "", Desc: "Password of the seeded admin user"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig merges, in order of precedence,
// command-line flags, AXIOM_* environment variables, config files and
// defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, EnvVarPrefix, appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:           appValues.String("mongo_uri"),
		MongoDatabase:      appValues.String("mongo_database"),
		MongoMaxPoolSize:   uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize:   uint64(appValues.Int("mongo_min_pool_size")),
		SessionKey:         appValues.String("session_key"),
		SessionName:        appValues.String("session_name"),
		SessionDomain:      appValues.String("session_domain"),
		SessionMaxAge:      appValues.Duration("session_max_age", 24*time.Hour),
		SessionIdleTimeout: appValues.Duration("session_idle_timeout", 2*time.Hour),

		CSRFKey: appValues.String("csrf_key"),

		BcryptCost:       appValues.Int("bcrypt_cost"),
		LockoutThreshold: appValues.Int("lockout_threshold"),
		LockoutWindow:    appValues.Duration("lockout_window", 15*time.Minute),

		RateLimitEnabled:   appValues.Bool("rate_limit_enabled"),
		RateLimitPerMinute: appValues.Int("rate_limit_per_minute"),
		RateLimitBurst:     appValues.Int("rate_limit_burst"),

		JWTSecret:         appValues.String("jwt_secret"),
		JWTTTL:            appValues.Duration("jwt_ttl", time.Hour),
		APIAllowedOrigins: appValues.String("api_allowed_origins"),

		AuditLogAuth:    appValues.String("audit_log_auth"),
		AuditLogAccount: appValues.String("audit_log_account"),
		AuditLogAdmin:   appValues.String("audit_log_admin"),

		SeedAdminUsername: appValues.String("seed_admin_username"),
		SeedAdminPassword: appValues.String("seed_admin_password"),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation. All problems are
// reported together so an operator can fix them in one pass.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := validate(coreCfg.Env, appCfg); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}
	return nil
}

func validate(env string, appCfg AppConfig) error {
	var errs []error

	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		errs = append(errs, fmt.Errorf("invalid MongoDB URI: %w", err))
	}

	if env == "prod" {
		secrets := []struct {
			name, value, dev string
		}{
			{"session_key", appCfg.SessionKey, devSessionKey},
			{"csrf_key", appCfg.CSRFKey, devCSRFKey},
			{"jwt_secret", appCfg.JWTSecret, devJWTSecret},
		}
		for _, s := range secrets {
			if s.value == s.dev || len(s.value) < minSecretLen {
				errs = append(errs, fmt.Errorf("%s must be set to at least %d characters in production", s.name, minSecretLen))
			}
		}
	}

	if appCfg.BcryptCost < bcrypt.MinCost || appCfg.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if appCfg.LockoutThreshold < 0 {
		errs = append(errs, errors.New("lockout_threshold must not be negative"))
	}
	if appCfg.LockoutThreshold > 0 && appCfg.LockoutWindow <= 0 {
		errs = append(errs, errors.New("lockout_window must be positive when lockout is enabled"))
	}
	if appCfg.RateLimitEnabled && (appCfg.RateLimitPerMinute <= 0 || appCfg.RateLimitBurst <= 0) {
		errs = append(errs, errors.New("rate_limit_per_minute and rate_limit_burst must be positive"))
	}
	if appCfg.SessionMaxAge <= 0 {
		errs = append(errs, errors.New("session_max_age must be positive"))
	}
	if appCfg.SessionIdleTimeout < 0 {
		errs = append(errs, errors.New("session_idle_timeout must not be negative"))
	}
	if appCfg.JWTTTL <= 0 {
		errs = append(errs, errors.New("jwt_ttl must be positive"))
	}

	for name, v := range map[string]string{
		"audit_log_auth":    appCfg.AuditLogAuth,
		"audit_log_account": appCfg.AuditLogAccount,
		"audit_log_admin":   appCfg.AuditLogAdmin,
	} {
		switch v {
		case "", auditlog.DestAll, auditlog.DestDB, auditlog.DestLog, auditlog.DestOff:
		default:
			errs = append(errs, fmt.Errorf("%s must be one of all, db, log, off", name))
		}
	}

	if appCfg.SeedAdminUsername != "" {
		if err := authutil.ValidatePassword(appCfg.SeedAdminPassword); err != nil {
			errs = append(errs, fmt.Errorf("seed_admin_password: %w", err))
		}
	}

	return errors.Join(errs...)
}
