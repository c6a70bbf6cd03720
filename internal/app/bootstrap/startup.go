// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dalemusser/axiom/internal/app/resources"
	"github.com/dalemusser/axiom/internal/app/store/audit"
	"github.com/dalemusser/axiom/internal/app/store/sessions"
	userstore "github.com/dalemusser/axiom/internal/app/store/users"
	"github.com/dalemusser/axiom/internal/app/system/accounts"
	"github.com/dalemusser/axiom/internal/app/system/auditlog"
	"github.com/dalemusser/axiom/internal/app/system/authutil"
	"github.com/dalemusser/axiom/internal/app/system/seeding"
	"github.com/dalemusser/axiom/internal/app/system/tasks"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Startup runs once after DB connections and schema setup are complete, but
// before the HTTP handler is built and requests are served.
//
// It loads the shared templates, seeds the configured admin account, and
// starts the background task runner. Returning an error aborts startup.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	resources.LoadSharedTemplates()

	users := userstore.New(deps.MongoDatabase)
	admin := seeding.Admin{Username: appCfg.SeedAdminUsername, Password: appCfg.SeedAdminPassword}
	if err := seeding.SeedAll(ctx, newAccounts(users, appCfg, logger), users, newAuditLogger(deps, appCfg, logger), admin, logger); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	startTaskRunner(deps, appCfg, logger)
	return nil
}

// taskRunner is the global task runner instance, used for graceful shutdown.
var taskRunner *tasks.Runner

// startTaskRunner registers the maintenance jobs and starts them. Every run is
// counted in the metrics registry.
func startTaskRunner(deps DBDeps, appCfg AppConfig, logger *zap.Logger) {
	sessionsStore := sessions.New(deps.MongoDatabase)

	taskRunner = tasks.New(logger)
	taskRunner.OnResult(deps.Metrics.TaskRun)

	taskRunner.Register(tasks.SessionCleanupJob(sessionsStore, logger))
	if appCfg.SessionIdleTimeout > 0 {
		taskRunner.Register(tasks.InactiveSessionCloseJob(sessionsStore, logger, appCfg.SessionIdleTimeout))
	}
	if deps.Limiter.Enabled() {
		taskRunner.Register(tasks.LimiterSweepJob(deps.Limiter, logger, 0))
	}

	taskRunner.Start()
}

// newAccounts builds the accounts service with the configured hashing cost
// and lockout policy.
func newAccounts(users *userstore.Store, appCfg AppConfig, logger *zap.Logger) *accounts.Service {
	return accounts.New(users, authutil.NewHasher(appCfg.BcryptCost), accounts.Config{
		LockoutThreshold: appCfg.LockoutThreshold,
		LockoutWindow:    appCfg.LockoutWindow,
	}, logger)
}

func newAuditLogger(deps DBDeps, appCfg AppConfig, logger *zap.Logger) *auditlog.Logger {
	return auditlog.New(audit.New(deps.MongoDatabase), logger, auditlog.Config{
		Auth:    appCfg.AuditLogAuth,
		Account: appCfg.AuditLogAccount,
		Admin:   appCfg.AuditLogAdmin,
	})
}
