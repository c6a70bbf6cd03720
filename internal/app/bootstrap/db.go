// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dalemusser/axiom/internal/app/system/indexes"
	"github.com/dalemusser/axiom/internal/app/system/metrics"
	"github.com/dalemusser/axiom/internal/app/system/ratelimit"
	"github.com/dalemusser/axiom/internal/app/system/validators"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// ConnectDB connects to MongoDB and creates the process-wide collaborators
// carried in DBDeps.
//
// WAFFLE calls this after configuration is loaded but before EnsureSchema and
// Startup. The context carries coreCfg.DBConnectTimeout.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	poolCfg := wafflemongo.DefaultPoolConfig()
	if appCfg.MongoMaxPoolSize > 0 {
		poolCfg.MaxPoolSize = appCfg.MongoMaxPoolSize
	}
	if appCfg.MongoMinPoolSize > 0 {
		poolCfg.MinPoolSize = appCfg.MongoMinPoolSize
	}

	client, err := wafflemongo.ConnectWithPool(ctx, appCfg.MongoURI, appCfg.MongoDatabase, poolCfg)
	if err != nil {
		return DBDeps{}, fmt.Errorf("connect to MongoDB: %w", err)
	}

	logger.Info("connected to MongoDB",
		zap.String("database", appCfg.MongoDatabase),
		zap.Uint64("max_pool_size", poolCfg.MaxPoolSize),
		zap.Uint64("min_pool_size", poolCfg.MinPoolSize),
	)

	limiter := ratelimit.New(ratelimit.Config{
		Enabled:   appCfg.RateLimitEnabled,
		PerMinute: appCfg.RateLimitPerMinute,
		Burst:     appCfg.RateLimitBurst,
	})
	if limiter.Enabled() {
		logger.Info("rate limiting auth endpoints",
			zap.Int("per_minute", appCfg.RateLimitPerMinute),
			zap.Int("burst", appCfg.RateLimitBurst))
	}

	return DBDeps{
		MongoClient:   client,
		MongoDatabase: client.Database(appCfg.MongoDatabase),
		Metrics:       metrics.New(),
		Limiter:       limiter,
	}, nil
}

// EnsureSchema creates collections with their JSON-Schema validators, then
// the indexes the stores rely on (unique usernames and emails, session TTL,
// audit listing). The context has a timeout based on coreCfg.IndexBootTimeout.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	db := deps.MongoDatabase

	// Validators first so indexes are created on existing collections.
	logger.Info("ensuring collections and validators")
	if err := validators.EnsureAll(ctx, db); err != nil {
		logger.Error("failed to ensure validators", zap.Error(err))
		return fmt.Errorf("ensure validators: %w", err)
	}

	logger.Info("ensuring database indexes")
	if err := indexes.EnsureAll(ctx, db); err != nil {
		logger.Error("failed to ensure indexes", zap.Error(err))
		return fmt.Errorf("ensure indexes: %w", err)
	}

	logger.Info("database schema ensured successfully")
	return nil
}
