// internal/app/system/seeding/seeding.go
package seeding

import (
	"context"
	"errors"

	userstore "github.com/dalemusser/axiom/internal/app/store/users"
	"github.com/dalemusser/axiom/internal/app/system/accounts"
	"github.com/dalemusser/axiom/internal/app/system/auditlog"
	"go.uber.org/zap"
)

// Admin names the account created on first start. An empty Username disables
// seeding.
type Admin struct {
	Username string
	Password string
}

// SeedAll seeds default data if not already present.
func SeedAll(ctx context.Context, svc *accounts.Service, users *userstore.Store, audit *auditlog.Logger, admin Admin, logger *zap.Logger) error {
	return seedAdmin(ctx, svc, users, audit, admin, logger)
}

// seedAdmin registers the configured admin through the normal registration
// path and grants the admin flag. An existing account of that name is left
// untouched, so restarts never reset a changed password.
func seedAdmin(ctx context.Context, svc *accounts.Service, users *userstore.Store, audit *auditlog.Logger, admin Admin, logger *zap.Logger) error {
	if admin.Username == "" {
		return nil
	}

	_, err := users.GetByUsername(ctx, admin.Username)
	switch {
	case err == nil:
		logger.Debug("admin account already present", zap.String("username", admin.Username))
		return nil
	case !errors.Is(err, userstore.ErrNotFound):
		logger.Error("failed to look up seed admin", zap.String("username", admin.Username), zap.Error(err))
		return err
	}

	u, err := svc.Register(ctx, accounts.RegisterInput{Username: admin.Username, Password: admin.Password})
	if err != nil {
		// Another instance may have seeded concurrently.
		if accounts.Is(err, accounts.CodeDuplicateUsername) {
			return nil
		}
		logger.Error("failed to seed admin", zap.String("username", admin.Username), zap.Error(err))
		return err
	}
	if err := users.SetAdmin(ctx, u.ID, true); err != nil {
		logger.Error("failed to grant admin to seeded account", zap.String("user_id", u.ID.Hex()), zap.Error(err))
		return err
	}

	audit.AdminSeeded(ctx, u.ID, u.Username)
	logger.Info("seeded admin account", zap.String("username", u.Username))
	return nil
}
