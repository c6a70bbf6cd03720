// internal/app/store/users/fetcher.go
package userstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/axiom/internal/app/system/auth"
	"github.com/dalemusser/axiom/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Fetcher implements auth.UserFetcher. Resolving a user also refreshes
// study_stats.last_activity, so every authenticated page view counts as activity.
type Fetcher struct {
	store  *Store
	logger *zap.Logger
	now    func() time.Time
}

// NewFetcher creates a UserFetcher that queries the given database.
func NewFetcher(db *mongo.Database, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		store:  New(db),
		logger: logger,
		now:    time.Now,
	}
}

// FetchUser resolves userID to an active user and touches its last activity.
// A malformed id or a missing or inactive user is (nil, nil); a storage
// failure is returned so the caller can tell it apart from a revoked account.
func (f *Fetcher) FetchUser(ctx context.Context, userID string) (*auth.SessionUser, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.Short())
	defer cancel()

	u, err := f.store.UpdateLastActivity(ctx, oid, f.now().UTC())
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		f.logger.Warn("session user lookup failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, err
	}
	if !u.IsActive {
		return nil, nil
	}

	return &auth.SessionUser{
		ID:              u.ID.Hex(),
		Username:        u.Username,
		Name:            u.DisplayName(),
		Role:            u.Role(),
		ThemePreference: u.Preferences.Theme,
		PasswordChanged: u.Security.LastPasswordChange,
	}, nil
}
