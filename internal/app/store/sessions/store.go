// internal/app/store/sessions/store.go
package sessions

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Session end reasons
const (
	EndReasonLogout      = "logout"      // User explicitly logged out
	EndReasonRevoked     = "revoked"     // Closed from the session list
	EndReasonPassword    = "password"    // Closed by a password change
	EndReasonDeactivated = "deactivated" // Account was deactivated
	EndReasonInactive    = "inactive"    // Closed due to inactivity
	EndReasonReplaced    = "replaced"    // Superseded by a new login in the same browser
	EndReasonFailedLogin = "failed"      // A failed login attempt in the same browser
)

// ErrNotFound is returned when no session matches the lookup.
var ErrNotFound = errors.New("session not found")

// Session is the server-side record of one issued session token. A cookie
// whose token has no open record resolves to anonymous.
type Session struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Token     string             `bson:"token"`
	UserID    primitive.ObjectID `bson:"user_id"`
	IPAddress string             `bson:"ip_address,omitempty"`
	UserAgent string             `bson:"user_agent,omitempty"`

	LoginAt      time.Time  `bson:"login_at"`
	LogoutAt     *time.Time `bson:"logout_at,omitempty"` // nil while open
	LastActivity time.Time  `bson:"last_activity"`
	EndReason    string     `bson:"end_reason,omitempty"`
	DurationSecs int64      `bson:"duration_secs,omitempty"`

	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Open reports whether the session is still usable at now.
func (s Session) Open(now time.Time) bool {
	return s.LogoutAt == nil && now.Before(s.ExpiresAt)
}

// Store manages tracked session records in MongoDB.
type Store struct {
	c   *mongo.Collection
	now func() time.Time
}

// New creates a new session Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("sessions"), now: time.Now}
}

// Create records a newly issued session.
func (s *Store) Create(ctx context.Context, session Session) (Session, error) {
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}
	now := s.now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.LoginAt.IsZero() {
		session.LoginAt = now
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = now
	}
	if _, err := s.c.InsertOne(ctx, session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Touch refreshes last_activity of an open session and reports whether one
// matched. The active check and the write are one update.
func (s *Store) Touch(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	now := s.now().UTC()
	res, err := s.c.UpdateOne(ctx,
		bson.M{
			"token":      token,
			"logout_at":  nil,
			"expires_at": bson.M{"$gt": now},
		},
		bson.M{"$set": bson.M{
			"last_activity": now,
			"updated_at":    now,
		}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// GetByID retrieves a session by ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*Session, error) {
	var session Session
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Close ends the open session holding token and records its duration.
// Closing an unknown or already closed token is a no-op.
func (s *Store) Close(ctx context.Context, token string, reason string) error {
	if token == "" {
		return nil
	}
	var session Session
	err := s.c.FindOne(ctx, bson.M{"token": token, "logout_at": nil}).Decode(&session)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return err
	}

	now := s.now().UTC()
	_, err = s.c.UpdateOne(ctx, bson.M{"_id": session.ID, "logout_at": nil}, bson.M{
		"$set": bson.M{
			"logout_at":     now,
			"end_reason":    reason,
			"duration_secs": int64(now.Sub(session.LoginAt).Seconds()),
			"updated_at":    now,
		},
	})
	return err
}

// CloseByID ends one open session owned by userID. It returns ErrNotFound when
// the user has no open session with that id.
func (s *Store) CloseByID(ctx context.Context, userID, id primitive.ObjectID, reason string) error {
	now := s.now().UTC()
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID, "logout_at": nil},
		bson.M{"$set": bson.M{
			"logout_at":  now,
			"end_reason": reason,
			"updated_at": now,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseByUser closes all open sessions for a user.
func (s *Store) CloseByUser(ctx context.Context, userID primitive.ObjectID, reason string) (int64, error) {
	return s.closeMany(ctx, bson.M{"user_id": userID}, reason)
}

// CloseByUserExcept closes all open sessions for a user except the one holding exceptToken.
func (s *Store) CloseByUserExcept(ctx context.Context, userID primitive.ObjectID, exceptToken string, reason string) (int64, error) {
	return s.closeMany(ctx, bson.M{
		"user_id": userID,
		"token":   bson.M{"$ne": exceptToken},
	}, reason)
}

// CloseInactive closes open sessions with no activity within idle.
func (s *Store) CloseInactive(ctx context.Context, idle time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-idle)
	return s.closeMany(ctx, bson.M{"last_activity": bson.M{"$lt": cutoff}}, EndReasonInactive)
}

func (s *Store) closeMany(ctx context.Context, filter bson.M, reason string) (int64, error) {
	now := s.now().UTC()
	filter["logout_at"] = nil
	res, err := s.c.UpdateMany(ctx, filter, bson.M{
		"$set": bson.M{
			"logout_at":  now,
			"end_reason": reason,
			"updated_at": now,
		},
	})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// ListActiveByUser returns a user's open, unexpired sessions, most recently active first.
func (s *Store) ListActiveByUser(ctx context.Context, userID primitive.ObjectID) ([]Session, error) {
	cursor, err := s.c.Find(ctx, bson.M{
		"user_id":    userID,
		"logout_at":  nil,
		"expires_at": bson.M{"$gt": s.now().UTC()},
	}, options.Find().SetSort(bson.D{{Key: "last_activity", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CountActive counts open, unexpired sessions.
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{
		"logout_at":  nil,
		"expires_at": bson.M{"$gt": s.now().UTC()},
	})
}

// DeleteExpired removes sessions past their expiry. The TTL index does the
// same eventually; this keeps the collection tidy between TTL passes.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": s.now().UTC()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
