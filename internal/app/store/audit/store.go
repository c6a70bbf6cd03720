// internal/app/store/audit/store.go
package audit

import (
	"context"
	"time"

	"github.com/dalemusser/axiom/internal/app/store/storeutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Event categories
const (
	CategoryAuth    = "auth"    // register, login, logout, password
	CategoryAccount = "account" // self-service profile and session changes
	CategoryAdmin   = "admin"   // operator actions
)

// Auth event types
const (
	EventRegistered               = "registered"
	EventRegisterFailed           = "register_failed"
	EventLoginSuccess             = "login_success"
	EventLoginFailedUserNotFound  = "login_failed_user_not_found"
	EventLoginFailedWrongPassword = "login_failed_wrong_password"
	EventLoginFailedUserDisabled  = "login_failed_user_disabled"
	EventLoginLockedOut           = "login_locked_out"
	EventLoginRateLimited         = "login_rate_limited"
	EventLogout                   = "logout"
	EventPasswordChanged          = "password_changed"
	EventTokenIssued              = "token_issued"
)

// Account event types
const (
	EventProfileUpdated     = "profile_updated"
	EventPreferencesUpdated = "preferences_updated"
	EventSessionRevoked     = "session_revoked"
	EventSessionsRevokedAll = "sessions_revoked_all"
	EventAccountDeactivated = "account_deactivated"
)

// Admin event types
const (
	EventAdminSeeded = "admin_seeded"
)

// Event is one audit record.
type Event struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	CreatedAt time.Time          `bson:"created_at"`

	Category  string `bson:"category"`
	EventType string `bson:"event_type"`

	UserID   *primitive.ObjectID `bson:"user_id,omitempty"`  // affected user
	ActorID  *primitive.ObjectID `bson:"actor_id,omitempty"` // acting user when it differs
	Username string              `bson:"username,omitempty"` // as typed, for failures without a user

	IP        string `bson:"ip"`
	UserAgent string `bson:"user_agent,omitempty"`
	RequestID string `bson:"request_id,omitempty"`

	Success       bool   `bson:"success"`
	FailureReason string `bson:"failure_reason,omitempty"`

	Details map[string]string `bson:"details,omitempty"`
}

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	UserID    *primitive.ObjectID
	Category  string
	EventType string
	Success   *bool
	Since     *time.Time
	Until     *time.Time
}

func (f Filter) query() bson.M {
	q := bson.M{}
	if f.UserID != nil {
		q["user_id"] = *f.UserID
	}
	if f.Category != "" {
		q["category"] = f.Category
	}
	if f.EventType != "" {
		q["event_type"] = f.EventType
	}
	if f.Success != nil {
		q["success"] = *f.Success
	}
	if f.Since != nil || f.Until != nil {
		tq := bson.M{}
		if f.Since != nil {
			tq["$gte"] = *f.Since
		}
		if f.Until != nil {
			tq["$lte"] = *f.Until
		}
		q["created_at"] = tq
	}
	return q
}

// Store manages audit event records.
type Store struct {
	c *mongo.Collection
}

// New creates a new audit Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("audit_logs")}
}

// Log records an audit event.
func (s *Store) Log(ctx context.Context, event Event) error {
	if event.ID.IsZero() {
		event.ID = primitive.NewObjectID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.c.InsertOne(ctx, event)
	return err
}

// List returns one page of events matching f, newest first, and the total
// number of matching events.
func (s *Store) List(ctx context.Context, f Filter, page storeutil.Page) ([]Event, int64, error) {
	q := f.query()

	total, err := s.c.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, err
	}

	opts := storeutil.Paginate(page.Size, page.Number).
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := s.c.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var events []Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// RecentByUser returns the latest events about one user.
func (s *Store) RecentByUser(ctx context.Context, userID primitive.ObjectID, limit int64) ([]Event, error) {
	if limit <= 0 {
		limit = 10
	}
	cursor, err := s.c.Find(ctx, bson.M{"user_id": userID},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
			SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// EventTypes returns the distinct event types recorded, for filter menus.
func (s *Store) EventTypes(ctx context.Context) ([]string, error) {
	raw, err := s.c.Distinct(ctx, "event_type", bson.M{})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out, nil
}
