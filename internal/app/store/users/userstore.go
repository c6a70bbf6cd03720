// internal/app/store/users/userstore.go
package userstore

// Terminology: User Identifiers
//   - UserID / userID / user_id: The MongoDB ObjectID (_id) that uniquely identifies a user record
//   - Username / username: The human-readable string users type to log in

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/axiom/internal/app/system/normalize"
	"github.com/dalemusser/axiom/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Index names shared with system/indexes so duplicate-key errors can be
// attributed to the right field.
const (
	UsernameIndex = "uniq_users_username_ci"
	EmailIndex    = "uniq_users_email"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateUsername is returned when the username is already registered.
	ErrDuplicateUsername = errors.New("a user with this username already exists")
	// ErrDuplicateEmail is returned when the email is already registered.
	ErrDuplicateEmail = errors.New("a user with this email already exists")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

// FoldUsername returns the comparison key for a username.
func FoldUsername(username string) string {
	return text.Fold(normalize.Username(username))
}

// GetByID loads a user by ObjectID. Returns ErrNotFound if absent.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// GetByUsername looks up a user by case/diacritic-insensitive username.
// Returns ErrNotFound if absent.
func (s *Store) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"username_ci": FoldUsername(username)}).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// Usernames maps each of ids that still exists to its username.
func (s *Store) Usernames(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	out := make(map[primitive.ObjectID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"username": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var row struct {
			ID       primitive.ObjectID `bson:"_id"`
			Username string             `bson:"username"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.ID] = row.Username
	}
	return out, cur.Err()
}

// Create inserts a new user. Uniqueness is enforced by the unique index on
// username_ci, so the check and the insert are a single server-side operation.
func (s *Store) Create(ctx context.Context, u models.User) (models.User, error) {
	u.ID = primitive.NewObjectID()
	u.Username = normalize.Username(u.Username)
	u.UsernameCI = text.Fold(u.Username)
	u.Email = normalize.Email(u.Email)
	if u.Profile.Subjects == nil {
		u.Profile.Subjects = []string{}
	}

	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if wafflemongo.IsDup(err) {
			return models.User{}, classifyDup(err)
		}
		return models.User{}, err
	}
	return u, nil
}

// UpdateLastLogin records a successful login: last_login and
// study_stats.last_activity move to at and the failed-attempt counter resets.
func (s *Store) UpdateLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{
		"last_login":                     at,
		"study_stats.last_activity":      at,
		"security.failed_login_attempts": 0,
		"security.last_failed_login":     nil,
	}})
}

// sessionFields is the projection needed to bind a user to a request.
var sessionFields = bson.M{
	"_id":                           1,
	"username":                      1,
	"first_name":                    1,
	"last_name":                     1,
	"is_admin":                      1,
	"is_active":                     1,
	"preferences.theme":             1,
	"security.last_password_change": 1,
}

// UpdateLastActivity sets study_stats.last_activity and returns the fields
// needed for a session in the same round trip. Returns ErrNotFound if absent.
func (s *Store) UpdateLastActivity(ctx context.Context, id primitive.ObjectID, at time.Time) (*models.User, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(sessionFields)

	var u models.User
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"study_stats.last_activity": at}},
		opts,
	).Decode(&u)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// IncrementFailedLogins atomically bumps security.failed_login_attempts and
// stamps security.last_failed_login.
func (s *Store) IncrementFailedLogins(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	return s.updateOne(ctx, id, bson.M{
		"$inc": bson.M{"security.failed_login_attempts": 1},
		"$set": bson.M{"security.last_failed_login": at},
	})
}

// UpdatePassword replaces the password hash and stamps last_password_change.
func (s *Store) UpdatePassword(ctx context.Context, id primitive.ObjectID, hash string, at time.Time) error {
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{
		"password_hash":                  hash,
		"security.last_password_change":  at,
		"security.failed_login_attempts": 0,
		"security.last_failed_login":     nil,
	}})
}

// ProfileUpdate holds the editable profile fields. Nil pointers are left untouched.
type ProfileUpdate struct {
	FirstName      *string
	LastName       *string
	Bio            *string
	EducationLevel *string
	Subjects       []string // nil leaves subjects untouched
}

// UpdateProfile applies a field-level $set of the provided profile fields.
func (s *Store) UpdateProfile(ctx context.Context, id primitive.ObjectID, upd ProfileUpdate) error {
	set := bson.M{}
	if upd.FirstName != nil {
		set["first_name"] = normalize.Name(*upd.FirstName)
	}
	if upd.LastName != nil {
		set["last_name"] = normalize.Name(*upd.LastName)
	}
	if upd.Bio != nil {
		set["profile.bio"] = optional(*upd.Bio)
	}
	if upd.EducationLevel != nil {
		set["profile.education_level"] = optional(*upd.EducationLevel)
	}
	if upd.Subjects != nil {
		set["profile.subjects"] = upd.Subjects
	}
	if len(set) == 0 {
		return nil
	}
	return s.updateOne(ctx, id, bson.M{"$set": set})
}

// UpdatePreferences replaces the preferences sub-document fields one by one.
func (s *Store) UpdatePreferences(ctx context.Context, id primitive.ObjectID, p models.Preferences) error {
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{
		"preferences.theme":              p.Theme,
		"preferences.notification_email": p.NotificationEmail,
		"preferences.language":           p.Language,
		"preferences.study_reminder":     p.StudyReminder,
	}})
}

// Deactivate marks the account inactive. Login is refused afterwards and
// existing sessions resolve to anonymous on their next request.
func (s *Store) Deactivate(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{
		"is_active":      false,
		"deactivated_at": at,
	}})
}

// SetAdmin grants or revokes the admin flag.
func (s *Store) SetAdmin(ctx context.Context, id primitive.ObjectID, admin bool) error {
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{"is_admin": admin}})
}

// Count returns the number of user records matching filter.
func (s *Store) Count(ctx context.Context, filter bson.M) (int64, error) {
	if filter == nil {
		filter = bson.M{}
	}
	return s.c.CountDocuments(ctx, filter)
}

func (s *Store) updateOne(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

// classifyDup maps an E11000 error to the field whose unique index rejected it.
func classifyDup(err error) error {
	if strings.Contains(err.Error(), EmailIndex) {
		return ErrDuplicateEmail
	}
	return ErrDuplicateUsername
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
