// Package accounts implements the account rules behind the register, login,
// profile, and token features: uniqueness, credential checks, lockout
// bookkeeping, and activity timestamps.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	userstore "github.com/dalemusser/axiom/internal/app/store/users"
	"github.com/dalemusser/axiom/internal/app/system/authutil"
	"github.com/dalemusser/axiom/internal/app/system/htmlsanitize"
	"github.com/dalemusser/axiom/internal/app/system/inputval"
	"github.com/dalemusser/axiom/internal/app/system/normalize"
	"github.com/dalemusser/axiom/internal/domain/models"
	"github.com/google/uuid"
	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// UserStore is the subset of the credential store the service needs.
type UserStore interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, u models.User) (models.User, error)
	UpdateLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error
	IncrementFailedLogins(ctx context.Context, id primitive.ObjectID, at time.Time) error
	UpdatePassword(ctx context.Context, id primitive.ObjectID, hash string, at time.Time) error
	UpdateProfile(ctx context.Context, id primitive.ObjectID, upd userstore.ProfileUpdate) error
	UpdatePreferences(ctx context.Context, id primitive.ObjectID, p models.Preferences) error
	Deactivate(ctx context.Context, id primitive.ObjectID, at time.Time) error
}

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}

// Config holds the lockout policy. A zero LockoutThreshold disables lockout.
type Config struct {
	LockoutThreshold int
	LockoutWindow    time.Duration
}

// DefaultConfig returns the lockout policy used when none is configured.
func DefaultConfig() Config {
	return Config{LockoutThreshold: 5, LockoutWindow: 15 * time.Minute}
}

// Service carries out account operations against a UserStore.
type Service struct {
	users  UserStore
	hasher Hasher
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// New creates a Service.
func New(users UserStore, hasher Hasher, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:  users,
		hasher: hasher,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Username  string `validate:"required,max=64" label:"Username"`
	Password  string `validate:"required" label:"Password"`
	Email     string `validate:"max=254" label:"Email"`
	FirstName string `validate:"max=100" label:"First name"`
	LastName  string `validate:"max=100" label:"Last name"`
}

// Register creates an account. It does not sign the user in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (models.User, error) {
	in.Username = normalize.Username(in.Username)
	in.Email = normalize.Email(in.Email)
	in.FirstName = normalize.Name(in.FirstName)
	in.LastName = normalize.Name(in.LastName)

	if res := inputval.Validate(in); res.HasErrors() {
		return models.User{}, validation(res.First())
	}
	if in.Email != "" && !inputval.IsValidEmail(in.Email) {
		return models.User{}, validation("Please enter a valid email address.")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, authutil.ErrPasswordTooLong) {
			return models.User{}, validation(err.Error())
		}
		return models.User{}, oops.Code(CodeInternal).With("operation", "hash password").Wrap(err)
	}

	now := s.now().UTC()
	u := models.NewUser(
		in.Username,
		userstore.FoldUsername(in.Username),
		in.Email,
		in.FirstName,
		in.LastName,
		hash,
		uuid.NewString(),
		now,
	)

	created, err := s.users.Create(ctx, u)
	switch {
	case err == nil:
		return created, nil
	case errors.Is(err, userstore.ErrDuplicateUsername):
		return models.User{}, oops.Code(CodeDuplicateUsername).
			With("username", in.Username).
			With(publicKey, fmt.Sprintf("User %s is already registered.", in.Username)).
			Wrap(err)
	case errors.Is(err, userstore.ErrDuplicateEmail):
		return models.User{}, oops.Code(CodeDuplicateEmail).
			With("email", in.Email).
			With(publicKey, fmt.Sprintf("Email %s is already registered.", in.Email)).
			Wrap(err)
	default:
		return models.User{}, storage("create user", err)
	}
}

// Authenticate checks a username and password. On success the failed-attempt
// counter is reset and last_login / last_activity move to now.
//
// Unknown users and wrong passwords produce the same error, and an unknown
// user still pays for one bcrypt comparison. Lockout and disabled status are
// reported only once the password has been proven correct.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	username = normalize.Username(username)
	if username == "" || password == "" {
		return nil, invalidCredentials(username, "", ReasonMissingInput)
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			_, _ = s.hasher.Verify(password, s.dummy())
			return nil, invalidCredentials(username, "", ReasonUserNotFound)
		}
		return nil, storage("get user by username", err)
	}

	now := s.now().UTC()
	ok, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash unusable",
			zap.String("user_id", u.ID.Hex()),
			zap.Error(err))
		return nil, invalidCredentials(username, u.ID.Hex(), ReasonUnusableHash)
	}
	if !ok {
		if err := s.users.IncrementFailedLogins(ctx, u.ID, now); err != nil {
			s.logger.Warn("failed to record failed login",
				zap.String("user_id", u.ID.Hex()),
				zap.Error(err))
		}
		return nil, invalidCredentials(username, u.ID.Hex(), ReasonWrongPassword)
	}

	if !u.IsActive {
		return nil, oops.Code(CodeAccountDisabled).With(userIDKey, u.ID.Hex()).Errorf("account is disabled")
	}
	if s.Locked(u, now) {
		return nil, oops.Code(CodeAccountLocked).
			With(userIDKey, u.ID.Hex()).
			With("failed_attempts", u.Security.FailedLoginAttempts).
			Errorf("account is temporarily locked")
	}

	if err := s.users.UpdateLastLogin(ctx, u.ID, now); err != nil {
		return nil, storage("update last login", err)
	}
	u.LastLogin = now
	u.StudyStats.LastActivity = now
	u.Security.FailedLoginAttempts = 0
	u.Security.LastFailedLogin = nil
	return u, nil
}

// Locked reports whether u has reached the failed-attempt threshold and the
// most recent failure is still inside the lockout window.
func (s *Service) Locked(u *models.User, now time.Time) bool {
	if s.cfg.LockoutThreshold <= 0 || u.Security.FailedLoginAttempts < s.cfg.LockoutThreshold {
		return false
	}
	if u.Security.LastFailedLogin == nil {
		return false
	}
	return now.Sub(*u.Security.LastFailedLogin) < s.cfg.LockoutWindow
}

// ChangePasswordInput is the change-password form.
type ChangePasswordInput struct {
	Current string `validate:"required" label:"Current password"`
	New     string `validate:"required" label:"New password"`
	Confirm string `validate:"required" label:"Password confirmation"`
}

// ChangePassword replaces the password after re-verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, userID primitive.ObjectID, in ChangePasswordInput) error {
	if res := inputval.Validate(in); res.HasErrors() {
		return validation(res.First())
	}
	if in.New != in.Confirm {
		return validation("New passwords do not match.")
	}
	if err := authutil.ValidatePassword(in.New); err != nil {
		return validation(err.Error())
	}

	u, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.confirmPassword(u, in.Current); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(in.New)
	if err != nil {
		return oops.Code(CodeInternal).With("operation", "hash password").Wrap(err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash, s.now().UTC()); err != nil {
		return storage("update password", err)
	}
	return nil
}

// Deactivate soft-deletes the account after the password is confirmed.
func (s *Service) Deactivate(ctx context.Context, userID primitive.ObjectID, password string) error {
	u, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.confirmPassword(u, password); err != nil {
		return err
	}
	if err := s.users.Deactivate(ctx, userID, s.now().UTC()); err != nil {
		return storage("deactivate user", err)
	}
	return nil
}

// ProfileInput is the profile form. Subjects is comma separated.
type ProfileInput struct {
	FirstName      string `validate:"max=100" label:"First name"`
	LastName       string `validate:"max=100" label:"Last name"`
	Bio            string `validate:"max=2000" label:"Bio"`
	EducationLevel string `validate:"edulevel" label:"Education level"`
	Subjects       string `validate:"max=500" label:"Subjects"`
}

// UpdateProfile applies the profile form. The bio is sanitized before storage.
func (s *Service) UpdateProfile(ctx context.Context, userID primitive.ObjectID, in ProfileInput) error {
	in.FirstName = normalize.Name(in.FirstName)
	in.LastName = normalize.Name(in.LastName)
	in.EducationLevel = normalize.Choice(in.EducationLevel)
	if res := inputval.Validate(in); res.HasErrors() {
		return validation(res.First())
	}

	bio := htmlsanitize.Bio(in.Bio)
	subjects := normalize.List(in.Subjects)
	for i, subj := range subjects {
		subjects[i] = htmlsanitize.StripTags(subj)
	}

	upd := userstore.ProfileUpdate{
		FirstName:      &in.FirstName,
		LastName:       &in.LastName,
		Bio:            &bio,
		EducationLevel: &in.EducationLevel,
		Subjects:       subjects,
	}
	if err := s.users.UpdateProfile(ctx, userID, upd); err != nil {
		return s.updateErr("update profile", err)
	}
	return nil
}

// PreferencesInput is the preferences form.
type PreferencesInput struct {
	Theme             string `validate:"required,theme" label:"Theme"`
	Language          string `validate:"required,language" label:"Language"`
	NotificationEmail bool
	StudyReminder     bool
}

// UpdatePreferences validates and stores the preferences form.
func (s *Service) UpdatePreferences(ctx context.Context, userID primitive.ObjectID, in PreferencesInput) error {
	in.Theme = normalize.Choice(in.Theme)
	in.Language = normalize.Choice(in.Language)
	if res := inputval.Validate(in); res.HasErrors() {
		return validation(res.First())
	}

	p := models.Preferences{
		Theme:             in.Theme,
		Language:          in.Language,
		NotificationEmail: in.NotificationEmail,
		StudyReminder:     in.StudyReminder,
	}
	if err := s.users.UpdatePreferences(ctx, userID, p); err != nil {
		return s.updateErr("update preferences", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, s.updateErr("get user by id", err)
	}
	return u, nil
}

// confirmPassword re-checks the signed-in user's password for sensitive changes.
func (s *Service) confirmPassword(u *models.User, password string) error {
	ok, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash unusable",
			zap.String("user_id", u.ID.Hex()),
			zap.Error(err))
	}
	if !ok {
		return validation("Current password is incorrect.")
	}
	return nil
}

func (s *Service) updateErr(op string, err error) error {
	if errors.Is(err, userstore.ErrNotFound) {
		return oops.Code(CodeNotFound).With(publicKey, "Account not found.").Wrap(err)
	}
	return storage(op, err)
}

// dummy returns a real bcrypt hash of a throwaway password at the configured
// cost, so verifying against it takes as long as verifying a real user.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(uuid.NewString())
		if err != nil {
			s.logger.Warn("could not prepare dummy password hash", zap.Error(err))
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}
