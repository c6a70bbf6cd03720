// internal/domain/models/user.go
package models

// Terminology: User Identifiers
//   - UserID / userID / user_id: The MongoDB ObjectID (_id) that uniquely identifies a user record
//   - Username / username: The human-readable string users type to log in

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// VerificationTokenTTL is how long the verification token issued at
// registration stays valid.
const VerificationTokenTTL = 24 * time.Hour

// User is an Axiom account record (collection "users").
//
// Identity fields:
//   - Username: what the user typed at registration (trimmed, case preserved)
//   - UsernameCI: folded form of Username; the unique index lives here
//   - Email: contact email (optional, stored lowercase)
type User struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username   string             `bson:"username" json:"username"`
	UsernameCI string             `bson:"username_ci" json:"-"`
	Email      string             `bson:"email" json:"email"`

	PasswordHash string `bson:"password_hash" json:"-"` // bcrypt hash, never rendered

	FirstName string `bson:"first_name" json:"first_name"`
	LastName  string `bson:"last_name" json:"last_name"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	LastLogin time.Time `bson:"last_login" json:"last_login"`

	IsAdmin    bool `bson:"is_admin" json:"is_admin"`
	IsActive   bool `bson:"is_active" json:"is_active"`
	IsVerified bool `bson:"is_verified" json:"is_verified"`

	VerificationToken       string    `bson:"verification_token" json:"-"`
	VerificationTokenExpiry time.Time `bson:"verification_token_expiry" json:"-"`

	Profile     Profile     `bson:"profile" json:"profile"`
	Preferences Preferences `bson:"preferences" json:"preferences"`
	StudyStats  StudyStats  `bson:"study_stats" json:"study_stats"`
	Security    Security    `bson:"security" json:"-"`

	DeactivatedAt *time.Time `bson:"deactivated_at,omitempty" json:"-"`
}

// Profile holds optional self-description fields.
type Profile struct {
	Avatar         *string  `bson:"avatar" json:"avatar"`
	Bio            *string  `bson:"bio" json:"bio"`
	EducationLevel *string  `bson:"education_level" json:"education_level"`
	Subjects       []string `bson:"subjects" json:"subjects"`
}

// Preferences holds per-user UI and notification settings.
type Preferences struct {
	Theme             string `bson:"theme" json:"theme"` // light, dark, system
	NotificationEmail bool   `bson:"notification_email" json:"notification_email"`
	Language          string `bson:"language" json:"language"`
	StudyReminder     bool   `bson:"study_reminder" json:"study_reminder"`
}

// StudyStats tracks learning activity. LastActivity is refreshed on every
// authenticated request.
type StudyStats struct {
	TotalStudyTime     int       `bson:"total_study_time" json:"total_study_time"` // minutes
	QuizzesCompleted   int       `bson:"quizzes_completed" json:"quizzes_completed"`
	FlashcardsReviewed int       `bson:"flashcards_reviewed" json:"flashcards_reviewed"`
	LastActivity       time.Time `bson:"last_activity" json:"last_activity"`
}

// Security holds credential bookkeeping. It is never serialized to clients.
type Security struct {
	PasswordResetToken  *string    `bson:"password_reset_token" json:"-"`
	PasswordResetExpiry *time.Time `bson:"password_reset_expiry" json:"-"`
	FailedLoginAttempts int        `bson:"failed_login_attempts" json:"-"`
	LastFailedLogin     *time.Time `bson:"last_failed_login" json:"-"`
	LastPasswordChange  time.Time  `bson:"last_password_change" json:"-"`
}

// Preference defaults applied at registration.
const (
	DefaultTheme    = "light"
	DefaultLanguage = "en"
)

// Themes lists the accepted preferences.theme values.
var Themes = []string{"light", "dark", "system"}

// Languages lists the accepted preferences.language values.
var Languages = []string{"en", "es", "fr", "de"}

// EducationLevels lists the accepted profile.education_level values.
var EducationLevels = []string{"middle_school", "high_school", "undergraduate", "graduate", "other"}

// User roles derived from IsAdmin.
const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

// Role returns the role string used by route guards.
func (u *User) Role() string {
	if u.IsAdmin {
		return RoleAdmin
	}
	return RoleStudent
}

// DisplayName returns "First Last" when set, otherwise the username.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

// NewUser builds a record with registration defaults. The caller supplies the
// already-hashed password and the verification token.
func NewUser(username, usernameCI, email, firstName, lastName, passwordHash, verificationToken string, now time.Time) User {
	return User{
		Username:                username,
		UsernameCI:              usernameCI,
		Email:                   email,
		PasswordHash:            passwordHash,
		FirstName:               firstName,
		LastName:                lastName,
		CreatedAt:               now,
		LastLogin:               now,
		IsAdmin:                 false,
		IsActive:                true,
		IsVerified:              false,
		VerificationToken:       verificationToken,
		VerificationTokenExpiry: now.Add(VerificationTokenTTL),
		Profile: Profile{
			Subjects: []string{},
		},
		Preferences: Preferences{
			Theme:             DefaultTheme,
			NotificationEmail: true,
			Language:          DefaultLanguage,
			StudyReminder:     false,
		},
		StudyStats: StudyStats{
			LastActivity: now,
		},
		Security: Security{
			FailedLoginAttempts: 0,
			LastPasswordChange:  now,
		},
	}
}

// Contains reports whether v is one of allowed.
func Contains(allowed []string, v string) bool {
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}
