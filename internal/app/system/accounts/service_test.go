package accounts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	userstore "github.com/dalemusser/axiom/internal/app/store/users"
	"github.com/dalemusser/axiom/internal/app/system/authutil"
	"github.com/dalemusser/axiom/internal/domain/models"
	"github.com/dalemusser/axiom/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	svc   *Service
	store *userstore.Store
	db    *mongo.Database
	clock time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	f := &fixture{
		store: store,
		db:    db,
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = New(store, authutil.NewHasher(bcrypt.MinCost), cfg, zap.NewNop())
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) register(t *testing.T, username, password string) models.User {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()
	u, err := f.svc.Register(ctx, RegisterInput{Username: username, Password: password})
	require.NoError(t, err)
	return u
}

func (f *fixture) reload(t *testing.T, id primitive.ObjectID) *models.User {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()
	u, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	return u
}

func TestRegister_ThenAuthenticate(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := f.svc.Register(ctx, RegisterInput{
		Username:  "  Bob  ",
		Password:  "hunter22",
		Email:     "Bob@Example.COM",
		FirstName: "Bob",
		LastName:  "Builder",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bob", created.Username)
	assert.Equal(t, "bob@example.com", created.Email)
	assert.NotEqual(t, "hunter22", created.PasswordHash)
	assert.True(t, created.IsActive)
	assert.False(t, created.IsAdmin)
	assert.False(t, created.IsVerified)
	assert.NotEmpty(t, created.VerificationToken)
	assert.Equal(t, f.clock.Add(models.VerificationTokenTTL), created.VerificationTokenExpiry)
	assert.Equal(t, 0, created.Security.FailedLoginAttempts)

	u, err := f.svc.Authenticate(ctx, "bob", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, created.ID, u.ID)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	tests := []struct {
		name    string
		in      RegisterInput
		message string
	}{
		{"empty username", RegisterInput{Password: "secret1"}, "Username is required."},
		{"blank username", RegisterInput{Username: "   ", Password: "secret1"}, "Username is required."},
		{"empty password", RegisterInput{Username: "alice"}, "Password is required."},
		{"bad email", RegisterInput{Username: "alice", Password: "secret1", Email: "nope"}, "Please enter a valid email address."},
		{"password over 72 bytes", RegisterInput{Username: "alice", Password: strings.Repeat("p", 73)}, "Password must be at most 72 bytes."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := testutil.TestContext()
			defer cancel()
			_, err := f.svc.Register(ctx, tt.in)
			require.Error(t, err)
			assert.Equal(t, CodeValidation, Code(err))
			assert.Equal(t, tt.message, PublicMessage(err))
		})
	}

	ctx, cancel := testutil.TestContext()
	defer cancel()
	n, err := f.store.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegister_DuplicateUsernameLeavesRecordUnchanged(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	original := f.register(t, "alice", "secret1")

	f.clock = f.clock.Add(time.Hour)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	_, err := f.svc.Register(ctx, RegisterInput{Username: "ALICE", Password: "other-pass", Email: "a@example.com"})
	require.Error(t, err)
	assert.Equal(t, CodeDuplicateUsername, Code(err))
	assert.Equal(t, "User ALICE is already registered.", PublicMessage(err))

	stored := f.reload(t, original.ID)
	assert.Equal(t, original.PasswordHash, stored.PasswordHash)
	assert.Equal(t, "alice", stored.Username)
	assert.Empty(t, stored.Email)
	assert.True(t, original.CreatedAt.Equal(stored.CreatedAt))
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := f.svc.Register(ctx, RegisterInput{Username: "one", Password: "secret1", Email: "same@example.com"})
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, RegisterInput{Username: "two", Password: "secret1", Email: "SAME@example.com"})
	require.Error(t, err)
	assert.Equal(t, CodeDuplicateEmail, Code(err))
	assert.Equal(t, "Email same@example.com is already registered.", PublicMessage(err))
}

func TestRegister_ConcurrentSameUsername(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	const n = 2
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := testutil.TestContext()
			defer cancel()
			_, errs[i] = f.svc.Register(ctx, RegisterInput{Username: "racer", Password: "secret1"})
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case Code(err) == CodeDuplicateUsername:
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)
}

func TestAuthenticate_WrongPasswordCountsEveryAttempt(t *testing.T) {
	f := newFixture(t, Config{})
	u := f.register(t, "carol", "secret1")

	const attempts = 4
	for i := 0; i < attempts; i++ {
		ctx, cancel := testutil.TestContext()
		_, err := f.svc.Authenticate(ctx, "carol", "wrong")
		cancel()
		require.Error(t, err)
		assert.Equal(t, CodeInvalidCredentials, Code(err))
		assert.Equal(t, MsgInvalidCredentials, PublicMessage(err))
	}

	stored := f.reload(t, u.ID)
	assert.Equal(t, attempts, stored.Security.FailedLoginAttempts)
	require.NotNil(t, stored.Security.LastFailedLogin)
}

func TestAuthenticate_UnknownUserHasNoSideEffect(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	existing := f.register(t, "dave", "secret1")

	ctx, cancel := testutil.TestContext()
	defer cancel()

	var before []bson.M
	cur, err := f.db.Collection("users").Find(ctx, bson.M{})
	require.NoError(t, err)
	require.NoError(t, cur.All(ctx, &before))

	_, err = f.svc.Authenticate(ctx, "nobody", "secret1")
	require.Error(t, err)
	assert.Equal(t, CodeInvalidCredentials, Code(err))
	assert.Equal(t, MsgInvalidCredentials, PublicMessage(err))

	var after []bson.M
	cur, err = f.db.Collection("users").Find(ctx, bson.M{})
	require.NoError(t, err)
	require.NoError(t, cur.All(ctx, &after))
	assert.Equal(t, before, after)
	assert.Equal(t, 0, f.reload(t, existing.ID).Security.FailedLoginAttempts)
}

func TestAuthenticate_SameMessageForUnknownUserAndWrongPassword(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.register(t, "erin", "secret1")
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, errUnknown := f.svc.Authenticate(ctx, "nobody", "secret1")
	_, errWrong := f.svc.Authenticate(ctx, "erin", "nope")
	assert.Equal(t, Code(errUnknown), Code(errWrong))
	assert.Equal(t, PublicMessage(errUnknown), PublicMessage(errWrong))

	// The internal reason still tells the two apart for the audit trail.
	assert.Equal(t, ReasonUserNotFound, Reason(errUnknown))
	assert.Empty(t, UserID(errUnknown))
	assert.Equal(t, ReasonWrongPassword, Reason(errWrong))
	assert.NotEmpty(t, UserID(errWrong))
}

func TestAuthenticate_EmptyInput(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := f.svc.Authenticate(ctx, "", "secret1")
	assert.Equal(t, CodeInvalidCredentials, Code(err))
	_, err = f.svc.Authenticate(ctx, "alice", "")
	assert.Equal(t, CodeInvalidCredentials, Code(err))
}

func TestAuthenticate_AliceScenario(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	alice := f.register(t, "alice", "secret1")
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := f.svc.Authenticate(ctx, "alice", "wrong")
	require.Error(t, err)
	assert.Equal(t, CodeInvalidCredentials, Code(err))
	assert.Equal(t, 1, f.reload(t, alice.ID).Security.FailedLoginAttempts)

	f.clock = f.clock.Add(time.Minute)
	u, err := f.svc.Authenticate(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, u.ID)

	stored := f.reload(t, alice.ID)
	assert.True(t, stored.LastLogin.Equal(f.clock), "last_login = %v, want %v", stored.LastLogin, f.clock)
	assert.True(t, stored.StudyStats.LastActivity.Equal(f.clock))
	assert.Equal(t, 0, stored.Security.FailedLoginAttempts)
	assert.Nil(t, stored.Security.LastFailedLogin)
}

func TestAuthenticate_Lockout(t *testing.T) {
	f := newFixture(t, Config{LockoutThreshold: 3, LockoutWindow: 15 * time.Minute})
	u := f.register(t, "frank", "secret1")
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Authenticate(ctx, "frank", "wrong")
		require.Equal(t, CodeInvalidCredentials, Code(err))
	}

	// Correct password is refused while locked.
	_, err := f.svc.Authenticate(ctx, "frank", "secret1")
	require.Error(t, err)
	assert.Equal(t, CodeAccountLocked, Code(err))
	assert.Equal(t, MsgAccountLocked, PublicMessage(err))

	// A wrong password while locked still reads as invalid credentials.
	_, err = f.svc.Authenticate(ctx, "frank", "wrong")
	assert.Equal(t, CodeInvalidCredentials, Code(err))
	assert.Equal(t, 4, f.reload(t, u.ID).Security.FailedLoginAttempts)

	f.clock = f.clock.Add(16 * time.Minute)
	_, err = f.svc.Authenticate(ctx, "frank", "secret1")
	require.NoError(t, err)
	assert.Equal(t, 0, f.reload(t, u.ID).Security.FailedLoginAttempts)
}

func TestAuthenticate_DisabledAccount(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	u := f.register(t, "gina", "secret1")
	ctx, cancel := testutil.TestContext()
	defer cancel()
	require.NoError(t, f.store.Deactivate(ctx, u.ID, f.clock))

	_, err := f.svc.Authenticate(ctx, "gina", "secret1")
	require.Error(t, err)
	assert.Equal(t, CodeAccountDisabled, Code(err))
	assert.Equal(t, MsgAccountDisabled, PublicMessage(err))

	// Wrong password on a disabled account does not reveal that it is disabled.
	_, err = f.svc.Authenticate(ctx, "gina", "nope")
	assert.Equal(t, CodeInvalidCredentials, Code(err))
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	u := f.register(t, "hank", "secret1")
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tests := []struct {
		name    string
		in      ChangePasswordInput
		message string
	}{
		{"wrong current", ChangePasswordInput{Current: "nope", New: "fresh-pass-1", Confirm: "fresh-pass-1"}, "Current password is incorrect."},
		{"mismatch", ChangePasswordInput{Current: "secret1", New: "fresh-pass-1", Confirm: "fresh-pass-2"}, "New passwords do not match."},
		{"too short", ChangePasswordInput{Current: "secret1", New: "abc", Confirm: "abc"}, authutil.ErrPasswordTooShort.Error()},
		{"common", ChangePasswordInput{Current: "secret1", New: "password", Confirm: "password"}, authutil.ErrPasswordCommon.Error()},
		{"missing current", ChangePasswordInput{New: "fresh-pass-1", Confirm: "fresh-pass-1"}, "Current password is required."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.ChangePassword(ctx, u.ID, tt.in)
			require.Error(t, err)
			assert.Equal(t, CodeValidation, Code(err))
			assert.Equal(t, tt.message, PublicMessage(err))
		})
	}

	f.clock = f.clock.Add(time.Hour)
	require.NoError(t, f.svc.ChangePassword(ctx, u.ID, ChangePasswordInput{
		Current: "secret1", New: "fresh-pass-1", Confirm: "fresh-pass-1",
	}))
	assert.True(t, f.reload(t, u.ID).Security.LastPasswordChange.Equal(f.clock))

	_, err := f.svc.Authenticate(ctx, "hank", "secret1")
	assert.Equal(t, CodeInvalidCredentials, Code(err))
	_, err = f.svc.Authenticate(ctx, "hank", "fresh-pass-1")
	assert.NoError(t, err)
}

func TestDeactivate(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	u := f.register(t, "ivy", "secret1")
	ctx, cancel := testutil.TestContext()
	defer cancel()

	err := f.svc.Deactivate(ctx, u.ID, "wrong")
	assert.Equal(t, CodeValidation, Code(err))
	assert.True(t, f.reload(t, u.ID).IsActive)

	require.NoError(t, f.svc.Deactivate(ctx, u.ID, "secret1"))
	stored := f.reload(t, u.ID)
	assert.False(t, stored.IsActive)
	require.NotNil(t, stored.DeactivatedAt)

	err = f.svc.Deactivate(ctx, primitive.NewObjectID(), "secret1")
	assert.Equal(t, CodeNotFound, Code(err))
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	u := f.register(t, "jane", "secret1")
	ctx, cancel := testutil.TestContext()
	defer cancel()

	require.NoError(t, f.svc.UpdateProfile(ctx, u.ID, ProfileInput{
		FirstName:      " Jane ",
		LastName:       "Doe",
		Bio:            "<p>Loves <b>maths</b></p><script>alert(1)</script>",
		EducationLevel: "Undergraduate",
		Subjects:       "Math, physics, math, ",
	}))

	stored := f.reload(t, u.ID)
	assert.Equal(t, "Jane", stored.FirstName)
	assert.Equal(t, "Doe", stored.LastName)
	require.NotNil(t, stored.Profile.Bio)
	assert.Equal(t, "<p>Loves <b>maths</b></p>", *stored.Profile.Bio)
	require.NotNil(t, stored.Profile.EducationLevel)
	assert.Equal(t, "undergraduate", *stored.Profile.EducationLevel)
	assert.Equal(t, []string{"Math", "physics"}, stored.Profile.Subjects)

	err := f.svc.UpdateProfile(ctx, u.ID, ProfileInput{EducationLevel: "kindergarten"})
	assert.Equal(t, CodeValidation, Code(err))

	// Clearing optional fields stores nulls.
	require.NoError(t, f.svc.UpdateProfile(ctx, u.ID, ProfileInput{}))
	stored = f.reload(t, u.ID)
	assert.Nil(t, stored.Profile.Bio)
	assert.Nil(t, stored.Profile.EducationLevel)
	assert.Empty(t, stored.Profile.Subjects)
}

func TestUpdatePreferences(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	u := f.register(t, "kim", "secret1")
	ctx, cancel := testutil.TestContext()
	defer cancel()

	require.NoError(t, f.svc.UpdatePreferences(ctx, u.ID, PreferencesInput{
		Theme: "Dark", Language: "fr", NotificationEmail: false, StudyReminder: true,
	}))
	p := f.reload(t, u.ID).Preferences
	assert.Equal(t, models.Preferences{Theme: "dark", Language: "fr", NotificationEmail: false, StudyReminder: true}, p)

	err := f.svc.UpdatePreferences(ctx, u.ID, PreferencesInput{Theme: "neon", Language: "en"})
	assert.Equal(t, CodeValidation, Code(err))
	err = f.svc.UpdatePreferences(ctx, u.ID, PreferencesInput{Theme: "light", Language: "klingon"})
	assert.Equal(t, CodeValidation, Code(err))
}

// failingStore fails every lookup the way an unreachable database would.
type failingStore struct {
	UserStore
}

func (failingStore) GetByUsername(context.Context, string) (*models.User, error) {
	return nil, errors.New("server selection error: connection refused")
}

func (failingStore) Create(context.Context, models.User) (models.User, error) {
	return models.User{}, errors.New("server selection error: connection refused")
}

func TestStorageErrorsAreGeneric(t *testing.T) {
	svc := New(failingStore{}, authutil.NewHasher(bcrypt.MinCost), DefaultConfig(), zap.NewNop())
	ctx := context.Background()

	_, err := svc.Authenticate(ctx, "alice", "secret1")
	require.Error(t, err)
	assert.Equal(t, CodeStorage, Code(err))
	assert.Equal(t, MsgStorage, PublicMessage(err))

	_, err = svc.Register(ctx, RegisterInput{Username: "alice", Password: "secret1"})
	require.Error(t, err)
	assert.Equal(t, CodeStorage, Code(err))
	assert.Equal(t, MsgStorage, PublicMessage(err))
	assert.NotContains(t, PublicMessage(err), "connection refused")
}

func TestLocked(t *testing.T) {
	svc := New(nil, nil, Config{LockoutThreshold: 2, LockoutWindow: time.Minute}, nil)
	now := time.Now()
	recent := now.Add(-30 * time.Second)
	old := now.Add(-2 * time.Minute)

	tests := []struct {
		name     string
		attempts int
		last     *time.Time
		want     bool
	}{
		{"below threshold", 1, &recent, false},
		{"at threshold recent", 2, &recent, true},
		{"at threshold expired", 2, &old, false},
		{"no timestamp", 5, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &models.User{Security: models.Security{FailedLoginAttempts: tt.attempts, LastFailedLogin: tt.last}}
			assert.Equal(t, tt.want, svc.Locked(u, now))
		})
	}

	off := New(nil, nil, Config{}, nil)
	assert.False(t, off.Locked(&models.User{Security: models.Security{FailedLoginAttempts: 100, LastFailedLogin: &recent}}, now))
}

func TestPublicMessage_UnknownError(t *testing.T) {
	assert.Equal(t, MsgInternal, PublicMessage(errors.New("boom")))
	assert.Equal(t, "", Code(nil))
}
