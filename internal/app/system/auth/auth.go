// Package auth binds HTTP requests to Axiom users.
//
// A signed cookie carries the user id and a per-login session token. On every
// request LoadSessionUser checks the token against the tracked-session store,
// re-reads the user record, and places the result in the request context.
// Anything that does not resolve cleanly leaves the request anonymous.
package auth

// Terminology: User Identifiers
//   - UserID / userID / user_id: The MongoDB ObjectID (_id) that uniquely identifies a user record
//   - Username / username: The human-readable string users type to log in

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dalemusser/axiom/internal/app/system/normalize"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// LoginPath is where unauthenticated browsers are sent.
const LoginPath = "/auth/login"

// Session error classification for logging and monitoring.
type sessionErrorType int

const (
	sessionErrUnknown   sessionErrorType = iota
	sessionErrExpired                    // timestamp expired - normal
	sessionErrTampered                   // MAC invalid - potential attack
	sessionErrCorrupted                  // decode/decrypt failed - corruption or key rotation
	sessionErrBackend                    // store/backend failure
)

// Cookie values. Nothing else is stored in the cookie.
const (
	isAuthKey       = "is_authenticated"
	userIDKey       = "user_id"
	sessionTokenKey = "session_token"
)

/*─────────────────────────────────────────────────────────────────────────────*
| SessionManager                                                              |
*─────────────────────────────────────────────────────────────────────────────*/

// SessionManager owns the cookie store and resolves sessions to users.
type SessionManager struct {
	store    *sessions.CookieStore
	logger   *zap.Logger
	name     string
	users    UserFetcher
	sessions SessionChecker
}

// NewSessionManager creates a SessionManager.
//
// Parameters:
//   - sessionKey: signing key for cookies (must be ≥32 chars in production)
//   - name: session cookie name (defaults to "axiom-session" if empty)
//   - domain: cookie domain (empty means current host)
//   - maxAge: session cookie lifetime (e.g., 24*time.Hour)
//   - secure: if true, cookies are Secure (for HTTPS production)
//   - logger: zap logger for session error logging
//
// Returns an error if sessionKey is empty or too weak for production mode.
func NewSessionManager(sessionKey, name, domain string, maxAge time.Duration, secure bool, logger *zap.Logger) (*SessionManager, error) {
	if sessionKey == "" {
		return nil, &SessionConfigError{Message: "session key is empty; provide ≥32 random chars"}
	}

	isWeak := len(sessionKey) < 32 || isDefaultKey(sessionKey)
	if secure && isWeak {
		return nil, &SessionConfigError{
			Message: "session key is too weak for production; provide ≥32 random chars (not the default dev key)",
		}
	}
	if isWeak {
		logger.Warn("session key is weak; 32+ random chars required in production",
			zap.Int("length", len(sessionKey)),
			zap.Bool("is_default", isDefaultKey(sessionKey)))
	}

	if name == "" {
		name = "axiom-session"
	}

	store := sessions.NewCookieStore([]byte(sessionKey))
	store.Options = &sessions.Options{
		Domain:   domain,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(int(maxAge.Seconds()))

	logger.Info("session manager initialized",
		zap.Bool("secure", secure),
		zap.String("name", name),
		zap.String("domain", domain),
		zap.Duration("max_age", maxAge))

	return &SessionManager{
		store:  store,
		logger: logger,
		name:   name,
	}, nil
}

// SessionConfigError is returned when session configuration is invalid.
type SessionConfigError struct {
	Message string
}

func (e *SessionConfigError) Error() string {
	return e.Message
}

// SessionName returns the configured session cookie name.
func (sm *SessionManager) SessionName() string {
	return sm.name
}

// Store returns the underlying cookie store. gorilla/csrf and tests use it.
func (sm *SessionManager) Store() *sessions.CookieStore {
	return sm.store
}

// SetUserFetcher installs the user lookup used by LoadSessionUser. Without one
// every request is anonymous.
func (sm *SessionManager) SetUserFetcher(uf UserFetcher) {
	sm.users = uf
}

// SetSessionChecker installs the tracked-session lookup. Without one the
// cookie alone decides whether a session is live.
func (sm *SessionManager) SetSessionChecker(sc SessionChecker) {
	sm.sessions = sc
}

// UserFetcher resolves a user id to the user acting on the request.
type UserFetcher interface {
	// FetchUser returns (nil, nil) if the user is missing or inactive, and a
	// non-nil error only when the user could not be read.
	FetchUser(ctx context.Context, userID string) (*SessionUser, error)
}

// SessionChecker reports whether a session token still belongs to an open
// tracked session, refreshing its activity timestamp as a side effect.
type SessionChecker interface {
	Touch(ctx context.Context, token string) (bool, error)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Current user                                                                |
*─────────────────────────────────────────────────────────────────────────────*/

// SessionUser is the resolved identity carried in the request context.
type SessionUser struct {
	ID              string
	Username        string
	Name            string
	Role            string
	ThemePreference string    // light, dark, system
	Token           string    // session token of the current login
	PasswordChanged time.Time // security.last_password_change
}

// UserID returns the user's ID as an ObjectID, or the zero ObjectID if invalid.
func (u *SessionUser) UserID() primitive.ObjectID {
	oid, err := primitive.ObjectIDFromHex(u.ID)
	if err != nil {
		return primitive.NilObjectID
	}
	return oid
}

// SessionToken returns the session token for this user's current session.
func (u *SessionUser) SessionToken() string {
	return u.Token
}

// IsAdmin reports whether the user holds the admin role.
func (u *SessionUser) IsAdmin() bool {
	return normalize.Role(u.Role) == "admin"
}

type ctxKey string

const currentUserKey ctxKey = "currentUser"

// CurrentUser returns the user & "found?" flag from the request context.
func CurrentUser(r *http.Request) (*SessionUser, bool) {
	u, ok := r.Context().Value(currentUserKey).(*SessionUser)
	return u, ok && u != nil
}

// CurrentUserID returns the id bound to the request, if any.
func CurrentUserID(r *http.Request) (string, bool) {
	u, ok := CurrentUser(r)
	if !ok {
		return "", false
	}
	return u.ID, true
}

/*─────────────────────────────────────────────────────────────────────────────*
| Middleware                                                                  |
*─────────────────────────────────────────────────────────────────────────────*/

// LoadSessionUser resolves the session cookie to a user and stores it in the
// request context. A cookie whose tracked session was closed, or whose user no
// longer exists or is inactive, is scrubbed and the request continues anonymously.
// When the lookup itself fails the request is anonymous but the cookie is left
// alone, so the login survives a storage outage.
func (sm *SessionManager) LoadSessionUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sm.store.Get(r, sm.name)
		if err != nil {
			sm.logSessionError(r, err)
		}

		if isAuth, _ := sess.Values[isAuthKey].(bool); isAuth {
			u, stale := sm.resolve(r, sess)
			switch {
			case u != nil:
				r = withUser(r, u)
			case stale:
				scrub(sess)
				if err := sess.Save(r, w); err != nil {
					sm.logger.Warn("failed to clear stale session cookie", zap.Error(err))
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// resolve maps a signed-in cookie to its user. stale is true when the session
// is definitely over and the cookie should be scrubbed; a nil user with stale
// false means the stores could not answer.
func (sm *SessionManager) resolve(r *http.Request, sess *sessions.Session) (u *SessionUser, stale bool) {
	userID := getString(sess, userIDKey)
	token := getString(sess, sessionTokenKey)
	if userID == "" {
		return nil, true
	}
	if sm.users == nil {
		return nil, false
	}

	if sm.sessions != nil {
		active, err := sm.sessions.Touch(r.Context(), token)
		if err != nil {
			sm.logger.Warn("tracked session lookup failed; request is anonymous",
				zap.String("user_id", userID),
				zap.Error(err))
			return nil, false
		}
		if !active {
			sm.logger.Debug("session invalidated: tracked session closed",
				zap.String("user_id", userID),
				zap.String("path", r.URL.Path))
			return nil, true
		}
	}

	u, err := sm.users.FetchUser(r.Context(), userID)
	if err != nil {
		sm.logger.Warn("session user lookup failed; request is anonymous",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, false
	}
	if u == nil {
		sm.logger.Info("session invalidated: user not found or disabled",
			zap.String("user_id", userID),
			zap.String("path", r.URL.Path))
		return nil, true
	}
	u.Token = token
	return u, false
}

func (sm *SessionManager) logSessionError(r *http.Request, err error) {
	errType, errCategory := classifySessionError(err)
	switch errType {
	case sessionErrExpired:
		sm.logger.Debug("session expired, starting fresh session",
			zap.String("category", errCategory),
			zap.String("path", r.URL.Path))
	case sessionErrTampered:
		sm.logger.Warn("session MAC validation failed (possible tampering)",
			zap.String("category", errCategory),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()))
	case sessionErrCorrupted:
		sm.logger.Info("session decode failed, starting fresh session",
			zap.String("category", errCategory),
			zap.String("path", r.URL.Path))
	default:
		sm.logger.Error("session store error, starting fresh session",
			zap.Error(err),
			zap.String("category", errCategory),
			zap.String("path", r.URL.Path))
	}
}

// RequireSignedIn short-circuits anonymous requests: browsers go to the login
// page with a return URL, htmx gets HX-Redirect, API callers get 401.
func (sm *SessionManager) RequireSignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CurrentUser(r); ok {
			next.ServeHTTP(w, r)
			return
		}
		unauthorized(w, r)
	})
}

// RequireRole allows only signed-in users holding one of the allowed roles.
// Anonymous callers are treated as in RequireSignedIn; the wrong role gets 403
// semantics (/forbidden for browsers).
func (sm *SessionManager) RequireRole(allowed ...string) func(http.Handler) http.Handler {
	set := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		set[normalize.Role(role)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := CurrentUser(r)
			if !ok {
				unauthorized(w, r)
				return
			}
			if _, has := set[normalize.Role(u.Role)]; !has {
				switch {
				case r.Header.Get("HX-Request") == "true":
					w.Header().Set("HX-Redirect", "/forbidden")
					w.WriteHeader(http.StatusForbidden)
				case wantsHTML(r):
					http.Redirect(w, r, "/forbidden", http.StatusSeeOther)
				default:
					http.Error(w, "forbidden", http.StatusForbidden)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	target := LoginPath + "?return=" + url.QueryEscape(currentURI(r))
	switch {
	case r.Header.Get("HX-Request") == "true":
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusUnauthorized)
	case wantsHTML(r):
		http.Redirect(w, r, target, http.StatusSeeOther)
	default:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Establish / Clear                                                           |
*─────────────────────────────────────────────────────────────────────────────*/

// Establish binds the response's session cookie to userID. Every value from
// any earlier session is dropped first and a fresh session token is issued, so
// a cookie planted before login never carries over. It returns the new token.
func (sm *SessionManager) Establish(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) (string, error) {
	sess := sm.freshSession(r)

	token, err := GenerateSessionToken()
	if err != nil {
		return "", err
	}

	sess.Values[isAuthKey] = true
	sess.Values[userIDKey] = userID.Hex()
	sess.Values[sessionTokenKey] = token

	if err := sess.Save(r, w); err != nil {
		return "", err
	}
	return token, nil
}

// Clear removes the binding and expires the cookie. It is safe to call with no
// session or an unreadable cookie, any number of times.
func (sm *SessionManager) Clear(w http.ResponseWriter, r *http.Request) {
	sess := sm.freshSession(r)
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		sm.logger.Warn("failed to expire session cookie", zap.Error(err))
	}
}

// SessionToken returns the token in the request's cookie, or "" if none.
func (sm *SessionManager) SessionToken(r *http.Request) string {
	sess, err := sm.store.Get(r, sm.name)
	if err != nil {
		return ""
	}
	return getString(sess, sessionTokenKey)
}

// freshSession returns the request's session with every value removed and the
// store's cookie options restored. A cookie that fails to decode still yields a
// usable empty session.
func (sm *SessionManager) freshSession(r *http.Request) *sessions.Session {
	sess, err := sm.store.Get(r, sm.name)
	if err != nil || sess == nil {
		sess = sessions.NewSession(sm.store, sm.name)
		sess.IsNew = true
	}
	scrub(sess)
	opts := *sm.store.Options
	sess.Options = &opts
	return sess
}

// GenerateSessionToken generates a random URL-safe token for session tracking.
func GenerateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Helpers                                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

func withUser(r *http.Request, u *SessionUser) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), currentUserKey, u))
}

// WithTestUser injects a SessionUser into the request context for testing.
func WithTestUser(r *http.Request, u *SessionUser) *http.Request {
	return withUser(r, u)
}

func scrub(sess *sessions.Session) {
	for k := range sess.Values {
		delete(sess.Values, k)
	}
}

// getString safely extracts a string from a session value.
func getString(s *sessions.Session, key string) string {
	if v, ok := s.Values[key].(string); ok {
		return v
	}
	return ""
}

func wantsHTML(r *http.Request) bool {
	if r.Header.Get("HX-Request") == "true" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func currentURI(r *http.Request) string {
	u := *r.URL
	return u.RequestURI()
}

// isDefaultKey checks if the session key appears to be a default/placeholder value.
func isDefaultKey(key string) bool {
	lower := strings.ToLower(key)
	for _, p := range []string{
		"dev-only", "change-me", "changeme", "placeholder", "default",
		"example", "insecure", "test-key", "secret123", "password",
	} {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// classifySessionError categorizes a session/cookie error for appropriate logging.
func classifySessionError(err error) (sessionErrorType, string) {
	if err == nil {
		return sessionErrUnknown, "none"
	}

	scErr, ok := err.(securecookie.Error)
	if !ok || !scErr.IsDecode() {
		return sessionErrBackend, "backend"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "expired timestamp"):
		return sessionErrExpired, "expired"
	case strings.Contains(errStr, "mac") || strings.Contains(errStr, "hash"):
		return sessionErrTampered, "mac_invalid"
	case strings.Contains(errStr, "decrypt"):
		return sessionErrCorrupted, "decrypt_failed"
	case strings.Contains(errStr, "base64") || strings.Contains(errStr, "decode"):
		return sessionErrCorrupted, "decode_failed"
	default:
		return sessionErrCorrupted, "decode_other"
	}
}
