// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dalemusser/axiom/internal/app/store/audit"
	"github.com/dalemusser/axiom/internal/app/system/accounts"
	"github.com/dalemusser/axiom/internal/app/system/network"
	"github.com/go-chi/chi/v5/middleware"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Destinations for a category of events.
const (
	DestAll = "all" // MongoDB + zap
	DestDB  = "db"  // MongoDB only
	DestLog = "log" // zap only
	DestOff = "off" // disabled
)

// Config selects a destination per event category.
type Config struct {
	Auth    string
	Account string
	Admin   string
}

// EventStore persists audit events.
type EventStore interface {
	Log(ctx context.Context, event audit.Event) error
}

// Logger records audit events to MongoDB and to zap according to Config.
// A nil *Logger is valid and records nothing.
type Logger struct {
	store  EventStore
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store EventStore, zapLog *zap.Logger, config Config) *Logger {
	if zapLog == nil {
		zapLog = zap.NewNop()
	}
	return &Logger{
		store:  store,
		zapLog: zapLog,
		config: config,
	}
}

// destination returns the configured destination for category. Unknown
// categories and empty settings log everywhere.
func (l *Logger) destination(category string) string {
	var setting string
	switch category {
	case audit.CategoryAuth:
		setting = l.config.Auth
	case audit.CategoryAccount:
		setting = l.config.Account
	case audit.CategoryAdmin:
		setting = l.config.Admin
	}
	switch setting {
	case DestDB, DestLog, DestOff:
		return setting
	default:
		return DestAll
	}
}

// Log records event according to configuration. Storage failures are logged
// and swallowed; auditing never fails the request that triggered it.
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	dest := l.destination(event.Category)
	if dest == DestOff {
		return
	}
	if dest == DestAll || dest == DestLog {
		l.logToZap(event)
	}
	if (dest == DestAll || dest == DestDB) && l.store != nil {
		if err := l.store.Log(ctx, event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
		zap.String("ip", event.IP),
	}
	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", event.UserID.Hex()))
	}
	if event.ActorID != nil {
		fields = append(fields, zap.String("actor_id", event.ActorID.Hex()))
	}
	if event.Username != "" {
		fields = append(fields, zap.String("username", event.Username))
	}
	if event.RequestID != "" {
		fields = append(fields, zap.String("request_id", event.RequestID))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// fromRequest fills the request-derived fields of an event.
func fromRequest(r *http.Request, e audit.Event) audit.Event {
	e.IP = network.ClientIP(r)
	e.UserAgent = r.UserAgent()
	e.RequestID = middleware.GetReqID(r.Context())
	return e
}

func oid(hex string) *primitive.ObjectID {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return nil
	}
	return &id
}

// --- Authentication Events ---

// Registered logs a successful registration.
func (l *Logger) Registered(r *http.Request, userID primitive.ObjectID, username string) {
	l.Log(r.Context(), fromRequest(r, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventRegistered,
		UserID:    &userID,
		Username:  username,
		Success:   true,
	}))
}

// RegisterFailed logs a rejected registration with the error code that stopped it.
func (l *Logger) RegisterFailed(r *http.Request, username string, err error) {
	l.Log(r.Context(), fromRequest(r, audit.Event{
		Category:      audit.CategoryAuth,
		EventType:     audit.EventRegisterFailed,
		Username:      username,
		FailureReason: accounts.Code(err),
	}))
}

// LoginSucceeded logs a successful login. via names the entry point ("form" or "api").
func (l *Logger) LoginSucceeded(r *http.Request, userID primitive.ObjectID, username, via string) {
	l.Log(r.Context(), fromRequest(r, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventLoginSuccess,
		UserID:    &userID,
		Username:  username,
		Success:   true,
		Details:   map[string]string{"via": via},
	}))
}

// LoginFailed logs a failed login, classifying err from the accounts service.
// Unknown-user failures carry only the typed username.
func (l *Logger) LoginFailed(r *http.Request, username, via string, err error) {
	e := audit.Event{
		Category:      audit.CategoryAuth,
		Username:      username,
		UserID:        oid(accounts.UserID(err)),
		FailureReason: accounts.Reason(err),
		Details:       map[string]string{"via": via},
	}
	switch accounts.Code(err) {
	case accounts.CodeInvalidCredentials:
		if accounts.Reason(err) == accounts.ReasonWrongPassword || accounts.Reason(err) == accounts.ReasonUnusableHash {
			e.EventType = audit.EventLoginFailedWrongPassword
		} else {
			e.EventType = audit.EventLoginFailedUserNotFound
		}
	case accounts.CodeAccountDisabled:
		e.EventType = audit.EventLoginFailedUserDisabled
		e.FailureReason = "account disabled"
	case accounts.CodeAccountLocked:
		e.EventType = audit.EventLoginLockedOut
		e.FailureReason = "account locked"
	default:
		e.EventType = audit.EventLoginFailedWrongPassword
		e.FailureReason = accounts.Code(err)
	}
	l.Log(r.Context(), fromRequest(r, e))
}

// LoginRateLimited logs a login refused by the per-client limiter.
func (l *Logger) LoginRateLimited(r *http.Request) {
	l.Log(r.Context(), fromRequest(r, audit.Event{
		Category:      audit.CategoryAuth,
		EventType:     audit.EventLoginRateLimited,
		FailureReason: "rate limited",
		Details:       map[string]string{"path": r.URL.Path},
	}))
}

// Logout logs a logout. userID may be empty for an anonymous logout.
func (l *Logger) Logout(r *http.Request, userID string) {
	l.Log(r.Context(), fromRequest(r, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventLogout,
		UserID:    oid(userID),
		Success:   true,
	}))
}

// PasswordChanged logs a password change and how many other sessions it closed.
func (l *Logger) PasswordChanged(r *http.Request, userID primitive.ObjectID, closedSessions int64) {
	l.Log(r.Context(), fromRequest(r, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventPasswordChanged,
		UserID:    &userID,
		Success:   true,
		Details:   map[string]string{"closed_sessions": strconv.FormatInt(closedSessions, 10)},
	}))
}

// TokenIssued logs a bearer token issued by the API.
func (l *Logger) TokenIssued(r *http.Request, userID primitive.ObjectID) {
	l.Log(r.Context(), fromRequest(r, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventTokenIssued,
		UserID:    &userID,
		Success:   true,
	}))
}

// --- Account Events ---

// ProfileUpdated logs a profile change.
func (l *Logger) ProfileUpdated(r *http.Request, userID primitive.ObjectID) {
	l.account(r, userID, audit.EventProfileUpdated, nil)
}

// PreferencesUpdated logs a preferences change.
func (l *Logger) PreferencesUpdated(r *http.Request, userID primitive.ObjectID) {
	l.account(r, userID, audit.EventPreferencesUpdated, nil)
}

// SessionRevoked logs the revocation of one tracked session.
func (l *Logger) SessionRevoked(r *http.Request, userID, sessionID primitive.ObjectID) {
	l.account(r, userID, audit.EventSessionRevoked, map[string]string{"session_id": sessionID.Hex()})
}

// SessionsRevokedAll logs the revocation of every other session.
func (l *Logger) SessionsRevokedAll(r *http.Request, userID primitive.ObjectID, closed int64) {
	l.account(r, userID, audit.EventSessionsRevokedAll, map[string]string{"closed_sessions": strconv.FormatInt(closed, 10)})
}

// AccountDeactivated logs a self-service deactivation.
func (l *Logger) AccountDeactivated(r *http.Request, userID primitive.ObjectID) {
	l.account(r, userID, audit.EventAccountDeactivated, nil)
}

func (l *Logger) account(r *http.Request, userID primitive.ObjectID, eventType string, details map[string]string) {
	l.Log(r.Context(), fromRequest(r, audit.Event{
		Category:  audit.CategoryAccount,
		EventType: eventType,
		UserID:    &userID,
		Success:   true,
		Details:   details,
	}))
}

// --- Admin Events ---

// AdminSeeded logs the creation of the configured admin account at startup.
func (l *Logger) AdminSeeded(ctx context.Context, userID primitive.ObjectID, username string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAdmin,
		EventType: audit.EventAdminSeeded,
		UserID:    &userID,
		Username:  username,
		IP:        "local",
		Success:   true,
	})
}
