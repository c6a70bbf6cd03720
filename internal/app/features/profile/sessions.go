// internal/app/features/profile/sessions.go
package profile

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dalemusser/axiom/internal/app/store/sessions"
	"github.com/dalemusser/axiom/internal/app/system/auth"
	"github.com/dalemusser/axiom/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// sessionRow represents a session in the list.
type sessionRow struct {
	ID              string
	IPAddress       string
	Device          string
	LoginAt         time.Time
	LastActivity    time.Time
	LastActivityAgo string
	IsCurrent       bool
}

func sessionRows(open []sessions.Session, currentToken string) []sessionRow {
	now := time.Now()
	rows := make([]sessionRow, 0, len(open))
	for _, s := range open {
		rows = append(rows, sessionRow{
			ID:              s.ID.Hex(),
			IPAddress:       s.IPAddress,
			Device:          parseDevice(s.UserAgent),
			LoginAt:         s.LoginAt,
			LastActivity:    s.LastActivity,
			LastActivityAgo: formatTimeAgo(s.LastActivity, now),
			IsCurrent:       currentToken != "" && s.Token == currentToken,
		})
	}
	return rows
}

// revokeSession closes one of the user's other sessions.
func (h *Handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r)
	if !ok {
		http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
		return
	}

	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		http.Redirect(w, r, "/profile?error=not_found", http.StatusSeeOther)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "revoke session")
	defer cancel()

	session, err := h.sessionsStore.GetByID(ctx, id)
	if errors.Is(err, sessions.ErrNotFound) || (err == nil && session.UserID != user.UserID()) {
		// Someone else's session looks the same as a missing one.
		http.Redirect(w, r, "/profile?error=not_found", http.StatusSeeOther)
		return
	}
	if err != nil {
		h.errLog.Log(r, "failed to load session", err)
		http.Redirect(w, r, "/profile?error=failed", http.StatusSeeOther)
		return
	}

	if session.Token == user.SessionToken() {
		http.Redirect(w, r, "/profile?error=use_logout", http.StatusSeeOther)
		return
	}

	err = h.sessionsStore.CloseByID(ctx, user.UserID(), id, sessions.EndReasonRevoked)
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		http.Redirect(w, r, "/profile?error=not_found", http.StatusSeeOther)
		return
	case err != nil:
		h.errLog.Log(r, "failed to revoke session", err)
		http.Redirect(w, r, "/profile?error=failed", http.StatusSeeOther)
		return
	}

	h.auditLogger.SessionRevoked(r, user.UserID(), id)
	http.Redirect(w, r, "/profile?success=revoked", http.StatusSeeOther)
}

// revokeAllSessions closes every session except the current one.
func (h *Handler) revokeAllSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r)
	if !ok {
		http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "revoke all sessions")
	defer cancel()

	closed, err := h.sessionsStore.CloseByUserExcept(ctx, user.UserID(), user.SessionToken(), sessions.EndReasonRevoked)
	if err != nil {
		h.errLog.Log(r, "failed to revoke all sessions", err)
		http.Redirect(w, r, "/profile?error=failed", http.StatusSeeOther)
		return
	}

	h.auditLogger.SessionsRevokedAll(r, user.UserID(), closed)
	http.Redirect(w, r, "/profile?success=revoked_all", http.StatusSeeOther)
}

func formatTimeAgo(t time.Time, now time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return formatPlural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return formatPlural(int(diff.Hours()), "hour") + " ago"
	default:
		return formatPlural(int(diff.Hours()/24), "day") + " ago"
	}
}

func formatPlural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}

// parseDevice extracts a simple device description from the user agent string.
func parseDevice(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}

	ua := strings.ToLower(userAgent)

	switch {
	case strings.Contains(ua, "iphone"):
		return "iPhone"
	case strings.Contains(ua, "ipad"):
		return "iPad"
	case strings.Contains(ua, "android"):
		if strings.Contains(ua, "mobile") {
			return "Android Phone"
		}
		return "Android Tablet"
	}

	var os string
	switch {
	case strings.Contains(ua, "windows"):
		os = "Windows"
	case strings.Contains(ua, "macintosh"), strings.Contains(ua, "mac os"):
		os = "Mac"
	case strings.Contains(ua, "linux"):
		os = "Linux"
	default:
		return "Unknown Device"
	}

	switch {
	case strings.Contains(ua, "edg"):
		return os + " (Edge)"
	case strings.Contains(ua, "firefox"):
		return os + " (Firefox)"
	case strings.Contains(ua, "chrome"):
		return os + " (Chrome)"
	case strings.Contains(ua, "safari"):
		return os + " (Safari)"
	}
	return os
}
