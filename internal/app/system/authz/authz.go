// internal/app/system/authz/authz.go
package authz

import (
	"net/http"

	"github.com/dalemusser/axiom/internal/app/system/auth"
	"github.com/dalemusser/axiom/internal/app/system/normalize"
	"github.com/dalemusser/axiom/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Roles
const (
	RoleVisitor = "visitor"
	RoleStudent = models.RoleStudent
	RoleAdmin   = models.RoleAdmin
)

// Viewer is the identity a page is rendered for.
type Viewer struct {
	ID       primitive.ObjectID
	Username string
	Name     string
	Role     string // normalized
	Theme    string // light, dark, system
}

// FromRequest returns the signed-in viewer. A missing user or a malformed id
// yields a visitor and false; ok=true always comes with a valid ObjectID.
func FromRequest(r *http.Request) (Viewer, bool) {
	u, ok := auth.CurrentUser(r)
	if !ok {
		return Viewer{Role: RoleVisitor, Theme: "system"}, false
	}
	id, err := primitive.ObjectIDFromHex(u.ID)
	if err != nil {
		return Viewer{Role: RoleVisitor, Theme: "system"}, false
	}
	theme := u.ThemePreference
	if theme == "" {
		theme = "system"
	}
	role := normalize.Role(u.Role)
	if role == "" {
		role = RoleStudent
	}
	return Viewer{
		ID:       id,
		Username: u.Username,
		Name:     u.Name,
		Role:     role,
		Theme:    theme,
	}, true
}

// IsSignedIn reports whether a user is bound to the request.
func IsSignedIn(r *http.Request) bool {
	_, ok := FromRequest(r)
	return ok
}

// IsAdmin reports whether the request's user is an admin.
func IsAdmin(r *http.Request) bool {
	return HasRole(r, RoleAdmin)
}

// HasRole reports whether the signed-in user holds one of roles.
func HasRole(r *http.Request, roles ...string) bool {
	v, ok := FromRequest(r)
	if !ok {
		return false
	}
	for _, role := range roles {
		if normalize.Role(role) == v.Role {
			return true
		}
	}
	return false
}
