// internal/app/system/viewdata/viewdata.go
package viewdata

import (
	"net/http"

	"github.com/dalemusser/axiom/internal/app/system/authz"
	"github.com/dalemusser/waffle/pantry/httpnav"
	"github.com/gorilla/csrf"
)

// SiteName is shown in the page title and header.
const SiteName = "Axiom"

// BaseVM contains the fields every page layout reads.
// Embed it in feature view models:
//
//	type dashboardVM struct {
//	    viewdata.BaseVM
//	    Stats models.StudyStats
//	}
type BaseVM struct {
	SiteName string

	// Viewer
	IsLoggedIn      bool
	IsAdmin         bool
	UserID          string
	Username        string
	UserName        string // display name
	ThemePreference string // light, dark, system

	// Page
	Title       string
	BackURL     string
	CurrentPath string

	// CSRFToken goes in the hidden csrf_token field of every form.
	CSRFToken string
}

// New builds a BaseVM for r.
func New(r *http.Request) BaseVM {
	v, ok := authz.FromRequest(r)
	vm := BaseVM{
		SiteName:        SiteName,
		IsLoggedIn:      ok,
		IsAdmin:         ok && v.Role == authz.RoleAdmin,
		Username:        v.Username,
		UserName:        v.Name,
		ThemePreference: v.Theme,
		CurrentPath:     httpnav.CurrentPath(r),
		CSRFToken:       csrf.Token(r),
	}
	if ok {
		vm.UserID = v.ID.Hex()
	}
	return vm
}

// NewBaseVM builds a BaseVM with a title and a back link that falls back to
// backDefault when the request carries none.
func NewBaseVM(r *http.Request, title, backDefault string) BaseVM {
	vm := New(r)
	vm.Title = title
	vm.BackURL = httpnav.ResolveBackURL(r, backDefault)
	return vm
}
