// internal/app/features/home/home.go
package home

import (
	"net/http"

	"github.com/dalemusser/axiom/internal/app/system/viewdata"
	"github.com/dalemusser/waffle/pantry/templates"
	"github.com/go-chi/chi/v5"
)

// Handler provides home page handlers.
type Handler struct{}

// NewHandler creates a new home Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// HomeVM is the view model for the home page.
type HomeVM struct {
	viewdata.BaseVM
}

// Routes returns a chi.Router with home routes mounted.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.Index)
	return r
}

// Index renders the landing page. Signed-in visitors see a link to their
// dashboard instead of the login and register calls to action.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	vm := HomeVM{BaseVM: viewdata.NewBaseVM(r, "Home", "/")}
	templates.Render(w, r, "home/index", vm)
}
