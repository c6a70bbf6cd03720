// Package formutil holds the fields shared by pages that post forms back to
// themselves: the base view data, an error line and a success notice.
//
// A failed submission re-renders the form with the typed values echoed back
// and Error set:
//
//	data := registerVM{
//		Base:     formutil.NewBase(r, "Register", "/"),
//		Username: in.Username,
//	}
//	data.SetErr(err)
//	templates.Render(w, r, "register/form", data)
package formutil

import (
	"net/http"

	"github.com/dalemusser/axiom/internal/app/system/accounts"
	"github.com/dalemusser/axiom/internal/app/system/viewdata"
)

// Base is embedded in form view models. Error and Notice are plain text and
// are escaped by the template, so they may quote user input.
type Base struct {
	viewdata.BaseVM
	Error  string
	Notice string
}

// NewBase builds a Base for a form page.
func NewBase(r *http.Request, title, backDefault string) Base {
	return Base{BaseVM: viewdata.NewBaseVM(r, title, backDefault)}
}

// SetError sets the error line.
func (b *Base) SetError(msg string) {
	b.Error = msg
}

// SetErr sets the error line to the caller-safe message for err.
func (b *Base) SetErr(err error) {
	b.Error = accounts.PublicMessage(err)
}

// HasError reports whether the form failed.
func (b *Base) HasError() bool {
	return b.Error != ""
}

// NoticeFor maps a ?success= value set by a post/redirect/get handler to
// the message shown above the form. Unknown keys show nothing.
func NoticeFor(key string, notices map[string]string) string {
	if key == "" {
		return ""
	}
	return notices[key]
}
