// Package inputval checks account form input against struct tags.
//
// Rules come from waffle's pantry/validate plus the account vocabularies
// (theme, language, education level). Each failure is turned into the
// sentence shown above the form, using the field's `label` tag:
//
//	type passwordInput struct {
//		Current string `validate:"required" label:"Current password"`
//	}
//	if res := inputval.Validate(in); res.HasErrors() {
//		return validation(res.First()) // "Current password is required."
//	}
package inputval

import (
	"net/mail"
	"reflect"
	"strings"
	"sync"

	"github.com/dalemusser/axiom/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/validate"
)

// Result lists validation failures in field order.
type Result struct {
	Errors []FieldError
}

// FieldError is one failed rule.
type FieldError struct {
	Field   string
	Label   string
	Message string
}

// HasErrors reports whether any rule failed.
func (r *Result) HasErrors() bool { return len(r.Errors) > 0 }

// First returns the first failure's message, or "".
func (r *Result) First() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

var (
	v     *validate.Validator
	vOnce sync.Once
)

func validator() *validate.Validator {
	vOnce.Do(func() {
		v = validate.New(validate.WithStopOnFirstError())
		v.RegisterRuleFunc("theme", oneOf(models.Themes, false), "theme")
		v.RegisterRuleFunc("language", oneOf(models.Languages, false), "language")
		v.RegisterRuleFunc("edulevel", oneOf(models.EducationLevels, true), "edulevel")
	})
	return v
}

// oneOf accepts a string from allowed; blank passes when optional.
func oneOf(allowed []string, optional bool) func(any) bool {
	return func(value any) bool {
		s, ok := value.(string)
		if !ok {
			return false
		}
		return (optional && s == "") || models.Contains(allowed, s)
	}
}

// Validate runs the `validate` tags of s (a struct or pointer to one).
//
// Rules: required, email, min=N, max=N from pantry/validate; theme, language
// and edulevel (blank allowed) from the account models.
func Validate(s any) *Result {
	res := &Result{}
	err := validator().Struct(s)
	if err == nil {
		return res
	}
	errs, ok := err.(validate.Errors)
	if !ok {
		return res
	}

	labels := labelsOf(s)
	for _, e := range errs {
		label := labels[e.Field]
		if label == "" {
			label = e.Field
		}
		res.Errors = append(res.Errors, FieldError{
			Field:   e.Field,
			Label:   label,
			Message: message(label, e.Rule, e.Param),
		})
	}
	return res
}

// labelsOf maps field keys (json name when tagged, else Go name) to labels.
func labelsOf(s any) map[string]string {
	labels := map[string]string{}
	val := reflect.Indirect(reflect.ValueOf(s))
	if val.Kind() != reflect.Struct {
		return labels
	}
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		label := f.Tag.Get("label")
		if label == "" {
			continue
		}
		key := f.Name
		if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
			key = name
		}
		labels[key] = label
	}
	return labels
}

func message(label, rule, param string) string {
	switch rule {
	case "required":
		return label + " is required."
	case "email":
		return "Please enter a valid email address."
	case "min":
		return label + " must be at least " + param + " characters."
	case "max":
		return label + " must be at most " + param + " characters."
	case "theme":
		return label + " must be one of: " + strings.Join(models.Themes, ", ") + "."
	case "language":
		return label + " must be one of: " + strings.Join(models.Languages, ", ") + "."
	case "edulevel":
		return label + " must be one of: " + strings.Join(models.EducationLevels, ", ") + "."
	default:
		return label + " is invalid."
	}
}

// IsValidEmail reports whether email is a bare RFC 5322 address (no display
// name, no surrounding spaces).
func IsValidEmail(email string) bool {
	if email == "" || strings.TrimSpace(email) != email {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
