package inputval

import "testing"

func TestIsValidEmail(t *testing.T) {
	for email, want := range map[string]bool{
		"alice@example.com":         true,
		"a.b+tag@sub.example.org":   true,
		"":                          false,
		"   ":                       false,
		"not-an-email":              false,
		"@example.com":              false,
		"alice@":                    false,
		"Alice <alice@example.com>": false,
		" alice@example.com ":       false,
	} {
		if got := IsValidEmail(email); got != want {
			t.Errorf("IsValidEmail(%q) = %v, want %v", email, got, want)
		}
	}
}

type registerInput struct {
	Username string `validate:"required,max=8" label:"Username"`
	Password string `validate:"required" label:"Password"`
}

func TestValidate_Messages(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"valid", registerInput{Username: "alice", Password: "pw"}, ""},
		{"pointer", &registerInput{Username: "alice", Password: "pw"}, ""},
		{"missing username", registerInput{Password: "pw"}, "Username is required."},
		{"missing password", registerInput{Username: "alice"}, "Password is required."},
		{"too long", registerInput{Username: "abcdefghij", Password: "pw"}, "Username must be at most 8 characters."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.in)
			if got := res.First(); got != tt.want {
				t.Errorf("First() = %q, want %q", got, tt.want)
			}
			if res.HasErrors() != (tt.want != "") {
				t.Errorf("HasErrors() = %v", res.HasErrors())
			}
		})
	}
}

func TestValidate_UnlabelledFieldUsesName(t *testing.T) {
	type in struct {
		Code string `validate:"required"`
	}
	res := Validate(in{})
	if len(res.Errors) != 1 || res.Errors[0].Label != "Code" {
		t.Fatalf("Errors = %+v", res.Errors)
	}
}

func TestValidate_AccountVocabularies(t *testing.T) {
	type prefs struct {
		Theme    string `validate:"required,theme" label:"Theme"`
		Language string `validate:"required,language" label:"Language"`
	}
	type profile struct {
		EducationLevel string `validate:"edulevel" label:"Education level"`
	}

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"prefs ok", prefs{Theme: "dark", Language: "fr"}, ""},
		{"bad theme", prefs{Theme: "neon", Language: "en"}, "Theme must be one of: light, dark, system."},
		{"bad language", prefs{Theme: "light", Language: "xx"}, "Language must be one of: en, es, fr, de."},
		{"blank education", profile{}, ""},
		{"graduate", profile{EducationLevel: "graduate"}, ""},
		{"unknown education", profile{EducationLevel: "kindergarten"},
			"Education level must be one of: middle_school, high_school, undergraduate, graduate, other."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Validate(tt.in).First(); got != tt.want {
				t.Errorf("First() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidate_NonStruct(t *testing.T) {
	if res := Validate("just a string"); res == nil {
		t.Error("Validate(string) = nil")
	}
}
