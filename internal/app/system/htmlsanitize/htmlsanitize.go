// Package htmlsanitize cleans user-supplied profile text with bluemonday.
//
// Bios accept a small set of inline formatting tags. Everything else a user
// types into an account form (names, subjects, audit details shown to admins)
// is reduced to plain text.
package htmlsanitize

import (
	"html/template"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	bioPolicy    *bluemonday.Policy
	strictPolicy *bluemonday.Policy
	policyOnce   sync.Once
)

func policies() (*bluemonday.Policy, *bluemonday.Policy) {
	policyOnce.Do(func() {
		bioPolicy = bluemonday.NewPolicy()
		bioPolicy.AllowElements("p", "br", "b", "strong", "i", "em", "u", "ul", "ol", "li")
		bioPolicy.AllowStandardURLs()
		bioPolicy.AllowAttrs("href").OnElements("a")
		bioPolicy.RequireNoFollowOnLinks(true)

		strictPolicy = bluemonday.StrictPolicy()
	})
	return bioPolicy, strictPolicy
}

// Bio sanitizes a profile bio, keeping paragraphs, line breaks, emphasis,
// lists, and http(s) links.
func Bio(html string) string {
	html = strings.TrimSpace(html)
	if html == "" {
		return ""
	}
	p, _ := policies()
	return strings.TrimSpace(p.Sanitize(html))
}

// StripTags removes every tag and returns the remaining text, HTML-escaped.
func StripTags(s string) string {
	if s == "" {
		return ""
	}
	_, p := policies()
	return p.Sanitize(s)
}

// IsPlainText reports whether content has no markup.
func IsPlainText(content string) bool {
	return !strings.Contains(content, "<") || !strings.Contains(content, ">")
}

// PlainTextToHTML escapes text and turns newlines into <br>, wrapped in <p>.
func PlainTextToHTML(text string) string {
	if text == "" {
		return ""
	}
	escaped := template.HTMLEscapeString(text)
	escaped = strings.ReplaceAll(escaped, "\n", "<br>")
	return "<p>" + escaped + "</p>"
}

// PrepareForDisplay returns a stored bio ready for a template. Legacy
// plain-text bios are converted; HTML bios are sanitized again on the way out.
func PrepareForDisplay(content string) template.HTML {
	if content == "" {
		return ""
	}
	if IsPlainText(content) {
		return template.HTML(PlainTextToHTML(content))
	}
	return template.HTML(Bio(content))
}
