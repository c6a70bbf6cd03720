package testutil

import (
	"context"
	"net/http"
)

// TestCSRFToken is the token WithCSRFToken places in the request.
const TestCSRFToken = "test-csrf-token-12345"

// gorilla/csrf stores the masked token under this plain string key, so
// csrf.Token(r) returns whatever is set here.
const csrfTokenKey = "gorilla.csrf.Token"

// WithCSRFToken makes csrf.Token(r) return TestCSRFToken, so handlers that
// render forms can be tested without the CSRF middleware in front of them.
func WithCSRFToken(r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), csrfTokenKey, TestCSRFToken))
}

// NewAuthenticatedRequestWithCSRF is NewAuthenticatedRequest plus
// WithCSRFToken.
func NewAuthenticatedRequestWithCSRF(method, target string, user TestUser) *http.Request {
	return WithCSRFToken(NewAuthenticatedRequest(method, target, user))
}
