// Package apicors provides CORS middleware for the bearer-token API used by
// the browser front-end.
//
// The API never reads cookies, so credentials stay disabled and an empty
// origin list allows any origin.
package apicors

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// Middleware returns CORS middleware for /api routes. allowedOrigins entries
// may use one "*" wildcard (https://*.example.com); blank entries are ignored.
func Middleware(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := clean(allowedOrigins)
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}

// ParseOrigins splits a comma-separated config value.
func ParseOrigins(s string) []string {
	return clean(strings.Split(s, ","))
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, strings.TrimSuffix(o, "/"))
		}
	}
	return out
}
