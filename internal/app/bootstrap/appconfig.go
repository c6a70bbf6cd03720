// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// Values come from flags, AXIOM_* environment variables, config files, and
// defaults (loaded in LoadConfig). Framework settings such as ports, TLS,
// logging and CORS for the server pages live in WAFFLE's CoreConfig.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64 // Maximum connections in pool (default: 100)
	MongoMinPoolSize uint64 // Minimum connections to keep warm (default: 10)

	// Session cookie configuration
	SessionKey         string        // Secret key for signing session cookies (must be strong in production)
	SessionName        string        // Cookie name for sessions (default: axiom-session)
	SessionDomain      string        // Cookie domain (blank means current host)
	SessionMaxAge      time.Duration // Cookie and tracked-session lifetime (default: 24h)
	SessionIdleTimeout time.Duration // Tracked sessions idle longer than this are closed (0 disables)

	// CSRF protection configuration
	CSRFKey string // Secret key for CSRF token signing (32 bytes, must be strong in production)

	// Credentials and lockout
	BcryptCost       int           // bcrypt work factor
	LockoutThreshold int           // consecutive failures that lock an account (0 disables)
	LockoutWindow    time.Duration // how long a lockout lasts after the last failure

	// Per-client rate limiting of the auth endpoints
	RateLimitEnabled   bool
	RateLimitPerMinute int
	RateLimitBurst     int

	// Token API
	JWTSecret         string        // HS256 signing secret for bearer tokens
	JWTTTL            time.Duration // bearer token lifetime
	APIAllowedOrigins string        // comma-separated CORS origins for /api

	// Audit logging destinations: "all" (MongoDB + zap), "db", "log", or "off"
	AuditLogAuth    string
	AuditLogAccount string
	AuditLogAdmin   string

	// Admin seeding configuration
	SeedAdminUsername string // admin account created on startup when set
	SeedAdminPassword string
}
