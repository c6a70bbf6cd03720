package bootstrap

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func validConfig() AppConfig {
	return AppConfig{
		MongoURI:           "mongodb://localhost:27017",
		MongoDatabase:      "axiom",
		SessionKey:         devSessionKey,
		CSRFKey:            devCSRFKey,
		JWTSecret:          devJWTSecret,
		SessionMaxAge:      24 * time.Hour,
		SessionIdleTimeout: 2 * time.Hour,
		BcryptCost:         bcrypt.DefaultCost,
		LockoutThreshold:   5,
		LockoutWindow:      15 * time.Minute,
		RateLimitEnabled:   true,
		RateLimitPerMinute: 10,
		RateLimitBurst:     5,
		JWTTTL:             time.Hour,
		AuditLogAuth:       "all",
		AuditLogAccount:    "db",
		AuditLogAdmin:      "off",
	}
}

func TestValidate_DevDefaults(t *testing.T) {
	if err := validate("dev", validConfig()); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
}

func TestValidate_ProdRejectsDevSecrets(t *testing.T) {
	err := validate("prod", validConfig())
	if err == nil {
		t.Fatal("validate() = nil, want error for dev secrets in prod")
	}
	for _, name := range []string{"session_key", "csrf_key", "jwt_secret"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestValidate_ProdAcceptsStrongSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.SessionKey = strings.Repeat("s", minSecretLen)
	cfg.CSRFKey = strings.Repeat("c", minSecretLen)
	cfg.JWTSecret = strings.Repeat("j", minSecretLen)
	if err := validate("prod", cfg); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{"empty uri", func(c *AppConfig) { c.MongoURI = "" }, "MongoDB URI"},
		{"low bcrypt cost", func(c *AppConfig) { c.BcryptCost = 2 }, "bcrypt_cost"},
		{"negative threshold", func(c *AppConfig) { c.LockoutThreshold = -1 }, "lockout_threshold"},
		{"zero window", func(c *AppConfig) { c.LockoutWindow = 0 }, "lockout_window"},
		{"zero burst", func(c *AppConfig) { c.RateLimitBurst = 0 }, "rate_limit"},
		{"zero max age", func(c *AppConfig) { c.SessionMaxAge = 0 }, "session_max_age"},
		{"negative idle", func(c *AppConfig) { c.SessionIdleTimeout = -time.Minute }, "session_idle_timeout"},
		{"zero jwt ttl", func(c *AppConfig) { c.JWTTTL = 0 }, "jwt_ttl"},
		{"unknown audit dest", func(c *AppConfig) { c.AuditLogAdmin = "syslog" }, "audit_log_admin"},
		{"weak seed password", func(c *AppConfig) { c.SeedAdminUsername = "root"; c.SeedAdminPassword = "x" }, "seed_admin_password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := validate("dev", cfg)
			if err == nil {
				t.Fatal("validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_DisabledFeaturesSkipChecks(t *testing.T) {
	cfg := validConfig()
	cfg.LockoutThreshold = 0
	cfg.LockoutWindow = 0
	cfg.RateLimitEnabled = false
	cfg.RateLimitBurst = 0
	cfg.SessionIdleTimeout = 0
	if err := validate("dev", cfg); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
}
