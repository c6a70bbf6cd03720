package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/axiom/internal/app/system/jsonutil"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ErrInvalidToken is returned for any bearer token that does not verify.
var ErrInvalidToken = errors.New("invalid or expired token")

// TokenIssuer is the token issuer name placed in the "iss" claim.
const TokenIssuer = "axiom"

// Claims are the access-token claims handed to the front-end client.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// Tokens issues and verifies HS256 access tokens for the JSON API.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token issuer. The secret must not be empty.
func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, &SessionConfigError{Message: "jwt secret is empty"}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for the user. It returns the token and its expiry.
func (t *Tokens) Issue(userID, username string) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Username: username,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse verifies the signature, algorithm, issuer, and expiry of a token.
func (t *Tokens) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RequireBearer authenticates API requests with "Authorization: Bearer <jwt>".
// The token subject is re-resolved through the user fetcher on every request,
// so deactivated or deleted accounts lose access immediately, and a token
// issued before the user's last password change is refused. Failures are 401
// JSON, which tells the client to discard its stored token. A user lookup that
// fails outright is 503 so the client keeps the token and retries.
func (sm *SessionManager) RequireBearer(tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				jsonutil.Unauthorized(w, "missing bearer token")
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				sm.logger.Debug("bearer token rejected",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				jsonutil.Unauthorized(w, ErrInvalidToken.Error())
				return
			}
			if sm.users == nil {
				jsonutil.Unauthorized(w, ErrInvalidToken.Error())
				return
			}
			u, err := sm.users.FetchUser(r.Context(), claims.Subject)
			if err != nil {
				sm.logger.Warn("bearer user lookup failed",
					zap.String("user_id", claims.Subject),
					zap.Error(err))
				jsonutil.Error(w, http.StatusServiceUnavailable, "temporarily unavailable")
				return
			}
			if u == nil || issuedBefore(claims, u.PasswordChanged) {
				jsonutil.Unauthorized(w, ErrInvalidToken.Error())
				return
			}
			next.ServeHTTP(w, withUser(r, u))
		})
	}
}

// issuedBefore reports whether the token predates changedAt. Token times have
// whole-second precision, so changedAt is truncated to the second first.
func issuedBefore(claims *Claims, changedAt time.Time) bool {
	if claims.IssuedAt == nil || changedAt.IsZero() {
		return false
	}
	return claims.IssuedAt.Time.Before(changedAt.Truncate(time.Second))
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}
