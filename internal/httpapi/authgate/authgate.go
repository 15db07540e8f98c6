// Package authgate implements the HTTP API's JWT-based auth gate
// (names RBAC/auth as an external gate point the core engine
// never implements itself), grounded on
// internal/controller/auth/jwt.go (ValidateJWT's parser-with-leeway,
// signing-method switch, issuer/audience checks).
package authgate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config configures the gate's token validation.
type Config struct {
	Secret []byte
	Issuer string
	ClockSkew time.Duration
}

// Claims is the archflow HTTP API's JWT claim set.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope reports whether the claims grant scope, or the wildcard "*".
func (c Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

// ValidateToken validates tokenString against cfg, grounded on the
// ValidateJWT (HS256-only here, since the HTTP API has no
// asymmetric-key configuration surface).
func ValidateToken(tokenString string, cfg Config) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("authgate: token is empty")
	}
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("authgate: no signing secret configured")
	}

	parser := jwt.NewParser(jwt.WithLeeway(cfg.ClockSkew))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("authgate: parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("authgate: token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("authgate: invalid token claims")
	}
	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("authgate: invalid issuer: expected %s, got %s", cfg.Issuer, claims.Issuer)
	}
	return claims, nil
}

// IssueToken mints a signed token for subject with the given scopes,
// expiring after ttl.
func IssueToken(subject string, scopes []string, ttl time.Duration, cfg Config) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", fmt.Errorf("authgate: no signing secret configured")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: subject,
			Issuer: cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
		Scopes: scopes,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("authgate: sign token: %w", err)
	}
	return signed, nil
}

type claimsContextKey struct{}

// Middleware wraps next, rejecting any request without a valid
// "Authorization: Bearer <token>" header and otherwise making the
// validated Claims available via ClaimsFrom(r.Context).
func Middleware(cfg Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		claims, err := ValidateToken(tokenString, cfg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFrom returns the Claims a prior Middleware call validated and
// attached to ctx, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return claims, ok
}
