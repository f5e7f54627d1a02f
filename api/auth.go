package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type contextKey int

const actorContextKey contextKey = iota

func withActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// actorFromContext returns the authenticated operator identity, or "admin"
// when auth is disabled.
func actorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorContextKey).(string); ok && actor != "" {
		return actor
	}
	return "admin"
}

// Claims carries the operator identity inside admin tokens.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// NewAdminToken mints an HS256 bearer token for the subject. Used by the
// bootstrap CLI and tests.
func NewAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Roles: []string{"admin"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "warden",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// validateToken parses and verifies an HS256 token.
func validateToken(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// requireAdmin guards containment mutation routes. A request passes with a
// valid HS256 JWT or with the static admin key matching the configured
// bcrypt hash; the authenticated identity becomes the audit actor.
func (s *Server) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.AuthEnabled {
			next(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "authorization required", http.StatusUnauthorized)
			return
		}

		if s.cfg.JWTSecret != "" {
			if claims, err := validateToken(token, s.cfg.JWTSecret); err == nil {
				actor := claims.Subject
				if actor == "" {
					actor = "admin"
				}
				next(w, r.WithContext(withActor(r.Context(), actor)))
				return
			}
		}
		if s.cfg.APIKeyHash != "" &&
			bcrypt.CompareHashAndPassword([]byte(s.cfg.APIKeyHash), []byte(token)) == nil {
			next(w, r.WithContext(withActor(r.Context(), "api-key")))
			return
		}

		s.logger.Warnw("Rejected admin request",
			"client", getRealIP(r, s.cfg.TrustProxy),
			"path", r.URL.Path)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}
