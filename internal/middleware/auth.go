// Package middleware hosts authentication, logging, and rate limiting middleware.
package middleware

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey avoids collisions when storing values in request contexts.
type contextKey string

const (
	ctxSubjectKey contextKey = "subject"
	ctxRoleKey    contextKey = "role"
)

// RoleAdmin may fund pools and close cycles.
const RoleAdmin = "admin"

// AuthMiddleware validates bearer JWTs and injects the caller identity into the context.
type AuthMiddleware struct {
	jwtSecret string
}

// NewAuthMiddleware constructs an AuthMiddleware with the given secret.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: secret}
}

// Authenticate enforces bearer auth and populates subject and role on the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if strings.TrimSpace(authHeader) == "" {
			jsonError(w, http.StatusUnauthorized, "unauthorized", "Authorization header required")
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			jsonError(w, http.StatusUnauthorized, "unauthorized", "Invalid authorization format")
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(m.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			jsonError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "unauthorized", "Invalid token claims")
			return
		}

		subject, _ := claims["sub"].(string)
		if strings.TrimSpace(subject) == "" {
			jsonError(w, http.StatusUnauthorized, "unauthorized", "Token has no subject")
			return
		}

		ctx := context.WithValue(r.Context(), ctxSubjectKey, subject)
		if role, ok := claims["role"].(string); ok {
			ctx = context.WithValue(ctx, ctxRoleKey, role)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects authenticated callers that do not carry role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got, _ := RoleFromContext(r.Context()); got != role {
				jsonError(w, http.StatusForbidden, "forbidden", "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectFromContext returns the authenticated subject, normally a participant id.
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(ctxSubjectKey).(string)
	return s, ok
}

// RoleFromContext returns the authenticated caller's role.
func RoleFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(ctxRoleKey).(string)
	return s, ok
}

// SignToken issues an HS256 token for subject. Used by tooling and tests.
func SignToken(secret, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed := os.Getenv("CORS_ALLOWED_ORIGINS")
		origin := r.Header.Get("Origin")
		if strings.TrimSpace(allowed) != "" {
			// Restrict to configured origins
			ok := false
			for _, o := range strings.Split(allowed, ",") {
				if strings.EqualFold(strings.TrimSpace(o), origin) {
					ok = true
					break
				}
			}
			if ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		} else if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, Idempotency-Key")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
