package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// UserHeader carries the caller id when JWT auth is not configured and
// AllowUserHeader is set. Intended for local development only.
const UserHeader = "X-User-ID"

// AuthConfig configures request authentication.
type AuthConfig struct {
	// JWTSecret verifies HS256 bearer tokens. The sub claim is the user id.
	JWTSecret string
	// AllowUserHeader accepts X-User-ID when no bearer token is sent.
	AllowUserHeader bool
}

type userKey struct{}

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the authenticated user id.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userKey{}).(string)
	return userID, ok && userID != ""
}

func authenticateJWT(token, secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("subject claim required")
	}
	return claims.Subject, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// requireUser resolves the caller before protected handlers run.
func requireUser(cfg AuthConfig, sc *ServerContext) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
					return
				}
				userID, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					sc.Logger().Debug("Rejected bearer token", "error", err)
					writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
					return
				}
				next.ServeHTTP(w, r.WithContext(withUser(r.Context(), userID)))
				return
			}

			if userID := strings.TrimSpace(r.Header.Get(UserHeader)); userID != "" && cfg.AllowUserHeader {
				next.ServeHTTP(w, r.WithContext(withUser(r.Context(), userID)))
				return
			}

			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		})
	}
}
