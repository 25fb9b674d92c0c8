package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey struct{}

var principalKey contextKey

// Middleware requires a valid access token and stores the principal id in the
// request context.
func Middleware(accessSecret []byte, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principalID, ok := principalFromRequest(r, accessSecret)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, principalID)))
	})
}

// OptionalMiddleware attaches the principal id when a valid access token is
// present but lets anonymous requests through. View attribution uses this so
// logged-in viewers dedup by account rather than by network address.
func OptionalMiddleware(accessSecret []byte, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if principalID, ok := principalFromRequest(r, accessSecret); ok {
			r = r.WithContext(context.WithValue(r.Context(), principalKey, principalID))
		}
		next.ServeHTTP(w, r)
	})
}

func PrincipalID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(principalKey).(string)
	return id, ok && id != ""
}

func principalFromRequest(r *http.Request, accessSecret []byte) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	tokenStr := strings.TrimSpace(parts[1])
	if tokenStr == "" {
		return "", false
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return accessSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", false
	}
	if tokenType, _ := claims["typ"].(string); tokenType != "access" {
		return "", false
	}

	sub, _ := claims["sub"].(string)
	return sub, sub != ""
}
