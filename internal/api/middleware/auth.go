package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/surpriz/queenmama/internal/api"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// ServiceTokenAuth authenticates calls from the product backend with a
// shared bearer token and reads the acting end user from X-User-ID. The
// backend is trusted to assert user identity; this service never sees end
// user credentials.
func ServiceTokenAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			presented := strings.TrimPrefix(authHeader, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				api.Error(w, http.StatusUnauthorized, "invalid service token")
				return
			}

			userID := r.Header.Get("X-User-ID")
			if userID == "" {
				api.Error(w, http.StatusUnauthorized, "missing X-User-ID header")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}
