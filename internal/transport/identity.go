package transport

import (
	"context"
	"net/http"
	"strings"
)

// UserHeader carries the calling user's id.
const UserHeader = "X-User-Id"

type userKey struct{}

// UserFromContext returns the calling user id from context, if present.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userKey{}).(string)
	return userID, ok && userID != ""
}

// UserMiddleware stores the caller taken from the X-User-Id header or the
// user_id query parameter. Browsers cannot set headers on WebSocket
// handshakes, hence the query fallback.
func UserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
		}
		if userID != "" {
			ctx := context.WithValue(r.Context(), userKey{}, userID)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects requests without a caller.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			http.Error(w, "missing user", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
