package middleware

import (
	"context"
	"net/http"

	"github.com/pliu/pairchat/internal/auth"
	"github.com/pliu/pairchat/internal/pair"
)

type contextKey string

const UserKey contextKey = "username"

// Auth rejects requests without a valid session cookie and stores the
// session's username in the request context.
func Auth(signer *auth.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(auth.CookieName)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			username, err := signer.Verify(cookie.Value)
			if err != nil || !pair.ValidIdentity(username) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Username returns the authenticated user of the request, or "".
func Username(ctx context.Context) string {
	u, _ := ctx.Value(UserKey).(string)
	return u
}
