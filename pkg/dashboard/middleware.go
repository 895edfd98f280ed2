package dashboard

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const userContextKey contextKey = "user"

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireBasicAuth checks the basic auth credentials against the
// configured users and injects the username into the request context.
func (s *server) requireBasicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || !s.checkUser(username, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="radar"`)
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"invalid credentials"})

			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) checkUser(username, password string) bool {
	for _, user := range s.cfg.Basic.Users {
		if subtle.ConstantTimeCompare([]byte(user.Username), []byte(username)) != 1 {
			continue
		}

		return bcrypt.CompareHashAndPassword(
			[]byte(user.PasswordHash), []byte(password),
		) == nil
	}

	return false
}

// userFromContext extracts the authenticated username from the request
// context.
func userFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userContextKey).(string)

	return user
}
