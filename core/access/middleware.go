package access

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"

	"github.com/gt3pedia/backend/core/logger"
)

// Authenticate returns a middleware which resolves the caller's session
// from the "Authorization: Bearer" header.
//
// With required set, a missing credential, a malformed bearer header or a
// failed verification each answer http.StatusUnauthorized and the request
// is not forwarded. Without it, the request proceeds anonymously instead;
// read routes use this mode so the catalog stays browsable without an
// account.
func Authenticate(tokens *TokenService, required bool) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer := r.Header.Get("Authorization")
			if len(bearer) == 0 {
				if required {
					deny(w, "authorization required")
					return
				}
				h.ServeHTTP(w, r)
				return
			}
			if len(bearer) < 8 || !strings.EqualFold(bearer[:7], "bearer ") {
				if required {
					deny(w, "malformed authorization header")
					return
				}
				h.ServeHTTP(w, r)
				return
			}
			session, err := tokens.Verify(bearer[7:])
			if err != nil {
				if required {
					deny(w, "invalid or expired token")
					return
				}
				h.ServeHTTP(w, r)
				return
			}
			ctx, _ := logger.ContextWithLoggerIdentity(r.Context(), session.Email)
			ctx = session.ContextWithSession(ctx)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects with http.StatusForbidden unless the context
// carries an administrator session. It runs after mandatory
// authentication; a resolved but under-privileged identity gets 403,
// never 401.
func RequireAdmin(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !SessionFromContext(r.Context()).IsAdmin() {
			jsonData, _ := json.Marshal(map[string]string{"message": "administrator role required"})
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write(jsonData)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter, message string) {
	jsonData, _ := json.Marshal(map[string]string{"message": message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write(jsonData)
}
