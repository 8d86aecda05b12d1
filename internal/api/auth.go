package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth rejects requests without the daemon token in the
// Authorization header.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return tokenAuth(token, false)
}

// RendererAuth is BearerAuth that also accepts the token as a ?token=
// query parameter, since browsers cannot set headers on a WebSocket
// upgrade.
func RendererAuth(token string) func(http.Handler) http.Handler {
	return tokenAuth(token, true)
}

func tokenAuth(token string, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validToken(requestToken(r, allowQuery), token) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestToken(r *http.Request, allowQuery bool) string {
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		return auth[len(prefix):]
	}
	if allowQuery {
		return r.URL.Query().Get("token")
	}
	return ""
}

func validToken(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
