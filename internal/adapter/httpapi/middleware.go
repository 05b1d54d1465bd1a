package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Tokens holds the bearer tokens accepted for each access level. Higher
// levels subsume lower ones: the admin token is accepted wherever the
// operator or user token is, and the operator token wherever the user
// token is.
type Tokens struct {
	User     string
	Operator string
	Admin    string
}

func tokenMatches(got, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (t Tokens) accepted(level string, token string) bool {
	switch level {
	case "user":
		if tokenMatches(token, t.User) {
			return true
		}
		fallthrough
	case "operator":
		if tokenMatches(token, t.Operator) {
			return true
		}
		fallthrough
	case "admin":
		return tokenMatches(token, t.Admin)
	default:
		return false
	}
}

// RequireToken returns middleware that validates the Authorization bearer
// token against the tokens configured for the given access level. A missing
// or invalid token yields 401.
func RequireToken(tokens Tokens, level string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeErrorMessage(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeErrorMessage(w, http.StatusUnauthorized, "authorization header must use the Bearer scheme")
				return
			}
			if !tokens.accepted(level, token) {
				writeErrorMessage(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
