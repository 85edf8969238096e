package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
)

type csrfContextKey struct{}

const (
	// CSRFHeader carries the token on htmx and fetch requests.
	CSRFHeader = "X-CSRF-Token"
	// CSRFField carries the token on plain form posts.
	CSRFField = "csrf_token"
)

// CSRF enforces a synchronizer token stored in the session. Safe methods only make sure a
// token exists; unsafe methods must echo it in the header or the form field.
func CSRF() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFromContext(r.Context())
			if !ok {
				http.Error(w, "session unavailable", http.StatusInternalServerError)
				return
			}
			token, err := sess.EnsureCSRFToken()
			if err != nil {
				http.Error(w, "csrf token error", http.StatusInternalServerError)
				return
			}
			if isUnsafeMethod(r.Method) {
				submitted := r.Header.Get(CSRFHeader)
				if submitted == "" {
					submitted = r.PostFormValue(CSRFField)
				}
				if subtle.ConstantTimeCompare([]byte(submitted), []byte(token)) != 1 {
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfContextKey{}, token)))
		})
	}
}

// CSRFTokenFromContext returns the token to embed in forms and meta tags. The session wins
// over the validated token because a renewed session carries a new one.
func CSRFTokenFromContext(ctx context.Context) string {
	if sess, ok := SessionFromContext(ctx); ok && sess.CSRFToken() != "" {
		return sess.CSRFToken()
	}
	token, _ := ctx.Value(csrfContextKey{}).(string)
	return token
}

func isUnsafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}
