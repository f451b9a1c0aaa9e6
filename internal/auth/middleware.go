package auth

import (
	"context"
	"net/http"
	"strings"

	pkghttp "github.com/gatewatch/gatewatch/pkg/http"
)

type contextKey string

const adminSubjectKey contextKey = "admin_subject"

// RequireAdmin rejects requests lacking a valid admin bearer token.
// A node started without ADMIN_JWT_SECRET refuses the whole admin
// surface rather than leaving it open.
func RequireAdmin(tm *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tm == nil {
				pkghttp.WriteUnauthorized(w, "admin surface is disabled on this node")
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				pkghttp.WriteUnauthorized(w, "missing bearer token")
				return
			}

			claims, err := tm.VerifyAdminToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), adminSubjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminSubjectFromContext returns the operator name the admin token was
// issued to, if any.
func AdminSubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(adminSubjectKey).(string)
	return subject, ok
}
