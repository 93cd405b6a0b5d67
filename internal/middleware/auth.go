package middleware

import (
	"net/http"

	"github.com/wifidoor/gateway-server-go/internal/util"
)

const adminPasswordHeader = "X-Admin-Password"

// AdminAuthMiddleware guards the operator endpoints with the configured
// bcrypt password hash. With no hash configured the endpoints are disabled
// outright.
type AdminAuthMiddleware struct {
	passwordHash string
}

func NewAdminAuthMiddleware(passwordHash string) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{passwordHash: passwordHash}
}

func (m *AdminAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.passwordHash == "" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "Admin not configured",
			})
			return
		}

		password := r.Header.Get(adminPasswordHeader)
		if password == "" || !util.CheckPasswordHash(password, m.passwordHash) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Unauthorized",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
