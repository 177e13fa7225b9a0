package middleware

import (
	"net/http"
	"strings"

	"github.com/prazos-api/internal/application/account"
	"github.com/prazos-api/internal/domain"
	jwtinfra "github.com/prazos-api/internal/infrastructure/jwt"
)

type tokenVerifier interface {
	Verify(tokenStr string) (*jwtinfra.Claims, error)
}

// Auth returns middleware that validates the Bearer JWT and injects the
// caller's principal into context.
func Auth(provider tokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				// EventSource cannot set headers.
				tokenStr = r.URL.Query().Get("access_token")
			}
			if tokenStr == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			claims, err := provider.Verify(tokenStr)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := account.WithPrincipal(r.Context(), domain.Principal{TenantID: claims.UserID, Email: claims.Email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
