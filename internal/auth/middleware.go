package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

// Middleware attaches an AuthContext when the request carries a valid bearer
// token. Requests without one pass through unauthenticated.
func Middleware(v *Verifier, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			ac, err := v.Verify(r.Context(), header)
			if err != nil {
				if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrAuthRequired) {
					logger.Warn("auth: session lookup failed", "error", err, "path", r.URL.Path)
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), ac)))
		})
	}
}

// RequireRole rejects requests without an AuthContext (401) or with a role
// outside roles (403). No roles means any authenticated user.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := FromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "auth_required", ErrAuthRequired.Error())
				return
			}
			if len(roles) > 0 && !ac.Is(roles...) {
				writeAuthError(w, http.StatusForbidden, "forbidden", ErrForbidden.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "details": details})
}
