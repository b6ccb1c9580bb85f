package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/metorial/custom-server/internal/utils"
	"go.uber.org/zap"
)

// APIKeyAuth validates a bearer API key using constant-time comparison.
// An empty configured key rejects every request.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				utils.Logger.Error("API key not configured, rejecting request",
					zap.String("path", r.URL.Path),
				)
				utils.WriteJSONError(w, "Authentication failed", http.StatusUnauthorized)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.WriteJSONError(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			// Expected format: "Bearer <api_key>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				utils.WriteJSONError(w, "Authentication failed", http.StatusUnauthorized)
				return
			}

			// Use constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(apiKey)) != 1 {
				utils.Logger.Debug("API key mismatch",
					zap.String("path", r.URL.Path),
					zap.String("client_ip", getClientIP(r)),
				)
				utils.WriteJSONError(w, "Authentication failed", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
