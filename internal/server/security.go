package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

type SecurityConfig struct {
	BaseURL string
}

type contextKey string

const nonceKey contextKey = "csp-nonce"

func generateNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		slog.Error("server: failed to generate CSP nonce", "error", err)
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func nonceFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(nonceKey).(string); ok {
		return v
	}
	return ""
}

// securityHeaders locks the kiosk UI to its own origin. Camera, microphone
// and geolocation are granted to the page itself only; recordings are
// previewed from blob: URLs or the session asset endpoint.
func securityHeaders(cfg SecurityConfig) func(http.Handler) http.Handler {
	strictTransport := strings.HasPrefix(cfg.BaseURL, "https://")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nonce := generateNonce()
			ctx := context.WithValue(r.Context(), nonceKey, nonce)

			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Permissions-Policy", "camera=(self), microphone=(self), geolocation=(self), screen-wake-lock=(self), display-capture=()")

			csp := fmt.Sprintf(
				"default-src 'self'; img-src 'self' data: blob:; media-src 'self' blob:; script-src 'self' 'nonce-%s'; style-src 'self' 'nonce-%s'; connect-src 'self'; frame-ancestors 'none';",
				nonce, nonce,
			)
			w.Header().Set("Content-Security-Policy", csp)

			if strictTransport {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
