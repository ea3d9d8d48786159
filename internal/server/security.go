// security.go - Security headers for every response
package server

import "net/http"

// securityHeadersMiddleware adds security headers to all responses.
// The API serves no HTML, so the content policy denies everything.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()

		// Prevent clickjacking
		h.Set("X-Frame-Options", "DENY")

		// Prevent MIME sniffing
		h.Set("X-Content-Type-Options", "nosniff")

		// Referrer Policy - don't leak URLs
		h.Set("Referrer-Policy", "no-referrer")

		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; sandbox")

		// Permissions Policy - disable unused browser features
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		next.ServeHTTP(w, r)
	})
}
