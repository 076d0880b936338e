package middleware

import (
	"net/http"
	"strings"
)

// SecurityHeadersMiddleware adds HTTP security headers to all responses.
type SecurityHeadersMiddleware struct {
	isSecure bool // Whether to enable HTTPS-specific headers (true in production)
}

// NewSecurityHeadersMiddleware creates a new security headers middleware.
// Set isSecure to true in production to enable HSTS.
func NewSecurityHeadersMiddleware(isSecure bool) *SecurityHeadersMiddleware {
	return &SecurityHeadersMiddleware{
		isSecure: isSecure,
	}
}

// Handler returns middleware that sets security headers on all responses.
func (m *SecurityHeadersMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()

		// The print view may be framed by the app itself
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")

		if m.isSecure {
			// max-age=31536000 = 1 year
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		h.Set("Content-Security-Policy", buildCSP(r.URL.Path))
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		// Incident data is personal; never let intermediaries keep it
		if strings.HasPrefix(r.URL.Path, "/api/") {
			h.Set("Cache-Control", "no-store")
		}

		next.ServeHTTP(w, r)
	})
}

// buildCSP returns the Content-Security-Policy for path. JSON endpoints
// load nothing. Exported documents carry one inline stylesheet and, for the
// print view, one inline script.
func buildCSP(path string) string {
	if isDocumentPath(path) {
		return "default-src 'none'; " +
			"style-src 'unsafe-inline'; " +
			"script-src 'unsafe-inline'; " +
			"img-src data:; " +
			"frame-ancestors 'self'; " +
			"base-uri 'none'; " +
			"form-action 'none'"
	}
	return "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'"
}

func isDocumentPath(path string) bool {
	return strings.HasSuffix(path, "/export") || strings.HasSuffix(path, "/print")
}
