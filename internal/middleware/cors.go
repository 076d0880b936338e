package middleware

import (
	"net/http"
	"strings"
)

// CORSMiddleware answers preflight requests and sets the CORS response
// headers for allowed origins.
type CORSMiddleware struct {
	allowAll bool
	origins  map[string]bool
}

// NewCORSMiddleware creates a CORS middleware. An origin of "*" allows any
// origin; an empty list allows none.
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	m := &CORSMiddleware{origins: make(map[string]bool)}
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			m.allowAll = true
		default:
			m.origins[strings.ToLower(o)] = true
		}
	}
	return m
}

// Handler returns the CORS middleware.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && m.allows(origin)

		if allowed {
			h := w.Header()
			h.Add("Vary", "Origin")
			if m.allowAll {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			h.Set("Access-Control-Expose-Headers", "Content-Disposition, Retry-After, "+RequestIDHeader)
		}

		isPreflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
		if !isPreflight {
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, "+RequestIDHeader)
		h.Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
	})
}

func (m *CORSMiddleware) allows(origin string) bool {
	return m.allowAll || m.origins[strings.ToLower(strings.TrimRight(origin, "/"))]
}
