package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
})

func TestStack_Order(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Stack(mark("outer"), mark("inner"))(okHandler)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.168.1.1:1234", nil, "192.168.1.1"},
		{"remote addr without port", "192.168.1.1", nil, "192.168.1.1"},
		{"forwarded for first hop", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "203.0.113.195, 70.41.3.18"}, "203.0.113.195"},
		{"real ip", "10.0.0.1:80", map[string]string{"X-Real-IP": " 198.51.100.7 "}, "198.51.100.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}

// =============================================================================
// Request logging
// =============================================================================

func TestRequestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

	req := httptest.NewRequest(http.MethodPost, "/api/incidents?token=s3cr3tvalue&step=2", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()
	mw.Handler(okHandler).ServeHTTP(rec, req)

	out := buf.String()
	assert.Contains(t, out, "method=POST")
	assert.Contains(t, out, "status=200")
	assert.Contains(t, out, "bytes=2")
	assert.Contains(t, out, "ip=192.168.1.1")
	assert.Contains(t, out, "token=[REDACTED]")
	assert.NotContains(t, out, "s3cr3tvalue")
	assert.Contains(t, out, "step=2")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestLoggingMiddleware_SkipsOpsEndpoints(t *testing.T) {
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

	for _, path := range []string{"/health", "/metrics"} {
		mw.Handler(okHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Empty(t, buf.String())
}

func TestRequestLoggingMiddleware_KeepsCallerRequestID(t *testing.T) {
	mw := NewRequestLoggingMiddleware(discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/incidents/x", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	mw.Handler(okHandler).ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}

// =============================================================================
// Security headers
// =============================================================================

func TestSecurityHeadersMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		secure   bool
		path     string
		wantHSTS bool
		wantCSP  string
		noStore  bool
	}{
		{"api in production", true, "/api/incidents", true, "default-src 'none'; frame-ancestors 'none'", true},
		{"export document", false, "/api/incidents/abc/print", false, "script-src 'unsafe-inline'", true},
		{"health in development", false, "/health", false, "default-src 'none'", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewSecurityHeadersMiddleware(tt.secure).Handler(okHandler).
				ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			h := rec.Header()
			assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
			assert.Equal(t, "SAMEORIGIN", h.Get("X-Frame-Options"))
			assert.Equal(t, tt.wantHSTS, h.Get("Strict-Transport-Security") != "")
			assert.Contains(t, h.Get("Content-Security-Policy"), tt.wantCSP)
			assert.Equal(t, tt.noStore, h.Get("Cache-Control") == "no-store")
		})
	}
}

// =============================================================================
// CORS
// =============================================================================

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantOrigin  string
		wantMethods bool
	}{
		{"allowed simple request", []string{"https://app.example.com/"}, http.MethodPost, "https://app.example.com", false, http.StatusOK, "https://app.example.com", false},
		{"unknown origin simple request", []string{"https://app.example.com"}, http.MethodPost, "https://evil.example", false, http.StatusOK, "", false},
		{"allowed preflight", []string{"https://app.example.com"}, http.MethodOptions, "https://app.example.com", true, http.StatusNoContent, "https://app.example.com", true},
		{"rejected preflight", []string{"https://app.example.com"}, http.MethodOptions, "https://evil.example", true, http.StatusForbidden, "", false},
		{"wildcard", []string{"*"}, http.MethodOptions, "http://localhost:5173", true, http.StatusNoContent, "*", true},
		{"no origin header", nil, http.MethodGet, "", false, http.StatusOK, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/incident-report-proxy", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()

			NewCORSMiddleware(tt.allowed).Handler(okHandler).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantMethods, rec.Header().Get("Access-Control-Allow-Methods") != "")
		})
	}
}

// =============================================================================
// Rate limiting
// =============================================================================

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond, discardLogger())
	defer rl.Stop()

	assert.True(t, rl.Allow("192.168.1.1"))
	assert.True(t, rl.Allow("192.168.1.1"))
	assert.False(t, rl.Allow("192.168.1.1"))
	assert.True(t, rl.Allow("192.168.1.2"), "keys are independent")
	assert.Greater(t, rl.TimeUntilReset("192.168.1.1"), time.Duration(0))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow("192.168.1.1"), "window expired")

	rl.Reset("192.168.1.1")
	assert.Equal(t, time.Duration(0), rl.TimeUntilReset("192.168.1.1"))
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, discardLogger())
	defer rl.Stop()
	h := NewRateLimitMiddleware(rl, discardLogger()).Limit(okHandler)

	send := func(method string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/incident-report-proxy", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send(http.MethodOptions).Code, "preflight is free")
	assert.Equal(t, http.StatusOK, send(http.MethodPost).Code)
	assert.Equal(t, http.StatusOK, send(http.MethodPost).Code)

	rec := send(http.MethodPost)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Too many requests. Please try again later."}`, rec.Body.String())
}

// =============================================================================
// Metrics auth
// =============================================================================

func TestMetricsAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		authUser   string
		authPass   string
		wantStatus int
	}{
		{"valid credentials", "admin", "secret123", true, "admin", "secret123", http.StatusOK},
		{"no credentials", "admin", "secret123", false, "", "", http.StatusUnauthorized},
		{"wrong username", "admin", "secret123", true, "root", "secret123", http.StatusUnauthorized},
		{"wrong password", "admin", "secret123", true, "admin", "nope", http.StatusUnauthorized},
		{"disabled", "", "", false, "", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewMetricsAuthMiddleware(tt.user, tt.pass, discardLogger())
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.authUser, tt.authPass)
			}
			rec := httptest.NewRecorder()
			mw.Handler(okHandler).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="custodybuddy metrics"`, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}
