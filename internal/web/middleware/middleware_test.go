package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JonMunkholm/formingest/internal/config"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

// =============================================================================
// TrustedRealIP
// =============================================================================

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{"untrusted peer keeps addr", []string{"10.0.0.0/8"}, "192.0.2.1:1234",
			map[string]string{"X-Real-IP": "203.0.113.9"}, "192.0.2.1:1234"},
		{"trusted cidr uses real ip", []string{"10.0.0.0/8"}, "10.1.2.3:1234",
			map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
		{"trusted single ip uses first forwarded", []string{"10.1.2.3"}, "10.1.2.3:1234",
			map[string]string{"X-Forwarded-For": "203.0.113.7, 10.1.2.3"}, "203.0.113.7"},
		{"invalid header ignored", []string{"10.0.0.0/8"}, "10.1.2.3:1234",
			map[string]string{"X-Real-IP": "not-an-ip"}, "10.1.2.3:1234"},
		{"invalid entries skipped", []string{"garbage", ""}, "10.1.2.3:1234",
			map[string]string{"X-Real-IP": "203.0.113.9"}, "10.1.2.3:1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// APIKeyAuth
// =============================================================================

func TestAPIKeyAuth(t *testing.T) {
	cfg := config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}}
	h := APIKeyAuth(cfg)(okHandler)

	tests := []struct {
		name string
		key  string
		want int
		code string
	}{
		{"missing", "", http.StatusUnauthorized, "AUTH_MISSING_KEY"},
		{"wrong", "k3", http.StatusForbidden, "AUTH_INVALID_KEY"},
		{"first key", "k1", http.StatusNoContent, ""},
		{"second key", "k2", http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/uploads", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.code != "" {
				assert.Contains(t, rec.Body.String(), tt.code)
			}
		})
	}
}

func TestAPIKeyAuth_ClosesOnRejectedUpload(t *testing.T) {
	h := APIKeyAuth(config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k"}})(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("body"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "close", rec.Header().Get("Connection"))
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	h := APIKeyAuth(config.SecurityConfig{})(okHandler)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/uploads", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// =============================================================================
// Logger
// =============================================================================

func TestStatusWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}

	sw.WriteHeader(http.StatusCreated)
	sw.WriteHeader(http.StatusInternalServerError)
	n, err := sw.Write([]byte("hello"))

	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusCreated, sw.status)
	assert.Equal(t, int64(5), sw.written)
	assert.Same(t, rec, sw.Unwrap())
}

func TestLogger_PassesThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	Logger(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
