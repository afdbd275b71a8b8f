package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillworks/quill/internal/log"
)

func TestRateLimiterBurst(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(0.0001, 3)

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))

	// Other IPs have their own bucket.
	assert.True(t, rl.allow("10.0.0.2"))
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(0.0001, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := rateLimitMiddleware(rl, false, log.NewNop())(handler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "10.0.0.7:1234"

	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		forwarded  string
		trustProxy bool
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "192.168.1.5:4321",
			want:       "192.168.1.5",
		},
		{
			name:       "headers ignored without trust",
			remoteAddr: "192.168.1.5:4321",
			realIP:     "203.0.113.9",
			want:       "192.168.1.5",
		},
		{
			name:       "x-real-ip preferred with trust",
			remoteAddr: "192.168.1.5:4321",
			realIP:     "203.0.113.9",
			forwarded:  "198.51.100.2",
			trustProxy: true,
			want:       "203.0.113.9",
		},
		{
			name:       "x-forwarded-for first entry",
			remoteAddr: "192.168.1.5:4321",
			forwarded:  "198.51.100.2, 203.0.113.9",
			trustProxy: true,
			want:       "198.51.100.2",
		},
		{
			name:       "invalid header falls back",
			remoteAddr: "192.168.1.5:4321",
			realIP:     "not-an-ip",
			trustProxy: true,
			want:       "192.168.1.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}

			assert.Equal(t, tt.want, clientIP(req, tt.trustProxy))
		})
	}
}
