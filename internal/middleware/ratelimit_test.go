package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
})

func limited(t *testing.T, rps float64, burst int) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return RateLimitMiddleware(ctx, rps, burst)(okHandler)
}

func get(h http.Handler, remote, xff string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/post/1", nil)
	req.RemoteAddr = remote
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimitAllowsBurst(t *testing.T) {
	h := limited(t, 10, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(h, "192.168.1.1:12345", "").Code, "request %d", i+1)
	}
}

func TestRateLimitBlocksOverLimit(t *testing.T) {
	h := limited(t, 1, 2)
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, get(h, "10.0.0.1:12345", "").Code)
	}

	rr := get(h, "10.0.0.1:12345", "")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "rate limit exceeded", body["error"])
}

func TestRateLimitSeparateBucketsPerIP(t *testing.T) {
	h := limited(t, 1, 1)
	assert.Equal(t, http.StatusOK, get(h, "10.0.0.1:12345", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(h, "10.0.0.1:12345", "").Code)
	assert.Equal(t, http.StatusOK, get(h, "10.0.0.2:12345", "").Code)
}

func TestRateLimitIgnoresForwardedFor(t *testing.T) {
	h := limited(t, 1, 1)
	assert.Equal(t, http.StatusOK, get(h, "10.0.0.1:12345", "203.0.113.50").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(h, "10.0.0.1:12345", "198.51.100.99").Code)
	assert.Equal(t, http.StatusOK, get(h, "10.0.0.2:12345", "203.0.113.50").Code)
}

func TestRateLimitWithMuxRouter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := mux.NewRouter()
	r.Use(RateLimitMiddleware(ctx, 1, 1))
	r.HandleFunc("/api/capabilities/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodPost)

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/capabilities/sendWelcome", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr.Code
	}
	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusTooManyRequests, post())
}

func TestEvictDropsIdleLimiters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newLimiterStore(ctx, 1, 1)

	s.get("10.0.0.1")
	s.evict(time.Now())
	_, ok := s.limiters.Load("10.0.0.1")
	assert.True(t, ok)

	s.evict(time.Now().Add(staleAfter + time.Second))
	_, ok = s.limiters.Load("10.0.0.1")
	assert.False(t, ok)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{name: "with port", remoteAddr: "192.168.1.1:8080", want: "192.168.1.1"},
		{name: "without port", remoteAddr: "192.168.1.1", want: "192.168.1.1"},
		{name: "forwarded for ignored", remoteAddr: "10.0.0.1:1234", xff: "203.0.113.50", want: "10.0.0.1"},
		{name: "ipv6", remoteAddr: "[::1]:1234", want: "::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
