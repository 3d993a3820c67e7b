package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(h http.Handler, remote, authz string) int {
	req := httptest.NewRequest(http.MethodPut, "/api/theme", nil)
	req.RemoteAddr = remote
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestWriteGuardWithToken(t *testing.T) {
	h := WriteGuard("s3cret")(okHandler)

	assert.Equal(t, http.StatusOK, write(h, "203.0.113.9:1", "Bearer s3cret"))
	assert.Equal(t, http.StatusOK, write(h, "203.0.113.9:1", "bearer s3cret"))
	assert.Equal(t, http.StatusUnauthorized, write(h, "127.0.0.1:1", ""))
	assert.Equal(t, http.StatusUnauthorized, write(h, "203.0.113.9:1", "Basic s3cret"))
	assert.Equal(t, http.StatusUnauthorized, write(h, "203.0.113.9:1", "Bearer wrong"))
	assert.Equal(t, http.StatusUnauthorized, write(h, "203.0.113.9:1", "Bearer"))
}

func TestWriteGuardWithoutTokenAllowsLoopbackOnly(t *testing.T) {
	h := WriteGuard("")(okHandler)

	assert.Equal(t, http.StatusOK, write(h, "127.0.0.1:5000", ""))
	assert.Equal(t, http.StatusOK, write(h, "[::1]:5000", ""))
	assert.Equal(t, http.StatusForbidden, write(h, "192.168.1.4:5000", ""))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("down"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/about", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "req-1", rr.Header().Get(RequestIDHeader))
	out := buf.String()
	assert.Contains(t, out, `"level":"warning"`)
	assert.Contains(t, out, `"path":"/about"`)
	assert.Contains(t, out, `"status":503`)
	assert.Contains(t, out, `"request_id":"req-1"`)

	rr = httptest.NewRecorder()
	RequestLogger(log)(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
}
