package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/echoes-blog/echoes/internal/httputil"
)

const (
	cleanupInterval = time.Minute
	staleAfter      = 3 * time.Minute
)

// ipLimiter holds a rate limiter and when it was last used, in unix nanos.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// limiterStore manages per-IP rate limiters and evicts idle ones.
type limiterStore struct {
	limiters sync.Map
	rps      float64
	burst    int
}

func newLimiterStore(ctx context.Context, rps float64, burst int) *limiterStore {
	s := &limiterStore{rps: rps, burst: burst}
	go s.cleanup(ctx)
	return s
}

func (s *limiterStore) get(ip string) *rate.Limiter {
	now := time.Now().UnixNano()

	if v, ok := s.limiters.Load(ip); ok {
		entry := v.(*ipLimiter)
		entry.lastSeen.Store(now)
		return entry.limiter
	}

	entry := &ipLimiter{limiter: rate.NewLimiter(rate.Limit(s.rps), s.burst)}
	entry.lastSeen.Store(now)
	actual, _ := s.limiters.LoadOrStore(ip, entry)
	existing := actual.(*ipLimiter)
	existing.lastSeen.Store(now)
	return existing.limiter
}

func (s *limiterStore) evict(now time.Time) {
	s.limiters.Range(func(key, value any) bool {
		entry := value.(*ipLimiter)
		if now.Sub(time.Unix(0, entry.lastSeen.Load())) > staleAfter {
			s.limiters.Delete(key)
		}
		return true
	})
}

func (s *limiterStore) cleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.evict(now)
		case <-ctx.Done():
			return
		}
	}
}

// clientIP returns the peer address. X-Forwarded-For is ignored so clients
// cannot pick their own bucket.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port.
		return r.RemoteAddr
	}
	return ip
}

// RateLimitMiddleware enforces a per-IP token bucket: rps sustained requests
// per second with bursts of up to burst. The eviction loop stops with ctx.
func RateLimitMiddleware(ctx context.Context, rps float64, burst int) mux.MiddlewareFunc {
	store := newLimiterStore(ctx, rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.get(clientIP(r)).Allow() {
				httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
