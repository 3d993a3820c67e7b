package setup

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/echoes-blog/echoes/internal/httputil"
)

const (
	pendingCacheTTL  = 30 * time.Second
	completeCacheTTL = 24 * time.Hour
)

// checker is the part of Service the guard needs.
type checker interface {
	IsSetupRequired(ctx context.Context) (bool, error)
}

// guardState holds a cached result of the setup-required check so we don't
// hit the backend on every single protected request.
type guardState struct {
	mu            sync.Mutex
	required      bool
	lastCheck     time.Time
	initialized   bool
	cacheDuration time.Duration
	now           func() time.Time
}

func newGuardState(cacheDuration time.Duration) *guardState {
	return &guardState{
		cacheDuration: cacheDuration,
		now:           time.Now,
	}
}

// isSetupRequired returns the cached value if fresh, or asks the checker.
func (g *guardState) isSetupRequired(c checker, r *http.Request) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.initialized && now.Sub(g.lastCheck) < g.cacheDuration {
		return g.required, nil
	}

	required, err := c.IsSetupRequired(r.Context())
	if err != nil {
		return false, err
	}

	g.required = required
	g.lastCheck = now
	g.initialized = true

	// A finished install never reverts.
	if !required {
		g.cacheDuration = completeCacheTTL
	}

	return required, nil
}

func (g *guardState) completed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initialized && !g.required
}

// GuardMiddleware blocks requests through the protected subrouter until the
// backend reports a finished install. The check is cached for 30 seconds,
// and for 24 hours once the install is complete.
func GuardMiddleware(c checker) mux.MiddlewareFunc {
	return guard(c, newGuardState(pendingCacheTTL))
}

func guard(c checker, state *guardState) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			required, err := state.isSetupRequired(c, r)
			if err != nil {
				// Setup never reverts to required, so a confirmed install
				// fails open.
				if state.completed() {
					next.ServeHTTP(w, r)
					return
				}
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"error":   "setup_check_failed",
					"message": "Unable to verify system state. Please try again.",
				})
				return
			}

			if required {
				httputil.WriteJSON(w, http.StatusForbidden, map[string]string{
					"error":   "setup_required",
					"message": "Initial setup is required",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
