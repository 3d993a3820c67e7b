package ws

import (
	"net/http"
	"strings"
)

// NewOriginChecker validates the Origin header of an incoming request against
// origins. It is intended to be used as the CheckOrigin field of a
// gorilla/websocket.Upgrader.
func NewOriginChecker(origins []string) func(r *http.Request) bool {
	allowed := append([]string(nil), origins...)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Same-origin request or non-browser client.
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(origin, a) {
				return true
			}
		}
		return false
	}
}
