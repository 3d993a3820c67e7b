package audit

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/echoes-blog/echoes/internal/logging"
)

// Middleware records every successful write (POST, PUT, DELETE). The action
// is the method plus the matched route template, so /api/plugins/credit/enable
// is filed as "post /api/plugins/{id}/enable" with resource "credit".
func Middleware(store *Store, log logrus.FieldLogger) mux.MiddlewareFunc {
	log = logging.OrDefault(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= 400 {
				return
			}

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			vars := mux.Vars(r)
			resource := vars["id"]
			if resource == "" {
				resource = vars["name"]
			}
			if resource == "" {
				resource = r.URL.Path
			}

			details, _ := json.Marshal(map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"remote_addr": r.RemoteAddr,
			})
			e := store.Insert(strings.ToLower(r.Method)+" "+path, resource, details)
			log.WithFields(logrus.Fields{"action": e.Action, "resource": e.Resource}).Info("audit: recorded write")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
