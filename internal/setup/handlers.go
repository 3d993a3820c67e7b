package setup

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/echoes-blog/echoes/internal/httputil"
	"github.com/echoes-blog/echoes/internal/module"
)

// Handlers exposes the install state of the site.
type Handlers struct {
	service    *Service
	writeGuard mux.MiddlewareFunc
}

func NewHandlers(service *Service, writeGuard mux.MiddlewareFunc) *Handlers {
	return &Handlers{service: service, writeGuard: writeGuard}
}

// RegisterRoutes registers the setup routes. They stay reachable before the
// install is finished.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/setup/status", h.handleStatus).Methods("GET")

	write := r.PathPrefix("/api/setup").Subrouter()
	if h.writeGuard != nil {
		write.Use(h.writeGuard)
	}
	write.HandleFunc("/step", h.handleStep).Methods("POST")
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Status(r.Context())
	if err != nil {
		httputil.WriteUpstreamError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, st)
}

type stepRequest struct {
	Step int `json:"step"`
}

func (h *Handlers) handleStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Advance(r.Context(), req.Step); err != nil {
		var ie *module.InitError
		if errors.As(err, &ie) {
			httputil.WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error":   "initialization_failed",
				"kind":    string(ie.Kind),
				"message": ie.Err.Error(),
			})
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]int{"step": h.service.manager.Step()})
}
