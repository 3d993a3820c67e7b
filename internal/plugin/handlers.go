package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/echoes-blog/echoes/internal/httputil"
	"github.com/echoes-blog/echoes/internal/serial"
)

const invokeTimeout = 10 * time.Second

type Handlers struct {
	engine     *Engine
	writeGuard mux.MiddlewareFunc
}

func NewHandlers(engine *Engine, writeGuard mux.MiddlewareFunc) *Handlers {
	return &Handlers{engine: engine, writeGuard: writeGuard}
}

func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/plugins").Subrouter()
	api.HandleFunc("", h.handleList).Methods("GET")
	api.HandleFunc("/enabled", h.handleListEnabled).Methods("GET")
	api.HandleFunc("/{id}", h.handleGet).Methods("GET")

	writeAPI := api.PathPrefix("").Subrouter()
	if h.writeGuard != nil {
		writeAPI.Use(h.writeGuard)
	}
	writeAPI.HandleFunc("/{id}/enable", h.handleEnable).Methods("POST")
	writeAPI.HandleFunc("/{id}/disable", h.handleDisable).Methods("POST")
	writeAPI.HandleFunc("/{id}/config", h.handleConfigure).Methods("PUT")

	caps := r.PathPrefix("/api/capabilities").Subrouter()
	caps.HandleFunc("", h.handleListCapabilities).Methods("GET")
	invoke := caps.PathPrefix("").Subrouter()
	if h.writeGuard != nil {
		invoke.Use(h.writeGuard)
	}
	invoke.HandleFunc("/{name}", h.handleInvoke).Methods("POST")

	r.HandleFunc("/api/extensions", h.handleListExtensions).Methods("GET")
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.engine.ListAll())
}

func (h *Handlers) handleListEnabled(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.engine.ListEnabled())
}

func (h *Handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.GetManifest(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

func (h *Handlers) handleEnable(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.engine.Enable(r.Context(), id); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (h *Handlers) handleDisable(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.engine.Disable(r.Context(), id); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (h *Handlers) handleConfigure(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var values map[string]serial.Value
	if err := httputil.DecodeJSON(w, r, &values); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.Configure(id, values); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.engine.GetManifest(id)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m.Configuration)
}

type capabilityInfo struct {
	Name    string   `json:"name"`
	Sources []string `json:"sources"`
}

func (h *Handlers) handleListCapabilities(w http.ResponseWriter, r *http.Request) {
	reg := h.engine.Capabilities()
	out := []capabilityInfo{}
	for _, name := range reg.Names() {
		out = append(out, capabilityInfo{Name: name, Sources: reg.Sources(name)})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type invokeRequest struct {
	Args []json.RawMessage `json:"args"`
}

type invokeResult struct {
	Source string `json:"source"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleInvoke runs every executor of a capability and reports each one's
// outcome. Arguments arrive as decoded JSON values.
func (h *Handlers) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req invokeRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	args := make([]any, 0, len(req.Args))
	for _, raw := range req.Args {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid argument: "+err.Error())
			return
		}
		args = append(args, v)
	}

	ctx, cancel := context.WithTimeout(r.Context(), invokeTimeout)
	defer cancel()

	results := []invokeResult{}
	for _, o := range h.engine.Capabilities().Settle(ctx, name, args...) {
		res := invokeResult{Source: o.Source, Value: o.Value}
		if o.Err != nil {
			res.Value = nil
			res.Error = o.Err.Error()
			if errors.Is(o.Err, context.DeadlineExceeded) {
				res.Error = "timed out"
			}
		}
		results = append(results, res)
	}
	httputil.WriteJSON(w, http.StatusOK, results)
}

type pointInfo struct {
	Point   string   `json:"point"`
	Plugins []string `json:"plugins"`
}

func (h *Handlers) handleListExtensions(w http.ResponseWriter, r *http.Request) {
	reg := h.engine.Extensions()
	out := []pointInfo{}
	for _, p := range reg.Points() {
		out = append(out, pointInfo{Point: p, Plugins: reg.Plugins(p)})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
