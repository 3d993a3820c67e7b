package module

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/echoes-blog/echoes/internal/httputil"
	"github.com/echoes-blog/echoes/internal/render"
	"github.com/echoes-blog/echoes/internal/route"
	"github.com/echoes-blog/echoes/internal/theme"
)

type Handlers struct {
	manager    *Manager
	writeGuard mux.MiddlewareFunc
}

// NewHandlers exposes the manager over HTTP. writeGuard, when set, wraps
// the endpoints that change the theme.
func NewHandlers(manager *Manager, writeGuard mux.MiddlewareFunc) *Handlers {
	return &Handlers{manager: manager, writeGuard: writeGuard}
}

func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/theme").Subrouter()
	api.HandleFunc("", h.handleGetTheme).Methods("GET")
	api.HandleFunc("/routes", h.handleRoutes).Methods("GET")

	writeAPI := api.PathPrefix("").Subrouter()
	if h.writeGuard != nil {
		writeAPI.Use(h.writeGuard)
	}
	writeAPI.HandleFunc("", h.handleUpdateTheme).Methods("PUT")
}

// RegisterSite mounts the public site as the catch-all route. Call it last.
func (h *Handlers) RegisterSite(r *mux.Router) {
	r.PathPrefix("/").Handler(http.HandlerFunc(h.ServeSite)).Methods("GET", "HEAD")
}

func (h *Handlers) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	d := h.manager.Theme()
	if d == nil {
		httputil.WriteError(w, http.StatusNotFound, "no theme is active")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handlers) handleUpdateTheme(w http.ResponseWriter, r *http.Request) {
	var d theme.Descriptor
	if err := httputil.DecodeJSON(w, r, &d); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := d.Validate(); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.manager.UpdateTheme(r.Context(), &d); err != nil {
		httputil.WriteUpstreamError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.manager.Theme())
}

type routesResponse struct {
	Index    string            `json:"index"`
	Post     string            `json:"post"`
	Tag      string            `json:"tag"`
	Category string            `json:"category"`
	Error    string            `json:"error"`
	Pages    map[string]string `json:"pages"`
	Match    *route.Match      `json:"match,omitempty"`
}

// handleRoutes lists the route table; ?path= also resolves one path.
func (h *Handlers) handleRoutes(w http.ResponseWriter, r *http.Request) {
	d := h.manager.Theme()
	table := h.manager.Routes()
	if d == nil || table == nil {
		httputil.WriteError(w, http.StatusNotFound, "no theme is active")
		return
	}

	resp := routesResponse{
		Index:    d.Routes.Index,
		Post:     d.Routes.Post,
		Tag:      d.Routes.Tag,
		Category: d.Routes.Category,
		Error:    d.Routes.Error,
		Pages:    table.Pages(),
	}
	if p := r.URL.Query().Get("path"); p != "" {
		if m, ok := table.Lookup(p); ok {
			resp.Match = &m
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// ServeSite renders the page for the request path.
func (h *Handlers) ServeSite(w http.ResponseWriter, r *http.Request) {
	node := h.manager.GetPage(r.Context(), r.URL.Path)
	body, status, err := render.Document(r.Context(), node)
	if err != nil {
		h.manager.log.WithError(err).WithField("path", r.URL.Path).Error("module: page render failed")
		body, status, _ = render.Document(r.Context(), render.ErrorPage(http.StatusInternalServerError, ""))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		w.Write(body) //nolint:errcheck
	}

	if h.manager.deps.Extensions != nil {
		h.manager.deps.Extensions.TriggerAction(r.Context(), ActionPageView, r.URL.Path, status)
	}
}
