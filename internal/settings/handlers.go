// Package settings exposes the current theme's user-editable settings.
package settings

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/echoes-blog/echoes/internal/httputil"
	"github.com/echoes-blog/echoes/internal/serial"
	"github.com/echoes-blog/echoes/internal/theme"
)

// ThemeStore reads and commits the current theme. *module.Manager satisfies
// it.
type ThemeStore interface {
	Theme() *theme.Descriptor
	UpdateTheme(ctx context.Context, d *theme.Descriptor) error
}

// Setting is one entry as the settings page shows it.
type Setting struct {
	Key         string       `json:"key"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Data        serial.Value `json:"data"`
}

type themeSettings struct {
	Theme    string    `json:"theme"`
	Settings []Setting `json:"settings"`
}

// Handlers provides HTTP handlers for theme settings.
type Handlers struct {
	store      ThemeStore
	writeGuard mux.MiddlewareFunc
}

func NewHandlers(store ThemeStore, writeGuard mux.MiddlewareFunc) *Handlers {
	return &Handlers{store: store, writeGuard: writeGuard}
}

// RegisterRoutes wires the settings endpoints onto the provided router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/settings/theme", h.GetTheme).Methods("GET")

	write := r.PathPrefix("/api/settings").Subrouter()
	if h.writeGuard != nil {
		write.Use(h.writeGuard)
	}
	write.HandleFunc("/theme", h.UpdateTheme).Methods("PUT")
}

// GetTheme handles GET /api/settings/theme.
func (h *Handlers) GetTheme(w http.ResponseWriter, r *http.Request) {
	d := h.store.Theme()
	if d == nil {
		httputil.WriteError(w, http.StatusNotFound, "no theme is active")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, describe(d))
}

// UpdateTheme handles PUT /api/settings/theme. The body maps setting keys to
// new data; every key must already exist on the theme.
func (h *Handlers) UpdateTheme(w http.ResponseWriter, r *http.Request) {
	d := h.store.Theme()
	if d == nil {
		httputil.WriteError(w, http.StatusNotFound, "no theme is active")
		return
	}

	var values map[string]serial.Value
	if err := httputil.DecodeJSON(w, r, &values); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(values) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "no settings given")
		return
	}

	cfg, err := Apply(d.Configuration, values)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	next := d.WithConfiguration(cfg)
	if err := h.store.UpdateTheme(r.Context(), next); err != nil {
		httputil.WriteUpstreamError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, describe(next))
}

// Apply returns cfg with values set. Nothing is applied if any key is
// unknown.
func Apply(cfg serial.Configuration, values map[string]serial.Value) (serial.Configuration, error) {
	out := cfg.Clone()
	for key, v := range values {
		next, err := out.With(key, v)
		if err != nil {
			return nil, err
		}
		out = next
	}
	return out, nil
}

func describe(d *theme.Descriptor) themeSettings {
	out := themeSettings{Theme: d.Name, Settings: []Setting{}}
	for _, key := range d.Configuration.Keys() {
		e := d.Configuration[key]
		out.Settings = append(out.Settings, Setting{Key: key, Title: e.Title, Description: e.Description, Data: e.Data})
	}
	return out
}
