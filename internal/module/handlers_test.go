package module

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoes-blog/echoes/internal/extension"
	"github.com/echoes-blog/echoes/internal/route"
	"github.com/echoes-blog/echoes/internal/serial"
	"github.com/echoes-blog/echoes/internal/theme"
)

func newRouter(t *testing.T, b *backend) (*mux.Router, *Manager) {
	t.Helper()
	m := newManager(t, b, testModules(testTheme()), nil)
	require.NoError(t, m.Start(context.Background()))

	r := mux.NewRouter()
	h := NewHandlers(m, nil)
	h.RegisterRoutes(r)
	h.RegisterSite(r)
	return r, m
}

func TestServeSite(t *testing.T) {
	r, _ := newRouter(t, &backend{step: 3, themeName: "echoes", storedConfig: testTheme()})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/about", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "<layout>about Echoes</layout>", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetThemeHandler(t *testing.T) {
	r, _ := newRouter(t, &backend{step: 3, themeName: "echoes", storedConfig: testTheme()})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/theme", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var d theme.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "echoes", d.Name)
}

func TestGetThemeNotInstalled(t *testing.T) {
	r, _ := newRouter(t, &backend{step: 0, themeName: "echoes"})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/theme", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutesHandler(t *testing.T) {
	r, _ := newRouter(t, &backend{step: 3, themeName: "echoes", storedConfig: testTheme()})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/theme/routes?path=/post/9", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp routesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "home", resp.Index)
	assert.Equal(t, "aboutTemplate", resp.Pages["/about"])
	require.NotNil(t, resp.Match)
	assert.Equal(t, route.Post, resp.Match.Name)
	assert.Equal(t, "9", resp.Match.Params["id"])
}

func TestUpdateThemeHandler(t *testing.T) {
	r, m := newRouter(t, &backend{step: 3, themeName: "echoes", storedConfig: testTheme()})

	d := m.Theme()
	cfg, err := d.Configuration.With("title", serial.String("Via API"))
	require.NoError(t, err)
	body, err := json.Marshal(d.WithConfiguration(cfg))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/theme", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Via API", m.Theme().Configuration.Get("title"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/theme", bytes.NewReader([]byte(`{"name":"x"}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeSiteTriggersPageView(t *testing.T) {
	r, m := newRouter(t, &backend{step: 3, themeName: "echoes", storedConfig: testTheme()})

	var got []any
	m.deps.Extensions.Register(ActionPageView, "stats", extension.Extension{
		Action: func(_ context.Context, args ...any) (any, error) {
			got = args
			return nil, nil
		},
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, []any{"/nope", http.StatusNotFound}, got)
}
