package module

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoes-blog/echoes/internal/fields"
	"github.com/echoes-blog/echoes/internal/httpclient"
	"github.com/echoes-blog/echoes/internal/logging"
	"github.com/echoes-blog/echoes/internal/messaging"
	"github.com/echoes-blog/echoes/internal/render"
	"github.com/echoes-blog/echoes/internal/serial"
	"github.com/echoes-blog/echoes/internal/theme"
)

// backend is a fake of the external API the manager talks to.
type backend struct {
	mu              sync.Mutex
	step            any
	themeName       string
	storedConfig    *theme.Descriptor
	failThemeFields bool
	posts           map[string]string
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	writeJSON := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
	themePath := fmt.Sprintf("/field/theme/%d", fields.HashString(b.themeName))

	switch {
	case r.URL.Path == "/step":
		writeJSON(b.step)
	case r.URL.Path == "/auth/token/system":
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "system-token")
	case r.URL.Path == "/field/system/0":
		if r.Header.Get("Authorization") != "Bearer system-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON([]fields.Field{
			{Key: "site_name", Type: fields.TypeData, Value: "Echoes"},
			{Key: "current_theme", Type: fields.TypeData, Value: b.themeName},
		})
	case r.URL.Path == themePath && r.Method == http.MethodGet:
		if b.failThemeFields {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var out []fields.Field
		if b.storedConfig != nil {
			data, _ := json.Marshal(b.storedConfig)
			out = append(out, fields.Field{Key: "config", Type: fields.TypeData, Value: string(data)})
		}
		writeJSON(out)
	case r.Method == http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		if b.posts == nil {
			b.posts = map[string]string{}
		}
		b.posts[r.URL.Path] = string(body)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (b *backend) posted(path string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.posts[path]
	return s, ok
}

func testTheme() *theme.Descriptor {
	return &theme.Descriptor{
		Name:        "echoes",
		DisplayName: "Echoes",
		Version:     "1.0.0",
		Templates: map[string]theme.TemplateRef{
			"home":          {Path: "index", Name: "Home"},
			"aboutTemplate": {Path: "about", Name: "About"},
			"broken":        {Path: "broken", Name: "Broken"},
			"article":       {Path: "post", Name: "Post"},
		},
		GlobalSettings: &theme.GlobalSettings{Layout: "layout"},
		Configuration: serial.Configuration{
			"title": {Title: "Site title", Data: serial.String("Echoes")},
		},
		Routes: theme.Routes{
			Index: "home",
			Post:  "article",
			Page: map[string]string{
				"/about":  "aboutTemplate",
				"/broken": "broken",
			},
		},
	}
}

func textTemplate(f func(render.Props) string) theme.Loader {
	return func(context.Context) (any, error) {
		return &render.Template{Element: func(p render.Props) render.Node {
			return render.Text(f(p))
		}}, nil
	}
}

func testModules(d *theme.Descriptor) *theme.Registry {
	r := theme.NewRegistry(theme.Options{Logger: logging.Discard(), LoadTimeout: time.Second})
	r.RegisterDescriptor(d)
	r.Register(d.Name, "index", textTemplate(func(render.Props) string { return "home" }))
	r.Register(d.Name, "about", textTemplate(func(p render.Props) string {
		return "about " + p.Setting("title").(string)
	}))
	r.Register(d.Name, "post", textTemplate(func(p render.Props) string { return "post " + p.Param("id") }))
	r.Register(d.Name, "broken", func(context.Context) (any, error) {
		return nil, errors.New("template chunk failed to load")
	})
	r.Register(d.Name, "layout", func(context.Context) (any, error) {
		return &render.Layout{Element: func(lp render.LayoutProps) render.Node {
			return render.Func(func(ctx context.Context, w io.Writer) error {
				content, err := lp.WithContext(ctx).Content()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(w, "<layout>%s</layout>", content)
				return err
			})
		}}, nil
	})
	return r
}

func newManager(t *testing.T, b *backend, modules *theme.Registry, broker messaging.Broker) *Manager {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	client := httpclient.New(httpclient.Options{
		APIBaseURL: srv.URL,
		Username:   "system",
		Password:   "secret",
		Logger:     logging.Discard(),
	})
	return New(Deps{HTTP: client, Modules: modules, Broker: broker, Logger: logging.Discard()})
}

func renderPage(t *testing.T, m *Manager, path string) (string, int) {
	t.Helper()
	body, status, err := render.Document(context.Background(), m.GetPage(context.Background(), path))
	require.NoError(t, err)
	return string(body), status
}

func TestNotInstalledRendersErrorPage(t *testing.T) {
	m := newManager(t, &backend{step: 1, themeName: "echoes"}, testModules(testTheme()), nil)

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.Initialized())
	assert.Equal(t, 1, m.Step())
	assert.Nil(t, m.Theme())

	body, status := renderPage(t, m, "/anything")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "echoes-error")
}

func TestThemeFieldFailureFallsBackToStepZero(t *testing.T) {
	b := &backend{step: 3, themeName: "echoes", failThemeFields: true}
	m := newManager(t, b, testModules(testTheme()), nil)

	err := m.Start(context.Background())
	require.Error(t, err)

	assert.True(t, m.Initialized())
	assert.Equal(t, 0, m.Step())

	var ie *InitError
	require.ErrorAs(t, m.LastError(), &ie)
	assert.Equal(t, KindFields, ie.Kind)
	assert.Equal(t, http.StatusInternalServerError, httpclient.StatusCode(err))

	_, status := renderPage(t, m, "/")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestBackendDownFallsBackToStepZero(t *testing.T) {
	client := httpclient.New(httpclient.Options{APIBaseURL: "127.0.0.1:1", Logger: logging.Discard()})
	m := New(Deps{HTTP: client, Logger: logging.Discard()})

	err := m.Start(context.Background())
	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, KindStep, ie.Kind)
	assert.Equal(t, 0, m.Step())
	assert.True(t, m.Initialized())
}

func TestRouteResolution(t *testing.T) {
	b := &backend{step: "3", themeName: "echoes", storedConfig: testTheme()}
	m := newManager(t, b, testModules(testTheme()), nil)
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, 3, m.Step())

	body, status := renderPage(t, m, "/about")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "<layout>about Echoes</layout>", body)

	body, status = renderPage(t, m, "/missing")
	assert.Equal(t, http.StatusNotFound, status)
	assert.True(t, strings.HasPrefix(body, "<layout>"), body)
	assert.Contains(t, body, "echoes-error")

	body, _ = renderPage(t, m, "/post/42")
	assert.Equal(t, "<layout>post 42</layout>", body)

	body, _ = renderPage(t, m, "/")
	assert.Equal(t, "<layout>home</layout>", body)
}

func TestBrokenTemplateRendersErrorInsideLayout(t *testing.T) {
	b := &backend{step: 3, themeName: "echoes", storedConfig: testTheme()}
	m := newManager(t, b, testModules(testTheme()), nil)
	require.NoError(t, m.Start(context.Background()))

	body, status := renderPage(t, m, "/broken")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.True(t, strings.HasPrefix(body, "<layout>"), body)
	assert.Contains(t, body, "echoes-error")
}

func TestMissingLayoutRendersUnwrapped(t *testing.T) {
	d := testTheme()
	d.GlobalSettings.Layout = "nowhere"
	b := &backend{step: 3, themeName: "echoes", storedConfig: d}
	m := newManager(t, b, testModules(testTheme()), nil)
	require.NoError(t, m.Start(context.Background()))

	body, _ := renderPage(t, m, "/about")
	assert.Equal(t, "about Echoes", body)
}

func TestThemeErrorTemplate(t *testing.T) {
	d := testTheme()
	d.Templates["oops"] = theme.TemplateRef{Path: "error", Name: "Error"}
	d.Routes.Error = "oops"

	modules := testModules(d)
	modules.Register("echoes", "error", textTemplate(func(p render.Props) string {
		return "custom " + p.Param("status")
	}))

	m := newManager(t, &backend{step: 3, themeName: "echoes", storedConfig: d}, modules, nil)
	require.NoError(t, m.Start(context.Background()))

	body, status := renderPage(t, m, "/missing")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "<layout>custom 404</layout>", body)
}

func TestSeedsBundledConfig(t *testing.T) {
	b := &backend{step: 3, themeName: "echoes"}
	m := newManager(t, b, testModules(testTheme()), nil)
	require.NoError(t, m.Start(context.Background()))

	require.NotNil(t, m.Theme())
	assert.Equal(t, "echoes", m.Theme().Name)

	path := fmt.Sprintf("/field/theme/%d/data/config", fields.HashString("echoes"))
	body, ok := b.posted(path)
	require.True(t, ok, "bundled config is written back")

	var encoded string
	require.NoError(t, json.Unmarshal([]byte(body), &encoded))
	stored, err := theme.ParseDescriptor([]byte(encoded))
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", stored.Version)
}

func TestMissingBundleFallsBackToStepZero(t *testing.T) {
	b := &backend{step: 3, themeName: "unknown"}
	m := newManager(t, b, testModules(testTheme()), nil)

	err := m.Start(context.Background())
	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, KindTheme, ie.Kind)
	assert.ErrorIs(t, err, theme.ErrModuleNotFound)
	assert.Equal(t, 0, m.Step())
}

func TestSetStepReinitializes(t *testing.T) {
	b := &backend{step: 1, themeName: "echoes", storedConfig: testTheme()}
	m := newManager(t, b, testModules(testTheme()), nil)
	require.NoError(t, m.Start(context.Background()))
	assert.Nil(t, m.Theme())

	require.NoError(t, m.SetStep(context.Background(), 2))
	assert.Equal(t, 2, m.Step())
	assert.Nil(t, m.Theme())

	b.mu.Lock()
	b.step = 3
	b.mu.Unlock()

	require.NoError(t, m.SetStep(context.Background(), 3))
	assert.Equal(t, 3, m.Step())
	require.NotNil(t, m.Theme())

	_, status := renderPage(t, m, "/about")
	assert.Equal(t, http.StatusOK, status)
}

func TestUpdateTheme(t *testing.T) {
	broker := messaging.NewInMemoryBroker(logging.Discard())
	defer broker.Close()
	updated := make(chan messaging.Event, 1)
	broker.Subscribe(messaging.TopicThemeUpdated, func(e messaging.Event) { updated <- e })

	b := &backend{step: 3, themeName: "echoes", storedConfig: testTheme()}
	m := newManager(t, b, testModules(testTheme()), broker)
	require.NoError(t, m.Start(context.Background()))

	next := m.Theme()
	cfg, err := next.Configuration.With("title", serial.String("Renamed"))
	require.NoError(t, err)
	require.NoError(t, m.UpdateTheme(context.Background(), next.WithConfiguration(cfg)))

	body, _ := renderPage(t, m, "/about")
	assert.Equal(t, "<layout>about Renamed</layout>", body)

	_, ok := b.posted(fmt.Sprintf("/field/theme/%d/data/config", fields.HashString("echoes")))
	assert.True(t, ok)

	select {
	case e := <-updated:
		assert.Equal(t, messaging.SourceSystem, e.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("no theme.updated event")
	}

	bad := m.Theme()
	bad.Version = "x"
	assert.Error(t, m.UpdateTheme(context.Background(), bad))
	assert.Equal(t, "1.0.0", m.Theme().Version)
}

func TestUpdateThemeUnchangedIsNoop(t *testing.T) {
	broker := messaging.NewInMemoryBroker(logging.Discard())
	defer broker.Close()
	updated := make(chan messaging.Event, 1)
	broker.Subscribe(messaging.TopicThemeUpdated, func(e messaging.Event) { updated <- e })

	b := &backend{step: 3, themeName: "echoes", storedConfig: testTheme()}
	m := newManager(t, b, testModules(testTheme()), broker)
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.UpdateTheme(context.Background(), m.Theme()))

	_, ok := b.posted(fmt.Sprintf("/field/theme/%d/data/config", fields.HashString("echoes")))
	assert.False(t, ok)
	select {
	case <-updated:
		t.Fatal("unchanged theme was published")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestThemeIsACopy(t *testing.T) {
	b := &backend{step: 3, themeName: "echoes", storedConfig: testTheme()}
	m := newManager(t, b, testModules(testTheme()), nil)
	require.NoError(t, m.Start(context.Background()))

	d := m.Theme()
	d.Routes.Page["/about"] = "broken"

	body, _ := renderPage(t, m, "/about")
	assert.Equal(t, "<layout>about Echoes</layout>", body)
}

func TestParseStep(t *testing.T) {
	assert.Equal(t, 3, ParseStep(float64(3)))
	assert.Equal(t, 2, ParseStep("2"))
	assert.Equal(t, 4, ParseStep(`"4"`))
	assert.Equal(t, 1, ParseStep(map[string]any{"step": float64(1)}))
	assert.Equal(t, 0, ParseStep("x"))
	assert.Equal(t, 0, ParseStep(nil))
}

func TestLayoutKeepsErrorStatus(t *testing.T) {
	d := testTheme()
	d.GlobalSettings.Layout = "plain"
	modules := testModules(d)
	modules.Register("echoes", "plain", func(context.Context) (any, error) {
		return &render.Layout{Element: func(lp render.LayoutProps) render.Node {
			return render.Func(func(_ context.Context, w io.Writer) error {
				content, err := lp.Content()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(w, "<plain>%s</plain>", content)
				return err
			})
		}}, nil
	})

	m := newManager(t, &backend{step: 3, themeName: "echoes", storedConfig: d}, modules, nil)
	require.NoError(t, m.Start(context.Background()))

	body, status := renderPage(t, m, "/missing")
	assert.Equal(t, http.StatusNotFound, status)
	assert.True(t, strings.HasPrefix(body, "<plain>"), body)
}

func TestSetStepLogsPublishFailure(t *testing.T) {
	broker := messaging.NewInMemoryBroker(logging.Discard())
	require.NoError(t, broker.Close())

	logger, hook := logtest.NewNullLogger()
	srv := httptest.NewServer(&backend{step: 1, themeName: "echoes"})
	t.Cleanup(srv.Close)
	client := httpclient.New(httpclient.Options{APIBaseURL: srv.URL, Logger: logging.Discard()})
	m := New(Deps{HTTP: client, Modules: testModules(testTheme()), Broker: broker, Logger: logger})

	require.NoError(t, m.SetStep(context.Background(), 2))
	assert.Equal(t, 2, m.Step())

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Message == "module: failed to publish step change" {
			found = true
			assert.Equal(t, logrus.WarnLevel, e.Level)
		}
	}
	assert.True(t, found, "publish failure is logged")
}
