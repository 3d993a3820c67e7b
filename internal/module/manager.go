// Package module decides what the public site renders: it tracks the
// install step, resolves the active theme from the backend and composes
// page templates inside the theme layout.
package module

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/echoes-blog/echoes/internal/capability"
	"github.com/echoes-blog/echoes/internal/extension"
	"github.com/echoes-blog/echoes/internal/fields"
	"github.com/echoes-blog/echoes/internal/httpclient"
	"github.com/echoes-blog/echoes/internal/logging"
	"github.com/echoes-blog/echoes/internal/messaging"
	"github.com/echoes-blog/echoes/internal/render"
	"github.com/echoes-blog/echoes/internal/route"
	"github.com/echoes-blog/echoes/internal/serial"
	"github.com/echoes-blog/echoes/internal/theme"
)

// ReadyStep is the install step from which the site serves a theme.
const ReadyStep = 3

// ActionPageView is triggered after every served page with the path and the
// response status.
const ActionPageView = "site.pageView"

const (
	fieldCurrentTheme = "current_theme"
	fieldThemeConfig  = "config"
)

// Deps are the collaborators a Manager is built from. Broker may be nil.
type Deps struct {
	HTTP         *httpclient.Client
	Modules      *theme.Registry
	Capabilities *capability.Registry
	Extensions   *extension.Registry
	Broker       messaging.Broker
	Logger       logrus.FieldLogger
}

type state struct {
	step        int
	initialized bool
	theme       *theme.Descriptor
	routes      *route.Table
	layout      *render.Layout
	lastErr     *InitError
}

// Manager is safe for concurrent use. Initialization runs one at a time;
// page lookups read a consistent snapshot of the last committed state.
type Manager struct {
	deps Deps
	log  logrus.FieldLogger

	initMu sync.Mutex

	mu sync.RWMutex
	st state
}

func New(deps Deps) *Manager {
	if deps.Capabilities == nil {
		deps.Capabilities = capability.NewRegistry(deps.Logger)
	}
	if deps.Extensions == nil {
		deps.Extensions = extension.NewRegistry(deps.Logger)
	}
	return &Manager{deps: deps, log: logging.OrDefault(deps.Logger)}
}

// Start runs the initial resolution. It always leaves the manager
// initialized; the returned error is the same as LastError.
func (m *Manager) Start(ctx context.Context) error {
	return m.init(ctx)
}

func (m *Manager) Step() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.step
}

func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.initialized
}

// Theme returns a copy of the current theme, or nil.
func (m *Manager) Theme() *theme.Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.theme.Clone()
}

// LastError reports why the last initialization fell back to step 0.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.st.lastErr == nil {
		return nil
	}
	return m.st.lastErr
}

// SetStep records the install step. From ReadyStep on it re-runs the full
// initialization so a freshly finished setup is picked up without a
// restart.
func (m *Manager) SetStep(ctx context.Context, step int) error {
	m.mu.Lock()
	m.st.step = step
	m.mu.Unlock()

	if err := messaging.Emit(m.deps.Broker, messaging.TopicStepChanged, messaging.SourceSystem, map[string]int{"step": step}); err != nil {
		m.log.WithError(err).Warn("module: failed to publish step change")
	}

	if step >= ReadyStep {
		return m.init(ctx)
	}
	return nil
}

func (m *Manager) init(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	next, err := m.resolve(ctx)
	if err != nil {
		var ie *InitError
		if !errors.As(err, &ie) {
			ie = &InitError{Kind: KindTheme, Err: err}
		}
		m.log.WithError(ie.Err).WithField("kind", ie.Kind).Error("module: initialization failed, falling back to setup")

		m.mu.Lock()
		m.st.step = 0
		m.st.initialized = true
		m.st.lastErr = ie
		m.mu.Unlock()
		return ie
	}

	m.mu.Lock()
	if next.theme == nil {
		// Not installed yet: only the step changes.
		m.st.step = next.step
	} else {
		m.st = next
	}
	m.st.initialized = true
	m.st.lastErr = nil
	m.mu.Unlock()
	return nil
}

// resolve runs the initialization chain without touching the committed
// state. Every step depends on the one before it.
func (m *Manager) resolve(ctx context.Context) (state, error) {
	client := m.deps.HTTP
	if client == nil {
		return state{}, fail(KindStep, errors.New("no HTTP client configured"))
	}

	var raw any
	if err := client.Get(ctx, "/step", &raw); err != nil {
		return state{}, fail(KindStep, err)
	}
	next := state{step: ParseStep(raw)}
	if next.step < ReadyStep {
		return next, nil
	}

	token, err := client.SystemToken(ctx)
	if err != nil {
		return state{}, fail(KindAuth, err)
	}
	auth := httpclient.WithBearer(token)

	var system []fields.Field
	if err := client.Get(ctx, "/field/system/0", &system, auth); err != nil {
		return state{}, fail(KindFields, err)
	}
	system = fields.Deserialize(system)
	if len(system) == 0 || system[0].Type == "" {
		return state{}, fail(KindFields, errors.New("system fields are missing or malformed"))
	}

	current, ok := fields.Find(system, fieldCurrentTheme, fields.TypeData)
	name, _ := current.String()
	if !ok || strings.TrimSpace(name) == "" {
		return state{}, fail(KindFields, errors.New("no current theme selected"))
	}
	themeID := fields.HashString(name)

	var rawThemeFields []fields.Field
	if err := client.Get(ctx, fmt.Sprintf("/field/theme/%d", themeID), &rawThemeFields, auth); err != nil {
		return state{}, fail(KindFields, err)
	}
	themeFields := fields.Deserialize(rawThemeFields)

	var desc *theme.Descriptor
	if f, ok := fields.Find(themeFields, fieldThemeConfig, fields.TypeData); ok && f.Value != nil {
		desc = &theme.Descriptor{}
		if err := f.Decode(desc); err != nil {
			return state{}, fail(KindTheme, fmt.Errorf("failed to decode stored theme config: %w", err))
		}
	} else {
		if m.deps.Modules == nil {
			return state{}, fail(KindTheme, errors.New("no module registry configured"))
		}
		desc, err = m.deps.Modules.LoadDescriptor(ctx, name)
		if err != nil {
			return state{}, fail(KindTheme, err)
		}
		if err := m.persist(ctx, themeID, desc, auth); err != nil {
			return state{}, fail(KindFields, err)
		}
		m.log.WithField("theme", name).Info("module: seeded theme configuration from bundle")
	}
	if desc.Name == "" {
		desc.Name = name
	}
	if err := desc.Validate(); err != nil {
		return state{}, fail(KindTheme, err)
	}

	next.theme = desc
	next.routes = routesOf(desc)
	next.layout = m.loadLayout(ctx, desc)
	return next, nil
}

// persist stores desc as the theme's config field. The backend keeps field
// values as text, so the descriptor travels as a JSON string.
func (m *Manager) persist(ctx context.Context, themeID int64, desc *theme.Descriptor, opts ...httpclient.RequestOption) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("failed to encode theme config: %w", err)
	}
	endpoint := fmt.Sprintf("/field/theme/%d/data/%s", themeID, fieldThemeConfig)
	return m.deps.HTTP.Post(ctx, endpoint, string(data), nil, opts...)
}

// loadLayout imports the layout eagerly. A missing or broken layout leaves
// pages unwrapped.
func (m *Manager) loadLayout(ctx context.Context, desc *theme.Descriptor) *render.Layout {
	p := desc.LayoutPath()
	if p == "" || m.deps.Modules == nil {
		return nil
	}
	layout, err := m.deps.Modules.LoadLayout(ctx, desc.Name, p)
	if err != nil {
		m.log.WithError(err).WithField("theme", desc.Name).Warn("module: failed to load layout")
		return nil
	}
	return layout
}

func routesOf(d *theme.Descriptor) *route.Table {
	return route.New(route.Spec{
		Index:    d.Routes.Index,
		Post:     d.Routes.Post,
		Tag:      d.Routes.Tag,
		Category: d.Routes.Category,
		Pages:    d.Routes.Page,
	})
}

// ParseStep accepts the number-like bodies /step answers with.
func ParseStep(raw any) int {
	switch v := raw.(type) {
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.Trim(strings.TrimSpace(v), `"`))
		if err != nil {
			return 0
		}
		return n
	case map[string]any:
		return ParseStep(v["step"])
	}
	return 0
}

func (m *Manager) snapshot() state {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st
}

// Routes returns the route table of the current theme, or nil.
func (m *Manager) Routes() *route.Table {
	return m.snapshot().routes
}

func (m *Manager) props(st state, path string, params map[string]string) render.Props {
	p := render.Props{
		Path:         path,
		Params:       params,
		HTTP:         m.deps.HTTP,
		Capabilities: m.deps.Capabilities,
		Extensions:   m.deps.Extensions,
		Log:          m.log,
	}
	if st.theme != nil {
		p.Args = st.theme.Configuration.Clone()
	}
	return p
}

// GetPage returns what to render for path. It never fails: unknown paths
// and broken templates render the error page, inside the layout when the
// theme has one.
func (m *Manager) GetPage(ctx context.Context, path string) render.Node {
	st := m.snapshot()
	if st.theme == nil || st.routes == nil {
		return render.Compose(st.layout, m.props(st, path, nil), m.errorNode(st, path, http.StatusServiceUnavailable, errors.New("site is not set up yet")))
	}

	match, ok := st.routes.Lookup(path)
	if !ok {
		return render.Compose(st.layout, m.props(st, path, nil), m.errorNode(st, path, http.StatusNotFound, nil))
	}

	props := m.props(st, path, match.Params)
	tmplPath := st.theme.TemplatePath(match.TemplateKey)
	themeName := st.theme.Name

	page := render.Lazy(func(ctx context.Context) (render.Node, error) {
		if m.deps.Modules == nil {
			return nil, errors.New("no module registry configured")
		}
		tmpl, err := m.deps.Modules.LoadTemplate(ctx, themeName, tmplPath)
		if err != nil {
			return nil, err
		}
		args := props
		if len(tmpl.Config) > 0 {
			args.Args = mergeConfig(tmpl.Config, props.Args)
		}
		return tmpl.Element(args), nil
	})

	node := render.Boundary(page, func(err error) render.Node {
		m.log.WithError(err).WithFields(logrus.Fields{"path": path, "template": tmplPath}).
			Warn("module: page failed to render")
		return m.errorNode(st, path, http.StatusInternalServerError, err)
	})
	return render.Compose(st.layout, props, node)
}

// errorNode renders the theme's error template when it declares one and
// the built-in page otherwise or when the theme's own fails.
func (m *Manager) errorNode(st state, path string, status int, cause error) render.Node {
	builtin := render.ErrorPage(status, "")
	if st.theme == nil || st.theme.Routes.Error == "" || m.deps.Modules == nil {
		return builtin
	}

	tmplPath := st.theme.TemplatePath(st.theme.Routes.Error)
	themeName := st.theme.Name
	props := render.ErrorProps(m.props(st, path, nil), status, cause)

	custom := render.Lazy(func(ctx context.Context) (render.Node, error) {
		tmpl, err := m.deps.Modules.LoadTemplate(ctx, themeName, tmplPath)
		if err != nil {
			return nil, err
		}
		return render.Fragment{
			render.Func(func(ctx context.Context, _ io.Writer) error {
				render.SetStatus(ctx, status)
				return nil
			}),
			tmpl.Element(props),
		}, nil
	})
	return render.Boundary(custom, func(err error) render.Node {
		m.log.WithError(err).WithField("template", tmplPath).Warn("module: error template failed")
		return builtin
	})
}

// mergeConfig overlays theme configuration on template defaults.
func mergeConfig(defaults, overrides serial.Configuration) serial.Configuration {
	out := make(serial.Configuration, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// UpdateTheme validates d, persists it as the theme's stored config and
// makes it the current theme. The previous theme is replaced wholesale.
func (m *Manager) UpdateTheme(ctx context.Context, d *theme.Descriptor) error {
	if d == nil {
		return errors.New("theme descriptor is required")
	}
	d = d.Clone()
	if err := d.Validate(); err != nil {
		return err
	}
	if m.deps.HTTP == nil {
		return errors.New("no HTTP client configured")
	}

	m.initMu.Lock()
	defer m.initMu.Unlock()

	m.mu.RLock()
	unchanged := m.st.theme.SameAs(d)
	m.mu.RUnlock()
	if unchanged {
		m.log.WithField("theme", d.Name).Debug("module: theme unchanged, skipping update")
		return nil
	}

	token, err := m.deps.HTTP.SystemToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain system token: %w", err)
	}
	if err := m.persist(ctx, d.ID(), d, httpclient.WithBearer(token)); err != nil {
		return fmt.Errorf("failed to persist theme config: %w", err)
	}

	if m.deps.Modules != nil {
		m.deps.Modules.Purge(d.Name)
	}
	routes := routesOf(d)
	layout := m.loadLayout(ctx, d)

	m.mu.Lock()
	m.st.theme = d
	m.st.routes = routes
	m.st.layout = layout
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"theme": d.Name, "version": d.Version}).Info("module: theme updated")
	if err := messaging.Emit(m.deps.Broker, messaging.TopicThemeUpdated, messaging.SourceSystem, map[string]string{
		"name":    d.Name,
		"version": d.Version,
	}); err != nil {
		m.log.WithError(err).Warn("module: failed to publish theme update")
	}
	return nil
}
