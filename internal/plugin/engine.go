package plugin

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/echoes-blog/echoes/internal/capability"
	"github.com/echoes-blog/echoes/internal/extension"
	"github.com/echoes-blog/echoes/internal/httputil"
	"github.com/echoes-blog/echoes/internal/logging"
	"github.com/echoes-blog/echoes/internal/messaging"
	"github.com/echoes-blog/echoes/internal/serial"
)

type EngineOptions struct {
	Capabilities *capability.Registry
	Extensions   *extension.Registry
	Store        Store
	Broker       messaging.Broker
	Host         *Host
	Logger       logrus.FieldLogger
}

// Engine owns the known plugins and keeps the capability and extension
// registries in step with which of them are enabled.
type Engine struct {
	plugins map[string]Plugin
	enabled map[string]bool
	configs map[string]serial.Configuration
	opts    EngineOptions
	log     logrus.FieldLogger
	mu      sync.RWMutex
}

func NewEngine(opts EngineOptions) *Engine {
	if opts.Capabilities == nil {
		opts.Capabilities = capability.NewRegistry(opts.Logger)
	}
	if opts.Extensions == nil {
		opts.Extensions = extension.NewRegistry(opts.Logger)
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Host == nil {
		opts.Host = &Host{}
	}
	if opts.Host.Extensions == nil {
		opts.Host.Extensions = opts.Extensions
	}
	if opts.Host.Logger == nil {
		opts.Host.Logger = logging.OrDefault(opts.Logger)
	}
	return &Engine{
		plugins: make(map[string]Plugin),
		enabled: make(map[string]bool),
		configs: make(map[string]serial.Configuration),
		opts:    opts,
		log:     logging.OrDefault(opts.Logger),
	}
}

func (e *Engine) Capabilities() *capability.Registry { return e.opts.Capabilities }

func (e *Engine) Extensions() *extension.Registry { return e.opts.Extensions }

func (e *Engine) Register(p Plugin) error {
	m := p.Manifest()
	if err := m.Validate(); err != nil {
		return err
	}
	if p.ID() != m.Name {
		return fmt.Errorf("plugin id %q does not match manifest name %q", p.ID(), m.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.plugins[m.Name]; exists {
		return fmt.Errorf("plugin %q is already registered", m.Name)
	}

	e.plugins[m.Name] = p
	return nil
}

// Enable starts a plugin and registers its capabilities and extensions under
// its name. Enabling an enabled plugin is a no-op.
func (e *Engine) Enable(ctx context.Context, pluginID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enable(ctx, pluginID); err != nil {
		return err
	}
	e.persist(ctx)
	e.publish(messaging.TopicPluginEnabled, pluginID)
	return nil
}

func (e *Engine) enable(ctx context.Context, pluginID string) error {
	p, ok := e.plugins[pluginID]
	if !ok {
		return fmt.Errorf("plugin %q not found", pluginID)
	}
	if e.enabled[pluginID] {
		return nil
	}

	if err := p.OnEnable(ctx, e.opts.Host); err != nil {
		return fmt.Errorf("failed to enable plugin %q: %w", pluginID, err)
	}

	for _, c := range p.Capabilities() {
		e.opts.Capabilities.Register(pluginID, c)
	}
	for _, c := range p.Extensions() {
		e.opts.Extensions.Register(c.Point, pluginID, c.Extension)
	}
	e.opts.Extensions.SetConfiguration(pluginID, e.configuration(p))

	e.enabled[pluginID] = true
	e.log.WithField("plugin", pluginID).Info("plugin enabled")
	return nil
}

// Disable withdraws everything the plugin registered before stopping it.
func (e *Engine) Disable(ctx context.Context, pluginID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.plugins[pluginID]
	if !ok {
		return fmt.Errorf("plugin %q not found", pluginID)
	}
	if !e.enabled[pluginID] {
		return nil
	}

	e.opts.Capabilities.RemoveSource(pluginID)
	e.opts.Extensions.RemovePlugin(pluginID)
	e.enabled[pluginID] = false

	if err := p.OnDisable(ctx, e.opts.Host); err != nil {
		e.log.WithError(err).WithField("plugin", pluginID).Warn("plugin failed to shut down cleanly")
	}
	e.log.WithField("plugin", pluginID).Info("plugin disabled")

	e.persist(ctx)
	e.publish(messaging.TopicPluginDisabled, pluginID)
	return nil
}

// Restore enables the plugins the store lists. Unknown or failing plugins
// are logged and skipped.
func (e *Engine) Restore(ctx context.Context) error {
	names, err := e.opts.Store.LoadEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enabled plugins: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range names {
		if err := e.enable(ctx, name); err != nil {
			e.log.WithError(err).WithField("plugin", name).Warn("skipping plugin on restore")
		}
	}
	return nil
}

// Configure sets data on a plugin's settings. Keys the manifest does not
// declare are rejected and nothing changes.
func (e *Engine) Configure(pluginID string, values map[string]serial.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.plugins[pluginID]
	if !ok {
		return fmt.Errorf("plugin %q not found", pluginID)
	}

	cfg := e.configuration(p)
	for key, v := range values {
		next, err := cfg.With(key, v)
		if err != nil {
			return fmt.Errorf("plugin %q: %w", pluginID, err)
		}
		cfg = next
	}
	if cfg.SameAs(e.configuration(p)) {
		return nil
	}

	e.configs[pluginID] = cfg
	if e.enabled[pluginID] {
		e.opts.Extensions.SetConfiguration(pluginID, cfg)
	}
	e.publish(messaging.TopicPluginConfigured, pluginID)
	return nil
}

func (e *Engine) configuration(p Plugin) serial.Configuration {
	if cfg, ok := e.configs[p.ID()]; ok {
		return cfg
	}
	return p.Manifest().Configuration
}

// persist must be called with e.mu held.
func (e *Engine) persist(ctx context.Context) {
	var names []string
	for id, on := range e.enabled {
		if on {
			names = append(names, id)
		}
	}
	if err := e.opts.Store.SaveEnabled(ctx, names); err != nil {
		e.log.WithError(err).Warn("failed to persist enabled plugins")
	}
}

func (e *Engine) publish(topic, pluginID string) {
	payload := map[string]string{"plugin": pluginID}
	if err := messaging.Emit(e.opts.Broker, topic, messaging.SourceSystem, payload); err != nil {
		e.log.WithError(err).WithField("topic", topic).Warn("failed to publish plugin event")
	}
}

func (e *Engine) IsEnabled(pluginID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled[pluginID]
}

func (e *Engine) GetManifest(pluginID string) (*Manifest, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.plugins[pluginID]
	if !ok {
		return nil, fmt.Errorf("plugin %q not found", pluginID)
	}

	m := p.Manifest()
	m.Configuration = e.configuration(p).Clone()
	return &m, nil
}

func (e *Engine) ListEnabled() []Manifest {
	e.mu.RLock()
	defer e.mu.RUnlock()

	manifests := []Manifest{}
	for _, id := range e.sortedIDs() {
		if e.enabled[id] {
			manifests = append(manifests, e.plugins[id].Manifest())
		}
	}
	return manifests
}

func (e *Engine) ListAll() []PluginInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := []PluginInfo{}
	for _, id := range e.sortedIDs() {
		infos = append(infos, PluginInfo{
			Manifest: e.plugins[id].Manifest(),
			Enabled:  e.enabled[id],
		})
	}
	return infos
}

func (e *Engine) sortedIDs() []string {
	ids := make([]string, 0, len(e.plugins))
	for id := range e.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type PluginInfo struct {
	Manifest Manifest `json:"manifest"`
	Enabled  bool     `json:"enabled"`
}

// RegisterAllRoutes mounts every plugin under /api/plugins/{name}/. Requests
// to a disabled plugin get 404.
func (e *Engine) RegisterAllRoutes(router *mux.Router) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, id := range e.sortedIDs() {
		sub := router.PathPrefix("/api/plugins/" + id).Subrouter()
		sub.Use(e.enabledGuard(id))
		e.plugins[id].RegisterRoutes(sub, e.opts.Host)
	}
}

func (e *Engine) enabledGuard(id string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !e.IsEnabled(id) {
				httputil.WriteError(w, http.StatusNotFound, fmt.Sprintf("plugin %q is not enabled", id))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
