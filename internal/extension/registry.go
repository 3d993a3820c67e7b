// Package extension holds the named slots plugins attach actions, components
// and text to.
package extension

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/echoes-blog/echoes/internal/logging"
	"github.com/echoes-blog/echoes/internal/render"
	"github.com/echoes-blog/echoes/internal/serial"
)

// Handler is one contribution to an extension point.
type Handler func(ctx context.Context, args ...any) (any, error)

// Extension is what a plugin attaches to a point. Any field may be nil.
type Extension struct {
	Action    Handler
	Component Handler
	Text      Handler
}

type registration struct {
	plugin string
	ext    Extension
}

// Registry is safe for concurrent use. Triggering a point never returns an
// error: a failing handler is logged and left out.
type Registry struct {
	mu      sync.RWMutex
	points  map[string][]registration
	configs map[string]serial.Configuration
	log     logrus.FieldLogger
}

func NewRegistry(log logrus.FieldLogger) *Registry {
	return &Registry{
		points:  make(map[string][]registration),
		configs: make(map[string]serial.Configuration),
		log:     logging.OrDefault(log),
	}
}

func (r *Registry) Register(point, plugin string, ext Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points[point] = append(r.points[point], registration{plugin: plugin, ext: ext})
}

// SetConfiguration stores the settings a plugin's handlers read.
func (r *Registry) SetConfiguration(plugin string, cfg serial.Configuration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[plugin] = cfg.Clone()
}

func (r *Registry) Configuration(plugin string) (serial.Configuration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[plugin]
	return cfg.Clone(), ok
}

// RemovePlugin drops every registration and the configuration of plugin.
func (r *Registry) RemovePlugin(plugin string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for point, regs := range r.points {
		kept := regs[:0]
		for _, reg := range regs {
			if reg.plugin != plugin {
				kept = append(kept, reg)
			}
		}
		if len(kept) == 0 {
			delete(r.points, point)
		} else {
			r.points[point] = kept
		}
	}
	delete(r.configs, plugin)
}

// Points lists extension points with at least one registration.
func (r *Registry) Points() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.points))
	for p := range r.points {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Plugins lists who contributes to point, in registration order.
func (r *Registry) Plugins(point string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, reg := range r.points[point] {
		out = append(out, reg.plugin)
	}
	return out
}

func (r *Registry) snapshot(point string) []registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]registration(nil), r.points[point]...)
}

// TriggerAction runs every action attached to point.
func (r *Registry) TriggerAction(ctx context.Context, point string, args ...any) {
	for _, reg := range r.snapshot(point) {
		if reg.ext.Action != nil {
			r.call(ctx, point, "action", reg.plugin, reg.ext.Action, args)
		}
	}
}

// TriggerComponent collects the renderable results of every component
// handler. Anything that is not a node or a non-empty string is dropped.
func (r *Registry) TriggerComponent(ctx context.Context, point string, args ...any) []render.Node {
	var out []render.Node
	for _, reg := range r.snapshot(point) {
		if reg.ext.Component == nil {
			continue
		}
		v, ok := r.call(ctx, point, "component", reg.plugin, reg.ext.Component, args)
		if !ok {
			continue
		}
		if n, valid := render.Valid(v); valid {
			out = append(out, n)
		} else {
			r.log.WithFields(logrus.Fields{"point": point, "plugin": reg.plugin}).
				Debugf("extension: dropped component result of type %T", v)
		}
	}
	return out
}

// TriggerText collects the distinct non-empty strings returned by every
// text handler, in first-seen order.
func (r *Registry) TriggerText(ctx context.Context, point string, args ...any) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, reg := range r.snapshot(point) {
		if reg.ext.Text == nil {
			continue
		}
		v, ok := r.call(ctx, point, "text", reg.plugin, reg.ext.Text, args)
		if !ok {
			continue
		}
		s, isString := v.(string)
		if !isString || s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (r *Registry) call(ctx context.Context, point, kind, plugin string, h Handler, args []any) (v any, ok bool) {
	log := r.log.WithFields(logrus.Fields{"point": point, "plugin": plugin, "kind": kind})
	defer func() {
		if rec := recover(); rec != nil {
			log.WithError(fmt.Errorf("%v", rec)).Error("extension: handler panicked")
			v, ok = nil, false
		}
	}()

	v, err := h(ctx, args...)
	if err != nil {
		log.WithError(err).Warn("extension: handler failed")
		return nil, false
	}
	return v, true
}
