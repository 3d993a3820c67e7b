package theme

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/echoes-blog/echoes/internal/logging"
	"github.com/echoes-blog/echoes/internal/render"
)

// DescriptorPath is the module path every theme registers its descriptor
// under.
const DescriptorPath = "theme.config"

const (
	DefaultCacheSize   = 256
	DefaultCacheTTL    = 10 * time.Minute
	DefaultLoadTimeout = 5 * time.Second
)

var ErrModuleNotFound = errors.New("module not found")

// Loader produces a module: a *Descriptor, *render.Template or
// *render.Layout.
type Loader func(ctx context.Context) (any, error)

type Options struct {
	CacheSize   int
	CacheTTL    time.Duration
	LoadTimeout time.Duration
	Logger      logrus.FieldLogger
}

// Registry maps theme/path keys to loaders and caches what they produce.
// Failed loads are not cached, so a transient failure is retried on the
// next request.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]Loader

	cache   *expirable.LRU[string, any]
	timeout time.Duration
	log     logrus.FieldLogger
}

func NewRegistry(opts Options) *Registry {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	return &Registry{
		loaders: make(map[string]Loader),
		cache:   expirable.NewLRU[string, any](opts.CacheSize, nil, opts.CacheTTL),
		timeout: opts.LoadTimeout,
		log:     logging.OrDefault(opts.Logger),
	}
}

// Key namespaces a module path under its theme.
func Key(theme, p string) string {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return theme + "/" + p
}

// Register installs the loader for theme/p, replacing any previous one.
func (r *Registry) Register(theme, p string, l Loader) {
	key := Key(theme, p)
	r.mu.Lock()
	r.loaders[key] = l
	r.mu.Unlock()
	r.cache.Remove(key)
}

// RegisterDescriptor installs a static descriptor for d.Name.
func (r *Registry) RegisterDescriptor(d *Descriptor) {
	d = d.Clone()
	r.Register(d.Name, DescriptorPath, func(context.Context) (any, error) {
		return d.Clone(), nil
	})
}

func (r *Registry) Has(theme, p string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaders[Key(theme, p)]
	return ok
}

// Themes lists the themes that registered a descriptor.
func (r *Registry) Themes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	suffix := "/" + DescriptorPath
	var out []string
	for key := range r.loaders {
		if name, ok := strings.CutSuffix(key, suffix); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Purge drops every cached module of theme.
func (r *Registry) Purge(theme string) {
	prefix := theme + "/"
	for _, key := range r.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			r.cache.Remove(key)
		}
	}
}

type loadResult struct {
	module any
	err    error
}

// Load resolves theme/p. The loader runs under the registry's load timeout
// and is abandoned if it does not return in time.
func (r *Registry) Load(ctx context.Context, theme, p string) (any, error) {
	key := Key(theme, p)
	if m, ok := r.cache.Get(key); ok {
		return m, nil
	}

	r.mu.RLock()
	l, ok := r.loaders[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, key)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ch := make(chan loadResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- loadResult{err: fmt.Errorf("loader panicked: %v", rec)}
			}
		}()
		m, err := l(ctx)
		ch <- loadResult{module: m, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			r.log.WithError(res.err).WithField("module", key).Warn("theme: module failed to load")
			return nil, fmt.Errorf("failed to load module %s: %w", key, res.err)
		}
		if res.module == nil {
			return nil, fmt.Errorf("failed to load module %s: loader returned nothing", key)
		}
		r.cache.Add(key, res.module)
		return res.module, nil
	case <-ctx.Done():
		r.log.WithField("module", key).Warn("theme: module load timed out")
		return nil, fmt.Errorf("failed to load module %s: %w", key, ctx.Err())
	}
}

func (r *Registry) LoadTemplate(ctx context.Context, theme, p string) (*render.Template, error) {
	m, err := r.Load(ctx, theme, p)
	if err != nil {
		return nil, err
	}
	t, ok := m.(*render.Template)
	if !ok || t.Element == nil {
		return nil, fmt.Errorf("module %s is not a template (got %T)", Key(theme, p), m)
	}
	return t, nil
}

func (r *Registry) LoadLayout(ctx context.Context, theme, p string) (*render.Layout, error) {
	m, err := r.Load(ctx, theme, p)
	if err != nil {
		return nil, err
	}
	l, ok := m.(*render.Layout)
	if !ok || l.Element == nil {
		return nil, fmt.Errorf("module %s is not a layout (got %T)", Key(theme, p), m)
	}
	return l, nil
}

// LoadDescriptor returns a private copy of the bundled descriptor of theme.
func (r *Registry) LoadDescriptor(ctx context.Context, theme string) (*Descriptor, error) {
	m, err := r.Load(ctx, theme, DescriptorPath)
	if err != nil {
		return nil, err
	}
	d, ok := m.(*Descriptor)
	if !ok {
		return nil, fmt.Errorf("module %s is not a theme descriptor (got %T)", Key(theme, DescriptorPath), m)
	}
	return d.Clone(), nil
}
