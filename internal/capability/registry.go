// Package capability is a name-keyed multicast registry. Plugins contribute
// executors under a capability name and consumers invoke every executor for
// that name without knowing who provided them.
package capability

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/echoes-blog/echoes/internal/logging"
)

var namePattern = regexp.MustCompile(`^[a-z][a-zA-Z0-9_]*$`)

// ExecuteFunc runs a capability. It may block; ctx is canceled when the
// caller gives up.
type ExecuteFunc func(ctx context.Context, args ...any) (any, error)

type Capability struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Execute     ExecuteFunc `json:"-"`
}

// Validate reports whether c may be registered.
func Validate(c Capability) bool {
	return c.Execute != nil && namePattern.MatchString(c.Name)
}

type entry struct {
	source string
	cap    Capability
}

// Outcome is the settled result of one executor.
type Outcome struct {
	Source string `json:"source"`
	Value  any    `json:"value,omitempty"`
	Err    error  `json:"-"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	buckets map[string][]entry
	log     logrus.FieldLogger
}

func NewRegistry(log logrus.FieldLogger) *Registry {
	return &Registry{
		buckets: make(map[string][]entry),
		log:     logging.OrDefault(log),
	}
}

// Register adds c under c.Name on behalf of source. Invalid capabilities are
// dropped and false is returned. Registering the same source and name again
// replaces the earlier executor.
func (r *Registry) Register(source string, c Capability) bool {
	if !Validate(c) {
		r.log.WithFields(logrus.Fields{"source": source, "capability": c.Name}).
			Warn("capability: rejected invalid capability")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.buckets[c.Name]
	for i, e := range bucket {
		if e.source == source {
			bucket[i].cap = c
			return true
		}
	}
	r.buckets[c.Name] = append(bucket, entry{source: source, cap: c})
	return true
}

// RemoveSource drops every registration made by source.
func (r *Registry) RemoveSource(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, bucket := range r.buckets {
		kept := bucket[:0]
		for _, e := range bucket {
			if e.source != source {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(r.buckets, name)
		} else {
			r.buckets[name] = kept
		}
	}
}

// RemoveName drops the whole bucket for name.
func (r *Registry) RemoveName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, name)
}

// Names lists registered capability names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.buckets))
	for name := range r.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sources lists who provides name, in registration order.
func (r *Registry) Sources(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, e := range r.buckets[name] {
		out = append(out, e.source)
	}
	return out
}

// Describe returns the registered capabilities for name.
func (r *Registry) Describe(name string) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Capability
	for _, e := range r.buckets[name] {
		out = append(out, e.cap)
	}
	return out
}

func (r *Registry) snapshot(name string) []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]entry(nil), r.buckets[name]...)
}

// Settle runs every executor registered under name concurrently and waits
// for all of them. The outcomes are in registration order; a failing or
// panicking executor yields an Outcome with Err set and never affects its
// siblings.
func (r *Registry) Settle(ctx context.Context, name string, args ...any) []Outcome {
	entries := r.snapshot(name)
	outcomes := make([]Outcome, len(entries))

	// Executors never return an error to the group, so one failure does
	// not cancel the others.
	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			outcomes[i] = r.run(ctx, e, args)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Execute is Settle reduced to the successful values.
func (r *Registry) Execute(ctx context.Context, name string, args ...any) []any {
	var out []any
	for _, o := range r.Settle(ctx, name, args...) {
		if o.Err == nil {
			out = append(out, o.Value)
		}
	}
	return out
}

// Go starts every executor for name and returns without waiting.
func (r *Registry) Go(ctx context.Context, name string, args ...any) *Pending {
	entries := r.snapshot(name)
	p := &Pending{done: make(chan struct{})}

	var wg sync.WaitGroup
	wg.Add(len(entries))
	for _, e := range entries {
		go func() {
			defer wg.Done()
			o := r.run(ctx, e, args)
			if o.Err == nil {
				p.mu.Lock()
				p.values = append(p.values, o.Value)
				p.mu.Unlock()
			}
		}()
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()
	return p
}

func (r *Registry) run(ctx context.Context, e entry, args []any) (o Outcome) {
	o.Source = e.source
	log := r.log.WithFields(logrus.Fields{"source": e.source, "capability": e.cap.Name})

	defer func() {
		if rec := recover(); rec != nil {
			o.Value = nil
			o.Err = fmt.Errorf("capability %s from %s panicked: %v", e.cap.Name, e.source, rec)
			log.WithField("panic", rec).Error("capability: executor panicked")
		}
	}()

	v, err := e.cap.Execute(ctx, args...)
	if err != nil {
		log.WithError(err).Warn("capability: executor failed")
		o.Err = err
		return o
	}
	o.Value = v
	return o
}

// Pending tracks a best-effort invocation started with Go.
type Pending struct {
	mu     sync.Mutex
	values []any
	done   chan struct{}
}

// Snapshot returns the values collected so far. It may be partial.
func (p *Pending) Snapshot() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.values...)
}

// Done is closed once every executor has returned.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until every executor has returned or ctx ends, then returns
// what was collected.
func (p *Pending) Wait(ctx context.Context) ([]any, error) {
	select {
	case <-p.done:
		return p.Snapshot(), nil
	case <-ctx.Done():
		return p.Snapshot(), ctx.Err()
	}
}
