// Package theme describes themes and resolves their modules (descriptor,
// layout, page templates) through a loader registry.
package theme

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"sigs.k8s.io/yaml"

	"github.com/echoes-blog/echoes/internal/fields"
	"github.com/echoes-blog/echoes/internal/serial"
)

// TemplateRef points a template key at the module implementing it.
type TemplateRef struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type GlobalSettings struct {
	Layout string `json:"layout,omitempty"`
	CSS    string `json:"css,omitempty"`
}

// Routes maps the built-in routes and custom page paths to template keys.
type Routes struct {
	Index    string            `json:"index"`
	Post     string            `json:"post"`
	Tag      string            `json:"tag"`
	Category string            `json:"category"`
	Error    string            `json:"error"`
	Page     map[string]string `json:"page,omitempty"`
}

type Descriptor struct {
	Name           string                 `json:"name"`
	DisplayName    string                 `json:"displayName"`
	Version        string                 `json:"version"`
	Icon           string                 `json:"icon,omitempty"`
	Description    string                 `json:"description,omitempty"`
	Author         string                 `json:"author,omitempty"`
	Templates      map[string]TemplateRef `json:"templates"`
	GlobalSettings *GlobalSettings        `json:"globalSettings,omitempty"`
	Configuration  serial.Configuration   `json:"configuration"`
	Routes         Routes                 `json:"routes"`
}

// ID is the numeric id the backend stores theme fields under.
func (d *Descriptor) ID() int64 {
	return fields.HashString(d.Name)
}

// LayoutPath returns the declared layout module path, or "".
func (d *Descriptor) LayoutPath() string {
	if d.GlobalSettings == nil {
		return ""
	}
	return d.GlobalSettings.Layout
}

// TemplatePath resolves a template key to its module path, or "" when the
// theme declares no such template.
func (d *Descriptor) TemplatePath(key string) string {
	return d.Templates[key].Path
}

// Clone returns a deep copy. The current theme is shared between requests
// and must never be modified in place.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	cp := *d
	if d.Templates != nil {
		cp.Templates = make(map[string]TemplateRef, len(d.Templates))
		for k, v := range d.Templates {
			cp.Templates[k] = v
		}
	}
	if d.GlobalSettings != nil {
		gs := *d.GlobalSettings
		cp.GlobalSettings = &gs
	}
	cp.Configuration = d.Configuration.Clone()
	if d.Routes.Page != nil {
		cp.Routes.Page = make(map[string]string, len(d.Routes.Page))
		for k, v := range d.Routes.Page {
			cp.Routes.Page[k] = v
		}
	}
	return &cp
}

// SameAs reports whether d and o encode to the same canonical JSON.
func (d *Descriptor) SameAs(o *Descriptor) bool {
	if d == nil || o == nil {
		return d == o
	}
	a, err := serial.CanonicalJSON(d)
	if err != nil {
		return false
	}
	b, err := serial.CanonicalJSON(o)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// WithConfiguration returns a copy of d carrying cfg.
func (d *Descriptor) WithConfiguration(cfg serial.Configuration) *Descriptor {
	cp := d.Clone()
	cp.Configuration = cfg.Clone()
	return cp
}

//go:embed descriptor.schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("failed to unmarshal descriptor schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("theme-descriptor.json", doc); err != nil {
			schemaErr = fmt.Errorf("failed to add descriptor schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("theme-descriptor.json")
	})
	return schema, schemaErr
}

// ValidateJSON checks a raw descriptor document against the schema.
func ValidateJSON(data []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid theme descriptor: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("invalid theme descriptor: %w", err)
	}
	return nil
}

// Validate checks d against the schema plus the rules a schema cannot
// express: a semantic version and references to known templates.
func (d *Descriptor) Validate() error {
	cp := d.Clone()
	if cp.Templates == nil {
		cp.Templates = map[string]TemplateRef{}
	}
	if cp.Configuration == nil {
		cp.Configuration = serial.Configuration{}
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("invalid theme descriptor: %w", err)
	}
	if err := ValidateJSON(data); err != nil {
		return err
	}
	if _, err := semver.NewVersion(d.Version); err != nil {
		return fmt.Errorf("invalid theme version %q: %w", d.Version, err)
	}

	var errs []error
	check := func(route, key string) {
		if key == "" {
			return
		}
		if _, ok := d.Templates[key]; !ok {
			errs = append(errs, fmt.Errorf("route %s refers to unknown template %q", route, key))
		}
	}
	check("index", d.Routes.Index)
	check("post", d.Routes.Post)
	check("tag", d.Routes.Tag)
	check("category", d.Routes.Category)
	check("error", d.Routes.Error)
	for path, key := range d.Routes.Page {
		check(path, key)
	}
	return errors.Join(errs...)
}

// ParseDescriptor decodes and validates a JSON descriptor.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	if err := ValidateJSON(data); err != nil {
		return nil, err
	}
	d := &Descriptor{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("failed to decode theme descriptor: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseManifest decodes a YAML (or JSON) theme manifest.
func ParseManifest(data []byte) (*Descriptor, error) {
	js, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse theme manifest: %w", err)
	}
	return ParseDescriptor(js)
}
