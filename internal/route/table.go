// Package route maps request paths to the template keys of the current
// theme.
package route

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gorilla/mux"
)

// Match is the result of a successful lookup.
type Match struct {
	Name        string            `json:"name"`
	TemplateKey string            `json:"template"`
	Params      map[string]string `json:"params,omitempty"`
}

// Built-in route names.
const (
	Index    = "index"
	Post     = "post"
	Tag      = "tag"
	Category = "category"
	Page     = "page"
)

// Spec is what a table is built from: the built-in routes plus exact
// custom page paths.
type Spec struct {
	Index    string
	Post     string
	Tag      string
	Category string
	Pages    map[string]string
}

type pattern struct {
	name string
	key  string
	tmpl string
}

// Table is immutable once built and safe to share.
type Table struct {
	pages  map[string]string
	router *mux.Router
}

// New builds a table. Routes whose template key is empty are left out, so
// they fall through to the error page.
func New(s Spec) *Table {
	t := &Table{pages: make(map[string]string), router: mux.NewRouter()}
	for p, key := range s.Pages {
		if key != "" {
			t.pages[normalize(p)] = key
		}
	}

	patterns := []pattern{
		{Index, s.Index, "/"},
		{Post, s.Post, "/post/{id}"},
		{Tag, s.Tag, "/tag/{tag}"},
		{Category, s.Category, "/category/{category}"},
	}
	for _, p := range patterns {
		if p.key == "" {
			continue
		}
		t.router.NewRoute().Name(p.name).Path(p.tmpl).Handler(templateKey(p.key))
	}
	return t
}

// templateKey is stored as the route handler so a match carries its key.
type templateKey string

func (templateKey) ServeHTTP(http.ResponseWriter, *http.Request) {}

// Lookup resolves p. Exact page paths win over the built-in patterns.
func (t *Table) Lookup(p string) (Match, bool) {
	p = normalize(p)
	if key, ok := t.pages[p]; ok {
		return Match{Name: Page, TemplateKey: key}, true
	}

	req := &http.Request{Method: http.MethodGet, URL: &url.URL{Path: p}}
	var rm mux.RouteMatch
	if !t.router.Match(req, &rm) || rm.Route == nil {
		return Match{}, false
	}
	key, ok := rm.Handler.(templateKey)
	if !ok {
		return Match{}, false
	}
	return Match{Name: rm.Route.GetName(), TemplateKey: string(key), Params: rm.Vars}, true
}

// Pages lists the custom page paths.
func (t *Table) Pages() map[string]string {
	out := make(map[string]string, len(t.pages))
	for k, v := range t.pages {
		out[k] = v
	}
	return out
}

func normalize(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = path.Clean("/" + p)
	return p
}
