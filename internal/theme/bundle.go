package theme

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/echoes-blog/echoes/internal/render"
)

// ManifestFile is the descriptor file at the root of a theme bundle.
const ManifestFile = "theme.yaml"

const partialsDir = "partials"

var templateFuncs = template.FuncMap{
	"markdown": func(s string) template.HTML {
		out, err := render.MarkdownHTML([]byte(s))
		if err != nil {
			return template.HTML(template.HTMLEscapeString(s))
		}
		return template.HTML(out)
	},
	"join": strings.Join,
}

// RegisterBundle registers a theme packaged as a file tree: theme.yaml plus
// html/template files. The file named by globalSettings.layout becomes the
// layout module, every other .html file a page template. Files under
// partials/ are parsed into every module instead of being registered.
func (r *Registry) RegisterBundle(fsys fs.FS) (*Descriptor, error) {
	data, err := fs.ReadFile(fsys, ManifestFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ManifestFile, err)
	}
	d, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	r.RegisterDescriptor(d)

	layout := Key(d.Name, d.LayoutPath())
	names := make(map[string]string)
	for _, ref := range d.Templates {
		names[Key(d.Name, ref.Path)] = ref.Name
	}

	err = fs.WalkDir(fsys, ".", func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if p == partialsDir {
				return fs.SkipDir
			}
			return nil
		}
		if path.Ext(p) != ".html" {
			return nil
		}
		key := Key(d.Name, p)
		if d.LayoutPath() != "" && key == layout {
			r.Register(d.Name, p, layoutLoader(fsys, p))
		} else {
			r.Register(d.Name, p, templateLoader(fsys, p, names[key]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan theme %s: %w", d.Name, err)
	}
	return d.Clone(), nil
}

// RegisterDir registers every bundle found in the immediate subdirectories
// of dir. A broken bundle is skipped and reported; the rest still register.
func (r *Registry) RegisterDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read themes directory: %w", err)
	}

	var names []string
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		root := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(root, ManifestFile)); err != nil {
			continue
		}
		d, err := r.RegisterBundle(os.DirFS(root))
		if err != nil {
			r.log.WithError(err).WithField("dir", root).Warn("theme: skipping bundle")
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		names = append(names, d.Name)
	}
	return names, errors.Join(errs...)
}

func parseFile(fsys fs.FS, p string) (*template.Template, error) {
	src, err := fs.ReadFile(fsys, p)
	if err != nil {
		return nil, err
	}
	t := template.New(path.Base(p)).Funcs(templateFuncs)
	partials, err := fs.Glob(fsys, partialsDir+"/*.html")
	if err != nil {
		return nil, err
	}
	if len(partials) > 0 {
		if t, err = t.ParseFS(fsys, partials...); err != nil {
			return nil, err
		}
	}
	if t, err = t.New(path.Base(p)).Parse(string(src)); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p, err)
	}
	return t, nil
}

func templateLoader(fsys fs.FS, p, name string) Loader {
	if name == "" {
		name = strings.TrimSuffix(path.Base(p), ".html")
	}
	return func(context.Context) (any, error) {
		t, err := parseFile(fsys, p)
		if err != nil {
			return nil, err
		}
		return &render.Template{
			Name: name,
			Element: func(props render.Props) render.Node {
				return render.Func(func(ctx context.Context, w io.Writer) error {
					return t.Execute(w, props.WithContext(ctx))
				})
			},
		}, nil
	}
}

func layoutLoader(fsys fs.FS, p string) Loader {
	return func(context.Context) (any, error) {
		t, err := parseFile(fsys, p)
		if err != nil {
			return nil, err
		}
		return &render.Layout{
			Name: strings.TrimSuffix(path.Base(p), ".html"),
			Element: func(lp render.LayoutProps) render.Node {
				return render.Func(func(ctx context.Context, w io.Writer) error {
					return t.Execute(w, lp.WithContext(ctx))
				})
			},
		}, nil
	}
}
