// Package echoes is the bundled default theme.
package echoes

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/echoes-blog/echoes/internal/httpclient"
	"github.com/echoes-blog/echoes/internal/render"
	"github.com/echoes-blog/echoes/internal/theme"
)

//go:embed theme.yaml *.html partials/*.html
var files embed.FS

// Name is the theme's id.
const Name = "echoes"

// FS exposes the bundle, for tools that validate or copy it.
func FS() fs.FS { return files }

// Register adds the theme to r: the html/template bundle plus the post
// template, which is written in Go because it loads its data from the
// backend.
func Register(r *theme.Registry) (*theme.Descriptor, error) {
	d, err := r.RegisterBundle(files)
	if err != nil {
		return nil, fmt.Errorf("failed to register theme %s: %w", Name, err)
	}
	r.Register(d.Name, d.TemplatePath("post"), postLoader)
	return d, nil
}

// Post is the subset of a backend post the theme shows.
type Post struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	AuthorName  string     `json:"authorName"`
	CoverImage  string     `json:"coverImage,omitempty"`
	Content     string     `json:"content"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// Date is when the post went out, or when it was created if it has not.
func (p Post) Date() time.Time {
	if p.PublishedAt != nil {
		return *p.PublishedAt
	}
	return p.CreatedAt
}

var postPage = template.Must(template.New("post").Parse(`<article class="post">
{{with .Post.CoverImage}}<img class="cover" src="{{.}}" alt="">{{end}}
<h1>{{.Post.Title}}</h1>
<p class="meta"><span>{{.Post.AuthorName}}</span> <time datetime="{{.Post.Date.Format "2006-01-02"}}">{{.Post.Date.Format "Jan 2, 2006"}}</time>{{range .Meta}} <span>{{.}}</span>{{end}}</p>
<div class="content">{{.Body}}</div>
{{.Footer}}
</article>`))

func postLoader(context.Context) (any, error) {
	return &render.Template{
		Name:        "Post",
		Description: "A single post fetched from the backend.",
		Element:     postElement,
	}, nil
}

func postElement(props render.Props) render.Node {
	return render.Func(func(ctx context.Context, w io.Writer) error {
		p := props.WithContext(ctx)
		if p.HTTP == nil {
			return fmt.Errorf("post template needs an HTTP client")
		}

		var post Post
		if err := p.HTTP.Get(ctx, "/post/"+p.Param("id"), &post); err != nil {
			if httpclient.StatusCode(err) == http.StatusNotFound {
				return render.ErrorPage(http.StatusNotFound, "").Render(ctx, w)
			}
			return fmt.Errorf("failed to load post %s: %w", p.Param("id"), err)
		}

		return postPage.Execute(w, struct {
			Post   Post
			Meta   []string
			Body   template.HTML
			Footer template.HTML
		}{
			Post:   post,
			Meta:   p.Text("post.meta", post.Content),
			Body:   p.Markdown(post.Content),
			Footer: p.Components("post.footer", post.ID),
		})
	})
}
