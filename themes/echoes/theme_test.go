package echoes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoes-blog/echoes/internal/extension"
	"github.com/echoes-blog/echoes/internal/httpclient"
	"github.com/echoes-blog/echoes/internal/logging"
	"github.com/echoes-blog/echoes/internal/render"
	"github.com/echoes-blog/echoes/internal/theme"
)

func setup(t *testing.T) (*theme.Registry, *theme.Descriptor, render.Props) {
	t.Helper()
	reg := theme.NewRegistry(theme.Options{Logger: logging.Discard(), LoadTimeout: time.Second})
	d, err := Register(reg)
	require.NoError(t, err)

	exts := extension.NewRegistry(logging.Discard())
	exts.Register("footer.credit", "credit", extension.Extension{
		Text: func(context.Context, ...any) (any, error) { return "Built with Echoes", nil },
	})
	exts.Register("post.meta", "readingtime", extension.Extension{
		Text: func(context.Context, ...any) (any, error) { return "1 min read", nil },
	})

	props := render.Props{Args: d.Configuration, Extensions: exts, Log: logging.Discard()}
	return reg, d, props
}

func TestDescriptorIsValid(t *testing.T) {
	_, d, _ := setup(t)
	require.NoError(t, d.Validate())
	assert.Equal(t, Name, d.Name)
	assert.Equal(t, "post", d.TemplatePath("post"))
	assert.Equal(t, "about", d.Routes.Page["/about"])
}

func TestHomeInsideLayout(t *testing.T) {
	reg, d, props := setup(t)
	ctx := context.Background()

	layout, err := reg.LoadLayout(ctx, Name, d.LayoutPath())
	require.NoError(t, err)
	home, err := reg.LoadTemplate(ctx, Name, d.TemplatePath("home"))
	require.NoError(t, err)

	out, err := render.String(ctx, render.Compose(layout, props, home.Element(props)))
	require.NoError(t, err)
	assert.Contains(t, out, "<title>Echoes</title>")
	assert.Contains(t, out, `<a href="/about">About</a>`)
	assert.Contains(t, out, `<p class="tagline">Notes, essays and echoes.</p>`)
	assert.Contains(t, out, "<span>Built with Echoes</span>")
	assert.Contains(t, out, "new WebSocket")
}

func TestAboutRendersMarkdown(t *testing.T) {
	reg, d, props := setup(t)
	about, err := reg.LoadTemplate(context.Background(), Name, d.TemplatePath("about"))
	require.NoError(t, err)

	out, err := render.String(context.Background(), about.Element(props))
	require.NoError(t, err)
	assert.Contains(t, out, "<em>Write</em>")
}

func TestErrorTemplate(t *testing.T) {
	reg, d, props := setup(t)
	tmpl, err := reg.LoadTemplate(context.Background(), Name, d.TemplatePath("error"))
	require.NoError(t, err)

	props.Path = "/missing"
	out, err := render.String(context.Background(), tmpl.Element(render.ErrorProps(props, http.StatusNotFound, nil)))
	require.NoError(t, err)
	assert.Contains(t, out, "<h1>404</h1>")
	assert.Contains(t, out, "Nothing lives at /missing.")
}

func TestPostTemplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/post/7" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Post{
			ID:         7,
			Title:      "Hello <world>",
			AuthorName: "lsy",
			Content:    "# Heading\n\n<script>alert(1)</script>body",
			CreatedAt:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		})
	}))
	defer srv.Close()

	reg, d, props := setup(t)
	props.HTTP = httpclient.New(httpclient.Options{APIBaseURL: srv.URL, Logger: logging.Discard()})
	tmpl, err := reg.LoadTemplate(context.Background(), Name, d.TemplatePath("post"))
	require.NoError(t, err)

	props.Params = map[string]string{"id": "7"}
	body, status, err := render.Document(context.Background(), tmpl.Element(props))
	require.NoError(t, err)
	out := string(body)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, out, "<h1>Hello &lt;world&gt;</h1>")
	assert.Contains(t, out, "Mar 1, 2024")
	assert.Contains(t, out, "<span>1 min read</span>")
	assert.Contains(t, out, "<h1>Heading</h1>")
	assert.NotContains(t, out, "<script>")

	props.Params = map[string]string{"id": "8"}
	_, status, err = render.Document(context.Background(), tmpl.Element(props))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}
