package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func table() *Table {
	return New(Spec{
		Index:    "home",
		Post:     "article",
		Tag:      "",
		Category: "listing",
		Pages: map[string]string{
			"/about":        "aboutTemplate",
			"/post/special": "special",
			"/blank":        "",
		},
	})
}

func TestLookupBuiltins(t *testing.T) {
	tb := table()

	m, ok := tb.Lookup("/")
	require.True(t, ok)
	assert.Equal(t, Match{Name: Index, TemplateKey: "home", Params: map[string]string{}}, m)

	m, ok = tb.Lookup("/post/42")
	require.True(t, ok)
	assert.Equal(t, "article", m.TemplateKey)
	assert.Equal(t, "42", m.Params["id"])

	m, ok = tb.Lookup("/category/go")
	require.True(t, ok)
	assert.Equal(t, "listing", m.TemplateKey)
	assert.Equal(t, "go", m.Params["category"])
}

func TestLookupPagesFirst(t *testing.T) {
	m, ok := table().Lookup("/post/special")
	require.True(t, ok)
	assert.Equal(t, Page, m.Name)
	assert.Equal(t, "special", m.TemplateKey)

	m, ok = table().Lookup("/about/")
	require.True(t, ok)
	assert.Equal(t, "aboutTemplate", m.TemplateKey)
}

func TestLookupMisses(t *testing.T) {
	tb := table()
	for _, p := range []string{"/missing", "/tag/go", "/blank", "/post/1/comments", "/post/"} {
		_, ok := tb.Lookup(p)
		assert.False(t, ok, p)
	}
}

func TestLookupStripsQuery(t *testing.T) {
	m, ok := table().Lookup("/about?ref=nav")
	require.True(t, ok)
	assert.Equal(t, "aboutTemplate", m.TemplateKey)
}
