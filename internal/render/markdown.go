package render

import (
	"bytes"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	md        = goldmark.New(goldmark.WithExtensions(extension.GFM))
	sanitizer = bluemonday.UGCPolicy()
)

// MarkdownHTML converts markdown to HTML and strips anything unsafe.
func MarkdownHTML(src []byte) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert(src, &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	return sanitizer.Sanitize(buf.String()), nil
}

// Markdown is a node rendering src as sanitized HTML.
func Markdown(src string) Node {
	out, err := MarkdownHTML([]byte(src))
	if err != nil {
		return Text(src)
	}
	return HTML(out)
}
