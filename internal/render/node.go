// Package render is the server-side node model the site is drawn with:
// escaped text, trusted HTML, fragments, lazily resolved nodes, error
// boundaries and layout composition.
package render

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
)

// Node is anything that can write itself as HTML.
type Node interface {
	Render(ctx context.Context, w io.Writer) error
}

// Func adapts a function to Node.
type Func func(ctx context.Context, w io.Writer) error

func (f Func) Render(ctx context.Context, w io.Writer) error { return f(ctx, w) }

// Text is escaped on output.
type Text string

func (t Text) Render(_ context.Context, w io.Writer) error {
	_, err := io.WriteString(w, html.EscapeString(string(t)))
	return err
}

// HTML is written verbatim. Only use it for markup the site produced or
// sanitized itself.
type HTML string

func (h HTML) Render(_ context.Context, w io.Writer) error {
	_, err := io.WriteString(w, string(h))
	return err
}

// Fragment renders its children in order.
type Fragment []Node

func (f Fragment) Render(ctx context.Context, w io.Writer) error {
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Render(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// String renders n into a string.
func String(ctx context.Context, n Node) (string, error) {
	var buf bytes.Buffer
	if err := safeRender(ctx, n, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// safeRender turns a panic inside n into an error.
func safeRender(ctx context.Context, n Node, w io.Writer) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("render panicked: %v", rec)
		}
	}()
	if n == nil {
		return nil
	}
	return n.Render(ctx, w)
}

// Valid reports whether v is something a component extension may put into
// the tree: a non-nil Node or a non-empty string.
func Valid(v any) (Node, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case string:
		if x == "" {
			return nil, false
		}
		return Text(x), true
	case Text:
		return x, x != ""
	case HTML:
		return x, x != ""
	case Fragment:
		return x, len(x) > 0
	case Func:
		return x, x != nil
	case Node:
		return x, true
	}
	return nil, false
}
