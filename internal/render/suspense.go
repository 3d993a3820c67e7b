package render

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// Loader resolves the node a Lazy stands for.
type Loader func(ctx context.Context) (Node, error)

type lazy struct {
	load Loader

	mu   sync.Mutex
	done bool
	node Node
	err  error
}

// Lazy defers loading until the node is first rendered. The loader runs at
// most once per Lazy; later renders reuse its result, including a failure.
func Lazy(load Loader) Node {
	return &lazy{load: load}
}

func (l *lazy) resolve(ctx context.Context) (Node, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.done {
		l.node, l.err = l.load(ctx)
		l.done = true
	}
	return l.node, l.err
}

func (l *lazy) Render(ctx context.Context, w io.Writer) error {
	n, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	return safeRender(ctx, n, w)
}

// Fallback builds the node shown when a boundary's child fails.
type Fallback func(err error) Node

type boundary struct {
	child    Node
	fallback Fallback
}

// Boundary renders child into a buffer and only writes it out when it
// succeeds. On error or panic the fallback is rendered instead, so a broken
// child never leaves half-written markup behind.
func Boundary(child Node, fallback Fallback) Node {
	return &boundary{child: child, fallback: fallback}
}

func (b *boundary) Render(ctx context.Context, w io.Writer) error {
	var buf bytes.Buffer
	err := safeRender(ctx, b.child, &buf)
	if err == nil {
		_, err = w.Write(buf.Bytes())
		return err
	}
	if b.fallback == nil {
		return err
	}
	return safeRender(ctx, b.fallback(err), w)
}

// Compose places child inside layout. A nil layout yields child unchanged;
// a layout that fails to render yields the bare child so the page is never
// lost to a broken frame.
func Compose(layout *Layout, props Props, child Node) Node {
	if layout == nil || layout.Element == nil {
		return child
	}
	return Func(func(ctx context.Context, w io.Writer) error {
		var buf bytes.Buffer
		frame := layout.Element(LayoutProps{Props: props.WithContext(ctx), Children: child})
		if err := safeRender(ctx, frame, &buf); err != nil {
			props.logger().WithError(err).WithField("layout", layout.Name).
				Warn("render: layout failed, rendering page without it")
			return safeRender(ctx, child, w)
		}
		_, err := w.Write(buf.Bytes())
		return err
	})
}
