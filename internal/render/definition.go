package render

import (
	"context"
	"html/template"

	"github.com/sirupsen/logrus"

	"github.com/echoes-blog/echoes/internal/capability"
	"github.com/echoes-blog/echoes/internal/httpclient"
	"github.com/echoes-blog/echoes/internal/logging"
	"github.com/echoes-blog/echoes/internal/serial"
)

// Template is a page bound to a route of a theme.
type Template struct {
	Name        string
	Description string
	// Config holds template-level defaults; theme configuration wins.
	Config  serial.Configuration
	Element func(Props) Node
}

// Layout wraps every page of a theme.
type Layout struct {
	Name    string
	Element func(LayoutProps) Node
}

// Extensions is the slice of the extension registry templates can reach.
type Extensions interface {
	TriggerText(ctx context.Context, point string, args ...any) []string
	TriggerComponent(ctx context.Context, point string, args ...any) []Node
}

// Props is what a template receives. Its methods are meant to be called
// from html/template as well as Go.
type Props struct {
	Args         serial.Configuration
	Params       map[string]string
	Path         string
	HTTP         *httpclient.Client
	Capabilities *capability.Registry
	Extensions   Extensions
	Log          logrus.FieldLogger

	ctx context.Context
}

// WithContext binds ctx for the helpers that make calls.
func (p Props) WithContext(ctx context.Context) Props {
	p.ctx = ctx
	return p
}

func (p Props) Context() context.Context {
	if p.ctx == nil {
		return context.Background()
	}
	return p.ctx
}

func (p Props) logger() logrus.FieldLogger {
	return logging.OrDefault(p.Log)
}

// Setting returns the data of a configuration entry as a plain Go value.
func (p Props) Setting(key string) any {
	return p.Args.Get(key)
}

func (p Props) Param(name string) string {
	return p.Params[name]
}

// Text joins what the text extensions of point contribute.
func (p Props) Text(point string, args ...any) []string {
	if p.Extensions == nil {
		return nil
	}
	return p.Extensions.TriggerText(p.Context(), point, args...)
}

// Components renders what the component extensions of point contribute.
// A component that fails to render is skipped.
func (p Props) Components(point string, args ...any) template.HTML {
	if p.Extensions == nil {
		return ""
	}
	var out string
	for _, n := range p.Extensions.TriggerComponent(p.Context(), point, args...) {
		s, err := String(p.Context(), n)
		if err != nil {
			p.logger().WithError(err).WithField("point", point).Warn("render: extension component failed")
			continue
		}
		out += s
	}
	return template.HTML(out)
}

// Capability runs a capability and returns its successful results.
func (p Props) Capability(name string, args ...any) []any {
	if p.Capabilities == nil {
		return nil
	}
	return p.Capabilities.Execute(p.Context(), name, args...)
}

// Fetch GETs endpoint from the backend and returns the decoded body.
func (p Props) Fetch(endpoint string) (any, error) {
	if p.HTTP == nil {
		return nil, nil
	}
	var out any
	if err := p.HTTP.Get(p.Context(), endpoint, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Markdown renders sanitized markdown.
func (p Props) Markdown(src string) template.HTML {
	out, err := MarkdownHTML([]byte(src))
	if err != nil {
		p.logger().WithError(err).Warn("render: markdown conversion failed")
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(out)
}

// LayoutProps is what a layout receives.
type LayoutProps struct {
	Props
	Children Node
}

// WithContext binds ctx for Content and the Props helpers.
func (lp LayoutProps) WithContext(ctx context.Context) LayoutProps {
	lp.Props = lp.Props.WithContext(ctx)
	return lp
}

// Content renders the wrapped page for use inside html/template.
func (lp LayoutProps) Content() (template.HTML, error) {
	s, err := String(lp.Context(), lp.Children)
	return template.HTML(s), err
}
