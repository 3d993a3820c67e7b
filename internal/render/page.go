package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"sync/atomic"
)

type statusKey struct{}

// WithStatus returns a context that records the HTTP status nodes ask for
// while rendering, starting at 200.
func WithStatus(ctx context.Context) (context.Context, func() int) {
	code := new(atomic.Int32)
	code.Store(http.StatusOK)
	return context.WithValue(ctx, statusKey{}, code), func() int { return int(code.Load()) }
}

// SetStatus asks for the response status. It is a no-op outside WithStatus.
func SetStatus(ctx context.Context, status int) {
	if code, ok := ctx.Value(statusKey{}).(*atomic.Int32); ok {
		code.Store(int32(status))
	}
}

// Document renders n as a complete response body and reports the status
// the rendered nodes asked for.
func Document(ctx context.Context, n Node) ([]byte, int, error) {
	ctx, status := WithStatus(ctx)
	var buf bytes.Buffer
	if err := safeRender(ctx, n, &buf); err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return buf.Bytes(), status(), nil
}

var errorPage = template.Must(template.New("error").Parse(`<section class="echoes-error">
<h1>{{.Status}}</h1>
<p>{{.Message}}</p>
</section>`))

// ErrorPage is the built-in error renderer used when a theme has none or
// its own fails.
func ErrorPage(status int, message string) Node {
	if message == "" {
		message = http.StatusText(status)
	}
	return Func(func(ctx context.Context, w io.Writer) error {
		SetStatus(ctx, status)
		return errorPage.Execute(w, struct {
			Status  int
			Message string
		}{status, message})
	})
}

// ErrorProps feeds a theme's error template.
func ErrorProps(props Props, status int, cause error) Props {
	if props.Params == nil {
		props.Params = map[string]string{}
	} else {
		params := make(map[string]string, len(props.Params)+2)
		for k, v := range props.Params {
			params[k] = v
		}
		props.Params = params
	}
	props.Params["status"] = fmt.Sprint(status)
	if cause != nil {
		props.Params["error"] = cause.Error()
	}
	return props
}
