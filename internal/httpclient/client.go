// Package httpclient is the single outbound request layer used to talk to
// the backend API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/echoes-blog/echoes/internal/auth"
	"github.com/echoes-blog/echoes/internal/config"
	"github.com/echoes-blog/echoes/internal/logging"
)

const (
	DefaultTimeout = 10 * time.Second

	// maxBodySize caps how much of a response is read into memory.
	maxBodySize = 10 << 20

	tokenLeeway = 5 * time.Second
)

// Options configures a Client.
type Options struct {
	APIBaseURL string
	DevBaseURL string
	Timeout    time.Duration
	Username   string
	Password   string
	Tokens     auth.TokenStore
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// Client issues requests against the backend API (or the dev companion
// process), injecting the bearer token and normalizing failures into *Error.
// It is safe for concurrent use.
type Client struct {
	http     *http.Client
	apiBase  string
	devBase  string
	timeout  time.Duration
	username string
	password string
	tokens   auth.TokenStore
	log      logrus.FieldLogger

	tokenMu sync.Mutex
}

func New(opts Options) *Client {
	c := &Client{
		http:     opts.HTTPClient,
		apiBase:  opts.APIBaseURL,
		devBase:  opts.DevBaseURL,
		timeout:  opts.Timeout,
		username: opts.Username,
		password: opts.Password,
		tokens:   opts.Tokens,
		log:      logging.OrDefault(opts.Logger),
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.tokens == nil {
		c.tokens = auth.NewMemoryStore()
	}
	if c.devBase == "" {
		c.devBase = c.apiBase
	}
	return c
}

// NewFromConfig builds a Client from the process configuration.
func NewFromConfig(cfg *config.Config, tokens auth.TokenStore, log logrus.FieldLogger) *Client {
	return New(Options{
		APIBaseURL: cfg.APIBaseURL,
		DevBaseURL: cfg.DevBaseURL(),
		Timeout:    cfg.RequestTimeout,
		Username:   cfg.SystemUsername,
		Password:   cfg.SystemPassword,
		Tokens:     tokens,
		Logger:     log,
	})
}

// RequestOption adjusts a single request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	header  http.Header
	timeout time.Duration
	noAuth  bool
}

// WithoutAuth suppresses the stored bearer token.
func WithoutAuth() RequestOption {
	return func(o *requestOptions) { o.noAuth = true }
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) { o.header.Set(key, value) }
}

// WithBearer sets the Authorization header, overriding the stored token.
func WithBearer(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithTimeout overrides the client timeout for one request.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// Target is a Client bound to one base URL.
type Target struct {
	c    *Client
	base string
}

// API targets the configured backend API.
func (c *Client) API() Target { return Target{c: c, base: c.apiBase} }

// Dev targets the local companion process used during development.
func (c *Client) Dev() Target { return Target{c: c, base: c.devBase} }

func (t Target) Get(ctx context.Context, endpoint string, out any, opts ...RequestOption) error {
	return t.c.Request(ctx, t.base, http.MethodGet, endpoint, nil, out, opts...)
}

func (t Target) Post(ctx context.Context, endpoint string, body, out any, opts ...RequestOption) error {
	return t.c.Request(ctx, t.base, http.MethodPost, endpoint, body, out, opts...)
}

func (t Target) Put(ctx context.Context, endpoint string, body, out any, opts ...RequestOption) error {
	return t.c.Request(ctx, t.base, http.MethodPut, endpoint, body, out, opts...)
}

func (t Target) Delete(ctx context.Context, endpoint string, out any, opts ...RequestOption) error {
	return t.c.Request(ctx, t.base, http.MethodDelete, endpoint, nil, out, opts...)
}

// Get, Post, Put and Delete go to the API target.

func (c *Client) Get(ctx context.Context, endpoint string, out any, opts ...RequestOption) error {
	return c.API().Get(ctx, endpoint, out, opts...)
}

func (c *Client) Post(ctx context.Context, endpoint string, body, out any, opts ...RequestOption) error {
	return c.API().Post(ctx, endpoint, body, out, opts...)
}

func (c *Client) Put(ctx context.Context, endpoint string, body, out any, opts ...RequestOption) error {
	return c.API().Put(ctx, endpoint, body, out, opts...)
}

func (c *Client) Delete(ctx context.Context, endpoint string, out any, opts ...RequestOption) error {
	return c.API().Delete(ctx, endpoint, out, opts...)
}

// Request sends one request to base+endpoint and decodes the response into
// out. A JSON response is decoded with encoding/json; any other response is
// stored as text when out is *string, *[]byte or *any. A nil out discards the
// body. body may be nil, []byte / json.RawMessage (sent as-is) or any value
// encoding/json accepts.
func (c *Client) Request(ctx context.Context, base, method, endpoint string, body, out any, opts ...RequestOption) error {
	o := requestOptions{header: make(http.Header), timeout: c.timeout}
	for _, opt := range opts {
		opt(&o)
	}

	url := buildURL(base, endpoint)
	detail := Detail{URL: url, Method: method}

	reader, err := encodeBody(body)
	if err != nil {
		return &Error{Kind: KindParse, Title: "Invalid request body", Message: "请求数据无法序列化", Detail: detail, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &Error{Kind: KindNetwork, Title: "Invalid request", Message: "无法创建请求", Detail: detail, Err: err}
	}
	for k, vs := range o.header {
		req.Header[k] = vs
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if !o.noAuth && req.Header.Get("Authorization") == "" {
		if token, err := c.tokens.Token(); err != nil {
			c.log.WithError(err).Warn("httpclient: failed to read stored token")
		} else if auth.Usable(token, time.Now(), 0) {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(ctx, err, detail)
	}
	defer resp.Body.Close()

	c.log.WithFields(logrus.Fields{
		"method":   method,
		"url":      url,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("httpclient: request completed")

	return handleResponse(ctx, resp, out, detail)
}

// SystemToken exchanges the configured system credentials for a bearer
// token. The token is persisted in the token store, which attaches it to
// later requests, and reused until it expires.
func (c *Client) SystemToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if token, err := c.tokens.Token(); err == nil && auth.Usable(token, time.Now(), tokenLeeway) {
		return token, nil
	}

	creds := map[string]string{"username": c.username, "password": c.password}
	var raw string
	// The stored token may be stale, so send none.
	if err := c.Post(ctx, "/auth/token/system", creds, &raw, WithoutAuth()); err != nil {
		return "", err
	}
	token := strings.Trim(strings.TrimSpace(raw), `"`)
	if token == "" {
		return "", &Error{
			Kind:    KindParse,
			Title:   "Empty token",
			Message: "系统令牌为空",
			Detail:  Detail{URL: buildURL(c.apiBase, "/auth/token/system"), Method: http.MethodPost},
		}
	}
	if err := c.tokens.SetToken(token); err != nil {
		c.log.WithError(err).Warn("httpclient: failed to persist system token")
	}
	return token, nil
}

func buildURL(base, endpoint string) string {
	base = strings.TrimRight(base, "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return base + endpoint
}

func encodeBody(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return bytes.NewReader(b), nil
	case json.RawMessage:
		return bytes.NewReader(b), nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func transportError(ctx context.Context, err error, detail Detail) error {
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &Error{Kind: KindTimeout, Title: "Request timeout", Message: "请求超时", Detail: detail, Err: err}
	case errors.Is(ctx.Err(), context.Canceled):
		return &Error{Kind: KindCanceled, Title: "Request canceled", Message: "请求已取消", Detail: detail, Err: err}
	}
	return &Error{Kind: KindNetwork, Title: "Network error", Message: "网络连接失败", Detail: detail, Err: err}
}

func handleResponse(ctx context.Context, resp *http.Response, out any, detail Detail) error {
	detail.Status = resp.StatusCode

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if ctx.Err() != nil {
			return transportError(ctx, err, detail)
		}
		return &Error{Kind: KindNetwork, Title: "Read error", Message: "读取响应失败", Detail: detail, Err: err}
	}
	detail.Body = string(data)

	isJSON := strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "json")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if isJSON && gjson.ValidBytes(data) {
			detail.ServerMessage = gjson.GetBytes(data, "message").String()
		}
		return &Error{
			Kind:    KindHTTP,
			Title:   statusTitle(resp.StatusCode),
			Message: StatusMessage(resp.StatusCode),
			Detail:  detail,
		}
	}

	if out == nil {
		return nil
	}
	if isJSON {
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return &Error{Kind: KindParse, Title: "Invalid response", Message: "响应数据解析失败", Detail: detail, Err: err}
		}
		return nil
	}

	switch o := out.(type) {
	case *string:
		*o = string(data)
	case *[]byte:
		*o = data
	case *any:
		*o = string(data)
	default:
		return &Error{
			Kind:    KindParse,
			Title:   "Invalid response",
			Message: "响应数据解析失败",
			Detail:  detail,
			Err:     fmt.Errorf("expected a JSON response, got content type %q", resp.Header.Get("Content-Type")),
		}
	}
	return nil
}
