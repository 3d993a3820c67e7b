package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a request failure.
type Kind string

const (
	KindTimeout  Kind = "request-timeout"
	KindCanceled Kind = "request-canceled"
	KindNetwork  Kind = "network"
	KindHTTP     Kind = "http"
	KindParse    Kind = "parse"
)

// Detail carries the raw facts behind an Error for logging and diagnosis.
type Detail struct {
	URL           string `json:"url"`
	Method        string `json:"method"`
	Status        int    `json:"status,omitempty"`
	Body          string `json:"body,omitempty"`
	ServerMessage string `json:"server_message,omitempty"`
}

// Error is the normalized failure returned by every Client call.
type Error struct {
	Kind    Kind   `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Detail  Detail `json:"detail"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s %s): %v", e.Title, e.Message, e.Detail.Method, e.Detail.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s %s)", e.Title, e.Message, e.Detail.Method, e.Detail.URL)
}

func (e *Error) Unwrap() error { return e.Err }

var statusMessages = map[int]string{
	http.StatusBadRequest:          "请求参数错误",
	http.StatusUnauthorized:        "未授权访问",
	http.StatusForbidden:           "禁止访问",
	http.StatusNotFound:            "请求的资源不存在",
	http.StatusMethodNotAllowed:    "方法不允许",
	http.StatusInternalServerError: "服务器内部错误",
	http.StatusBadGateway:          "网关错误",
	http.StatusServiceUnavailable:  "服务不可用",
	http.StatusGatewayTimeout:      "网关超时",
}

// StatusMessage returns the user-facing message for an HTTP status code.
func StatusMessage(code int) string {
	if m, ok := statusMessages[code]; ok {
		return m
	}
	return fmt.Sprintf("请求失败 (%d)", code)
}

func statusTitle(code int) string {
	if text := http.StatusText(code); text != "" {
		return fmt.Sprintf("%d %s", code, text)
	}
	return fmt.Sprintf("%d", code)
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	e, ok := AsError(err)
	return ok && e.Kind == KindTimeout
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	if e, ok := AsError(err); ok {
		return e.Detail.Status
	}
	return 0
}
