// Package httputil holds the JSON helpers every handler writes responses
// with.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/echoes-blog/echoes/internal/httpclient"
)

// MaxBodyBytes caps request bodies read by DecodeJSON.
const MaxBodyBytes = 1 << 20

// WriteJSON writes v as JSON with the given HTTP status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// WriteError writes a JSON error response with the given status and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteUpstreamError reports a failed backend call. Errors from the HTTP
// client keep their title and message; anything else is a 502.
func WriteUpstreamError(w http.ResponseWriter, err error) {
	if e, ok := httpclient.AsError(err); ok {
		status := http.StatusBadGateway
		if e.Kind == httpclient.KindTimeout {
			status = http.StatusGatewayTimeout
		}
		WriteJSON(w, status, map[string]string{
			"error":   e.Message,
			"title":   e.Title,
			"kind":    string(e.Kind),
			"backend": e.Detail.ServerMessage,
		})
		return
	}
	WriteError(w, http.StatusBadGateway, err.Error())
}

// DecodeJSON reads a JSON request body into v, rejecting bodies larger
// than MaxBodyBytes and unknown fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", MaxBodyBytes)
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
