// Package docs serves the management API description and a Swagger UI page.
package docs

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"sigs.k8s.io/yaml"

	"github.com/echoes-blog/echoes/internal/httputil"
)

//go:embed openapi.yaml
var openAPIYAML []byte

// Handler serves openapi.yaml with the servers list pointing at this site,
// in YAML and JSON.
type Handler struct {
	serverURL string

	once    sync.Once
	jsonDoc []byte
	yamlDoc []byte
	err     error
}

func NewHandler(serverURL string) *Handler {
	return &Handler{serverURL: serverURL}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/docs/openapi.yaml", h.serve("application/yaml", func() []byte { return h.yamlDoc })).Methods("GET")
	r.HandleFunc("/api/docs/openapi.json", h.serve("application/json", func() []byte { return h.jsonDoc })).Methods("GET")
	r.HandleFunc("/api/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(swaggerUIHTML))
	}).Methods("GET")
}

func (h *Handler) serve(contentType string, body func() []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.once.Do(h.build)
		if h.err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "API description unavailable")
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Write(body())
	}
}

func (h *Handler) build() {
	h.jsonDoc, h.yamlDoc, h.err = render(openAPIYAML, h.serverURL)
}

// render fills servers[0] with serverURL and returns the document as JSON
// and YAML. An empty serverURL leaves the document as written.
func render(src []byte, serverURL string) ([]byte, []byte, error) {
	raw, err := yaml.YAMLToJSON(src)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert openapi document: %w", err)
	}
	if serverURL == "" {
		return raw, src, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to decode openapi document: %w", err)
	}
	doc["servers"] = []map[string]string{{"url": serverURL, "description": "This site"}}

	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode openapi document: %w", err)
	}
	yamlDoc, err := yaml.JSONToYAML(jsonDoc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode openapi document: %w", err)
	}
	return jsonDoc, yamlDoc, nil
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Echoes API Docs</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: '/api/docs/openapi.json',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
