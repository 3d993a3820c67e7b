package plugin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoes-blog/echoes/internal/fields"
	"github.com/echoes-blog/echoes/internal/httpclient"
	"github.com/echoes-blog/echoes/internal/logging"
)

type fieldBackend struct {
	mu      sync.Mutex
	plugins any
	saved   string
}

func (b *fieldBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case r.URL.Path == "/auth/token/system":
		io.WriteString(w, "system-token")
	case r.Header.Get("Authorization") != "Bearer system-token":
		w.WriteHeader(http.StatusUnauthorized)
	case r.URL.Path == "/field/system/0" && r.Method == http.MethodGet:
		out := []fields.Field{{Key: "site_name", Type: fields.TypeData, Value: "Echoes"}}
		if b.plugins != nil {
			out = append(out, fields.Field{Key: "plugins", Type: fields.TypeData, Value: b.plugins})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	case r.URL.Path == "/field/system/0/data/plugins" && r.Method == http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		b.saved = string(body)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func backendStore(t *testing.T, b *fieldBackend) *BackendStore {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return NewStore(httpclient.New(httpclient.Options{
		APIBaseURL: srv.URL,
		Username:   "system",
		Password:   "secret",
		Logger:     logging.Discard(),
	}))
}

func TestBackendStoreLoad(t *testing.T) {
	s := backendStore(t, &fieldBackend{plugins: `["credit","readingtime"]`})
	names, err := s.LoadEnabled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"credit", "readingtime"}, names)

	s = backendStore(t, &fieldBackend{})
	names, err = s.LoadEnabled(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)

	s = backendStore(t, &fieldBackend{plugins: "not a list"})
	_, err = s.LoadEnabled(context.Background())
	assert.Error(t, err)
}

func TestBackendStoreSaveEncodesString(t *testing.T) {
	b := &fieldBackend{}
	s := backendStore(t, b)
	require.NoError(t, s.SaveEnabled(context.Background(), []string{"readingtime", "credit"}))

	var body string
	require.NoError(t, json.Unmarshal([]byte(b.saved), &body))
	assert.JSONEq(t, `["credit","readingtime"]`, body)
}
