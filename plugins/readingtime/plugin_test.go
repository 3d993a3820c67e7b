package readingtime

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoes-blog/echoes/internal/logging"
	"github.com/echoes-blog/echoes/internal/plugin"
	"github.com/echoes-blog/echoes/internal/serial"
)

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func newEngine(t *testing.T) *plugin.Engine {
	t.Helper()
	e := plugin.NewEngine(plugin.EngineOptions{Logger: logging.Discard()})
	require.NoError(t, e.Register(New()))
	require.NoError(t, e.Enable(context.Background(), "readingtime"))
	return e
}

func TestMinutes(t *testing.T) {
	tests := []struct {
		text string
		wpm  int
		want int
	}{
		{"", 200, 0},
		{"   \n\t", 200, 0},
		{"one", 200, 1},
		{words(200), 200, 1},
		{words(201), 200, 2},
		{words(450), 0, 3},
		{words(90), 30, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Minutes(tt.text, tt.wpm), "wpm=%d", tt.wpm)
	}
}

func TestReadingTimeCapability(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	assert.Equal(t, []any{3}, e.Capabilities().Execute(ctx, "readingTime", words(401)))

	outcomes := e.Capabilities().Settle(ctx, "readingTime", 42)
	require.Len(t, outcomes, 1)
	assert.Error(t, outcomes[0].Err)
}

func TestPostMetaText(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	assert.Equal(t, []string{"2 min read"}, e.Extensions().TriggerText(ctx, "post.meta", words(300)))
	assert.Empty(t, e.Extensions().TriggerText(ctx, "post.meta", ""))

	require.NoError(t, e.Configure("readingtime", map[string]serial.Value{"wordsPerMinute": serial.Number(100)}))
	assert.Equal(t, []string{"3 min read"}, e.Extensions().TriggerText(ctx, "post.meta", words(300)))
}

func TestEstimateRoute(t *testing.T) {
	e := newEngine(t)
	r := mux.NewRouter()
	e.RegisterAllRoutes(r)

	body := []byte(`{"text":"` + words(250) + `"}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/plugins/readingtime/estimate", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"words":250,"minutes":2}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/plugins/readingtime/estimate", strings.NewReader(`{"bogus":1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
