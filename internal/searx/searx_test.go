package searx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

const sampleResponse = `{
  "query": "golang errgroup",
  "number_of_results": 0,
  "results": [
    {"url": "https://pkg.go.dev/golang.org/x/sync/errgroup", "title": "errgroup", "content": "Package errgroup", "engine": "duckduckgo", "engines": ["duckduckgo", "brave"], "score": 4.5, "category": "general"},
    {"url": "", "title": "no url", "engine": "brave"},
    {"url": "https://go.dev/blog/pipelines", "title": "Pipelines", "engine": "brave", "score": 1.2}
  ],
  "answers": [],
  "suggestions": ["golang errgroup example"],
  "unresponsive_engines": [["google", "timeout"]]
}`

// TS01: Typed decoding
func TestClient_Search_DecodesResults(t *testing.T) {
	// Given: a SearXNG server
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "golang errgroup", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/search/", time.Second)
	require.NoError(t, err)

	// When: searching
	results, err := c.Search(context.Background(), "  golang errgroup ")

	// Then: results without a URL are dropped, order is kept
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://pkg.go.dev/golang.org/x/sync/errgroup", results[0].URL)
	assert.Equal(t, []string{"duckduckgo", "brave"}, results[0].Engines)
	assert.Equal(t, 4.5, results[0].Score)
	assert.Equal(t, []string{results[0].URL, "https://go.dev/blog/pipelines"}, URLs(results))
}

// TS02: Failures are fatal search errors
func TestClient_Search_Failures(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "format not allowed", http.StatusForbidden)
		},
		"bad json": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			c, err := New(srv.URL, time.Second)
			require.NoError(t, err)

			_, err = c.Search(context.Background(), "q")

			require.Error(t, err)
			assert.Equal(t, serrors.ErrCodeSearchFailed, serrors.GetCode(err))
			assert.True(t, serrors.IsFatal(err))
		})
	}
}

func TestClient_Search_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	c, err := New(srv.URL, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "q")

	assert.Equal(t, serrors.ErrCodeSearchFailed, serrors.GetCode(err))
}

func TestClient_Search_EmptyQuery(t *testing.T) {
	c, err := New("http://localhost:8888", 0)
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "   ")

	assert.Equal(t, serrors.ErrCodeQueryEmpty, serrors.GetCode(err))
}

func TestNew_RejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "localhost:8888", "ftp://x"} {
		_, err := New(u, 0)
		assert.Error(t, err, u)
	}
}

func TestStatic(t *testing.T) {
	results, err := Static{"https://a", "https://b"}.Search(context.Background(), "ignored")

	require.NoError(t, err)
	assert.Equal(t, []string{"https://a", "https://b"}, URLs(results))
}
