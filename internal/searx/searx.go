// Package searx queries a SearXNG instance for result URLs.
//
// The JSON response is decoded once into typed structs; the rest of the
// pipeline only ever sees Result values.
package searx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

// DefaultTimeout bounds one search request.
const DefaultTimeout = 15 * time.Second

// Searcher produces ranked results for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Result is one search hit. Only URL is consumed by the pipeline.
type Result struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Engine        string   `json:"engine"`
	Engines       []string `json:"engines,omitempty"`
	Score         float64  `json:"score"`
	Category      string   `json:"category,omitempty"`
	PublishedDate string   `json:"publishedDate,omitempty"`
}

// Response is the body of GET /search?format=json.
type Response struct {
	Query               string     `json:"query"`
	NumberOfResults     float64    `json:"number_of_results"`
	Results             []Result   `json:"results"`
	Answers             []any      `json:"answers"`
	Suggestions         []string   `json:"suggestions"`
	UnresponsiveEngines [][]string `json:"unresponsive_engines"`
}

// Client talks to one SearXNG instance.
type Client struct {
	base    string
	client  *http.Client
	timeout time.Duration
}

var _ Searcher = (*Client)(nil)

// New creates a client for the instance at baseURL (for example
// http://localhost:8888). A trailing /search is accepted.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, serrors.ConfigError(fmt.Sprintf("invalid search.url %q", baseURL), err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := strings.TrimSuffix(strings.TrimRight(u.String(), "/"), "/search")
	return &Client{
		base:    base,
		client:  &http.Client{},
		timeout: timeout,
	}, nil
}

// Search runs query. Results without a URL are dropped. Any transport,
// status or decoding failure is ERR_310_SEARCH_FAILED.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, serrors.New(serrors.ErrCodeQueryEmpty, "query is empty", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	endpoint := c.base + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, c.fail(query, "failed to build search request", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.fail(query, "search engine unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, c.fail(query, fmt.Sprintf("search engine returned HTTP %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body))), nil).
			WithDetail("status", strconv.Itoa(resp.StatusCode))
	}

	var parsed Response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, c.fail(query, "failed to decode search response", err)
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		results = append(results, r)
	}

	slog.Debug("search_complete",
		slog.String("query", query),
		slog.Int("results", len(results)),
		slog.Int("unresponsive_engines", len(parsed.UnresponsiveEngines)),
		slog.Duration("duration", time.Since(start)))
	return results, nil
}

func (c *Client) fail(query, msg string, cause error) *serrors.Error {
	return serrors.New(serrors.ErrCodeSearchFailed, msg, cause).
		WithDetail("query", query).
		WithDetail("endpoint", c.base).
		WithSuggestion("check that SearXNG is running and has the json format enabled (search.formats in settings.yml)")
}

// Static returns a fixed list of URLs for every query. It backs the
// --url CLI flag and tests.
type Static []string

var _ Searcher = Static(nil)

// Search ignores the query.
func (s Static) Search(_ context.Context, _ string) ([]Result, error) {
	out := make([]Result, 0, len(s))
	for _, u := range s {
		out = append(out, Result{URL: u, Engine: "static"})
	}
	return out, nil
}

// URLs extracts the URL of each result, keeping order.
func URLs(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.URL
	}
	return out
}
