// Package fetch downloads web pages for indexing.
//
// Every fetch is bounded by a timeout and a body size cap. Failures are
// returned as structured errors in the 3xx network family so the pipeline
// can record them per URL.
package fetch

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

// Defaults.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodyBytes = 5 << 20
	DefaultUserAgent    = "searchidx/1.0"
)

// Fetcher retrieves the raw body of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Config configures an HTTPFetcher.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
	// RatePerHost limits requests per second to one host; 0 disables it.
	RatePerHost float64
	RateBurst   int
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// HTTPFetcher fetches pages over HTTP(S) with per-host politeness.
type HTTPFetcher struct {
	client *http.Client
	cfg    Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ Fetcher = (*HTTPFetcher)(nil)

// New creates an HTTPFetcher, applying defaults for zero fields.
func New(cfg Config) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		}
	}

	// No client Timeout: the per-fetch context bounds the whole exchange,
	// body read included.
	return &HTTPFetcher{
		client:   &http.Client{Transport: transport},
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch downloads rawURL and returns its body transcoded to UTF-8.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, serrors.New(serrors.ErrCodeInvalidInput,
			fmt.Sprintf("unsupported URL %q", rawURL), err).WithDetail("url", rawURL)
	}

	if err := f.wait(ctx, u.Hostname()); err != nil {
		return nil, f.classify(ctx, rawURL, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeInvalidInput, "failed to build request", err).WithDetail("url", rawURL)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,text/plain;q=0.8,*/*;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip, br")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.classify(ctx, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		e := serrors.New(serrors.ErrCodeFetchStatus,
			fmt.Sprintf("HTTP %d for %s", resp.StatusCode, rawURL), nil).
			WithDetail("url", rawURL).
			WithDetail("status", strconv.Itoa(resp.StatusCode))
		e.Retryable = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, e
	}

	body, err := f.readBody(resp)
	if err != nil {
		return nil, f.classify(ctx, rawURL, err)
	}

	slog.Debug("fetch_complete",
		slog.String("url", rawURL),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("duration", time.Since(start)))

	return body, nil
}

// readBody undoes Content-Encoding, caps the decoded size and transcodes
// to UTF-8 using the Content-Type charset or a <meta> sniff.
func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		r = brotli.NewReader(r)
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	r = io.LimitReader(r, f.cfg.MaxBodyBytes)

	utf8Reader, err := charset.NewReader(r, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("decode charset: %w", err)
	}

	body, err := io.ReadAll(utf8Reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// wait blocks until the host's limiter admits one request.
func (f *HTTPFetcher) wait(ctx context.Context, host string) error {
	if f.cfg.RatePerHost <= 0 {
		return nil
	}
	f.mu.Lock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(f.cfg.RatePerHost), f.cfg.RateBurst)
		f.limiters[host] = lim
	}
	f.mu.Unlock()
	return lim.Wait(ctx)
}

// classify maps a transport error onto the fetch error codes. A timeout of
// the per-fetch deadline is ERR_301; cancellation of the caller's context
// and everything else is ERR_305.
func (f *HTTPFetcher) classify(parent context.Context, rawURL string, err error) error {
	var netErr net.Error
	timedOut := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())

	code := serrors.ErrCodeFetchFailed
	msg := fmt.Sprintf("fetch %s failed", rawURL)
	if timedOut && parent.Err() == nil {
		code = serrors.ErrCodeNetworkTimeout
		msg = fmt.Sprintf("fetch %s timed out after %s", rawURL, f.cfg.Timeout)
	}

	e := serrors.New(code, msg, err).WithDetail("url", rawURL)
	if parent.Err() != nil {
		e.Retryable = false
	}
	return e
}
