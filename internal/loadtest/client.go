package loadtest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/wesleyorama2/storeload/internal/loadtest/metrics"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// URL after redirects
	URL *url.URL

	Duration time.Duration
}

// Client is the HTTP client bound to one virtual user.
//
// Each Client owns a cookie jar so simulated users keep separate sessions,
// while the transport (and its connection pool) is shared by the scheduler.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	metrics   *metrics.Engine
	userAgent string
	headers   map[string]string
}

// NewClient creates a client resolving relative paths against baseURL.
// metricsEngine may be nil, in which case nothing is recorded.
func NewClient(baseURL string, transport http.RoundTripper, cfg HTTPClientConfig, metricsEngine *metrics.Engine) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", baseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		baseURL: base,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			Jar:       jar,
		},
		metrics:   metricsEngine,
		userAgent: cfg.UserAgent,
		headers:   cfg.Headers,
	}, nil
}

// BaseURL returns the URL relative paths are resolved against.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Resolve resolves a path or absolute URL against the base URL.
func (c *Client) Resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return c.baseURL.ResolveReference(u), nil
}

// Get issues a GET request recorded under name.
func (c *Client) Get(ctx context.Context, name, path string) (*Response, error) {
	u, err := c.Resolve(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return c.Do(name, req)
}

// PostForm issues a form-encoded POST request recorded under name.
func (c *Client) PostForm(ctx context.Context, name, path string, form url.Values) (*Response, error) {
	u, err := c.Resolve(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.Do(name, req)
}

// Do executes req, reads the whole body and records the result under name
// (the URL path when name is empty). A status >= 400 returns *HTTPError
// together with the response.
func (c *Client) Do(name string, req *http.Request) (*Response, error) {
	if name == "" {
		name = req.URL.Path
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(req.Context(), name, time.Since(start), false, 0, err)
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	if err != nil {
		err = fmt.Errorf("%s: failed to read response body: %w", name, err)
		c.record(req.Context(), name, duration, false, int64(len(body)), err)
		return nil, err
	}

	result := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        resp.Request.URL,
		Duration:   duration,
	}

	if resp.StatusCode >= 400 {
		httpErr := &HTTPError{
			Name:       name,
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
		}
		c.record(req.Context(), name, duration, false, int64(len(body)), fmt.Errorf("HTTP %d", resp.StatusCode))
		return result, httpErr
	}

	c.record(req.Context(), name, duration, true, int64(len(body)), nil)
	return result, nil
}

// record skips requests aborted because the run itself was cancelled.
func (c *Client) record(ctx context.Context, name string, d time.Duration, success bool, bytes int64, failure error) {
	if c.metrics == nil {
		return
	}
	if !success && ctx.Err() != nil {
		return
	}
	c.metrics.RecordRequest(name, d, success, bytes, failure)
}
